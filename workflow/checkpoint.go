//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CheckpointVersion is the current version of the checkpoint format.
const CheckpointVersion = 1

// CheckpointInfo identifies one stored checkpoint. It is produced by Save,
// referenced by SuperStepCompletedEvent.Checkpoint, and consumed later to
// reconstruct run state.
type CheckpointInfo struct {
	// RunID is the run the checkpoint belongs to.
	RunID string `json:"run_id"`
	// StepNumber is the completed step the checkpoint was taken at.
	StepNumber int `json:"step_number"`
	// Key is the storage key the snapshot was written under.
	Key string `json:"key"`
	// Version is the backend's opaque version for the write.
	Version string `json:"version"`
}

// Checkpoint is a serializable snapshot of run state at a step boundary,
// sufficient to reconstruct an equivalent in-memory run. Checkpoints are
// append-only and immutable once written.
type Checkpoint struct {
	// Version is the checkpoint format version.
	Version int `json:"v"`
	// ID is the unique identifier for this checkpoint.
	ID string `json:"id"`
	// RunID is the run the snapshot belongs to.
	RunID string `json:"run_id"`
	// StepNumber is the last completed step; resume continues numbering at
	// StepNumber+1.
	StepNumber int `json:"step_number"`
	// Timestamp is when the checkpoint was created.
	Timestamp time.Time `json:"ts"`
	// Queue holds the next step's input queue.
	Queue []SavedMessage `json:"queue"`
	// FanIn holds partial fan-in arrival records, sink -> source -> the
	// source's latest message, restored verbatim on resume.
	FanIn map[string]map[string]SavedMessage `json:"fan_in"`
	// ExecutorState holds per-executor persisted state, opaque to the
	// manager.
	ExecutorState map[string]json.RawMessage `json:"executor_state"`
	// SharedState holds the run's shared key-value state.
	SharedState map[string]json.RawMessage `json:"shared_state"`
	// PendingRequests holds outstanding external-input requests in issue
	// order.
	PendingRequests []SavedRequest `json:"pending_requests"`
}

// SavedMessage is the serialized form of a queued message.
type SavedMessage struct {
	Sender  string          `json:"sender"`
	Target  string          `json:"target"`
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// SavedRequest is the serialized form of an outstanding request.
type SavedRequest struct {
	RequestID   string          `json:"request_id"`
	PortID      string          `json:"port_id"`
	RequesterID string          `json:"requester_id"`
	Type        string          `json:"type,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// Store is the abstract durable key-value backend checkpoints are written
// to. Any backend satisfying this contract works: in-memory, sqlite, redis.
type Store interface {
	// Write stores data under key and returns the backend's version for
	// the write.
	Write(ctx context.Context, key string, data []byte) (version string, err error)
	// Read returns the data stored under key at version. An empty version
	// selects the latest write.
	Read(ctx context.Context, key string, version string) ([]byte, error)
	// ListKeys returns the checkpoints stored for a run, unordered.
	ListKeys(ctx context.Context, runID string) ([]CheckpointInfo, error)
	// DeleteRun removes all checkpoints for a run.
	DeleteRun(ctx context.Context, runID string) error
}

// CheckpointKey builds the storage key for a run's checkpoint at a step.
// Backends parse it with ParseCheckpointKey when listing.
func CheckpointKey(runID string, step int) string {
	return fmt.Sprintf("%s/step-%08d", runID, step)
}

// ParseCheckpointKey splits a storage key back into run id and step number.
func ParseCheckpointKey(key string) (runID string, step int, err error) {
	i := strings.LastIndex(key, "/step-")
	if i < 0 {
		return "", 0, fmt.Errorf("malformed checkpoint key %q", key)
	}
	step, err = strconv.Atoi(key[i+len("/step-"):])
	if err != nil {
		return "", 0, fmt.Errorf("malformed checkpoint key %q: %w", key, err)
	}
	return key[:i], step, nil
}

// CheckpointManager captures snapshots of run state at step boundaries and
// reconstructs them later from the Store.
type CheckpointManager struct {
	store Store
}

// NewCheckpointManager creates a manager over the given store.
func NewCheckpointManager(store Store) *CheckpointManager {
	return &CheckpointManager{store: store}
}

// Save validates and persists a checkpoint, returning its identity.
func (m *CheckpointManager) Save(ctx context.Context, ck *Checkpoint) (CheckpointInfo, error) {
	if err := validateCheckpoint(ck); err != nil {
		return CheckpointInfo{}, err
	}
	data, err := json.Marshal(ck)
	if err != nil {
		return CheckpointInfo{}, fmt.Errorf("marshal checkpoint: %w", err)
	}
	key := CheckpointKey(ck.RunID, ck.StepNumber)
	version, err := m.store.Write(ctx, key, data)
	if err != nil {
		return CheckpointInfo{}, fmt.Errorf("write checkpoint %s: %w", key, err)
	}
	return CheckpointInfo{
		RunID:      ck.RunID,
		StepNumber: ck.StepNumber,
		Key:        key,
		Version:    version,
	}, nil
}

// Load reads a stored checkpoint and validates it structurally. Validation
// failures surface as ErrCheckpointCorrupt, distinct from handler faults.
// Each checkpoint is validated independently; a corrupt one does not taint
// the run's other checkpoints.
func (m *CheckpointManager) Load(ctx context.Context, info CheckpointInfo) (*Checkpoint, error) {
	data, err := m.store.Read(ctx, info.Key, info.Version)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", info.Key, err)
	}
	var ck Checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointCorrupt, err)
	}
	if err := validateCheckpoint(&ck); err != nil {
		return nil, err
	}
	if info.RunID != "" && ck.RunID != info.RunID {
		return nil, fmt.Errorf("%w: snapshot belongs to run %q, expected %q",
			ErrCheckpointCorrupt, ck.RunID, info.RunID)
	}
	return &ck, nil
}

// List returns the run's checkpoints ordered by step number.
func (m *CheckpointManager) List(ctx context.Context, runID string) ([]CheckpointInfo, error) {
	infos, err := m.store.ListKeys(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints for run %s: %w", runID, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StepNumber < infos[j].StepNumber })
	return infos, nil
}

// Latest returns the run's most recent checkpoint, or ErrCheckpointNotFound.
func (m *CheckpointManager) Latest(ctx context.Context, runID string) (CheckpointInfo, error) {
	infos, err := m.List(ctx, runID)
	if err != nil {
		return CheckpointInfo{}, err
	}
	if len(infos) == 0 {
		return CheckpointInfo{}, fmt.Errorf("run %s: %w", runID, ErrCheckpointNotFound)
	}
	return infos[len(infos)-1], nil
}

// Delete removes all checkpoints for a run.
func (m *CheckpointManager) Delete(ctx context.Context, runID string) error {
	return m.store.DeleteRun(ctx, runID)
}

func validateCheckpoint(ck *Checkpoint) error {
	switch {
	case ck == nil:
		return fmt.Errorf("%w: nil checkpoint", ErrCheckpointCorrupt)
	case ck.Version != CheckpointVersion:
		return fmt.Errorf("%w: unsupported format version %d", ErrCheckpointCorrupt, ck.Version)
	case ck.RunID == "":
		return fmt.Errorf("%w: missing run id", ErrCheckpointCorrupt)
	case ck.StepNumber < 0:
		return fmt.Errorf("%w: negative step number %d", ErrCheckpointCorrupt, ck.StepNumber)
	case ck.Queue == nil:
		return fmt.Errorf("%w: missing queue section", ErrCheckpointCorrupt)
	case ck.FanIn == nil:
		return fmt.Errorf("%w: missing fan-in section", ErrCheckpointCorrupt)
	case ck.ExecutorState == nil:
		return fmt.Errorf("%w: missing executor state section", ErrCheckpointCorrupt)
	}
	return nil
}

func newCheckpointID() string {
	return uuid.New().String()
}
