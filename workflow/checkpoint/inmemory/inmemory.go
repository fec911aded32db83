//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory checkpoint store. It is suitable
// for tests and debugging but not for production use.
package inmemory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/flowgraph-dev/flowgraph/workflow"
)

// Store keeps checkpoints in process memory. Writes are versioned; every
// write to a key appends a new immutable version.
type Store struct {
	mu      sync.RWMutex
	entries map[string][][]byte // key -> versions, index order
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{entries: make(map[string][][]byte)}
}

// Write implements workflow.Store.
func (s *Store) Write(ctx context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), data...)
	s.entries[key] = append(s.entries[key], cp)
	return strconv.Itoa(len(s.entries[key]) - 1), nil
}

// Read implements workflow.Store. An empty version selects the latest
// write.
func (s *Store) Read(ctx context.Context, key string, version string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, ok := s.entries[key]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("key %s: %w", key, workflow.ErrCheckpointNotFound)
	}
	idx := len(versions) - 1
	if version != "" {
		v, err := strconv.Atoi(version)
		if err != nil || v < 0 || v >= len(versions) {
			return nil, fmt.Errorf("key %s version %q: %w", key, version, workflow.ErrCheckpointNotFound)
		}
		idx = v
	}
	return append([]byte(nil), versions[idx]...), nil
}

// ListKeys implements workflow.Store.
func (s *Store) ListKeys(ctx context.Context, runID string) ([]workflow.CheckpointInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var infos []workflow.CheckpointInfo
	for key, versions := range s.entries {
		id, step, err := workflow.ParseCheckpointKey(key)
		if err != nil || id != runID || len(versions) == 0 {
			continue
		}
		infos = append(infos, workflow.CheckpointInfo{
			RunID:      runID,
			StepNumber: step,
			Key:        key,
			Version:    strconv.Itoa(len(versions) - 1),
		})
	}
	return infos, nil
}

// DeleteRun implements workflow.Store.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.entries {
		if id, _, err := workflow.ParseCheckpointKey(key); err == nil && id == runID {
			delete(s.entries, key)
		}
	}
	return nil
}
