//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"sync"

	"github.com/flowgraph-dev/flowgraph/workflow/internal/idset"
)

// tracerPhase is the step tracer's lifecycle phase.
type tracerPhase int

const (
	phaseIdle tracerPhase = iota
	phaseAccumulating
)

// stepTracer keeps the per-step bookkeeping for one run: which executors
// were newly instantiated or activated, whether shared state changed, and
// whether a checkpoint was produced. It builds the step-boundary events.
//
// Instantiation and activation reports may arrive concurrently from
// executors dispatched in parallel within the same step.
type stepTracer struct {
	mu             sync.Mutex
	phase          tracerPhase
	step           int // last advanced step number, -1 before the first step
	instantiated   *idset.Set
	activated      *idset.Set
	statePublished bool
	checkpoint     *CheckpointInfo
}

func newStepTracer() *stepTracer {
	return &stepTracer{
		step:         -1,
		instantiated: idset.New(),
		activated:    idset.New(),
	}
}

// Advance begins a new superstep: the counter increments, per-step sets and
// flags reset, and queued-message senders are classified into internal
// executors versus external injections.
func (t *stepTracer) Advance(queue []Message) SuperStepStartedEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.step++
	t.instantiated.Reset()
	t.activated.Reset()
	t.statePublished = false
	t.checkpoint = nil
	t.phase = phaseAccumulating

	senders := idset.New()
	hasExternal := false
	for _, m := range queue {
		if m.IsExternal() {
			hasExternal = true
			continue
		}
		senders.Add(m.Sender)
	}
	return SuperStepStartedEvent{
		EventHeader:         newHeader(),
		StepNumber:          t.step,
		SendingExecutorIDs:  senders.Sorted(),
		HasExternalMessages: hasExternal,
	}
}

// TraceInstantiated records that an executor was constructed or first used
// in this step. Duplicate reports are ignored.
func (t *stepTracer) TraceInstantiated(id string) {
	t.instantiated.Add(id)
}

// TraceActivated records that an executor received and processed a message
// batch in this step. Duplicate reports are ignored.
func (t *stepTracer) TraceActivated(id string) {
	t.activated.Add(id)
}

// TraceStatePublished records that shared state changed during this step.
func (t *stepTracer) TraceStatePublished() {
	t.mu.Lock()
	t.statePublished = true
	t.mu.Unlock()
}

// TraceCheckpointCreated records the checkpoint produced for this step.
func (t *stepTracer) TraceCheckpointCreated(info CheckpointInfo) {
	t.mu.Lock()
	t.checkpoint = &info
	t.mu.Unlock()
}

// StatePublished reports whether shared state changed during this step.
func (t *stepTracer) StatePublished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statePublished
}

// Complete finishes the step and builds its completion event from the
// accumulated state.
func (t *stepTracer) Complete(hasMoreMessages, hasPendingRequests bool) SuperStepCompletedEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phaseIdle
	return SuperStepCompletedEvent{
		EventHeader:             newHeader(),
		StepNumber:              t.step,
		ActivatedExecutorIDs:    t.activated.Sorted(),
		InstantiatedExecutorIDs: t.instantiated.Sorted(),
		HasPendingMessages:      hasMoreMessages,
		HasPendingRequests:      hasPendingRequests,
		StateUpdated:            t.statePublished,
		Checkpoint:              t.checkpoint,
	}
}

// Reload resets the counter so the next step continues from
// lastStepNumber+1. It is the only permitted jump in step numbering, used
// exclusively on resume-from-checkpoint, and only between steps.
func (t *stepTracer) Reload(lastStepNumber int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase != phaseIdle {
		panic("workflow: Reload called mid-step")
	}
	t.step = lastStepNumber
}

// StepNumber returns the last advanced step number, -1 before any step.
func (t *stepTracer) StepNumber() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.step
}
