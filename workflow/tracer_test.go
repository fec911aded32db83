//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepTracer_AdvanceNumbersSteps(t *testing.T) {
	tr := newStepTracer()
	assert.Equal(t, -1, tr.StepNumber())

	ev := tr.Advance([]Message{{Sender: ExternalSender, Target: "a", Payload: "x"}})
	assert.Equal(t, 0, ev.StepNumber)
	assert.True(t, ev.HasExternalMessages)
	assert.Empty(t, ev.SendingExecutorIDs)
	tr.Complete(false, false)

	ev = tr.Advance([]Message{
		{Sender: "b", Target: "a"},
		{Sender: "a", Target: "c"},
		{Sender: "a", Target: "d"},
	})
	assert.Equal(t, 1, ev.StepNumber)
	assert.False(t, ev.HasExternalMessages)
	assert.Equal(t, []string{"a", "b"}, ev.SendingExecutorIDs)
}

func TestStepTracer_CompleteCollectsStepState(t *testing.T) {
	tr := newStepTracer()
	tr.Advance([]Message{{Sender: ExternalSender, Target: "a"}})

	tr.TraceInstantiated("a")
	tr.TraceActivated("a")
	tr.TraceActivated("a") // duplicate reports are ignored
	tr.TraceStatePublished()
	info := CheckpointInfo{RunID: "r", StepNumber: 0, Key: "r/step-00000000", Version: "0"}
	tr.TraceCheckpointCreated(info)

	ev := tr.Complete(true, false)
	assert.Equal(t, 0, ev.StepNumber)
	assert.Equal(t, []string{"a"}, ev.ActivatedExecutorIDs)
	assert.Equal(t, []string{"a"}, ev.InstantiatedExecutorIDs)
	assert.True(t, ev.HasPendingMessages)
	assert.False(t, ev.HasPendingRequests)
	assert.True(t, ev.StateUpdated)
	require.NotNil(t, ev.Checkpoint)
	assert.Equal(t, info, *ev.Checkpoint)

	// The next step starts from a clean slate.
	tr.Advance(nil)
	ev = tr.Complete(false, false)
	assert.Empty(t, ev.ActivatedExecutorIDs)
	assert.False(t, ev.StateUpdated)
	assert.Nil(t, ev.Checkpoint)
}

func TestStepTracer_Reload(t *testing.T) {
	tr := newStepTracer()
	tr.Reload(7)
	ev := tr.Advance(nil)
	assert.Equal(t, 8, ev.StepNumber)
	tr.Complete(false, false)

	// Reload is only legal between steps.
	tr.Advance(nil)
	require.Panics(t, func() { tr.Reload(3) })
}
