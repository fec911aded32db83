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

func TestFanInState_RecordFiresOnceAllSourcesArrive(t *testing.T) {
	edge := &FanInEdge{Sources: []string{"a", "b"}, Sink: "join"}
	fi := newFanInState()

	batch, ready := fi.record(edge, Message{Sender: "a", Payload: "pa"})
	assert.False(t, ready)
	assert.Nil(t, batch)
	assert.True(t, fi.hasPending())
	assert.Equal(t, []string{"join"}, fi.pendingSinks())

	batch, ready = fi.record(edge, Message{Sender: "b", Payload: "pb"})
	require.True(t, ready)
	require.Len(t, batch, 2)
	assert.Equal(t, "pa", batch[0].Payload)
	assert.Equal(t, "pb", batch[1].Payload)
	for _, m := range batch {
		assert.Equal(t, "join", m.Target)
	}

	// Firing clears the arrival record.
	assert.False(t, fi.hasPending())
}

func TestFanInState_BatchOrderFollowsDeclaration(t *testing.T) {
	edge := &FanInEdge{Sources: []string{"first", "second", "third"}, Sink: "join"}
	fi := newFanInState()

	// Arrival order is reversed relative to declaration order.
	_, ready := fi.record(edge, Message{Sender: "third", Payload: 3})
	assert.False(t, ready)
	_, ready = fi.record(edge, Message{Sender: "second", Payload: 2})
	assert.False(t, ready)
	batch, ready := fi.record(edge, Message{Sender: "first", Payload: 1})
	require.True(t, ready)

	var payloads []any
	for _, m := range batch {
		payloads = append(payloads, m.Payload)
	}
	assert.Equal(t, []any{1, 2, 3}, payloads)
}

func TestFanInState_RepeatArrivalReplacesEarlierPayload(t *testing.T) {
	edge := &FanInEdge{Sources: []string{"a", "b"}, Sink: "join"}
	fi := newFanInState()

	fi.record(edge, Message{Sender: "a", Payload: "a1"})
	fi.record(edge, Message{Sender: "a", Payload: "a2"})
	batch, ready := fi.record(edge, Message{Sender: "b", Payload: "b1"})
	require.True(t, ready)

	var payloads []any
	for _, m := range batch {
		payloads = append(payloads, m.Payload)
	}
	assert.Equal(t, []any{"a2", "b1"}, payloads)
}

func TestFanInState_SnapshotRestore(t *testing.T) {
	edge := &FanInEdge{Sources: []string{"a", "b"}, Sink: "join"}
	fi := newFanInState()
	fi.record(edge, Message{Sender: "a", Payload: "pa"})

	snap := fi.snapshot()
	require.Contains(t, snap, "join")
	require.Contains(t, snap["join"], "a")

	restored := newFanInState()
	restored.restore(snap)
	assert.True(t, restored.hasPending())

	batch, ready := restored.record(edge, Message{Sender: "b", Payload: "pb"})
	require.True(t, ready)
	require.Len(t, batch, 2)
	assert.Equal(t, "pa", batch[0].Payload)
	assert.Equal(t, "pb", batch[1].Payload)
}
