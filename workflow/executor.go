//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"context"
	"fmt"
)

// Executor is a named unit of computation. The scheduler invokes Execute at
// most once per superstep per executor, passing the full batch of messages
// addressed to it for that step. Outbound messages, workflow outputs, and
// external-input requests are issued through the Context.
//
// Executors must be safe for reuse across sequential supersteps of one run.
// The workflow definition is shared read-only across concurrent runs, so an
// executor that keeps per-run mutable state should either derive it from
// the Context or implement StatefulExecutor and keep state keyed per run.
type Executor interface {
	// ID returns the executor's unique identity within the workflow.
	ID() string
	// Execute processes one superstep's batch of messages.
	Execute(ctx context.Context, msgs []Message, wc *Context) error
}

// StatefulExecutor is an Executor whose private state is captured into
// checkpoints and restored on resume. The engine treats the state as opaque
// JSON-serializable data.
type StatefulExecutor interface {
	Executor
	// SnapshotState returns the executor's persisted state.
	SnapshotState() (any, error)
	// RestoreState rebuilds the executor's state from a checkpoint.
	RestoreState(data []byte) error
}

// handlerExecutor adapts a typed per-message handler function to the
// Executor interface. The payload type is fixed at construction, which is
// what makes the dispatch table typed rather than discovered at runtime.
type handlerExecutor[T any] struct {
	id string
	fn func(ctx context.Context, msg T, wc *Context) error
}

// NewHandler builds an executor from a typed handler invoked once per
// message in the step's batch. A payload that is not a T is a handler
// fault for this executor, isolated like any other fault.
func NewHandler[T any](id string, fn func(ctx context.Context, msg T, wc *Context) error) Executor {
	return &handlerExecutor[T]{id: id, fn: fn}
}

// ID implements Executor.
func (e *handlerExecutor[T]) ID() string { return e.id }

// Execute implements Executor.
func (e *handlerExecutor[T]) Execute(ctx context.Context, msgs []Message, wc *Context) error {
	for _, m := range msgs {
		v, ok := m.Payload.(T)
		if !ok {
			return fmt.Errorf("executor %s: unexpected payload type %T", e.id, m.Payload)
		}
		if err := e.fn(ctx, v, wc); err != nil {
			return err
		}
	}
	return nil
}

// batchExecutor adapts a typed whole-batch handler to the Executor
// interface. Fan-in sinks typically use this form: the batch holds one
// payload per fan-in source, in source-declaration order.
type batchExecutor[T any] struct {
	id string
	fn func(ctx context.Context, msgs []T, wc *Context) error
}

// NewBatchHandler builds an executor from a typed handler invoked once per
// superstep with the whole batch.
func NewBatchHandler[T any](id string, fn func(ctx context.Context, msgs []T, wc *Context) error) Executor {
	return &batchExecutor[T]{id: id, fn: fn}
}

// ID implements Executor.
func (e *batchExecutor[T]) ID() string { return e.id }

// Execute implements Executor.
func (e *batchExecutor[T]) Execute(ctx context.Context, msgs []Message, wc *Context) error {
	batch := make([]T, 0, len(msgs))
	for _, m := range msgs {
		v, ok := m.Payload.(T)
		if !ok {
			return fmt.Errorf("executor %s: unexpected payload type %T", e.id, m.Payload)
		}
		batch = append(batch, v)
	}
	return e.fn(ctx, batch, wc)
}
