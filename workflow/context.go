//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

import "sync"

// Context is the per-invocation handle an executor uses to interact with
// the run: sending messages, yielding outputs, reading and writing shared
// state, and requesting checkpoints. Everything an executor emits is
// collected here and routed by the scheduler after the step's join point,
// so handlers never block on downstream delivery.
type Context struct {
	executorID string
	stepNumber int
	runID      string
	shared     *SharedState

	mu             sync.Mutex
	sent           []Message
	outputs        []any
	requests       []pendingRequest
	checkpointAsap bool
}

func newContext(executorID string, stepNumber int, runID string, shared *SharedState) *Context {
	return &Context{
		executorID: executorID,
		stepNumber: stepNumber,
		runID:      runID,
		shared:     shared,
	}
}

// ExecutorID returns the id of the executor being invoked.
func (c *Context) ExecutorID() string { return c.executorID }

// StepNumber returns the current superstep number.
func (c *Context) StepNumber() int { return c.stepNumber }

// RunID returns the id of the current run.
func (c *Context) RunID() string { return c.runID }

// State returns the run's shared state.
func (c *Context) State() *SharedState { return c.shared }

// Send emits a message routed through the workflow's edge table for this
// executor. Delivery happens at the end of the superstep.
func (c *Context) Send(payload any) {
	c.mu.Lock()
	c.sent = append(c.sent, Message{Sender: c.executorID, Payload: payload})
	c.mu.Unlock()
}

// SendTo emits a message addressed directly to a target executor,
// bypassing edge routing. Delivery happens at the end of the superstep.
func (c *Context) SendTo(target string, payload any) {
	c.mu.Lock()
	c.sent = append(c.sent, Message{Sender: c.executorID, Target: target, Payload: payload})
	c.mu.Unlock()
}

// YieldOutput yields a workflow-level output, surfaced to the caller as a
// WorkflowOutputEvent.
func (c *Context) YieldOutput(v any) {
	c.mu.Lock()
	c.outputs = append(c.outputs, v)
	c.mu.Unlock()
}

// RequestCheckpoint asks for a checkpoint at this step's boundary. It has
// effect only when the workflow was built with checkpointing.
func (c *Context) RequestCheckpoint() {
	c.mu.Lock()
	c.checkpointAsap = true
	c.mu.Unlock()
}

// addRequest registers an external-input request. Only the request/response
// port uses this.
func (c *Context) addRequest(p pendingRequest) {
	c.mu.Lock()
	c.requests = append(c.requests, p)
	c.mu.Unlock()
}

func (c *Context) drain() (sent []Message, outputs []any, requests []pendingRequest, checkpointAsap bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent, c.outputs, c.requests, c.checkpointAsap
}
