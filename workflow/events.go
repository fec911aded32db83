//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

import "time"

// RunStatus describes the externally visible state of a run.
type RunStatus string

// Run status values.
const (
	// StatusRunning means the run is actively executing supersteps.
	StatusRunning RunStatus = "running"
	// StatusSuspendedOnRequest means the queue is drained but one or more
	// external-input requests are outstanding.
	StatusSuspendedOnRequest RunStatus = "suspended_on_request"
	// StatusCompleted means the run reached a terminal state normally,
	// possibly with abandoned requests after an explicit End.
	StatusCompleted RunStatus = "completed"
	// StatusFaulted means the run halted after a fatal error.
	StatusFaulted RunStatus = "faulted"
	// StatusCancelled means the run was aborted via context cancellation.
	StatusCancelled RunStatus = "cancelled"
)

// EventHeader carries the fields shared by every event kind.
type EventHeader struct {
	// Timestamp is when the event was built.
	Timestamp time.Time
}

// When returns the event's timestamp.
func (h EventHeader) When() time.Time { return h.Timestamp }

func (EventHeader) isEvent() {}

func newHeader() EventHeader {
	return EventHeader{Timestamp: time.Now().UTC()}
}

// Event is the closed union of event kinds surfaced on a run's stream.
// Consumers switch exhaustively over the concrete types below.
type Event interface {
	isEvent()
	When() time.Time
}

// SuperStepStartedEvent marks the beginning of one superstep.
type SuperStepStartedEvent struct {
	EventHeader
	// StepNumber is the 0-indexed, monotonically increasing step counter.
	StepNumber int
	// SendingExecutorIDs lists the internal executors whose messages are
	// queued for this step, sorted.
	SendingExecutorIDs []string
	// HasExternalMessages reports whether the step's queue contains
	// externally injected input (initial input or request responses).
	HasExternalMessages bool
}

// SuperStepCompletedEvent marks the end of one superstep.
type SuperStepCompletedEvent struct {
	EventHeader
	StepNumber int
	// ActivatedExecutorIDs lists the executors invoked this step, sorted.
	ActivatedExecutorIDs []string
	// InstantiatedExecutorIDs lists the executors first used in this step
	// of the run, sorted.
	InstantiatedExecutorIDs []string
	// HasPendingMessages reports whether the next step's queue is non-empty.
	HasPendingMessages bool
	// HasPendingRequests reports whether external-input requests are
	// outstanding.
	HasPendingRequests bool
	// StateUpdated reports whether shared state changed during the step.
	StateUpdated bool
	// Checkpoint identifies the checkpoint produced at this step boundary,
	// if any.
	Checkpoint *CheckpointInfo
}

// ExecutorInvokedEvent reports that an executor received a message batch.
type ExecutorInvokedEvent struct {
	EventHeader
	StepNumber   int
	ExecutorID   string
	MessageCount int
}

// ExecutorCompletedEvent reports that an executor's handler returned.
type ExecutorCompletedEvent struct {
	EventHeader
	StepNumber int
	ExecutorID string
	Duration   time.Duration
}

// RequestInfoEvent reports that the graph is requesting externally supplied
// input. The run cannot progress on the requesting branch until a response
// keyed by RequestID is delivered via SendResponse.
type RequestInfoEvent struct {
	EventHeader
	// RequestID uniquely identifies the outstanding request.
	RequestID string
	// ExecutorID is the request/response port that issued the request.
	ExecutorID string
	// SourceExecutorID is the executor whose message triggered the request
	// and to whom the response will be delivered.
	SourceExecutorID string
	// Data is the request payload.
	Data any
}

// WorkflowOutputEvent carries a result yielded by an executor.
type WorkflowOutputEvent struct {
	EventHeader
	StepNumber int
	ExecutorID string
	Data       any
}

// WorkflowErrorEvent reports a handler fault or a fatal run error.
type WorkflowErrorEvent struct {
	EventHeader
	StepNumber int
	// ExecutorID is the faulting executor, empty for run-level errors.
	ExecutorID string
	Err        error
	// Fatal marks errors that halt the run.
	Fatal bool
}

// WorkflowWarningEvent reports a non-fatal anomaly, such as a fan-in sink
// left blocked on a partial arrival set when the queue drained.
type WorkflowWarningEvent struct {
	EventHeader
	Data string
}

// WorkflowStatusEvent reports a run status transition. The last status
// event of a stream is the run's final state.
type WorkflowStatusEvent struct {
	EventHeader
	Status RunStatus
}
