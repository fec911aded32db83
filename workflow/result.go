//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

import "context"

// RunResult is a container over the events drained from a run, separating
// data-plane events (outputs, requests) from the control-plane status
// timeline.
type RunResult struct {
	// Events holds every event observed, in stream order.
	Events []Event
}

// Outputs returns the workflow outputs yielded during the drained portion
// of the run.
func (r *RunResult) Outputs() []any {
	var out []any
	for _, e := range r.Events {
		if oe, ok := e.(WorkflowOutputEvent); ok {
			out = append(out, oe.Data)
		}
	}
	return out
}

// RequestInfoEvents returns the external-input requests surfaced during the
// drained portion of the run.
func (r *RunResult) RequestInfoEvents() []RequestInfoEvent {
	var out []RequestInfoEvent
	for _, e := range r.Events {
		if re, ok := e.(RequestInfoEvent); ok {
			out = append(out, re)
		}
	}
	return out
}

// Errors returns the error events observed.
func (r *RunResult) Errors() []WorkflowErrorEvent {
	var out []WorkflowErrorEvent
	for _, e := range r.Events {
		if ee, ok := e.(WorkflowErrorEvent); ok {
			out = append(out, ee)
		}
	}
	return out
}

// FinalStatus returns the last status transition observed, or empty when
// no status event was drained.
func (r *RunResult) FinalStatus() RunStatus {
	var status RunStatus
	for _, e := range r.Events {
		if se, ok := e.(WorkflowStatusEvent); ok {
			status = se.Status
		}
	}
	return status
}

// StatusTimeline returns every status transition observed, in order.
func (r *RunResult) StatusTimeline() []RunStatus {
	var out []RunStatus
	for _, e := range r.Events {
		if se, ok := e.(WorkflowStatusEvent); ok {
			out = append(out, se.Status)
		}
	}
	return out
}

// Collect drains the run's event stream until the run reaches a terminal
// state or suspends on an external request. A suspended run stays live:
// answer its requests with SendResponse and Collect again to continue
// draining the same stream.
func (r *Run) Collect(ctx context.Context) (*RunResult, error) {
	res := &RunResult{}
	for {
		select {
		case e, ok := <-r.events:
			if !ok {
				return res, nil
			}
			res.Events = append(res.Events, e)
			if se, isStatus := e.(WorkflowStatusEvent); isStatus && se.Status == StatusSuspendedOnRequest {
				return res, nil
			}
		case <-ctx.Done():
			return res, ctx.Err()
		}
	}
}

// RunToIdle runs the workflow with the given input and drains it until it
// goes idle: terminal, or suspended on an external request. The returned
// run handle stays valid for answering requests when the result's final
// status is StatusSuspendedOnRequest.
func (w *Workflow) RunToIdle(ctx context.Context, input any, opts ...RunOption) (*Run, *RunResult, error) {
	run, err := w.Run(ctx, input, opts...)
	if err != nil {
		return nil, nil, err
	}
	res, err := run.Collect(ctx)
	if err != nil {
		run.End()
		return run, res, err
	}
	return run, res, nil
}
