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
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/flowgraph-dev/flowgraph/log"
	"github.com/flowgraph-dev/flowgraph/telemetry/trace"
	"github.com/flowgraph-dev/flowgraph/workflow/internal/idset"
)

// runner owns the mutable scheduling state of one run: the step tracer,
// fan-in arrival records, shared state, and the outstanding-request
// registry. Nothing here is shared across runs.
type runner struct {
	wf       *Workflow
	runID    string
	pool     *ants.Pool
	tracer   *stepTracer
	fanIn    *fanInState
	shared   *SharedState
	requests *requestRegistry
	// seen tracks executors already used by this run, for instantiation
	// reporting.
	seen    *idset.Set
	emit    func(Event)
	faulted bool
}

func newRunner(wf *Workflow, runID string, pool *ants.Pool, emit func(Event)) *runner {
	r := &runner{
		wf:       wf,
		runID:    runID,
		pool:     pool,
		tracer:   newStepTracer(),
		fanIn:    newFanInState(),
		requests: newRequestRegistry(),
		seen:     idset.New(),
		emit:     emit,
	}
	r.shared = newSharedState(r.tracer.TraceStatePublished)
	return r
}

func (r *runner) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warnf("run %s: %s", r.runID, msg)
	r.emit(WorkflowWarningEvent{EventHeader: newHeader(), Data: msg})
}

// execResult is the outcome of one executor's dispatch within a step.
type execResult struct {
	wc       *Context
	err      error
	duration time.Duration
	skipped  bool // unknown target, already warned
}

// runStep executes one superstep: drain the queue grouped by destination,
// invoke each destination's handler concurrently, then route everything
// the handlers produced into the next step's queue.
func (r *runner) runStep(ctx context.Context, queue []Message) ([]Message, error) {
	started := r.tracer.Advance(queue)
	r.emit(started)

	ctx, span := trace.Tracer.Start(ctx, "workflow.superstep",
		oteltrace.WithAttributes(
			attribute.String("workflow.run_id", r.runID),
			attribute.Int("workflow.step", started.StepNumber),
		))
	defer span.End()

	// Partition the queue by destination, preserving production order
	// within each destination.
	batches := make(map[string][]Message)
	var targets []string
	for _, m := range queue {
		if _, ok := batches[m.Target]; !ok {
			targets = append(targets, m.Target)
		}
		batches[m.Target] = append(batches[m.Target], m)
	}
	sort.Strings(targets)

	// Invocation events are emitted before the parallel dispatch and all
	// remaining events after the join, in sorted destination order, so two
	// runs of the same graph see identical event sequences.
	dispatch := targets[:0]
	for _, id := range targets {
		if _, ok := r.wf.Executor(id); !ok {
			r.warnf("dropping %d message(s) for unknown executor %q",
				len(batches[id]), id)
			continue
		}
		dispatch = append(dispatch, id)
		if r.seen.Add(id) {
			r.tracer.TraceInstantiated(id)
		}
		r.tracer.TraceActivated(id)
		r.emit(ExecutorInvokedEvent{
			EventHeader:  newHeader(),
			StepNumber:   started.StepNumber,
			ExecutorID:   id,
			MessageCount: len(batches[id]),
		})
	}

	results := make([]execResult, len(dispatch))
	var wg sync.WaitGroup
	for i, id := range dispatch {
		i, id := i, id
		exec, _ := r.wf.Executor(id)
		wc := newContext(id, started.StepNumber, r.runID, r.shared)
		results[i].wc = wc
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					results[i].err = fmt.Errorf("executor %s panicked: %v", id, rec)
				}
			}()
			begin := time.Now()
			results[i].err = exec.Execute(ctx, batches[id], wc)
			results[i].duration = time.Since(begin)
		}
		if err := r.pool.Submit(task); err != nil {
			// Pool refused the task; run it inline rather than losing the
			// destination's batch.
			task()
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// Cooperative abort: produced messages for this step are discarded.
		return nil, err
	}

	var produced []Message
	checkpointRequested := false
	for i, id := range dispatch {
		res := results[i]
		if res.err != nil {
			if r.faulted {
				// Second fault on an already-faulted run is fatal.
				fatal := fmt.Errorf("executor %s: %w", id, res.err)
				r.emit(WorkflowErrorEvent{
					EventHeader: newHeader(),
					StepNumber:  started.StepNumber,
					ExecutorID:  id,
					Err:         fatal,
					Fatal:       true,
				})
				return nil, fmt.Errorf("%w: %v", ErrRunFaulted, fatal)
			}
			r.faulted = true
			log.Errorf("run %s step %d: executor %s faulted: %v",
				r.runID, started.StepNumber, id, res.err)
			r.emit(WorkflowErrorEvent{
				EventHeader: newHeader(),
				StepNumber:  started.StepNumber,
				ExecutorID:  id,
				Err:         res.err,
			})
			continue
		}
		r.emit(ExecutorCompletedEvent{
			EventHeader: newHeader(),
			StepNumber:  started.StepNumber,
			ExecutorID:  id,
			Duration:    res.duration,
		})
		sent, outputs, requests, ckpt := res.wc.drain()
		for _, out := range outputs {
			r.emit(WorkflowOutputEvent{
				EventHeader: newHeader(),
				StepNumber:  started.StepNumber,
				ExecutorID:  id,
				Data:        out,
			})
		}
		for _, req := range requests {
			r.requests.register(req)
			r.emit(RequestInfoEvent{
				EventHeader:      newHeader(),
				RequestID:        req.RequestID,
				ExecutorID:       req.PortID,
				SourceExecutorID: req.RequesterID,
				Data:             req.Payload,
			})
		}
		if ckpt {
			checkpointRequested = true
		}
		for _, m := range sent {
			produced = r.route(m, produced)
		}
	}

	r.maybeCheckpoint(ctx, produced, checkpointRequested)

	completed := r.tracer.Complete(len(produced) > 0, r.requests.outstanding() > 0)
	r.emit(completed)
	return produced, nil
}

// route queues a produced message for the next step by consulting the edge
// table of its sender, or delivers it directly when it carries an explicit
// target. All matching edges fire; routing is not mutually exclusive.
func (r *runner) route(m Message, produced []Message) []Message {
	if m.Target != "" {
		if _, ok := r.wf.Executor(m.Target); !ok {
			r.warnf("executor %q sent to unknown executor %q", m.Sender, m.Target)
			return produced
		}
		return append(produced, m)
	}
	edges := r.wf.Edges(m.Sender)
	matched := false
	for _, edge := range edges {
		switch e := edge.(type) {
		case *DirectEdge:
			if e.Condition != nil && !e.Condition(m.Payload) {
				continue
			}
			matched = true
			produced = append(produced, Message{
				Sender: m.Sender, Target: e.Sink, Payload: m.Payload,
			})
		case *FanOutEdge:
			sinks := e.Sinks
			if e.Selector != nil {
				sinks = r.selectSinks(e, m.Payload)
			}
			for _, sink := range sinks {
				matched = true
				produced = append(produced, Message{
					Sender: m.Sender, Target: sink, Payload: clonePayload(m.Payload),
				})
			}
		case *FanInEdge:
			matched = true
			if batch, ready := r.fanIn.record(e, m); ready {
				produced = append(produced, batch...)
			}
		}
	}
	if !matched {
		log.Debugf("run %s: message from %q matched no edge, dropped", r.runID, m.Sender)
	}
	return produced
}

// selectSinks applies a fan-out selector and filters the result down to the
// edge's declared sinks.
func (r *runner) selectSinks(e *FanOutEdge, payload any) []string {
	declared := make(map[string]bool, len(e.Sinks))
	for _, s := range e.Sinks {
		declared[s] = true
	}
	var sinks []string
	for _, s := range e.Selector(payload) {
		if !declared[s] {
			r.warnf("fan-out selector from %q chose undeclared sink %q", e.Source, s)
			continue
		}
		sinks = append(sinks, s)
	}
	return sinks
}

// maybeCheckpoint snapshots the run at this step boundary when the step
// updated shared state or explicitly requested a checkpoint. Checkpoint
// write failures are reported but do not fault the run.
func (r *runner) maybeCheckpoint(ctx context.Context, nextQueue []Message, requested bool) {
	if r.wf.ckpt == nil {
		return
	}
	if !requested && !r.tracer.StatePublished() {
		return
	}
	ck, err := r.buildCheckpoint(nextQueue)
	if err != nil {
		r.warnf("checkpoint build failed at step %d: %v", r.tracer.StepNumber(), err)
		return
	}
	info, err := r.wf.ckpt.Save(ctx, ck)
	if err != nil {
		r.warnf("checkpoint save failed at step %d: %v", r.tracer.StepNumber(), err)
		return
	}
	r.tracer.TraceCheckpointCreated(info)
}

// buildCheckpoint captures the next-step queue, partial fan-in arrivals,
// per-executor persisted state, shared state, and outstanding requests.
func (r *runner) buildCheckpoint(nextQueue []Message) (*Checkpoint, error) {
	queue := make([]SavedMessage, 0, len(nextQueue))
	for _, m := range nextQueue {
		sm, err := saveMessage(m)
		if err != nil {
			return nil, err
		}
		queue = append(queue, sm)
	}

	fanIn := make(map[string]map[string]SavedMessage)
	for sink, bySource := range r.fanIn.snapshot() {
		fanIn[sink] = make(map[string]SavedMessage, len(bySource))
		for src, m := range bySource {
			sm, err := saveMessage(m)
			if err != nil {
				return nil, err
			}
			fanIn[sink][src] = sm
		}
	}

	execState := make(map[string]json.RawMessage)
	for id, exec := range r.wf.executors {
		se, ok := exec.(StatefulExecutor)
		if !ok {
			continue
		}
		state, err := se.SnapshotState()
		if err != nil {
			return nil, fmt.Errorf("snapshot executor %s: %w", id, err)
		}
		data, err := json.Marshal(state)
		if err != nil {
			return nil, fmt.Errorf("marshal executor %s state: %w", id, err)
		}
		execState[id] = data
	}

	sharedState := make(map[string]json.RawMessage)
	for k, v := range r.shared.snapshot() {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal shared state %q: %w", k, err)
		}
		sharedState[k] = data
	}

	pending := make([]SavedRequest, 0)
	for _, p := range r.requests.snapshot() {
		typeName, data, err := encodePayload(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode pending request %s: %w", p.RequestID, err)
		}
		pending = append(pending, SavedRequest{
			RequestID:   p.RequestID,
			PortID:      p.PortID,
			RequesterID: p.RequesterID,
			Type:        typeName,
			Payload:     data,
		})
	}

	return &Checkpoint{
		Version:         CheckpointVersion,
		ID:              newCheckpointID(),
		RunID:           r.runID,
		StepNumber:      r.tracer.StepNumber(),
		Timestamp:       time.Now().UTC(),
		Queue:           queue,
		FanIn:           fanIn,
		ExecutorState:   execState,
		SharedState:     sharedState,
		PendingRequests: pending,
	}, nil
}

// restoreCheckpoint rebuilds the runner's mutable state from a validated
// snapshot and returns the replay queue for the next step.
func (r *runner) restoreCheckpoint(ck *Checkpoint) ([]Message, error) {
	queue := make([]Message, 0, len(ck.Queue))
	for _, sm := range ck.Queue {
		m, err := loadMessage(sm)
		if err != nil {
			return nil, err
		}
		queue = append(queue, m)
	}

	arrivals := make(map[string]map[string]Message, len(ck.FanIn))
	for sink, bySource := range ck.FanIn {
		arrivals[sink] = make(map[string]Message, len(bySource))
		for src, sm := range bySource {
			m, err := loadMessage(sm)
			if err != nil {
				return nil, err
			}
			arrivals[sink][src] = m
		}
	}
	r.fanIn.restore(arrivals)

	for id, data := range ck.ExecutorState {
		exec, ok := r.wf.Executor(id)
		if !ok {
			return nil, fmt.Errorf("%w: state for unknown executor %q", ErrCheckpointCorrupt, id)
		}
		se, ok := exec.(StatefulExecutor)
		if !ok {
			return nil, fmt.Errorf("%w: executor %q is not stateful", ErrCheckpointCorrupt, id)
		}
		if err := se.RestoreState(data); err != nil {
			return nil, fmt.Errorf("restore executor %s: %w", id, err)
		}
	}

	shared := make(map[string]any, len(ck.SharedState))
	for k, data := range ck.SharedState {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: shared state %q: %v", ErrCheckpointCorrupt, k, err)
		}
		shared[k] = v
	}
	r.shared.restore(shared)

	pending := make([]pendingRequest, 0, len(ck.PendingRequests))
	for _, sr := range ck.PendingRequests {
		payload, err := decodePayload(sr.Type, sr.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: pending request %s: %v", ErrCheckpointCorrupt, sr.RequestID, err)
		}
		pending = append(pending, pendingRequest{
			RequestID:   sr.RequestID,
			PortID:      sr.PortID,
			RequesterID: sr.RequesterID,
			Payload:     payload,
		})
	}
	r.requests.restore(pending)

	r.tracer.Reload(ck.StepNumber)
	return queue, nil
}

func saveMessage(m Message) (SavedMessage, error) {
	typeName, data, err := encodePayload(m.Payload)
	if err != nil {
		return SavedMessage{}, fmt.Errorf("encode message from %q: %w", m.Sender, err)
	}
	return SavedMessage{Sender: m.Sender, Target: m.Target, Type: typeName, Payload: data}, nil
}

func loadMessage(sm SavedMessage) (Message, error) {
	payload, err := decodePayload(sm.Type, sm.Payload)
	if err != nil {
		return Message{}, fmt.Errorf("%w: message from %q: %v", ErrCheckpointCorrupt, sm.Sender, err)
	}
	return Message{Sender: sm.Sender, Target: sm.Target, Payload: payload}, nil
}
