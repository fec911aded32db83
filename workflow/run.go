//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/flowgraph-dev/flowgraph/log"
	"github.com/flowgraph-dev/flowgraph/telemetry/trace"
)

// RunOption configures a run.
type RunOption func(*runOptions)

type runOptions struct {
	runID          string
	bufferSize     int
	maxConcurrency int
}

func defaultRunOptions() runOptions {
	return runOptions{
		bufferSize:     256,
		maxConcurrency: 16,
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// WithEventBufferSize sets the buffer size of the run's event channel
// (default 256). When the buffer is full the scheduler blocks until the
// consumer catches up.
func WithEventBufferSize(n int) RunOption {
	return func(o *runOptions) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithMaxConcurrency bounds how many executors may run in parallel within
// one superstep (default 16).
func WithMaxConcurrency(n int) RunOption {
	return func(o *runOptions) {
		if n > 0 {
			o.maxConcurrency = n
		}
	}
}

// Run is the externally visible handle for a single workflow execution. It
// exposes the event stream, accepts responses to outstanding requests, and
// supports explicit termination. Each run owns an independent scheduler,
// tracer, and checkpoint context.
type Run struct {
	id     string
	wf     *Workflow
	runner *runner

	events chan Event

	// Responses are handed over through respBuf under respMu so that
	// accepting a response and the loop's decision to finish cannot
	// interleave: once SendResponse returns nil the message is either
	// drained by the loop or the loop is still going to drain it.
	respMu     sync.Mutex
	respBuf    []Message
	respClosed bool
	respSig    chan struct{}

	endOnce sync.Once
	endCh   chan struct{}
	done    chan struct{}

	mu     sync.Mutex
	status RunStatus
}

// Run starts a new execution of the workflow, seeding the start executor's
// inbox with input. The returned run's event stream stays open until the
// run reaches a terminal state; a run suspended on an external request
// resumes on SendResponse without a new stream.
func (w *Workflow) Run(ctx context.Context, input any, opts ...RunOption) (*Run, error) {
	r, err := w.newRun(opts)
	if err != nil {
		return nil, err
	}
	queue := []Message{{Sender: ExternalSender, Target: w.start, Payload: input}}
	go r.loop(ctx, queue, nil)
	return r, nil
}

// ResumeFromCheckpoint reconstructs a run from a stored checkpoint and
// continues execution. The workflow definition is rebuilt by the caller and
// must be structurally identical to the one that produced the checkpoint.
// Step numbering continues from the checkpointed step plus one.
func (w *Workflow) ResumeFromCheckpoint(ctx context.Context, info CheckpointInfo, opts ...RunOption) (*Run, error) {
	if w.ckpt == nil {
		return nil, configErrorf("workflow was built without checkpointing")
	}
	ck, err := w.ckpt.Load(ctx, info)
	if err != nil {
		return nil, err
	}
	opts = append([]RunOption{WithRunID(ck.RunID)}, opts...)
	r, err := w.newRun(opts)
	if err != nil {
		return nil, err
	}
	queue, err := r.runner.restoreCheckpoint(ck)
	if err != nil {
		r.runner.pool.Release()
		return nil, err
	}
	// Re-surface requests that were outstanding at checkpoint time so the
	// caller learns their ids again.
	rehydrated := r.runner.requests.snapshot()
	go r.loop(ctx, queue, rehydrated)
	return r, nil
}

// ResumeLatest resumes a run from its most recent checkpoint.
func (w *Workflow) ResumeLatest(ctx context.Context, runID string, opts ...RunOption) (*Run, error) {
	if w.ckpt == nil {
		return nil, configErrorf("workflow was built without checkpointing")
	}
	info, err := w.ckpt.Latest(ctx, runID)
	if err != nil {
		return nil, err
	}
	return w.ResumeFromCheckpoint(ctx, info, opts...)
}

func (w *Workflow) newRun(opts []RunOption) (*Run, error) {
	options := defaultRunOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.runID == "" {
		options.runID = uuid.New().String()
	}
	pool, err := ants.NewPool(options.maxConcurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	r := &Run{
		id:      options.runID,
		wf:      w,
		events:  make(chan Event, options.bufferSize),
		respSig: make(chan struct{}, 1),
		endCh:   make(chan struct{}),
		done:    make(chan struct{}),
		status:  StatusRunning,
	}
	r.runner = newRunner(w, r.id, pool, nil)
	return r, nil
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Events returns the run's ordered event stream. The channel closes when
// the run reaches a terminal state.
func (r *Run) Events() <-chan Event { return r.events }

// Status returns the run's current status.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done returns a channel closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// End forces the run into a terminal state at the next step boundary,
// abandoning any outstanding requests. Ending an already-ended run is a
// no-op.
func (r *Run) End() {
	r.endOnce.Do(func() { close(r.endCh) })
}

// SendResponse delivers externally supplied input for the outstanding
// request with the given id and injects a RequestResponse message addressed
// back to the requesting executor. A response for an id that is not
// outstanding — unknown, or already answered — is rejected as a no-op with
// ErrRequestNotFound.
func (r *Run) SendResponse(requestID string, payload any) error {
	r.respMu.Lock()
	if r.respClosed {
		r.respMu.Unlock()
		return ErrRunEnded
	}
	p, ok := r.runner.requests.resolve(requestID)
	if !ok {
		r.respMu.Unlock()
		log.Warnf("run %s: response for request %q rejected: not outstanding", r.id, requestID)
		return fmt.Errorf("request %q: %w", requestID, ErrRequestNotFound)
	}
	r.respBuf = append(r.respBuf, Message{
		Sender: ExternalSender,
		Target: p.RequesterID,
		Payload: &RequestResponse{
			RequestID: p.RequestID,
			Data:      payload,
			Request:   p.Payload,
		},
	})
	r.respMu.Unlock()
	select {
	case r.respSig <- struct{}{}:
	default:
	}
	return nil
}

func (r *Run) setStatus(s RunStatus, emit func(Event)) {
	r.mu.Lock()
	changed := r.status != s
	r.status = s
	r.mu.Unlock()
	if changed {
		emit(WorkflowStatusEvent{EventHeader: newHeader(), Status: s})
	}
}

// loop is the run's scheduler loop. It executes supersteps until the run
// is terminal: queue drained with nothing pending, explicit End, fatal
// fault, or cancellation.
func (r *Run) loop(ctx context.Context, queue []Message, rehydrated []pendingRequest) {
	defer close(r.done)
	defer close(r.events)
	defer r.runner.pool.Release()
	defer r.closeResponses()

	ctx, span := trace.Tracer.Start(ctx, "workflow.run",
		oteltrace.WithAttributes(attribute.String("workflow.run_id", r.id)))
	defer span.End()

	emit := func(e Event) {
		select {
		case r.events <- e:
		case <-ctx.Done():
			// Run is being torn down; deliver if the consumer still reads.
			select {
			case r.events <- e:
			default:
				log.Debugf("run %s: dropped %T during cancellation", r.id, e)
			}
		}
	}
	r.runner.emit = emit

	r.setStatusForced(StatusRunning, emit)
	for _, p := range rehydrated {
		emit(RequestInfoEvent{
			EventHeader:      newHeader(),
			RequestID:        p.RequestID,
			ExecutorID:       p.PortID,
			SourceExecutorID: p.RequesterID,
			Data:             p.Payload,
		})
	}

	for {
		// Fold in responses that arrived while stepping.
		queue = append(queue, r.drainResponses()...)

		select {
		case <-ctx.Done():
			r.setStatus(StatusCancelled, emit)
			return
		case <-r.endCh:
			r.completeWith(emit)
			return
		default:
		}

		if len(queue) == 0 {
			if r.runner.requests.outstanding() > 0 {
				r.setStatus(StatusSuspendedOnRequest, emit)
				select {
				case <-r.respSig:
					if ms := r.drainResponses(); len(ms) > 0 {
						queue = append(queue, ms...)
						r.setStatus(StatusRunning, emit)
					}
					continue
				case <-r.endCh:
					r.completeWith(emit)
					return
				case <-ctx.Done():
					r.setStatus(StatusCancelled, emit)
					return
				}
			}
			// Close the handoff atomically with checking the buffer: a
			// response accepted before this point is folded in instead of
			// finishing, one accepted after sees ErrRunEnded.
			r.respMu.Lock()
			if len(r.respBuf) > 0 {
				r.respMu.Unlock()
				continue
			}
			r.respClosed = true
			r.respMu.Unlock()
			if r.runner.fanIn.hasPending() {
				emit(WorkflowWarningEvent{
					EventHeader: newHeader(),
					Data: fmt.Sprintf("queue drained with fan-in sink(s) blocked on partial arrivals: %s",
						strings.Join(r.runner.fanIn.pendingSinks(), ", ")),
				})
			}
			r.completeWith(emit)
			return
		}

		if r.runner.tracer.StepNumber()+1 >= r.wf.maxSteps {
			err := fmt.Errorf("%w: %d", ErrMaxStepsExceeded, r.wf.maxSteps)
			emit(WorkflowErrorEvent{EventHeader: newHeader(), StepNumber: r.runner.tracer.StepNumber(), Err: err, Fatal: true})
			r.setStatus(StatusFaulted, emit)
			return
		}

		next, err := r.runner.runStep(ctx, queue)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				r.setStatus(StatusCancelled, emit)
				return
			}
			log.Errorf("run %s halted: %v", r.id, err)
			r.setStatus(StatusFaulted, emit)
			return
		}
		queue = next
	}
}

// completeWith finishes the run in the completed state. A run that ends
// with outstanding requests completes with them abandoned; that is a
// terminal state, not an error.
func (r *Run) completeWith(emit func(Event)) {
	if n := r.runner.requests.outstanding(); n > 0 {
		log.Infof("run %s completed with %d abandoned request(s)", r.id, n)
	}
	if r.runner.faulted {
		r.setStatus(StatusFaulted, emit)
		return
	}
	r.setStatus(StatusCompleted, emit)
}

// setStatusForced emits the status event even when the status value did
// not change, used for the initial running transition.
func (r *Run) setStatusForced(s RunStatus, emit func(Event)) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
	emit(WorkflowStatusEvent{EventHeader: newHeader(), Status: s})
}

func (r *Run) drainResponses() []Message {
	r.respMu.Lock()
	out := r.respBuf
	r.respBuf = nil
	r.respMu.Unlock()
	return out
}

func (r *Run) closeResponses() {
	r.respMu.Lock()
	r.respClosed = true
	r.respMu.Unlock()
}
