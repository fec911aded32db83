//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

import "fmt"

// DefaultMaxSteps is the default superstep budget for a run. Exceeding it
// faults the run rather than looping forever.
const DefaultMaxSteps = 100

// Workflow is an immutable graph of executors plus the edge set connecting
// them and a designated start executor. Built once via Builder.Build and
// shared read-only across concurrent runs; all mutable run state lives on
// the Run.
type Workflow struct {
	start     string
	executors map[string]Executor
	edges     map[string][]Edge
	fanIns    map[string]*FanInEdge // by sink
	maxSteps  int
	ckpt      *CheckpointManager
}

// StartExecutorID returns the id of the designated start executor.
func (w *Workflow) StartExecutorID() string { return w.start }

// Executor returns the executor registered under id.
func (w *Workflow) Executor(id string) (Executor, bool) {
	e, ok := w.executors[id]
	return e, ok
}

// Edges returns the outgoing edges of the given source executor.
func (w *Workflow) Edges(source string) []Edge {
	return w.edges[source]
}

// CheckpointManager returns the manager the workflow was built with, nil
// when checkpointing is disabled.
func (w *Workflow) CheckpointManager() *CheckpointManager { return w.ckpt }

// Builder assembles a Workflow. Executors are registered implicitly by the
// edges that mention them. Build validates the whole definition and fails
// fast before any run starts.
type Builder struct {
	start     Executor
	executors map[string]Executor
	edges     map[string][]Edge
	maxSteps  int
	ckpt      *CheckpointManager
	errs      []error
}

// NewBuilder creates a builder with the given start executor.
func NewBuilder(start Executor) *Builder {
	b := &Builder{
		executors: make(map[string]Executor),
		edges:     make(map[string][]Edge),
		maxSteps:  DefaultMaxSteps,
	}
	b.start = start
	b.addExecutor(start)
	return b
}

func (b *Builder) addExecutor(e Executor) {
	if e == nil {
		b.errs = append(b.errs, configErrorf("nil executor"))
		return
	}
	id := e.ID()
	if id == "" {
		b.errs = append(b.errs, configErrorf("executor id cannot be empty"))
		return
	}
	if id == ExternalSender {
		b.errs = append(b.errs, configErrorf("executor id %q is reserved", id))
		return
	}
	if existing, ok := b.executors[id]; ok {
		if existing != e {
			b.errs = append(b.errs, configErrorf("two executors share id %q", id))
		}
		return
	}
	b.executors[id] = e
}

// DirectEdgeOption configures a direct edge.
type DirectEdgeOption func(*DirectEdge)

// WithCondition gates a direct edge on a payload predicate. Conditions of
// sibling edges are not mutually exclusive; every matching edge fires.
func WithCondition(cond func(payload any) bool) DirectEdgeOption {
	return func(e *DirectEdge) { e.Condition = cond }
}

// AddEdge connects from to to with a direct edge.
func (b *Builder) AddEdge(from, to Executor, opts ...DirectEdgeOption) *Builder {
	b.addExecutor(from)
	b.addExecutor(to)
	if from == nil || to == nil {
		return b
	}
	edge := &DirectEdge{Source: from.ID(), Sink: to.ID()}
	for _, opt := range opts {
		opt(edge)
	}
	b.edges[edge.Source] = append(b.edges[edge.Source], edge)
	return b
}

// FanOutEdgeOption configures a fan-out edge.
type FanOutEdgeOption func(*FanOutEdge)

// WithSelector routes fan-out messages to a dynamically selected subset of
// the declared sinks instead of broadcasting.
func WithSelector(sel func(payload any) []string) FanOutEdgeOption {
	return func(e *FanOutEdge) { e.Selector = sel }
}

// AddFanOutEdges connects from to every executor in to with a fan-out edge.
func (b *Builder) AddFanOutEdges(from Executor, to []Executor, opts ...FanOutEdgeOption) *Builder {
	b.addExecutor(from)
	if from == nil {
		return b
	}
	edge := &FanOutEdge{Source: from.ID()}
	for _, sink := range to {
		b.addExecutor(sink)
		if sink != nil {
			edge.Sinks = append(edge.Sinks, sink.ID())
		}
	}
	if len(edge.Sinks) == 0 {
		b.errs = append(b.errs, configErrorf("fan-out from %q has no sinks", edge.Source))
		return b
	}
	for _, opt := range opts {
		opt(edge)
	}
	b.edges[edge.Source] = append(b.edges[edge.Source], edge)
	return b
}

// AddFanInEdges joins every executor in from into to. The sink fires only
// once all sources have delivered; the source order given here is the
// order of payloads in the sink's batch.
func (b *Builder) AddFanInEdges(from []Executor, to Executor) *Builder {
	b.addExecutor(to)
	if to == nil {
		return b
	}
	edge := &FanInEdge{Sink: to.ID()}
	seen := make(map[string]bool)
	for _, src := range from {
		b.addExecutor(src)
		if src == nil {
			continue
		}
		if seen[src.ID()] {
			b.errs = append(b.errs, configErrorf("fan-in into %q lists source %q twice", edge.Sink, src.ID()))
			continue
		}
		seen[src.ID()] = true
		edge.Sources = append(edge.Sources, src.ID())
	}
	if len(edge.Sources) < 2 {
		b.errs = append(b.errs, configErrorf("fan-in into %q needs at least two sources", edge.Sink))
		return b
	}
	for _, src := range edge.Sources {
		b.edges[src] = append(b.edges[src], edge)
	}
	return b
}

// AddChain connects the executors into a linear pipeline with direct edges.
func (b *Builder) AddChain(execs ...Executor) *Builder {
	if len(execs) < 2 {
		b.errs = append(b.errs, configErrorf("chain needs at least two executors"))
		return b
	}
	for i := 0; i < len(execs)-1; i++ {
		b.AddEdge(execs[i], execs[i+1])
	}
	return b
}

// SetMaxSteps caps the number of supersteps a run may perform.
func (b *Builder) SetMaxSteps(n int) *Builder {
	if n <= 0 {
		b.errs = append(b.errs, configErrorf("max steps must be positive, got %d", n))
		return b
	}
	b.maxSteps = n
	return b
}

// WithCheckpointing enables checkpointing for runs of this workflow.
func (b *Builder) WithCheckpointing(m *CheckpointManager) *Builder {
	if m == nil {
		b.errs = append(b.errs, configErrorf("nil checkpoint manager"))
		return b
	}
	b.ckpt = m
	return b
}

// Build validates the definition and returns the immutable workflow.
func (b *Builder) Build() (*Workflow, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if b.start == nil {
		return nil, configErrorf("start executor is required")
	}

	fanIns := make(map[string]*FanInEdge)
	for _, edges := range b.edges {
		for _, e := range edges {
			fi, ok := e.(*FanInEdge)
			if !ok {
				continue
			}
			if existing, dup := fanIns[fi.Sink]; dup && existing != fi {
				return nil, configErrorf("executor %q is the sink of more than one fan-in edge", fi.Sink)
			}
			fanIns[fi.Sink] = fi
		}
	}

	// Every edge endpoint must name a registered executor.
	for source, edges := range b.edges {
		if _, ok := b.executors[source]; !ok {
			return nil, configErrorf("edge source %q is not a registered executor", source)
		}
		for _, e := range edges {
			for _, sink := range e.sinkIDs() {
				if _, ok := b.executors[sink]; !ok {
					return nil, configErrorf("edge sink %q is not a registered executor", sink)
				}
			}
		}
	}

	// Every executor must be reachable from the start executor.
	reachable := make(map[string]bool)
	var visit func(id string)
	visit = func(id string) {
		if reachable[id] {
			return
		}
		reachable[id] = true
		for _, e := range b.edges[id] {
			for _, sink := range e.sinkIDs() {
				visit(sink)
			}
		}
	}
	visit(b.start.ID())
	for id := range b.executors {
		if !reachable[id] {
			return nil, configErrorf("executor %q is not reachable from start executor %q", id, b.start.ID())
		}
	}

	executors := make(map[string]Executor, len(b.executors))
	for id, e := range b.executors {
		executors[id] = e
	}
	edges := make(map[string][]Edge, len(b.edges))
	for src, es := range b.edges {
		edges[src] = append([]Edge(nil), es...)
	}
	return &Workflow{
		start:     b.start.ID(),
		executors: executors,
		edges:     edges,
		fanIns:    fanIns,
		maxSteps:  b.maxSteps,
		ckpt:      b.ckpt,
	}, nil
}

// MustBuild is Build that panics on configuration errors. Configuration
// errors are caller bugs, so samples and tests use this form.
func (b *Builder) MustBuild() *Workflow {
	w, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("workflow build: %v", err))
	}
	return w
}
