//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"sort"
	"sync"
)

// Edge is a routing rule from one or more source executors to one or more
// sink executors. The three variants form a closed union: DirectEdge,
// FanOutEdge, and FanInEdge. Routing is not mutually exclusive; every edge
// whose condition matches a produced message fires.
type Edge interface {
	sourceIDs() []string
	sinkIDs() []string
	kind() string
}

// DirectEdge routes messages from one source to one sink, optionally gated
// by a boolean condition over the payload.
type DirectEdge struct {
	Source string
	Sink   string
	// Condition gates the edge. A nil condition always fires.
	Condition func(payload any) bool
}

func (e *DirectEdge) sourceIDs() []string { return []string{e.Source} }
func (e *DirectEdge) sinkIDs() []string   { return []string{e.Sink} }
func (e *DirectEdge) kind() string        { return "direct" }

// FanOutEdge routes messages from one source to several sinks. Without a
// selector the message is broadcast to all sinks; with one, only to the
// selected subset. Each sink observes a logically independent payload copy.
type FanOutEdge struct {
	Source string
	Sinks  []string
	// Selector picks the subset of Sinks to deliver to. A nil selector
	// broadcasts.
	Selector func(payload any) []string
}

func (e *FanOutEdge) sourceIDs() []string { return []string{e.Source} }
func (e *FanOutEdge) sinkIDs() []string   { return e.Sinks }
func (e *FanOutEdge) kind() string        { return "fanout" }

// FanInEdge joins messages from a declared source set into a single sink.
// The sink executes only once every source has delivered; it receives one
// batch with one payload per source, in source-declaration order. A source
// that delivers again before the join completes replaces its earlier
// payload. Partial arrivals are held across supersteps and are part of any
// checkpoint taken meanwhile.
type FanInEdge struct {
	Sources []string
	Sink    string
}

func (e *FanInEdge) sourceIDs() []string { return e.Sources }
func (e *FanInEdge) sinkIDs() []string   { return []string{e.Sink} }
func (e *FanInEdge) kind() string        { return "fanin" }

// fanInState holds the per-run arrival records for all fan-in edges, keyed
// by sink id. One fan-in edge per sink is enforced at build time, so the
// sink id identifies the edge.
type fanInState struct {
	mu       sync.Mutex
	arrivals map[string]map[string]Message // sink -> source -> latest message
}

func newFanInState() *fanInState {
	return &fanInState{arrivals: make(map[string]map[string]Message)}
}

// record registers a message arrival for the edge, keeping only the latest
// payload per source. When the arrival set covers every declared source,
// record returns the combined batch in source-declaration order and clears
// the arrival record, so a sink that already fired never re-fires for stale
// arrivals.
func (f *fanInState) record(edge *FanInEdge, m Message) (batch []Message, ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bySource, ok := f.arrivals[edge.Sink]
	if !ok {
		bySource = make(map[string]Message)
		f.arrivals[edge.Sink] = bySource
	}
	bySource[m.Sender] = Message{
		Sender:  m.Sender,
		Target:  edge.Sink,
		Payload: m.Payload,
	}
	if len(bySource) < len(edge.Sources) {
		return nil, false
	}
	for _, src := range edge.Sources {
		batch = append(batch, bySource[src])
	}
	delete(f.arrivals, edge.Sink)
	return batch, true
}

// hasPending reports whether any fan-in edge holds a partial arrival set.
func (f *fanInState) hasPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.arrivals) > 0
}

// pendingSinks returns the sinks blocked on partial arrivals, sorted.
func (f *fanInState) pendingSinks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	sinks := make([]string, 0, len(f.arrivals))
	for sink := range f.arrivals {
		sinks = append(sinks, sink)
	}
	sort.Strings(sinks)
	return sinks
}

// snapshot copies the arrival records for checkpointing.
func (f *fanInState) snapshot() map[string]map[string]Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]map[string]Message, len(f.arrivals))
	for sink, bySource := range f.arrivals {
		cp := make(map[string]Message, len(bySource))
		for src, m := range bySource {
			cp[src] = m
		}
		out[sink] = cp
	}
	return out
}

// restore replaces the arrival records with checkpointed ones.
func (f *fanInState) restore(arrivals map[string]map[string]Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.arrivals = make(map[string]map[string]Message, len(arrivals))
	for sink, bySource := range arrivals {
		cp := make(map[string]Message, len(bySource))
		for src, m := range bySource {
			cp[src] = m
		}
		f.arrivals[sink] = cp
	}
}
