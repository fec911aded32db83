//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

// Package idset provides a small concurrency-safe string set used by the
// step tracer and the fan-in barrier bookkeeping. Inserts are idempotent
// and may come from executors dispatched in parallel within one superstep.
package idset

import (
	"sort"
	"sync"
)

// Set is a duplicate-safe set of identifiers. The zero value is not usable;
// construct with New.
type Set struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// New creates an empty set.
func New() *Set {
	return &Set{ids: make(map[string]struct{})}
}

// Add inserts id and reports whether it was newly added.
func (s *Set) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Has reports whether id is present.
func (s *Set) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of ids in the set.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Sorted returns the ids in lexicographic order. Event payloads use this so
// that runs of the same graph produce identical event sequences.
func (s *Set) Sorted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Reset removes all ids.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
}
