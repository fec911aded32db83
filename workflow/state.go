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

// SharedState is the run-scoped key-value state visible to every executor
// of one run. Mutations mark the current superstep as state-updated, which
// is what makes the step checkpoint-worthy. Values crossing a checkpoint
// boundary must be JSON-serializable.
//
// SharedState is never shared across concurrent runs of the same workflow
// definition; each run owns its own instance.
type SharedState struct {
	mu       sync.RWMutex
	values   map[string]any
	onMutate func()
}

func newSharedState(onMutate func()) *SharedState {
	return &SharedState{values: make(map[string]any), onMutate: onMutate}
}

// Get returns the value stored under key.
func (s *SharedState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key.
func (s *SharedState) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	if s.onMutate != nil {
		s.onMutate()
	}
}

// Delete removes key.
func (s *SharedState) Delete(key string) {
	s.mu.Lock()
	_, existed := s.values[key]
	delete(s.values, key)
	s.mu.Unlock()
	if existed && s.onMutate != nil {
		s.onMutate()
	}
}

// Keys returns all keys in lexicographic order.
func (s *SharedState) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *SharedState) snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make(map[string]any, len(s.values))
	for k, v := range s.values {
		cp[k] = v
	}
	return cp
}

func (s *SharedState) restore(values map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]any, len(values))
	for k, v := range values {
		s.values[k] = v
	}
}
