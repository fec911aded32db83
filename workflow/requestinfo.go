//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// RequestResponse is the payload delivered back to the executor whose
// message triggered an external-input request. Data is the externally
// supplied answer; Request echoes the original request payload.
type RequestResponse struct {
	RequestID string `json:"request_id"`
	Data      any    `json:"data"`
	Request   any    `json:"request"`
}

func init() {
	RegisterMessage[RequestResponse]()
}

// RequestInfoExecutor is the request/response port: an executor that,
// instead of computing a result, surfaces each incoming message as a
// RequestInfoEvent and suspends that branch of the graph until a response
// keyed by the request id arrives via Run.SendResponse.
type RequestInfoExecutor struct {
	id string
}

// NewRequestInfoExecutor creates a request/response port with the given id.
func NewRequestInfoExecutor(id string) *RequestInfoExecutor {
	return &RequestInfoExecutor{id: id}
}

// ID implements Executor.
func (e *RequestInfoExecutor) ID() string { return e.id }

// Execute implements Executor. Each message in the batch becomes one
// outstanding request attributed to the message's sender.
func (e *RequestInfoExecutor) Execute(ctx context.Context, msgs []Message, wc *Context) error {
	for _, m := range msgs {
		wc.addRequest(pendingRequest{
			RequestID:   uuid.New().String(),
			PortID:      e.id,
			RequesterID: m.Sender,
			Payload:     m.Payload,
		})
	}
	return nil
}

// pendingRequest is one outstanding external-input request.
type pendingRequest struct {
	RequestID   string
	PortID      string
	RequesterID string
	Payload     any
}

// requestRegistry tracks the outstanding requests of one run. Resolving a
// request removes it, which is what enforces at-most-once response
// delivery: a second response for the same id finds nothing to resolve.
type requestRegistry struct {
	mu      sync.Mutex
	pending map[string]pendingRequest
	order   []string // issue order, for deterministic re-emission on resume
}

func newRequestRegistry() *requestRegistry {
	return &requestRegistry{pending: make(map[string]pendingRequest)}
}

func (r *requestRegistry) register(p pendingRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[p.RequestID]; ok {
		return
	}
	r.pending[p.RequestID] = p
	r.order = append(r.order, p.RequestID)
}

// resolve removes and returns the request with the given id.
func (r *requestRegistry) resolve(id string) (pendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return pendingRequest{}, false
	}
	delete(r.pending, id)
	for i, rid := range r.order {
		if rid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return p, true
}

func (r *requestRegistry) outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// snapshot returns the outstanding requests in issue order.
func (r *requestRegistry) snapshot() []pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pendingRequest, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.pending[id])
	}
	return out
}

func (r *requestRegistry) restore(pending []pendingRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = make(map[string]pendingRequest, len(pending))
	r.order = r.order[:0]
	for _, p := range pending {
		r.pending[p.RequestID] = p
		r.order = append(r.order, p.RequestID)
	}
}
