//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// ExternalSender is the sentinel sender identity for messages injected from
// outside the graph: the initial input and responses to outstanding
// requests. No executor may use it as its id.
const ExternalSender = "__external__"

// Message is the envelope that moves between executors. It is immutable
// after creation; ownership transfers from the producer to the scheduler's
// queue.
type Message struct {
	// Sender is the id of the executor that produced the message, or
	// ExternalSender for externally injected input.
	Sender string
	// Target is the id of the destination executor. The scheduler resolves
	// targets during the routing phase, so every queued message carries one.
	Target string
	// Payload is the typed message value.
	Payload any
}

// IsExternal reports whether the message was injected from outside the graph.
func (m Message) IsExternal() bool {
	return m.Sender == ExternalSender
}

// messageRegistry maps payload type names to their Go types so checkpointed
// payloads can be rehydrated with their original types on resume.
var messageRegistry = struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}{
	byName: make(map[string]reflect.Type),
	byType: make(map[reflect.Type]string),
}

// RegisterMessage registers T with the payload type registry. Payload types
// that cross a checkpoint boundary must be registered, typically from an
// init function, so a resumed run can decode the saved queue back into
// typed values. Registering the same type twice is a no-op.
func RegisterMessage[T any]() {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		// Interface-typed T carries no concrete type to register.
		return
	}
	name := t.String()
	messageRegistry.mu.Lock()
	defer messageRegistry.mu.Unlock()
	messageRegistry.byName[name] = t
	messageRegistry.byType[t] = name
}

func init() {
	RegisterMessage[string]()
	RegisterMessage[bool]()
	RegisterMessage[int]()
	RegisterMessage[int64]()
	RegisterMessage[float64]()
	RegisterMessage[map[string]any]()
}

// encodePayload serializes a payload for checkpointing. Unregistered types
// are stored with an empty type name and decode back into generic JSON
// values.
func encodePayload(v any) (typeName string, data json.RawMessage, err error) {
	data, err = json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("marshal payload %T: %w", v, err)
	}
	if v == nil {
		return "", data, nil
	}
	t := reflect.TypeOf(v)
	messageRegistry.mu.RLock()
	name, ok := messageRegistry.byType[t]
	messageRegistry.mu.RUnlock()
	if !ok && t.Kind() == reflect.Ptr {
		// A registered value type also covers pointers to it.
		messageRegistry.mu.RLock()
		name, ok = messageRegistry.byType[t.Elem()]
		messageRegistry.mu.RUnlock()
		if ok {
			name = "*" + name
		}
	}
	if !ok {
		return "", data, nil
	}
	return name, data, nil
}

// decodePayload rebuilds a payload from its checkpointed form. Payloads with
// no registered type decode into generic JSON values.
func decodePayload(typeName string, data json.RawMessage) (any, error) {
	if typeName == "" {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("unmarshal untyped payload: %w", err)
		}
		return v, nil
	}
	pointer := false
	if typeName[0] == '*' {
		pointer = true
		typeName = typeName[1:]
	}
	messageRegistry.mu.RLock()
	t, ok := messageRegistry.byName[typeName]
	messageRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("payload type %q is not registered", typeName)
	}
	target := t
	if target.Kind() == reflect.Ptr {
		target = target.Elem()
		pointer = true
	}
	pv := reflect.New(target)
	if err := json.Unmarshal(data, pv.Interface()); err != nil {
		return nil, fmt.Errorf("unmarshal payload as %s: %w", typeName, err)
	}
	if pointer {
		return pv.Interface(), nil
	}
	return pv.Elem().Interface(), nil
}

// clonePayload produces a logically independent copy of a payload so fan-out
// sinks never observe each other's mutations. The copy keeps the payload's
// concrete type whether or not it is registered; payloads that do not
// serialize fall back to sharing the original value.
func clonePayload(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	t := reflect.TypeOf(v)
	target := t
	pointer := false
	if t.Kind() == reflect.Ptr {
		target = t.Elem()
		pointer = true
	}
	pv := reflect.New(target)
	if err := json.Unmarshal(data, pv.Interface()); err != nil {
		return v
	}
	if pointer {
		return pv.Interface()
	}
	return pv.Elem().Interface()
}
