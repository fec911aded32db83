//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestNotFound is returned by SendResponse when the request id is
	// not currently outstanding, including when it was already answered.
	ErrRequestNotFound = errors.New("request id is not outstanding")
	// ErrCheckpointNotFound is returned when no checkpoint exists for a run.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	// ErrCheckpointCorrupt is returned when a loaded checkpoint fails
	// structural validation. It is distinct from handler faults so callers
	// can tell a bad checkpoint from a bad run.
	ErrCheckpointCorrupt = errors.New("checkpoint failed validation")
	// ErrRunEnded is returned when interacting with a run that has reached
	// a terminal state.
	ErrRunEnded = errors.New("run already ended")
	// ErrMaxStepsExceeded is returned when a run performs more supersteps
	// than the workflow allows.
	ErrMaxStepsExceeded = errors.New("maximum step count exceeded")
	// ErrRunFaulted is returned when a second handler fault escalates the
	// run to a fatal halt.
	ErrRunFaulted = errors.New("run halted after repeated handler faults")
)

// ConfigError reports a malformed workflow definition, such as a fan-in edge
// referencing an unknown source. It is detected at build time, before any
// run starts, and is never retried.
type ConfigError struct {
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("workflow configuration: %s", e.Reason)
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}
