//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

// Package trace holds the OpenTelemetry tracer used by the workflow engine.
//
// The engine records one span per run and one span per superstep. By default
// the tracer comes from the global otel tracer provider, which is a no-op
// until the embedding application installs a real provider. Exporter wiring
// is deliberately left to the application.
package trace

import (
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// InstrumentName is the instrumentation scope reported on engine spans.
const InstrumentName = "github.com/flowgraph-dev/flowgraph"

// Tracer is the tracer used by the workflow engine. Tests may replace it
// with a recording tracer.
var Tracer oteltrace.Tracer = otel.Tracer(InstrumentName)

// SetTracerProvider rebinds Tracer to the given provider. Call once at
// startup, before any run begins.
func SetTracerProvider(tp oteltrace.TracerProvider) {
	Tracer = tp.Tracer(InstrumentName)
}
