//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

// Package workflow provides a graph-based execution engine that advances a
// directed graph of executors in synchronized supersteps.
//
// A workflow is an immutable set of executors connected by typed edges:
// direct (1→1, optionally conditional), fan-out (1→N, optionally with a
// dynamic selector), and fan-in (N→1 with a join barrier across a declared
// source set). The scheduler drains the pending-message queue once per
// superstep, invokes each destination executor concurrently with its batch,
// and collects everything produced into the next step's queue.
//
// Runs support durable checkpointing at step boundaries and resuming from
// a stored checkpoint with step numbering continued, as well as a
// human-in-the-loop protocol: a RequestInfoExecutor surfaces messages as
// RequestInfoEvents and suspends the branch until Run.SendResponse
// delivers the matching answer.
//
// A minimal pipeline:
//
//	upper := workflow.NewHandler("upper", func(ctx context.Context, s string, wc *workflow.Context) error {
//		wc.Send(strings.ToUpper(s))
//		return nil
//	})
//	done := workflow.NewHandler("done", func(ctx context.Context, s string, wc *workflow.Context) error {
//		wc.YieldOutput("[DONE] " + s)
//		return nil
//	})
//	wf, err := workflow.NewBuilder(upper).AddEdge(upper, done).Build()
//	if err != nil {
//		// handle configuration error
//	}
//	_, res, err := wf.RunToIdle(ctx, "hello")
package workflow
