//
// Copyright (C) 2025 The flowgraph Authors. All rights reserved.
//
// flowgraph is licensed under the Apache License Version 2.0.
//
//

package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph-dev/flowgraph/workflow"
	"github.com/flowgraph-dev/flowgraph/workflow/checkpoint/inmemory"
)

func forwarder(id string) workflow.Executor {
	return workflow.NewHandler[string](id, func(ctx context.Context, msg string, wc *workflow.Context) error {
		wc.Send(msg)
		return nil
	})
}

func stepNumbers(events []workflow.Event) []int {
	var steps []int
	for _, e := range events {
		if se, ok := e.(workflow.SuperStepStartedEvent); ok {
			steps = append(steps, se.StepNumber)
		}
	}
	return steps
}

// normalizeEvents flattens the step-scoped events at or after fromStep into
// comparable strings, dropping timestamps and durations.
func normalizeEvents(events []workflow.Event, fromStep int) []string {
	var out []string
	for _, e := range events {
		switch ev := e.(type) {
		case workflow.SuperStepStartedEvent:
			if ev.StepNumber >= fromStep {
				out = append(out, fmt.Sprintf("started %d %v external=%v",
					ev.StepNumber, ev.SendingExecutorIDs, ev.HasExternalMessages))
			}
		case workflow.SuperStepCompletedEvent:
			if ev.StepNumber >= fromStep {
				out = append(out, fmt.Sprintf("completed %d %v pending=%v state=%v",
					ev.StepNumber, ev.ActivatedExecutorIDs, ev.HasPendingMessages, ev.StateUpdated))
			}
		case workflow.ExecutorInvokedEvent:
			if ev.StepNumber >= fromStep {
				out = append(out, fmt.Sprintf("invoked %d %s n=%d", ev.StepNumber, ev.ExecutorID, ev.MessageCount))
			}
		case workflow.ExecutorCompletedEvent:
			if ev.StepNumber >= fromStep {
				out = append(out, fmt.Sprintf("finished %d %s", ev.StepNumber, ev.ExecutorID))
			}
		case workflow.WorkflowOutputEvent:
			if ev.StepNumber >= fromStep {
				out = append(out, fmt.Sprintf("output %d %s %v", ev.StepNumber, ev.ExecutorID, ev.Data))
			}
		}
	}
	return out
}

func warnings(events []workflow.Event) []string {
	var out []string
	for _, e := range events {
		if we, ok := e.(workflow.WorkflowWarningEvent); ok {
			out = append(out, we.Data)
		}
	}
	return out
}

func TestRun_Pipeline(t *testing.T) {
	upper := workflow.NewHandler[string]("upper", func(ctx context.Context, msg string, wc *workflow.Context) error {
		wc.Send(strings.ToUpper(msg))
		return nil
	})
	finish := workflow.NewHandler[string]("finish", func(ctx context.Context, msg string, wc *workflow.Context) error {
		wc.YieldOutput("[DONE] " + msg)
		return nil
	})
	wf := workflow.NewBuilder(upper).AddEdge(upper, finish).MustBuild()

	_, res, err := wf.RunToIdle(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, []any{"[DONE] HELLO"}, res.Outputs())
	assert.Equal(t, workflow.StatusCompleted, res.FinalStatus())
	assert.Equal(t, []int{0, 1}, stepNumbers(res.Events))
	assert.Equal(t,
		[]workflow.RunStatus{workflow.StatusRunning, workflow.StatusCompleted},
		res.StatusTimeline())

	for _, e := range res.Events {
		se, ok := e.(workflow.SuperStepCompletedEvent)
		if !ok {
			continue
		}
		switch se.StepNumber {
		case 0:
			assert.Equal(t, []string{"upper"}, se.ActivatedExecutorIDs)
			assert.True(t, se.HasPendingMessages)
		case 1:
			assert.Equal(t, []string{"finish"}, se.ActivatedExecutorIDs)
			assert.False(t, se.HasPendingMessages)
		}
	}
}

func TestRun_ConditionalRouting(t *testing.T) {
	isSpam := func(payload any) bool {
		s, _ := payload.(string)
		return strings.HasPrefix(s, "spam:")
	}
	classify := forwarder("classify")
	quarantine := workflow.NewHandler[string]("quarantine", func(ctx context.Context, msg string, wc *workflow.Context) error {
		wc.YieldOutput("quarantined " + msg)
		return nil
	})
	deliver := workflow.NewHandler[string]("deliver", func(ctx context.Context, msg string, wc *workflow.Context) error {
		wc.YieldOutput("delivered " + msg)
		return nil
	})
	wf := workflow.NewBuilder(classify).
		AddEdge(classify, quarantine, workflow.WithCondition(isSpam)).
		AddEdge(classify, deliver, workflow.WithCondition(func(p any) bool { return !isSpam(p) })).
		MustBuild()

	_, res, err := wf.RunToIdle(context.Background(), "spam:buy now")
	require.NoError(t, err)
	assert.Equal(t, []any{"quarantined spam:buy now"}, res.Outputs())

	_, res, err = wf.RunToIdle(context.Background(), "meeting notes")
	require.NoError(t, err)
	assert.Equal(t, []any{"delivered meeting notes"}, res.Outputs())
}

func TestRun_FanOutFanIn(t *testing.T) {
	seed := forwarder("seed")
	mark := func(id string) workflow.Executor {
		return workflow.NewHandler[string](id, func(ctx context.Context, msg string, wc *workflow.Context) error {
			wc.Send(id + ":" + msg)
			return nil
		})
	}
	left, right := mark("left"), mark("right")
	join := workflow.NewBatchHandler[string]("join", func(ctx context.Context, msgs []string, wc *workflow.Context) error {
		wc.YieldOutput(strings.Join(msgs, "|"))
		return nil
	})
	wf := workflow.NewBuilder(seed).
		AddFanOutEdges(seed, []workflow.Executor{left, right}).
		AddFanInEdges([]workflow.Executor{left, right}, join).
		MustBuild()

	_, res, err := wf.RunToIdle(context.Background(), "x")
	require.NoError(t, err)
	// Batch order follows fan-in source declaration order, regardless of
	// which branch finished first.
	assert.Equal(t, []any{"left:x|right:x"}, res.Outputs())
	assert.Equal(t, workflow.StatusCompleted, res.FinalStatus())
}

func TestRun_FanOutDeliversUnregisteredTypedPayloads(t *testing.T) {
	// No RegisterMessage call for this type: registration is a checkpoint
	// concern and must not change what fan-out sinks receive.
	type draftDoc struct {
		Title string `json:"title"`
	}
	seed := workflow.NewHandler[draftDoc]("seed", func(ctx context.Context, doc draftDoc, wc *workflow.Context) error {
		wc.Send(doc)
		return nil
	})
	editor := func(id string) workflow.Executor {
		return workflow.NewHandler[draftDoc](id, func(ctx context.Context, doc draftDoc, wc *workflow.Context) error {
			wc.YieldOutput(id + " edited " + doc.Title)
			return nil
		})
	}
	wf := workflow.NewBuilder(seed).
		AddFanOutEdges(seed, []workflow.Executor{editor("a"), editor("b")}).
		MustBuild()

	_, res, err := wf.RunToIdle(context.Background(), draftDoc{Title: "rfc"})
	require.NoError(t, err)
	assert.Empty(t, res.Errors())
	assert.ElementsMatch(t, []any{"a edited rfc", "b edited rfc"}, res.Outputs())
	assert.Equal(t, workflow.StatusCompleted, res.FinalStatus())
}

func TestRun_FanInWaitsAcrossSteps(t *testing.T) {
	seed := forwarder("seed")
	left := workflow.NewHandler[string]("left", func(ctx context.Context, msg string, wc *workflow.Context) error {
		wc.Send("L")
		return nil
	})
	relay := forwarder("relay")
	right := workflow.NewHandler[string]("right", func(ctx context.Context, msg string, wc *workflow.Context) error {
		wc.Send("R")
		return nil
	})
	join := workflow.NewBatchHandler[string]("join", func(ctx context.Context, msgs []string, wc *workflow.Context) error {
		wc.YieldOutput(strings.Join(msgs, "|"))
		return nil
	})
	// left arrives one superstep before right, so the join must hold the
	// partial arrival across the barrier.
	wf := workflow.NewBuilder(seed).
		AddEdge(seed, left).
		AddEdge(seed, relay).
		AddEdge(relay, right).
		AddFanInEdges([]workflow.Executor{left, right}, join).
		MustBuild()

	_, res, err := wf.RunToIdle(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, []any{"L|R"}, res.Outputs())
	assert.Equal(t, []int{0, 1, 2, 3}, stepNumbers(res.Events))
}

func TestRun_FanOutSelector(t *testing.T) {
	seed := forwarder("seed")
	var invoked []string
	sink := func(id string) workflow.Executor {
		return workflow.NewHandler[string](id, func(ctx context.Context, msg string, wc *workflow.Context) error {
			invoked = append(invoked, id)
			return nil
		})
	}
	wf := workflow.NewBuilder(seed).
		AddFanOutEdges(seed, []workflow.Executor{sink("a"), sink("b"), sink("c")},
			workflow.WithSelector(func(payload any) []string {
				return []string{"b", "ghost"}
			})).
		MustBuild()

	_, res, err := wf.RunToIdle(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, invoked)

	// An undeclared sink choice is reported, not delivered.
	warns := warnings(res.Events)
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0], "ghost")
}

func TestRun_InvokedOrderIsSorted(t *testing.T) {
	seed := forwarder("seed")
	noop := func(id string) workflow.Executor {
		return workflow.NewHandler[string](id, func(ctx context.Context, msg string, wc *workflow.Context) error {
			return nil
		})
	}
	wf := workflow.NewBuilder(seed).
		AddFanOutEdges(seed, []workflow.Executor{noop("zeta"), noop("alpha"), noop("mid")}).
		MustBuild()

	_, res, err := wf.RunToIdle(context.Background(), "x")
	require.NoError(t, err)

	var order []string
	for _, e := range res.Events {
		if ie, ok := e.(workflow.ExecutorInvokedEvent); ok && ie.StepNumber == 1 {
			order = append(order, ie.ExecutorID)
		}
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, order)
}

func TestRun_SendToUnknownTargetIsDropped(t *testing.T) {
	seed := workflow.NewHandler[string]("seed", func(ctx context.Context, msg string, wc *workflow.Context) error {
		wc.SendTo("ghost", msg)
		wc.YieldOutput("done")
		return nil
	})
	wf := workflow.NewBuilder(seed).MustBuild()

	_, res, err := wf.RunToIdle(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []any{"done"}, res.Outputs())
	assert.Equal(t, workflow.StatusCompleted, res.FinalStatus())
	require.Len(t, warnings(res.Events), 1)
	assert.Contains(t, warnings(res.Events)[0], "ghost")
}

// approvalSeeker asks the request port for external input and turns the
// answer into a workflow output.
type approvalSeeker struct {
	id string
}

func (e *approvalSeeker) ID() string { return e.id }

func (e *approvalSeeker) Execute(ctx context.Context, msgs []workflow.Message, wc *workflow.Context) error {
	for _, m := range msgs {
		switch p := m.Payload.(type) {
		case string:
			wc.Send(p)
		case *workflow.RequestResponse:
			wc.YieldOutput(fmt.Sprintf("answer=%v", p.Data))
		default:
			return fmt.Errorf("unexpected payload %T", m.Payload)
		}
	}
	return nil
}

func TestRun_RequestResponse(t *testing.T) {
	asker := &approvalSeeker{id: "asker"}
	port := workflow.NewRequestInfoExecutor("approval")
	wf := workflow.NewBuilder(asker).AddEdge(asker, port).MustBuild()

	ctx := context.Background()
	run, res, err := wf.RunToIdle(ctx, "may I?")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuspendedOnRequest, res.FinalStatus())

	reqs := res.RequestInfoEvents()
	require.Len(t, reqs, 1)
	assert.Equal(t, "approval", reqs[0].ExecutorID)
	assert.Equal(t, "asker", reqs[0].SourceExecutorID)
	assert.Equal(t, "may I?", reqs[0].Data)

	require.ErrorIs(t, run.SendResponse("no-such-id", "x"), workflow.ErrRequestNotFound)

	require.NoError(t, run.SendResponse(reqs[0].RequestID, "yes"))
	res, err = run.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"answer=yes"}, res.Outputs())
	assert.Equal(t, workflow.StatusCompleted, res.FinalStatus())
}

// doubleAsker raises two requests per input and collects answers as outputs.
type doubleAsker struct {
	id string
}

func (e *doubleAsker) ID() string { return e.id }

func (e *doubleAsker) Execute(ctx context.Context, msgs []workflow.Message, wc *workflow.Context) error {
	for _, m := range msgs {
		switch p := m.Payload.(type) {
		case string:
			wc.Send(p + "-1")
			wc.Send(p + "-2")
		case *workflow.RequestResponse:
			wc.YieldOutput(fmt.Sprintf("answer=%v", p.Data))
		default:
			return fmt.Errorf("unexpected payload %T", m.Payload)
		}
	}
	return nil
}

func TestRun_SendResponseAtMostOnce(t *testing.T) {
	asker := &doubleAsker{id: "asker"}
	port := workflow.NewRequestInfoExecutor("approval")
	wf := workflow.NewBuilder(asker).
		AddEdge(asker, port).
		MustBuild()

	ctx := context.Background()
	run, res, err := wf.RunToIdle(ctx, "q")
	require.NoError(t, err)
	reqs := res.RequestInfoEvents()
	require.Len(t, reqs, 2)

	require.NoError(t, run.SendResponse(reqs[0].RequestID, "first"))
	res, err = run.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusSuspendedOnRequest, res.FinalStatus())

	// The answered request is gone; a duplicate response is rejected.
	require.ErrorIs(t, run.SendResponse(reqs[0].RequestID, "again"), workflow.ErrRequestNotFound)

	require.NoError(t, run.SendResponse(reqs[1].RequestID, "second"))
	res, err = run.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, res.FinalStatus())
	assert.Contains(t, res.Outputs(), "answer=second")
}

func TestRun_ResponseAcceptedIsNeverDropped(t *testing.T) {
	// Respond the moment the request surfaces, racing the scheduler's idle
	// check. An accepted response must always be folded back into the run.
	for i := 0; i < 20; i++ {
		asker := &approvalSeeker{id: "asker"}
		port := workflow.NewRequestInfoExecutor("approval")
		wf := workflow.NewBuilder(asker).AddEdge(asker, port).MustBuild()

		run, err := wf.Run(context.Background(), "go")
		require.NoError(t, err)

		var outputs []any
		for ev := range run.Events() {
			switch e := ev.(type) {
			case workflow.RequestInfoEvent:
				require.NoError(t, run.SendResponse(e.RequestID, i))
			case workflow.WorkflowOutputEvent:
				outputs = append(outputs, e.Data)
			}
		}
		require.Equal(t, []any{fmt.Sprintf("answer=%d", i)}, outputs)
		assert.Equal(t, workflow.StatusCompleted, run.Status())
	}
}

func TestRun_EndAbandonsRequests(t *testing.T) {
	asker := &approvalSeeker{id: "asker"}
	port := workflow.NewRequestInfoExecutor("approval")
	wf := workflow.NewBuilder(asker).AddEdge(asker, port).MustBuild()

	ctx := context.Background()
	run, res, err := wf.RunToIdle(ctx, "q")
	require.NoError(t, err)
	require.Len(t, res.RequestInfoEvents(), 1)
	reqID := res.RequestInfoEvents()[0].RequestID

	run.End()
	run.End() // ending twice is a no-op
	res, err = run.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, res.FinalStatus())

	<-run.Done()
	require.ErrorIs(t, run.SendResponse(reqID, "late"), workflow.ErrRunEnded)
}

func TestRun_FaultIsIsolated(t *testing.T) {
	seed := forwarder("seed")
	bad := workflow.NewHandler[string]("bad", func(ctx context.Context, msg string, wc *workflow.Context) error {
		return errors.New("boom")
	})
	good := workflow.NewHandler[string]("good", func(ctx context.Context, msg string, wc *workflow.Context) error {
		wc.YieldOutput("good saw " + msg)
		return nil
	})
	wf := workflow.NewBuilder(seed).
		AddFanOutEdges(seed, []workflow.Executor{bad, good}).
		MustBuild()

	_, res, err := wf.RunToIdle(context.Background(), "x")
	require.NoError(t, err)

	// The healthy branch still ran to completion.
	assert.Equal(t, []any{"good saw x"}, res.Outputs())
	errs := res.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, "bad", errs[0].ExecutorID)
	assert.False(t, errs[0].Fatal)
	assert.Equal(t, workflow.StatusFaulted, res.FinalStatus())
}

func TestRun_SecondFaultIsFatal(t *testing.T) {
	seed := forwarder("seed")
	fail := func(id string) workflow.Executor {
		return workflow.NewHandler[string](id, func(ctx context.Context, msg string, wc *workflow.Context) error {
			return errors.New(id + " failed")
		})
	}
	wf := workflow.NewBuilder(seed).
		AddFanOutEdges(seed, []workflow.Executor{fail("f1"), fail("f2")}).
		MustBuild()

	_, res, err := wf.RunToIdle(context.Background(), "x")
	require.NoError(t, err)

	errs := res.Errors()
	require.Len(t, errs, 2)
	assert.False(t, errs[0].Fatal)
	assert.True(t, errs[1].Fatal)
	assert.Equal(t, workflow.StatusFaulted, res.FinalStatus())
}

func TestRun_PanicIsRecoveredAsFault(t *testing.T) {
	panicky := workflow.NewHandler[string]("panicky", func(ctx context.Context, msg string, wc *workflow.Context) error {
		panic("unexpected state")
	})
	wf := workflow.NewBuilder(panicky).MustBuild()

	_, res, err := wf.RunToIdle(context.Background(), "x")
	require.NoError(t, err)

	errs := res.Errors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Err.Error(), "panicked")
	assert.Equal(t, workflow.StatusFaulted, res.FinalStatus())
}

func TestRun_MaxStepsFaultsTheRun(t *testing.T) {
	ping := forwarder("ping")
	pong := forwarder("pong")
	wf := workflow.NewBuilder(ping).
		AddEdge(ping, pong).
		AddEdge(pong, ping).
		SetMaxSteps(4).
		MustBuild()

	_, res, err := wf.RunToIdle(context.Background(), "x")
	require.NoError(t, err)

	errs := res.Errors()
	require.Len(t, errs, 1)
	assert.True(t, errs[0].Fatal)
	assert.ErrorIs(t, errs[0].Err, workflow.ErrMaxStepsExceeded)
	assert.Equal(t, workflow.StatusFaulted, res.FinalStatus())
	assert.Equal(t, []int{0, 1, 2, 3}, stepNumbers(res.Events))
}

func TestRun_Cancellation(t *testing.T) {
	block := workflow.NewHandler[string]("block", func(ctx context.Context, msg string, wc *workflow.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	wf := workflow.NewBuilder(block).MustBuild()

	ctx, cancel := context.WithCancel(context.Background())
	run, err := wf.Run(ctx, "x")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	cancel()

	res, err := run.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, res.FinalStatus())
	assert.Empty(t, res.Outputs())
}

// countingForwarder counts processed messages in private state that is
// captured into checkpoints.
type countingForwarder struct {
	id    string
	count int
}

func (e *countingForwarder) ID() string { return e.id }

func (e *countingForwarder) Execute(ctx context.Context, msgs []workflow.Message, wc *workflow.Context) error {
	for _, m := range msgs {
		e.count++
		wc.State().Set("processed", e.count)
		wc.Send(m.Payload)
	}
	return nil
}

func (e *countingForwarder) SnapshotState() (any, error) { return e.count, nil }

func (e *countingForwarder) RestoreState(data []byte) error {
	return json.Unmarshal(data, &e.count)
}

func buildCountingPipeline(counter *countingForwarder, mgr *workflow.CheckpointManager) *workflow.Workflow {
	intake := forwarder("intake")
	emit := workflow.NewHandler[string]("emit", func(ctx context.Context, msg string, wc *workflow.Context) error {
		wc.YieldOutput("[DONE] " + strings.ToUpper(msg))
		return nil
	})
	return workflow.NewBuilder(intake).
		AddChain(intake, counter, emit).
		WithCheckpointing(mgr).
		MustBuild()
}

func TestRun_CheckpointAndResume(t *testing.T) {
	store := inmemory.NewStore()
	mgr := workflow.NewCheckpointManager(store)
	ctx := context.Background()

	counter := &countingForwarder{id: "counter"}
	wf := buildCountingPipeline(counter, mgr)

	run, res, err := wf.RunToIdle(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, []any{"[DONE] HELLO"}, res.Outputs())
	assert.Equal(t, workflow.StatusCompleted, res.FinalStatus())

	// The state mutation at step 1 produced exactly one checkpoint.
	infos, err := mgr.List(ctx, run.ID())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 1, infos[0].StepNumber)

	// Resume on a fresh workflow instance: private executor state comes
	// back from the snapshot and step numbering continues at 2.
	counter2 := &countingForwarder{id: "counter"}
	wf2 := buildCountingPipeline(counter2, mgr)
	run2, err := wf2.ResumeLatest(ctx, run.ID())
	require.NoError(t, err)
	res2, err := run2.Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, counter2.count)
	assert.Equal(t, []any{"[DONE] HELLO"}, res2.Outputs())
	assert.Equal(t, workflow.StatusCompleted, res2.FinalStatus())
	assert.Equal(t, []int{2}, stepNumbers(res2.Events))

	// Replay determinism: from the resumed step onward, the straight-through
	// run and the resumed run emit identical event sequences.
	assert.Equal(t, normalizeEvents(res.Events, 2), normalizeEvents(res2.Events, 2))
}

func TestRun_ResumeRestoresPartialFanIn(t *testing.T) {
	buildJoinGraph := func(mgr *workflow.CheckpointManager) *workflow.Workflow {
		seed := forwarder("seed")
		left := workflow.NewHandler[string]("left", func(ctx context.Context, msg string, wc *workflow.Context) error {
			wc.RequestCheckpoint()
			wc.Send("L")
			return nil
		})
		relay := forwarder("relay")
		right := workflow.NewHandler[string]("right", func(ctx context.Context, msg string, wc *workflow.Context) error {
			wc.Send("R")
			return nil
		})
		join := workflow.NewBatchHandler[string]("join", func(ctx context.Context, msgs []string, wc *workflow.Context) error {
			wc.YieldOutput(strings.Join(msgs, "|"))
			return nil
		})
		return workflow.NewBuilder(seed).
			AddEdge(seed, left).
			AddEdge(seed, relay).
			AddEdge(relay, right).
			AddFanInEdges([]workflow.Executor{left, right}, join).
			WithCheckpointing(mgr).
			MustBuild()
	}

	store := inmemory.NewStore()
	mgr := workflow.NewCheckpointManager(store)
	ctx := context.Background()

	run, res, err := buildJoinGraph(mgr).RunToIdle(ctx, "go")
	require.NoError(t, err)
	assert.Equal(t, []any{"L|R"}, res.Outputs())

	// The checkpoint was requested at step 1, while the join still held
	// only left's arrival.
	infos, err := mgr.List(ctx, run.ID())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, 1, infos[0].StepNumber)

	run2, err := buildJoinGraph(mgr).ResumeFromCheckpoint(ctx, infos[0])
	require.NoError(t, err)
	res2, err := run2.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"L|R"}, res2.Outputs())
	assert.Equal(t, []int{2, 3}, stepNumbers(res2.Events))
}

func TestRun_ResumeRehydratesOutstandingRequests(t *testing.T) {
	buildApprovalGraph := func(mgr *workflow.CheckpointManager) *workflow.Workflow {
		asker := &approvalSeeker{id: "asker"}
		port := workflow.NewRequestInfoExecutor("approval")
		ticker := workflow.NewHandler[string]("audit", func(ctx context.Context, msg string, wc *workflow.Context) error {
			wc.State().Set("last_request", msg)
			return nil
		})
		return workflow.NewBuilder(asker).
			AddEdge(asker, port).
			AddEdge(asker, ticker).
			WithCheckpointing(mgr).
			MustBuild()
	}

	store := inmemory.NewStore()
	mgr := workflow.NewCheckpointManager(store)
	ctx := context.Background()

	run, res, err := buildApprovalGraph(mgr).RunToIdle(ctx, "deploy?")
	require.NoError(t, err)
	require.Equal(t, workflow.StatusSuspendedOnRequest, res.FinalStatus())
	require.Len(t, res.RequestInfoEvents(), 1)
	reqID := res.RequestInfoEvents()[0].RequestID

	// Abandon the suspended run; the outstanding request survives in the
	// checkpoint taken at the same step.
	run.End()
	_, err = run.Collect(ctx)
	require.NoError(t, err)
	<-run.Done()

	run2, err := buildApprovalGraph(mgr).ResumeLatest(ctx, run.ID())
	require.NoError(t, err)
	res2, err := run2.Collect(ctx)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusSuspendedOnRequest, res2.FinalStatus())

	reqs := res2.RequestInfoEvents()
	require.Len(t, reqs, 1)
	assert.Equal(t, reqID, reqs[0].RequestID)
	assert.Equal(t, "deploy?", reqs[0].Data)

	require.NoError(t, run2.SendResponse(reqID, "yes"))
	res2, err = run2.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"answer=yes"}, res2.Outputs())
	assert.Equal(t, workflow.StatusCompleted, res2.FinalStatus())
}

func TestRun_BlockedFanInWarnsAndCompletes(t *testing.T) {
	seed := forwarder("seed")
	left := forwarder("left")
	right := workflow.NewHandler[string]("right", func(ctx context.Context, msg string, wc *workflow.Context) error {
		// Swallows the message, so the join never sees right's arrival.
		return nil
	})
	join := workflow.NewBatchHandler[string]("join", func(ctx context.Context, msgs []string, wc *workflow.Context) error {
		wc.YieldOutput(strings.Join(msgs, "|"))
		return nil
	})
	wf := workflow.NewBuilder(seed).
		AddFanOutEdges(seed, []workflow.Executor{left, right}).
		AddFanInEdges([]workflow.Executor{left, right}, join).
		MustBuild()

	_, res, err := wf.RunToIdle(context.Background(), "x")
	require.NoError(t, err)

	assert.Empty(t, res.Outputs())
	assert.Equal(t, workflow.StatusCompleted, res.FinalStatus())
	warns := warnings(res.Events)
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0], "join")
}
