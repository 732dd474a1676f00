package runner_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/dsl"
	"github.com/aretw0/loom/pkg/graph"
	"github.com/aretw0/loom/pkg/runner"
	"github.com/aretw0/loom/pkg/schema"
	"github.com/aretw0/loom/pkg/state"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Emit(_ context.Context, e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) byName(name domain.EventName) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) all() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

func nodeID(module, name string) domain.NodeID { return domain.NewNodeID(module, name) }

func TestRunner_AwaitAllFanIn(t *testing.T) {
	b := dsl.New("test", "fan-in")
	for _, name := range []string{"A", "B", "C"} {
		b.Add(name).Emit(map[string]any{"value": name}).Go("Merge")
	}

	var mu sync.Mutex
	var seen []map[string]any
	b.Add("Merge").
		Await(domain.AwaitAll).
		Attr("a", b.Count("A")).
		Attr("b", b.Count("B")).
		Attr("c", b.Count("C")).
		Do(func(_ context.Context, ex *graph.Execution) (map[string]any, error) {
			mu.Lock()
			seen = append(seen, ex.Inputs)
			mu.Unlock()
			return map[string]any{"done": true}, nil
		})
	b.Output("done", b.Out("Merge", "done"))
	wf := b.MustBuild()

	rec := &recorder{}
	r := runner.New(runner.WithConcurrency(3), runner.WithEventSink(rec))
	res, err := r.Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, state.RunFulfilled, res.Status)
	assert.Equal(t, true, res.Outputs["done"])
	assert.Equal(t, 1, res.State.ExecutionCount(nodeID("test", "Merge")))
	require.Len(t, seen, 1)
	assert.Equal(t, map[string]any{"a": 1, "b": 1, "c": 1}, seen[0])

	assert.Len(t, rec.byName(domain.NodeExecutionFulfilled), 4)
	assert.Len(t, rec.byName(domain.WorkflowExecutionFulfilled), 1)
}

func TestRunner_SelfLoopRetries(t *testing.T) {
	b := dsl.New("test", "retry")
	var attempts atomic.Int32
	b.Add("Try").
		Await(domain.AwaitAny).
		Do(func(context.Context, *graph.Execution) (map[string]any, error) {
			return map[string]any{"attempt": int(attempts.Add(1))}, nil
		}).
		Branch("retry", graph.Lt(b.Count("Try"), graph.Const(3)), "Try").
		Go("Else")
	b.Add("Else").Emit(map[string]any{"gave_up": true})
	wf := b.MustBuild()

	res, err := runner.New().Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, state.RunFulfilled, res.Status)
	assert.Equal(t, 3, res.State.ExecutionCount(nodeID("test", "Try")))
	assert.Equal(t, 1, res.State.ExecutionCount(nodeID("test", "Else")))
	assert.Equal(t, int32(3), attempts.Load())

	v, ok := res.State.NodeOutput(nodeID("test", "Try"), "attempt")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestRunner_ForkCollapse(t *testing.T) {
	b := dsl.New("test", "diamond")
	b.Add("Start").Go("Left", "Right")
	b.Add("Left").Go("Join")
	b.Add("Right").Go("Join")
	var joins atomic.Int32
	b.Add("Join").Await(domain.AwaitAny).Do(func(context.Context, *graph.Execution) (map[string]any, error) {
		joins.Add(1)
		return nil, nil
	})
	wf := b.MustBuild()

	res, err := runner.New(runner.WithConcurrency(2)).Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), joins.Load())
	assert.Equal(t, 1, res.State.ExecutionCount(nodeID("test", "Join")))
}

func TestRunner_ForkWithDirectEdge(t *testing.T) {
	// Start -> {Join, Mid}, Mid -> Join: Join is one of the fork's own branches.
	orders := map[string][]string{
		"JoinFirst": {"Join", "Mid"},
		"MidFirst":  {"Mid", "Join"},
	}
	for name, order := range orders {
		for _, workers := range []int{1, 2} {
			t.Run(fmt.Sprintf("%s/%d", name, workers), func(t *testing.T) {
				b := dsl.New("test", "direct-edge")
				b.Add("Start").Go(order...)
				b.Add("Mid").Go("Join")
				var joins atomic.Int32
				b.Add("Join").Await(domain.AwaitAny).Do(func(context.Context, *graph.Execution) (map[string]any, error) {
					joins.Add(1)
					return nil, nil
				})
				wf := b.MustBuild()

				res, err := runner.New(runner.WithConcurrency(workers)).Run(context.Background(), wf, nil, nil)
				require.NoError(t, err)
				assert.Equal(t, state.RunFulfilled, res.Status)
				assert.Equal(t, int32(1), joins.Load())
				assert.Equal(t, 1, res.State.ExecutionCount(nodeID("test", "Join")))
				assert.Equal(t, 1, res.State.ExecutionCount(nodeID("test", "Mid")))
			})
		}
	}
}

func TestRunner_AwaitAttributes(t *testing.T) {
	b := dsl.New("test", "attributes")
	b.Add("Source").Emit(map[string]any{"value": 42})
	var got atomic.Value
	b.Add("Consumer").
		Await(domain.AwaitAttributes).
		Attr("v", b.Out("Source", "value")).
		Do(func(_ context.Context, ex *graph.Execution) (map[string]any, error) {
			v, _ := ex.Input("v")
			got.Store(v)
			return nil, nil
		})
	wf := b.MustBuild()

	res, err := runner.New().Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Load())
	assert.Equal(t, 1, res.State.ExecutionCount(nodeID("test", "Consumer")))
}

func TestRunner_WorkflowInputs(t *testing.T) {
	b := dsl.New("test", "inputs")
	b.Input("name", schema.Required(schema.String()))
	b.Input("greeting", schema.Optional(schema.String(), "hello"))
	b.Add("Greet").
		Attr("name", graph.Input("name")).
		Attr("greeting", graph.Input("greeting")).
		Do(func(_ context.Context, ex *graph.Execution) (map[string]any, error) {
			return map[string]any{"text": ex.Inputs["greeting"].(string) + " " + ex.Inputs["name"].(string)}, nil
		})
	b.Output("text", b.Out("Greet", "text"))
	wf := b.MustBuild()

	r := runner.New()
	res, err := r.Run(context.Background(), wf, nil, map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "hello ada", res.Outputs["text"])

	rec := &recorder{}
	r = runner.New(runner.WithEventSink(rec))
	res, err = r.Run(context.Background(), wf, nil, map[string]any{"name": 7})
	require.Error(t, err)
	assert.Equal(t, state.RunRejected, res.Status)
	assert.NotEmpty(t, schema.ValidationErrors(err))

	rejected := rec.byName(domain.WorkflowExecutionRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, domain.CodeInvalidInputs, rejected[0].Body.Error.Code)
}

func TestRunner_NodeFailure(t *testing.T) {
	boom := errors.New("boom")
	b := dsl.New("test", "failure")
	b.Add("A").Go("B")
	b.Add("B").Do(func(context.Context, *graph.Execution) (map[string]any, error) {
		return nil, boom
	}).Go("C")
	b.Add("C")
	wf := b.MustBuild()

	rec := &recorder{}
	res, err := runner.New(runner.WithEventSink(rec)).Run(context.Background(), wf, nil, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, state.RunRejected, res.Status)
	assert.Equal(t, 0, res.State.ExecutionCount(nodeID("test", "C")))
	assert.Len(t, res.State.Cache().Rejected(nodeID("test", "B")), 1)

	var nerr *domain.NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "B", nerr.Node)

	rejected := rec.byName(domain.NodeExecutionRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, domain.CodeNodeExecution, rejected[0].Body.Error.Code)
	assert.Len(t, rec.byName(domain.WorkflowExecutionRejected), 1)
	assert.Contains(t, res.State.Run().Error, "boom")
}

func TestRunner_PanicIsRejected(t *testing.T) {
	b := dsl.New("test", "panic")
	b.Add("A").Do(func(context.Context, *graph.Execution) (map[string]any, error) {
		panic("kaboom")
	})
	wf := b.MustBuild()

	rec := &recorder{}
	_, err := runner.New(runner.WithEventSink(rec)).Run(context.Background(), wf, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	rejected := rec.byName(domain.NodeExecutionRejected)
	require.Len(t, rejected, 1)
	assert.NotEmpty(t, rejected[0].Body.Error.Stacktrace)
}

func TestRunner_Cancellation(t *testing.T) {
	started := make(chan struct{})
	b := dsl.New("test", "cancel")
	b.Add("Block").Do(func(ctx context.Context, _ *graph.Execution) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	wf := b.MustBuild()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	rec := &recorder{}
	res, err := runner.New(runner.WithEventSink(rec)).Run(ctx, wf, nil, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, state.RunRejected, res.Status)

	rejected := rec.byName(domain.NodeExecutionRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, domain.CodeCanceled, rejected[0].Body.Error.Code)
}

func TestRunner_MaxSteps(t *testing.T) {
	b := dsl.New("test", "forever")
	b.Add("Spin").Branch("again", graph.Const(true), "Spin").Go("Never")
	b.Add("Never")
	wf := b.MustBuild()

	res, err := runner.New(runner.WithMaxSteps(5)).Run(context.Background(), wf, nil, nil)
	require.ErrorIs(t, err, runner.ErrMaxStepsExceeded)
	assert.Equal(t, 5, res.State.ExecutionCount(nodeID("test", "Spin")))
	assert.Equal(t, 6, res.State.Run().Steps)
}

func TestRunner_Streaming(t *testing.T) {
	b := dsl.New("test", "stream")
	b.Add("Talk").Do(func(_ context.Context, ex *graph.Execution) (map[string]any, error) {
		ex.Stream("token", "hel")
		ex.Stream("token", "lo")
		return map[string]any{"text": "hello"}, nil
	})
	wf := b.MustBuild()

	rec := &recorder{}
	_, err := runner.New(runner.WithEventSink(rec)).Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)

	streamed := rec.byName(domain.NodeExecutionStreaming)
	require.Len(t, streamed, 2)
	assert.Equal(t, "hel", streamed[0].Body.Output.Value)
	assert.Len(t, rec.byName(domain.WorkflowExecutionStreaming), 2)
}

func TestRunner_PauseAndResume(t *testing.T) {
	b := dsl.New("test", "approval")
	b.Add("Draft").Emit(map[string]any{"text": "draft"}).Go("Ask")
	b.Add("Ask").Do(func(_ context.Context, ex *graph.Execution) (map[string]any, error) {
		v, err := ex.ExternalInput("approval")
		if err != nil {
			return nil, err
		}
		return map[string]any{"approval": v}, nil
	}).Go("Publish")
	b.Add("Publish").Emit(map[string]any{"published": true})
	b.Output("approval", b.Out("Ask", "approval"))
	wf := b.MustBuild()

	rec := &recorder{}
	r := runner.New(runner.WithEventSink(rec))
	res, err := r.Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	require.Equal(t, state.RunPaused, res.Status)
	require.Len(t, res.Paused, 1)
	assert.Equal(t, "approval", res.Paused[0].Key)
	assert.Len(t, rec.byName(domain.NodeExecutionPaused), 1)
	assert.Len(t, rec.byName(domain.WorkflowExecutionPaused), 1)

	// Round-trip through the persisted form as a store would.
	data, err := res.State.Snapshot().Marshal()
	require.NoError(t, err)
	p, err := state.UnmarshalPersisted(data)
	require.NoError(t, err)
	restored, err := state.Restore(p)
	require.NoError(t, err)

	_, err = r.Resume(context.Background(), wf, state.New(), nil)
	require.ErrorIs(t, err, runner.ErrNotPaused)

	res, err = r.Resume(context.Background(), wf, restored, map[string]any{"approval": "yes\x1b"})
	require.NoError(t, err)
	assert.Equal(t, state.RunFulfilled, res.Status)
	assert.Equal(t, "yes", res.Outputs["approval"])
	assert.Equal(t, 1, restored.ExecutionCount(nodeID("test", "Draft")))
	assert.Equal(t, 1, restored.ExecutionCount(nodeID("test", "Publish")))
	assert.Empty(t, restored.Run().Paused)

	resumed := rec.byName(domain.NodeExecutionResumed)
	require.Len(t, resumed, 1)
	assert.Equal(t, p.Run.Paused[0].Execution, resumed[0].SpanID)
	assert.Equal(t, p.Run.TraceID, resumed[0].TraceID)
}

func TestRunner_Subworkflow(t *testing.T) {
	inner := dsl.New("test", "double")
	inner.Input("x", schema.Required(schema.Int()))
	inner.Add("Double").
		Attr("x", graph.Input("x")).
		Do(func(_ context.Context, ex *graph.Execution) (map[string]any, error) {
			return map[string]any{"y": ex.Inputs["x"].(int) * 2}, nil
		})
	inner.Output("y", inner.Out("Double", "y"))
	innerWF := inner.MustBuild()

	outer := dsl.New("test", "outer")
	outer.Add("Call").Attr("x", graph.Const(21)).Workflow(innerWF)
	outer.Output("answer", outer.Out("Call", "y"))
	wf := outer.MustBuild()

	rec := &recorder{}
	res, err := runner.New(runner.WithEventSink(rec)).Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, res.Outputs["answer"])

	var nested []domain.Event
	for _, e := range rec.byName(domain.WorkflowExecutionInitiated) {
		if e.Parent != nil {
			nested = append(nested, e)
		}
	}
	require.Len(t, nested, 1)
	assert.Equal(t, res.TraceID, nested[0].TraceID)
	assert.Equal(t, domain.ParentNode, nested[0].Parent.Kind)
	assert.Equal(t, "Call", nested[0].Parent.NodeName)
	require.NotNil(t, nested[0].Parent.Parent)
	assert.Equal(t, domain.ParentWorkflow, nested[0].Parent.Parent.Kind)
	assert.Equal(t, res.SpanID, nested[0].Parent.Parent.SpanID)
}

func TestRunner_SubworkflowPauseReadsParentInputs(t *testing.T) {
	inner := dsl.New("test", "login")
	inner.Add("Token").Do(func(_ context.Context, ex *graph.Execution) (map[string]any, error) {
		v, err := ex.ExternalInput("token")
		if err != nil {
			return nil, err
		}
		return map[string]any{"token": v}, nil
	})
	inner.Output("token", inner.Out("Token", "token"))
	innerWF := inner.MustBuild()

	outer := dsl.New("test", "session")
	outer.Add("Login").Workflow(innerWF)
	outer.Output("token", outer.Out("Login", "token"))
	wf := outer.MustBuild()

	r := runner.New()
	res, err := r.Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)
	require.Equal(t, state.RunPaused, res.Status)
	assert.Equal(t, "token", res.Paused[0].Key)

	res, err = r.Resume(context.Background(), wf, res.State, map[string]any{"token": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", res.Outputs["token"])
}

func TestRunner_AdoptsOpenTelemetryTrace(t *testing.T) {
	b := dsl.New("test", "traced")
	b.Add("A")
	wf := b.MustBuild()

	tid := trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: trace.SpanID{1}, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	res, err := runner.New().Run(ctx, wf, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uuid.UUID(tid), res.TraceID)
	assert.Equal(t, uuid.UUID(tid), res.State.Run().TraceID)
}

func TestRunner_EventsFollowLifecycle(t *testing.T) {
	b := dsl.New("test", "lifecycle")
	b.Add("A").Go("B", "C")
	b.Add("B").Do(func(_ context.Context, ex *graph.Execution) (map[string]any, error) {
		ex.Stream("progress", 1)
		return nil, ex.State.Set("b.done", true)
	}).Go("D")
	b.Add("C").Go("D")
	b.Add("D").Await(domain.AwaitAll)
	wf := b.MustBuild()

	rec := &recorder{}
	r := runner.New(runner.WithEventSink(rec), runner.WithSnapshots(true), runner.WithConcurrency(2))
	_, err := r.Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, rec.byName(domain.WorkflowExecutionSnapshotted))

	lc := domain.NewLifecycle()
	for _, e := range rec.all() {
		assert.NoError(t, lc.Apply(e), "event %s", e.Name)
	}
	events := rec.all()
	assert.Equal(t, domain.WorkflowExecutionFulfilled, events[len(events)-1].Name)
}

func TestRunner_SnapshotsCarryFullState(t *testing.T) {
	b := dsl.New("test", "snapshots")
	b.Add("Fetch").Do(func(_ context.Context, ex *graph.Execution) (map[string]any, error) {
		return map[string]any{"body": "ok"}, ex.State.Set("fetch.status", 200)
	}).Go("Store")
	b.Add("Store").Do(func(_ context.Context, ex *graph.Execution) (map[string]any, error) {
		return nil, ex.State.Append("stored", "ok")
	})
	wf := b.MustBuild()

	rec := &recorder{}
	res, err := runner.New(runner.WithEventSink(rec), runner.WithSnapshots(true)).Run(context.Background(), wf, nil, nil)
	require.NoError(t, err)

	snaps := rec.byName(domain.WorkflowExecutionSnapshotted)
	require.NotEmpty(t, snaps)
	for _, e := range snaps {
		assert.NotEmpty(t, e.Body.Deltas)
	}
	last, ok := snaps[len(snaps)-1].Body.State.(*state.Persisted)
	require.True(t, ok, "snapshotted events carry the persisted state, got %T", snaps[len(snaps)-1].Body.State)

	// The last capture alone rebuilds the run, without replaying earlier batches.
	restored, err := state.Restore(last)
	require.NoError(t, err)
	got, want := restored.Snapshot(), res.State.Snapshot()
	assert.Equal(t, want.Values, got.Values)
	assert.Equal(t, want.NodeOutputs, got.NodeOutputs)
	assert.Equal(t, want.Cache, got.Cache)
	assert.Equal(t, 1, restored.ExecutionCount(nodeID("test", "Store")))
}

func TestRunner_Middleware(t *testing.T) {
	b := dsl.New("test", "slow")
	b.Add("Slow").Do(func(ctx context.Context, _ *graph.Execution) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, nil
		}
	})
	wf := b.MustBuild()

	r := runner.New(runner.WithMiddleware(runner.Timeout(20 * time.Millisecond)))
	_, err := r.Run(context.Background(), wf, nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
