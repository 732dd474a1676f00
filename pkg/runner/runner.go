package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/aretw0/loom/internal/logging"
	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/graph"
	"github.com/aretw0/loom/pkg/ports"
	"github.com/aretw0/loom/pkg/state"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNotPaused is returned by Resume for a State whose run is not paused.
	ErrNotPaused = errors.New("run is not paused")
	// ErrMaxStepsExceeded rejects runs that started more executions than allowed.
	ErrMaxStepsExceeded = errors.New("max steps exceeded")
)

// Runner drives workflow runs. A Runner is stateless between runs and safe for
// concurrent use; every Run or Resume call owns its own scheduling loop.
type Runner struct {
	logger      *slog.Logger
	concurrency int
	maxSteps    int
	snapshots   bool
	sinks       []ports.EventSink
	redactor    domain.Redactor
	middleware  []Middleware
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		logger:      logging.NewNop(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Result is the outcome of a Run or Resume call.
type Result struct {
	Status  state.RunStatus
	Outputs map[string]any
	// Paused lists the executions waiting for external inputs when Status is paused.
	Paused  []state.PausedExecution
	TraceID uuid.UUID
	SpanID  domain.ExecutionID
	State   *state.State
}

// Run executes wf on st (a fresh State when nil) with the given workflow inputs.
// It returns once nothing is left to run. A rejected run returns both a Result
// and an error.
func (r *Runner) Run(ctx context.Context, wf *graph.Workflow, st *state.State, inputs map[string]any) (*Result, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		st = state.New(state.WithLogger(r.logger))
	}

	f := frameFrom(ctx)
	traceID := f.traceID
	if traceID == uuid.Nil {
		traceID = traceIDFrom(ctx)
	}
	return r.newRun(wf, st, traceID, domain.NewExecutionID(), f.parent).start(ctx, inputs)
}

// Resume continues a paused run. The external inputs are sanitized and recorded
// on st before every paused execution runs again.
func (r *Runner) Resume(ctx context.Context, wf *graph.Workflow, st *state.State, external map[string]any) (*Result, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("resume %s: %w", wf.Name, ErrNotPaused)
	}
	info := st.Run()
	if info.Status != state.RunPaused {
		return nil, fmt.Errorf("resume %s: %w (status %q)", wf.Name, ErrNotPaused, info.Status)
	}

	clean, err := SanitizeInputs(external)
	if err != nil {
		return nil, fmt.Errorf("resume %s: %w", wf.Name, err)
	}
	_ = st.Atomic(func() error {
		for _, k := range slices.Sorted(maps.Keys(clean)) {
			st.SetExternalInput(k, clean[k])
		}
		return nil
	})

	return r.newRun(wf, st, info.TraceID, info.SpanID, frameFrom(ctx).parent).resume(ctx, info)
}

// traceIDFrom adopts the trace of an active OpenTelemetry span, if any.
func traceIDFrom(ctx context.Context) uuid.UUID {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return uuid.UUID(sc.TraceID())
	}
	return uuid.New()
}

type frameKey struct{}

// frame is the monitoring context threaded through nested runs.
type frame struct {
	traceID uuid.UUID
	parent  *domain.ParentContext
}

func withFrame(ctx context.Context, f frame) context.Context {
	return context.WithValue(ctx, frameKey{}, f)
}

func frameFrom(ctx context.Context) frame {
	f, _ := ctx.Value(frameKey{}).(frame)
	return f
}

// WithParentContext marks runs started with ctx as nested in parent (for example
// a deployed release or a sandbox invocation). Their workflow events carry it.
func WithParentContext(ctx context.Context, parent *domain.ParentContext) context.Context {
	f := frameFrom(ctx)
	f.parent = parent
	return withFrame(ctx, f)
}
