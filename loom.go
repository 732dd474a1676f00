package loom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/loom/internal/compiler"
	"github.com/aretw0/loom/internal/logging"
	"github.com/aretw0/loom/pkg/adapters/memory"
	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/graph"
	"github.com/aretw0/loom/pkg/persistence/middleware"
	"github.com/aretw0/loom/pkg/ports"
	"github.com/aretw0/loom/pkg/registry"
	"github.com/aretw0/loom/pkg/runner"
	"github.com/aretw0/loom/pkg/session"
	"github.com/aretw0/loom/pkg/state"
	"github.com/google/uuid"
)

// ErrSessionInUse is returned by Run for a session that already holds a run.
var ErrSessionInUse = errors.New("session already holds a run")

// Engine is the high-level entry point of the library. It resolves workflows by
// name, runs them through a runner.Runner and persists every run as a session.
type Engine struct {
	runner   *runner.Runner
	sessions *session.Manager
	compiler *compiler.Compiler
	loader   ports.WorkflowLoader
	registry *registry.Registry
	logger   *slog.Logger
	closers  []io.Closer

	store       ports.StateStore
	middlewares []middleware.Middleware
	locker      ports.DistributedLocker
	sessionOpts []session.Option
	runnerOpts  []runner.Option

	mu        sync.RWMutex
	workflows map[string]*graph.Workflow
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLoader sets where workflow definitions are read from.
func WithLoader(l ports.WorkflowLoader) Option {
	return func(e *Engine) { e.loader = l }
}

// WithStore sets the session store (in memory by default).
func WithStore(s ports.StateStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithStoreMiddleware wraps the session store, the first middleware outermost.
func WithStoreMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) { e.middlewares = append(e.middlewares, mws...) }
}

// WithLocker coordinates session access across processes.
func WithLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithSessionOptions passes options to the session manager.
func WithSessionOptions(opts ...session.Option) Option {
	return func(e *Engine) { e.sessionOpts = append(e.sessionOpts, opts...) }
}

// WithRegistry sets the node kinds available to YAML workflows.
func WithRegistry(r *registry.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithRunnerOptions configures the runner.
func WithRunnerOptions(opts ...runner.Option) Option {
	return func(e *Engine) { e.runnerOpts = append(e.runnerOpts, opts...) }
}

// WithEventSink adds sinks receiving every lifecycle event.
func WithEventSink(sinks ...ports.EventSink) Option {
	return WithRunnerOptions(runner.WithEventSink(sinks...))
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithCloser registers a resource released by Close.
func WithCloser(c io.Closer) Option {
	return func(e *Engine) { e.closers = append(e.closers, c) }
}

// New creates an Engine. Without options it keeps sessions in memory and only
// knows the workflows passed to Register.
func New(opts ...Option) *Engine {
	e := &Engine{workflows: make(map[string]*graph.Workflow)}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.registry == nil {
		e.registry = registry.NewBuiltins()
	}
	if e.loader == nil {
		e.loader = memory.NewLoader(nil)
	}
	if e.store == nil {
		e.store = memory.NewStore()
	}

	sessOpts := []session.Option{session.WithLogger(e.logger)}
	if e.locker != nil {
		sessOpts = append(sessOpts, session.WithLocker(e.locker))
	}
	e.sessions = session.NewManager(middleware.Chain(e.store, e.middlewares...), append(sessOpts, e.sessionOpts...)...)
	e.compiler = compiler.New(e.registry, compiler.WithLoader(e.loader), compiler.WithLogger(e.logger))
	e.runner = runner.New(append([]runner.Option{runner.WithLogger(e.logger)}, e.runnerOpts...)...)
	return e
}

// Register makes a workflow built in code resolvable by name.
func (e *Engine) Register(wf *graph.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.workflows[wf.Name] = wf
	e.mu.Unlock()
	return nil
}

// Workflow resolves a workflow by name, compiling it from the loader on first use.
func (e *Engine) Workflow(name string) (*graph.Workflow, error) {
	e.mu.RLock()
	wf, ok := e.workflows[name]
	e.mu.RUnlock()
	if ok {
		return wf, nil
	}

	wf, err := e.compiler.Load(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.workflows[name] = wf
	e.workflows[wf.Name] = wf
	e.mu.Unlock()
	return wf, nil
}

// Workflows lists registered and loadable workflow names.
func (e *Engine) Workflows() ([]string, error) {
	names, err := e.loader.ListWorkflows()
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	e.mu.RLock()
	for name := range e.workflows {
		names = append(names, name)
	}
	e.mu.RUnlock()
	slices.Sort(names)
	return slices.Compact(names), nil
}

// Compile compiles a YAML definition without registering it.
func (e *Engine) Compile(data []byte) (*graph.Workflow, error) {
	return e.compiler.Compile(data)
}

// Result is the outcome of a run together with the session it was saved under.
type Result struct {
	SessionID string
	*runner.Result
}

// Run starts the named workflow in a session. An empty sessionID gets a fresh
// one. A rejected run is saved and returned together with its error.
func (e *Engine) Run(ctx context.Context, name, sessionID string, inputs map[string]any) (*Result, error) {
	wf, err := e.Workflow(name)
	if err != nil {
		return nil, err
	}
	return e.RunWorkflow(ctx, wf, sessionID, inputs)
}

// RunWorkflow starts wf in a session.
func (e *Engine) RunWorkflow(ctx context.Context, wf *graph.Workflow, sessionID string, inputs map[string]any) (*Result, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	res := &Result{SessionID: sessionID}
	err := e.sessions.Update(ctx, sessionID, func(ctx context.Context, st *state.State) error {
		if status := st.Run().Status; status != "" {
			return fmt.Errorf("%w: %s is %s", ErrSessionInUse, sessionID, status)
		}
		r, err := e.runner.Run(ctx, wf, st, inputs)
		res.Result = r
		return err
	})
	e.logRun("run", res, err)
	if res.Result == nil {
		return nil, err
	}
	return res, err
}

// Resume continues a paused session with external inputs. The workflow is
// resolved from the name recorded in the session.
func (e *Engine) Resume(ctx context.Context, sessionID string, external map[string]any) (*Result, error) {
	return e.resume(ctx, nil, sessionID, external)
}

// ResumeWorkflow continues a paused session against an explicit workflow.
func (e *Engine) ResumeWorkflow(ctx context.Context, wf *graph.Workflow, sessionID string, external map[string]any) (*Result, error) {
	return e.resume(ctx, wf, sessionID, external)
}

func (e *Engine) resume(ctx context.Context, wf *graph.Workflow, sessionID string, external map[string]any) (*Result, error) {
	if _, err := e.sessions.Inspect(ctx, sessionID); err != nil {
		return nil, err
	}

	res := &Result{SessionID: sessionID}
	err := e.sessions.Update(ctx, sessionID, func(ctx context.Context, st *state.State) error {
		target := wf
		if target == nil {
			name := st.Run().WorkflowName
			if name == "" {
				return fmt.Errorf("resume %s: %w", sessionID, runner.ErrNotPaused)
			}
			var err error
			if target, err = e.Workflow(name); err != nil {
				return err
			}
		}
		r, err := e.runner.Resume(ctx, target, st, external)
		res.Result = r
		return err
	})
	e.logRun("resume", res, err)
	if res.Result == nil {
		return nil, err
	}
	return res, err
}

func (e *Engine) logRun(op string, res *Result, err error) {
	attrs := []any{"session_id", res.SessionID}
	if res.Result != nil {
		attrs = append(attrs, "status", res.Status, "trace_id", res.TraceID)
	}
	if err != nil {
		e.logger.Warn(op+" failed", append(attrs, "err", err)...)
		return
	}
	e.logger.Info(op+" finished", attrs...)
}

// Inspect returns the persisted form of a session.
func (e *Engine) Inspect(ctx context.Context, sessionID string) (*state.Persisted, error) {
	return e.sessions.Inspect(ctx, sessionID)
}

// ListSessions lists the stored session ids.
func (e *Engine) ListSessions(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// DeleteSession removes a session.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	return e.sessions.Delete(ctx, sessionID)
}

// Sessions exposes the session manager.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Close releases the resources registered with WithCloser.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NotFound reports whether err means a missing session or workflow.
func NotFound(err error) bool {
	return errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrWorkflowNotFound)
}
