package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/graph"
	"github.com/aretw0/loom/pkg/state"
	"github.com/google/uuid"
)

// run is the scheduling loop of one Run or Resume call. Only the loop goroutine
// touches the queue; workers report back through a channel.
type run struct {
	r       *Runner
	wf      *graph.Workflow
	st      *state.State
	traceID uuid.UUID
	span    domain.ExecutionID
	parent  *domain.ParentContext
	frame   *domain.ParentContext
	logger  *slog.Logger

	emitMu sync.Mutex
	lc     *domain.Lifecycle

	cancel  context.CancelFunc
	queue   []task
	waiting []task
	paused  []state.PausedExecution
	err     error
}

type task struct {
	node    *graph.Node
	id      domain.ExecutionID
	resumed bool
}

type result struct {
	task
	outputs map[string]any
	err     error
	stack   string
}

func (r *Runner) newRun(wf *graph.Workflow, st *state.State, traceID uuid.UUID, span domain.ExecutionID, parent *domain.ParentContext) *run {
	return &run{
		r:       r,
		wf:      wf,
		st:      st,
		traceID: traceID,
		span:    span,
		parent:  parent,
		frame:   domain.WorkflowParent(span, wf.ID(), wf.Name, parent),
		logger:  r.logger.With("workflow", wf.Name, "span_id", span),
		lc:      domain.NewLifecycle(),
	}
}

func (x *run) start(ctx context.Context, inputs map[string]any) (*Result, error) {
	x.st.SetRun(state.RunInfo{
		WorkflowID:   x.wf.ID(),
		WorkflowName: x.wf.Name,
		TraceID:      x.traceID,
		SpanID:       x.span,
		Status:       state.RunRunning,
	})
	x.emitWorkflow(ctx, domain.WorkflowExecutionInitiated, domain.EventBody{Inputs: inputs})
	defer x.watchSnapshots(ctx)()

	if x.wf.Inputs != nil {
		applied, err := x.wf.Inputs.Apply(inputs)
		if err != nil {
			x.fail(&runError{code: domain.CodeInvalidInputs, err: err})
			return x.finish(ctx)
		}
		inputs = applied
	}
	_ = x.st.Atomic(func() error {
		for _, k := range slices.Sorted(maps.Keys(inputs)) {
			x.st.SetWorkflowInput(k, inputs[k])
		}
		return nil
	})

	for _, n := range x.wf.Roots() {
		id := n.Trigger().Queue(x.st, x.wf.Dependencies(n), domain.NilExecution)
		x.tryStart(n, id)
	}
	x.logger.Debug("run started", "entries", len(x.queue)+len(x.waiting))

	x.loop(ctx)
	return x.finish(ctx)
}

func (x *run) resume(ctx context.Context, info state.RunInfo) (*Result, error) {
	x.st.UpdateRun(func(ri *state.RunInfo) {
		ri.Status = state.RunRunning
		ri.Paused = nil
		ri.Waiting = nil
		ri.Error = ""
	})
	x.emitWorkflow(ctx, domain.WorkflowExecutionResumed, domain.EventBody{})
	defer x.watchSnapshots(ctx)()

	for _, p := range info.Paused {
		n, ok := x.wf.NodeByID(p.Node)
		if !ok {
			x.logger.Warn("dropping paused execution of unknown node", "node_id", p.Node, "execution_id", p.Execution)
			continue
		}
		x.queue = append(x.queue, task{node: n, id: p.Execution, resumed: true})
	}
	for _, w := range info.Waiting {
		if n, ok := x.wf.NodeByID(w.Node); ok {
			x.waiting = append(x.waiting, task{node: n, id: w.Execution})
		}
	}
	x.recheckWaiting()
	x.logger.Debug("run resumed", "paused", len(info.Paused))

	x.loop(ctx)
	return x.finish(ctx)
}

// loop dispatches queued executions onto at most concurrency workers and handles
// their results one at a time, until nothing is queued or running.
func (x *run) loop(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	x.cancel = cancel

	results := make(chan result)
	inflight := 0
	for {
		for inflight < x.r.concurrency && len(x.queue) > 0 && x.err == nil && ctx.Err() == nil {
			t := x.queue[0]
			x.queue = x.queue[1:]
			if x.dispatch(ctx, t, results) {
				inflight++
			}
		}
		if inflight == 0 {
			return
		}
		res := <-results
		inflight--
		x.handle(ctx, res)
	}
}

func (x *run) dispatch(ctx context.Context, t task, results chan<- result) bool {
	if !x.step() {
		return false
	}

	inputs, err := t.node.ResolveAttributes(x.st)
	name := domain.NodeExecutionInitiated
	if t.resumed {
		name = domain.NodeExecutionResumed
	}
	x.emitNode(ctx, name, t, domain.EventBody{Inputs: inputs})
	if err != nil {
		x.reject(ctx, t, &domain.NodeError{NodeID: t.node.ID(), Node: t.node.Name, Code: domain.CodeInvalidInputs, Err: err}, "")
		return false
	}

	go x.execute(ctx, t, inputs, results)
	return true
}

func (x *run) step() bool {
	var steps int
	x.st.UpdateRun(func(ri *state.RunInfo) {
		ri.Steps++
		steps = ri.Steps
	})
	if limit := x.r.maxSteps; limit > 0 && steps > limit {
		x.fail(&runError{code: domain.CodeMaxStepsExceeded, err: fmt.Errorf("%w: %d", ErrMaxStepsExceeded, limit)})
		return false
	}
	return true
}

func (x *run) execute(ctx context.Context, t task, inputs map[string]any, results chan<- result) {
	res := result{task: t}
	defer func() {
		if p := recover(); p != nil {
			res.outputs = nil
			res.err = fmt.Errorf("panic: %v", p)
			res.stack = string(debug.Stack())
		}
		results <- res
	}()

	fn := t.node.Run
	if fn == nil {
		return
	}
	if len(x.r.middleware) > 0 {
		fn = Chain(x.r.middleware...)(fn)
	}
	logger := x.logger.With("node", t.node.Name, "execution_id", t.id)
	ex := graph.NewExecution(t.node, t.id, x.st, inputs, logger, graph.Hooks{
		Stream: func(name string, v any) {
			x.stream(ctx, t, name, v)
		},
		RunWorkflow: func(ctx context.Context, wf *graph.Workflow, in map[string]any) (map[string]any, error) {
			return x.subworkflow(ctx, t, wf, in)
		},
	})
	res.outputs, res.err = fn(ctx, ex)
}

func (x *run) handle(ctx context.Context, res result) {
	var awaiting *domain.AwaitingInputError
	switch {
	case errors.As(res.err, &awaiting):
		x.paused = append(x.paused, state.PausedExecution{Node: res.node.ID(), Execution: res.id, Key: awaiting.Key})
		x.emitNode(ctx, domain.NodeExecutionPaused, res.task, domain.EventBody{AwaitingKey: awaiting.Key})
		x.logger.Info("execution paused", "node", res.node.Name, "key", awaiting.Key)
	case res.err != nil:
		x.reject(ctx, res.task, res.err, res.stack)
	default:
		x.fulfill(ctx, res.task, res.outputs)
	}
}

func (x *run) fulfill(ctx context.Context, t task, produced map[string]any) {
	node := t.node.ID()
	var outputs map[string]any
	err := x.st.Atomic(func() error {
		if hasDescriptorOutputs(t.node) {
			x.st.SetNodeOutputs(node, produced)
		}
		all, err := t.node.ResolveOutputs(x.st, produced)
		if err != nil {
			return err
		}
		outputs = all
		x.st.SetNodeOutputs(node, all)
		x.st.Cache().FulfillNodeExecution(node, t.id)
		return nil
	})
	if err != nil {
		x.reject(ctx, t, &domain.NodeError{NodeID: node, Node: t.node.Name, Code: domain.CodeNodeExecution, Err: err}, "")
		return
	}
	x.emitNode(ctx, domain.NodeExecutionFulfilled, t, domain.EventBody{Outputs: outputs})

	port, err := t.node.SelectPort(x.st)
	if err != nil {
		x.fail(&runError{code: domain.CodeInternal, err: fmt.Errorf("node %s: %w", t.node.Name, err)})
		return
	}
	x.fanOut(t, port)
}

// fanOut declares the whole fan-out to the cache, then queues every target of
// the port before trying to start any of them.
func (x *run) fanOut(t task, port graph.Port) {
	targets := x.wf.Targets(port)
	classes := make([]domain.NodeID, len(targets))
	for i, n := range targets {
		classes[i] = n.ID()
	}
	x.st.Cache().NoteFanout(t.id, classes)

	ids := make([]domain.ExecutionID, len(targets))
	for i, n := range targets {
		ids[i] = n.Trigger().Queue(x.st, x.wf.Dependencies(n), t.id)
	}
	for i, n := range targets {
		x.tryStart(n, ids[i])
	}
	x.recheckWaiting()
}

func (x *run) tryStart(n *graph.Node, id domain.ExecutionID) bool {
	if n.Trigger().TryInitiate(x.st, x.wf.Dependencies(n), id) {
		x.queue = append(x.queue, task{node: n, id: id})
		return true
	}
	if n.MergeBehavior() == domain.AwaitAttributes && !x.st.Cache().IsNodeExecutionInitiated(id) {
		x.waiting = append(x.waiting, task{node: n, id: id})
	}
	return false
}

// recheckWaiting retries every AWAIT_ATTRIBUTES execution whose attributes did
// not resolve yet.
func (x *run) recheckWaiting() {
	if len(x.waiting) == 0 {
		return
	}
	pending := x.waiting
	x.waiting = nil
	for _, w := range pending {
		x.tryStart(w.node, w.id)
	}
}

func (x *run) reject(ctx context.Context, t task, err error, stack string) {
	nerr := asNodeError(t.node, err)
	x.st.Cache().RejectNodeExecution(t.node.ID(), t.id)
	info := errorInfo(nerr)
	info.Stacktrace = stack
	x.emitNode(ctx, domain.NodeExecutionRejected, t, domain.EventBody{Error: info})
	x.fail(nerr)
}

// fail records the first error of the run and stops the remaining workers.
func (x *run) fail(err error) {
	if x.err == nil {
		x.err = err
		x.logger.Warn("run failed", "error", err)
	}
	if x.cancel != nil {
		x.cancel()
	}
}

func (x *run) finish(ctx context.Context) (*Result, error) {
	res := &Result{TraceID: x.traceID, SpanID: x.span, State: x.st}

	err := x.err
	if err == nil && ctx.Err() != nil {
		err = &runError{code: domain.CodeCanceled, err: ctx.Err()}
	}
	if err != nil {
		return x.rejectRun(ctx, res, err)
	}

	if len(x.paused) > 0 {
		res.Status = state.RunPaused
		res.Paused = slices.Clone(x.paused)
		waiting := x.waitingRecords()
		x.st.UpdateRun(func(ri *state.RunInfo) {
			ri.Status = state.RunPaused
			ri.Paused = slices.Clone(x.paused)
			ri.Waiting = waiting
		})
		x.emitWorkflow(ctx, domain.WorkflowExecutionPaused, domain.EventBody{AwaitingKey: x.paused[0].Key})
		x.logger.Info("run paused", "paused", len(x.paused))
		return res, nil
	}

	outputs, err := x.resolveOutputs()
	if err != nil {
		return x.rejectRun(ctx, res, &runError{code: domain.CodeInternal, err: err})
	}
	if len(x.waiting) > 0 {
		x.logger.Debug("run ended with executions still waiting for attributes", "waiting", len(x.waiting))
	}
	res.Status = state.RunFulfilled
	res.Outputs = outputs
	x.st.UpdateRun(func(ri *state.RunInfo) {
		ri.Status = state.RunFulfilled
		ri.Waiting = nil
	})
	x.emitWorkflow(ctx, domain.WorkflowExecutionFulfilled, domain.EventBody{Outputs: outputs})
	x.logger.Debug("run fulfilled")
	return res, nil
}

func (x *run) rejectRun(ctx context.Context, res *Result, err error) (*Result, error) {
	res.Status = state.RunRejected
	x.st.UpdateRun(func(ri *state.RunInfo) {
		ri.Status = state.RunRejected
		ri.Error = err.Error()
		ri.Paused = nil
		ri.Waiting = nil
	})
	x.emitWorkflow(ctx, domain.WorkflowExecutionRejected, domain.EventBody{Error: errorInfo(err)})
	return res, fmt.Errorf("workflow %s rejected: %w", x.wf.Name, err)
}

func (x *run) waitingRecords() []state.PausedExecution {
	var out []state.PausedExecution
	for _, w := range x.waiting {
		out = append(out, state.PausedExecution{Node: w.node.ID(), Execution: w.id})
	}
	return out
}

// resolveOutputs resolves the workflow outputs. Outputs still unresolved at the
// end of a run are left out.
func (x *run) resolveOutputs() (map[string]any, error) {
	out := make(map[string]any, len(x.wf.Outputs))
	for _, o := range x.wf.Outputs {
		v, err := o.Value.Resolve(x.st)
		if errors.Is(err, domain.ErrUnresolved) {
			x.logger.Warn("workflow output unresolved", "output", o.Name, "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", o.Name, err)
		}
		out[o.Name] = v
	}
	return out, nil
}

func (x *run) subworkflow(ctx context.Context, t task, wf *graph.Workflow, inputs map[string]any) (map[string]any, error) {
	child := state.New(state.WithParent(x.st), state.WithLogger(x.r.logger))
	ctx = withFrame(ctx, frame{
		traceID: x.traceID,
		parent:  domain.NodeParent(t.id, t.node.ID(), t.node.Name, x.frame),
	})
	res, err := x.r.Run(ctx, wf, child, inputs)
	if err != nil {
		return nil, err
	}
	if res.Status == state.RunPaused {
		// The nested run starts over on resume; its external inputs are read
		// through the parent State.
		return nil, &domain.AwaitingInputError{Key: res.Paused[0].Key}
	}
	return res.Outputs, nil
}

func hasDescriptorOutputs(n *graph.Node) bool {
	return slices.ContainsFunc(n.Outputs, func(o graph.Output) bool { return o.Value != nil })
}
