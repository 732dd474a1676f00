package runner

import (
	"context"
	"errors"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/graph"
	"github.com/aretw0/loom/pkg/state"
)

// runError is a workflow-level failure that is not attributable to one node.
type runError struct {
	code string
	err  error
}

func (e *runError) Error() string { return e.err.Error() }
func (e *runError) Unwrap() error { return e.err }

func asNodeError(n *graph.Node, err error) *domain.NodeError {
	var nerr *domain.NodeError
	if errors.As(err, &nerr) {
		return nerr
	}
	code := domain.CodeNodeExecution
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = domain.CodeCanceled
	}
	return &domain.NodeError{NodeID: n.ID(), Node: n.Name, Code: code, Err: err}
}

func errorInfo(err error) *domain.ErrorInfo {
	info := &domain.ErrorInfo{Message: err.Error(), Code: domain.CodeInternal}
	var nerr *domain.NodeError
	var rerr *runError
	switch {
	case errors.As(err, &nerr):
		info.Code = nerr.Code
		if info.Code == "" {
			info.Code = domain.CodeNodeExecution
		}
		info.RawData = nerr.RawData
	case errors.As(err, &rerr):
		info.Code = rerr.code
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		info.Code = domain.CodeCanceled
	}
	return info
}

// emit validates the event against the run lifecycle and hands it to every
// sink. Events breaking the lifecycle are dropped.
func (x *run) emit(ctx context.Context, name domain.EventName, span domain.ExecutionID, parent *domain.ParentContext, body domain.EventBody) {
	e := x.r.redactor.Apply(domain.NewEvent(name, x.traceID, span, parent, body))

	x.emitMu.Lock()
	defer x.emitMu.Unlock()
	if err := x.lc.Apply(e); err != nil {
		x.logger.Warn("event dropped", "event", name, "error", err)
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, s := range x.r.sinks {
		s.Emit(ctx, e)
	}
}

func (x *run) emitWorkflow(ctx context.Context, name domain.EventName, body domain.EventBody) {
	body.WorkflowID = x.wf.ID()
	body.WorkflowName = x.wf.Name
	x.emit(ctx, name, x.span, x.parent, body)
}

func (x *run) emitNode(ctx context.Context, name domain.EventName, t task, body domain.EventBody) {
	body.WorkflowID = x.wf.ID()
	body.WorkflowName = x.wf.Name
	body.NodeID = t.node.ID()
	body.NodeName = t.node.Name
	x.emit(ctx, name, t.id, x.frame, body)
}

func (x *run) stream(ctx context.Context, t task, name string, v any) {
	out := &domain.StreamedOutput{Name: name, Value: v}
	x.emitNode(ctx, domain.NodeExecutionStreaming, t, domain.EventBody{Output: out})
	x.emitWorkflow(ctx, domain.WorkflowExecutionStreaming, domain.EventBody{
		NodeID:   t.node.ID(),
		NodeName: t.node.Name,
		Output:   out,
	})
}

// watchSnapshots publishes a snapshotted event per delta batch while the run is
// live, chaining any callback already registered. The event carries the full
// persisted State next to the batch. It returns the undo.
func (x *run) watchSnapshots(ctx context.Context) func() {
	if !x.r.snapshots {
		return func() {}
	}
	prev := x.st.SnapshotFunc()
	x.st.SetSnapshotFunc(func(s *state.State, deltas []domain.StateDelta) {
		if prev != nil {
			prev(s, deltas)
		}
		x.emitWorkflow(ctx, domain.WorkflowExecutionSnapshotted, domain.EventBody{
			State:  s.Snapshot(),
			Deltas: deltas,
		})
	})
	return func() { x.st.SetSnapshotFunc(prev) }
}
