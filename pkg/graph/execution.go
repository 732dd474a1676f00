package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/loom/internal/logging"
	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/state"
)

// Hooks connect an Execution to the runner driving it.
type Hooks struct {
	// Stream publishes an incremental output.
	Stream func(name string, value any)
	// RunWorkflow executes a nested workflow on a child State.
	RunWorkflow func(ctx context.Context, wf *Workflow, inputs map[string]any) (map[string]any, error)
}

// Execution is what a NodeFunc sees of the firing it serves.
type Execution struct {
	Node   *Node
	ID     domain.ExecutionID
	State  *state.State
	Inputs map[string]any
	Logger *slog.Logger

	hooks Hooks
}

// NewExecution builds the execution handed to a NodeFunc.
func NewExecution(node *Node, id domain.ExecutionID, st *state.State, inputs map[string]any, logger *slog.Logger, hooks Hooks) *Execution {
	if logger == nil {
		logger = logging.NewNop()
	}
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &Execution{Node: node, ID: id, State: st, Inputs: inputs, Logger: logger, hooks: hooks}
}

// Input returns one resolved attribute.
func (e *Execution) Input(name string) (any, bool) {
	v, ok := e.Inputs[name]
	return v, ok
}

// Param returns one static node parameter.
func (e *Execution) Param(name string) (any, bool) {
	v, ok := e.Node.Params[name]
	return v, ok
}

// Stream publishes an incremental output while the node is still running.
func (e *Execution) Stream(name string, value any) {
	if e.hooks.Stream != nil {
		e.hooks.Stream(name, value)
	}
}

// ExternalInput returns the value supplied for key, or a *domain.AwaitingInputError
// the NodeFunc should return to pause until the value is supplied.
func (e *Execution) ExternalInput(key string) (any, error) {
	if v, ok := e.State.ExternalInput(key); ok {
		return v, nil
	}
	return nil, &domain.AwaitingInputError{Key: key}
}

// RunWorkflow executes wf as a nested run and returns its outputs.
func (e *Execution) RunWorkflow(ctx context.Context, wf *Workflow, inputs map[string]any) (map[string]any, error) {
	if e.hooks.RunWorkflow == nil {
		return nil, errors.New("nested workflows are not supported by this runner")
	}
	if wf == nil {
		return nil, fmt.Errorf("node %s: nil workflow", e.Node.Name)
	}
	return e.hooks.RunWorkflow(ctx, wf, inputs)
}

// SubworkflowNode builds a node that runs wf with its resolved attributes as
// workflow inputs and exposes the nested workflow outputs as its own outputs.
func SubworkflowNode(name string, wf *Workflow, inputs map[string]Descriptor) *Node {
	return &Node{
		Name:       name,
		Kind:       "workflow",
		Attributes: inputs,
		Workflow:   wf,
		Run: func(ctx context.Context, ex *Execution) (map[string]any, error) {
			return ex.RunWorkflow(ctx, ex.Node.Workflow, ex.Inputs)
		},
	}
}
