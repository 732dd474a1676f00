package graph

import (
	"errors"
	"fmt"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/state"
)

// Trigger is the merge policy of a node together with its readiness decision.
type Trigger struct {
	node     *Node
	behavior domain.MergeBehavior
}

// Behavior returns the merge behavior.
func (t Trigger) Behavior() domain.MergeBehavior { return t.behavior }

// ShouldInitiate reports whether execution id may start now. It has no side
// effects and returns false for every execution already initiated.
//
//   - AWAIT_ATTRIBUTES: every attribute resolves against st.
//   - AWAIT_ANY: nothing else to wait for.
//   - AWAIT_ALL: the execution left the queue.
func (t Trigger) ShouldInitiate(st *state.State, deps []domain.NodeID, id domain.ExecutionID) bool {
	cache := st.Cache()
	if cache.IsNodeExecutionInitiated(id) {
		return false
	}
	switch t.behavior {
	case domain.AwaitAttributes:
		return t.attributesResolve(st)
	case domain.AwaitAny:
		return true
	case domain.AwaitAll:
		return !cache.IsQueued(t.node.ID(), id)
	}
	panic(fmt.Errorf("%w: %q", domain.ErrInvalidMergeBehavior, t.behavior))
}

// TryInitiate is ShouldInitiate followed by marking the execution initiated,
// as one atomic step for the scheduling bookkeeping.
func (t Trigger) TryInitiate(st *state.State, deps []domain.NodeID, id domain.ExecutionID) bool {
	if !t.behavior.Valid() {
		panic(fmt.Errorf("%w: %q", domain.ErrInvalidMergeBehavior, t.behavior))
	}
	if t.behavior == domain.AwaitAttributes && !t.attributesResolve(st) {
		return false
	}
	return st.Cache().TryInitiate(t.node.ID(), id)
}

// Queue records the invocation of the node by invokedBy and returns the
// execution it belongs to.
func (t Trigger) Queue(st *state.State, deps []domain.NodeID, invokedBy domain.ExecutionID) domain.ExecutionID {
	return st.Cache().QueueNodeExecution(t.node.ID(), deps, t.behavior, invokedBy)
}

func (t Trigger) attributesResolve(st *state.State) bool {
	for _, d := range t.node.Attributes {
		// Broken expressions do not block readiness; they fail when the node runs.
		if _, err := d.Resolve(st); errors.Is(err, domain.ErrUnresolved) {
			return false
		}
	}
	return true
}
