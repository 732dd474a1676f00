package state_test

import (
	"testing"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersisted_JSONRoundTrip(t *testing.T) {
	st := state.New()
	require.NoError(t, st.Set("greeting", "hi"))
	st.SetNodeOutput(nodeA, "out", "value")

	c := st.Cache()
	a := root(c, nodeA)
	a2, _ := run(c, nodeA, []domain.NodeID{nodeA}, domain.AwaitAny, a)
	pending := c.QueueNodeExecution(nodeM, []domain.NodeID{nodeA, nodeB}, domain.AwaitAll, a2)

	data, err := st.Snapshot().Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"node_executions_fulfilled"`)
	assert.Contains(t, string(data), `"dependencies_invoked"`)

	p, err := state.UnmarshalPersisted(data)
	require.NoError(t, err)
	restored, err := state.Restore(p)
	require.NoError(t, err)

	assert.Equal(t, st.ID(), restored.ID())
	assert.Equal(t, []domain.ExecutionID{a2, a}, restored.Cache().Fulfilled(nodeA))
	assert.Equal(t, 2, restored.ExecutionCount(nodeA))
	assert.True(t, restored.Cache().IsQueued(nodeM, pending))
	assert.False(t, restored.Cache().TryInitiate(nodeA, a2))

	// Scheduling continues where it left off: the pending AWAIT_ALL execution completes.
	b := root(restored.Cache(), nodeB)
	got := restored.Cache().QueueNodeExecution(nodeM, []domain.NodeID{nodeA, nodeB}, domain.AwaitAll, b)
	assert.Equal(t, pending, got)
	assert.True(t, restored.Cache().TryInitiate(nodeM, got))

	v, ok := restored.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "hi", v)
}

func TestRestore_DropsUnknownNodes(t *testing.T) {
	st := state.New()
	c := st.Cache()
	a := root(c, nodeA)
	b, _ := run(c, nodeB, nil, domain.AwaitAny, a)
	st.SetNodeOutput(nodeA, "out", 1)
	st.SetNodeOutput(nodeB, "out", 2)

	restored, err := state.Restore(st.Snapshot(), state.WithKnownNodes(nodeB))
	require.NoError(t, err)

	assert.Equal(t, 0, restored.ExecutionCount(nodeA))
	assert.Equal(t, 1, restored.ExecutionCount(nodeB))
	_, known := restored.Cache().NodeOf(a)
	assert.False(t, known)
	assert.Empty(t, restored.Cache().DependenciesInvoked(b), "invokers of dropped nodes are forgotten")
	assert.Empty(t, restored.NodeOutputs(nodeA))
	assert.Equal(t, map[string]any{"out": 2}, restored.NodeOutputs(nodeB))
}

func TestRestore_Nil(t *testing.T) {
	_, err := state.Restore(nil)
	assert.Error(t, err)
}
