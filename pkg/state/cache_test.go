package state_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nodeA = domain.NewNodeID("test", "A")
	nodeB = domain.NewNodeID("test", "B")
	nodeC = domain.NewNodeID("test", "C")
	nodeF = domain.NewNodeID("test", "Fork")
	nodeM = domain.NewNodeID("test", "Merge")
	left  = domain.NewNodeID("test", "Left")
	right = domain.NewNodeID("test", "Right")
)

func root(c *state.ExecutionCache, node domain.NodeID) domain.ExecutionID {
	id := c.QueueNodeExecution(node, nil, domain.AwaitAny, domain.NilExecution)
	c.InitiateNodeExecution(node, id)
	c.FulfillNodeExecution(node, id)
	return id
}

// run queues node from invokedBy and, when it may start, initiates and fulfills it.
func run(c *state.ExecutionCache, node domain.NodeID, deps []domain.NodeID, m domain.MergeBehavior, invokedBy domain.ExecutionID) (domain.ExecutionID, bool) {
	id := c.QueueNodeExecution(node, deps, m, invokedBy)
	if !c.TryInitiate(node, id) {
		return id, false
	}
	c.FulfillNodeExecution(node, id)
	return id, true
}

func TestExecutionCache_RootInvocations(t *testing.T) {
	c := state.NewExecutionCache()
	a := c.QueueNodeExecution(nodeA, nil, domain.AwaitAll, domain.NilExecution)
	b := c.QueueNodeExecution(nodeA, nil, domain.AwaitAll, domain.NilExecution)

	assert.NotEqual(t, a, b)
	assert.False(t, c.IsQueued(nodeA, a), "root invocations are never queued")
	assert.Empty(t, c.DependenciesInvoked(a))
}

func TestExecutionCache_Idempotency(t *testing.T) {
	c := state.NewExecutionCache()
	id := c.QueueNodeExecution(nodeA, nil, domain.AwaitAny, domain.NilExecution)

	require.False(t, c.IsNodeExecutionInitiated(id))
	require.True(t, c.TryInitiate(nodeA, id))
	for range 3 {
		assert.False(t, c.TryInitiate(nodeA, id))
		assert.True(t, c.IsNodeExecutionInitiated(id))
	}
	c.InitiateNodeExecution(nodeA, id)
	assert.Len(t, c.Initiated(nodeA), 1)
}

func TestExecutionCache_TryInitiateRace(t *testing.T) {
	c := state.NewExecutionCache()
	id := c.QueueNodeExecution(nodeA, nil, domain.AwaitAny, domain.NilExecution)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryInitiate(nodeA, id) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestExecutionCache_AwaitAllOrderIndependent(t *testing.T) {
	deps := []domain.NodeID{nodeA, nodeB, nodeC}
	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}

	for _, order := range orders {
		c := state.NewExecutionCache()
		invokers := []domain.ExecutionID{root(c, nodeA), root(c, nodeB), root(c, nodeC)}

		var ids []domain.ExecutionID
		for i, idx := range order {
			id := c.QueueNodeExecution(nodeM, deps, domain.AwaitAll, invokers[idx])
			ids = append(ids, id)
			if i < len(order)-1 {
				assert.True(t, c.IsQueued(nodeM, id), "order %v: still waiting after %d invocations", order, i+1)
				assert.False(t, c.TryInitiate(nodeM, id))
			}
		}

		assert.Equal(t, ids[0], ids[1], "order %v", order)
		assert.Equal(t, ids[0], ids[2], "order %v", order)
		assert.False(t, c.IsQueued(nodeM, ids[0]))
		assert.True(t, c.TryInitiate(nodeM, ids[0]))
		assert.ElementsMatch(t, invokers, c.DependenciesInvoked(ids[0]))
	}
}

func TestExecutionCache_AwaitAllSeparatesRounds(t *testing.T) {
	c := state.NewExecutionCache()
	deps := []domain.NodeID{nodeA, nodeB}
	a1, a2 := root(c, nodeA), root(c, nodeA)
	b1 := root(c, nodeB)

	first := c.QueueNodeExecution(nodeM, deps, domain.AwaitAll, a1)
	second := c.QueueNodeExecution(nodeM, deps, domain.AwaitAll, a2)
	assert.NotEqual(t, first, second, "the same class cannot satisfy one execution twice")
	assert.Equal(t, []domain.ExecutionID{first, second}, c.Queued(nodeM))

	got := c.QueueNodeExecution(nodeM, deps, domain.AwaitAll, b1)
	assert.Equal(t, first, got, "the oldest pending execution is completed first")
	assert.Equal(t, []domain.ExecutionID{second}, c.Queued(nodeM))
}

func TestExecutionCache_ForkCollapse(t *testing.T) {
	for _, name := range []string{"LeftFirst", "RightFirst"} {
		t.Run(name, func(t *testing.T) {
			c := state.NewExecutionCache()
			f := root(c, nodeF)

			// Both branches are queued before either runs.
			l := c.QueueNodeExecution(left, []domain.NodeID{nodeF}, domain.AwaitAny, f)
			r := c.QueueNodeExecution(right, []domain.NodeID{nodeF}, domain.AwaitAny, f)
			require.True(t, c.TryInitiate(left, l))
			require.True(t, c.TryInitiate(right, r))
			c.FulfillNodeExecution(left, l)
			c.FulfillNodeExecution(right, r)

			first, second := l, r
			if name == "RightFirst" {
				first, second = r, l
			}
			deps := []domain.NodeID{left, right}

			m1, fired := run(c, nodeM, deps, domain.AwaitAny, first)
			assert.True(t, fired)
			m2, fired := run(c, nodeM, deps, domain.AwaitAny, second)
			assert.False(t, fired, "a reconverging fork fires the merge once")
			assert.Equal(t, m1, m2)
			assert.Equal(t, 1, c.ExecutionCount(nodeM))
		})
	}
}

func TestExecutionCache_NestedForksCollapseOnce(t *testing.T) {
	c := state.NewExecutionCache()
	inner := domain.NewNodeID("test", "Inner")
	leaf1 := domain.NewNodeID("test", "Leaf1")
	leaf2 := domain.NewNodeID("test", "Leaf2")

	f := root(c, nodeF)
	i := c.QueueNodeExecution(inner, nil, domain.AwaitAny, f)
	r := c.QueueNodeExecution(right, nil, domain.AwaitAny, f)
	c.InitiateNodeExecution(inner, i)
	c.InitiateNodeExecution(right, r)
	l1 := c.QueueNodeExecution(leaf1, nil, domain.AwaitAny, i)
	l2 := c.QueueNodeExecution(leaf2, nil, domain.AwaitAny, i)

	deps := []domain.NodeID{leaf1, leaf2, right}
	_, fired := run(c, nodeM, deps, domain.AwaitAny, l1)
	assert.True(t, fired)
	_, fired = run(c, nodeM, deps, domain.AwaitAny, r)
	assert.False(t, fired)
	_, fired = run(c, nodeM, deps, domain.AwaitAny, l2)
	assert.False(t, fired)
	assert.Equal(t, 1, c.ExecutionCount(nodeM))
}

func TestExecutionCache_LoopRetrigger(t *testing.T) {
	// A -> B -> C -> A, three hops per iteration.
	c := state.NewExecutionCache()
	a := root(c, nodeA)

	const iterations = 4
	seen := map[domain.ExecutionID]bool{a: true}
	for range iterations - 1 {
		b, ok := run(c, nodeB, []domain.NodeID{nodeA}, domain.AwaitAny, a)
		require.True(t, ok)
		cc, ok := run(c, nodeC, []domain.NodeID{nodeB}, domain.AwaitAny, b)
		require.True(t, ok)
		next, ok := run(c, nodeA, []domain.NodeID{nodeC}, domain.AwaitAny, cc)
		require.True(t, ok, "each loop iteration fires again")
		assert.False(t, seen[next])
		seen[next] = true
		a = next
	}

	assert.Equal(t, iterations, c.ExecutionCount(nodeA))
	last, ok := c.LastFulfilled(nodeA)
	require.True(t, ok)
	assert.Equal(t, a, last)
	assert.Equal(t, a, c.Fulfilled(nodeA)[0], "fulfilled executions are most recent first")
}

func TestExecutionCache_ForkInsideLoop(t *testing.T) {
	// Fork fans out to Left and Right; Right loops back to Fork and Left feeds Merge.
	// Merge must fire once per Fork iteration.
	c := state.NewExecutionCache()
	f := root(c, nodeF)

	for i := range 3 {
		l := c.QueueNodeExecution(left, []domain.NodeID{nodeF}, domain.AwaitAny, f)
		r := c.QueueNodeExecution(right, []domain.NodeID{nodeF}, domain.AwaitAny, f)
		require.True(t, c.TryInitiate(left, l))
		require.True(t, c.TryInitiate(right, r))
		c.FulfillNodeExecution(left, l)
		c.FulfillNodeExecution(right, r)

		_, fired := run(c, nodeM, []domain.NodeID{left}, domain.AwaitAny, l)
		assert.True(t, fired, "iteration %d", i)

		next, fired := run(c, nodeF, []domain.NodeID{right}, domain.AwaitAny, r)
		require.True(t, fired, "iteration %d", i)
		f = next
	}
	assert.Equal(t, 3, c.ExecutionCount(nodeM))
	assert.Equal(t, 4, c.ExecutionCount(nodeF))
}

func TestExecutionCache_SelfLoop(t *testing.T) {
	c := state.NewExecutionCache()
	a := root(c, nodeA)
	for range 2 {
		next, fired := run(c, nodeA, []domain.NodeID{nodeA}, domain.AwaitAny, a)
		require.True(t, fired)
		a = next
	}
	assert.Equal(t, 3, c.ExecutionCount(nodeA))
}

func TestExecutionCache_AwaitAttributesFreshPerInvocation(t *testing.T) {
	c := state.NewExecutionCache()
	a := root(c, nodeA)

	first := c.QueueNodeExecution(nodeB, nil, domain.AwaitAttributes, a)
	second := c.QueueNodeExecution(nodeB, nil, domain.AwaitAttributes, a)
	assert.NotEqual(t, first, second)
	assert.Equal(t, []domain.ExecutionID{a}, c.DependenciesInvoked(first))
}

func TestExecutionCache_InvalidMergeBehaviorPanics(t *testing.T) {
	c := state.NewExecutionCache()
	assert.PanicsWithError(t, `invalid merge behavior: "AWAIT_SOME"`, func() {
		c.QueueNodeExecution(nodeA, nil, domain.MergeBehavior("AWAIT_SOME"), domain.NilExecution)
	})
}

func TestExecutionCache_Deterministic(t *testing.T) {
	// Replaying the same invocation sequence yields the same grouping of invocations.
	replay := func() []int {
		c := state.NewExecutionCache()
		f := root(c, nodeF)
		l, _ := run(c, left, nil, domain.AwaitAny, f)
		r, _ := run(c, right, nil, domain.AwaitAny, f)

		var ids []domain.ExecutionID
		for _, inv := range []domain.ExecutionID{l, r, l} {
			ids = append(ids, c.QueueNodeExecution(nodeM, []domain.NodeID{left, right}, domain.AwaitAll, inv))
		}
		for _, inv := range []domain.ExecutionID{r, l} {
			ids = append(ids, c.QueueNodeExecution(nodeC, nil, domain.AwaitAny, inv))
		}

		// Normalize execution ids to first-seen indexes.
		index := map[domain.ExecutionID]int{}
		var shape []int
		for _, id := range ids {
			if _, ok := index[id]; !ok {
				index[id] = len(index)
			}
			shape = append(shape, index[id])
		}
		return shape
	}

	first := replay()
	assert.Equal(t, []int{0, 0, 1, 2, 2}, first)
	assert.Equal(t, first, replay())
}

func TestExecutionCache_ForkWithDirectEdge(t *testing.T) {
	// Fork -> {Merge, Left}, Left -> Merge: one branch is the merge node itself.
	for _, name := range []string{"MergeQueuedFirst", "LeftQueuedFirst"} {
		t.Run(name, func(t *testing.T) {
			c := state.NewExecutionCache()
			f := root(c, nodeF)
			deps := []domain.NodeID{nodeF, left}
			c.NoteFanout(f, []domain.NodeID{nodeM, left})

			var m, l domain.ExecutionID
			if name == "MergeQueuedFirst" {
				m = c.QueueNodeExecution(nodeM, deps, domain.AwaitAny, f)
				l = c.QueueNodeExecution(left, []domain.NodeID{nodeF}, domain.AwaitAttributes, f)
			} else {
				l = c.QueueNodeExecution(left, []domain.NodeID{nodeF}, domain.AwaitAttributes, f)
				m = c.QueueNodeExecution(nodeM, deps, domain.AwaitAny, f)
			}
			require.True(t, c.TryInitiate(nodeM, m))
			require.True(t, c.TryInitiate(left, l))
			c.FulfillNodeExecution(nodeM, m)
			c.FulfillNodeExecution(left, l)

			again, fired := run(c, nodeM, deps, domain.AwaitAny, l)
			assert.False(t, fired, "the longer branch reaches a fork already collapsed")
			assert.Equal(t, m, again)
			assert.Equal(t, 1, c.ExecutionCount(nodeM))
		})
	}
}

func TestExecutionCache_NoteFanoutSingleTarget(t *testing.T) {
	// A lone target is no fork: a self-loop keeps firing.
	c := state.NewExecutionCache()
	a := root(c, nodeA)
	for range 3 {
		c.NoteFanout(a, []domain.NodeID{nodeA})
		next, fired := run(c, nodeA, []domain.NodeID{nodeA}, domain.AwaitAny, a)
		require.True(t, fired)
		a = next
	}
	assert.Equal(t, 4, c.ExecutionCount(nodeA))
}
