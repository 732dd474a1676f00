package state

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/loom/internal/logging"
	"github.com/aretw0/loom/pkg/domain"
)

// Queue decisions, reported in debug logs.
const (
	decisionRoot           = "root"
	decisionFresh          = "fresh"
	decisionAwaitPending   = "await_all_pending"
	decisionAwaitReady     = "await_all_ready"
	decisionForkCollapse   = "fork_collapse"
	decisionForkSuppressed = "fork_suppressed"
	decisionLoop           = "loop"
	decisionStraight       = "straight"
)

// ExecutionCache is the dependency scheduler of one run. It records which
// execution invoked which, which executions were initiated, fulfilled or
// rejected, which AWAIT_ALL executions are still waiting for dependencies and
// which forks were already collapsed by an AWAIT_ANY node.
//
// Decisions depend only on the declared dependencies and the recorded
// invocation history.
type ExecutionCache struct {
	mu     sync.Mutex
	sink   *State
	logger *slog.Logger

	executionNodes      map[domain.ExecutionID]domain.NodeID
	dependenciesInvoked map[domain.ExecutionID][]domain.ExecutionID
	initiated           map[domain.NodeID][]domain.ExecutionID
	initiatedSet        map[domain.ExecutionID]struct{}
	fulfilled           map[domain.NodeID][]domain.ExecutionID // oldest first
	rejected            map[domain.NodeID][]domain.ExecutionID
	queued              map[domain.NodeID][]domain.ExecutionID
	forkCollapses       map[domain.ExecutionID]map[domain.NodeID]domain.ExecutionID

	// fanout is derived from dependenciesInvoked: invoker -> downstream classes.
	fanout map[domain.ExecutionID]map[domain.NodeID]struct{}
}

// NewExecutionCache creates a cache that is not attached to a State.
func NewExecutionCache() *ExecutionCache {
	return newExecutionCache(nil, logging.NewNop())
}

func newExecutionCache(sink *State, logger *slog.Logger) *ExecutionCache {
	c := &ExecutionCache{sink: sink, logger: logger}
	c.reset()
	return c
}

func (c *ExecutionCache) reset() {
	c.executionNodes = make(map[domain.ExecutionID]domain.NodeID)
	c.dependenciesInvoked = make(map[domain.ExecutionID][]domain.ExecutionID)
	c.initiated = make(map[domain.NodeID][]domain.ExecutionID)
	c.initiatedSet = make(map[domain.ExecutionID]struct{})
	c.fulfilled = make(map[domain.NodeID][]domain.ExecutionID)
	c.rejected = make(map[domain.NodeID][]domain.ExecutionID)
	c.queued = make(map[domain.NodeID][]domain.ExecutionID)
	c.forkCollapses = make(map[domain.ExecutionID]map[domain.NodeID]domain.ExecutionID)
	c.fanout = make(map[domain.ExecutionID]map[domain.NodeID]struct{})
}

// QueueNodeExecution returns the execution of node that the invocation by
// invokedBy belongs to. A nil invokedBy is a root invocation and always gets a
// fresh execution.
//
//   - AWAIT_ATTRIBUTES: a fresh execution per invocation.
//   - AWAIT_ALL: the oldest pending execution not yet invoked by the invoker's
//     class, or a new one. It leaves the queue once every dependency class invoked it.
//   - AWAIT_ANY: the invoker lineage is walked back to the previous execution
//     of node. Forks found on the way are collapsed for node on the first
//     arrival; later arrivals through a collapsed fork get the collapsing
//     execution back, which is already initiated. Walks without forks (loops,
//     straight lines) get a fresh execution.
//
// An invalid behavior panics with domain.ErrInvalidMergeBehavior.
func (c *ExecutionCache) QueueNodeExecution(node domain.NodeID, deps []domain.NodeID, behavior domain.MergeBehavior, invokedBy domain.ExecutionID) domain.ExecutionID {
	if !behavior.Valid() {
		panic(fmt.Errorf("%w: %q", domain.ErrInvalidMergeBehavior, behavior))
	}

	c.mu.Lock()
	var id domain.ExecutionID
	var decision string
	switch {
	case invokedBy == domain.NilExecution:
		id, decision = c.allocLocked(node), decisionRoot
	case behavior == domain.AwaitAttributes:
		id, decision = c.allocLocked(node), decisionFresh
		c.recordLocked(id, invokedBy)
	case behavior == domain.AwaitAll:
		id, decision = c.queueAllLocked(node, deps, invokedBy)
	default:
		id, decision = c.queueAnyLocked(node, invokedBy)
	}
	after := c.changedLocked()
	c.mu.Unlock()
	after()

	c.logger.Debug("queued node execution",
		"node", node, "execution", id, "invoked_by", invokedBy,
		"merge", behavior, "decision", decision)
	return id
}

// NoteFanout declares every node class invokedBy is about to invoke. Call it
// before queueing the targets of one port: an AWAIT_ANY target queued first
// then already sees invokedBy as a fork, even when it is itself one of the
// branches. Fan-out is derived bookkeeping and records no delta.
func (c *ExecutionCache) NoteFanout(invokedBy domain.ExecutionID, targets []domain.NodeID) {
	if invokedBy == domain.NilExecution || len(targets) < 2 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, class := range targets {
		c.noteFanoutLocked(invokedBy, class)
	}
}

func (c *ExecutionCache) queueAllLocked(node domain.NodeID, deps []domain.NodeID, invokedBy domain.ExecutionID) (domain.ExecutionID, string) {
	class := c.classOfLocked(invokedBy)

	id := domain.NilExecution
	for _, pending := range c.queued[node] {
		if _, seen := c.invokerClassesLocked(pending)[class]; !seen {
			id = pending
			break
		}
	}
	if id == domain.NilExecution {
		id = c.allocLocked(node)
		c.queued[node] = append(c.queued[node], id)
	}
	c.recordLocked(id, invokedBy)

	classes := c.invokerClassesLocked(id)
	for _, d := range deps {
		if _, ok := classes[d]; !ok {
			return id, decisionAwaitPending
		}
	}
	c.queued[node] = slices.DeleteFunc(c.queued[node], func(e domain.ExecutionID) bool { return e == id })
	if len(c.queued[node]) == 0 {
		delete(c.queued, node)
	}
	return id, decisionAwaitReady
}

func (c *ExecutionCache) queueAnyLocked(node domain.NodeID, invokedBy domain.ExecutionID) (domain.ExecutionID, string) {
	forks, hitTarget := c.walkLocked(node, invokedBy)

	for _, f := range forks {
		if by, ok := c.forkCollapses[f][node]; ok {
			c.recordLocked(by, invokedBy)
			return by, decisionForkSuppressed
		}
	}

	id := c.allocLocked(node)
	c.recordLocked(id, invokedBy)
	if len(forks) > 0 {
		for _, f := range forks {
			if c.forkCollapses[f] == nil {
				c.forkCollapses[f] = make(map[domain.NodeID]domain.ExecutionID)
			}
			c.forkCollapses[f][node] = id
		}
		return id, decisionForkCollapse
	}
	if hitTarget {
		return id, decisionLoop
	}
	return id, decisionStraight
}

// walkLocked follows dependenciesInvoked backward from the invoker and collects
// fork executions (executions that invoked two or more distinct node classes).
// A path stops, inclusively, at the previous execution of target, and stops,
// exclusively, when it meets a node class already on the path: that execution
// belongs to an earlier loop iteration.
func (c *ExecutionCache) walkLocked(target domain.NodeID, from domain.ExecutionID) (forks []domain.ExecutionID, hitTarget bool) {
	visited := make(map[domain.ExecutionID]bool)
	onPath := make(map[domain.NodeID]int)

	var visit func(id domain.ExecutionID)
	visit = func(id domain.ExecutionID) {
		if visited[id] {
			return
		}
		class := c.classOfLocked(id)
		if onPath[class] > 0 {
			return
		}
		visited[id] = true

		if len(c.fanout[id]) >= 2 {
			forks = append(forks, id)
		}
		if class == target {
			hitTarget = true
			return
		}

		onPath[class]++
		for _, parent := range c.dependenciesInvoked[id] {
			visit(parent)
		}
		onPath[class]--
	}
	visit(from)
	return forks, hitTarget
}

func (c *ExecutionCache) allocLocked(node domain.NodeID) domain.ExecutionID {
	id := domain.NewExecutionID()
	c.executionNodes[id] = node
	return id
}

func (c *ExecutionCache) recordLocked(id, invokedBy domain.ExecutionID) {
	if !slices.Contains(c.dependenciesInvoked[id], invokedBy) {
		c.dependenciesInvoked[id] = append(c.dependenciesInvoked[id], invokedBy)
	}
	c.noteFanoutLocked(invokedBy, c.executionNodes[id])
}

func (c *ExecutionCache) noteFanoutLocked(invoker domain.ExecutionID, class domain.NodeID) {
	set, ok := c.fanout[invoker]
	if !ok {
		set = make(map[domain.NodeID]struct{})
		c.fanout[invoker] = set
	}
	set[class] = struct{}{}
}

// classOfLocked returns the node class of an execution. Executions the cache
// never allocated (invokers from another run) are their own class.
func (c *ExecutionCache) classOfLocked(id domain.ExecutionID) domain.NodeID {
	if node, ok := c.executionNodes[id]; ok {
		return node
	}
	return domain.NodeID(id.String())
}

func (c *ExecutionCache) invokerClassesLocked(id domain.ExecutionID) map[domain.NodeID]struct{} {
	classes := make(map[domain.NodeID]struct{})
	for _, inv := range c.dependenciesInvoked[id] {
		classes[c.classOfLocked(inv)] = struct{}{}
	}
	return classes
}

// IsNodeExecutionInitiated reports whether the execution was ever initiated.
func (c *ExecutionCache) IsNodeExecutionInitiated(id domain.ExecutionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.initiatedSet[id]
	return ok
}

// IsQueued reports whether an AWAIT_ALL execution still waits for dependencies.
func (c *ExecutionCache) IsQueued(node domain.NodeID, id domain.ExecutionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Contains(c.queued[node], id)
}

// InitiateNodeExecution marks the execution initiated. Marks are never removed.
func (c *ExecutionCache) InitiateNodeExecution(node domain.NodeID, id domain.ExecutionID) {
	c.mu.Lock()
	changed := c.initiateLocked(node, id)
	after := func() {}
	if changed {
		after = c.changedLocked()
	}
	c.mu.Unlock()
	after()
}

// TryInitiate atomically checks that the execution is neither initiated nor
// queued and marks it initiated. Exactly one of several concurrent callers wins.
func (c *ExecutionCache) TryInitiate(node domain.NodeID, id domain.ExecutionID) bool {
	c.mu.Lock()
	if _, done := c.initiatedSet[id]; done || slices.Contains(c.queued[node], id) {
		c.mu.Unlock()
		return false
	}
	c.initiateLocked(node, id)
	after := c.changedLocked()
	c.mu.Unlock()
	after()
	return true
}

func (c *ExecutionCache) initiateLocked(node domain.NodeID, id domain.ExecutionID) bool {
	if _, done := c.initiatedSet[id]; done {
		return false
	}
	c.initiatedSet[id] = struct{}{}
	c.initiated[node] = append(c.initiated[node], id)
	if _, ok := c.executionNodes[id]; !ok {
		c.executionNodes[id] = node
	}
	return true
}

// FulfillNodeExecution pushes the execution onto the node's fulfilled stack.
func (c *ExecutionCache) FulfillNodeExecution(node domain.NodeID, id domain.ExecutionID) {
	c.mu.Lock()
	c.fulfilled[node] = append(c.fulfilled[node], id)
	after := c.changedLocked()
	c.mu.Unlock()
	after()
}

// RejectNodeExecution records a failed execution.
func (c *ExecutionCache) RejectNodeExecution(node domain.NodeID, id domain.ExecutionID) {
	c.mu.Lock()
	c.rejected[node] = append(c.rejected[node], id)
	after := c.changedLocked()
	c.mu.Unlock()
	after()
}

// ExecutionCount returns how many executions of node were fulfilled.
func (c *ExecutionCache) ExecutionCount(node domain.NodeID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fulfilled[node])
}

// LastFulfilled returns the top of the node's fulfilled stack.
func (c *ExecutionCache) LastFulfilled(node domain.NodeID) (domain.ExecutionID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stack := c.fulfilled[node]
	if len(stack) == 0 {
		return domain.NilExecution, false
	}
	return stack[len(stack)-1], true
}

// Fulfilled returns the fulfilled executions of node, most recent first.
func (c *ExecutionCache) Fulfilled(node domain.NodeID) []domain.ExecutionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return reversed(c.fulfilled[node])
}

// Initiated returns the initiated executions of node in initiation order.
func (c *ExecutionCache) Initiated(node domain.NodeID) []domain.ExecutionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.initiated[node])
}

// Rejected returns the rejected executions of node.
func (c *ExecutionCache) Rejected(node domain.NodeID) []domain.ExecutionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.rejected[node])
}

// Queued returns the AWAIT_ALL executions of node still waiting for dependencies.
func (c *ExecutionCache) Queued(node domain.NodeID) []domain.ExecutionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.queued[node])
}

// DependenciesInvoked returns the executions that invoked id.
func (c *ExecutionCache) DependenciesInvoked(id domain.ExecutionID) []domain.ExecutionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.dependenciesInvoked[id])
}

// NodeOf returns the node class of an execution.
func (c *ExecutionCache) NodeOf(id domain.ExecutionID) (domain.NodeID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.executionNodes[id]
	return node, ok
}

// Replace swaps the whole cache content for p and records the change.
func (c *ExecutionCache) Replace(p PersistedCache) {
	c.mu.Lock()
	c.loadLocked(p, nil)
	after := c.changedLocked()
	c.mu.Unlock()
	after()
}

// changedLocked records a cache change on the owning State and returns the
// flush to run once the cache lock is released. The delivered delta is a full
// dump of the cache taken when its batch is flushed.
func (c *ExecutionCache) changedLocked() func() {
	if c.sink == nil || !c.sink.enqueueCacheChange() {
		return func() {}
	}
	return c.sink.flush
}

func reversed(ids []domain.ExecutionID) []domain.ExecutionID {
	out := slices.Clone(ids)
	slices.Reverse(out)
	return out
}
