package state

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/loom/internal/logging"
	"github.com/aretw0/loom/pkg/domain"
	"github.com/google/uuid"
)

// SnapshotFunc receives every batch of deltas recorded on a State.
// It runs outside the State lock and may read or mutate the State it is given;
// deltas recorded from inside the callback are delivered in a later batch.
type SnapshotFunc func(snapshot *State, deltas []domain.StateDelta)

// State is the mutable, per-run store of node outputs, inputs, user values and
// the execution cache. Every mutation is recorded as a StateDelta and forwarded
// to the registered SnapshotFunc unless a Quiet or Atomic scope is active.
//
// Scopes are State-wide: a Quiet scope opened by one worker also silences
// mutations made concurrently by other workers.
type State struct {
	mu        sync.Mutex
	id        uuid.UUID
	updatedAt time.Time
	clock     func() time.Time

	values         map[string]any
	nodeOutputs    map[domain.NodeID]map[string]any
	externalInputs map[string]any
	workflowInputs map[string]any
	run            RunInfo

	parent *State
	cache  *ExecutionCache
	root   *ObservedMap

	onSnapshot SnapshotFunc
	quiet      int
	atomic     int
	buffer     []domain.StateDelta
	pending    []domain.StateDelta
	flushing   bool

	// The execution cache is dumped lazily: a change leaves one cacheChanged
	// placeholder per batch, replaced by the dump when the batch is delivered.
	bufferCache  bool
	pendingCache bool

	logger *slog.Logger
}

// Option configures a State.
type Option func(*State)

// WithID sets the state identifier (a random one is used otherwise).
func WithID(id uuid.UUID) Option {
	return func(s *State) { s.id = id }
}

// WithParent links a nested run's State to the State of the run that spawned it.
func WithParent(parent *State) Option {
	return func(s *State) { s.parent = parent }
}

// WithSnapshotFunc registers the delta callback.
func WithSnapshotFunc(fn SnapshotFunc) Option {
	return func(s *State) { s.onSnapshot = fn }
}

// WithLogger sets the logger used by the State and its execution cache.
func WithLogger(logger *slog.Logger) Option {
	return func(s *State) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for UpdatedAt.
func WithClock(clock func() time.Time) Option {
	return func(s *State) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates an empty State.
func New(opts ...Option) *State {
	s := &State{
		id:             uuid.New(),
		clock:          func() time.Time { return time.Now().UTC() },
		values:         make(map[string]any),
		nodeOutputs:    make(map[domain.NodeID]map[string]any),
		externalInputs: make(map[string]any),
		workflowInputs: make(map[string]any),
		logger:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.updatedAt = s.clock()
	s.root = &ObservedMap{st: s}
	s.cache = newExecutionCache(s, s.logger)
	return s
}

// ID returns the state identifier.
func (s *State) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// UpdatedAt returns the time of the last mutation.
func (s *State) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Parent returns the State of the enclosing run, if any.
func (s *State) Parent() *State { return s.parent }

// Cache returns the execution cache scheduling this run.
func (s *State) Cache() *ExecutionCache { return s.cache }

// Values returns the observed root of the user value tree.
func (s *State) Values() *ObservedMap { return s.root }

// SetSnapshotFunc replaces the registered delta callback. A nil fn disables it.
func (s *State) SetSnapshotFunc(fn SnapshotFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSnapshot = fn
}

// SnapshotFunc returns the registered delta callback, if any.
func (s *State) SnapshotFunc() SnapshotFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onSnapshot
}

// Get returns a copy of the user value at a dotted path.
func (s *State) Get(path string) (any, bool) {
	parts, err := splitUserPath(path)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := lookup(s.values, parts)
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// Set assigns a user value at a dotted path, creating intermediate maps.
func (s *State) Set(path string, v any) error {
	parts, err := splitUserPath(path)
	if err != nil {
		return err
	}
	return s.mutate(func() (domain.StateDelta, error) {
		if err := assign(s.values, parts, copyValue(v)); err != nil {
			return domain.StateDelta{}, err
		}
		return domain.SetDelta(path, copyValue(v)), nil
	})
}

// Append appends v to the user list at a dotted path, creating it when missing.
func (s *State) Append(path string, v any) error {
	parts, err := splitUserPath(path)
	if err != nil {
		return err
	}
	return s.mutate(func() (domain.StateDelta, error) {
		if err := appendAt(s.values, parts, copyValue(v)); err != nil {
			return domain.StateDelta{}, err
		}
		return domain.AppendDelta(path, copyValue(v)), nil
	})
}

// SetNodeOutput records one output value of a node.
func (s *State) SetNodeOutput(node domain.NodeID, name string, v any) {
	_ = s.mutate(func() (domain.StateDelta, error) {
		outs, ok := s.nodeOutputs[node]
		if !ok {
			outs = make(map[string]any)
			s.nodeOutputs[node] = outs
		}
		outs[name] = copyValue(v)
		return domain.SetDelta(domain.JoinPath(domain.PathNodeOutputs, string(node), name), copyValue(v)), nil
	})
}

// SetNodeOutputs replaces every recorded output of a node in a single delta.
func (s *State) SetNodeOutputs(node domain.NodeID, outputs map[string]any) {
	_ = s.mutate(func() (domain.StateDelta, error) {
		s.nodeOutputs[node] = copyMap(outputs)
		return domain.SetDelta(domain.JoinPath(domain.PathNodeOutputs, string(node)), copyMap(outputs)), nil
	})
}

// NodeOutput returns a copy of one recorded output value.
func (s *State) NodeOutput(node domain.NodeID, name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.nodeOutputs[node][name]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// NodeOutputs returns a copy of every recorded output of a node.
func (s *State) NodeOutputs(node domain.NodeID) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.nodeOutputs[node])
}

// SetExternalInput records a value supplied from outside the run (resume inputs, approvals).
func (s *State) SetExternalInput(key string, v any) {
	_ = s.mutate(func() (domain.StateDelta, error) {
		s.externalInputs[key] = copyValue(v)
		return domain.SetDelta(domain.JoinPath(domain.PathExternalInputs, key), copyValue(v)), nil
	})
}

// ExternalInput looks a key up in this State, then in its parents.
func (s *State) ExternalInput(key string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		v, ok := cur.externalInputs[key]
		cur.mu.Unlock()
		if ok {
			return copyValue(v), true
		}
	}
	return nil, false
}

// SetWorkflowInput records one input of the workflow run.
func (s *State) SetWorkflowInput(key string, v any) {
	_ = s.mutate(func() (domain.StateDelta, error) {
		s.workflowInputs[key] = copyValue(v)
		return domain.SetDelta(domain.JoinPath(domain.PathWorkflowInputs, key), copyValue(v)), nil
	})
}

// WorkflowInput returns one input of the workflow run.
func (s *State) WorkflowInput(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.workflowInputs[key]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// WorkflowInputs returns a copy of every workflow input.
func (s *State) WorkflowInputs() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.workflowInputs)
}

// Run returns the run bookkeeping maintained by the runner.
func (s *State) Run() RunInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.clone()
}

// SetRun replaces the run bookkeeping.
func (s *State) SetRun(info RunInfo) {
	_ = s.mutate(func() (domain.StateDelta, error) {
		s.run = info.clone()
		return domain.SetDelta(PathRun, info.clone()), nil
	})
}

// UpdateRun applies fn to the run bookkeeping under the State lock.
func (s *State) UpdateRun(fn func(*RunInfo)) {
	_ = s.mutate(func() (domain.StateDelta, error) {
		fn(&s.run)
		return domain.SetDelta(PathRun, s.run.clone()), nil
	})
}

// ExecutionCount is shorthand for Cache().ExecutionCount.
func (s *State) ExecutionCount(node domain.NodeID) int {
	return s.cache.ExecutionCount(node)
}

// Quiet runs fn with delta callbacks suppressed. Mutations still apply.
func (s *State) Quiet(fn func()) {
	s.mu.Lock()
	s.quiet++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.quiet--
		s.mu.Unlock()
	}()
	fn()
}

// Atomic buffers every delta recorded while fn runs and delivers them as one
// batch on exit. The batch is delivered even when fn fails so that partial
// progress stays observable. Nested scopes join the outermost one.
func (s *State) Atomic(fn func() error) error {
	s.mu.Lock()
	s.atomic++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.atomic--
		start := false
		if s.atomic == 0 && len(s.buffer) > 0 {
			buf, withCache := s.buffer, s.bufferCache
			s.buffer, s.bufferCache = nil, false
			if withCache && s.pendingCache {
				buf = slices.DeleteFunc(buf, isCacheChanged)
			}
			start = s.pushLocked(buf...)
			if withCache && s.onSnapshot != nil {
				s.pendingCache = true
			}
		}
		s.mu.Unlock()
		if start {
			s.flush()
		}
	}()
	return fn()
}

func (s *State) mutate(fn func() (domain.StateDelta, error)) error {
	s.mu.Lock()
	d, err := fn()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	start := s.enqueueLocked(d)
	s.mu.Unlock()
	if start {
		s.flush()
	}
	return nil
}

// cacheChanged is the placeholder delta of an execution cache change.
var cacheChanged = domain.StateDelta{Op: domain.DeltaSet, Path: domain.PathExecutionCache, Value: cacheDump{}}

type cacheDump struct{}

func isCacheChanged(d domain.StateDelta) bool {
	_, ok := d.Value.(cacheDump)
	return ok
}

// enqueueCacheChange is the entry point for the execution cache, which calls
// it while holding the cache lock. The cache lock is always taken first.
// Nothing is dumped here; a batch carries at most one placeholder, and no
// placeholder is recorded when no callback could receive it.
func (s *State) enqueueCacheChange() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updatedAt = s.clock()
	switch {
	case s.quiet > 0:
		return false
	case s.atomic > 0:
		if !s.bufferCache {
			s.buffer = append(s.buffer, cacheChanged)
			s.bufferCache = true
		}
		return false
	case s.onSnapshot == nil, s.pendingCache:
		return false
	}
	start := s.pushLocked(cacheChanged)
	s.pendingCache = true
	return start
}

func (s *State) enqueueLocked(ds ...domain.StateDelta) bool {
	s.updatedAt = s.clock()
	switch {
	case s.quiet > 0:
		return false
	case s.atomic > 0:
		s.buffer = append(s.buffer, ds...)
		return false
	}
	return s.pushLocked(ds...)
}

// pushLocked queues deltas for delivery and reports whether the caller must
// start the flush loop.
func (s *State) pushLocked(ds ...domain.StateDelta) bool {
	if s.onSnapshot == nil {
		return false
	}
	s.pending = append(s.pending, ds...)
	if s.flushing {
		return false
	}
	s.flushing = true
	return true
}

// flush delivers pending batches in order. Only one goroutine flushes at a time;
// deltas recorded meanwhile (including from inside the callback) join the loop.
func (s *State) flush() {
	for {
		s.mu.Lock()
		batch, cb, withCache := s.pending, s.onSnapshot, s.pendingCache
		s.pending, s.pendingCache = nil, false
		if len(batch) == 0 || cb == nil {
			s.flushing = false
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		if withCache {
			dump := domain.SetDelta(domain.PathExecutionCache, s.cache.persist())
			for i, d := range batch {
				if isCacheChanged(d) {
					batch[i] = dump
				}
			}
		}
		s.deliver(cb, batch)
	}
}

func (s *State) deliver(cb SnapshotFunc, batch []domain.StateDelta) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("snapshot callback panicked", "panic", r, "deltas", len(batch))
		}
	}()
	cb(s, batch)
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyOutputs(m map[domain.NodeID]map[string]any) map[domain.NodeID]map[string]any {
	out := make(map[domain.NodeID]map[string]any, len(m))
	for k, v := range m {
		out[k] = copyMap(v)
	}
	return out
}
