package state

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/google/uuid"
)

// PersistedCache is the JSON form of an ExecutionCache. Fulfilled stacks are
// stored most recent first.
type PersistedCache struct {
	DependenciesInvoked map[domain.ExecutionID][]domain.ExecutionID `json:"dependencies_invoked"`
	Initiated           map[domain.NodeID][]domain.ExecutionID      `json:"node_executions_initiated"`
	Fulfilled           map[domain.NodeID][]domain.ExecutionID      `json:"node_executions_fulfilled"`
	Queued              map[domain.NodeID][]domain.ExecutionID      `json:"node_executions_queued"`

	ExecutionNodes map[domain.ExecutionID]domain.NodeID                        `json:"execution_nodes"`
	Rejected       map[domain.NodeID][]domain.ExecutionID                      `json:"node_executions_rejected,omitempty"`
	ForkCollapses  map[domain.ExecutionID]map[domain.NodeID]domain.ExecutionID `json:"fork_collapses,omitempty"`
}

// Persisted is the serializable form of a State. Parent links are not persisted.
type Persisted struct {
	ID             uuid.UUID                        `json:"id"`
	UpdatedAt      time.Time                        `json:"updated_at"`
	Values         map[string]any                   `json:"values"`
	NodeOutputs    map[domain.NodeID]map[string]any `json:"node_outputs"`
	ExternalInputs map[string]any                   `json:"external_inputs"`
	WorkflowInputs map[string]any                   `json:"workflow_inputs"`
	Run            RunInfo                          `json:"run"`
	Cache          PersistedCache                   `json:"node_execution_cache"`
}

// Snapshot returns the persisted form of the State.
func (s *State) Snapshot() *Persisted {
	s.cache.mu.Lock()
	defer s.cache.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Persisted{
		ID:             s.id,
		UpdatedAt:      s.updatedAt,
		Values:         copyMap(s.values),
		NodeOutputs:    copyOutputs(s.nodeOutputs),
		ExternalInputs: copyMap(s.externalInputs),
		WorkflowInputs: copyMap(s.workflowInputs),
		Run:            s.run.clone(),
		Cache:          s.cache.persistLocked(),
	}
}

type restoreOptions struct {
	known func(domain.NodeID) bool
	opts  []Option
}

// RestoreOption configures Restore.
type RestoreOption func(*restoreOptions)

// WithKnownNodes drops every cache entry and node output that references a
// node outside nodes. Use it when resuming against a changed workflow.
func WithKnownNodes(nodes ...domain.NodeID) RestoreOption {
	set := make(map[domain.NodeID]struct{}, len(nodes))
	for _, n := range nodes {
		set[n] = struct{}{}
	}
	return func(o *restoreOptions) {
		o.known = func(n domain.NodeID) bool {
			_, ok := set[n]
			return ok
		}
	}
}

// WithStateOptions passes Options to the restored State.
func WithStateOptions(opts ...Option) RestoreOption {
	return func(o *restoreOptions) { o.opts = append(o.opts, opts...) }
}

// Restore rebuilds a State from its persisted form. No deltas are recorded.
func Restore(p *Persisted, opts ...RestoreOption) (*State, error) {
	if p == nil {
		return nil, fmt.Errorf("restore state: nil snapshot")
	}
	var ro restoreOptions
	for _, opt := range opts {
		opt(&ro)
	}

	s := New(append([]Option{WithID(p.ID)}, ro.opts...)...)
	s.mu.Lock()
	s.values = copyMap(p.Values)
	s.externalInputs = copyMap(p.ExternalInputs)
	s.workflowInputs = copyMap(p.WorkflowInputs)
	s.run = p.Run.clone()
	for node, outs := range p.NodeOutputs {
		if ro.known != nil && !ro.known(node) {
			continue
		}
		s.nodeOutputs[node] = copyMap(outs)
	}
	s.updatedAt = p.UpdatedAt
	s.mu.Unlock()

	s.cache.load(p.Cache, ro.known)
	return s, nil
}

// Marshal encodes the persisted form as JSON.
func (p *Persisted) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPersisted decodes a persisted State.
func UnmarshalPersisted(data []byte) (*Persisted, error) {
	var p Persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &p, nil
}

func (c *ExecutionCache) persist() PersistedCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistLocked()
}

func (c *ExecutionCache) persistLocked() PersistedCache {
	p := PersistedCache{
		DependenciesInvoked: make(map[domain.ExecutionID][]domain.ExecutionID, len(c.dependenciesInvoked)),
		Initiated:           make(map[domain.NodeID][]domain.ExecutionID, len(c.initiated)),
		Fulfilled:           make(map[domain.NodeID][]domain.ExecutionID, len(c.fulfilled)),
		Queued:              make(map[domain.NodeID][]domain.ExecutionID, len(c.queued)),
		ExecutionNodes:      maps.Clone(c.executionNodes),
		Rejected:            make(map[domain.NodeID][]domain.ExecutionID, len(c.rejected)),
		ForkCollapses:       make(map[domain.ExecutionID]map[domain.NodeID]domain.ExecutionID, len(c.forkCollapses)),
	}
	for k, v := range c.dependenciesInvoked {
		p.DependenciesInvoked[k] = slices.Clone(v)
	}
	for k, v := range c.initiated {
		p.Initiated[k] = slices.Clone(v)
	}
	for k, v := range c.fulfilled {
		p.Fulfilled[k] = reversed(v)
	}
	for k, v := range c.queued {
		p.Queued[k] = slices.Clone(v)
	}
	for k, v := range c.rejected {
		p.Rejected[k] = slices.Clone(v)
	}
	for k, v := range c.forkCollapses {
		p.ForkCollapses[k] = maps.Clone(v)
	}
	if p.ExecutionNodes == nil {
		p.ExecutionNodes = make(map[domain.ExecutionID]domain.NodeID)
	}
	return p
}

func (c *ExecutionCache) load(p PersistedCache, known func(domain.NodeID) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked(p, known)
}

// loadLocked replaces the cache content. With known set, entries for unknown
// nodes are dropped silently along with their executions.
func (c *ExecutionCache) loadLocked(p PersistedCache, known func(domain.NodeID) bool) {
	c.reset()
	keep := func(n domain.NodeID) bool { return known == nil || known(n) }

	dropped := make(map[domain.ExecutionID]bool)
	for id, node := range p.ExecutionNodes {
		if !keep(node) {
			dropped[id] = true
			continue
		}
		c.executionNodes[id] = node
	}
	liveIDs := func(ids []domain.ExecutionID) []domain.ExecutionID {
		return slices.DeleteFunc(slices.Clone(ids), func(id domain.ExecutionID) bool { return dropped[id] })
	}

	for id, invokers := range p.DependenciesInvoked {
		if dropped[id] {
			continue
		}
		c.dependenciesInvoked[id] = liveIDs(invokers)
	}
	for node, ids := range p.Initiated {
		if !keep(node) {
			continue
		}
		for _, id := range ids {
			c.initiateLocked(node, id)
		}
	}
	for node, ids := range p.Fulfilled {
		if keep(node) {
			c.fulfilled[node] = reversed(ids)
		}
	}
	for node, ids := range p.Queued {
		if keep(node) && len(ids) > 0 {
			c.queued[node] = slices.Clone(ids)
		}
	}
	for node, ids := range p.Rejected {
		if keep(node) {
			c.rejected[node] = slices.Clone(ids)
		}
	}
	for fork, byNode := range p.ForkCollapses {
		if dropped[fork] {
			continue
		}
		for node, by := range byNode {
			if !keep(node) {
				continue
			}
			if c.forkCollapses[fork] == nil {
				c.forkCollapses[fork] = make(map[domain.NodeID]domain.ExecutionID)
			}
			c.forkCollapses[fork][node] = by
		}
	}

	for id, invokers := range c.dependenciesInvoked {
		class := c.classOfLocked(id)
		for _, inv := range invokers {
			c.noteFanoutLocked(inv, class)
		}
	}
}

// decodeCache accepts a PersistedCache or its JSON-decoded map form.
func decodeCache(v any) (PersistedCache, error) {
	switch t := v.(type) {
	case PersistedCache:
		return t, nil
	case *PersistedCache:
		return *t, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return PersistedCache{}, fmt.Errorf("encode cache delta: %w", err)
	}
	var p PersistedCache
	if err := json.Unmarshal(data, &p); err != nil {
		return PersistedCache{}, fmt.Errorf("decode cache delta: %w", err)
	}
	return p, nil
}
