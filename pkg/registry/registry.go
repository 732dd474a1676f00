package registry

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/aretw0/loom/pkg/graph"
)

// Registry maps node kinds, as named in workflow definitions, to the functions
// implementing them.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]graph.NodeFunc
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		kinds: make(map[string]graph.NodeFunc),
	}
}

// Register adds a node kind to the registry.
// If a kind with the same name exists, it is overwritten.
func (r *Registry) Register(kind string, fn graph.NodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = fn
}

// Lookup returns the function registered for kind.
func (r *Registry) Lookup(kind string) (graph.NodeFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.kinds[kind]
	return fn, ok
}

// Kinds lists the registered kinds in lexical order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.kinds))
}

// Execute looks up a kind and runs it for ex.
// Returns an error if the kind is not registered.
func (r *Registry) Execute(ctx context.Context, kind string, ex *graph.Execution) (map[string]any, error) {
	fn, ok := r.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("node kind not registered: %s", kind)
	}
	return fn(ctx, ex)
}
