package memory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/loom/pkg/domain"
)

// Loader implements ports.WorkflowLoader using an in-memory map.
type Loader struct {
	mu        sync.RWMutex
	workflows map[string][]byte
}

// NewLoader creates a new Loader with the provided raw definitions (YAML documents).
func NewLoader(data map[string]string) *Loader {
	workflows := make(map[string][]byte)
	for k, v := range data {
		workflows[k] = []byte(v)
	}
	return &Loader{
		workflows: workflows,
	}
}

// Put adds or replaces a definition.
func (l *Loader) Put(name string, definition []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workflows[name] = definition
}

// GetWorkflow retrieves the raw definition of a workflow by name.
func (l *Loader) GetWorkflow(name string) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	content, ok := l.workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, name)
	}
	return content, nil
}

// ListWorkflows returns all available workflow names.
func (l *Loader) ListWorkflows() ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]string, 0, len(l.workflows))
	for k := range l.workflows {
		keys = append(keys, k)
	}
	sort.Strings(keys) // Deterministic order
	return keys, nil
}
