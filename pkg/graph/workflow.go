package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/schema"
)

// ErrInvalidWorkflow wraps every problem found by Validate.
var ErrInvalidWorkflow = errors.New("invalid workflow")

// Workflow is a directed graph of nodes connected through ports.
type Workflow struct {
	Name        string
	Module      string
	Description string
	Nodes       []*Node
	// Entry names the nodes started when a run begins. When empty, every node
	// without upstream nodes (self-loops aside) is an entry node.
	Entry   []string
	Inputs  schema.Schema
	Outputs []Output

	mu     sync.Mutex
	byName map[string]*Node
	byID   map[domain.NodeID]*Node
	deps   map[domain.NodeID][]domain.NodeID
}

// NewWorkflow builds a workflow. Call Validate before running it.
func NewWorkflow(module, name string, nodes ...*Node) *Workflow {
	return &Workflow{Module: module, Name: name, Nodes: nodes}
}

// ID returns the content-derived identifier of the workflow.
func (w *Workflow) ID() domain.WorkflowID { return domain.NewWorkflowID(w.Module, w.Name) }

// Validate checks the graph and indexes it. Nodes without a module inherit the
// workflow's; nodes without ports get an empty default port. Every problem
// found is reported, wrapped in ErrInvalidWorkflow.
func (w *Workflow) Validate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if w.Name == "" {
		add("workflow has no name")
	}
	if len(w.Nodes) == 0 {
		add("workflow has no nodes")
	}

	byName := make(map[string]*Node, len(w.Nodes))
	byID := make(map[domain.NodeID]*Node, len(w.Nodes))
	for i, n := range w.Nodes {
		if n == nil {
			add("node %d is nil", i)
			continue
		}
		if n.Module == "" {
			n.Module = w.Module
		}
		switch {
		case n.Name == "":
			add("node %d has no name", i)
			continue
		case strings.Contains(n.Name, "."):
			add("node %s: names cannot contain dots", n.Name)
		}
		if _, dup := byName[n.Name]; dup {
			add("node %s is declared twice", n.Name)
			continue
		}
		byName[n.Name] = n
		byID[n.ID()] = n
	}

	deps := make(map[domain.NodeID][]domain.NodeID)
	for _, n := range w.Nodes {
		if n == nil || byName[n.Name] != n {
			continue
		}
		if n.Merge != "" && !n.Merge.Valid() {
			add("node %s: %w: %q", n.Name, domain.ErrInvalidMergeBehavior, n.Merge)
		}
		if len(n.Ports) == 0 {
			n.Ports = []Port{{Name: DefaultPortName}}
		}

		defaults := 0
		ports := make(map[string]bool, len(n.Ports))
		for _, p := range n.Ports {
			if p.IsDefault() {
				defaults++
			}
			if ports[p.Name] {
				add("node %s: port %q is declared twice", n.Name, p.Name)
			}
			ports[p.Name] = true
			for _, target := range p.Targets {
				t, ok := byName[target]
				if !ok {
					add("node %s: port %q targets unknown node %q", n.Name, p.Name, target)
					continue
				}
				if !slices.Contains(deps[t.ID()], n.ID()) {
					deps[t.ID()] = append(deps[t.ID()], n.ID())
				}
			}
		}
		if defaults != 1 {
			add("node %s: expected exactly one default port, found %d", n.Name, defaults)
		}

		if n.Workflow != nil {
			if err := n.Workflow.Validate(); err != nil {
				add("node %s: nested workflow: %w", n.Name, err)
			}
		}
	}

	for _, n := range w.Nodes {
		if n == nil || byName[n.Name] != n {
			continue
		}
		if n.MergeBehavior() == domain.AwaitAll && len(deps[n.ID()]) == 0 {
			add("node %s: %s needs at least one upstream node", n.Name, domain.AwaitAll)
		}
	}
	for _, name := range w.Entry {
		if _, ok := byName[name]; !ok {
			add("entry node %q is not declared", name)
		}
	}
	if len(byName) > 0 && len(w.Entry) == 0 && len(entryNodes(w.Nodes, deps)) == 0 {
		add("workflow has no entry node: every node waits for another one")
	}

	for _, o := range w.Outputs {
		if o.Name == "" || o.Value == nil {
			add("workflow output %q needs a name and a value", o.Name)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w %s: %w", ErrInvalidWorkflow, w.Name, errors.Join(problems...))
	}
	w.byName, w.byID, w.deps = byName, byID, deps
	return nil
}

// Node returns the node with the given name.
func (w *Workflow) Node(name string) (*Node, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.byName[name]
	return n, ok
}

// NodeByID returns the node with the given identifier.
func (w *Workflow) NodeByID(id domain.NodeID) (*Node, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.byID[id]
	return n, ok
}

// NodeIDs returns the identifier of every node, in declaration order.
func (w *Workflow) NodeIDs() []domain.NodeID {
	ids := make([]domain.NodeID, 0, len(w.Nodes))
	for _, n := range w.Nodes {
		ids = append(ids, n.ID())
	}
	return ids
}

// Dependencies returns the nodes with a port targeting n, in declaration order.
func (w *Workflow) Dependencies(n *Node) []domain.NodeID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.deps[n.ID()])
}

// Roots returns the entry nodes, in declaration order.
func (w *Workflow) Roots() []*Node {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.Entry) == 0 {
		return entryNodes(w.Nodes, w.deps)
	}
	roots := make([]*Node, 0, len(w.Entry))
	for _, name := range w.Entry {
		if n, ok := w.byName[name]; ok {
			roots = append(roots, n)
		}
	}
	return roots
}

// entryNodes returns the nodes whose only upstream node, if any, is themselves.
func entryNodes(nodes []*Node, deps map[domain.NodeID][]domain.NodeID) []*Node {
	var out []*Node
	for _, n := range nodes {
		if n == nil {
			continue
		}
		id := n.ID()
		upstream := slices.DeleteFunc(slices.Clone(deps[id]), func(d domain.NodeID) bool { return d == id })
		if len(upstream) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// Targets returns the nodes a port points to.
func (w *Workflow) Targets(p Port) []*Node {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*Node, 0, len(p.Targets))
	for _, name := range p.Targets {
		if n, ok := w.byName[name]; ok {
			out = append(out, n)
		}
	}
	return out
}
