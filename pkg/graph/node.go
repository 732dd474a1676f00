package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/state"
)

// NodeFunc executes one node execution and returns its outputs.
// Returning a *domain.AwaitingInputError pauses the execution.
type NodeFunc func(ctx context.Context, ex *Execution) (map[string]any, error)

// Output is a declared node or workflow output. When Value is set the output
// is resolved from state after the node ran; otherwise the NodeFunc produces it.
type Output struct {
	Name  string
	Value Descriptor
}

// Port is a named edge source. A nil Condition marks the default port.
type Port struct {
	Name      string
	Condition Descriptor
	Targets   []string
}

// IsDefault reports whether the port is the unconditional default.
func (p Port) IsDefault() bool { return p.Condition == nil }

// DefaultPortName is the name given to the implicit default port.
const DefaultPortName = "default"

// Node is the class-level definition of a computation unit.
type Node struct {
	Name        string
	Module      string
	Kind        string
	Description string

	// Attributes are resolved before every execution and handed to Run as inputs.
	Attributes map[string]Descriptor
	Outputs    []Output
	Ports      []Port
	Merge      domain.MergeBehavior

	// Params are static settings, usually decoded from a workflow definition.
	Params map[string]any

	Run NodeFunc
	// Workflow is set on sub-workflow nodes.
	Workflow *Workflow
}

// ID returns the content-derived identifier of the node.
func (n *Node) ID() domain.NodeID { return domain.NewNodeID(n.Module, n.Name) }

// OutputID returns the content-derived identifier of one of the node's outputs.
func (n *Node) OutputID(name string) domain.OutputID {
	return domain.NewOutputID(n.ID().String(), name)
}

// MergeBehavior returns the declared behavior or the default one.
func (n *Node) MergeBehavior() domain.MergeBehavior {
	if n.Merge == "" {
		return domain.DefaultMergeBehavior
	}
	return n.Merge
}

// Trigger returns the readiness policy of the node.
func (n *Node) Trigger() Trigger { return Trigger{node: n, behavior: n.MergeBehavior()} }

// DefaultPort returns the unconditional port, if any.
func (n *Node) DefaultPort() (Port, bool) {
	for _, p := range n.Ports {
		if p.IsDefault() {
			return p, true
		}
	}
	return Port{}, false
}

// Port returns the named port.
func (n *Node) Port(name string) (Port, bool) {
	for _, p := range n.Ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// ResolveAttributes resolves every attribute. The first unresolved attribute
// yields an error wrapping domain.ErrUnresolved.
func (n *Node) ResolveAttributes(st *state.State) (map[string]any, error) {
	out := make(map[string]any, len(n.Attributes))
	for _, name := range slices.Sorted(maps.Keys(n.Attributes)) {
		v, err := n.Attributes[name].Resolve(st)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// SelectPort picks the port to follow after an execution: conditional ports are
// tried in declaration order and the first whose condition holds wins,
// otherwise the default port is taken. Unresolved conditions count as false.
func (n *Node) SelectPort(st *state.State) (Port, error) {
	for _, p := range n.Ports {
		if p.IsDefault() {
			continue
		}
		v, err := p.Condition.Resolve(st)
		if errors.Is(err, domain.ErrUnresolved) {
			continue
		}
		if err != nil {
			return Port{}, fmt.Errorf("port %s: %w", p.Name, err)
		}
		if Truthy(v) {
			return p, nil
		}
	}
	if p, ok := n.DefaultPort(); ok {
		return p, nil
	}
	return Port{}, fmt.Errorf("node %s has no default port", n.Name)
}

// ResolveOutputs merges the produced values with every declared output that has
// a Value descriptor. Descriptor outputs see the produced values already recorded.
func (n *Node) ResolveOutputs(st *state.State, produced map[string]any) (map[string]any, error) {
	out := maps.Clone(produced)
	if out == nil {
		out = make(map[string]any)
	}
	for _, o := range n.Outputs {
		if o.Value == nil {
			continue
		}
		v, err := o.Value.Resolve(st)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", o.Name, err)
		}
		out[o.Name] = v
	}
	return out, nil
}
