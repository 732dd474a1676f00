package dsl

import (
	"context"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/graph"
)

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    *graph.Node
	builder *Builder
}

// Do sets the function executed by the node.
func (n *NodeBuilder) Do(fn graph.NodeFunc) *NodeBuilder {
	n.node.Run = fn
	return n
}

// Emit makes the node produce fixed outputs.
func (n *NodeBuilder) Emit(outputs map[string]any) *NodeBuilder {
	return n.Do(func(context.Context, *graph.Execution) (map[string]any, error) {
		return outputs, nil
	})
}

// Kind tags the node with a registry kind.
func (n *NodeBuilder) Kind(kind string) *NodeBuilder {
	n.node.Kind = kind
	return n
}

// Describe sets a human-readable description.
func (n *NodeBuilder) Describe(text string) *NodeBuilder {
	n.node.Description = text
	return n
}

// Await sets the merge behavior.
func (n *NodeBuilder) Await(m domain.MergeBehavior) *NodeBuilder {
	n.node.Merge = m
	return n
}

// Attr declares an attribute resolved before every execution.
func (n *NodeBuilder) Attr(name string, value graph.Descriptor) *NodeBuilder {
	if n.node.Attributes == nil {
		n.node.Attributes = make(map[string]graph.Descriptor)
	}
	n.node.Attributes[name] = value
	return n
}

// Output declares an output. A nil value means the node function produces it.
func (n *NodeBuilder) Output(name string, value graph.Descriptor) *NodeBuilder {
	n.node.Outputs = append(n.node.Outputs, graph.Output{Name: name, Value: value})
	return n
}

// Param sets a static parameter.
func (n *NodeBuilder) Param(key string, value any) *NodeBuilder {
	if n.node.Params == nil {
		n.node.Params = make(map[string]any)
	}
	n.node.Params[key] = value
	return n
}

// Go adds targets to the default port.
func (n *NodeBuilder) Go(targets ...string) *NodeBuilder {
	for i, p := range n.node.Ports {
		if p.IsDefault() {
			n.node.Ports[i].Targets = append(n.node.Ports[i].Targets, targets...)
			return n
		}
	}
	n.node.Ports = append(n.node.Ports, graph.Port{Name: graph.DefaultPortName, Targets: targets})
	return n
}

// Branch adds a conditional port. Ports are tried in the order they were added.
func (n *NodeBuilder) Branch(port string, condition graph.Descriptor, targets ...string) *NodeBuilder {
	n.node.Ports = append(n.node.Ports, graph.Port{Name: port, Condition: condition, Targets: targets})
	return n
}

// Workflow turns the node into a sub-workflow node running wf.
func (n *NodeBuilder) Workflow(wf *graph.Workflow) *NodeBuilder {
	sub := graph.SubworkflowNode(n.node.Name, wf, n.node.Attributes)
	n.node.Kind = sub.Kind
	n.node.Workflow = sub.Workflow
	n.node.Run = sub.Run
	return n
}

// Terminal removes every port; the node gets an empty default port on Build.
func (n *NodeBuilder) Terminal() *NodeBuilder {
	n.node.Ports = nil
	return n
}

// Build returns the underlying node.
// This is primarily used by the Builder, but exposed for advanced usage.
func (n *NodeBuilder) Build() *graph.Node {
	return n.node
}
