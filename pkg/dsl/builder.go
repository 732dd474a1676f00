package dsl

import (
	"fmt"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/graph"
	"github.com/aretw0/loom/pkg/schema"
)

// Builder manages the workflow construction.
type Builder struct {
	module  string
	name    string
	order   []string
	nodes   map[string]*NodeBuilder
	inputs  schema.Schema
	outputs []graph.Output
	entry   []string
}

// New creates a builder for the workflow module.name.
func New(module, name string) *Builder {
	return &Builder{
		module: module,
		name:   name,
		nodes:  make(map[string]*NodeBuilder),
	}
}

// Add creates a new node in the workflow.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(name string) *NodeBuilder {
	if nb, ok := b.nodes[name]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node:    &graph.Node{Name: name, Module: b.module},
		builder: b,
	}
	b.nodes[name] = nb
	b.order = append(b.order, name)
	return nb
}

// Input declares a workflow input.
func (b *Builder) Input(name string, field schema.Field) *Builder {
	if b.inputs == nil {
		b.inputs = make(schema.Schema)
	}
	b.inputs[name] = field
	return b
}

// Output declares a workflow output resolved when the run completes.
func (b *Builder) Output(name string, value graph.Descriptor) *Builder {
	b.outputs = append(b.outputs, graph.Output{Name: name, Value: value})
	return b
}

// Entry names the nodes started when a run begins.
func (b *Builder) Entry(names ...string) *Builder {
	b.entry = append(b.entry, names...)
	return b
}

// Out references an output of a node of this workflow, declared or not yet.
func (b *Builder) Out(node, output string) graph.Descriptor {
	return graph.OutputRef{Node: domain.NewNodeID(b.module, node), NodeName: node, Output: output}
}

// Count references the fulfilled execution count of a node of this workflow.
func (b *Builder) Count(node string) graph.Descriptor {
	return graph.ExecutionCountRef{Node: domain.NewNodeID(b.module, node), NodeName: node}
}

// Build assembles and validates the workflow.
func (b *Builder) Build() (*graph.Workflow, error) {
	nodes := make([]*graph.Node, 0, len(b.order))
	for _, name := range b.order {
		nodes = append(nodes, b.nodes[name].Build())
	}

	wf := graph.NewWorkflow(b.module, b.name, nodes...)
	wf.Inputs = b.inputs
	wf.Outputs = b.outputs
	wf.Entry = b.entry
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("failed to build workflow: %w", err)
	}
	return wf, nil
}

// MustBuild is Build for workflows known to be valid; it panics otherwise.
func (b *Builder) MustBuild() *graph.Workflow {
	wf, err := b.Build()
	if err != nil {
		panic(err)
	}
	return wf
}
