package compiler

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/aretw0/loom/internal/logging"
	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/graph"
	"github.com/aretw0/loom/pkg/ports"
	"github.com/aretw0/loom/pkg/registry"
	"github.com/aretw0/loom/pkg/schema"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// ErrInvalidDefinition wraps every problem found in a workflow document.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// Compiler turns YAML workflow documents into validated graph.Workflows.
// Node kinds are looked up in the registry; sub-workflows named by a node's
// "workflow" key are fetched from the loader.
type Compiler struct {
	registry *registry.Registry
	loader   ports.WorkflowLoader
	validate *validator.Validate
	logger   *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLoader enables sub-workflow references.
func WithLoader(loader ports.WorkflowLoader) Option {
	return func(c *Compiler) {
		c.loader = loader
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = logger
	}
}

// New creates a Compiler. A nil registry means the builtin kinds only.
func New(reg *registry.Registry, opts ...Option) *Compiler {
	if reg == nil {
		reg = registry.NewBuiltins()
	}
	c := &Compiler{
		registry: reg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Parse decodes and validates the structure of a document without compiling it.
func (c *Compiler) Parse(data []byte) (*Definition, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidDefinition)
	}

	var def Definition
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &def,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	if err := c.validate.Struct(def); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	return &def, nil
}

// Compile parses and builds a workflow from a YAML document.
func (c *Compiler) Compile(data []byte) (*graph.Workflow, error) {
	return c.compile(data, nil)
}

// Load fetches a definition by name from the loader and compiles it.
func (c *Compiler) Load(name string) (*graph.Workflow, error) {
	return c.load(name, nil)
}

func (c *Compiler) load(name string, stack []string) (*graph.Workflow, error) {
	if c.loader == nil {
		return nil, fmt.Errorf("%w: %s (no loader configured)", domain.ErrWorkflowNotFound, name)
	}
	if slices.Contains(stack, name) {
		return nil, fmt.Errorf("%w: workflow %s includes itself (%v)", ErrInvalidDefinition, name, append(stack, name))
	}
	data, err := c.loader.GetWorkflow(name)
	if err != nil {
		return nil, err
	}
	return c.compile(data, append(slices.Clip(stack), name))
}

func (c *Compiler) compile(data []byte, stack []string) (*graph.Workflow, error) {
	def, err := c.Parse(data)
	if err != nil {
		return nil, err
	}
	wf, err := c.Build(def, stack)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Compiled workflow", "workflow", wf.Name, "nodes", len(wf.Nodes))
	return wf, nil
}

// Build converts a parsed definition. stack lists the workflows being compiled
// above this one and guards against recursive sub-workflows.
func (c *Compiler) Build(def *Definition, stack []string) (*graph.Workflow, error) {
	module := def.Module
	if module == "" {
		module = def.Name
	}
	if len(stack) == 0 {
		stack = []string{def.Name}
	}

	inputs, err := schema.Parse(def.Inputs, def.Defaults)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, def.Name, err)
	}

	wf := graph.NewWorkflow(module, def.Name)
	wf.Description = def.Description
	wf.Entry = def.Entry
	wf.Inputs = inputs

	for _, name := range slices.Sorted(maps.Keys(def.Outputs)) {
		d, err := ParseExpression(module, def.Outputs[name])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: output %s: %w", ErrInvalidDefinition, def.Name, name, err)
		}
		wf.Outputs = append(wf.Outputs, graph.Output{Name: name, Value: d})
	}

	for _, nd := range def.Nodes {
		n, err := c.node(module, nd, stack)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: node %s: %w", ErrInvalidDefinition, def.Name, nd.Name, err)
		}
		wf.Nodes = append(wf.Nodes, n)
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

func (c *Compiler) node(module string, nd NodeDefinition, stack []string) (*graph.Node, error) {
	merge, err := domain.ParseMergeBehavior(awaitName(nd.Await))
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]graph.Descriptor, len(nd.Attributes))
	for _, name := range slices.Sorted(maps.Keys(nd.Attributes)) {
		d, err := ParseExpression(module, nd.Attributes[name])
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		attrs[name] = d
	}

	n := &graph.Node{
		Name:        nd.Name,
		Module:      module,
		Kind:        nd.Kind,
		Description: nd.Description,
		Attributes:  attrs,
		Merge:       merge,
		Params:      nd.With,
	}

	for i, raw := range nd.Outputs {
		out, err := c.output(module, raw)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		n.Outputs = append(n.Outputs, out)
	}

	if len(nd.Next) > 0 {
		n.Ports = append(n.Ports, graph.Port{Name: graph.DefaultPortName, Targets: nd.Next})
	}
	for i, pd := range nd.Ports {
		port := graph.Port{Name: pd.Name, Targets: pd.To}
		if pd.When != nil {
			if port.Condition, err = ParseExpression(module, pd.When); err != nil {
				return nil, fmt.Errorf("port %d: %w", i, err)
			}
		}
		if port.Name == "" {
			port.Name = fmt.Sprintf("port_%d", i)
			if port.Condition == nil {
				port.Name = graph.DefaultPortName
			}
		}
		n.Ports = append(n.Ports, port)
	}
	// Conditional ports alone fall through to a default port with no targets.
	if len(n.Ports) > 0 && !slices.ContainsFunc(n.Ports, graph.Port.IsDefault) {
		n.Ports = append(n.Ports, graph.Port{Name: graph.DefaultPortName})
	}

	switch {
	case nd.Workflow != "":
		if nd.Kind != "" && nd.Kind != "workflow" {
			return nil, fmt.Errorf("kind %q cannot be combined with workflow %s", nd.Kind, nd.Workflow)
		}
		sub, err := c.load(nd.Workflow, stack)
		if err != nil {
			return nil, fmt.Errorf("sub-workflow %s: %w", nd.Workflow, err)
		}
		ref := graph.SubworkflowNode(nd.Name, sub, attrs)
		n.Kind, n.Workflow, n.Run = ref.Kind, ref.Workflow, ref.Run
	case nd.Kind != "":
		fn, ok := c.registry.Lookup(nd.Kind)
		if !ok {
			return nil, fmt.Errorf("unknown kind %q (registered: %v)", nd.Kind, c.registry.Kinds())
		}
		n.Run = fn
	}
	return n, nil
}

func (c *Compiler) output(module string, raw any) (graph.Output, error) {
	if name, ok := raw.(string); ok {
		return graph.Output{Name: name}, nil
	}
	var od outputDefinition
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &od, ErrorUnused: true})
	if err != nil {
		return graph.Output{}, err
	}
	if err := dec.Decode(raw); err != nil {
		return graph.Output{}, err
	}
	if od.Name == "" {
		return graph.Output{}, fmt.Errorf("output needs a name")
	}
	out := graph.Output{Name: od.Name}
	if od.Value != nil {
		if out.Value, err = ParseExpression(module, od.Value); err != nil {
			return graph.Output{}, err
		}
	}
	return out, nil
}

// awaitName accepts the short spelling ("all") next to the canonical one ("await_all").
func awaitName(s string) string {
	switch s {
	case "any", "all", "attributes":
		return "await_" + s
	}
	return s
}
