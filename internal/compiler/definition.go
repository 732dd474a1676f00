package compiler

// Definition is the decoded form of a YAML workflow document.
type Definition struct {
	Name        string           `mapstructure:"name" validate:"required"`
	Module      string           `mapstructure:"module"`
	Description string           `mapstructure:"description"`
	Entry       []string         `mapstructure:"entry"`
	Inputs      map[string]string `mapstructure:"inputs"`
	Defaults    map[string]any   `mapstructure:"defaults"`
	Outputs     map[string]any   `mapstructure:"outputs"`
	Nodes       []NodeDefinition `mapstructure:"nodes" validate:"required,min=1,dive"`
}

// NodeDefinition declares one node. Attributes, port conditions and output
// values hold expression trees (see ParseExpression).
type NodeDefinition struct {
	Name        string           `mapstructure:"name" validate:"required,excludesall=./"`
	Kind        string           `mapstructure:"kind"`
	Description string           `mapstructure:"description"`
	Await       string           `mapstructure:"await"`
	With        map[string]any   `mapstructure:"with"`
	Attributes  map[string]any   `mapstructure:"attributes"`
	Outputs     []any            `mapstructure:"outputs"`
	Ports       []PortDefinition `mapstructure:"ports" validate:"dive"`
	// Next is shorthand for the targets of the default port.
	Next     []string `mapstructure:"next"`
	Workflow string   `mapstructure:"workflow"`
}

// PortDefinition declares an outgoing port. A port without "when" is the default.
type PortDefinition struct {
	Name string   `mapstructure:"name"`
	When any      `mapstructure:"when"`
	To   []string `mapstructure:"to" validate:"required,min=1"`
}

// outputDefinition is the long form of a node output entry.
type outputDefinition struct {
	Name  string `mapstructure:"name"`
	Value any    `mapstructure:"value"`
}
