package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/graph"
	"github.com/mitchellh/mapstructure"
)

// expression is one node of an expression tree as written in YAML:
//
//	{state: user.name}            state value
//	{input: topic}                workflow input
//	{external: approval}          external input
//	{output: Fetch.body}          node output
//	{count: Try}                  fulfilled execution count
//	{const: {any: value}}         literal, including maps
//	{not: <expr>} / {neg: <expr>}
//	{op: "<", left: <expr>, right: <expr>}
//
// Any other scalar or list is a literal.
type expression struct {
	Const    any    `mapstructure:"const"`
	State    string `mapstructure:"state"`
	Input    string `mapstructure:"input"`
	External string `mapstructure:"external"`
	Output   string `mapstructure:"output"`
	Count    string `mapstructure:"count"`
	Not      any    `mapstructure:"not"`
	Neg      any    `mapstructure:"neg"`
	Op       string `mapstructure:"op"`
	Left     any    `mapstructure:"left"`
	Right    any    `mapstructure:"right"`
}

// ParseExpression converts a decoded YAML value into a Descriptor. Node names
// are resolved against module.
func ParseExpression(module string, raw any) (graph.Descriptor, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return graph.Const(raw), nil
	}

	var e expression
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &e,
		Metadata:    &md,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("invalid expression %v: %w", m, err)
	}

	keys := md.Keys
	slices.Sort(keys)
	switch {
	case slices.Equal(keys, []string{"const"}):
		return graph.Const(e.Const), nil
	case slices.Equal(keys, []string{"state"}):
		return graph.Value(e.State), nil
	case slices.Equal(keys, []string{"input"}):
		return graph.Input(e.Input), nil
	case slices.Equal(keys, []string{"external"}):
		return graph.External(e.External), nil
	case slices.Equal(keys, []string{"output"}):
		node, output, ok := strings.Cut(e.Output, ".")
		if !ok || node == "" || output == "" {
			return nil, fmt.Errorf("invalid output reference %q: want Node.output", e.Output)
		}
		return graph.OutputRef{Node: domain.NewNodeID(module, node), NodeName: node, Output: output}, nil
	case slices.Equal(keys, []string{"count"}):
		if e.Count == "" {
			return nil, fmt.Errorf("count needs a node name")
		}
		return graph.ExecutionCountRef{Node: domain.NewNodeID(module, e.Count), NodeName: e.Count}, nil
	case slices.Equal(keys, []string{"not"}), slices.Equal(keys, []string{"neg"}):
		op, operand := "!", e.Not
		if keys[0] == "neg" {
			op, operand = "-", e.Neg
		}
		x, err := ParseExpression(module, operand)
		if err != nil {
			return nil, err
		}
		return graph.UnaryExpr{Op: op, X: x}, nil
	case slices.Equal(keys, []string{"left", "op", "right"}):
		if !slices.Contains(graph.Operators, e.Op) {
			return nil, fmt.Errorf("unsupported operator %q", e.Op)
		}
		left, err := ParseExpression(module, e.Left)
		if err != nil {
			return nil, err
		}
		right, err := ParseExpression(module, e.Right)
		if err != nil {
			return nil, err
		}
		return graph.BinaryExpr{Op: e.Op, Left: left, Right: right}, nil
	}
	return nil, fmt.Errorf("invalid expression %v: unknown shape %v", m, keys)
}
