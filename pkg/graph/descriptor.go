package graph

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/state"
)

// Descriptor is a lazily evaluated value: node attributes, port conditions and
// outputs are descriptors resolved against the State of a run. A descriptor
// that cannot be resolved yet returns an error wrapping domain.ErrUnresolved.
//
// The implementations form a closed union: Constant, StateRef, OutputRef,
// InputRef, ExternalInputRef, ExecutionCountRef, UnaryExpr and BinaryExpr.
type Descriptor interface {
	Resolve(st *state.State) (any, error)
	String() string
	descriptor()
}

// Constant resolves to a fixed value.
type Constant struct{ Value any }

// StateRef resolves to the user value at a dotted path.
type StateRef struct{ Path string }

// OutputRef resolves to an output recorded by a node.
type OutputRef struct {
	Node     domain.NodeID
	NodeName string
	Output   string
}

// InputRef resolves to a workflow input.
type InputRef struct{ Name string }

// ExternalInputRef resolves to a value supplied from outside the run.
type ExternalInputRef struct{ Key string }

// ExecutionCountRef resolves to the number of fulfilled executions of a node.
type ExecutionCountRef struct {
	Node     domain.NodeID
	NodeName string
}

// UnaryExpr applies "!" or "-" to X.
type UnaryExpr struct {
	Op string
	X  Descriptor
}

// BinaryExpr applies Op to Left and Right. "&&" and "||" short-circuit.
type BinaryExpr struct {
	Op          string
	Left, Right Descriptor
}

func (Constant) descriptor()          {}
func (StateRef) descriptor()          {}
func (OutputRef) descriptor()         {}
func (InputRef) descriptor()          {}
func (ExternalInputRef) descriptor()  {}
func (ExecutionCountRef) descriptor() {}
func (UnaryExpr) descriptor()         {}
func (BinaryExpr) descriptor()        {}

func unresolved(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrUnresolved, fmt.Sprintf(format, args...))
}

func (d Constant) Resolve(*state.State) (any, error) { return d.Value, nil }

func (d StateRef) Resolve(st *state.State) (any, error) {
	if v, ok := st.Get(d.Path); ok {
		return v, nil
	}
	return nil, unresolved("state value %q", d.Path)
}

func (d OutputRef) Resolve(st *state.State) (any, error) {
	if v, ok := st.NodeOutput(d.Node, d.Output); ok {
		return v, nil
	}
	return nil, unresolved("output %s.%s", d.label(), d.Output)
}

func (d OutputRef) label() string {
	if d.NodeName != "" {
		return d.NodeName
	}
	return d.Node.String()
}

func (d InputRef) Resolve(st *state.State) (any, error) {
	if v, ok := st.WorkflowInput(d.Name); ok {
		return v, nil
	}
	return nil, unresolved("workflow input %q", d.Name)
}

func (d ExternalInputRef) Resolve(st *state.State) (any, error) {
	if v, ok := st.ExternalInput(d.Key); ok {
		return v, nil
	}
	return nil, unresolved("external input %q", d.Key)
}

func (d ExecutionCountRef) Resolve(st *state.State) (any, error) {
	return st.ExecutionCount(d.Node), nil
}

func (d UnaryExpr) Resolve(st *state.State) (any, error) {
	x, err := d.X.Resolve(st)
	if err != nil {
		return nil, err
	}
	switch d.Op {
	case "!":
		return !Truthy(x), nil
	case "-":
		n, ok := toFloat(x)
		if !ok {
			return nil, fmt.Errorf("negate %T", x)
		}
		return normalize(-n), nil
	}
	return nil, fmt.Errorf("unknown unary operator %q", d.Op)
}

func (d BinaryExpr) Resolve(st *state.State) (any, error) {
	l, err := d.Left.Resolve(st)
	if err != nil {
		return nil, err
	}
	switch d.Op {
	case "&&":
		if !Truthy(l) {
			return false, nil
		}
		r, err := d.Right.Resolve(st)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	case "||":
		if Truthy(l) {
			return true, nil
		}
		r, err := d.Right.Resolve(st)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	}

	r, err := d.Right.Resolve(st)
	if err != nil {
		return nil, err
	}
	return apply(d.Op, l, r)
}

func apply(op string, l, r any) (any, error) {
	switch op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	case "<", "<=", ">", ">=":
		c, err := compare(l, r)
		if err != nil {
			return nil, err
		}
		switch op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		}
		return c >= 0, nil
	case "+":
		if ls, ok := l.(string); ok {
			return ls + fmt.Sprint(r), nil
		}
		fallthrough
	case "-", "*", "/", "%":
		a, okA := toFloat(l)
		b, okB := toFloat(r)
		if !okA || !okB {
			return nil, fmt.Errorf("operator %q needs numbers, got %T and %T", op, l, r)
		}
		switch op {
		case "+":
			return normalize(a + b), nil
		case "-":
			return normalize(a - b), nil
		case "*":
			return normalize(a * b), nil
		case "/":
			if b == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return normalize(a / b), nil
		}
		if int64(b) == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return int(int64(a) % int64(b)), nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

// Truthy reports whether a resolved value counts as true in a condition.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if n, ok := toFloat(v); ok {
		return n != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// normalize keeps whole numbers as int so results compare equal to literals.
func normalize(f float64) any {
	if f == float64(int64(f)) {
		return int(f)
	}
	return f
}

func equal(l, r any) bool {
	a, okA := toFloat(l)
	b, okB := toFloat(r)
	if okA && okB {
		return a == b
	}
	return reflect.DeepEqual(l, r)
}

func compare(l, r any) (int, error) {
	a, okA := toFloat(l)
	b, okB := toFloat(r)
	if okA && okB {
		switch {
		case a < b:
			return -1, nil
		case a > b:
			return 1, nil
		}
		return 0, nil
	}
	ls, okA := l.(string)
	rs, okB := r.(string)
	if okA && okB {
		return strings.Compare(ls, rs), nil
	}
	return 0, fmt.Errorf("cannot compare %T with %T", l, r)
}

func (d Constant) String() string          { return fmt.Sprintf("%#v", d.Value) }
func (d StateRef) String() string          { return "state." + d.Path }
func (d OutputRef) String() string         { return d.label() + ".outputs." + d.Output }
func (d InputRef) String() string          { return "inputs." + d.Name }
func (d ExternalInputRef) String() string  { return "external." + d.Key }
func (d ExecutionCountRef) String() string { return "execution_count(" + d.labelCount() + ")" }
func (d UnaryExpr) String() string         { return d.Op + d.X.String() }
func (d BinaryExpr) String() string {
	return "(" + d.Left.String() + " " + d.Op + " " + d.Right.String() + ")"
}

func (d ExecutionCountRef) labelCount() string {
	if d.NodeName != "" {
		return d.NodeName
	}
	return d.Node.String()
}

// Const builds a Constant.
func Const(v any) Descriptor { return Constant{Value: v} }

// Value builds a StateRef.
func Value(path string) Descriptor { return StateRef{Path: path} }

// Input builds an InputRef.
func Input(name string) Descriptor { return InputRef{Name: name} }

// External builds an ExternalInputRef.
func External(key string) Descriptor { return ExternalInputRef{Key: key} }

// OutputOf references an output of n. n.Module must already be set.
func OutputOf(n *Node, output string) Descriptor {
	return OutputRef{Node: n.ID(), NodeName: n.Name, Output: output}
}

// ExecutionCountOf references the fulfilled execution count of n.
func ExecutionCountOf(n *Node) Descriptor {
	return ExecutionCountRef{Node: n.ID(), NodeName: n.Name}
}

// Not negates x.
func Not(x Descriptor) Descriptor { return UnaryExpr{Op: "!", X: x} }

// Binary helpers.
func Eq(l, r Descriptor) Descriptor  { return BinaryExpr{Op: "==", Left: l, Right: r} }
func Ne(l, r Descriptor) Descriptor  { return BinaryExpr{Op: "!=", Left: l, Right: r} }
func Lt(l, r Descriptor) Descriptor  { return BinaryExpr{Op: "<", Left: l, Right: r} }
func Le(l, r Descriptor) Descriptor  { return BinaryExpr{Op: "<=", Left: l, Right: r} }
func Gt(l, r Descriptor) Descriptor  { return BinaryExpr{Op: ">", Left: l, Right: r} }
func Ge(l, r Descriptor) Descriptor  { return BinaryExpr{Op: ">=", Left: l, Right: r} }
func And(l, r Descriptor) Descriptor { return BinaryExpr{Op: "&&", Left: l, Right: r} }
func Or(l, r Descriptor) Descriptor  { return BinaryExpr{Op: "||", Left: l, Right: r} }
func Add(l, r Descriptor) Descriptor { return BinaryExpr{Op: "+", Left: l, Right: r} }

// Operators lists every binary operator BinaryExpr understands.
var Operators = []string{"==", "!=", "<", "<=", ">", ">=", "&&", "||", "+", "-", "*", "/", "%"}
