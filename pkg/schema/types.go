package schema

import (
	"fmt"
	"reflect"
	"strings"
)

// Type validates one workflow input value.
type Type interface {
	// Name is the spelling used in workflow definitions ("string", "[int]").
	Name() string
	Validate(value any) error
}

type scalar struct {
	name  string
	check func(any) error
}

func (t scalar) Name() string             { return t.name }
func (t scalar) Validate(value any) error { return t.check(value) }

func isInt(value any) error {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	case float64:
		// JSON and YAML decoders hand whole numbers over as float64.
		if v == float64(int64(v)) {
			return nil
		}
		return fmt.Errorf("expected int, got fractional number %v", v)
	}
	return fmt.Errorf("expected int, got %T", value)
}

func isFloat(value any) error {
	switch value.(type) {
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	}
	return fmt.Errorf("expected float, got %T", value)
}

func isString(value any) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	return nil
}

func isBool(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("expected bool, got %T", value)
	}
	return nil
}

func isMap(value any) error {
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		return nil
	}
	return fmt.Errorf("expected map, got %T", value)
}

// String accepts strings.
func String() Type { return scalar{"string", isString} }

// Int accepts integers, including whole float64 values.
func Int() Type { return scalar{"int", isInt} }

// Float accepts any number.
func Float() Type { return scalar{"float", isFloat} }

// Bool accepts booleans.
func Bool() Type { return scalar{"bool", isBool} }

// Map accepts string-keyed maps.
func Map() Type { return scalar{"map", isMap} }

// Any accepts every value.
func Any() Type { return scalar{"any", func(any) error { return nil }} }

type sliceType struct{ elem Type }

func (t sliceType) Name() string { return "[" + t.elem.Name() + "]" }

func (t sliceType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("expected list, got %T", value)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := t.elem.Validate(rv.Index(i).Interface()); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// Slice accepts lists whose elements all match elem.
func Slice(elem Type) Type { return sliceType{elem: elem} }

// Custom wraps a validation function under a name.
func Custom(name string, validate func(any) error) Type {
	return scalar{name: name, check: validate}
}

// ParseType reads a type name as written in workflow definitions:
// string, int, float, bool, map, any and lists such as [string] or [[int]].
func ParseType(name string) (Type, error) {
	name = strings.TrimSpace(name)
	if len(name) > 2 && strings.HasPrefix(name, "[") && strings.HasSuffix(name, "]") {
		elem, err := ParseType(name[1 : len(name)-1])
		if err != nil {
			return nil, err
		}
		return Slice(elem), nil
	}
	switch name {
	case "string":
		return String(), nil
	case "int":
		return Int(), nil
	case "float", "number":
		return Float(), nil
	case "bool":
		return Bool(), nil
	case "map", "object":
		return Map(), nil
	case "any", "":
		return Any(), nil
	}
	return nil, fmt.Errorf("unsupported type %q", name)
}
