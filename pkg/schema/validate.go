package schema

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Field declares one workflow input.
type Field struct {
	Type     Type
	Required bool
	Default  any
}

// Schema maps input names to their declarations.
type Schema map[string]Field

// Required declares a mandatory input.
func Required(t Type) Field { return Field{Type: t, Required: true} }

// Optional declares an input that falls back to def when missing.
func Optional(t Type, def any) Field { return Field{Type: t, Default: def} }

// Apply validates data and returns it with defaults filled in. Every failure is
// reported at once through an *AggregateError. Keys absent from the schema pass
// through untouched.
func (s Schema) Apply(data map[string]any) (map[string]any, error) {
	out := maps.Clone(data)
	if out == nil {
		out = make(map[string]any)
	}
	var errs []error
	for _, key := range slices.Sorted(maps.Keys(s)) {
		f := s[key]
		value, ok := out[key]
		if !ok {
			switch {
			case f.Required:
				errs = append(errs, &ValidationError{Key: key, Reason: "required"})
			case f.Default != nil:
				out[key] = f.Default
			}
			continue
		}
		if f.Type == nil {
			continue
		}
		if err := f.Type.Validate(value); err != nil {
			errs = append(errs, &ValidationError{Key: key, Reason: err.Error(), Value: value})
		}
	}
	if len(errs) > 0 {
		return nil, &AggregateError{Errors: errs}
	}
	return out, nil
}

// Validate is Apply without the defaults.
func (s Schema) Validate(data map[string]any) error {
	_, err := s.Apply(data)
	return err
}

// Parse builds a Schema from definition entries such as "string", "int?" (optional)
// or "[string]". Defaults are supplied separately.
func Parse(types map[string]string, defaults map[string]any) (Schema, error) {
	out := make(Schema, len(types))
	for key, spelled := range types {
		optional := strings.HasSuffix(spelled, "?")
		t, err := ParseType(strings.TrimSuffix(spelled, "?"))
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", key, err)
		}
		def, hasDefault := defaults[key]
		if hasDefault {
			if err := t.Validate(def); err != nil {
				return nil, fmt.Errorf("input %s: default: %w", key, err)
			}
		}
		out[key] = Field{Type: t, Required: !optional && !hasDefault, Default: def}
	}
	return out, nil
}
