package schema

import (
	"encoding/json"
	"fmt"
)

type wireField struct {
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
	Default  any    `json:"default,omitempty"`
}

// MarshalJSON writes every field as {type, required, default}.
func (s Schema) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	raw := make(map[string]wireField, len(s))
	for key, f := range s {
		if f.Type == nil {
			return nil, fmt.Errorf("input %s: type is nil", key)
		}
		raw[key] = wireField{Type: f.Type.Name(), Required: f.Required, Default: f.Default}
	}
	return json.Marshal(raw)
}

// UnmarshalJSON reads the form written by MarshalJSON.
func (s *Schema) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var raw map[string]wireField
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}
	out := make(Schema, len(raw))
	for key, w := range raw {
		t, err := ParseType(w.Type)
		if err != nil {
			return fmt.Errorf("input %s: %w", key, err)
		}
		out[key] = Field{Type: t, Required: w.Required, Default: w.Default}
	}
	*s = out
	return nil
}
