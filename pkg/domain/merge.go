package domain

import (
	"fmt"
	"strings"
)

// MergeBehavior is the policy governing when a node becomes ready to fire.
type MergeBehavior string

const (
	// AwaitAttributes fires once every descriptor-valued attribute resolves against state.
	AwaitAttributes MergeBehavior = "AWAIT_ATTRIBUTES"
	// AwaitAny fires as soon as one upstream dependency has invoked the node.
	AwaitAny MergeBehavior = "AWAIT_ANY"
	// AwaitAll fires once every declared dependency class invoked the same execution.
	AwaitAll MergeBehavior = "AWAIT_ALL"
)

// DefaultMergeBehavior is applied to nodes that do not declare one.
const DefaultMergeBehavior = AwaitAttributes

// Valid reports whether m is one of the known merge behaviors.
func (m MergeBehavior) Valid() bool {
	switch m {
	case AwaitAttributes, AwaitAny, AwaitAll:
		return true
	}
	return false
}

// ParseMergeBehavior accepts the canonical names case-insensitively
// ("await_all", "AWAIT_ALL"). An empty string yields DefaultMergeBehavior.
func ParseMergeBehavior(s string) (MergeBehavior, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultMergeBehavior, nil
	}
	m := MergeBehavior(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMergeBehavior, s)
	}
	return m, nil
}
