package state

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/aretw0/loom/pkg/domain"
)

var (
	// ErrInvalidPath is returned when a dotted path cannot address a value.
	ErrInvalidPath = errors.New("invalid state path")
	// ErrReservedPath is returned when user code writes under the engine-owned "meta" root.
	ErrReservedPath = errors.New("reserved state path")
)

func splitUserPath(path string) ([]string, error) {
	parts := domain.SplitPath(path)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
	}
	if parts[0] == domain.PathMeta {
		return nil, fmt.Errorf("%w: %q", ErrReservedPath, path)
	}
	return parts, nil
}

// lookup walks maps and lists. Numeric segments index into lists.
func lookup(root map[string]any, parts []string) (any, bool) {
	var cur any = root
	for _, seg := range parts {
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(c) {
				return nil, false
			}
			cur = c[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// parentOf returns the container holding the last segment, creating
// intermediate maps along the way.
func parentOf(root map[string]any, parts []string) (any, error) {
	var cur any = root
	for _, seg := range parts[:len(parts)-1] {
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[seg]
			if !ok || next == nil {
				m := make(map[string]any)
				c[seg] = m
				next = m
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(c) {
				return nil, fmt.Errorf("%w: index %q out of range", ErrInvalidPath, seg)
			}
			cur = c[i]
		default:
			return nil, fmt.Errorf("%w: segment %q is not a container", ErrInvalidPath, seg)
		}
	}
	return cur, nil
}

func assign(root map[string]any, parts []string, v any) error {
	container, err := parentOf(root, parts)
	if err != nil {
		return err
	}
	last := parts[len(parts)-1]
	switch c := container.(type) {
	case map[string]any:
		c[last] = v
	case []any:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(c) {
			return fmt.Errorf("%w: index %q out of range", ErrInvalidPath, last)
		}
		c[i] = v
	default:
		return fmt.Errorf("%w: segment %q is not a container", ErrInvalidPath, last)
	}
	return nil
}

// appendAt appends v to the list at parts, creating the list when missing.
func appendAt(root map[string]any, parts []string, v any) error {
	container, err := parentOf(root, parts)
	if err != nil {
		return err
	}
	last := parts[len(parts)-1]
	switch c := container.(type) {
	case map[string]any:
		list, ok := c[last].([]any)
		if !ok && c[last] != nil {
			return fmt.Errorf("%w: %q is not a list", ErrInvalidPath, last)
		}
		c[last] = append(list, v)
	case []any:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(c) {
			return fmt.Errorf("%w: index %q out of range", ErrInvalidPath, last)
		}
		list, ok := c[i].([]any)
		if !ok && c[i] != nil {
			return fmt.Errorf("%w: element %d is not a list", ErrInvalidPath, i)
		}
		c[i] = append(list, v)
	default:
		return fmt.Errorf("%w: segment %q is not a container", ErrInvalidPath, last)
	}
	return nil
}
