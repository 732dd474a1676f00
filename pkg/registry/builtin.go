package registry

import (
	"context"
	"fmt"
	"maps"

	"github.com/aretw0/loom/pkg/graph"
)

// Builtin kinds available to every workflow definition.
const (
	KindNoop        = "noop"
	KindPassthrough = "passthrough"
	KindAwaitInput  = "await_input"
	KindSetState    = "set_state"
)

// NewBuiltins returns a registry holding the plumbing kinds:
//
//   - noop: produces nothing.
//   - passthrough: outputs its resolved attributes.
//   - await_input: pauses until the external input named by the "key" param
//     is supplied and outputs it as "value".
//   - set_state: writes every resolved attribute under the state path given by
//     the "path" param (the state root when empty).
func NewBuiltins() *Registry {
	r := NewRegistry()
	r.Register(KindNoop, func(context.Context, *graph.Execution) (map[string]any, error) {
		return nil, nil
	})
	r.Register(KindPassthrough, func(_ context.Context, ex *graph.Execution) (map[string]any, error) {
		return maps.Clone(ex.Inputs), nil
	})
	r.Register(KindAwaitInput, func(_ context.Context, ex *graph.Execution) (map[string]any, error) {
		key, _ := ex.Param("key")
		name, ok := key.(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("%s: param \"key\" must be a non-empty string", KindAwaitInput)
		}
		v, err := ex.ExternalInput(name)
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": v}, nil
	})
	r.Register(KindSetState, func(_ context.Context, ex *graph.Execution) (map[string]any, error) {
		prefix, _ := ex.Param("path")
		p, _ := prefix.(string)
		return nil, ex.State.Atomic(func() error {
			for name, v := range ex.Inputs {
				path := name
				if p != "" {
					path = p + "." + name
				}
				if err := ex.State.Set(path, v); err != nil {
					return err
				}
			}
			return nil
		})
	})
	return r
}
