package state

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/loom/pkg/domain"
)

// ApplyDelta replays one recorded delta. Replaying every delta a State recorded
// onto a fresh State reproduces it field for field. Values decoded from JSON are
// accepted for engine-owned paths.
func (s *State) ApplyDelta(d domain.StateDelta) error {
	if d.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if !strings.HasPrefix(d.Path, domain.PathMeta+".") {
		switch d.Op {
		case domain.DeltaSet:
			return s.Set(d.Path, d.Value)
		case domain.DeltaAppend:
			return s.Append(d.Path, d.Value)
		}
		return fmt.Errorf("apply delta %q: unknown op %q", d.Path, d.Op)
	}
	if d.Op != domain.DeltaSet {
		return fmt.Errorf("apply delta %q: engine paths only accept %q", d.Path, domain.DeltaSet)
	}

	switch {
	case d.Path == domain.PathExecutionCache:
		p, err := decodeCache(d.Value)
		if err != nil {
			return err
		}
		s.cache.Replace(p)
	case d.Path == PathRun:
		info, err := convert[RunInfo](d.Value)
		if err != nil {
			return fmt.Errorf("apply delta %q: %w", d.Path, err)
		}
		s.SetRun(info)
	case strings.HasPrefix(d.Path, domain.PathNodeOutputs+"."):
		rest := domain.SplitPath(strings.TrimPrefix(d.Path, domain.PathNodeOutputs+"."))
		node := nodeID(rest[0])
		if len(rest) == 1 {
			outs, ok := d.Value.(map[string]any)
			if !ok {
				return fmt.Errorf("apply delta %q: outputs must be a map, got %T", d.Path, d.Value)
			}
			s.SetNodeOutputs(node, outs)
			return nil
		}
		s.SetNodeOutput(node, strings.Join(rest[1:], "."), d.Value)
	case strings.HasPrefix(d.Path, domain.PathExternalInputs+"."):
		s.SetExternalInput(strings.TrimPrefix(d.Path, domain.PathExternalInputs+"."), d.Value)
	case strings.HasPrefix(d.Path, domain.PathWorkflowInputs+"."):
		s.SetWorkflowInput(strings.TrimPrefix(d.Path, domain.PathWorkflowInputs+"."), d.Value)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPath, d.Path)
	}
	return nil
}

// ApplyDeltas replays deltas in order inside one atomic scope.
func (s *State) ApplyDeltas(ds []domain.StateDelta) error {
	return s.Atomic(func() error {
		for _, d := range ds {
			if err := s.ApplyDelta(d); err != nil {
				return err
			}
		}
		return nil
	})
}

func nodeID(s string) domain.NodeID { return domain.NodeID(s) }

func convert[T any](v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	var out T
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(data, &out)
	return out, err
}
