package domain

import (
	"strings"
)

// DeltaOp is the kind of recorded mutation.
type DeltaOp string

const (
	DeltaSet    DeltaOp = "set"
	DeltaAppend DeltaOp = "append"
)

// StateDelta is an atomic recorded mutation at a dotted path within a State.
// Paths under "meta." address engine-owned fields (node outputs, inputs, the
// execution cache); every other path addresses user values.
type StateDelta struct {
	Op    DeltaOp `json:"op"`
	Path  string  `json:"path"`
	Value any     `json:"value"`
}

// SetDelta builds a Set delta.
func SetDelta(path string, value any) StateDelta {
	return StateDelta{Op: DeltaSet, Path: path, Value: value}
}

// AppendDelta builds an Append delta.
func AppendDelta(path string, value any) StateDelta {
	return StateDelta{Op: DeltaAppend, Path: path, Value: value}
}

// JoinPath joins path segments with dots, skipping empty ones.
func JoinPath(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}

// SplitPath splits a dotted path into its segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Meta path roots.
const (
	PathMeta           = "meta"
	PathNodeOutputs    = "meta.node_outputs"
	PathExternalInputs = "meta.external_inputs"
	PathWorkflowInputs = "meta.workflow_inputs"
	PathExecutionCache = "meta.node_execution_cache"
)
