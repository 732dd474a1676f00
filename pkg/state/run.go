package state

import (
	"slices"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/google/uuid"
)

// PathRun addresses the run bookkeeping in deltas.
const PathRun = "meta.run"

// RunStatus is the coarse status of a workflow run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunFulfilled RunStatus = "fulfilled"
	RunRejected  RunStatus = "rejected"
)

// PausedExecution is a node execution waiting for an external input.
type PausedExecution struct {
	Node      domain.NodeID      `json:"node_id"`
	Execution domain.ExecutionID `json:"execution_id"`
	Key       string             `json:"key"`
}

// RunInfo is the bookkeeping the runner keeps alongside the State so that a
// persisted run can be listed, inspected and resumed.
type RunInfo struct {
	WorkflowID   domain.WorkflowID  `json:"workflow_id,omitempty"`
	WorkflowName string             `json:"workflow_name,omitempty"`
	TraceID      uuid.UUID          `json:"trace_id"`
	SpanID       domain.ExecutionID `json:"span_id"`
	Status       RunStatus          `json:"status,omitempty"`
	Steps        int                `json:"steps"`
	Paused       []PausedExecution  `json:"paused,omitempty"`
	// Waiting holds AWAIT_ATTRIBUTES executions whose attributes did not resolve yet.
	Waiting []PausedExecution `json:"waiting,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func (r RunInfo) clone() RunInfo {
	r.Paused = slices.Clone(r.Paused)
	r.Waiting = slices.Clone(r.Waiting)
	return r
}
