package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrWorkflowNotFound is returned by loaders when a workflow definition is missing.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrInvalidMergeBehavior is a fatal configuration error. It is never retried.
var ErrInvalidMergeBehavior = errors.New("invalid merge behavior")

// ErrUnresolved is returned when a descriptor cannot be resolved against the current state yet.
var ErrUnresolved = errors.New("descriptor unresolved")

// ErrInvalidTransition is returned when an event does not fit the execution lifecycle.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// ErrAwaitingInput marks a node execution that needs external input before it can continue.
var ErrAwaitingInput = errors.New("awaiting external input")

// AwaitingInputError is returned by a node that paused waiting for an external input key.
type AwaitingInputError struct {
	Key string
}

func (e *AwaitingInputError) Error() string {
	return fmt.Sprintf("awaiting external input %q", e.Key)
}

// Is lets errors.Is match ErrAwaitingInput.
func (e *AwaitingInputError) Is(target error) bool {
	return target == ErrAwaitingInput
}

// NodeError describes a node execution failure. It carries a machine-readable code
// alongside the cause so the failure can be rendered into a rejection event.
type NodeError struct {
	NodeID  NodeID
	Node    string
	Code    string
	RawData map[string]any
	Err     error
}

func (e *NodeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("node %s failed (%s): %v", e.Node, e.Code, e.Err)
	}
	return fmt.Sprintf("node %s failed: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// Standard error codes for rejection events.
const (
	CodeNodeExecution    = "NODE_EXECUTION"
	CodeInvalidInputs    = "INVALID_INPUTS"
	CodeCanceled         = "CANCELED"
	CodeMaxStepsExceeded = "MAX_STEPS_EXCEEDED"
	CodeInternal         = "INTERNAL_ERROR"
)
