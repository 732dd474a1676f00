package domain

import (
	"strings"

	"github.com/google/uuid"
)

// ExecutionID identifies one firing of a node or one run of a workflow.
type ExecutionID = uuid.UUID

// NilExecution is the zero ExecutionID. It marks root invocations.
var NilExecution = uuid.Nil

// NewExecutionID allocates a fresh random execution identifier.
func NewExecutionID() ExecutionID {
	return uuid.New()
}

// namespace roots every content-derived identifier.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/aretw0/loom"))

// NodeID is the stable, content-derived identifier of a node class.
type NodeID string

// OutputID is the stable, content-derived identifier of a node or workflow output.
type OutputID string

// WorkflowID is the stable, content-derived identifier of a workflow definition.
type WorkflowID string

// QualifiedName joins a module path and a local name ("billing.flows" + "Fetch").
func QualifiedName(module, name string) string {
	if module == "" {
		return name
	}
	return module + "." + name
}

// NewNodeID derives a node identifier from its qualified name.
// Identical definitions always yield identical identifiers.
func NewNodeID(module, name string) NodeID {
	return NodeID(uuid.NewSHA1(namespace, []byte("node:"+QualifiedName(module, name))).String())
}

// NewWorkflowID derives a workflow identifier from its qualified name.
func NewWorkflowID(module, name string) WorkflowID {
	return WorkflowID(uuid.NewSHA1(namespace, []byte("workflow:"+QualifiedName(module, name))).String())
}

// NewOutputID derives an output identifier from its owner and the output name.
func NewOutputID(owner string, output string) OutputID {
	base, err := uuid.Parse(owner)
	if err != nil {
		base = namespace
	}
	return OutputID(uuid.NewSHA1(base, []byte("output:"+strings.TrimSpace(output))).String())
}

// String implements fmt.Stringer.
func (id NodeID) String() string { return string(id) }

// String implements fmt.Stringer.
func (id OutputID) String() string { return string(id) }
