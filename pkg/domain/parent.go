package domain

// ParentKind tags which kind of frame emitted a nested event.
type ParentKind string

const (
	ParentWorkflow        ParentKind = "workflow"
	ParentNode            ParentKind = "node"
	ParentWorkflowRelease ParentKind = "workflow_release_tag"
	ParentExternal        ParentKind = "external"
)

// ParentContext is a tagged union describing the frame an execution is nested in.
// Only the fields relevant to Kind are set. Contexts chain through Parent so that
// nested sub-workflow events reconstruct into one causal tree.
type ParentContext struct {
	Kind   ParentKind  `json:"type"`
	SpanID ExecutionID `json:"span_id"`

	// workflow
	WorkflowID   WorkflowID `json:"workflow_id,omitempty"`
	WorkflowName string     `json:"workflow_name,omitempty"`

	// node
	NodeID   NodeID `json:"node_id,omitempty"`
	NodeName string `json:"node_name,omitempty"`

	// workflow_release_tag
	DeploymentID string `json:"deployment_id,omitempty"`
	ReleaseTag   string `json:"release_tag,omitempty"`

	// external (sandbox runs, host applications)
	Source string `json:"source,omitempty"`

	Parent *ParentContext `json:"parent,omitempty"`
}

// WorkflowParent builds the context of a running workflow.
func WorkflowParent(span ExecutionID, id WorkflowID, name string, parent *ParentContext) *ParentContext {
	return &ParentContext{Kind: ParentWorkflow, SpanID: span, WorkflowID: id, WorkflowName: name, Parent: parent}
}

// NodeParent builds the context of a running node execution.
func NodeParent(span ExecutionID, id NodeID, name string, parent *ParentContext) *ParentContext {
	return &ParentContext{Kind: ParentNode, SpanID: span, NodeID: id, NodeName: name, Parent: parent}
}

// ReleaseParent builds the context of a deployed workflow release invocation.
func ReleaseParent(span ExecutionID, deploymentID, releaseTag string, parent *ParentContext) *ParentContext {
	return &ParentContext{Kind: ParentWorkflowRelease, SpanID: span, DeploymentID: deploymentID, ReleaseTag: releaseTag, Parent: parent}
}

// ExternalParent builds the context of a sandbox or host-driven run.
func ExternalParent(span ExecutionID, source string) *ParentContext {
	return &ParentContext{Kind: ParentExternal, SpanID: span, Source: source}
}

// Clone returns a deep copy of the chain.
func (p *ParentContext) Clone() *ParentContext {
	if p == nil {
		return nil
	}
	c := *p
	c.Parent = p.Parent.Clone()
	return &c
}

// Depth counts the frames in the chain (nil = 0).
func (p *ParentContext) Depth() int {
	d := 0
	for cur := p; cur != nil; cur = cur.Parent {
		d++
	}
	return d
}

// Root returns the outermost frame.
func (p *ParentContext) Root() *ParentContext {
	if p == nil {
		return nil
	}
	cur := p
	for cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}
