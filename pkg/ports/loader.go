package ports

// WorkflowLoader defines how the engine retrieves workflow definitions.
// This allows the storage layer (FS, Memory) to be decoupled.
type WorkflowLoader interface {
	// GetWorkflow retrieves the raw definition of a workflow by name.
	// It returns the raw bytes (which the compiler will parse) or domain.ErrWorkflowNotFound.
	GetWorkflow(name string) ([]byte, error)

	// ListWorkflows returns the names of all workflows available.
	ListWorkflows() ([]string, error)
}
