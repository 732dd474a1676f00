package tests

import (
	"errors"
	"testing"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/ports"
)

// WorkflowLoaderContractTest is a reusable test suite that verifies if an adapter complies with ports.WorkflowLoader.
func WorkflowLoaderContractTest(t *testing.T, loader ports.WorkflowLoader, setupData map[string][]byte) {
	t.Helper()

	// 1. Test GetWorkflow (Success)
	t.Run("GetWorkflow_Success", func(t *testing.T) {
		for name, expectedContent := range setupData {
			content, err := loader.GetWorkflow(name)
			if err != nil {
				t.Fatalf("unexpected error getting workflow %s: %v", name, err)
			}
			if string(content) != string(expectedContent) {
				t.Errorf("content mismatch for %s. got %q, want %q", name, content, expectedContent)
			}
		}
	})

	// 2. Test GetWorkflow (NotFound)
	t.Run("GetWorkflow_NotFound", func(t *testing.T) {
		_, err := loader.GetWorkflow("non-existent-workflow")
		if !errors.Is(err, domain.ErrWorkflowNotFound) {
			t.Errorf("expected ErrWorkflowNotFound, got %v", err)
		}
	})

	// 3. Test ListWorkflows
	t.Run("ListWorkflows", func(t *testing.T) {
		names, err := loader.ListWorkflows()
		if err != nil {
			t.Fatalf("unexpected error listing workflows: %v", err)
		}

		if len(names) != len(setupData) {
			t.Errorf("expected %d workflows, got %d", len(setupData), len(names))
		}

		// Verify all expected names are present
		lookup := make(map[string]bool)
		for _, name := range names {
			lookup[name] = true
		}

		for name := range setupData {
			if !lookup[name] {
				t.Errorf("workflow %s missing from list", name)
			}
		}
	})
}
