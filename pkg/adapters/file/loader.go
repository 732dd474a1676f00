package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aretw0/loom/pkg/domain"
)

// Loader implements ports.WorkflowLoader over a directory of YAML definitions.
// A workflow named "review" lives in review.yaml (or review.yml).
type Loader struct {
	Dir string
}

// NewLoader creates a Loader reading from dir.
func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir}
}

var extensions = []string{".yaml", ".yml"}

// GetWorkflow reads the definition of the named workflow.
func (l *Loader) GetWorkflow(name string) ([]byte, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: invalid name %q", domain.ErrWorkflowNotFound, name)
	}
	for _, ext := range extensions {
		data, err := os.ReadFile(filepath.Join(l.Dir, name+ext))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read workflow %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, name)
}

// ListWorkflows returns the names of every definition in the directory.
func (l *Loader) ListWorkflows() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	var names []string
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || !slices.Contains(extensions, ext) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ext)
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}
