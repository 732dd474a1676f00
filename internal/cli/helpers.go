package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/loom"
	"github.com/aretw0/loom/internal/presentation/tui"
	"github.com/aretw0/loom/pkg/graph"
	"gopkg.in/yaml.v3"
)

// ParseInputs reads key=value pairs. Values are YAML scalars or flow
// collections, so count=3 is an int and tags=[a,b] a list; anything that does
// not parse stays a string.
func ParseInputs(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q: want key=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}

// LoadWorkflow resolves arg as a YAML file when it names one, or as a workflow
// name known to the engine otherwise.
func LoadWorkflow(eng *loom.Engine, arg string) (*graph.Workflow, error) {
	ext := strings.ToLower(filepath.Ext(arg))
	if ext == ".yaml" || ext == ".yml" {
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("read workflow: %w", err)
		}
		wf, err := eng.Compile(data)
		if err != nil {
			return nil, err
		}
		if err := eng.Register(wf); err != nil {
			return nil, err
		}
		return wf, nil
	}
	if _, err := os.Stat(arg); err == nil {
		return nil, fmt.Errorf("%s is not a .yaml workflow file", arg)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return eng.Workflow(arg)
}

// PrintResult writes a short summary of a run.
func PrintResult(w io.Writer, res *loom.Result) {
	fmt.Fprintf(w, "session %s: %s\n", res.SessionID, tui.Status(w, res.Status))
	for _, p := range res.Paused {
		fmt.Fprintf(w, "  awaiting input %q\n", p.Key)
	}
	if len(res.Outputs) > 0 {
		data, err := yaml.Marshal(res.Outputs)
		if err == nil {
			fmt.Fprintf(w, "outputs:\n%s", indent(string(data), "  "))
		}
	}
}

func indent(s, prefix string) string {
	lines := strings.SplitAfter(s, "\n")
	var sb strings.Builder
	for _, l := range lines {
		if l == "" {
			continue
		}
		sb.WriteString(prefix + l)
	}
	return sb.String()
}
