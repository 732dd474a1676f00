package tui

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/graph"
	"github.com/aretw0/loom/pkg/state"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// Report builds a markdown summary of a persisted run. wf is optional and only
// used to print node names instead of ids.
func Report(p *state.Persisted, wf *graph.Workflow) string {
	name := func(id domain.NodeID) string {
		if wf != nil {
			if n, ok := wf.NodeByID(id); ok {
				return n.Name
			}
		}
		return string(id)
	}

	var sb strings.Builder
	title := p.Run.WorkflowName
	if title == "" {
		title = "session"
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "- **Session:** `%s`\n", p.ID)
	fmt.Fprintf(&sb, "- **Status:** %s\n", orDash(string(p.Run.Status)))
	fmt.Fprintf(&sb, "- **Steps:** %d\n", p.Run.Steps)
	if !p.UpdatedAt.IsZero() {
		fmt.Fprintf(&sb, "- **Updated:** %s\n", p.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	if p.Run.Error != "" {
		fmt.Fprintf(&sb, "- **Error:** %s\n", p.Run.Error)
	}

	nodes := make([]domain.NodeID, 0, len(p.Cache.Initiated))
	for id := range p.Cache.Initiated {
		nodes = append(nodes, id)
	}
	if len(nodes) > 0 {
		slices.SortFunc(nodes, func(a, b domain.NodeID) int { return strings.Compare(name(a), name(b)) })
		sb.WriteString("\n## Nodes\n\n| Node | Initiated | Fulfilled | Rejected |\n|---|---|---|---|\n")
		for _, id := range nodes {
			fmt.Fprintf(&sb, "| %s | %d | %d | %d |\n", name(id),
				len(p.Cache.Initiated[id]), len(p.Cache.Fulfilled[id]), len(p.Cache.Rejected[id]))
		}
	}

	if len(p.Run.Paused) > 0 {
		sb.WriteString("\n## Awaiting input\n\n")
		for _, pe := range p.Run.Paused {
			fmt.Fprintf(&sb, "- `%s` on %s\n", pe.Key, name(pe.Node))
		}
	}
	return sb.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Renderer writes markdown to an output, styling it with glamour when the
// output is a terminal.
type Renderer struct {
	w      io.Writer
	styled bool
}

// NewRenderer detects whether w is a terminal.
func NewRenderer(w io.Writer) *Renderer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &Renderer{w: w, styled: styled}
}

// Render writes markdown, styled or raw.
func (r *Renderer) Render(markdown string) error {
	if !r.styled {
		_, err := io.WriteString(r.w, markdown)
		return err
	}
	g, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
	if err != nil {
		return fmt.Errorf("create markdown renderer: %w", err)
	}
	out, err := g.Render(markdown)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = io.WriteString(r.w, out)
	return err
}
