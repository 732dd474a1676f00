package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/loom/pkg/domain"
	wfgraph "github.com/aretw0/loom/pkg/graph"
	"github.com/aretw0/loom/pkg/registry"
	"github.com/aretw0/loom/pkg/state"
)

// Overlay contains run data to visualize on the graph, keyed by node name.
type Overlay struct {
	Counts   map[string]int
	Paused   []string
	Rejected []string
}

// OverlayFromState collects execution counts, paused and rejected nodes of a run.
func OverlayFromState(wf *wfgraph.Workflow, st *state.State) *Overlay {
	o := &Overlay{Counts: make(map[string]int)}
	for _, n := range wf.Nodes {
		if c := st.ExecutionCount(n.ID()); c > 0 {
			o.Counts[n.Name] = c
		}
		if len(st.Cache().Rejected(n.ID())) > 0 {
			o.Rejected = append(o.Rejected, n.Name)
		}
	}
	for _, p := range st.Run().Paused {
		if n, ok := wf.NodeByID(p.Node); ok && !slices.Contains(o.Paused, n.Name) {
			o.Paused = append(o.Paused, n.Name)
		}
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of a validated workflow.
// It applies semantic styling:
//   - Entry: ((Circle))
//   - AWAIT_ALL join: {{Hexagon}}
//   - Sub-workflow: [[Subroutine]]
//   - External input: [/Parallelogram/]
//   - Default: [Rectangle]
//
// Conditional ports are labelled with their condition. An overlay, when given,
// annotates execution counts and styles executed, paused and rejected nodes.
func GenerateMermaid(wf *wfgraph.Workflow, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	entry := make(map[string]bool)
	for _, n := range wf.Roots() {
		entry[n.Name] = true
	}

	for _, n := range wf.Nodes {
		safeID := sanitizeMermaidID(n.Name)

		opener, closer := "[", "]"
		switch {
		case entry[n.Name]:
			opener, closer = "((", "))"
		case n.MergeBehavior() == domain.AwaitAll:
			opener, closer = "{{", "}}"
		case n.Workflow != nil:
			opener, closer = "[[", "]]"
		case n.Kind == registry.KindAwaitInput:
			opener, closer = "[/", "/]"
		}

		label := n.Name
		if n.Kind != "" {
			label += " <br/> " + n.Kind
		}
		if overlay != nil && overlay.Counts[n.Name] > 0 {
			label += fmt.Sprintf(" <br/> x%d", overlay.Counts[n.Name])
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, escape(label), closer)

		for _, p := range n.Ports {
			arrow := "-->"
			if !p.IsDefault() {
				arrow = fmt.Sprintf("-- \"%s\" -->", escape(p.Condition.String()))
			}
			for _, target := range p.Targets {
				fmt.Fprintf(&sb, "    %s %s %s\n", safeID, arrow, sanitizeMermaidID(target))
			}
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for contrast on light fills regardless of theme.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef paused fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		sb.WriteString("    classDef rejected fill:#ffcdd2,stroke:#b71c1c,stroke-width:3px,color:#000;\n")

		for _, n := range wf.Nodes {
			if overlay.Counts[n.Name] > 0 {
				fmt.Fprintf(&sb, "    class %s visited;\n", sanitizeMermaidID(n.Name))
			}
		}
		for _, name := range overlay.Rejected {
			fmt.Fprintf(&sb, "    class %s rejected;\n", sanitizeMermaidID(name))
		}
		for _, name := range overlay.Paused {
			fmt.Fprintf(&sb, "    class %s paused;\n", sanitizeMermaidID(name))
		}
	}

	return sb.String()
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
