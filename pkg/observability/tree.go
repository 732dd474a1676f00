package observability

import (
	"slices"

	"github.com/aretw0/loom/pkg/domain"
)

// Span is one execution (a workflow run or a node execution) in a causal tree.
type Span struct {
	ID     domain.ExecutionID
	Name   string
	Node   bool
	Phase  domain.Phase
	Events []domain.Event
	// Children are ordered by the time of their first event.
	Children []*Span
}

// Workflow reports whether the span is a workflow run.
func (s *Span) Workflow() bool { return !s.Node }

// Find returns the first span named name, searching depth first.
func (s *Span) Find(name string) *Span {
	if s.Name == name {
		return s
	}
	for _, c := range s.Children {
		if f := c.Find(name); f != nil {
			return f
		}
	}
	return nil
}

// Walk visits the span and its descendants depth first.
func (s *Span) Walk(fn func(s *Span, depth int)) {
	s.walk(fn, 0)
}

func (s *Span) walk(fn func(*Span, int), depth int) {
	fn(s, depth)
	for _, c := range s.Children {
		c.walk(fn, depth+1)
	}
}

// BuildTree groups events by span and links every span under the span named by
// its events' ParentContext. Spans whose parent is unknown (or absent) become
// roots. Events may arrive in any order and from several traces.
func BuildTree(events []domain.Event) []*Span {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b domain.Event) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	spans := make(map[domain.ExecutionID]*Span)
	parents := make(map[domain.ExecutionID]domain.ExecutionID)
	var order []domain.ExecutionID

	for _, e := range sorted {
		s, ok := spans[e.SpanID]
		if !ok {
			s = &Span{ID: e.SpanID, Node: e.Name.IsNode()}
			spans[e.SpanID] = s
			order = append(order, e.SpanID)
		}
		if s.Name == "" {
			s.Name = spanName(e)
		}
		if e.Parent != nil {
			parents[e.SpanID] = e.Parent.SpanID
		}
		if p := e.Name.Phase(); p != domain.PhaseSnapshotted && p != domain.PhaseStreaming {
			s.Phase = p
		}
		s.Events = append(s.Events, e)
	}

	var roots []*Span
	for _, id := range order {
		s := spans[id]
		if parentID, ok := parents[id]; ok {
			if p, ok := spans[parentID]; ok && p != s {
				p.Children = append(p.Children, s)
				continue
			}
		}
		roots = append(roots, s)
	}
	return roots
}

func spanName(e domain.Event) string {
	if e.Name.IsNode() {
		return e.Body.NodeName
	}
	return e.Body.WorkflowName
}
