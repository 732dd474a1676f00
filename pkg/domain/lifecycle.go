package domain

import (
	"fmt"
	"sync"
)

// allowed maps the current phase of a span to the phases it may move into.
// The empty phase is a span that has not been seen yet; a resumed run may be the
// first thing a fresh process observes for a span.
var allowed = map[Phase]map[Phase]bool{
	"":             {PhaseInitiated: true, PhaseResumed: true},
	PhaseInitiated: {PhaseStreaming: true, PhaseFulfilled: true, PhaseRejected: true, PhasePaused: true},
	PhaseStreaming: {PhaseStreaming: true, PhaseFulfilled: true, PhaseRejected: true, PhasePaused: true},
	PhaseResumed:   {PhaseStreaming: true, PhaseFulfilled: true, PhaseRejected: true, PhasePaused: true},
	PhasePaused:    {PhaseResumed: true, PhaseRejected: true},
}

// Lifecycle tracks the phase of every span and rejects events that break the
// initiated -> streaming* -> fulfilled|rejected machine (with paused <-> resumed).
// Safe for concurrent use.
type Lifecycle struct {
	mu     sync.Mutex
	phases map[ExecutionID]Phase
}

// NewLifecycle creates an empty tracker.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{phases: make(map[ExecutionID]Phase)}
}

// Apply records the event, or returns ErrInvalidTransition without recording it.
// Snapshot events do not move the span but are only valid on a live workflow span.
func (l *Lifecycle) Apply(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.phases[e.SpanID]
	next := e.Name.Phase()

	if next == PhaseSnapshotted {
		if !e.Name.IsWorkflow() || current == "" || current.IsTerminal() {
			return fmt.Errorf("%w: %s on span %s in phase %q", ErrInvalidTransition, e.Name, e.SpanID, current)
		}
		return nil
	}

	if !allowed[current][next] {
		return fmt.Errorf("%w: %s on span %s in phase %q", ErrInvalidTransition, e.Name, e.SpanID, current)
	}
	l.phases[e.SpanID] = next
	return nil
}

// Phase returns the last recorded phase for a span ("" if unknown).
func (l *Lifecycle) Phase(span ExecutionID) Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phases[span]
}
