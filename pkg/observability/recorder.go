package observability

import (
	"context"
	"slices"
	"sync"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/ports"
	"github.com/google/uuid"
)

// Recorder keeps every event it receives and forwards it to the sinks it wraps.
// Safe for concurrent use.
type Recorder struct {
	mu     sync.RWMutex
	events []domain.Event
	sinks  []ports.EventSink
}

// NewRecorder creates a Recorder forwarding to sinks.
func NewRecorder(sinks ...ports.EventSink) *Recorder {
	return &Recorder{sinks: sinks}
}

// Add registers another sink.
func (r *Recorder) Add(sink ports.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
}

// Emit implements ports.EventSink.
func (r *Recorder) Emit(ctx context.Context, e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	sinks := slices.Clone(r.sinks)
	r.mu.Unlock()

	for _, s := range sinks {
		s.Emit(ctx, e)
	}
}

// Events returns a copy of the recorded events in arrival order.
func (r *Recorder) Events() []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.events)
}

// Trace returns the recorded events of one trace.
func (r *Recorder) Trace(traceID uuid.UUID) []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Event
	for _, e := range r.events {
		if e.TraceID == traceID {
			out = append(out, e)
		}
	}
	return out
}

// Tree builds the causal tree of everything recorded so far.
func (r *Recorder) Tree() []*Span {
	return BuildTree(r.Events())
}

// Reset drops the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
