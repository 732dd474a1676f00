package http

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/loom/internal/logging"
	"github.com/aretw0/loom/pkg/domain"
	"github.com/google/uuid"
)

const subscriberBuffer = 64

// Stream fans lifecycle events out to live subscribers. It is an EventSink:
// register it on the engine and mount the handler to serve /events.
type Stream struct {
	mu     sync.RWMutex
	subs   map[chan domain.Event]uuid.UUID
	logger *slog.Logger
}

// NewStream creates a Stream. A nil logger discards logs.
func NewStream(logger *slog.Logger) *Stream {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Stream{subs: make(map[chan domain.Event]uuid.UUID), logger: logger}
}

// Subscribe returns a channel receiving the events of one trace (every trace
// for uuid.Nil) and a function that cancels the subscription.
func (s *Stream) Subscribe(traceID uuid.UUID) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)
	s.mu.Lock()
	s.subs[ch] = traceID
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			close(ch)
			s.mu.Unlock()
		})
	}
}

// Emit implements ports.EventSink. Slow subscribers lose events rather than
// blocking the run.
func (s *Stream) Emit(_ context.Context, e domain.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch, trace := range s.subs {
		if trace != uuid.Nil && trace != e.TraceID {
			continue
		}
		select {
		case ch <- e:
		default:
			s.logger.Warn("event subscriber buffer full, dropping event", "event", e.Name, "trace_id", e.TraceID)
		}
	}
}

// Subscribers counts the live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
