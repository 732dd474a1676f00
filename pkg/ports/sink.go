package ports

import (
	"context"

	"github.com/aretw0/loom/pkg/domain"
)

// EventSink receives lifecycle events. Implementations must be safe for
// concurrent use; the runner never blocks on a sink's behalf.
type EventSink interface {
	Emit(ctx context.Context, e domain.Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, e domain.Event)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(ctx context.Context, e domain.Event) { f(ctx, e) }
