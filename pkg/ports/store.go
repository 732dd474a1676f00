package ports

import (
	"context"

	"github.com/aretw0/loom/pkg/state"
)

// StateStore defines the interface for persisting execution state.
// This allows for durable execution, enabling "Pause & Resume" workflows.
type StateStore interface {
	// Save persists the state for a given session ID.
	Save(ctx context.Context, sessionID string, st *state.Persisted) error

	// Load retrieves the state for a given session ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*state.Persisted, error)

	// Delete removes the state for a given session ID.
	Delete(ctx context.Context, sessionID string) error

	// List returns all active session IDs.
	List(ctx context.Context) ([]string, error)
}
