package middleware_test

import (
	"context"
	"testing"

	"github.com/aretw0/loom/pkg/adapters/memory"
	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/persistence/middleware"
	"github.com/aretw0/loom/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	underlying := memory.NewStore()
	mw, err := middleware.NewPIIMiddleware([]string{"password", "ssn"})
	require.NoError(t, err)
	secure := mw(underlying)
	ctx := context.Background()

	st := state.New()
	require.NoError(t, st.Set("username", "jdoe"))
	require.NoError(t, st.Set("user_password", "secret123"))
	require.NoError(t, st.Set("details", map[string]any{
		"address":    "123 St",
		"ssn_number": "999-99-9999",
	}))
	node := domain.NewNodeID("m", "Signup")
	st.SetNodeOutput(node, "password", "hunter2")
	st.SetExternalInput("ssn", "123")

	require.NoError(t, secure.Save(ctx, "pii", st.Snapshot()))

	v, _ := st.Get("user_password")
	assert.Equal(t, "secret123", v, "in-memory state must not be modified")

	stored, err := underlying.Load(ctx, "pii")
	require.NoError(t, err)
	assert.Equal(t, "jdoe", stored.Values["username"])
	assert.Equal(t, middleware.Mask, stored.Values["user_password"])
	details := stored.Values["details"].(map[string]any)
	assert.Equal(t, middleware.Mask, details["ssn_number"])
	assert.Equal(t, "123 St", details["address"])
	assert.Equal(t, middleware.Mask, stored.NodeOutputs[node]["password"])
	assert.Equal(t, middleware.Mask, stored.ExternalInputs["ssn"])
}

func TestPIIMiddleware_InvalidPattern(t *testing.T) {
	_, err := middleware.NewPIIMiddleware([]string{"("})
	assert.Error(t, err)
}

func TestChain_Order(t *testing.T) {
	underlying := memory.NewStore()
	pii, err := middleware.NewPIIMiddleware([]string{"token"})
	require.NoError(t, err)
	key := make([]byte, 32)
	// PII runs first so the encrypted payload already holds masked values.
	store := middleware.Chain(underlying, pii, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))

	st := state.New()
	require.NoError(t, st.Set("token", "abc"))
	require.NoError(t, store.Save(context.Background(), "s", st.Snapshot()))

	loaded, err := store.Load(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, middleware.Mask, loaded.Values["token"])

	raw, err := underlying.Load(context.Background(), "s")
	require.NoError(t, err)
	assert.Contains(t, raw.Values, middleware.EnvelopeKey)
}
