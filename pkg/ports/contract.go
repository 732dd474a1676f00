package ports

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStateStoreContract checks that store round-trips a run faithfully:
// user values, node outputs, the execution cache and the run bookkeeping
// must all come back from Load, and a missing session is ErrSessionNotFound.
func RunStateStoreContract(t *testing.T, store StateStore) {
	t.Helper()
	ctx := context.Background()
	prefix := fmt.Sprintf("contract-%d", time.Now().UnixNano())
	key := func(name string) string { return prefix + "-" + name }

	t.Run("RoundTrip", func(t *testing.T) {
		id := key("roundtrip")
		t.Cleanup(func() { _ = store.Delete(ctx, id) })

		node := domain.NewNodeID("contract", "A")
		st := state.New()
		require.NoError(t, st.Set("order.total", 42))
		st.SetWorkflowInput("customer", "ada")
		exec := st.Cache().QueueNodeExecution(node, nil, domain.AwaitAny, domain.NilExecution)
		st.Cache().InitiateNodeExecution(node, exec)
		st.SetNodeOutput(node, "out", "value")
		st.Cache().FulfillNodeExecution(node, exec)
		st.UpdateRun(func(r *state.RunInfo) {
			r.WorkflowName = "contract"
			r.Status = state.RunPaused
			r.Paused = []state.PausedExecution{{Node: node, Execution: exec, Key: "approval"}}
		})

		require.NoError(t, store.Save(ctx, id, st.Snapshot()))
		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)

		assert.Equal(t, st.ID(), loaded.ID)
		// JSON backends decode numbers as float64.
		assert.EqualValues(t, 42, loaded.Values["order"].(map[string]any)["total"])
		assert.Equal(t, "ada", loaded.WorkflowInputs["customer"])
		assert.Equal(t, "value", loaded.NodeOutputs[node]["out"])
		assert.Equal(t, "contract", loaded.Run.WorkflowName)
		assert.Equal(t, state.RunPaused, loaded.Run.Status)
		require.Len(t, loaded.Run.Paused, 1)
		assert.Equal(t, "approval", loaded.Run.Paused[0].Key)

		restored, err := state.Restore(loaded)
		require.NoError(t, err)
		assert.Equal(t, 1, restored.ExecutionCount(node))
		last, ok := restored.Cache().LastFulfilled(node)
		assert.True(t, ok)
		assert.Equal(t, exec, last)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.Load(ctx, key("missing"))
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("LastSaveWins", func(t *testing.T) {
		id := key("overwrite")
		t.Cleanup(func() { _ = store.Delete(ctx, id) })

		st := state.New()
		for _, step := range []string{"one", "two", "three"} {
			require.NoError(t, st.Set("step", step))
			require.NoError(t, store.Save(ctx, id, st.Snapshot()))
		}
		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "three", loaded.Values["step"])
	})

	t.Run("Delete", func(t *testing.T) {
		id := key("delete")
		require.NoError(t, store.Save(ctx, id, state.New().Snapshot()))
		require.NoError(t, store.Delete(ctx, id))

		_, err := store.Load(ctx, id)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("List", func(t *testing.T) {
		ids := []string{key("list-a"), key("list-b")}
		for _, id := range ids {
			require.NoError(t, store.Save(ctx, id, state.New().Snapshot()))
		}
		t.Cleanup(func() {
			for _, id := range ids {
				_ = store.Delete(ctx, id)
			}
		})

		listed, err := store.List(ctx)
		require.NoError(t, err)
		assert.Subset(t, listed, ids)
		assert.NotContains(t, listed, key("delete"))
	})
}
