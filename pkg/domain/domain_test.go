package domain_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeID_Deterministic(t *testing.T) {
	a := domain.NewNodeID("billing", "Fetch")
	b := domain.NewNodeID("billing", "Fetch")
	c := domain.NewNodeID("billing", "Store")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, domain.NewNodeID("", "Fetch"), "module is part of the identity")

	_, err := uuid.Parse(a.String())
	assert.NoError(t, err)
}

func TestOutputID_ScopedByOwner(t *testing.T) {
	fetch := domain.NewNodeID("billing", "Fetch")
	store := domain.NewNodeID("billing", "Store")

	assert.Equal(t, domain.NewOutputID(fetch.String(), "body"), domain.NewOutputID(fetch.String(), "body"))
	assert.NotEqual(t, domain.NewOutputID(fetch.String(), "body"), domain.NewOutputID(store.String(), "body"))
	assert.NotEqual(t, domain.NewOutputID(fetch.String(), "body"), domain.NewOutputID(fetch.String(), "status"))
}

func TestParseMergeBehavior(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.MergeBehavior
		wantErr bool
	}{
		{"", domain.AwaitAttributes, false},
		{"await_all", domain.AwaitAll, false},
		{" AWAIT_ANY ", domain.AwaitAny, false},
		{"AWAIT_ATTRIBUTES", domain.AwaitAttributes, false},
		{"await_some", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := domain.ParseMergeBehavior(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidMergeBehavior)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAwaitingInputError_Is(t *testing.T) {
	var err error = &domain.AwaitingInputError{Key: "approval"}
	wrapped := &domain.NodeError{Node: "Approve", Err: err}

	assert.ErrorIs(t, wrapped, domain.ErrAwaitingInput)

	var awaiting *domain.AwaitingInputError
	require.True(t, errors.As(wrapped, &awaiting))
	assert.Equal(t, "approval", awaiting.Key)
}

func TestEventName_Phase(t *testing.T) {
	assert.Equal(t, domain.PhaseFulfilled, domain.NodeExecutionFulfilled.Phase())
	assert.Equal(t, domain.PhaseSnapshotted, domain.WorkflowExecutionSnapshotted.Phase())
	assert.True(t, domain.WorkflowExecutionPaused.IsWorkflow())
	assert.True(t, domain.NodeExecutionPaused.IsNode())
	assert.True(t, domain.PhaseRejected.IsTerminal())
	assert.False(t, domain.PhasePaused.IsTerminal())
}

func TestNewEvent_CopiesPayload(t *testing.T) {
	outputs := map[string]any{"items": []any{1, 2}}
	parent := domain.WorkflowParent(domain.NewExecutionID(), "wf", "flow", nil)

	e := domain.NewEvent(domain.NodeExecutionFulfilled, uuid.New(), domain.NewExecutionID(), parent, domain.EventBody{Outputs: outputs})

	outputs["items"] = "mutated"
	parent.WorkflowName = "mutated"

	assert.Equal(t, []any{1, 2}, e.Body.Outputs["items"])
	assert.Equal(t, "flow", e.Parent.WorkflowName)
	assert.Nil(t, e.Body.Inputs)
}

func TestRedactor(t *testing.T) {
	big := strings.Repeat("x", 64)
	e := domain.NewEvent(domain.NodeExecutionFulfilled, uuid.New(), domain.NewExecutionID(), nil, domain.EventBody{
		Inputs:  map[string]any{"q": "small"},
		Outputs: map[string]any{"blob": big},
	})

	t.Run("Unlimited", func(t *testing.T) {
		got := domain.Redactor{}.Apply(e)
		assert.False(t, got.Body.Redacted)
		assert.Equal(t, big, got.Body.Outputs["blob"])
	})

	t.Run("OverBudget", func(t *testing.T) {
		got := domain.Redactor{MaxPayloadBytes: 32}.Apply(e)
		assert.True(t, got.Body.Redacted)
		assert.NotNil(t, got.Body.Outputs)
		assert.Empty(t, got.Body.Outputs)
		assert.Equal(t, "small", got.Body.Inputs["q"], "payloads within budget are kept")
		assert.Equal(t, big, e.Body.Outputs["blob"], "the original event is untouched")
	})
}

func TestRedactor_SnapshotDeltas(t *testing.T) {
	big := strings.Repeat("x", 64)
	e := domain.NewEvent(domain.WorkflowExecutionSnapshotted, uuid.New(), domain.NewExecutionID(), nil, domain.EventBody{
		State:  map[string]any{"k": "v"},
		Deltas: []domain.StateDelta{domain.SetDelta("blob", big)},
	})

	got := domain.Redactor{MaxPayloadBytes: 32}.Apply(e)
	assert.True(t, got.Body.Redacted)
	assert.NotNil(t, got.Body.Deltas)
	assert.Empty(t, got.Body.Deltas)
	assert.Equal(t, map[string]any{"k": "v"}, got.Body.State)
	require.Len(t, e.Body.Deltas, 1)
	assert.Equal(t, big, e.Body.Deltas[0].Value)
}

func TestParentContext_Chain(t *testing.T) {
	root := domain.ExternalParent(domain.NewExecutionID(), "sandbox")
	wf := domain.WorkflowParent(domain.NewExecutionID(), "wf", "outer", root)
	node := domain.NodeParent(domain.NewExecutionID(), "n", "Sub", wf)

	assert.Equal(t, 3, node.Depth())
	assert.Equal(t, root, node.Root())
	assert.Equal(t, 0, (*domain.ParentContext)(nil).Depth())

	clone := node.Clone()
	clone.Parent.WorkflowName = "changed"
	assert.Equal(t, "outer", wf.WorkflowName)
	assert.Equal(t, domain.ParentExternal, clone.Root().Kind)
}

func TestLifecycle(t *testing.T) {
	ev := func(name domain.EventName, span domain.ExecutionID) domain.Event {
		return domain.NewEvent(name, uuid.Nil, span, nil, domain.EventBody{})
	}

	t.Run("HappyPath", func(t *testing.T) {
		l := domain.NewLifecycle()
		span := domain.NewExecutionID()
		for _, name := range []domain.EventName{
			domain.NodeExecutionInitiated,
			domain.NodeExecutionStreaming,
			domain.NodeExecutionStreaming,
			domain.NodeExecutionPaused,
			domain.NodeExecutionResumed,
			domain.NodeExecutionFulfilled,
		} {
			require.NoError(t, l.Apply(ev(name, span)), name)
		}
		assert.Equal(t, domain.PhaseFulfilled, l.Phase(span))
	})

	t.Run("TerminalIsFinal", func(t *testing.T) {
		l := domain.NewLifecycle()
		span := domain.NewExecutionID()
		require.NoError(t, l.Apply(ev(domain.NodeExecutionInitiated, span)))
		require.NoError(t, l.Apply(ev(domain.NodeExecutionRejected, span)))

		err := l.Apply(ev(domain.NodeExecutionStreaming, span))
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		assert.Equal(t, domain.PhaseRejected, l.Phase(span))
	})

	t.Run("StreamingBeforeInitiated", func(t *testing.T) {
		l := domain.NewLifecycle()
		assert.ErrorIs(t, l.Apply(ev(domain.NodeExecutionStreaming, domain.NewExecutionID())), domain.ErrInvalidTransition)
	})

	t.Run("ResumeInFreshProcess", func(t *testing.T) {
		l := domain.NewLifecycle()
		span := domain.NewExecutionID()
		require.NoError(t, l.Apply(ev(domain.WorkflowExecutionResumed, span)))
		require.NoError(t, l.Apply(ev(domain.WorkflowExecutionFulfilled, span)))
	})

	t.Run("Snapshots", func(t *testing.T) {
		l := domain.NewLifecycle()
		span := domain.NewExecutionID()
		assert.ErrorIs(t, l.Apply(ev(domain.WorkflowExecutionSnapshotted, span)), domain.ErrInvalidTransition)

		require.NoError(t, l.Apply(ev(domain.WorkflowExecutionInitiated, span)))
		require.NoError(t, l.Apply(ev(domain.WorkflowExecutionSnapshotted, span)))
		assert.Equal(t, domain.PhaseInitiated, l.Phase(span))
	})
}
