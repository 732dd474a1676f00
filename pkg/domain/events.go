package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventName is the fully qualified lifecycle event name.
type EventName string

const (
	WorkflowExecutionInitiated   EventName = "workflow.execution.initiated"
	WorkflowExecutionStreaming   EventName = "workflow.execution.streaming"
	WorkflowExecutionFulfilled   EventName = "workflow.execution.fulfilled"
	WorkflowExecutionRejected    EventName = "workflow.execution.rejected"
	WorkflowExecutionPaused      EventName = "workflow.execution.paused"
	WorkflowExecutionResumed     EventName = "workflow.execution.resumed"
	WorkflowExecutionSnapshotted EventName = "workflow.execution.snapshotted"

	NodeExecutionInitiated EventName = "node.execution.initiated"
	NodeExecutionStreaming EventName = "node.execution.streaming"
	NodeExecutionFulfilled EventName = "node.execution.fulfilled"
	NodeExecutionRejected  EventName = "node.execution.rejected"
	NodeExecutionPaused    EventName = "node.execution.paused"
	NodeExecutionResumed   EventName = "node.execution.resumed"
)

// Phase is the lifecycle stage an event moves its span into.
type Phase string

const (
	PhaseInitiated   Phase = "initiated"
	PhaseStreaming   Phase = "streaming"
	PhaseFulfilled   Phase = "fulfilled"
	PhaseRejected    Phase = "rejected"
	PhasePaused      Phase = "paused"
	PhaseResumed     Phase = "resumed"
	PhaseSnapshotted Phase = "snapshotted"
)

// Phase returns the lifecycle phase encoded in the event name.
func (n EventName) Phase() Phase {
	s := string(n)
	return Phase(s[strings.LastIndex(s, ".")+1:])
}

// IsWorkflow reports whether the event belongs to the workflow-level lifecycle.
func (n EventName) IsWorkflow() bool { return strings.HasPrefix(string(n), "workflow.") }

// IsNode reports whether the event belongs to the node-level lifecycle.
func (n EventName) IsNode() bool { return strings.HasPrefix(string(n), "node.") }

// IsTerminal reports whether the phase closes a span.
func (p Phase) IsTerminal() bool { return p == PhaseFulfilled || p == PhaseRejected }

// ErrorInfo is the rejection payload.
type ErrorInfo struct {
	Message    string         `json:"message"`
	Code       string         `json:"code"`
	RawData    map[string]any `json:"raw_data,omitempty"`
	Stacktrace string         `json:"stacktrace,omitempty"`
}

// StreamedOutput is one incremental value emitted while a span is streaming.
type StreamedOutput struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// EventBody holds the payload of an event. Which fields are set depends on the event name.
type EventBody struct {
	WorkflowID   WorkflowID      `json:"workflow_id,omitempty"`
	WorkflowName string          `json:"workflow_name,omitempty"`
	NodeID       NodeID          `json:"node_id,omitempty"`
	NodeName     string          `json:"node_name,omitempty"`
	Inputs       map[string]any  `json:"inputs,omitempty"`
	Outputs      map[string]any  `json:"outputs,omitempty"`
	Output       *StreamedOutput `json:"output,omitempty"`
	Error        *ErrorInfo      `json:"error,omitempty"`
	AwaitingKey  string          `json:"awaiting_key,omitempty"`
	// State is a full capture of the run State (snapshotted events only);
	// Deltas is the batch of changes that triggered it.
	State        any             `json:"state,omitempty"`
	Deltas       []StateDelta    `json:"deltas,omitempty"`
	Redacted     bool            `json:"redacted,omitempty"`
}

// Event is an immutable, timestamped, trace-correlated record of a lifecycle transition.
// Events are values: constructors copy every payload so later State mutation never
// leaks into an emitted event.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Name      EventName      `json:"name"`
	Timestamp time.Time      `json:"timestamp"`
	TraceID   uuid.UUID      `json:"trace_id"`
	SpanID    ExecutionID    `json:"span_id"`
	Parent    *ParentContext `json:"parent,omitempty"`
	Body      EventBody      `json:"body"`
}

// NewEvent builds an event stamped with now.
func NewEvent(name EventName, traceID uuid.UUID, spanID ExecutionID, parent *ParentContext, body EventBody) Event {
	return Event{
		ID:        uuid.New(),
		Name:      name,
		Timestamp: time.Now().UTC(),
		TraceID:   traceID,
		SpanID:    spanID,
		Parent:    parent.Clone(),
		Body:      body.clone(),
	}
}

func (b EventBody) clone() EventBody {
	out := b
	out.Inputs = CopyValue(b.Inputs).(map[string]any)
	out.Outputs = CopyValue(b.Outputs).(map[string]any)
	if b.Output != nil {
		out.Output = &StreamedOutput{Name: b.Output.Name, Value: CopyValue(b.Output.Value)}
	}
	if b.Deltas != nil {
		out.Deltas = make([]StateDelta, len(b.Deltas))
		for i, d := range b.Deltas {
			out.Deltas[i] = StateDelta{Op: d.Op, Path: d.Path, Value: CopyValue(d.Value)}
		}
	}
	if b.Error != nil {
		e := *b.Error
		e.RawData = CopyValue(b.Error.RawData).(map[string]any)
		out.Error = &e
	}
	return out
}

// Redactor degrades oversized payloads to empty values. Truncation would leave
// consumers with structurally invalid data, so the payload is replaced entirely.
type Redactor struct {
	// MaxPayloadBytes is the serialized size budget per payload field (0 = unlimited).
	MaxPayloadBytes int
}

// Apply returns e with every payload over budget replaced by an empty value.
func (r Redactor) Apply(e Event) Event {
	if r.MaxPayloadBytes <= 0 {
		return e
	}
	if r.oversized(e.Body.Outputs) {
		e.Body.Outputs = map[string]any{}
		e.Body.Redacted = true
	}
	if r.oversized(e.Body.Inputs) {
		e.Body.Inputs = map[string]any{}
		e.Body.Redacted = true
	}
	if e.Body.Output != nil && r.oversized(e.Body.Output.Value) {
		e.Body.Output = &StreamedOutput{Name: e.Body.Output.Name}
		e.Body.Redacted = true
	}
	if e.Body.State != nil && r.oversized(e.Body.State) {
		e.Body.State = map[string]any{}
		e.Body.Redacted = true
	}
	if len(e.Body.Deltas) > 0 && r.oversized(e.Body.Deltas) {
		e.Body.Deltas = []StateDelta{}
		e.Body.Redacted = true
	}
	return e
}

func (r Redactor) oversized(v any) bool {
	if v == nil {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		// Unserializable payloads cannot be shipped to consumers either.
		return true
	}
	return len(data) > r.MaxPayloadBytes
}

// CopyValue deep-copies JSON-like values (maps, slices). Other values are returned as is.
// A nil map[string]any stays a typed nil so callers can type-assert the result.
func CopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if t == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = CopyValue(val)
		}
		return out
	case []any:
		if t == nil {
			return []any(nil)
		}
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = CopyValue(val)
		}
		return out
	default:
		return v
	}
}
