package observability

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/loom/pkg/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of TracingSink spans.
const TracerName = "github.com/aretw0/loom"

// TracingSink mirrors workflow runs and node executions as OpenTelemetry spans.
// A span opens on initiated (or resumed) and closes on fulfilled, rejected or
// paused; a resumed execution opens a fresh span. Nested spans are parented
// through the event's ParentContext.
type TracingSink struct {
	tracer trace.Tracer

	mu   sync.Mutex
	open map[domain.ExecutionID]openSpan
}

type openSpan struct {
	ctx  context.Context
	span trace.Span
}

// NewTracingSink creates a sink using a tracer from tp.
func NewTracingSink(tp trace.TracerProvider) *TracingSink {
	return &TracingSink{
		tracer: tp.Tracer(TracerName),
		open:   make(map[domain.ExecutionID]openSpan),
	}
}

// Emit implements ports.EventSink.
func (s *TracingSink) Emit(ctx context.Context, e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Name.Phase() {
	case domain.PhaseInitiated, domain.PhaseResumed:
		parent := ctx
		if e.Parent != nil {
			if p, ok := s.open[e.Parent.SpanID]; ok {
				parent = p.ctx
			}
		}
		spanCtx, span := s.tracer.Start(parent, spanTitle(e),
			trace.WithTimestamp(e.Timestamp),
			trace.WithAttributes(s.attributes(e)...),
		)
		if e.Name.Phase() == domain.PhaseResumed {
			span.SetAttributes(attribute.Bool("loom.resumed", true))
		}
		s.open[e.SpanID] = openSpan{ctx: spanCtx, span: span}

	case domain.PhaseStreaming:
		if o, ok := s.open[e.SpanID]; ok && e.Body.Output != nil {
			o.span.AddEvent("output", trace.WithTimestamp(e.Timestamp),
				trace.WithAttributes(attribute.String("loom.output", e.Body.Output.Name)))
		}

	case domain.PhaseSnapshotted:
		if o, ok := s.open[e.SpanID]; ok {
			o.span.AddEvent("snapshot", trace.WithTimestamp(e.Timestamp))
		}

	case domain.PhaseFulfilled:
		s.end(e, func(span trace.Span) { span.SetStatus(codes.Ok, "") })

	case domain.PhaseRejected:
		s.end(e, func(span trace.Span) {
			msg, code := "rejected", ""
			if e.Body.Error != nil {
				msg, code = e.Body.Error.Message, e.Body.Error.Code
			}
			span.RecordError(fmt.Errorf("%s", msg), trace.WithTimestamp(e.Timestamp))
			span.SetAttributes(attribute.String("loom.error.code", code))
			span.SetStatus(codes.Error, msg)
		})

	case domain.PhasePaused:
		s.end(e, func(span trace.Span) {
			span.SetAttributes(attribute.String("loom.awaiting", e.Body.AwaitingKey))
		})
	}
}

func (s *TracingSink) end(e domain.Event, fn func(trace.Span)) {
	o, ok := s.open[e.SpanID]
	if !ok {
		return
	}
	delete(s.open, e.SpanID)
	fn(o.span)
	o.span.End(trace.WithTimestamp(e.Timestamp))
}

func (s *TracingSink) attributes(e domain.Event) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("loom.trace_id", e.TraceID.String()),
		attribute.String("loom.span_id", e.SpanID.String()),
		attribute.String("loom.workflow", e.Body.WorkflowName),
	}
	if e.Body.NodeName != "" {
		attrs = append(attrs, attribute.String("loom.node", e.Body.NodeName))
	}
	return attrs
}

func spanTitle(e domain.Event) string {
	if e.Name.IsNode() {
		return "node " + e.Body.NodeName
	}
	return "workflow " + e.Body.WorkflowName
}
