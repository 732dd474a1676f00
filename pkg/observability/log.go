package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/loom/pkg/domain"
)

// LogSink writes one log line per event: rejections at warn, streaming and
// snapshots at debug, everything else at info.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit implements ports.EventSink.
func (s *LogSink) Emit(ctx context.Context, e domain.Event) {
	level := slog.LevelInfo
	switch e.Name.Phase() {
	case domain.PhaseRejected:
		level = slog.LevelWarn
	case domain.PhaseStreaming, domain.PhaseSnapshotted:
		level = slog.LevelDebug
	}
	if !s.logger.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("trace_id", e.TraceID.String()),
		slog.String("span_id", e.SpanID.String()),
		slog.String("workflow", e.Body.WorkflowName),
	}
	if e.Body.NodeName != "" {
		attrs = append(attrs, slog.String("node", e.Body.NodeName))
	}
	if e.Body.AwaitingKey != "" {
		attrs = append(attrs, slog.String("awaiting", e.Body.AwaitingKey))
	}
	if e.Body.Error != nil {
		attrs = append(attrs, slog.String("code", e.Body.Error.Code), slog.String("error", e.Body.Error.Message))
	}
	if e.Body.Redacted {
		attrs = append(attrs, slog.Bool("redacted", true))
	}
	s.logger.LogAttrs(ctx, level, string(e.Name), attrs...)
}
