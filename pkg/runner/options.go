package runner

import (
	"log/slog"

	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/ports"
)

// DefaultConcurrency is the number of node executions run in parallel by default.
const DefaultConcurrency = 4

// Option defines a functional option for configuring the Runner.
type Option func(*Runner)

// WithLogger configures the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithConcurrency bounds the number of node executions running at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithMaxSteps rejects a run once it started more than n node executions.
// Zero disables the guard.
func WithMaxSteps(n int) Option {
	return func(r *Runner) {
		r.maxSteps = n
	}
}

// WithSnapshots emits a workflow.execution.snapshotted event for every batch of
// state deltas recorded during a run.
func WithSnapshots(enabled bool) Option {
	return func(r *Runner) {
		r.snapshots = enabled
	}
}

// WithEventSink adds sinks receiving every lifecycle event.
func WithEventSink(sinks ...ports.EventSink) Option {
	return func(r *Runner) {
		r.sinks = append(r.sinks, sinks...)
	}
}

// WithRedactor bounds the size of event payloads.
func WithRedactor(redactor domain.Redactor) Option {
	return func(r *Runner) {
		r.redactor = redactor
	}
}

// WithMiddleware wraps every node function, outermost first.
func WithMiddleware(mws ...Middleware) Option {
	return func(r *Runner) {
		r.middleware = append(r.middleware, mws...)
	}
}
