package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/loom/pkg/graph"
)

// Middleware wraps a node function with a cross-cutting policy.
type Middleware func(next graph.NodeFunc) graph.NodeFunc

// Chain composes middlewares; the first one is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next graph.NodeFunc) graph.NodeFunc {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Timeout bounds each node execution. A node that overruns is rejected with
// context.DeadlineExceeded; it must honor its context for the bound to hold.
func Timeout(d time.Duration) Middleware {
	return func(next graph.NodeFunc) graph.NodeFunc {
		return func(ctx context.Context, ex *graph.Execution) (map[string]any, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			out, err := next(ctx, ex)
			if err == nil && ctx.Err() != nil {
				return nil, fmt.Errorf("node %s: %w", ex.Node.Name, ctx.Err())
			}
			return out, err
		}
	}
}

// Logging logs the duration and outcome of every node execution at debug level.
func Logging(logger *slog.Logger) Middleware {
	return func(next graph.NodeFunc) graph.NodeFunc {
		return func(ctx context.Context, ex *graph.Execution) (map[string]any, error) {
			start := time.Now()
			out, err := next(ctx, ex)
			logger.Debug("node executed",
				"node", ex.Node.Name,
				"execution_id", ex.ID,
				"duration", time.Since(start),
				"error", err,
			)
			return out, err
		}
	}
}
