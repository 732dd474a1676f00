package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/loom"
	"github.com/aretw0/loom/internal/config"
	"github.com/aretw0/loom/internal/logging"
	"github.com/aretw0/loom/pkg/adapters/file"
	"github.com/aretw0/loom/pkg/adapters/memory"
	redisadapter "github.com/aretw0/loom/pkg/adapters/redis"
	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/observability"
	"github.com/aretw0/loom/pkg/persistence/middleware"
	"github.com/aretw0/loom/pkg/runner"
	"github.com/aretw0/loom/pkg/session"
)

// NewLogger builds the logger described by cfg, writing to w.
func NewLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewWithWriter(w, level, cfg.Format == "json"), nil
}

// NewEngine initializes an Engine with the store, security and runner settings
// of cfg. opts are applied last and win over the configured ones.
func NewEngine(cfg *config.Config, logger *slog.Logger, opts ...loom.Option) (*loom.Engine, error) {
	engineOpts := []loom.Option{
		loom.WithLogger(logger),
		loom.WithLoader(file.NewLoader(cfg.Workflows.Dir)),
		loom.WithEventSink(observability.NewLogSink(logger)),
		loom.WithRunnerOptions(
			runner.WithLogger(logger),
			runner.WithConcurrency(cfg.Runner.Concurrency),
			runner.WithMaxSteps(cfg.Runner.MaxSteps),
			runner.WithSnapshots(cfg.Runner.Snapshots),
			runner.WithRedactor(domain.Redactor{MaxPayloadBytes: cfg.Runner.MaxPayloadBytes}),
			runner.WithMiddleware(runner.Logging(logger)),
		),
	}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		engineOpts = append(engineOpts, loom.WithStore(memory.NewStore()))
	case config.BackendFile:
		engineOpts = append(engineOpts, loom.WithStore(file.New(cfg.Store.Dir)))
	case config.BackendRedis:
		rc := cfg.Store.Redis
		store := redisadapter.New(rc.Addr, rc.Password, rc.DB,
			redisadapter.WithPrefix(rc.Prefix),
			redisadapter.WithTTL(rc.TTL),
		)
		engineOpts = append(engineOpts,
			loom.WithStore(store),
			loom.WithLocker(redisadapter.NewLocker(store.Client(), rc.Prefix)),
			loom.WithSessionOptions(session.WithLockTTL(rc.LockTTL)),
			loom.WithCloser(store),
		)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	// PII masking runs before encryption so masked values are what gets sealed.
	if len(cfg.Security.PIIPatterns) > 0 {
		pii, err := middleware.NewPIIMiddleware(cfg.Security.PIIPatterns)
		if err != nil {
			return nil, fmt.Errorf("security.pii_patterns: %w", err)
		}
		engineOpts = append(engineOpts, loom.WithStoreMiddleware(pii))
	}
	keys, err := cfg.Security.Keys()
	if err != nil {
		return nil, err
	}
	if keys != nil {
		engineOpts = append(engineOpts, loom.WithStoreMiddleware(middleware.NewEncryptionMiddleware(*keys)))
	}

	logger.Debug("engine configured",
		"store", cfg.Store.Backend,
		"workflows", cfg.Workflows.Dir,
		"encrypted", keys != nil,
		"pii_patterns", len(cfg.Security.PIIPatterns),
	)
	return loom.New(append(engineOpts, opts...)...), nil
}
