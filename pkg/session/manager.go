package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/loom/internal/logging"
	"github.com/aretw0/loom/pkg/domain"
	"github.com/aretw0/loom/pkg/ports"
	"github.com/aretw0/loom/pkg/state"
)

// DefaultLockTTL bounds how long a distributed session lock is held.
const DefaultLockTTL = 30 * time.Second

// sessionLock serializes work on one session inside this process. waiters
// counts the goroutines holding or queued on mu so the entry can be dropped
// once nobody needs it.
type sessionLock struct {
	mu      sync.Mutex
	waiters int
}

// Manager loads, updates and saves sessions through a StateStore. Updates of
// one session never interleave: a per-session mutex guards them locally and an
// optional DistributedLocker guards them across replicas.
type Manager struct {
	store ports.StateStore

	mu    sync.Mutex
	locks map[string]*sessionLock

	locker  ports.DistributedLocker
	lockTTL time.Duration
	restore []state.RestoreOption
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker makes every locked operation also take a distributed lock.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the TTL of distributed locks. Non-positive values keep the default.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithRestoreOptions configures how loaded states are rebuilt, for example
// state.WithKnownNodes to drop history of nodes no longer in the workflow.
func WithRestoreOptions(opts ...state.RestoreOption) Option {
	return func(m *Manager) {
		m.restore = append(m.restore, opts...)
	}
}

// WithLogger sets the logger used for restored states and lock warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager returns a Manager persisting sessions in store.
func NewManager(store ports.StateStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*sessionLock),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lockLocal blocks until the in-process lock of sessionID is held and returns
// the function releasing it.
func (m *Manager) lockLocal(sessionID string) func() {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		m.locks[sessionID] = l
	}
	l.waiters++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		if l.waiters--; l.waiters == 0 {
			delete(m.locks, sessionID)
		}
		m.mu.Unlock()
	}
}

// Load retrieves and restores an existing session.
func (m *Manager) Load(ctx context.Context, sessionID string) (*state.State, error) {
	var st *state.State
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		st, err = m.load(ctx, sessionID)
		return err
	})
	return st, err
}

// Inspect returns the persisted form of a session without restoring it.
func (m *Manager) Inspect(ctx context.Context, sessionID string) (*state.Persisted, error) {
	return m.store.Load(ctx, sessionID)
}

// LoadOrStart loads a session, creating and saving an empty one when it does
// not exist yet.
func (m *Manager) LoadOrStart(ctx context.Context, sessionID string) (*state.State, error) {
	var st *state.State
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		st, err = m.load(ctx, sessionID)
		if err == nil {
			return nil
		}

		if !errors.Is(err, domain.ErrSessionNotFound) {
			return fmt.Errorf("load session %q: %w", sessionID, err)
		}
		st = state.New(state.WithLogger(m.logger))
		if err := m.store.Save(ctx, sessionID, st.Snapshot()); err != nil {
			return fmt.Errorf("create session %q: %w", sessionID, err)
		}
		return nil
	})
	return st, err
}

// Save persists st as sessionID.
func (m *Manager) Save(ctx context.Context, sessionID string, st *state.State) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Save(ctx, sessionID, st.Snapshot())
	})
}

// Delete removes the session from the store.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Delete(ctx, sessionID)
	})
}

// List returns the ids of every stored session.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying state store.
func (m *Manager) Store() ports.StateStore {
	return m.store
}

// Update loads a session (or starts one), hands it to fn and saves it afterwards,
// all while holding the session lock. The state is saved even when fn fails so
// that a rejected run stays inspectable.
func (m *Manager) Update(ctx context.Context, sessionID string, fn func(ctx context.Context, st *state.State) error) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		st, err := m.load(ctx, sessionID)
		if errors.Is(err, domain.ErrSessionNotFound) {
			st, err = state.New(state.WithLogger(m.logger)), nil
		}
		if err != nil {
			return err
		}

		fnErr := fn(ctx, st)
		if err := m.store.Save(context.WithoutCancel(ctx), sessionID, st.Snapshot()); err != nil {
			return errors.Join(fnErr, fmt.Errorf("save session %q: %w", sessionID, err))
		}
		return fnErr
	})
}

func (m *Manager) load(ctx context.Context, sessionID string) (*state.State, error) {
	p, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	opts := append([]state.RestoreOption{state.WithStateOptions(state.WithLogger(m.logger))}, m.restore...)
	return state.Restore(p, opts...)
}

// WithLock runs fn while holding the session lock.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	unlock := m.lockLocal(sessionID)
	defer unlock()

	if m.locker == nil {
		return fn(ctx)
	}
	release, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
	if err != nil {
		return fmt.Errorf("lock session %q: %w", sessionID, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("session lock not released, it expires with its ttl",
				"session_id", sessionID, "ttl", m.lockTTL, "err", err)
		}
	}()
	return fn(ctx)
}
