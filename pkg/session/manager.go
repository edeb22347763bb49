package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// lockTTL bounds how long a dead holder can block other replicas.
const lockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes access to a plan's execution record. Each plan ID gets
// its own mutex, reference counted so idle entries are garbage collected.
// With a DistributedLocker configured the same guarantee extends across
// process boundaries.
type Manager struct {
	store ports.StateStore

	mu    sync.Mutex            // guards the map
	locks map[string]*lockEntry // active per-plan locks

	locker ports.DistributedLocker
	logger *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager over the given persistence store.
func NewManager(store ports.StateStore, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		locks:  make(map[string]*lockEntry),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller must lock entry.mu and call release(planID) after unlocking.
func (m *Manager) acquire(planID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[planID]
	if !exists {
		entry = &lockEntry{}
		m.locks[planID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry at zero.
func (m *Manager) release(planID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[planID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, planID)
	}
}

// Load retrieves a plan's execution record under its lock.
func (m *Manager) Load(ctx context.Context, planID string) (*domain.ExecutionRecord, error) {
	var rec *domain.ExecutionRecord
	err := m.WithLock(ctx, planID, func(ctx context.Context) error {
		var err error
		rec, err = m.store.Load(ctx, planID)
		return err
	})
	return rec, err
}

// Save persists the execution record under its plan's lock.
func (m *Manager) Save(ctx context.Context, rec *domain.ExecutionRecord) error {
	return m.WithLock(ctx, rec.PlanID, func(ctx context.Context) error {
		return m.store.Save(ctx, rec)
	})
}

// Delete removes the plan's record from the store.
func (m *Manager) Delete(ctx context.Context, planID string) error {
	return m.WithLock(ctx, planID, func(ctx context.Context) error {
		return m.store.Delete(ctx, planID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// WithLock executes fn while holding the plan's lock. Long-lived callers
// (an entire Execute run) hold the lock for their full duration, which is
// what keeps the single-writer-per-plan invariant.
func (m *Manager) WithLock(ctx context.Context, planID string, fn func(context.Context) error) error {
	entry := m.acquire(planID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(planID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, planID, lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"plan_id", planID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
