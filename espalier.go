package espalier

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/espalier/internal/adapters/file"
	"github.com/aretw0/espalier/internal/compiler"
	"github.com/aretw0/espalier/internal/presentation/graph"
	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/capability"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/session"
)

// Engine is the high-level entry point for the espalier library.
// It wraps the internal runtime with per-plan locking and provides a
// simplified API for consumers.
type Engine struct {
	runtime  *runtime.Engine
	sessions *session.Manager
	registry *capability.Registry

	store       ports.StateStore
	locker      ports.DistributedLocker
	logger      *slog.Logger
	hooks       domain.LifecycleHooks
	runtimeOpts []runtime.Option
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStore injects a custom state store, bypassing the default file store.
func WithStore(store ports.StateStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLocker enables distributed locking for multi-replica deployments.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithRetryBackoff sets the pause before the automatic retry of a retryable
// capability error.
func WithRetryBackoff(d time.Duration) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithRetryBackoff(d))
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.runtimeOpts = append(e.runtimeOpts, runtime.WithClock(clock))
	}
}

// New initializes an espalier Engine around a capability registry.
// By default runs persist to a file store under .espalier/runs; inject
// another store with WithStore.
func New(registry *capability.Registry, opts ...Option) (*Engine, error) {
	eng := &Engine{registry: registry}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.store == nil {
		eng.store = file.NewStore("")
	}
	if eng.logger == nil {
		eng.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	sessionOpts := []session.Option{session.WithLogger(eng.logger)}
	if eng.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(eng.locker))
	}
	eng.sessions = session.NewManager(eng.store, sessionOpts...)

	runtimeOpts := []runtime.Option{
		runtime.WithLogger(eng.logger),
		runtime.WithLifecycleHooks(eng.hooks),
	}
	runtimeOpts = append(runtimeOpts, eng.runtimeOpts...)

	eng.runtime = runtime.NewEngine(registry, eng.store, runtimeOpts...)

	return eng, nil
}

// Registry returns the capability registry the engine resolves against.
func (e *Engine) Registry() *capability.Registry {
	return e.registry
}

// Plan parses and registers a plan document (YAML or JSON), returning the
// preview to hand to whoever approves the run.
func (e *Engine) Plan(ctx context.Context, document []byte) (*domain.PlanPreview, error) {
	plan, err := compiler.ParseDocument(document)
	if err != nil {
		return nil, err
	}

	var preview *domain.PlanPreview
	err = e.sessions.WithLock(ctx, plan.ID, func(ctx context.Context) error {
		var err error
		preview, err = e.runtime.Plan(ctx, document)
		return err
	})
	return preview, err
}

// Validate runs the validating phase: capability resolution, parameter
// schema checks and dry runs. No side effects either way.
func (e *Engine) Validate(ctx context.Context, planID string) error {
	return e.sessions.WithLock(ctx, planID, func(ctx context.Context) error {
		return e.runtime.Validate(ctx, planID)
	})
}

// Approve records the external approval signal for a registered plan.
func (e *Engine) Approve(ctx context.Context, planID string) error {
	return e.sessions.WithLock(ctx, planID, func(ctx context.Context) error {
		return e.runtime.Approve(ctx, planID)
	})
}

// Execute runs an approved plan to a terminal status. The per-plan lock is
// held for the whole run, so concurrent Execute or Abort calls for the same
// plan serialize behind it.
func (e *Engine) Execute(ctx context.Context, planID string) (*domain.ExecutionReport, error) {
	var report *domain.ExecutionReport
	err := e.sessions.WithLock(ctx, planID, func(ctx context.Context) error {
		var err error
		report, err = e.runtime.Execute(ctx, planID)
		return err
	})
	return report, err
}

// Resume picks up an interrupted run from its persisted record.
func (e *Engine) Resume(ctx context.Context, planID string) (*domain.ExecutionReport, error) {
	var report *domain.ExecutionReport
	err := e.sessions.WithLock(ctx, planID, func(ctx context.Context) error {
		var err error
		report, err = e.runtime.Resume(ctx, planID)
		return err
	})
	return report, err
}

// Abort stops a run and unwinds completed steps via their compensations.
func (e *Engine) Abort(ctx context.Context, planID string) (*domain.RollbackReport, error) {
	var report *domain.RollbackReport
	err := e.sessions.WithLock(ctx, planID, func(ctx context.Context) error {
		var err error
		report, err = e.runtime.Abort(ctx, planID)
		return err
	})
	return report, err
}

// Status returns a snapshot of the persisted execution record. It reads the
// store directly so a run in progress (which holds the plan lock for its
// full duration) can still be observed.
func (e *Engine) Status(ctx context.Context, planID string) (*domain.ExecutionRecord, error) {
	return e.store.Load(ctx, planID)
}

// List returns the plan IDs of all persisted runs.
func (e *Engine) List(ctx context.Context) ([]string, error) {
	return e.sessions.List(ctx)
}

// Delete removes a run's persisted record.
func (e *Engine) Delete(ctx context.Context, planID string) error {
	return e.sessions.Delete(ctx, planID)
}

// Graph renders the plan's step DAG as a Mermaid flowchart, styled with the
// run's current step statuses.
func (e *Engine) Graph(ctx context.Context, planID string) (string, error) {
	rec, err := e.store.Load(ctx, planID)
	if err != nil {
		return "", err
	}
	return graph.GenerateMermaid(&rec.Plan, graph.OverlayFromRecord(rec)), nil
}
