package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/espalier/internal/compiler"
	"github.com/aretw0/espalier/internal/graph"
	"github.com/aretw0/espalier/pkg/capability"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// defaultRetryBackoff bounds the single automatic retry for retryable
// capability errors.
const defaultRetryBackoff = 500 * time.Millisecond

// Engine drives a plan run through its phases:
// Planning -> Validating -> Executing -> {Completed | Aborting},
// with Aborting -> {Aborted | RolledBack | AbortFailed}.
//
// The engine owns the ExecutionRecord for the duration of a run and
// persists every transition before evaluating the next step. Callers must
// guarantee a single active engine per plan ID (see pkg/session).
type Engine struct {
	registry *capability.Registry
	store    ports.StateStore

	logger       *slog.Logger
	hooks        domain.LifecycleHooks
	clock        func() time.Time
	retryBackoff time.Duration
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets a structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithRetryBackoff sets the pause before the single automatic retry of a
// retryable capability error.
func WithRetryBackoff(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryBackoff = d
		}
	}
}

// NewEngine creates an engine bound to a capability registry and a state
// store.
func NewEngine(registry *capability.Registry, store ports.StateStore, opts ...Option) *Engine {
	e := &Engine{
		registry:     registry,
		store:        store,
		logger:       slog.New(slog.NewJSONHandler(io.Discard, nil)),
		clock:        time.Now,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plan parses and registers a plan document, returning the preview emitted
// for external approval. The planning phase has no side effects beyond the
// persisted record.
func (e *Engine) Plan(ctx context.Context, document []byte) (*domain.PlanPreview, error) {
	plan, err := compiler.ParseDocument(document)
	if err != nil {
		return nil, err
	}

	if existing, err := e.store.Load(ctx, plan.ID); err == nil {
		return nil, fmt.Errorf("plan %q (run %s): %w", plan.ID, existing.RunID, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrRunNotFound) {
		return nil, fmt.Errorf("failed to check for existing run: %w", err)
	}

	layers, err := graph.Layers(plan)
	if err != nil {
		return nil, err
	}

	now := e.clock()
	rec := domain.NewExecutionRecord(*plan, uuid.NewString(), now)
	e.transitionPlan(ctx, rec, domain.StatusPlanned)
	if err := e.save(ctx, rec); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "plan registered",
		"plan_id", plan.ID,
		"run_id", rec.RunID,
		"steps", len(plan.Steps),
		"layers", len(layers),
	)

	return buildPreview(plan, layers), nil
}

// Approve records the external approval signal. Execution refuses to start
// without it; there is no configuration to bypass the gate.
func (e *Engine) Approve(ctx context.Context, planID string) error {
	rec, err := e.load(ctx, planID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("plan %q: %w", planID, domain.ErrPlanTerminal)
	}
	if rec.Approved {
		return nil // idempotent
	}
	rec.Approved = true
	rec.UpdatedAt = e.clock()
	if err := e.save(ctx, rec); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "plan approved", "plan_id", planID)
	return nil
}

// Status returns a snapshot of the persisted execution record.
func (e *Engine) Status(ctx context.Context, planID string) (*domain.ExecutionRecord, error) {
	return e.load(ctx, planID)
}

// load fetches a record and restores its in-memory counters.
func (e *Engine) load(ctx context.Context, planID string) (*domain.ExecutionRecord, error) {
	rec, err := e.store.Load(ctx, planID)
	if err != nil {
		return nil, err
	}
	rec.RestoreSeq()
	return rec, nil
}

// save persists the record. Persist-before-advance: every caller writes the
// record before evaluating the next step.
func (e *Engine) save(ctx context.Context, rec *domain.ExecutionRecord) error {
	if err := e.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist run %q: %w", rec.PlanID, err)
	}
	return nil
}

// transitionPlan applies a plan-level status change and fires hooks.
func (e *Engine) transitionPlan(ctx context.Context, rec *domain.ExecutionRecord, to domain.PlanStatus) {
	from := rec.Status
	rec.SetPlanStatus(to, e.clock())
	if e.hooks.OnPhaseChange != nil {
		e.hooks.OnPhaseChange(ctx, &domain.PhaseEvent{
			Timestamp: rec.UpdatedAt,
			PlanID:    rec.PlanID,
			RunID:     rec.RunID,
			From:      from,
			To:        to,
		})
	}
}

func buildPreview(plan *domain.Plan, layers [][]string) *domain.PlanPreview {
	preview := &domain.PlanPreview{
		PlanID: plan.ID,
		Name:   plan.Name,
		Layers: layers,
	}
	seen := make(map[domain.CapabilityRef]struct{})
	for _, s := range plan.Steps {
		ref := domain.CapabilityRef{Skill: s.Skill, Action: s.Action}
		if _, ok := seen[ref]; !ok {
			seen[ref] = struct{}{}
			preview.Capabilities = append(preview.Capabilities, ref)
		}
		if s.Rollback != nil {
			ref = domain.CapabilityRef{Skill: s.Rollback.Skill, Action: s.Rollback.Action}
			if _, ok := seen[ref]; !ok {
				seen[ref] = struct{}{}
				preview.Capabilities = append(preview.Capabilities, ref)
			}
		} else {
			preview.Risks = append(preview.Risks,
				fmt.Sprintf("step %q has no rollback action; its effects cannot be compensated on abort", s.ID))
		}
	}
	return preview
}

func buildReport(rec *domain.ExecutionRecord) *domain.ExecutionReport {
	report := &domain.ExecutionReport{
		PlanID:   rec.PlanID,
		RunID:    rec.RunID,
		Status:   rec.Status,
		Rollback: rec.Rollback,
	}
	for i := range rec.Steps {
		sr := &rec.Steps[i]
		report.Steps = append(report.Steps, domain.StepOutcome{
			StepID: sr.StepID,
			Status: sr.Status,
			Error:  sr.Error,
		})
	}
	return report
}
