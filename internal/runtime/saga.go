package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/espalier/pkg/domain"
)

// Abort stops a run and unwinds completed work. Safe to call on a run that
// never started executing; terminal runs are rejected.
func (e *Engine) Abort(ctx context.Context, planID string) (*domain.RollbackReport, error) {
	rec, err := e.load(ctx, planID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, fmt.Errorf("plan %q: %w", planID, domain.ErrPlanTerminal)
	}

	if rec.Status != domain.StatusAborting {
		e.transitionPlan(ctx, rec, domain.StatusAborting)
		if err := e.save(ctx, rec); err != nil {
			return nil, err
		}
	}
	return e.unwind(ctx, rec)
}

// unwind replays compensations for succeeded steps in strict reverse
// completion order. It is best-effort: a failing compensation is recorded
// and the unwind continues with the remaining steps. Steps without a
// rollback action are reported unrecoverable rather than failing the
// unwind.
//
// Final plan status:
//   - Aborted      when there was nothing to compensate,
//   - RolledBack   when no compensation failed,
//   - AbortFailed  when at least one did (manual intervention required).
func (e *Engine) unwind(ctx context.Context, rec *domain.ExecutionRecord) (*domain.RollbackReport, error) {
	report := &domain.RollbackReport{PlanID: rec.PlanID}
	if rec.Rollback != nil {
		// Resuming an interrupted unwind: keep the entries already recorded.
		report.Entries = rec.Rollback.Entries
	}
	rec.Rollback = report

	succeeded := rec.Succeeded()
	e.logger.InfoContext(ctx, "rolling back",
		"plan_id", rec.PlanID,
		"steps_to_compensate", len(succeeded),
	)

	hadWork := len(succeeded) > 0 || len(report.Entries) > 0

	reported := make(map[string]struct{}, len(report.Entries))
	for _, entry := range report.Entries {
		reported[entry.StepID] = struct{}{}
	}

	// Reverse completion order, never declaration order.
	for i := len(succeeded) - 1; i >= 0; i-- {
		stepID := succeeded[i]
		if _, done := reported[stepID]; done {
			continue // already attempted in an interrupted unwind
		}
		step, ok := rec.Plan.Step(stepID)
		if !ok {
			continue
		}

		entry := domain.RollbackEntry{StepID: stepID, At: e.clock()}

		switch {
		case step.Rollback == nil:
			entry.Outcome = domain.RollbackUnrecoverable

		default:
			handler, err := e.registry.Resolve(step.Rollback.Skill, step.Rollback.Action)
			if err != nil {
				entry.Outcome = domain.RollbackFailed
				entry.Error = err.Error()
			} else if _, err := handler.Execute(ctx, step.Rollback.Params); err != nil {
				entry.Outcome = domain.RollbackFailed
				entry.Error = err.Error()
				e.logger.WarnContext(ctx, "compensation failed",
					"plan_id", rec.PlanID,
					"step_id", stepID,
					"err", err,
				)
			} else {
				entry.Outcome = domain.RollbackApplied
				e.transitionStep(rec, stepID, domain.StepRolledBack)
			}
		}

		report.Entries = append(report.Entries, entry)
		rec.UpdatedAt = e.clock()
		if err := e.save(ctx, rec); err != nil {
			return nil, err
		}

		if e.hooks.OnRollbackStep != nil {
			e.hooks.OnRollbackStep(ctx, &domain.RollbackEvent{
				Timestamp: entry.At,
				PlanID:    rec.PlanID,
				StepID:    stepID,
				Outcome:   entry.Outcome,
			})
		}
	}

	final := domain.StatusRolledBack
	switch {
	case report.Failed():
		final = domain.StatusAbortFailed
	case !hadWork:
		final = domain.StatusAborted
	}
	report.Status = final

	e.transitionPlan(ctx, rec, final)
	if err := e.save(ctx, rec); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "rollback finished",
		"plan_id", rec.PlanID,
		"status", final,
		"entries", len(report.Entries),
	)
	return report, nil
}
