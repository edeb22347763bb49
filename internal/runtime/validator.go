package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/espalier/pkg/capability"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/schema"
)

// Validate runs the validating phase for a registered plan: every step's
// capability must resolve, declared parameter schemas must hold, and
// handlers supporting dry runs are invoked in dry-run mode. Any failure
// aborts before a single side effect; the record returns to Planned so the
// plan can be re-validated after the host fixes its registry.
func (e *Engine) Validate(ctx context.Context, planID string) error {
	rec, err := e.load(ctx, planID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return fmt.Errorf("plan %q: %w", planID, domain.ErrPlanTerminal)
	}
	if rec.Status != domain.StatusPlanned {
		return fmt.Errorf("plan %q: cannot validate in status %q", planID, rec.Status)
	}

	e.transitionPlan(ctx, rec, domain.StatusValidating)
	if err := e.save(ctx, rec); err != nil {
		return err
	}

	valErr := e.validateSteps(ctx, &rec.Plan)

	// Validation is repeatable: success and failure both land back on
	// Planned, only the error surfaces the difference.
	e.transitionPlan(ctx, rec, domain.StatusPlanned)
	if err := e.save(ctx, rec); err != nil {
		return err
	}

	if valErr != nil {
		e.logger.WarnContext(ctx, "plan validation failed", "plan_id", planID, "err", valErr)
		return valErr
	}
	e.logger.InfoContext(ctx, "plan validated", "plan_id", planID)
	return nil
}

func (e *Engine) validateSteps(ctx context.Context, plan *domain.Plan) error {
	for i := range plan.Steps {
		step := &plan.Steps[i]

		handler, err := e.registry.Resolve(step.Skill, step.Action)
		if err != nil {
			return fmt.Errorf("step %q: %w", step.ID, err)
		}

		if pv, ok := handler.(capability.ParamValidator); ok {
			if err := schema.Validate(pv.ParamSchema(), step.Params); err != nil {
				return fmt.Errorf("step %q: invalid params: %w", step.ID, err)
			}
		}

		if dr, ok := handler.(capability.DryRunner); ok {
			if err := dr.DryRun(ctx, step.Params); err != nil {
				return fmt.Errorf("step %q: dry run failed: %w", step.ID, err)
			}
		}

		// Rollback capabilities must resolve now: discovering a missing
		// compensation in the middle of an unwind is too late.
		if step.Rollback != nil {
			if _, err := e.registry.Resolve(step.Rollback.Skill, step.Rollback.Action); err != nil {
				return fmt.Errorf("step %q rollback: %w", step.ID, err)
			}
		}
	}
	return nil
}
