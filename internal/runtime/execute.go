package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/espalier/internal/graph"
	"github.com/aretw0/espalier/pkg/capability"
	"github.com/aretw0/espalier/pkg/domain"
)

// Execute drives an approved plan from Planned through Executing to a
// terminal status. Step failures are absorbed by the plan's failure policy
// and surface through the report, never as an error; the error return is
// reserved for infrastructure faults and precondition violations.
func (e *Engine) Execute(ctx context.Context, planID string) (*domain.ExecutionReport, error) {
	rec, err := e.load(ctx, planID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, fmt.Errorf("plan %q: %w", planID, domain.ErrPlanTerminal)
	}
	if rec.Status != domain.StatusPlanned {
		return nil, fmt.Errorf("plan %q: cannot execute in status %q (use Resume)", planID, rec.Status)
	}
	if !rec.Approved {
		return nil, fmt.Errorf("plan %q: %w", planID, domain.ErrNotApproved)
	}

	// Validating phase: fail fast before any side effect.
	e.transitionPlan(ctx, rec, domain.StatusValidating)
	if err := e.save(ctx, rec); err != nil {
		return nil, err
	}
	if valErr := e.validateSteps(ctx, &rec.Plan); valErr != nil {
		e.transitionPlan(ctx, rec, domain.StatusPlanned)
		if err := e.save(ctx, rec); err != nil {
			return nil, err
		}
		return nil, valErr
	}

	e.transitionPlan(ctx, rec, domain.StatusExecuting)
	if err := e.save(ctx, rec); err != nil {
		return nil, err
	}

	return e.runLoop(ctx, rec)
}

// Resume continues a run whose record is in a non-terminal state. Steps
// already Succeeded are never re-executed; steps interrupted mid-flight are
// reset to Pending and dispatched again.
func (e *Engine) Resume(ctx context.Context, planID string) (*domain.ExecutionReport, error) {
	rec, err := e.load(ctx, planID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, fmt.Errorf("plan %q: %w", planID, domain.ErrPlanTerminal)
	}
	if !rec.Approved {
		return nil, fmt.Errorf("plan %q: %w", planID, domain.ErrNotApproved)
	}

	// A crash can leave steps stranded in Ready/Running with an unknown
	// outcome. Reset them so the loop dispatches them again.
	for i := range rec.Steps {
		switch rec.Steps[i].Status {
		case domain.StepReady, domain.StepRunning:
			rec.SetStepStatus(rec.Steps[i].StepID, domain.StepPending, e.clock())
		}
	}

	switch rec.Status {
	case domain.StatusAborting:
		// Interrupted mid-rollback: keep unwinding.
		report, err := e.unwind(ctx, rec)
		if err != nil {
			return nil, err
		}
		rep := buildReport(rec)
		rep.Rollback = report
		return rep, nil

	case domain.StatusPlanned, domain.StatusValidating:
		if rec.Status == domain.StatusValidating {
			e.transitionPlan(ctx, rec, domain.StatusPlanned)
		}
		if err := e.save(ctx, rec); err != nil {
			return nil, err
		}
		return e.Execute(ctx, planID)

	case domain.StatusExecuting:
		if err := e.save(ctx, rec); err != nil {
			return nil, err
		}
		e.logger.InfoContext(ctx, "resuming run", "plan_id", planID, "run_id", rec.RunID)
		return e.runLoop(ctx, rec)

	default:
		return nil, fmt.Errorf("plan %q: cannot resume from status %q", planID, rec.Status)
	}
}

// stepResult carries a handler outcome back to the coordinating loop.
type stepResult struct {
	stepID   string
	output   any
	err      error
	attempts int
	duration time.Duration
}

// runLoop iterates the plan's step groups in dependency order, dispatching
// members sequentially by default or concurrently when the plan opts in.
func (e *Engine) runLoop(ctx context.Context, rec *domain.ExecutionRecord) (*domain.ExecutionReport, error) {
	plan := &rec.Plan
	layers, err := graph.Layers(plan)
	if err != nil {
		return nil, err
	}

	aborting := false

layerLoop:
	for _, layer := range layers {
		var sequential, concurrent []string
		for _, id := range layer {
			sr, ok := rec.StepRecord(id)
			if !ok || sr.Status != domain.StepPending {
				continue // already finished (resume) or skipped
			}

			satisfied, doomed := e.depsState(rec, id)
			if doomed != "" {
				sr.Error = fmt.Sprintf("dependency %q not satisfied", doomed)
				e.transitionStep(rec, id, domain.StepSkipped)
				if err := e.save(ctx, rec); err != nil {
					return nil, err
				}
				continue
			}
			if !satisfied {
				// Unreachable with layer ordering; guard against a corrupt record.
				return nil, fmt.Errorf("step %q not ready in its own layer", id)
			}

			step, _ := plan.Step(id)
			if plan.Policy.Parallel && plan.Policy.MaxConcurrency > 1 && step.ParallelSafe {
				concurrent = append(concurrent, id)
			} else {
				sequential = append(sequential, id)
			}
		}

		for _, id := range sequential {
			if ctx.Err() != nil {
				aborting = true
				break layerLoop
			}
			failed, err := e.dispatchOne(ctx, rec, id)
			if err != nil {
				return nil, err
			}
			if failed && plan.Policy.OnFailure == domain.FailureAbort {
				aborting = true
				break layerLoop
			}
		}

		if len(concurrent) > 0 {
			if ctx.Err() != nil {
				aborting = true
				break layerLoop
			}
			anyFailed, err := e.dispatchWaves(ctx, rec, concurrent)
			if err != nil {
				return nil, err
			}
			if anyFailed && plan.Policy.OnFailure == domain.FailureAbort {
				aborting = true
				break layerLoop
			}
		}
	}

	if ctx.Err() != nil {
		aborting = true
	}

	if aborting {
		e.transitionPlan(ctx, rec, domain.StatusAborting)
		// Compensations must run even when the trigger was cancellation.
		unwindCtx := context.WithoutCancel(ctx)
		if err := e.save(unwindCtx, rec); err != nil {
			return nil, err
		}
		if _, err := e.unwind(unwindCtx, rec); err != nil {
			return nil, err
		}
		return buildReport(rec), nil
	}

	e.transitionPlan(ctx, rec, domain.StatusCompleted)
	if err := e.save(ctx, rec); err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "run completed", "plan_id", rec.PlanID, "run_id", rec.RunID)
	return buildReport(rec), nil
}

// depsState inspects a step's dependencies. It returns satisfied=true when
// every dependency succeeded (or was skipped, if the plan allows skipped
// deps), or the ID of the dependency that dooms the step to Skipped.
func (e *Engine) depsState(rec *domain.ExecutionRecord, stepID string) (satisfied bool, doomed string) {
	step, _ := rec.Plan.Step(stepID)
	for _, dep := range step.DependsOn {
		dr, ok := rec.StepRecord(dep)
		if !ok {
			return false, dep
		}
		switch dr.Status {
		case domain.StepSucceeded:
			// satisfied
		case domain.StepSkipped:
			if !rec.Plan.Policy.AllowSkippedDeps {
				return false, dep
			}
		case domain.StepFailed, domain.StepRolledBack:
			return false, dep
		default:
			return false, ""
		}
	}
	return true, ""
}

// dispatchOne runs a single step synchronously: Ready -> Running is
// persisted before the handler call, the outcome is persisted before the
// loop evaluates anything else.
func (e *Engine) dispatchOne(ctx context.Context, rec *domain.ExecutionRecord, stepID string) (failed bool, err error) {
	if err := e.markRunning(ctx, rec, stepID); err != nil {
		return false, err
	}
	step, _ := rec.Plan.Step(stepID)
	res := e.invokeHandler(ctx, step)
	return e.applyResult(ctx, rec, res)
}

// dispatchWaves runs parallel-safe steps in waves bounded by the plan's
// max concurrency. Workers only call the handler; the coordinating
// goroutine applies and persists outcomes in arrival order, preserving the
// single-writer discipline on the record.
func (e *Engine) dispatchWaves(ctx context.Context, rec *domain.ExecutionRecord, stepIDs []string) (anyFailed bool, err error) {
	width := rec.Plan.Policy.MaxConcurrency

	for start := 0; start < len(stepIDs); start += width {
		if ctx.Err() != nil {
			return anyFailed, nil
		}
		if anyFailed && rec.Plan.Policy.OnFailure == domain.FailureAbort {
			return anyFailed, nil
		}

		end := start + width
		if end > len(stepIDs) {
			end = len(stepIDs)
		}
		wave := stepIDs[start:end]

		for _, id := range wave {
			if err := e.markRunning(ctx, rec, id); err != nil {
				return anyFailed, err
			}
		}

		results := make(chan stepResult, len(wave))
		for _, id := range wave {
			step, _ := rec.Plan.Step(id)
			go func(s *domain.Step) {
				results <- e.invokeHandler(ctx, s)
			}(step)
		}

		// Apply in arrival order so CompletionSeq reflects actual
		// completion, which rollback depends on.
		for range wave {
			res := <-results
			failed, err := e.applyResult(ctx, rec, res)
			if err != nil {
				return anyFailed, err
			}
			if failed {
				anyFailed = true
			}
		}
	}

	return anyFailed, nil
}

// markRunning transitions Pending -> Ready -> Running and persists before
// the handler is called. A step is Running for at most one dispatch of a
// given run.
func (e *Engine) markRunning(ctx context.Context, rec *domain.ExecutionRecord, stepID string) error {
	now := e.clock()
	rec.SetStepStatus(stepID, domain.StepReady, now)
	rec.SetStepStatus(stepID, domain.StepRunning, now)
	if err := e.save(ctx, rec); err != nil {
		return err
	}

	step, _ := rec.Plan.Step(stepID)
	e.logger.InfoContext(ctx, "step dispatched",
		"plan_id", rec.PlanID,
		"step_id", stepID,
		"skill", step.Skill,
		"action", step.Action,
	)
	if e.hooks.OnStepStart != nil {
		e.hooks.OnStepStart(ctx, &domain.StepEvent{
			Timestamp: now,
			PlanID:    rec.PlanID,
			StepID:    stepID,
			Skill:     step.Skill,
			Action:    step.Action,
			Status:    domain.StepRunning,
		})
	}
	return nil
}

// invokeHandler calls the step's capability, retrying once with bounded
// backoff when the handler reports a retryable failure.
func (e *Engine) invokeHandler(ctx context.Context, step *domain.Step) stepResult {
	res := stepResult{stepID: step.ID, attempts: 1}

	handler, err := e.registry.Resolve(step.Skill, step.Action)
	if err != nil {
		res.err = err
		return res
	}

	start := e.clock()
	res.output, res.err = handler.Execute(ctx, step.Params)

	if res.err != nil && isRetryable(res.err) && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-time.After(e.retryBackoff):
			res.attempts = 2
			res.output, res.err = handler.Execute(ctx, step.Params)
		}
	}

	res.duration = e.clock().Sub(start)
	return res
}

// applyResult persists a step outcome and fires hooks.
func (e *Engine) applyResult(ctx context.Context, rec *domain.ExecutionRecord, res stepResult) (failed bool, err error) {
	sr, ok := rec.StepRecord(res.stepID)
	if !ok {
		return false, fmt.Errorf("no record for step %q", res.stepID)
	}
	sr.Attempts = res.attempts

	status := domain.StepSucceeded
	if res.err != nil {
		status = domain.StepFailed
		sr.Error = res.err.Error()
		e.logger.WarnContext(ctx, "step failed",
			"plan_id", rec.PlanID,
			"step_id", res.stepID,
			"attempts", res.attempts,
			"err", res.err,
		)
	} else {
		sr.Output = res.output
		e.logger.InfoContext(ctx, "step succeeded",
			"plan_id", rec.PlanID,
			"step_id", res.stepID,
			"duration", res.duration,
		)
	}

	e.transitionStep(rec, res.stepID, status)
	if err := e.save(ctx, rec); err != nil {
		return false, err
	}

	step, _ := rec.Plan.Step(res.stepID)
	if e.hooks.OnStepFinish != nil {
		e.hooks.OnStepFinish(ctx, &domain.StepEvent{
			Timestamp: rec.UpdatedAt,
			PlanID:    rec.PlanID,
			StepID:    res.stepID,
			Skill:     step.Skill,
			Action:    step.Action,
			Status:    status,
			Attempt:   res.attempts,
			Duration:  res.duration,
			IsError:   res.err != nil,
		})
	}

	return res.err != nil, nil
}

// transitionStep applies a step status change to the record (no persist).
func (e *Engine) transitionStep(rec *domain.ExecutionRecord, stepID string, to domain.StepStatus) {
	rec.SetStepStatus(stepID, to, e.clock())
}

// isRetryable reports whether the error is a capability error marked
// retryable. Anything else (including unknown capabilities) surfaces
// immediately.
func isRetryable(err error) bool {
	var capErr *capability.Error
	return errors.As(err, &capErr) && capErr.Retryable
}
