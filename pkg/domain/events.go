package domain

import (
	"context"
	"time"
)

// PhaseEvent reports a plan-level status transition.
type PhaseEvent struct {
	Timestamp time.Time  `json:"timestamp"`
	PlanID    string     `json:"plan_id"`
	RunID     string     `json:"run_id"`
	From      PlanStatus `json:"from"`
	To        PlanStatus `json:"to"`
}

// StepEvent reports a step dispatch or completion.
type StepEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	PlanID    string        `json:"plan_id"`
	StepID    string        `json:"step_id"`
	Skill     string        `json:"skill"`
	Action    string        `json:"action"`
	Status    StepStatus    `json:"status"`
	Attempt   int           `json:"attempt,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`
}

// RollbackEvent reports one compensation attempt during unwind.
type RollbackEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	PlanID    string          `json:"plan_id"`
	StepID    string          `json:"step_id"`
	Outcome   RollbackOutcome `json:"outcome"`
}

// LifecycleHooks defines callbacks for engine observability. All hooks are
// optional and must not block; they run synchronously on the engine
// goroutine.
type LifecycleHooks struct {
	OnPhaseChange  func(context.Context, *PhaseEvent)
	OnStepStart    func(context.Context, *StepEvent)
	OnStepFinish   func(context.Context, *StepEvent)
	OnRollbackStep func(context.Context, *RollbackEvent)
}
