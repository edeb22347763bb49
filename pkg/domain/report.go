package domain

import "time"

// StepOutcome is the per-step entry of an ExecutionReport.
type StepOutcome struct {
	StepID string     `json:"step_id"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// ExecutionReport summarizes a finished (or interrupted) run.
// Every terminal plan status is accompanied by one of these.
type ExecutionReport struct {
	PlanID   string          `json:"plan_id"`
	RunID    string          `json:"run_id"`
	Status   PlanStatus      `json:"status"`
	Steps    []StepOutcome   `json:"steps"`
	Rollback *RollbackReport `json:"rollback,omitempty"`
}

// RollbackOutcome classifies the result of one compensation attempt.
type RollbackOutcome string

const (
	// RollbackApplied means the compensation ran successfully.
	RollbackApplied RollbackOutcome = "applied"
	// RollbackUnrecoverable means the step had no compensation to run.
	RollbackUnrecoverable RollbackOutcome = "unrecoverable"
	// RollbackFailed means the compensation itself failed.
	RollbackFailed RollbackOutcome = "failed"
)

// RollbackEntry records one compensation attempt.
type RollbackEntry struct {
	StepID  string          `json:"step_id"`
	Outcome RollbackOutcome `json:"outcome"`
	Error   string          `json:"error,omitempty"`
	At      time.Time       `json:"at"`
}

// RollbackReport aggregates the best-effort unwind of a run.
type RollbackReport struct {
	PlanID  string          `json:"plan_id"`
	Status  PlanStatus      `json:"status"`
	Entries []RollbackEntry `json:"entries"`
}

// Failed reports whether any compensation attempt failed.
func (r *RollbackReport) Failed() bool {
	for _, e := range r.Entries {
		if e.Outcome == RollbackFailed {
			return true
		}
	}
	return false
}

// PlanPreview is the output of the planning phase, emitted for external
// approval before any side effect happens.
type PlanPreview struct {
	PlanID string `json:"plan_id"`
	Name   string `json:"name,omitempty"`

	// Layers is the computed execution order: each inner slice is a step
	// group whose members have no dependency ordering among themselves.
	Layers [][]string `json:"layers"`

	// Capabilities lists every (skill, action) pair the plan needs,
	// deduplicated, in first-use order.
	Capabilities []CapabilityRef `json:"capabilities"`

	// Risks flags conditions the approver should weigh, currently steps
	// whose side effects cannot be compensated on abort.
	Risks []string `json:"risks,omitempty"`
}

// CapabilityRef names a capability without binding to its implementation.
type CapabilityRef struct {
	Skill  string `json:"skill"`
	Action string `json:"action"`
}
