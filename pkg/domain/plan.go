package domain

// PlanStatus defines the lifecycle phase of a plan run.
type PlanStatus string

const (
	// StatusDraft is the initial status of a parsed but unregistered plan.
	StatusDraft PlanStatus = "draft"
	// StatusPlanned means the plan is ordered and awaiting approval.
	StatusPlanned PlanStatus = "planned"
	// StatusValidating means capabilities are being resolved and dry-run.
	StatusValidating PlanStatus = "validating"
	// StatusExecuting means steps are being dispatched.
	StatusExecuting PlanStatus = "executing"
	// StatusCompleted means every step succeeded (or was skipped under the
	// continue policy). Terminal.
	StatusCompleted PlanStatus = "completed"
	// StatusAborting means the engine stopped dispatching and is unwinding.
	StatusAborting PlanStatus = "aborting"
	// StatusAborted means the run stopped before any step succeeded, so there
	// was nothing to compensate. Terminal.
	StatusAborted PlanStatus = "aborted"
	// StatusRolledBack means every required compensation succeeded. Terminal.
	StatusRolledBack PlanStatus = "rolled_back"
	// StatusAbortFailed means at least one compensation failed; the run needs
	// manual intervention. Terminal.
	StatusAbortFailed PlanStatus = "abort_failed"
)

// Terminal reports whether the status admits no further transitions.
func (s PlanStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAborted, StatusRolledBack, StatusAbortFailed:
		return true
	}
	return false
}

// StepStatus defines the lifecycle phase of a single step within a run.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepReady      StepStatus = "ready"
	StepRunning    StepStatus = "running"
	StepSucceeded  StepStatus = "succeeded"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
	StepRolledBack StepStatus = "rolled_back"
)

// FailurePolicy controls how the engine reacts to a failing step.
type FailurePolicy string

const (
	// FailureAbort stops dispatching and rolls back completed work (default).
	FailureAbort FailurePolicy = "abort"
	// FailureContinue marks the step failed, skips its dependents and keeps
	// executing independent branches.
	FailureContinue FailurePolicy = "continue"
)

// Policy groups the per-plan execution knobs.
type Policy struct {
	// OnFailure selects abort-and-rollback (default) or skip-and-continue.
	OnFailure FailurePolicy `json:"on_failure" yaml:"on_failure"`

	// Parallel opts a run into concurrent dispatch within a layer. Only steps
	// marked ParallelSafe are ever dispatched concurrently.
	Parallel bool `json:"parallel,omitempty" yaml:"parallel,omitempty"`

	// MaxConcurrency bounds concurrent steps when Parallel is set.
	// Zero or one means sequential.
	MaxConcurrency int `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`

	// AllowSkippedDeps lets a step become ready when a dependency was skipped
	// rather than succeeded. Without it, skipping propagates.
	AllowSkippedDeps bool `json:"allow_skipped_deps,omitempty" yaml:"allow_skipped_deps,omitempty"`
}

// RollbackAction is the compensation bound to a step. Executing it must
// semantically undo the step's side effect.
type RollbackAction struct {
	Skill  string         `json:"skill" yaml:"skill" mapstructure:"skill"`
	Action string         `json:"action" yaml:"action" mapstructure:"action"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty" mapstructure:"params"`
}

// Step is a single unit of work bound to a capability.
type Step struct {
	ID     string `json:"id" yaml:"id" mapstructure:"id"`
	Skill  string `json:"skill" yaml:"skill" mapstructure:"skill"`
	Action string `json:"action" yaml:"action" mapstructure:"action"`

	// Params are opaque to the engine; they are handed to the capability
	// handler untouched.
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty" mapstructure:"params"`

	// DependsOn lists step IDs that must have succeeded before this step
	// becomes ready.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty" mapstructure:"depends_on"`

	// Rollback is the optional compensation. At most one per step.
	Rollback *RollbackAction `json:"rollback,omitempty" yaml:"rollback,omitempty" mapstructure:"rollback"`

	// ParallelSafe declares the step free of shared side effects with its
	// layer peers. Safety is declared, never inferred.
	ParallelSafe bool `json:"parallel_safe,omitempty" yaml:"parallel_safe,omitempty" mapstructure:"parallel_safe"`
}

// Plan is the immutable, validated representation of an execution plan.
// The engine never mutates a Plan after parsing; run state is tracked
// separately in the ExecutionRecord.
type Plan struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Steps  []Step `json:"steps" yaml:"steps"`
	Policy Policy `json:"policy" yaml:"policy"`
}

// Step returns the step with the given ID, if present.
func (p *Plan) Step(id string) (*Step, bool) {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i], true
		}
	}
	return nil, false
}
