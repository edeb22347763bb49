package domain

import (
	"sort"
	"time"
)

// StepRecord tracks the mutable run state of a single step.
type StepRecord struct {
	StepID   string     `json:"step_id"`
	Status   StepStatus `json:"status"`
	Attempts int        `json:"attempts,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CompletionSeq is a monotonic per-run counter assigned when the step
	// reaches Succeeded. Rollback replays compensations in strictly
	// descending CompletionSeq, which stays well-defined even when
	// timestamps collide.
	CompletionSeq int `json:"completion_seq,omitempty"`

	// Output is the value returned by the capability handler.
	Output any `json:"output,omitempty"`

	// Error holds the captured failure reason, if any.
	Error string `json:"error,omitempty"`
}

// Transition is one entry of the append-only audit log of a run.
type Transition struct {
	StepID string    `json:"step_id,omitempty"` // empty for plan-level transitions
	From   string    `json:"from"`
	To     string    `json:"to"`
	At     time.Time `json:"at"`
}

// ExecutionRecord is the durable state of a plan run. It embeds the Plan so
// that a process restart can resume from nothing but the store. It is owned
// exclusively by the execution engine during a run; the session manager
// guarantees a single writer per plan ID.
type ExecutionRecord struct {
	PlanID string `json:"plan_id"`
	RunID  string `json:"run_id"`

	Plan Plan `json:"plan"`

	Status   PlanStatus `json:"status"`
	Approved bool       `json:"approved"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Steps holds one record per plan step, in declaration order.
	Steps []StepRecord `json:"steps"`

	// Transitions is the ordered audit log of every status change.
	Transitions []Transition `json:"transitions,omitempty"`

	// Rollback is set once the run has been unwound (fully or partially).
	Rollback *RollbackReport `json:"rollback,omitempty"`

	nextSeq int
}

// NewExecutionRecord initializes the run state for a plan.
func NewExecutionRecord(plan Plan, runID string, now time.Time) *ExecutionRecord {
	rec := &ExecutionRecord{
		PlanID:    plan.ID,
		RunID:     runID,
		Plan:      plan,
		Status:    StatusDraft,
		StartedAt: now,
		UpdatedAt: now,
		Steps:     make([]StepRecord, len(plan.Steps)),
	}
	for i, s := range plan.Steps {
		rec.Steps[i] = StepRecord{StepID: s.ID, Status: StepPending}
	}
	return rec
}

// StepRecord returns the record for the given step ID.
func (r *ExecutionRecord) StepRecord(stepID string) (*StepRecord, bool) {
	for i := range r.Steps {
		if r.Steps[i].StepID == stepID {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// SetPlanStatus transitions the plan status and appends to the audit log.
func (r *ExecutionRecord) SetPlanStatus(to PlanStatus, now time.Time) {
	r.Transitions = append(r.Transitions, Transition{
		From: string(r.Status),
		To:   string(to),
		At:   now,
	})
	r.Status = to
	r.UpdatedAt = now
}

// SetStepStatus transitions a step status and appends to the audit log.
func (r *ExecutionRecord) SetStepStatus(stepID string, to StepStatus, now time.Time) *StepRecord {
	sr, ok := r.StepRecord(stepID)
	if !ok {
		return nil
	}
	r.Transitions = append(r.Transitions, Transition{
		StepID: stepID,
		From:   string(sr.Status),
		To:     string(to),
		At:     now,
	})
	sr.Status = to
	r.UpdatedAt = now
	switch to {
	case StepRunning:
		if sr.StartedAt == nil {
			t := now
			sr.StartedAt = &t
		}
	case StepSucceeded:
		t := now
		sr.FinishedAt = &t
		r.nextSeq++
		sr.CompletionSeq = r.nextSeq
	case StepFailed, StepSkipped:
		t := now
		sr.FinishedAt = &t
	}
	return sr
}

// RestoreSeq recomputes the internal completion counter after loading the
// record from a store. Must be called before resuming execution.
func (r *ExecutionRecord) RestoreSeq() {
	max := 0
	for i := range r.Steps {
		if r.Steps[i].CompletionSeq > max {
			max = r.Steps[i].CompletionSeq
		}
	}
	r.nextSeq = max
}

// Succeeded returns the IDs of succeeded steps in completion order.
func (r *ExecutionRecord) Succeeded() []string {
	type done struct {
		id  string
		seq int
	}
	var ds []done
	for i := range r.Steps {
		if r.Steps[i].Status == StepSucceeded {
			ds = append(ds, done{r.Steps[i].StepID, r.Steps[i].CompletionSeq})
		}
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].seq < ds[j].seq })
	ids := make([]string, len(ds))
	for i, d := range ds {
		ids[i] = d.id
	}
	return ids
}
