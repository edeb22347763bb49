package runtime_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/capability"
	"github.com/aretw0/espalier/pkg/domain"
)

// recorder tracks handler invocations per (skill, action) for assertions.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func okHandler(rec *recorder, name string) capability.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		rec.record(name)
		return name + "_ok", nil
	}
}

func failHandler(rec *recorder, name string, retryable bool) capability.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		rec.record(name)
		return nil, &capability.Error{Reason: name + "_boom", Retryable: retryable}
	}
}

const twoStepPlan = `
id: p1
steps:
  - {id: s1, skill: git, action: create-branch}
  - {id: s2, skill: jira, action: transition, depends_on: [s1]}
`

func TestEngine_EndToEnd_Completed(t *testing.T) {
	calls := &recorder{}
	reg := capability.NewRegistry()
	reg.RegisterFunc("git", "create-branch", okHandler(calls, "git"))
	reg.RegisterFunc("jira", "transition", okHandler(calls, "jira"))

	store := memory.NewStore()
	eng := runtime.NewEngine(reg, store)
	ctx := context.Background()

	preview, err := eng.Plan(ctx, []byte(twoStepPlan))
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(preview.Layers) != 2 || preview.Layers[0][0] != "s1" || preview.Layers[1][0] != "s2" {
		t.Fatalf("Expected layers [[s1],[s2]], got %v", preview.Layers)
	}
	if len(preview.Capabilities) != 2 {
		t.Errorf("Expected 2 capabilities in preview, got %v", preview.Capabilities)
	}
	if len(preview.Risks) != 2 {
		t.Errorf("Expected both uncompensated steps flagged as risks, got %v", preview.Risks)
	}

	if err := eng.Approve(ctx, "p1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	report, err := eng.Execute(ctx, "p1")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if report.Status != domain.StatusCompleted {
		t.Errorf("Expected Completed, got %s", report.Status)
	}
	for _, step := range report.Steps {
		if step.Status != domain.StepSucceeded {
			t.Errorf("Step %s: expected Succeeded, got %s", step.StepID, step.Status)
		}
	}

	// Persisted record must agree with the report.
	rec, err := eng.Status(ctx, "p1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if rec.Status != domain.StatusCompleted {
		t.Errorf("Persisted status: expected Completed, got %s", rec.Status)
	}
	sr, _ := rec.StepRecord("s1")
	if sr.Output != "git_ok" {
		t.Errorf("Expected captured output 'git_ok', got %v", sr.Output)
	}
}

func TestEngine_ApprovalGate(t *testing.T) {
	reg := capability.NewRegistry()
	reg.RegisterFunc("git", "create-branch", okHandler(&recorder{}, "git"))
	reg.RegisterFunc("jira", "transition", okHandler(&recorder{}, "jira"))

	eng := runtime.NewEngine(reg, memory.NewStore())
	ctx := context.Background()

	if _, err := eng.Plan(ctx, []byte(twoStepPlan)); err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	_, err := eng.Execute(ctx, "p1")
	if !errors.Is(err, domain.ErrNotApproved) {
		t.Fatalf("Expected ErrNotApproved, got %v", err)
	}
}

func TestEngine_Validate_UnknownCapability(t *testing.T) {
	calls := &recorder{}
	reg := capability.NewRegistry()
	reg.RegisterFunc("git", "create-branch", okHandler(calls, "git"))
	// jira/transition deliberately not registered.

	eng := runtime.NewEngine(reg, memory.NewStore())
	ctx := context.Background()

	if _, err := eng.Plan(ctx, []byte(twoStepPlan)); err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	err := eng.Validate(ctx, "p1")
	var unknown *capability.UnknownCapabilityError
	if !errors.As(err, &unknown) {
		t.Fatalf("Expected UnknownCapabilityError, got %v", err)
	}
	if unknown.Skill != "jira" || unknown.Action != "transition" {
		t.Errorf("Unexpected capability in error: %+v", unknown)
	}

	// Validation must fail fast: no handler ever executed.
	if calls.count("git") != 0 {
		t.Errorf("Validation must not execute handlers, git ran %d times", calls.count("git"))
	}

	// Execute hits the same wall (validating phase runs inline).
	if err := eng.Approve(ctx, "p1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := eng.Execute(ctx, "p1"); !errors.As(err, &unknown) {
		t.Fatalf("Expected UnknownCapabilityError from Execute, got %v", err)
	}

	rec, _ := eng.Status(ctx, "p1")
	for _, sr := range rec.Steps {
		if sr.Status != domain.StepPending {
			t.Errorf("Step %s: expected Pending after failed validation, got %s", sr.StepID, sr.Status)
		}
	}
}

func TestEngine_Plan_AlreadyExists(t *testing.T) {
	reg := capability.NewRegistry()
	eng := runtime.NewEngine(reg, memory.NewStore())
	ctx := context.Background()

	doc := `
id: p1
steps:
  - {id: s1, skill: git, action: status}
`
	if _, err := eng.Plan(ctx, []byte(doc)); err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	_, err := eng.Plan(ctx, []byte(doc))
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}
}

func TestEngine_TerminalPlansRejectFurtherWork(t *testing.T) {
	calls := &recorder{}
	reg := capability.NewRegistry()
	reg.RegisterFunc("git", "create-branch", okHandler(calls, "git"))
	reg.RegisterFunc("jira", "transition", okHandler(calls, "jira"))

	eng := runtime.NewEngine(reg, memory.NewStore())
	ctx := context.Background()

	if _, err := eng.Plan(ctx, []byte(twoStepPlan)); err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if err := eng.Approve(ctx, "p1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := eng.Execute(ctx, "p1"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if _, err := eng.Execute(ctx, "p1"); !errors.Is(err, domain.ErrPlanTerminal) {
		t.Errorf("Execute after Completed: expected ErrPlanTerminal, got %v", err)
	}
	if _, err := eng.Resume(ctx, "p1"); !errors.Is(err, domain.ErrPlanTerminal) {
		t.Errorf("Resume after Completed: expected ErrPlanTerminal, got %v", err)
	}
	if _, err := eng.Abort(ctx, "p1"); !errors.Is(err, domain.ErrPlanTerminal) {
		t.Errorf("Abort after Completed: expected ErrPlanTerminal, got %v", err)
	}
}

func TestEngine_TransitionsPersistedInOrder(t *testing.T) {
	reg := capability.NewRegistry()
	reg.RegisterFunc("git", "create-branch", okHandler(&recorder{}, "git"))
	reg.RegisterFunc("jira", "transition", okHandler(&recorder{}, "jira"))

	eng := runtime.NewEngine(reg, memory.NewStore())
	ctx := context.Background()

	if _, err := eng.Plan(ctx, []byte(twoStepPlan)); err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if err := eng.Approve(ctx, "p1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := eng.Execute(ctx, "p1"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	rec, _ := eng.Status(ctx, "p1")

	// s1's terminal transition must precede s2's first dispatch: the engine
	// persists before evaluating the next step.
	s1Done, s2Started := -1, -1
	for i, tr := range rec.Transitions {
		if tr.StepID == "s1" && tr.To == string(domain.StepSucceeded) {
			s1Done = i
		}
		if tr.StepID == "s2" && tr.To == string(domain.StepRunning) && s2Started == -1 {
			s2Started = i
		}
	}
	if s1Done == -1 || s2Started == -1 {
		t.Fatalf("Missing expected transitions in audit log: %+v", rec.Transitions)
	}
	if s1Done > s2Started {
		t.Errorf("s2 dispatched (index %d) before s1 completion persisted (index %d)", s2Started, s1Done)
	}
}
