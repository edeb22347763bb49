package runtime_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/capability"
	"github.com/aretw0/espalier/pkg/domain"
)

// crashingStore fails the Nth save, simulating a process death between
// transitions. The underlying store keeps everything persisted before that.
type crashingStore struct {
	inner   *memory.Store
	mu      sync.Mutex
	saves   int
	crashAt int
}

func (c *crashingStore) Save(ctx context.Context, rec *domain.ExecutionRecord) error {
	c.mu.Lock()
	c.saves++
	crash := c.saves == c.crashAt
	c.mu.Unlock()

	if crash {
		return context.DeadlineExceeded
	}
	return c.inner.Save(ctx, rec)
}

func (c *crashingStore) Load(ctx context.Context, planID string) (*domain.ExecutionRecord, error) {
	return c.inner.Load(ctx, planID)
}

func (c *crashingStore) Delete(ctx context.Context, planID string) error {
	return c.inner.Delete(ctx, planID)
}

func (c *crashingStore) List(ctx context.Context) ([]string, error) {
	return c.inner.List(ctx)
}

func TestResume_AfterCrashSkipsCompletedSteps(t *testing.T) {
	calls := &recorder{}
	reg := capability.NewRegistry()
	reg.RegisterFunc("git", "create-branch", okHandler(calls, "git"))
	reg.RegisterFunc("jira", "transition", okHandler(calls, "jira"))

	inner := memory.NewStore()
	// Save sequence: 1 planned, 2 approved, 3 validating, 4 executing,
	// 5 s1 running, 6 s1 succeeded, 7 s2 running. Crash at 7: s1's success
	// is durable, s2 never dispatched.
	store := &crashingStore{inner: inner, crashAt: 7}

	eng := runtime.NewEngine(reg, store)
	ctx := context.Background()

	if _, err := eng.Plan(ctx, []byte(twoStepPlan)); err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if err := eng.Approve(ctx, "p1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	if _, err := eng.Execute(ctx, "p1"); err == nil {
		t.Fatal("Expected Execute to fail at the injected crash")
	}
	if calls.count("jira") != 0 {
		t.Fatalf("s2 handler ran before its dispatch was persisted")
	}

	// A fresh engine over the same store picks the run back up.
	eng2 := runtime.NewEngine(reg, inner)
	report, err := eng2.Resume(ctx, "p1")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if report.Status != domain.StatusCompleted {
		t.Fatalf("Expected Completed after resume, got %s", report.Status)
	}

	// Idempotence: the completed step must not run twice.
	if calls.count("git") != 1 {
		t.Errorf("s1 handler ran %d times, expected exactly 1", calls.count("git"))
	}
	if calls.count("jira") != 1 {
		t.Errorf("s2 handler ran %d times, expected exactly 1", calls.count("jira"))
	}
}

func TestResume_InterruptedStepIsRedispatched(t *testing.T) {
	calls := &recorder{}
	reg := capability.NewRegistry()
	reg.RegisterFunc("git", "create-branch", okHandler(calls, "git"))
	reg.RegisterFunc("jira", "transition", okHandler(calls, "jira"))

	inner := memory.NewStore()
	// Crash at save 8 (s2 succeeded): s2 is stranded in Running with an
	// unknown outcome. Resume must reset it and dispatch it again.
	store := &crashingStore{inner: inner, crashAt: 8}

	eng := runtime.NewEngine(reg, store)
	ctx := context.Background()

	if _, err := eng.Plan(ctx, []byte(twoStepPlan)); err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if err := eng.Approve(ctx, "p1"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if _, err := eng.Execute(ctx, "p1"); err == nil {
		t.Fatal("Expected Execute to fail at the injected crash")
	}

	rec, err := inner.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	sr, _ := rec.StepRecord("s2")
	if sr.Status != domain.StepRunning {
		t.Fatalf("Expected s2 stranded in Running, got %s", sr.Status)
	}

	eng2 := runtime.NewEngine(reg, inner)
	report, err := eng2.Resume(ctx, "p1")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if report.Status != domain.StatusCompleted {
		t.Fatalf("Expected Completed, got %s", report.Status)
	}
	if calls.count("jira") != 2 {
		t.Errorf("Interrupted step should be dispatched again, jira ran %d times", calls.count("jira"))
	}
}

func TestRetry_RetryableErrorGetsOneRetry(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	reg := capability.NewRegistry()
	reg.RegisterFunc("net", "fetch", func(ctx context.Context, params map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return nil, capability.Retryablef("connection reset")
		}
		return "fetched", nil
	})

	eng := runtime.NewEngine(reg, memory.NewStore(), runtime.WithRetryBackoff(time.Millisecond))
	ctx := context.Background()

	doc := `
id: flaky
steps:
  - {id: a, skill: net, action: fetch}
`
	planApprove(t, eng, ctx, doc, "flaky")

	report, err := eng.Execute(ctx, "flaky")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if report.Status != domain.StatusCompleted {
		t.Fatalf("Expected Completed after retry, got %s", report.Status)
	}

	rec, _ := eng.Status(ctx, "flaky")
	sr, _ := rec.StepRecord("a")
	if sr.Attempts != 2 {
		t.Errorf("Expected 2 attempts recorded, got %d", sr.Attempts)
	}
}

func TestRetry_NonRetryableFailsImmediately(t *testing.T) {
	calls := &recorder{}
	reg := capability.NewRegistry()
	reg.RegisterFunc("net", "fetch", failHandler(calls, "fetch", false))

	eng := runtime.NewEngine(reg, memory.NewStore(), runtime.WithRetryBackoff(time.Millisecond))
	ctx := context.Background()

	doc := `
id: fatal
steps:
  - {id: a, skill: net, action: fetch}
`
	planApprove(t, eng, ctx, doc, "fatal")

	if _, err := eng.Execute(ctx, "fatal"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if calls.count("fetch") != 1 {
		t.Errorf("Non-retryable failure must not be retried, handler ran %d times", calls.count("fetch"))
	}
}

func TestCancellation_TriggersRollback(t *testing.T) {
	calls := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())

	reg := capability.NewRegistry()
	reg.RegisterFunc("infra", "provision", func(c context.Context, params map[string]any) (any, error) {
		calls.record("provision")
		cancel() // operator interrupts mid-run
		return "done", nil
	})
	reg.RegisterFunc("infra", "configure", okHandler(calls, "configure"))
	reg.RegisterFunc("infra", "deprovision", okHandler(calls, "deprovision"))

	eng := runtime.NewEngine(reg, memory.NewStore())

	doc := `
id: cancel-me
steps:
  - id: a
    skill: infra
    action: provision
    rollback: {skill: infra, action: deprovision}
  - {id: b, skill: infra, action: configure, depends_on: [a]}
`
	planApprove(t, eng, ctx, doc, "cancel-me")

	report, err := eng.Execute(ctx, "cancel-me")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// a succeeded before the cancel landed, so it must be compensated even
	// though the context is dead.
	if report.Status != domain.StatusRolledBack {
		t.Fatalf("Expected RolledBack after cancellation, got %s", report.Status)
	}
	if calls.count("configure") != 0 {
		t.Errorf("b must not be dispatched after cancellation")
	}
	if calls.count("deprovision") != 1 {
		t.Errorf("a's compensation must run despite the canceled context, ran %d times",
			calls.count("deprovision"))
	}
}

func TestParallel_LayerCompletesAndSeqIsAssigned(t *testing.T) {
	calls := &recorder{}
	reg := capability.NewRegistry()
	reg.RegisterFunc("build", "compile", okHandler(calls, "compile"))

	eng := runtime.NewEngine(reg, memory.NewStore())
	ctx := context.Background()

	doc := `
id: par
parallel: true
max_concurrency: 3
steps:
  - {id: a, skill: build, action: compile, parallel_safe: true}
  - {id: b, skill: build, action: compile, parallel_safe: true}
  - {id: c, skill: build, action: compile, parallel_safe: true}
  - {id: d, skill: build, action: compile, depends_on: [a, b, c]}
`
	planApprove(t, eng, ctx, doc, "par")

	report, err := eng.Execute(ctx, "par")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if report.Status != domain.StatusCompleted {
		t.Fatalf("Expected Completed, got %s", report.Status)
	}
	if calls.count("compile") != 4 {
		t.Fatalf("Expected 4 dispatches, got %d", calls.count("compile"))
	}

	// Completion sequence numbers must be unique and dense, whatever order
	// the concurrent steps finished in.
	rec, _ := eng.Status(ctx, "par")
	seen := make(map[int]string)
	for _, sr := range rec.Steps {
		if sr.CompletionSeq == 0 {
			t.Errorf("Step %s missing completion seq", sr.StepID)
			continue
		}
		if prev, dup := seen[sr.CompletionSeq]; dup {
			t.Errorf("Steps %s and %s share completion seq %d", prev, sr.StepID, sr.CompletionSeq)
		}
		seen[sr.CompletionSeq] = sr.StepID
	}
	dr, _ := rec.StepRecord("d")
	if dr.CompletionSeq != 4 {
		t.Errorf("d depends on the whole layer, expected seq 4, got %d", dr.CompletionSeq)
	}
}

func TestContinuePolicy_SkipsDependentsAndCompletes(t *testing.T) {
	calls := &recorder{}
	reg := capability.NewRegistry()
	reg.RegisterFunc("infra", "explode", failHandler(calls, "explode", false))
	reg.RegisterFunc("infra", "provision", okHandler(calls, "provision"))

	eng := runtime.NewEngine(reg, memory.NewStore())
	ctx := context.Background()

	doc := `
id: branchy
on_failure: continue
steps:
  - {id: a, skill: infra, action: explode}
  - {id: b, skill: infra, action: provision, depends_on: [a]}
  - {id: c, skill: infra, action: provision}
`
	planApprove(t, eng, ctx, doc, "branchy")

	report, err := eng.Execute(ctx, "branchy")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// Independent branch kept going; the run as a whole completed.
	if report.Status != domain.StatusCompleted {
		t.Fatalf("Expected Completed under continue policy, got %s", report.Status)
	}

	rec, _ := eng.Status(ctx, "branchy")
	expect := map[string]domain.StepStatus{
		"a": domain.StepFailed,
		"b": domain.StepSkipped,
		"c": domain.StepSucceeded,
	}
	for id, want := range expect {
		sr, _ := rec.StepRecord(id)
		if sr.Status != want {
			t.Errorf("Step %s: expected %s, got %s", id, want, sr.Status)
		}
	}

	br, _ := rec.StepRecord("b")
	if br.Error == "" {
		t.Error("Skipped step should record which dependency doomed it")
	}
}

func TestContinuePolicy_SkipPropagationAndOverride(t *testing.T) {
	calls := &recorder{}
	reg := capability.NewRegistry()
	reg.RegisterFunc("infra", "explode", failHandler(calls, "explode", false))
	reg.RegisterFunc("infra", "provision", okHandler(calls, "provision"))

	eng := runtime.NewEngine(reg, memory.NewStore())
	ctx := context.Background()

	// Without allow_skipped_deps a skip cascades down the chain.
	doc := `
id: cascade
on_failure: continue
steps:
  - {id: a, skill: infra, action: explode}
  - {id: b, skill: infra, action: provision, depends_on: [a]}
  - {id: c, skill: infra, action: provision, depends_on: [b]}
`
	planApprove(t, eng, ctx, doc, "cascade")
	if _, err := eng.Execute(ctx, "cascade"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	rec, _ := eng.Status(ctx, "cascade")
	cr, _ := rec.StepRecord("c")
	if cr.Status != domain.StepSkipped {
		t.Errorf("Skip must propagate: expected c Skipped, got %s", cr.Status)
	}

	// With allow_skipped_deps the chain survives a skipped dependency.
	doc2 := `
id: tolerant
on_failure: continue
allow_skipped_deps: true
steps:
  - {id: a, skill: infra, action: explode}
  - {id: b, skill: infra, action: provision, depends_on: [a]}
  - {id: c, skill: infra, action: provision, depends_on: [b]}
`
	planApprove(t, eng, ctx, doc2, "tolerant")
	if _, err := eng.Execute(ctx, "tolerant"); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	rec2, _ := eng.Status(ctx, "tolerant")
	br, _ := rec2.StepRecord("b")
	if br.Status != domain.StepSkipped {
		t.Fatalf("b depends on the failed step, expected Skipped, got %s", br.Status)
	}
	cr2, _ := rec2.StepRecord("c")
	if cr2.Status != domain.StepSucceeded {
		t.Errorf("allow_skipped_deps should let c run, got %s", cr2.Status)
	}
}
