package runtime_test

import (
	"context"
	"testing"

	"github.com/aretw0/espalier/internal/runtime"
	"github.com/aretw0/espalier/pkg/adapters/memory"
	"github.com/aretw0/espalier/pkg/capability"
	"github.com/aretw0/espalier/pkg/domain"
)

const sagaPlan = `
id: saga
steps:
  - id: a
    skill: infra
    action: provision
    rollback: {skill: infra, action: deprovision}
  - id: b
    skill: infra
    action: configure
    depends_on: [a]
    rollback: {skill: infra, action: deconfigure}
  - id: c
    skill: infra
    action: explode
    depends_on: [b]
`

func sagaEngine(t *testing.T, calls *recorder) (*runtime.Engine, context.Context) {
	t.Helper()
	reg := capability.NewRegistry()
	reg.RegisterFunc("infra", "provision", okHandler(calls, "provision"))
	reg.RegisterFunc("infra", "configure", okHandler(calls, "configure"))
	reg.RegisterFunc("infra", "explode", failHandler(calls, "explode", false))
	reg.RegisterFunc("infra", "deprovision", okHandler(calls, "deprovision"))
	reg.RegisterFunc("infra", "deconfigure", okHandler(calls, "deconfigure"))

	return runtime.NewEngine(reg, memory.NewStore()), context.Background()
}

func planApprove(t *testing.T, eng *runtime.Engine, ctx context.Context, doc, planID string) {
	t.Helper()
	if _, err := eng.Plan(ctx, []byte(doc)); err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if err := eng.Approve(ctx, planID); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
}

func TestRollback_ReverseCompletionOrder(t *testing.T) {
	calls := &recorder{}
	eng, ctx := sagaEngine(t, calls)
	planApprove(t, eng, ctx, sagaPlan, "saga")

	report, err := eng.Execute(ctx, "saga")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if report.Status != domain.StatusRolledBack {
		t.Fatalf("Expected RolledBack, got %s", report.Status)
	}

	// a completed before b, so b must be compensated first.
	want := []string{"provision", "configure", "explode", "deconfigure", "deprovision"}
	got := calls.all()
	if len(got) != len(want) {
		t.Fatalf("Expected calls %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected calls %v, got %v", want, got)
		}
	}

	if report.Rollback == nil {
		t.Fatal("Expected rollback report")
	}
	if len(report.Rollback.Entries) != 2 {
		t.Fatalf("Expected 2 rollback entries, got %+v", report.Rollback.Entries)
	}
	if report.Rollback.Entries[0].StepID != "b" || report.Rollback.Entries[1].StepID != "a" {
		t.Errorf("Rollback order wrong: %+v", report.Rollback.Entries)
	}
	for _, entry := range report.Rollback.Entries {
		if entry.Outcome != domain.RollbackApplied {
			t.Errorf("Entry %s: expected Applied, got %s", entry.StepID, entry.Outcome)
		}
	}

	// Compensated steps carry the RolledBack status.
	rec, _ := eng.Status(ctx, "saga")
	for _, id := range []string{"a", "b"} {
		sr, _ := rec.StepRecord(id)
		if sr.Status != domain.StepRolledBack {
			t.Errorf("Step %s: expected RolledBack, got %s", id, sr.Status)
		}
	}
}

func TestRollback_StepWithoutCompensationIsUnrecoverable(t *testing.T) {
	calls := &recorder{}
	reg := capability.NewRegistry()
	reg.RegisterFunc("infra", "provision", okHandler(calls, "provision"))
	reg.RegisterFunc("infra", "explode", failHandler(calls, "explode", false))

	eng := runtime.NewEngine(reg, memory.NewStore())
	ctx := context.Background()

	doc := `
id: bare
steps:
  - {id: a, skill: infra, action: provision}
  - {id: b, skill: infra, action: explode, depends_on: [a]}
`
	planApprove(t, eng, ctx, doc, "bare")

	report, err := eng.Execute(ctx, "bare")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// Unrecoverable is not a rollback failure: the unwind still succeeds.
	if report.Status != domain.StatusRolledBack {
		t.Fatalf("Expected RolledBack, got %s", report.Status)
	}
	if len(report.Rollback.Entries) != 1 {
		t.Fatalf("Expected 1 rollback entry, got %+v", report.Rollback.Entries)
	}
	if report.Rollback.Entries[0].Outcome != domain.RollbackUnrecoverable {
		t.Errorf("Expected Unrecoverable, got %s", report.Rollback.Entries[0].Outcome)
	}
}

func TestRollback_FailedCompensationContinuesUnwind(t *testing.T) {
	calls := &recorder{}
	reg := capability.NewRegistry()
	reg.RegisterFunc("infra", "provision", okHandler(calls, "provision"))
	reg.RegisterFunc("infra", "configure", okHandler(calls, "configure"))
	reg.RegisterFunc("infra", "explode", failHandler(calls, "explode", false))
	reg.RegisterFunc("infra", "deprovision", okHandler(calls, "deprovision"))
	reg.RegisterFunc("infra", "deconfigure", failHandler(calls, "deconfigure", false))

	eng := runtime.NewEngine(reg, memory.NewStore())
	ctx := context.Background()
	planApprove(t, eng, ctx, sagaPlan, "saga")

	report, err := eng.Execute(ctx, "saga")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if report.Status != domain.StatusAbortFailed {
		t.Fatalf("Expected AbortFailed, got %s", report.Status)
	}

	// b's compensation failed but a's still ran.
	if calls.count("deprovision") != 1 {
		t.Errorf("Unwind must continue past a failed compensation, deprovision ran %d times",
			calls.count("deprovision"))
	}

	var bEntry *domain.RollbackEntry
	for i := range report.Rollback.Entries {
		if report.Rollback.Entries[i].StepID == "b" {
			bEntry = &report.Rollback.Entries[i]
		}
	}
	if bEntry == nil || bEntry.Outcome != domain.RollbackFailed {
		t.Errorf("Expected Failed entry for b, got %+v", report.Rollback.Entries)
	}
	if bEntry != nil && bEntry.Error == "" {
		t.Error("Failed entry must carry the compensation error")
	}
}

func TestAbortPolicy_LaterStepsNeverDispatched(t *testing.T) {
	calls := &recorder{}
	reg := capability.NewRegistry()
	reg.RegisterFunc("infra", "explode", failHandler(calls, "explode", false))
	reg.RegisterFunc("infra", "provision", okHandler(calls, "provision"))

	eng := runtime.NewEngine(reg, memory.NewStore())
	ctx := context.Background()

	doc := `
id: gate
steps:
  - {id: a, skill: infra, action: explode}
  - {id: b, skill: infra, action: provision, depends_on: [a]}
`
	planApprove(t, eng, ctx, doc, "gate")

	report, err := eng.Execute(ctx, "gate")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// Nothing succeeded before the failure, so there is nothing to unwind.
	if report.Status != domain.StatusAborted {
		t.Fatalf("Expected Aborted, got %s", report.Status)
	}
	if calls.count("provision") != 0 {
		t.Errorf("Step b must never be dispatched after a failed under abort policy")
	}

	rec, _ := eng.Status(ctx, "gate")
	sr, _ := rec.StepRecord("b")
	if sr.Status != domain.StepPending {
		t.Errorf("Step b: expected Pending, got %s", sr.Status)
	}
}

func TestResume_InterruptedUnwindSkipsRecordedEntries(t *testing.T) {
	calls := &recorder{}
	reg := capability.NewRegistry()
	reg.RegisterFunc("infra", "provision", okHandler(calls, "provision"))
	reg.RegisterFunc("infra", "configure", okHandler(calls, "configure"))
	reg.RegisterFunc("infra", "explode", failHandler(calls, "explode", false))
	reg.RegisterFunc("infra", "deprovision", okHandler(calls, "deprovision"))
	reg.RegisterFunc("infra", "deconfigure", okHandler(calls, "deconfigure"))

	inner := memory.NewStore()
	// Save sequence: 1 planned, 2 approved, 3 validating, 4 executing,
	// 5 a running, 6 a succeeded, 7 b running, 8 b succeeded, 9 c running,
	// 10 c failed, 11 aborting, 12 b compensated, 13 a compensated.
	// Crash at 13: b's rollback entry is durable, a's is not.
	store := &crashingStore{inner: inner, crashAt: 13}

	eng := runtime.NewEngine(reg, store)
	ctx := context.Background()

	planApprove(t, eng, ctx, sagaPlan, "saga")
	if _, err := eng.Execute(ctx, "saga"); err == nil {
		t.Fatal("Expected Execute to fail at the injected crash")
	}

	rec, err := inner.Load(ctx, "saga")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec.Status != domain.StatusAborting {
		t.Fatalf("Expected record stranded in Aborting, got %s", rec.Status)
	}
	if rec.Rollback == nil || len(rec.Rollback.Entries) != 1 || rec.Rollback.Entries[0].StepID != "b" {
		t.Fatalf("Expected exactly b's entry persisted, got %+v", rec.Rollback)
	}

	// A fresh engine over the same store continues the unwind.
	eng2 := runtime.NewEngine(reg, inner)
	report, err := eng2.Resume(ctx, "saga")
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if report.Status != domain.StatusRolledBack {
		t.Fatalf("Expected RolledBack after resumed unwind, got %s", report.Status)
	}

	// b's recorded compensation must not run again; a's interrupted one is
	// retried because its entry never reached the store.
	if calls.count("deconfigure") != 1 {
		t.Errorf("b compensated %d times, expected exactly 1", calls.count("deconfigure"))
	}
	if calls.count("deprovision") != 2 {
		t.Errorf("a's interrupted compensation should be retried, ran %d times", calls.count("deprovision"))
	}

	if len(report.Rollback.Entries) != 2 {
		t.Fatalf("Expected 2 rollback entries after resume, got %+v", report.Rollback.Entries)
	}
	if report.Rollback.Entries[0].StepID != "b" || report.Rollback.Entries[1].StepID != "a" {
		t.Errorf("Rollback order wrong after resume: %+v", report.Rollback.Entries)
	}

	final, _ := inner.Load(ctx, "saga")
	for _, id := range []string{"a", "b"} {
		sr, _ := final.StepRecord(id)
		if sr.Status != domain.StepRolledBack {
			t.Errorf("Step %s: expected RolledBack, got %s", id, sr.Status)
		}
	}
}

func TestAbort_PlannedRunEndsAborted(t *testing.T) {
	calls := &recorder{}
	eng, ctx := sagaEngine(t, calls)
	planApprove(t, eng, ctx, sagaPlan, "saga")

	report, err := eng.Abort(ctx, "saga")
	if err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	if report.Status != domain.StatusAborted {
		t.Errorf("Expected Aborted for a run with no completed work, got %s", report.Status)
	}
	if len(calls.all()) != 0 {
		t.Errorf("No handler should run for an abort before execution: %v", calls.all())
	}
}
