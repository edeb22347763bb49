package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStateStoreContract verifies that a StateStore implementation adheres to
// the interface contract. Every adapter test runs this suite.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()
	planID := "contract-plan-" + time.Now().Format("20060102150405")

	newRecord := func(id string) *domain.ExecutionRecord {
		plan := domain.Plan{
			ID: id,
			Steps: []domain.Step{
				{ID: "s1", Skill: "git", Action: "create-branch"},
				{ID: "s2", Skill: "jira", Action: "transition", DependsOn: []string{"s1"}},
			},
		}
		return domain.NewExecutionRecord(plan, "run-"+id, time.Now().UTC())
	}

	t.Run("Save and Load", func(t *testing.T) {
		rec := newRecord(planID)
		rec.SetPlanStatus(domain.StatusPlanned, time.Now().UTC())
		rec.SetStepStatus("s1", domain.StepSucceeded, time.Now().UTC())

		require.NoError(t, store.Save(ctx, rec), "Save should not return error")

		loaded, err := store.Load(ctx, planID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, rec.PlanID, loaded.PlanID)
		assert.Equal(t, rec.RunID, loaded.RunID)
		assert.Equal(t, domain.StatusPlanned, loaded.Status)
		assert.Len(t, loaded.Steps, 2)

		sr, ok := loaded.StepRecord("s1")
		require.True(t, ok)
		assert.Equal(t, domain.StepSucceeded, sr.Status)
		assert.Equal(t, 1, sr.CompletionSeq)

		// Transition log must survive the round trip in order.
		require.NotEmpty(t, loaded.Transitions)
		assert.Equal(t, string(domain.StatusPlanned), loaded.Transitions[0].To)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+planID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound)
	})

	t.Run("Overwrite", func(t *testing.T) {
		rec := newRecord(planID)
		require.NoError(t, store.Save(ctx, rec))

		rec.SetPlanStatus(domain.StatusExecuting, time.Now().UTC())
		require.NoError(t, store.Save(ctx, rec))

		loaded, err := store.Load(ctx, planID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusExecuting, loaded.Status)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, newRecord(planID)))

		require.NoError(t, store.Delete(ctx, planID), "Delete should not return error")

		_, err := store.Load(ctx, planID)
		assert.ErrorIs(t, err, domain.ErrRunNotFound, "Load after Delete should return ErrRunNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := planID + "-1"
		id2 := planID + "-2"
		_ = store.Save(ctx, newRecord(id1))
		_ = store.Save(ctx, newRecord(id2))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})
}
