package ports

import (
	"context"

	"github.com/aretw0/espalier/pkg/domain"
)

// StateStore persists execution records keyed by plan ID. It is what makes
// a run durable: the engine saves after every state-changing transition, so
// a crash between transitions leaves the store consistent with the last
// completed one.
type StateStore interface {
	// Save persists the record for its plan ID, overwriting any previous
	// version atomically.
	Save(ctx context.Context, record *domain.ExecutionRecord) error

	// Load retrieves the record for a plan ID.
	// Returns domain.ErrRunNotFound if no run exists.
	Load(ctx context.Context, planID string) (*domain.ExecutionRecord, error)

	// Delete removes the record for a plan ID.
	Delete(ctx context.Context, planID string) error

	// List returns the plan IDs of all persisted runs.
	List(ctx context.Context) ([]string, error)
}
