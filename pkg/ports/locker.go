package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker coordinates plan-run ownership across replicas. The
// engine guarantees at most one active run per plan ID in-process; a locker
// extends that guarantee across instances.
type DistributedLocker interface {
	// Lock acquires the lock for key (the plan ID), blocking until acquired,
	// the context is canceled, or the implementation gives up. The returned
	// UnlockFunc MUST be called to release the lock; the TTL bounds the hold
	// time if the holder dies.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
