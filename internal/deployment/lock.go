package deployment

import (
	"context"
	"sync"
)

// LockManager manages per-target deployment locks to prevent concurrent deployments.
//
// Each target owns a one-slot semaphore. The outer mutex only protects the
// map of semaphores, so different targets can deploy concurrently while a
// given target runs at most one deployment at a time.
type LockManager struct {
	mu    sync.Mutex               // Protects the locks map
	locks map[string]chan struct{} // Per-target semaphores
}

// NewLockManager creates a new lock manager
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]chan struct{}),
	}
}

func (lm *LockManager) slot(targetID string) chan struct{} {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	sem, exists := lm.locks[targetID]
	if !exists {
		sem = make(chan struct{}, 1)
		lm.locks[targetID] = sem
	}
	return sem
}

// TryLock attempts to acquire the deployment lock for the given target without
// blocking. It returns false if another deployment of the target is in progress.
func (lm *LockManager) TryLock(targetID string) bool {
	select {
	case lm.slot(targetID) <- struct{}{}:
		return true
	default:
		return false
	}
}

// Lock blocks until the deployment lock for the target is acquired or ctx is done.
func (lm *LockManager) Lock(ctx context.Context, targetID string) error {
	select {
	case lm.slot(targetID) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases the deployment lock for the given target.
//
// Typically used with defer: defer lockManager.Unlock(targetID).
// It is safe to call this even if the lock is not held (no-op).
func (lm *LockManager) Unlock(targetID string) {
	select {
	case <-lm.slot(targetID):
	default:
	}
}
