package repository

import (
	"context"
	"fmt"
	"time"

	"DigitPilot/internal/domain/repository"
	"DigitPilot/pkg/cache"
)

// SignalLockRepository serializes execution of one logical signal across
// scheduler workers. The TTL backstops a worker that dies mid-placement.
type SignalLockRepository struct {
	cache cache.Service
}

var _ repository.SignalLocker = (*SignalLockRepository)(nil)

// NewSignalLockRepository creates the cache-backed signal lock.
func NewSignalLockRepository(c cache.Service) *SignalLockRepository {
	return &SignalLockRepository{cache: c}
}

func (r *SignalLockRepository) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.cache.TryLock(ctx, cache.GenerateKey("lock", key), ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	return ok, nil
}

func (r *SignalLockRepository) Release(ctx context.Context, key string) error {
	if err := r.cache.Unlock(ctx, cache.GenerateKey("lock", key)); err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
