package repository

import (
	"context"
	"errors"
	"fmt"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	"DigitPilot/pkg/cache"
)

// MemoryRepository keeps per-market learning records in the cache backend.
// Records are small and rewritten whole on every trade outcome, so the cache
// is the system of record here, not a front.
type MemoryRepository struct {
	cache cache.Service
}

var _ repository.MemoryStore = (*MemoryRepository)(nil)

// NewMemoryRepository creates the cache-backed learning store.
func NewMemoryRepository(c cache.Service) *MemoryRepository {
	return &MemoryRepository{cache: c}
}

// Load returns nil without error when the market has no record yet.
func (r *MemoryRepository) Load(ctx context.Context, market string) (*models.MemoryRecord, error) {
	var rec models.MemoryRecord
	err := r.cache.Get(ctx, cache.GenerateKey("memory", market), &rec)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load memory %s: %w", market, err)
	}
	return &rec, nil
}

func (r *MemoryRepository) Save(ctx context.Context, rec *models.MemoryRecord) error {
	if err := r.cache.Set(ctx, cache.GenerateKey("memory", rec.Market), rec, 0); err != nil {
		return fmt.Errorf("save memory %s: %w", rec.Market, err)
	}
	return nil
}
