package repository

import (
	"context"
	"testing"

	"DigitPilot/internal/domain/models"
	"DigitPilot/pkg/cache"
)

func TestMemoryRepositoryMissReturnsNil(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	repo := NewMemoryRepository(mc)

	rec, err := repo.Load(context.Background(), "R_10")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record for unknown market, got %+v", rec)
	}
}

func TestMemoryRepositorySaveThenLoad(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	repo := NewMemoryRepository(mc)
	ctx := context.Background()

	rec := models.NewMemoryRecord("R_10")
	rec.Weights[models.IndicatorMarkov] = 1.4
	rec.Performance.TotalTrades = 3
	rec.Performance.TotalWins = 2
	rec.PushRegime("chaos")

	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.Load(ctx, "R_10")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil after Save")
	}
	if got.Weights[models.IndicatorMarkov] != 1.4 {
		t.Fatalf("markov weight = %v, want 1.4", got.Weights[models.IndicatorMarkov])
	}
	if got.Performance.TotalTrades != 3 || got.Performance.TotalWins != 2 {
		t.Fatalf("performance = %+v", got.Performance)
	}
	if got.Regime.Current != "chaos" || got.Regime.Counts["chaos"] != 1 {
		t.Fatalf("regime = %+v", got.Regime)
	}
}
