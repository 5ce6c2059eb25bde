package learning

import (
	"context"
	"sync"
	"time"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	domsvc "DigitPilot/internal/domain/service"
	"DigitPilot/pkg/logger"
)

const (
	// An indicator keeps the neutral weight until it has this many recorded
	// outcomes.
	minOutcomes = 20

	weightFloor = 0.3
	weightSpan  = 1.7
)

type Config struct {
	CacheTTL time.Duration // how long a loaded record is trusted before re-reading
}

// Memory owns the per-market learning records. It is the only writer; reads
// elsewhere go through Weights which serves a bounded-staleness snapshot.
type Memory struct {
	cfg   Config
	store repository.MemoryStore
	log   *logger.Logger

	mu       sync.Mutex
	records  map[string]*models.MemoryRecord
	loadedAt map[string]time.Time
}

func NewMemory(cfg Config, store repository.MemoryStore, log *logger.Logger) *Memory {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Second
	}
	return &Memory{
		cfg:      cfg,
		store:    store,
		log:      log,
		records:  make(map[string]*models.MemoryRecord),
		loadedAt: make(map[string]time.Time),
	}
}

var _ domsvc.Learner = (*Memory)(nil)

// Weights returns a snapshot of the market's record, loading from the store
// when the cached copy is stale. A missing or unreadable record degrades to
// neutral defaults instead of failing the evaluation.
func (m *Memory) Weights(ctx context.Context, market string) (*models.MemoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.ensureLoaded(ctx, market)
	return snapshot(rec), nil
}

// RecordOutcome applies one closed trade to the market's record and
// persists it. Persistence failures are logged and swallowed; the in-memory
// record stays authoritative for the rest of the run.
func (m *Memory) RecordOutcome(ctx context.Context, out domsvc.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := m.ensureLoaded(ctx, out.Market)

	for _, name := range out.Fired {
		stats := rec.IndicatorPerformance[name]
		if out.Won {
			stats.Correct++
		} else {
			stats.Wrong++
		}
		rec.IndicatorPerformance[name] = stats
		rec.Weights[name] = computeWeight(stats)
	}

	side := string(out.Side)
	bySide := rec.Performance.BySide[side]
	bySide.Trades++
	if out.Won {
		bySide.Wins++
	}
	rec.Performance.BySide[side] = bySide
	rec.Performance.TotalTrades++
	if out.Won {
		rec.Performance.TotalWins++
	}
	rec.Performance.WinRate = float64(rec.Performance.TotalWins) / float64(rec.Performance.TotalTrades)

	rec.PushRegime(string(out.Regime))

	if rec.CurrentSession.ID != out.SessionID {
		rec.CurrentSession = models.SessionTally{ID: out.SessionID}
	}
	rec.CurrentSession.Trades++
	if out.Won {
		rec.CurrentSession.Wins++
	} else {
		rec.CurrentSession.Losses++
	}

	rec.PushTrade(models.TradeMark{
		Side:       side,
		Won:        out.Won,
		Confidence: out.Confidence,
		Regime:     string(out.Regime),
		At:         time.Now(),
	})
	rec.UpdatedAt = time.Now()

	if err := m.store.Save(ctx, rec); err != nil {
		m.log.Warn("learning memory save failed, continuing on in-memory record",
			logger.String("market", out.Market), logger.Error(err))
	}
	m.loadedAt[out.Market] = time.Now()
}

// ensureLoaded returns the live record for the market, reloading from the
// store past the TTL. Caller must hold m.mu.
func (m *Memory) ensureLoaded(ctx context.Context, market string) *models.MemoryRecord {
	rec, ok := m.records[market]
	if ok && time.Since(m.loadedAt[market]) < m.cfg.CacheTTL {
		return rec
	}

	stored, err := m.store.Load(ctx, market)
	switch {
	case err != nil:
		if rec == nil {
			m.log.Warn("learning memory load failed, starting from defaults",
				logger.String("market", market), logger.Error(err))
			rec = models.NewMemoryRecord(market)
		}
		// keep the in-memory record on transient store errors
	case stored == nil:
		if rec == nil {
			rec = models.NewMemoryRecord(market)
		}
	default:
		stored.Migrate()
		rec = stored
	}

	m.records[market] = rec
	m.loadedAt[market] = time.Now()
	return rec
}

// computeWeight applies the bounded learning formula: neutral below the
// outcome minimum, then 0.3 + accuracy*1.7 clamped to [0.3, 2.0].
func computeWeight(stats models.IndicatorStats) float64 {
	if stats.Total() < minOutcomes {
		return 1.0
	}
	w := weightFloor + stats.Accuracy()*weightSpan
	if w < weightFloor {
		w = weightFloor
	}
	if w > 2.0 {
		w = 2.0
	}
	return w
}

// snapshot deep-copies a record so readers never share maps with the
// writer.
func snapshot(rec *models.MemoryRecord) *models.MemoryRecord {
	cp := *rec
	cp.Weights = make(map[string]float64, len(rec.Weights))
	for k, v := range rec.Weights {
		cp.Weights[k] = v
	}
	cp.IndicatorPerformance = make(map[string]models.IndicatorStats, len(rec.IndicatorPerformance))
	for k, v := range rec.IndicatorPerformance {
		cp.IndicatorPerformance[k] = v
	}
	cp.Performance.BySide = make(map[string]models.SideStats, len(rec.Performance.BySide))
	for k, v := range rec.Performance.BySide {
		cp.Performance.BySide[k] = v
	}
	cp.Regime.History = append([]string(nil), rec.Regime.History...)
	cp.Regime.Counts = make(map[string]int, len(rec.Regime.Counts))
	for k, v := range rec.Regime.Counts {
		cp.Regime.Counts[k] = v
	}
	cp.LastTrades = append([]models.TradeMark(nil), rec.LastTrades...)
	return &cp
}
