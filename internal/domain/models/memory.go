package models

import "time"

// Indicator names used as weight and performance keys. The posterior factor
// rides the entropy slot; the persisted weight-set schema is contractual.
const (
	IndicatorMarkov     = "markov"
	IndicatorExhaustion = "exhaustion"
	IndicatorStreak     = "streak"
	IndicatorBias       = "bias"
	IndicatorEntropy    = "entropy"
)

// MemorySchemaVersion is bumped when the persisted record shape changes.
// Load migrates older versions explicitly instead of shape-merging.
const MemorySchemaVersion = 2

const (
	RegimeHistoryCap = 50
	LastTradesCap    = 100
)

func IndicatorNames() []string {
	return []string{IndicatorMarkov, IndicatorExhaustion, IndicatorStreak, IndicatorBias, IndicatorEntropy}
}

// IndicatorStats tracks how often an indicator sided with winning trades.
type IndicatorStats struct {
	Correct int `json:"correct"`
	Wrong   int `json:"wrong"`
}

func (s IndicatorStats) Total() int { return s.Correct + s.Wrong }

func (s IndicatorStats) Accuracy() float64 {
	if s.Total() == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total())
}

// SideStats tallies trades per contract direction.
type SideStats struct {
	Trades int `json:"trades"`
	Wins   int `json:"wins"`
}

// Performance aggregates trade results for one market.
type Performance struct {
	BySide      map[string]SideStats `json:"by_side"`
	TotalTrades int                  `json:"total_trades"`
	TotalWins   int                  `json:"total_wins"`
	WinRate     float64              `json:"win_rate"`
}

// RegimeMemory keeps the recent regime classifications, bounded.
type RegimeMemory struct {
	Current string         `json:"current"`
	History []string       `json:"history"`
	Counts  map[string]int `json:"counts"`
}

// SessionTally is the running score of the session currently trading the
// market.
type SessionTally struct {
	ID     string `json:"id"`
	Trades int    `json:"trades"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
}

// TradeMark is one entry of the bounded trade ring buffer.
type TradeMark struct {
	Side       string    `json:"side"`
	Won        bool      `json:"won"`
	Confidence float64   `json:"confidence"`
	Regime     string    `json:"regime"`
	At         time.Time `json:"at"`
}

// MemoryRecord is the per-market learning state persisted between runs.
// Mutated only by the trade-outcome callback; read-mostly elsewhere.
type MemoryRecord struct {
	Market               string                    `json:"market"`
	Version              int                       `json:"version"`
	Weights              map[string]float64        `json:"weights"`
	IndicatorPerformance map[string]IndicatorStats `json:"indicator_performance"`
	Performance          Performance               `json:"performance"`
	Regime               RegimeMemory              `json:"regime"`
	CurrentSession       SessionTally              `json:"current_session"`
	LastTrades           []TradeMark               `json:"last_trades"`
	UpdatedAt            time.Time                 `json:"updated_at"`
}

// NewMemoryRecord returns the neutral state: every indicator weighted 1.0
// with no recorded outcomes.
func NewMemoryRecord(market string) *MemoryRecord {
	r := &MemoryRecord{
		Market:               market,
		Version:              MemorySchemaVersion,
		Weights:              make(map[string]float64, 5),
		IndicatorPerformance: make(map[string]IndicatorStats, 5),
		Performance: Performance{
			BySide: map[string]SideStats{string(SideOver): {}, string(SideUnder): {}},
		},
		Regime: RegimeMemory{Counts: make(map[string]int)},
	}
	for _, name := range IndicatorNames() {
		r.Weights[name] = 1.0
		r.IndicatorPerformance[name] = IndicatorStats{}
	}
	return r
}

// Weight returns the stored weight for an indicator, defaulting to 1.0 for
// anything unknown so new indicators never zero out.
func (r *MemoryRecord) Weight(name string) float64 {
	if w, ok := r.Weights[name]; ok {
		return w
	}
	return 1.0
}

// PushRegime records a regime classification, keeping history bounded.
func (r *MemoryRecord) PushRegime(regime string) {
	r.Regime.Current = regime
	r.Regime.History = append(r.Regime.History, regime)
	if len(r.Regime.History) > RegimeHistoryCap {
		r.Regime.History = r.Regime.History[len(r.Regime.History)-RegimeHistoryCap:]
	}
	if r.Regime.Counts == nil {
		r.Regime.Counts = make(map[string]int)
	}
	r.Regime.Counts[regime]++
}

// PushTrade appends to the trade ring buffer, keeping it bounded.
func (r *MemoryRecord) PushTrade(m TradeMark) {
	r.LastTrades = append(r.LastTrades, m)
	if len(r.LastTrades) > LastTradesCap {
		r.LastTrades = r.LastTrades[len(r.LastTrades)-LastTradesCap:]
	}
}

// Migrate upgrades a record loaded at an older schema version. Version 1
// lacked regime counts and the session tally; both start empty.
func (r *MemoryRecord) Migrate() {
	if r.Version >= MemorySchemaVersion {
		return
	}
	if r.Weights == nil {
		r.Weights = make(map[string]float64, 5)
	}
	if r.IndicatorPerformance == nil {
		r.IndicatorPerformance = make(map[string]IndicatorStats, 5)
	}
	for _, name := range IndicatorNames() {
		if _, ok := r.Weights[name]; !ok {
			r.Weights[name] = 1.0
		}
		if _, ok := r.IndicatorPerformance[name]; !ok {
			r.IndicatorPerformance[name] = IndicatorStats{}
		}
	}
	if r.Performance.BySide == nil {
		r.Performance.BySide = map[string]SideStats{string(SideOver): {}, string(SideUnder): {}}
	}
	if r.Regime.Counts == nil {
		r.Regime.Counts = make(map[string]int)
	}
	r.Version = MemorySchemaVersion
}
