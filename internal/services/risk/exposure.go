package risk

import (
	"sync"
	"time"
)

// Exposure tracks open positions per session and per market, plus the
// realized loss accumulated today. Counts are fed by the execution layer
// when contracts open and close.
type Exposure struct {
	mu        sync.Mutex
	perMarket map[string]int
	perTotal  map[string]int
	dayLoss   map[string]float64
	now       func() time.Time
}

func NewExposure() *Exposure {
	return &Exposure{
		perMarket: make(map[string]int),
		perTotal:  make(map[string]int),
		dayLoss:   make(map[string]float64),
		now:       time.Now,
	}
}

func marketKey(sessionID, market string) string {
	return sessionID + "|" + market
}

func (e *Exposure) dayKey(sessionID string) string {
	return sessionID + "|" + e.now().UTC().Format("2006-01-02")
}

// Opened registers a new open position.
func (e *Exposure) Opened(sessionID, market string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.perMarket[marketKey(sessionID, market)]++
	e.perTotal[sessionID]++
}

// Closed releases a position and folds a losing profit into today's tally.
func (e *Exposure) Closed(sessionID, market string, profit float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	mk := marketKey(sessionID, market)
	if e.perMarket[mk] > 0 {
		e.perMarket[mk]--
	}
	if e.perTotal[sessionID] > 0 {
		e.perTotal[sessionID]--
	}
	if profit < 0 {
		e.dayLoss[e.dayKey(sessionID)] += -profit
	}
}

// Open reports the current open-position counts for a session.
func (e *Exposure) Open(sessionID, market string) (inMarket, total int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.perMarket[marketKey(sessionID, market)], e.perTotal[sessionID]
}

// TotalOpen reports open positions across every session.
func (e *Exposure) TotalOpen() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	sum := 0
	for _, n := range e.perTotal {
		sum += n
	}
	return sum
}

// DailyLoss reports the realized loss for today. Keys from previous days
// stay in the map until the process restarts; they are never read again.
func (e *Exposure) DailyLoss(sessionID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dayLoss[e.dayKey(sessionID)]
}
