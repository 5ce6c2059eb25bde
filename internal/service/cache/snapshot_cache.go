package cache

import (
	"sort"
	"sync"
	"time"

	"DigitPilot/internal/domain/models"
)

// MarketSnapshot is the last evaluation result for one market, kept for the
// status API so it never has to touch the engine loop.
type MarketSnapshot struct {
	Market  string              `json:"market"`
	Regime  models.MarketRegime `json:"regime"`
	Entropy float64             `json:"entropy"`
	Reason  string              `json:"reason,omitempty"`
	Signal  *models.Signal      `json:"signal,omitempty"`
	At      time.Time           `json:"at"`
}

type snapshotEntry struct {
	snap    MarketSnapshot
	expires time.Time
}

// SnapshotCache is a TTL map of market snapshots. Expired entries are
// dropped lazily on read.
type SnapshotCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]snapshotEntry
}

func NewSnapshotCache(ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SnapshotCache{
		ttl:     ttl,
		entries: make(map[string]snapshotEntry),
	}
}

func (c *SnapshotCache) Put(snap MarketSnapshot) {
	c.mu.Lock()
	c.entries[snap.Market] = snapshotEntry{snap: snap, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *SnapshotCache) Get(market string) (MarketSnapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[market]
	c.mu.RUnlock()
	if !ok {
		return MarketSnapshot{}, false
	}
	if time.Now().After(e.expires) {
		c.mu.Lock()
		if cur, still := c.entries[market]; still && cur.expires.Equal(e.expires) {
			delete(c.entries, market)
		}
		c.mu.Unlock()
		return MarketSnapshot{}, false
	}
	return e.snap, true
}

// All returns the live snapshots sorted by market.
func (c *SnapshotCache) All() []MarketSnapshot {
	now := time.Now()
	c.mu.RLock()
	out := make([]MarketSnapshot, 0, len(c.entries))
	for _, e := range c.entries {
		if now.After(e.expires) {
			continue
		}
		out = append(out, e.snap)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out
}
