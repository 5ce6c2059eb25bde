package cache

import (
	"testing"
	"time"

	"DigitPilot/internal/domain/models"
)

func TestSnapshotCachePutGet(t *testing.T) {
	c := NewSnapshotCache(time.Minute)

	c.Put(MarketSnapshot{Market: "R_10", Regime: models.RegimeStable, Entropy: 2.5})
	snap, ok := c.Get("R_10")
	if !ok {
		t.Fatalf("snapshot missing")
	}
	if snap.Regime != models.RegimeStable || snap.Entropy != 2.5 {
		t.Fatalf("snapshot = %+v", snap)
	}

	if _, ok := c.Get("R_25"); ok {
		t.Fatalf("unknown market returned a snapshot")
	}
}

func TestSnapshotCacheExpiry(t *testing.T) {
	c := NewSnapshotCache(20 * time.Millisecond)

	c.Put(MarketSnapshot{Market: "R_10"})
	time.Sleep(40 * time.Millisecond)

	if _, ok := c.Get("R_10"); ok {
		t.Fatalf("expired snapshot still served")
	}
	if got := c.All(); len(got) != 0 {
		t.Fatalf("All returned %d expired snapshots", len(got))
	}
}

func TestSnapshotCacheAllSorted(t *testing.T) {
	c := NewSnapshotCache(time.Minute)

	c.Put(MarketSnapshot{Market: "R_75"})
	c.Put(MarketSnapshot{Market: "R_10"})
	c.Put(MarketSnapshot{Market: "R_25"})

	all := c.All()
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Market != "R_10" || all[1].Market != "R_25" || all[2].Market != "R_75" {
		t.Fatalf("order = %v", []string{all[0].Market, all[1].Market, all[2].Market})
	}
}
