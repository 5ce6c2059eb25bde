package risk

import (
	"testing"
	"time"
)

func TestExposureCounts(t *testing.T) {
	e := NewExposure()

	e.Opened("s1", "R_10")
	e.Opened("s1", "R_10")
	e.Opened("s1", "R_25")
	e.Opened("s2", "R_10")

	inMarket, total := e.Open("s1", "R_10")
	if inMarket != 2 || total != 3 {
		t.Fatalf("s1/R_10 = (%d, %d), want (2, 3)", inMarket, total)
	}
	if got := e.TotalOpen(); got != 4 {
		t.Fatalf("TotalOpen = %d, want 4", got)
	}

	e.Closed("s1", "R_10", 1.5)
	inMarket, total = e.Open("s1", "R_10")
	if inMarket != 1 || total != 2 {
		t.Fatalf("after close s1/R_10 = (%d, %d), want (1, 2)", inMarket, total)
	}
}

func TestExposureCloseNeverGoesNegative(t *testing.T) {
	e := NewExposure()

	e.Closed("s1", "R_10", -1)
	inMarket, total := e.Open("s1", "R_10")
	if inMarket != 0 || total != 0 {
		t.Fatalf("counts = (%d, %d), want (0, 0)", inMarket, total)
	}
}

func TestExposureDailyLoss(t *testing.T) {
	e := NewExposure()
	now := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	e.Opened("s1", "R_10")
	e.Closed("s1", "R_10", -2.5)
	e.Opened("s1", "R_10")
	e.Closed("s1", "R_10", 4.0) // wins do not offset the loss tally
	e.Opened("s1", "R_10")
	e.Closed("s1", "R_10", -1.5)

	if got := e.DailyLoss("s1"); got != 4.0 {
		t.Fatalf("DailyLoss = %v, want 4.0", got)
	}

	// Day boundary starts a fresh tally.
	now = now.Add(time.Hour)
	if got := e.DailyLoss("s1"); got != 0 {
		t.Fatalf("DailyLoss next day = %v, want 0", got)
	}
}
