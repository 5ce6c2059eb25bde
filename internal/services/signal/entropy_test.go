package signal

import (
	"math"
	"testing"

	"DigitPilot/internal/domain/models"
)

func TestShannonEntropyBounds(t *testing.T) {
	if got := ShannonEntropy(nil); got != 0 {
		t.Fatalf("entropy of empty stream = %v, want 0", got)
	}

	constant := make([]int, 30)
	if got := ShannonEntropy(constant); got != 0 {
		t.Fatalf("entropy of constant stream = %v, want 0", got)
	}

	uniform := make([]int, 0, 30)
	for rep := 0; rep < 3; rep++ {
		for d := 0; d <= 9; d++ {
			uniform = append(uniform, d)
		}
	}
	got := ShannonEntropy(uniform)
	if math.Abs(got-MaxEntropy) > 1e-9 {
		t.Fatalf("entropy of uniform stream = %v, want %v", got, MaxEntropy)
	}
}

func TestShannonEntropyIgnoresOutOfRangeDigits(t *testing.T) {
	// Only the six in-range digits contribute symbol mass: three symbols
	// at p=2/8 each, so H = 3 * 0.25 * 2 = 1.5.
	dirty := []int{1, 2, 3, 1, 2, 3, -1, 12}
	if got := ShannonEntropy(dirty); math.Abs(got-1.5) > 1e-9 {
		t.Fatalf("entropy with junk digits = %v, want 1.5", got)
	}
}

func TestDetectRegimeBuckets(t *testing.T) {
	cases := []struct {
		entropy float64
		want    models.MarketRegime
	}{
		{0, models.RegimeStable},
		{2.79, models.RegimeStable},
		{2.8, models.RegimeTransition},
		{3.0, models.RegimeTransition},
		{3.14, models.RegimeTransition},
		{3.15, models.RegimeChaos},
		{MaxEntropy, models.RegimeChaos},
	}
	for _, tc := range cases {
		if got := DetectRegime(tc.entropy, 2.8, 3.15); got != tc.want {
			t.Fatalf("DetectRegime(%v) = %s, want %s", tc.entropy, got, tc.want)
		}
	}
}
