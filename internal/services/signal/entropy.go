package signal

import (
	"math"

	"DigitPilot/internal/domain/models"
)

// MaxEntropy is the entropy ceiling for a ten-symbol alphabet, log2(10).
var MaxEntropy = math.Log2(10)

// ShannonEntropy computes base-2 entropy of the digit-frequency
// distribution.
func ShannonEntropy(digits []int) float64 {
	if len(digits) == 0 {
		return 0
	}
	var counts [10]int
	for _, d := range digits {
		if d >= 0 && d <= 9 {
			counts[d]++
		}
	}
	n := float64(len(digits))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		h -= p * math.Log2(p)
	}
	return h
}

// DetectRegime buckets entropy: below stableMax is stable, at or above
// chaosMin is chaos, anything between is transition.
func DetectRegime(entropy, stableMax, chaosMin float64) models.MarketRegime {
	switch {
	case entropy < stableMax:
		return models.RegimeStable
	case entropy >= chaosMin:
		return models.RegimeChaos
	default:
		return models.RegimeTransition
	}
}
