package signal

import (
	"fmt"

	"DigitPilot/internal/domain/models"
)

// Fire thresholds. A uniform stream puts every row probability at 0.1 and
// every digit share at 0.1; indicators only speak when clearly away from
// that baseline.
const (
	markovMinSamples    = 5
	markovFireProb      = 0.2
	exhaustionFireRatio = 0.5
	bayesFireEdge       = 0.05
)

// markovVote predicts the most probable next digit from the transition row
// of the current digit and votes on its side with the row probability.
func markovVote(f *features) (models.FactorVote, bool) {
	next, prob, samples := f.markov.next(f.current)
	if next < 0 || samples < markovMinSamples || prob < markovFireProb {
		return models.FactorVote{}, false
	}
	side := models.SideUnder
	if next >= 5 {
		side = models.SideOver
	}
	return models.FactorVote{
		Name:     models.IndicatorMarkov,
		Side:     side,
		Strength: prob,
		Reason:   fmt.Sprintf("markov: %d→%d at %.0f%% over %d transitions", f.current, next, prob*100, samples),
	}, true
}

// exhaustionVote finds the digit furthest below its uniform share and bets
// on its side reappearing (mean reversion).
func exhaustionVote(f *features) (models.FactorVote, bool) {
	expected := float64(f.n) / 10
	if expected <= 0 {
		return models.FactorVote{}, false
	}
	worst, worstRatio := -1, 0.0
	for d := 0; d <= 9; d++ {
		ratio := (expected - float64(f.counts[d])) / expected
		if ratio > worstRatio {
			worst, worstRatio = d, ratio
		}
	}
	if worst < 0 || worstRatio < exhaustionFireRatio {
		return models.FactorVote{}, false
	}
	side := models.SideUnder
	if worst >= 5 {
		side = models.SideOver
	}
	strength := worstRatio
	if strength > 1 {
		strength = 1
	}
	return models.FactorVote{
		Name:     models.IndicatorExhaustion,
		Side:     side,
		Strength: strength,
		Reason:   fmt.Sprintf("exhaustion: digit %d seen %d of %.1f expected", worst, f.counts[worst], expected),
	}, true
}

// streakVote counts consecutive same-direction deltas at the tail of the
// window; past the minimum length it signals reversion. With wrap enabled a
// 9→0 step counts as ascending.
func streakVote(digits []int, minLen int, wrap bool) (models.FactorVote, bool) {
	if len(digits) < 2 || minLen <= 0 {
		return models.FactorVote{}, false
	}
	dir := 0 // +1 rising, -1 falling
	run := 0
	for i := len(digits) - 1; i > 0; i-- {
		d := delta(digits[i-1], digits[i], wrap)
		if d == 0 {
			break
		}
		if dir == 0 {
			dir = d
		} else if d != dir {
			break
		}
		run++
	}
	if run < minLen {
		return models.FactorVote{}, false
	}
	// A sustained rise reverts down, a sustained fall reverts up.
	side := models.SideUnder
	word := "rising"
	if dir < 0 {
		side = models.SideOver
		word = "falling"
	}
	strength := float64(run) / 6
	if strength > 1 {
		strength = 1
	}
	return models.FactorVote{
		Name:     models.IndicatorStreak,
		Side:     side,
		Strength: strength,
		Reason:   fmt.Sprintf("streak: %d %s deltas, expecting reversal", run, word),
	}, true
}

func delta(prev, cur int, wrap bool) int {
	if wrap && prev == 9 && cur == 0 {
		return 1
	}
	if wrap && prev == 0 && cur == 9 {
		return -1
	}
	switch {
	case cur > prev:
		return 1
	case cur < prev:
		return -1
	default:
		return 0
	}
}

// biasVote measures the high-digit vs low-digit imbalance over the window
// and goes with the heavier side.
func biasVote(f *features, edge float64) (models.FactorVote, bool) {
	if f.n == 0 {
		return models.FactorVote{}, false
	}
	var high, low int
	for d := 0; d <= 4; d++ {
		low += f.counts[d]
	}
	for d := 5; d <= 9; d++ {
		high += f.counts[d]
	}
	imbalance := float64(high-low) / float64(f.n)
	abs := imbalance
	if abs < 0 {
		abs = -abs
	}
	if abs < edge {
		return models.FactorVote{}, false
	}
	side := models.SideUnder
	if imbalance > 0 {
		side = models.SideOver
	}
	strength := abs * 2
	if strength > 1 {
		strength = 1
	}
	return models.FactorVote{
		Name:     models.IndicatorBias,
		Side:     side,
		Strength: strength,
		Reason:   fmt.Sprintf("bias: high %.0f%% vs low %.0f%%", float64(high)/float64(f.n)*100, float64(low)/float64(f.n)*100),
	}, true
}

// bayesVote sums the posterior mass above and below the midline and votes
// with the larger half. Carries the entropy weight slot.
func bayesVote(f *features) (models.FactorVote, bool) {
	var pHigh float64
	for d := 5; d <= 9; d++ {
		pHigh += f.posterior[d]
	}
	pLow := 1 - pHigh
	diff := pHigh - pLow
	if diff < 0 {
		diff = -diff
	}
	if diff < bayesFireEdge {
		return models.FactorVote{}, false
	}
	side := models.SideUnder
	strength := pLow
	if pHigh > pLow {
		side = models.SideOver
		strength = pHigh
	}
	return models.FactorVote{
		Name:     models.IndicatorEntropy,
		Side:     side,
		Strength: strength,
		Reason:   fmt.Sprintf("posterior: P(high)=%.3f P(low)=%.3f", pHigh, pLow),
	}, true
}
