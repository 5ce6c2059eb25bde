package signal

import (
	"math"
	"testing"
)

func TestPosteriorNormalized(t *testing.T) {
	windows := [][]int{
		constantDigits(0, 30),
		constantDigits(9, 30),
		lowHeavyDigits(),
		{},
		{7},
		{1, 2, 3, 1, 2, 3, -1, 12},
	}
	for i, digits := range windows {
		f := extract(digits, 55)
		var sum float64
		for d := 0; d <= 9; d++ {
			p := f.posterior[d]
			if p < 0 || p > 1 {
				t.Fatalf("window %d: posterior[%d] = %v, want within [0, 1]", i, d, p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("window %d: posterior sum = %v, want 1", i, sum)
		}
	}
}

func TestMarkovNextTieBreaksLow(t *testing.T) {
	// Transitions out of 5 split evenly between 1 and 2.
	m := newMarkov([]int{5, 1, 5, 2}, 55)
	digit, prob, samples := m.next(5)
	if digit != 1 {
		t.Fatalf("next digit = %d, want the lower of the tied pair", digit)
	}
	if prob != 0.5 || samples != 2 {
		t.Fatalf("prob, samples = %v, %d, want 0.5, 2", prob, samples)
	}
}

func TestMarkovLikelihoodSmoothed(t *testing.T) {
	var m markovModel
	if got := m.likelihood(3, 7); got != 0.1 {
		t.Fatalf("likelihood on an empty row = %v, want uniform 0.1", got)
	}
	if got := m.likelihood(12, 4); got != 0.1 {
		t.Fatalf("likelihood from an out-of-range digit = %v, want uniform 0.1", got)
	}
}
