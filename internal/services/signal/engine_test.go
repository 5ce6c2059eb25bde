package signal

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"DigitPilot/internal/domain/models"
)

var asOf = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func window(digits []int) models.DigitWindow {
	return models.DigitWindow{Market: "R_100", Digits: digits, AsOf: asOf}
}

func constantDigits(d, n int) []int {
	ds := make([]int, n)
	for i := range ds {
		ds[i] = d
	}
	return ds
}

// lowHeavyDigits is thirty digits over the symbols 0..7: digits 0..5 appear
// four times, 6 and 7 three times. Entropy lands near 2.99, inside the
// transition band, and the tail carries a five-step rising run.
func lowHeavyDigits() []int {
	ds := make([]int, 0, 30)
	for rep := 0; rep < 3; rep++ {
		for d := 0; d <= 7; d++ {
			ds = append(ds, d)
		}
	}
	for d := 0; d <= 5; d++ {
		ds = append(ds, d)
	}
	return ds
}

func TestEvaluateWarmupGate(t *testing.T) {
	e := NewEngine(Config{})

	ev := e.Evaluate(window(constantDigits(0, 24)), nil)
	if ev.Signal != nil {
		t.Fatalf("signal issued during warmup: %+v", ev.Signal)
	}
	if !strings.Contains(ev.Reason, "warming up") {
		t.Fatalf("reason = %q, want warmup notice", ev.Reason)
	}

	// The gate follows the configured threshold, not the default.
	short := NewEngine(Config{WarmupDigits: 10})
	if ev := short.Evaluate(window(constantDigits(0, 12)), nil); ev.Signal == nil {
		t.Fatalf("12 digits rejected with warmup threshold 10: %s", ev.Reason)
	}
}

func TestEvaluateChaosVeto(t *testing.T) {
	e := NewEngine(Config{})

	uniform := make([]int, 0, 30)
	for rep := 0; rep < 3; rep++ {
		for d := 0; d <= 9; d++ {
			uniform = append(uniform, d)
		}
	}
	ev := e.Evaluate(window(uniform), nil)
	if ev.Signal != nil {
		t.Fatalf("signal issued in chaos regime: %+v", ev.Signal)
	}
	if ev.Regime != models.RegimeChaos {
		t.Fatalf("regime = %s, want chaos", ev.Regime)
	}
	if ev.Entropy < 3.15 {
		t.Fatalf("entropy = %v, want at or above the chaos floor", ev.Entropy)
	}
	if !strings.Contains(ev.Reason, "chaos") {
		t.Fatalf("reason = %q, want chaos notice", ev.Reason)
	}
}

func TestEvaluateUnderSignalOnLowDigits(t *testing.T) {
	e := NewEngine(Config{})

	// A constant stream of zeros fires markov, exhaustion, bias and the
	// posterior on the UNDER side with nothing opposing.
	ev := e.Evaluate(window(constantDigits(0, 30)), nil)
	if ev.Signal == nil {
		t.Fatalf("no signal on a constant low stream: %s", ev.Reason)
	}
	if ev.Regime != models.RegimeStable {
		t.Fatalf("regime = %s, want stable", ev.Regime)
	}
	s := ev.Signal
	if s.Side != models.SideUnder {
		t.Fatalf("side = %s, want UNDER", s.Side)
	}
	// Every posterior step below the barrier is win mass, so the widest
	// UNDER barrier wins the digit pick.
	if s.Digit != 9 {
		t.Fatalf("digit = %d, want 9", s.Digit)
	}
	if s.Confidence != 1 {
		t.Fatalf("confidence = %v, want 1 with no opposing votes", s.Confidence)
	}
	if s.Confidence != s.VoteRatio {
		t.Fatalf("confidence %v diverges from vote ratio %v", s.Confidence, s.VoteRatio)
	}
	if !s.IssuedAt.Equal(asOf) {
		t.Fatalf("issued at %v, want window time %v", s.IssuedAt, asOf)
	}
	if len(s.Factors) != 4 {
		t.Fatalf("factor count = %d, want 4", len(s.Factors))
	}
}

func TestEvaluateOverSignalOnHighDigits(t *testing.T) {
	e := NewEngine(Config{})

	// All nines: exhaustion bets on a missing low digit reappearing, but
	// markov, bias and the posterior outvote it on OVER.
	ev := e.Evaluate(window(constantDigits(9, 30)), nil)
	if ev.Signal == nil {
		t.Fatalf("no signal on a constant high stream: %s", ev.Reason)
	}
	s := ev.Signal
	if s.Side != models.SideOver {
		t.Fatalf("side = %s, want OVER", s.Side)
	}
	if s.Digit != 0 {
		t.Fatalf("digit = %d, want 0", s.Digit)
	}
	if s.Confidence >= 1 || s.Confidence < 0.25 {
		t.Fatalf("confidence = %v, want within (0.25, 1) with one dissenting vote", s.Confidence)
	}
}

func TestEvaluateContradictionVeto(t *testing.T) {
	e := NewEngine(Config{})

	// On this window exhaustion votes OVER at 1.0 while streak (5/6) and
	// bias (2/3) vote UNDER: the vote ratio is exactly 0.2, inside the
	// contradiction band.
	ev := e.Evaluate(window(lowHeavyDigits()), nil)
	if ev.Signal != nil {
		t.Fatalf("signal issued on contradictory votes: %+v", ev.Signal)
	}
	if !strings.Contains(ev.Reason, "contradiction") {
		t.Fatalf("reason = %q, want contradiction veto", ev.Reason)
	}
}

func TestEvaluateTransitionRaisesConfidenceFloor(t *testing.T) {
	e := NewEngine(Config{})

	// Discounting exhaustion to 0.8 lifts the ratio to ~0.304: past the
	// contradiction band, but short of the transition floor 0.25 * 1.6.
	mem := models.NewMemoryRecord("R_100")
	mem.Weights[models.IndicatorExhaustion] = 0.8

	ev := e.Evaluate(window(lowHeavyDigits()), mem)
	if ev.Regime != models.RegimeTransition {
		t.Fatalf("regime = %s, want transition", ev.Regime)
	}
	if ev.Signal != nil {
		t.Fatalf("signal issued below the transition floor: %+v", ev.Signal)
	}
	if !strings.Contains(ev.Reason, "transition minimum") {
		t.Fatalf("reason = %q, want transition floor rejection", ev.Reason)
	}
}

func TestEvaluateMinFactorsGate(t *testing.T) {
	e := NewEngine(Config{})

	// Crushing the UNDER voters leaves exhaustion alone on OVER with a
	// ratio far past every floor; one agreeing factor is still too few.
	mem := models.NewMemoryRecord("R_100")
	mem.Weights[models.IndicatorStreak] = 0.05
	mem.Weights[models.IndicatorBias] = 0.05

	ev := e.Evaluate(window(lowHeavyDigits()), mem)
	if ev.Signal != nil {
		t.Fatalf("signal issued with a single agreeing factor: %+v", ev.Signal)
	}
	if !strings.Contains(ev.Reason, "only 1 factor(s) agree") {
		t.Fatalf("reason = %q, want factor quorum rejection", ev.Reason)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	e := NewEngine(Config{})
	w := window(constantDigits(0, 30))

	first := e.Evaluate(w, models.NewMemoryRecord("R_100"))
	second := e.Evaluate(w, models.NewMemoryRecord("R_100"))
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical inputs produced different evaluations:\n%+v\n%+v", first, second)
	}
}

func TestEvaluateLeavesSchedulerFieldsBlank(t *testing.T) {
	e := NewEngine(Config{})

	ev := e.Evaluate(window(constantDigits(0, 30)), nil)
	if ev.Signal == nil {
		t.Fatalf("no signal: %s", ev.Reason)
	}
	if ev.Signal.ID != "" || ev.Signal.SessionID != "" {
		t.Fatalf("engine stamped id %q session %q, want both blank", ev.Signal.ID, ev.Signal.SessionID)
	}
}
