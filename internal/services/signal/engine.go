package signal

import (
	"fmt"
	"math"

	"DigitPilot/internal/domain/models"
	domsvc "DigitPilot/internal/domain/service"
)

// Config carries the evaluation thresholds. Zero values fall back to the
// reference defaults.
type Config struct {
	WarmupDigits       int
	EntropyWindow      int
	MarkovWindow       int
	StableMaxEntropy   float64
	ChaosMinEntropy    float64
	MinConfidence      float64 // stable-regime floor on the vote ratio
	TransitionFactor   float64 // multiplier on the floor in transition
	MinFactors         int
	ContradictionRatio float64
	StreakMin          int
	StreakWrap         bool
	BiasEdge           float64
}

func (c Config) withDefaults() Config {
	if c.WarmupDigits <= 0 {
		c.WarmupDigits = 25
	}
	if c.EntropyWindow <= 0 {
		c.EntropyWindow = 30
	}
	if c.MarkovWindow <= 0 {
		c.MarkovWindow = 55
	}
	if c.StableMaxEntropy <= 0 {
		c.StableMaxEntropy = 2.8
	}
	if c.ChaosMinEntropy <= 0 {
		c.ChaosMinEntropy = 3.15
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.25
	}
	if c.TransitionFactor <= 0 {
		c.TransitionFactor = 1.6
	}
	if c.MinFactors <= 0 {
		c.MinFactors = 2
	}
	if c.ContradictionRatio <= 0 {
		c.ContradictionRatio = 0.25
	}
	if c.StreakMin <= 0 {
		c.StreakMin = 3
	}
	if c.BiasEdge <= 0 {
		c.BiasEdge = 0.15
	}
	return c
}

// Engine is the pure signal evaluator. It holds no connections and no
// clocks; identical inputs always produce identical output, which is what
// makes smart-delay revalidation meaningful.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

var _ domsvc.Evaluator = (*Engine)(nil)

// Evaluate runs the full decision procedure for one market window. The
// returned evaluation always explains itself: either a signal with its
// factor trace or the reason there is none.
func (e *Engine) Evaluate(window models.DigitWindow, mem *models.MemoryRecord) models.Evaluation {
	ev := models.Evaluation{Market: window.Market}

	if window.Len() < e.cfg.WarmupDigits {
		ev.Reason = fmt.Sprintf("warming up: %d/%d digits", window.Len(), e.cfg.WarmupDigits)
		return ev
	}

	ev.Entropy = ShannonEntropy(window.Tail(e.cfg.EntropyWindow))
	ev.Regime = DetectRegime(ev.Entropy, e.cfg.StableMaxEntropy, e.cfg.ChaosMinEntropy)
	if ev.Regime == models.RegimeChaos {
		ev.Reason = fmt.Sprintf("market regime chaos: entropy %.3f at or above %.3f", ev.Entropy, e.cfg.ChaosMinEntropy)
		return ev
	}

	if mem == nil {
		mem = models.NewMemoryRecord(window.Market)
	}

	f := extract(window.Digits, e.cfg.MarkovWindow)
	votes := e.collectVotes(f)
	for i := range votes {
		votes[i].Weight = mem.Weight(votes[i].Name)
	}

	var over, under float64
	for _, v := range votes {
		if v.Side == models.SideOver {
			over += v.Strength * v.Weight
		} else {
			under += v.Strength * v.Weight
		}
	}
	if over+under == 0 {
		ev.Reason = "no indicator fired"
		return ev
	}
	voteRatio := math.Abs(over-under) / (over + under)

	if voteRatio < e.cfg.ContradictionRatio && len(votes) >= 2 {
		ev.Reason = fmt.Sprintf("contradiction: over %.3f vs under %.3f (ratio %.3f)", over, under, voteRatio)
		return ev
	}

	minConf := e.cfg.MinConfidence
	if ev.Regime == models.RegimeTransition {
		minConf *= e.cfg.TransitionFactor
	}
	if voteRatio < minConf {
		ev.Reason = fmt.Sprintf("confidence %.3f below %s minimum %.3f", voteRatio, ev.Regime, minConf)
		return ev
	}

	side := models.SideOver
	if under > over {
		side = models.SideUnder
	}
	agreed := 0
	for _, v := range votes {
		if v.Side == side {
			agreed++
		}
	}
	if agreed < e.cfg.MinFactors {
		ev.Reason = fmt.Sprintf("only %d factor(s) agree on %s, need %d", agreed, side, e.cfg.MinFactors)
		return ev
	}

	// ID and session are stamped by the scheduler when the candidate is
	// taken; the engine output stays a pure function of its inputs.
	ev.Signal = &models.Signal{
		Market:     window.Market,
		Side:       side,
		Digit:      e.pickDigit(f, side),
		Confidence: voteRatio,
		VoteRatio:  voteRatio,
		Entropy:    ev.Entropy,
		Regime:     ev.Regime,
		Factors:    votes,
		IssuedAt:   window.AsOf,
	}
	return ev
}

func (e *Engine) collectVotes(f *features) []models.FactorVote {
	votes := make([]models.FactorVote, 0, 5)
	if v, ok := markovVote(f); ok {
		votes = append(votes, v)
	}
	if v, ok := exhaustionVote(f); ok {
		votes = append(votes, v)
	}
	if v, ok := streakVote(f.digits, e.cfg.StreakMin, e.cfg.StreakWrap); ok {
		votes = append(votes, v)
	}
	if v, ok := biasVote(f, e.cfg.BiasEdge); ok {
		votes = append(votes, v)
	}
	if v, ok := bayesVote(f); ok {
		votes = append(votes, v)
	}
	return votes
}

// pickDigit selects the barrier for the winning side by blending the win
// mass of the posterior beyond each candidate barrier with the inverse
// frequency of the barrier digit itself. Ties break to the lower digit.
func (e *Engine) pickDigit(f *features, side models.Side) int {
	lo, hi := 0, 4
	if side == models.SideUnder {
		lo, hi = 5, 9
	}
	best, bestScore := lo, -1.0
	for d := lo; d <= hi; d++ {
		var winMass float64
		if side == models.SideOver {
			for k := d + 1; k <= 9; k++ {
				winMass += f.posterior[k]
			}
		} else {
			for k := 0; k < d; k++ {
				winMass += f.posterior[k]
			}
		}
		score := winMass + (1 - f.freq(d))
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}
