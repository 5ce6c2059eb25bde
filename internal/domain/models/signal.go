package models

import (
	"fmt"
	"time"
)

// Side is the contract direction relative to the barrier digit.
type Side string

const (
	SideOver  Side = "OVER"
	SideUnder Side = "UNDER"
)

// MarketRegime classifies how disordered the recent digit stream is.
type MarketRegime string

const (
	RegimeStable     MarketRegime = "stable"
	RegimeTransition MarketRegime = "transition"
	RegimeChaos      MarketRegime = "chaos"
)

// FactorVote is one indicator's contribution to a signal.
type FactorVote struct {
	Name     string  `json:"name"`
	Side     Side    `json:"side"`
	Strength float64 `json:"strength"` // raw strength in [0,1]
	Weight   float64 `json:"weight"`   // learned weight applied at vote time
	Reason   string  `json:"reason,omitempty"`
}

// Signal is an executable trade intent produced by the engine.
type Signal struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	Market     string       `json:"market"`
	Side       Side         `json:"side"`
	Digit      int          `json:"digit"`
	Confidence float64      `json:"confidence"`
	VoteRatio  float64      `json:"vote_ratio"`
	Entropy    float64      `json:"entropy"`
	Regime     MarketRegime `json:"regime"`
	Factors    []FactorVote `json:"factors,omitempty"`
	IssuedAt   time.Time    `json:"issued_at"`
}

// LockKey identifies the logical signal for duplicate-execution locking.
func (s *Signal) LockKey() string {
	return fmt.Sprintf("%s:%s:%d:%s", s.SessionID, s.Market, s.Digit, s.Side)
}

// Evaluation is the full engine output for one market: a signal, or the
// reason there is none. Regime and entropy are populated once the window
// clears warmup.
type Evaluation struct {
	Market  string
	Regime  MarketRegime
	Entropy float64
	Signal  *Signal
	Reason  string // set when Signal is nil
}
