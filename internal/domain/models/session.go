package models

import "time"

// SessionState mirrors the bookkeeping status field. Only running sessions
// trade; paused sessions need an explicit resume.
type SessionState string

const (
	SessionPending   SessionState = "pending"
	SessionRunning   SessionState = "running"
	SessionPaused    SessionState = "paused"
	SessionCompleted SessionState = "completed"
	SessionCancelled SessionState = "cancelled"
)

// StakeMode selects how the per-trade stake is derived.
type StakeMode string

const (
	StakeFixed      StakeMode = "fixed"
	StakePercent    StakeMode = "percent"
	StakeMartingale StakeMode = "martingale"
)

// AccountStatus marks whether a participant may still be used for placement.
type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountInvalid AccountStatus = "invalid"
)

// Account is one venue credential participating in a session. TP and SL of
// zero inherit the session defaults.
type Account struct {
	Name          string        `json:"name"`
	Token         string        `json:"token"`
	Currency      string        `json:"currency"`
	TakeProfit    float64       `json:"take_profit,omitempty"`
	StopLoss      float64       `json:"stop_loss,omitempty"`
	Status        AccountStatus `json:"status"`
	InvalidReason string        `json:"invalid_reason,omitempty"`
}

// Recovery is the martingale running state for a session. Multiplier starts
// at 1.0 and only a win resets it.
type Recovery struct {
	Multiplier float64 `json:"multiplier"`
	ToRecover  float64 `json:"to_recover"`
	Recovered  float64 `json:"recovered"`
	Target     float64 `json:"target"` // reaching it completes the session, zero disables
}

// Limits are the per-session risk bounds, zero meaning engine default.
type Limits struct {
	TradesPerMinute      int     `json:"trades_per_minute"`
	TradesPerHour        int     `json:"trades_per_hour"`
	MaxOpenPerMarket     int     `json:"max_open_per_market"`
	MaxOpenTotal         int     `json:"max_open_total"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxAPIErrors         int     `json:"max_api_errors"`
	MaxDailyLoss         float64 `json:"max_daily_loss"`
}

// Session groups markets, participants, stake sizing and limits under one
// trading run. This is the normalized internal representation; the HTTP
// boundary maps onto it once and the core never sees raw request shapes.
type Session struct {
	ID            string
	Name          string
	Markets       []string
	Accounts      []Account
	StakeMode     StakeMode
	Stake         float64 // fixed amount, or martingale base
	StakePercent  float64 // balance share for percent mode
	Factor        float64 // martingale multiplier applied per loss
	MinBalance    float64 // participant balance floor
	DefaultTP     float64 // per-contract take profit unless overridden
	DefaultSL     float64 // per-contract stop loss unless overridden
	DurationTicks int
	Limits        Limits

	State       SessionState
	PauseReason string

	Recovery          Recovery
	ConsecutiveLosses int
	APIErrors         int
	RealizedPnL       float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Session) Running() bool { return s.State == SessionRunning }

// EffectiveTP resolves the per-contract take profit for an account.
func (s *Session) EffectiveTP(a Account) float64 {
	if a.TakeProfit > 0 {
		return a.TakeProfit
	}
	return s.DefaultTP
}

// EffectiveSL resolves the per-contract stop loss for an account.
func (s *Session) EffectiveSL(a Account) float64 {
	if a.StopLoss > 0 {
		return a.StopLoss
	}
	return s.DefaultSL
}

// ResetPauseCounters clears the counters that can trip a global pause.
// Called on explicit resume; nothing clears them automatically.
func (s *Session) ResetPauseCounters() {
	s.ConsecutiveLosses = 0
	s.APIErrors = 0
	s.PauseReason = ""
}
