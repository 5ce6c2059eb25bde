package models

import "time"

// ContractStatus is the monitor state machine. A contract leaves "open"
// exactly once; whichever threshold is observed first wins. Natural
// settlement lands on win or loss by settled profit.
type ContractStatus string

const (
	ContractOpen       ContractStatus = "open"
	ContractTakeProfit ContractStatus = "tp_hit"
	ContractStopLoss   ContractStatus = "sl_hit"
	ContractWin        ContractStatus = "win"
	ContractLoss       ContractStatus = "loss"
)

func (s ContractStatus) Terminal() bool { return s != ContractOpen }

// Exit reasons recorded alongside the terminal status.
const (
	ExitTakeProfit   = "tp_hit"
	ExitStopLoss     = "sl_hit"
	ExitNaturalClose = "natural_close"
)

// Contract is one venue position placed from a signal. Created at buy time,
// mutated only by its monitor, terminal once closed.
type Contract struct {
	ID         int64          `json:"id"` // venue contract id
	SignalID   string         `json:"signal_id"`
	SessionID  string         `json:"session_id"`
	Account    string         `json:"account"`
	Market     string         `json:"market"`
	Side       Side           `json:"side"`
	Digit      int            `json:"digit"`
	Stake      float64        `json:"stake"`
	BuyPrice   float64        `json:"buy_price"`
	Payout     float64        `json:"payout"`
	Profit     float64        `json:"profit"`
	TakeProfit float64        `json:"take_profit"`
	StopLoss   float64        `json:"stop_loss"`
	EntrySpot  float64        `json:"entry_spot"`
	ExitSpot   float64        `json:"exit_spot"`
	Status     ContractStatus `json:"status"`
	ExitReason string         `json:"exit_reason,omitempty"`
	// RecoveryEligible marks a lost stake as feedable into the martingale
	// to-recover sum.
	RecoveryEligible bool      `json:"recovery_eligible"`
	OpenedAt         time.Time `json:"opened_at"`
	ClosedAt         time.Time `json:"closed_at"`
}

func (c *Contract) Won() bool { return c.Profit > 0 }

// Order is a buy request for one digit contract.
type Order struct {
	Market        string
	Side          Side
	Digit         int
	Stake         float64
	Currency      string
	DurationTicks int
}

// ContractUpdate is one frame from the venue's open-contract stream.
type ContractUpdate struct {
	ContractID  int64
	Profit      float64
	Payout      float64
	EntrySpot   float64
	CurrentSpot float64
	IsSold      bool
	IsExpired   bool
	Status      string // venue status string: open, won, lost, sold
}
