package service

import (
	"context"

	"DigitPilot/internal/domain/models"
)

// Evaluator turns a digit window plus learned weights into at most one
// signal. Implementations must be pure: same window and weights, same
// output.
type Evaluator interface {
	Evaluate(window models.DigitWindow, mem *models.MemoryRecord) models.Evaluation
}

// Outcome is the learning feedback recorded after a contract closes.
type Outcome struct {
	Market     string
	SessionID  string
	Side       models.Side
	Won        bool
	Fired      []string // indicator names that contributed
	Confidence float64
	Regime     models.MarketRegime
}

// Learner owns the per-market adaptive weights.
type Learner interface {
	Weights(ctx context.Context, market string) (*models.MemoryRecord, error)
	RecordOutcome(ctx context.Context, out Outcome)
}

// Guard is pre-trade admission control.
type Guard interface {
	Check(ctx context.Context, intent *models.Signal, sess *models.Session) Verdict
	RecordAPIResult(ok bool)
	PositionOpened(sessionID, market string)
	PositionClosed(sessionID, market string, profit float64)
}

// Verdict is the structured outcome of a risk check.
type Verdict struct {
	Allowed bool
	Stage   string // which check refused, empty when allowed
	Reason  string
}

func Allow() Verdict { return Verdict{Allowed: true} }

func Refuse(stage, reason string) Verdict {
	return Verdict{Allowed: false, Stage: stage, Reason: reason}
}
