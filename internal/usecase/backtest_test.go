package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"DigitPilot/internal/domain/models"
)

type fakeTickArchive struct {
	ticks    []*models.Tick
	queryErr error

	gotMarket string
	gotFrom   time.Time
	gotTo     time.Time
	gotLimit  int
}

func (a *fakeTickArchive) Init(context.Context) error                       { return nil }
func (a *fakeTickArchive) StoreBatch(context.Context, []*models.Tick) error { return nil }
func (a *fakeTickArchive) Health(context.Context) error                     { return nil }
func (a *fakeTickArchive) Close() error                                     { return nil }

func (a *fakeTickArchive) Query(_ context.Context, market string, from, to time.Time, limit int) ([]*models.Tick, error) {
	a.gotMarket, a.gotFrom, a.gotTo, a.gotLimit = market, from, to, limit
	return a.ticks, a.queryErr
}

// scriptedEvaluator fires an OVER 4 signal once the window reaches minLen
// and records every window length it sees.
type scriptedEvaluator struct {
	minLen int
	lens   []int
}

func (e *scriptedEvaluator) Evaluate(w models.DigitWindow, _ *models.MemoryRecord) models.Evaluation {
	e.lens = append(e.lens, w.Len())
	if w.Len() < e.minLen {
		return models.Evaluation{Market: w.Market, Reason: "warming up"}
	}
	return models.Evaluation{
		Market: w.Market,
		Signal: &models.Signal{
			Market:  w.Market,
			Side:    models.SideOver,
			Digit:   4,
			Factors: []models.FactorVote{{Name: models.IndicatorMarkov, Side: models.SideOver, Strength: 1}},
		},
	}
}

func archiveTicks(digits ...int) []*models.Tick {
	ticks := make([]*models.Tick, len(digits))
	for i, d := range digits {
		ticks[i] = &models.Tick{Market: "R_10", Epoch: int64(1000 + i), Digit: d}
	}
	return ticks
}

func TestWonAgainst(t *testing.T) {
	cases := []struct {
		side    models.Side
		barrier int
		next    int
		want    bool
	}{
		{models.SideOver, 4, 5, true},
		{models.SideOver, 4, 4, false},
		{models.SideOver, 4, 3, false},
		{models.SideUnder, 5, 4, true},
		{models.SideUnder, 5, 5, false},
		{models.SideUnder, 5, 6, false},
	}
	for _, tc := range cases {
		if got := wonAgainst(tc.side, tc.barrier, tc.next); got != tc.want {
			t.Fatalf("wonAgainst(%s, %d, %d) = %v, want %v", tc.side, tc.barrier, tc.next, got, tc.want)
		}
	}
}

func TestTradeProfit(t *testing.T) {
	// OVER 4 wins on five digits: 1 * (10/5) * 0.95 - 1 = 0.9.
	got := tradeProfit(models.SideOver, 4, BacktestParams{Stake: 1}, true)
	if math.Abs(got-0.9) > 1e-9 {
		t.Fatalf("win profit = %v, want 0.9", got)
	}

	// OVER 8 wins on one digit and pays richly; TP caps it.
	got = tradeProfit(models.SideOver, 8, BacktestParams{Stake: 1, TakeProfit: 2}, true)
	if got != 2 {
		t.Fatalf("capped profit = %v, want take profit 2", got)
	}

	// Losses cost the stake unless SL is tighter.
	if got := tradeProfit(models.SideOver, 4, BacktestParams{Stake: 2}, false); got != -2 {
		t.Fatalf("loss = %v, want -2", got)
	}
	if got := tradeProfit(models.SideOver, 4, BacktestParams{Stake: 2, StopLoss: 1}, false); got != -1 {
		t.Fatalf("stopped loss = %v, want -1", got)
	}
	if got := tradeProfit(models.SideOver, 4, BacktestParams{Stake: 2, StopLoss: 5}, false); got != -2 {
		t.Fatalf("loss with loose SL = %v, want -2", got)
	}

	// A barrier with no winning digits cannot pay.
	if got := tradeProfit(models.SideUnder, 0, BacktestParams{Stake: 1}, true); got != 0 {
		t.Fatalf("degenerate win = %v, want 0", got)
	}
}

func TestBacktestRunReplaysArchive(t *testing.T) {
	archive := &fakeTickArchive{ticks: archiveTicks(1, 2, 3, 9, 1, 9)}
	eval := &scriptedEvaluator{minLen: 3}
	b := NewBacktester(archive, eval, testLogger(t))

	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	report, err := b.Run(context.Background(), BacktestParams{
		Market:     "R_10",
		From:       from,
		To:         to,
		Stake:      1,
		WindowSize: 3,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if archive.gotMarket != "R_10" || !archive.gotFrom.Equal(from) || !archive.gotTo.Equal(to) {
		t.Fatalf("query got (%s, %v, %v)", archive.gotMarket, archive.gotFrom, archive.gotTo)
	}
	if archive.gotLimit != 100000 {
		t.Fatalf("query limit = %d, want default 100000", archive.gotLimit)
	}

	// Signals fire at windows [1,2,3], [2,3,9], [3,9,1]; the next digits
	// 9, 1, 9 give win, loss, win against OVER 4.
	if report.Ticks != 6 || report.Trades != 3 || report.Wins != 2 || report.Losses != 1 {
		t.Fatalf("report = %d ticks %d/%d/%d trades, want 6 ticks 3/2/1",
			report.Ticks, report.Trades, report.Wins, report.Losses)
	}
	if math.Abs(report.WinRate-2.0/3.0) > 1e-9 {
		t.Fatalf("win rate = %v, want 2/3", report.WinRate)
	}
	if math.Abs(report.NetProfit-0.8) > 1e-9 {
		t.Fatalf("net profit = %v, want 0.9 - 1 + 0.9", report.NetProfit)
	}
	// Equity peaks at 0.9 and dips to -0.1 after the loss.
	if math.Abs(report.MaxDrawdown-1.0) > 1e-9 {
		t.Fatalf("max drawdown = %v, want 1.0", report.MaxDrawdown)
	}

	st := report.ByIndicator[models.IndicatorMarkov]
	if st.Fired != 3 || st.Wins != 2 || math.Abs(st.HitRate-2.0/3.0) > 1e-9 {
		t.Fatalf("indicator stats = %+v, want 3 fired 2 wins", st)
	}

	// The replay window never grows past the configured size.
	for _, n := range eval.lens {
		if n > 3 {
			t.Fatalf("window lengths = %v, want bounded at 3", eval.lens)
		}
	}
}

func TestBacktestRunValidation(t *testing.T) {
	b := NewBacktester(&fakeTickArchive{}, &scriptedEvaluator{}, testLogger(t))
	ctx := context.Background()
	now := time.Now()

	if _, err := b.Run(ctx, BacktestParams{From: now, To: now}); err == nil {
		t.Fatalf("run without market succeeded")
	}
	if _, err := b.Run(ctx, BacktestParams{Market: "R_10", From: now, To: now.Add(-time.Hour)}); err == nil {
		t.Fatalf("run with inverted range succeeded")
	}
}

func TestBacktestRunShortRange(t *testing.T) {
	archive := &fakeTickArchive{ticks: archiveTicks(7)}
	b := NewBacktester(archive, &scriptedEvaluator{minLen: 1}, testLogger(t))

	report, err := b.Run(context.Background(), BacktestParams{Market: "R_10", To: time.Now()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Ticks != 1 || report.Trades != 0 {
		t.Fatalf("report = %+v, want one tick and no trades", report)
	}
}

func TestBacktestRunArchiveError(t *testing.T) {
	archive := &fakeTickArchive{queryErr: errors.New("clickhouse down")}
	b := NewBacktester(archive, &scriptedEvaluator{}, testLogger(t))

	if _, err := b.Run(context.Background(), BacktestParams{Market: "R_10", To: time.Now()}); err == nil {
		t.Fatalf("run with dead archive succeeded")
	}
}
