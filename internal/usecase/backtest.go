package usecase

import (
	"context"
	"fmt"
	"time"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	domsvc "DigitPilot/internal/domain/service"
	"DigitPilot/pkg/logger"
)

// payoutMargin approximates the venue's cut: a fair digit payout is
// 10/winning-digits times the stake, and the venue returns about 95% of
// fair.
const payoutMargin = 0.95

// Backtester replays archived ticks through the live evaluator. Weights are
// neutral so the same range always yields the same report.
type Backtester struct {
	archive repository.TickArchive
	engine  domsvc.Evaluator
	log     *logger.Logger
}

func NewBacktester(archive repository.TickArchive, engine domsvc.Evaluator, log *logger.Logger) *Backtester {
	return &Backtester{archive: archive, engine: engine, log: log}
}

type BacktestParams struct {
	Market     string
	From       time.Time
	To         time.Time
	Stake      float64
	TakeProfit float64 // caps a winning trade, zero disables
	StopLoss   float64 // floors a losing trade, zero disables
	WindowSize int
	MaxTicks   int
}

// IndicatorStats is the per-indicator hit rate over the replay.
type IndicatorStats struct {
	Fired   int     `json:"fired"`
	Wins    int     `json:"wins"`
	HitRate float64 `json:"hit_rate"`
}

type BacktestReport struct {
	Market      string                    `json:"market"`
	From        time.Time                 `json:"from"`
	To          time.Time                 `json:"to"`
	Ticks       int                       `json:"ticks"`
	Trades      int                       `json:"trades"`
	Wins        int                       `json:"wins"`
	Losses      int                       `json:"losses"`
	WinRate     float64                   `json:"win_rate"`
	NetProfit   float64                   `json:"net_profit"`
	MaxDrawdown float64                   `json:"max_drawdown"`
	ByIndicator map[string]IndicatorStats `json:"by_indicator"`
}

func (b *Backtester) Run(ctx context.Context, p BacktestParams) (*BacktestReport, error) {
	if p.Market == "" {
		return nil, fmt.Errorf("market required")
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("from must be <= to")
	}
	if p.Stake <= 0 {
		p.Stake = 1
	}
	if p.WindowSize <= 0 {
		p.WindowSize = 100
	}
	if p.MaxTicks <= 0 {
		p.MaxTicks = 100000
	}
	if p.MaxTicks > 200000 {
		p.MaxTicks = 200000
	}

	ticks, err := b.archive.Query(ctx, p.Market, p.From, p.To, p.MaxTicks)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}

	report := &BacktestReport{
		Market:      p.Market,
		From:        p.From,
		To:          p.To,
		Ticks:       len(ticks),
		ByIndicator: make(map[string]IndicatorStats),
	}
	if len(ticks) < 2 {
		return report, nil
	}

	window := make([]int, 0, p.WindowSize)
	var equity, peak float64

	for i, t := range ticks {
		if i%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if len(window) == p.WindowSize {
			copy(window, window[1:])
			window[len(window)-1] = t.Digit
		} else {
			window = append(window, t.Digit)
		}
		if i+1 >= len(ticks) {
			break
		}

		ev := b.engine.Evaluate(models.DigitWindow{
			Market: p.Market,
			Digits: window,
			AsOf:   t.Time(),
		}, nil)
		if ev.Signal == nil {
			continue
		}

		next := ticks[i+1].Digit
		won := wonAgainst(ev.Signal.Side, ev.Signal.Digit, next)
		profit := tradeProfit(ev.Signal.Side, ev.Signal.Digit, p, won)

		report.Trades++
		if won {
			report.Wins++
		} else {
			report.Losses++
		}
		report.NetProfit += profit

		equity += profit
		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > report.MaxDrawdown {
			report.MaxDrawdown = dd
		}

		for _, f := range ev.Signal.Factors {
			st := report.ByIndicator[f.Name]
			st.Fired++
			if won {
				st.Wins++
			}
			report.ByIndicator[f.Name] = st
		}
	}

	report.WinRate = 0
	if report.Trades > 0 {
		report.WinRate = float64(report.Wins) / float64(report.Trades)
	}
	for name, st := range report.ByIndicator {
		if st.Fired > 0 {
			st.HitRate = float64(st.Wins) / float64(st.Fired)
		}
		report.ByIndicator[name] = st
	}

	b.log.Info("backtest finished",
		logger.String("market", p.Market),
		logger.Int("ticks", report.Ticks),
		logger.Int("trades", report.Trades),
		logger.Float64("win_rate", report.WinRate),
		logger.Float64("net_profit", report.NetProfit))
	return report, nil
}

func wonAgainst(side models.Side, barrier, next int) bool {
	if side == models.SideOver {
		return next > barrier
	}
	return next < barrier
}

// tradeProfit models a one-tick digit contract: fair payout scaled by the
// venue margin on a win, the stake lost otherwise, both clamped by the
// configured TP and SL.
func tradeProfit(side models.Side, barrier int, p BacktestParams, won bool) float64 {
	if !won {
		loss := p.Stake
		if p.StopLoss > 0 && p.StopLoss < loss {
			loss = p.StopLoss
		}
		return -loss
	}

	winDigits := barrier
	if side == models.SideOver {
		winDigits = 9 - barrier
	}
	if winDigits <= 0 {
		return 0
	}
	profit := p.Stake*(10.0/float64(winDigits))*payoutMargin - p.Stake
	if p.TakeProfit > 0 && profit > p.TakeProfit {
		profit = p.TakeProfit
	}
	return profit
}
