package api

import (
	"github.com/labstack/echo/v4"

	"DigitPilot/internal/usecase"
	xhttp "DigitPilot/pkg/http"
	xlogger "DigitPilot/pkg/logger"
	"DigitPilot/pkg/util"
)

type backtestRequest struct {
	Market     string  `json:"market" validate:"required,market"`
	From       string  `json:"from" validate:"required"`
	To         string  `json:"to" validate:"required"`
	Stake      float64 `json:"stake" default:"1" validate:"gt=0"`
	TakeProfit float64 `json:"take_profit" validate:"gte=0"`
	StopLoss   float64 `json:"stop_loss" validate:"gte=0"`
	WindowSize int     `json:"window_size" default:"100" validate:"gte=10,lte=500"`
	MaxTicks   int     `json:"max_ticks" validate:"gte=0"`
}

// Backtest replays archived ticks through the live evaluation pipeline and
// returns the aggregate report. Archiving must be enabled for this to work.
func (h *Handler) Backtest(c echo.Context) error {
	if h.archive == nil {
		return xhttp.AppErrorResponse(c,
			xhttp.BadRequestError("tick archive is disabled, backtesting unavailable"))
	}

	req := new(backtestRequest)
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	from, ok := xhttp.ParseTime(req.From)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from: unrecognized time format"))
	}
	to, ok := xhttp.ParseTime(req.To)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("to: unrecognized time format"))
	}
	if from.After(to) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from must be before to"))
	}
	from, to = util.AlignRange(from, to)

	report, err := h.backtest.Run(c.Request().Context(), usecase.BacktestParams{
		Market:     req.Market,
		From:       from,
		To:         to,
		Stake:      req.Stake,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
		WindowSize: req.WindowSize,
		MaxTicks:   req.MaxTicks,
	})
	if err != nil {
		h.log.Error("backtest failed", xlogger.String("market", req.Market), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError(err.Error()))
	}
	return xhttp.SuccessResponse(c, report)
}
