package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	"DigitPilot/internal/usecase"
	xhttp "DigitPilot/pkg/http"
	xlogger "DigitPilot/pkg/logger"
)

type accountRequest struct {
	Name       string  `json:"name" validate:"required"`
	Token      string  `json:"token" validate:"required"`
	Currency   string  `json:"currency"`
	TakeProfit float64 `json:"take_profit" validate:"gte=0"`
	StopLoss   float64 `json:"stop_loss" validate:"gte=0"`
}

type limitsRequest struct {
	TradesPerMinute      int     `json:"trades_per_minute" validate:"gte=0"`
	TradesPerHour        int     `json:"trades_per_hour" validate:"gte=0"`
	MaxOpenPerMarket     int     `json:"max_open_per_market" validate:"gte=0"`
	MaxOpenTotal         int     `json:"max_open_total" validate:"gte=0"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses" validate:"gte=0"`
	MaxAPIErrors         int     `json:"max_api_errors" validate:"gte=0"`
	MaxDailyLoss         float64 `json:"max_daily_loss" validate:"gte=0"`
}

type createSessionRequest struct {
	Name          string           `json:"name" validate:"max=128"`
	Markets       []string         `json:"markets" validate:"required,min=1,dive,market"`
	Accounts      []accountRequest `json:"accounts" validate:"required,min=1,dive"`
	StakeMode     string           `json:"stake_mode" default:"fixed" validate:"oneof=fixed percent martingale"`
	Stake         float64          `json:"stake" validate:"gte=0"`
	StakePercent  float64          `json:"stake_percent" validate:"gte=0,lte=100"`
	Factor        float64          `json:"factor" validate:"gte=0"`
	MinBalance    float64          `json:"min_balance" validate:"gte=0"`
	TakeProfit    float64          `json:"take_profit" validate:"required,gt=0"`
	StopLoss      float64          `json:"stop_loss" validate:"required,gt=0"`
	DurationTicks int              `json:"duration_ticks" default:"1" validate:"gte=1,lte=10"`
	RecoverTarget float64          `json:"recover_target" validate:"gte=0"`
	Limits        limitsRequest    `json:"limits"`
}

// accountView is the response shape for a participant. No token field: the
// credential stays server-side.
type accountView struct {
	Name          string  `json:"name"`
	Currency      string  `json:"currency,omitempty"`
	TakeProfit    float64 `json:"take_profit,omitempty"`
	StopLoss      float64 `json:"stop_loss,omitempty"`
	Status        string  `json:"status"`
	InvalidReason string  `json:"invalid_reason,omitempty"`
}

type sessionView struct {
	ID                string          `json:"id"`
	Name              string          `json:"name,omitempty"`
	Markets           []string        `json:"markets"`
	Accounts          []accountView   `json:"accounts"`
	StakeMode         string          `json:"stake_mode"`
	Stake             float64         `json:"stake,omitempty"`
	StakePercent      float64         `json:"stake_percent,omitempty"`
	Factor            float64         `json:"factor,omitempty"`
	MinBalance        float64         `json:"min_balance,omitempty"`
	TakeProfit        float64         `json:"take_profit"`
	StopLoss          float64         `json:"stop_loss"`
	DurationTicks     int             `json:"duration_ticks"`
	Limits            models.Limits   `json:"limits"`
	State             string          `json:"state"`
	PauseReason       string          `json:"pause_reason,omitempty"`
	Recovery          models.Recovery `json:"recovery"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	APIErrors         int             `json:"api_errors"`
	RealizedPnL       float64         `json:"realized_pnl"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func toSessionView(s *models.Session) sessionView {
	accounts := make([]accountView, 0, len(s.Accounts))
	for _, a := range s.Accounts {
		accounts = append(accounts, accountView{
			Name:          a.Name,
			Currency:      a.Currency,
			TakeProfit:    a.TakeProfit,
			StopLoss:      a.StopLoss,
			Status:        string(a.Status),
			InvalidReason: a.InvalidReason,
		})
	}
	return sessionView{
		ID:                s.ID,
		Name:              s.Name,
		Markets:           s.Markets,
		Accounts:          accounts,
		StakeMode:         string(s.StakeMode),
		Stake:             s.Stake,
		StakePercent:      s.StakePercent,
		Factor:            s.Factor,
		MinBalance:        s.MinBalance,
		TakeProfit:        s.DefaultTP,
		StopLoss:          s.DefaultSL,
		DurationTicks:     s.DurationTicks,
		Limits:            s.Limits,
		State:             string(s.State),
		PauseReason:       s.PauseReason,
		Recovery:          s.Recovery,
		ConsecutiveLosses: s.ConsecutiveLosses,
		APIErrors:         s.APIErrors,
		RealizedPnL:       s.RealizedPnL,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func toSessionViews(sessions []*models.Session) []sessionView {
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionView(s))
	}
	return out
}

// sessionError maps manager errors onto HTTP statuses.
func sessionError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()))
	case errors.Is(err, usecase.ErrInvalidTransition):
		return xhttp.AppErrorResponse(c,
			xhttp.NewAppError("ERR_CONFLICT", "", err.Error(), http.StatusConflict))
	case errors.Is(err, usecase.ErrInvalidInput):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	default:
		return xhttp.AppErrorResponse(c, xhttp.InternalError(err.Error()))
	}
}

func (h *Handler) CreateSession(c echo.Context) error {
	req := &createSessionRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	accounts := make([]models.Account, 0, len(req.Accounts))
	for _, a := range req.Accounts {
		accounts = append(accounts, models.Account{
			Name:       a.Name,
			Token:      a.Token,
			Currency:   a.Currency,
			TakeProfit: a.TakeProfit,
			StopLoss:   a.StopLoss,
		})
	}

	sess, err := h.sessions.Create(c.Request().Context(), usecase.CreateSessionInput{
		Name:          req.Name,
		Markets:       req.Markets,
		Accounts:      accounts,
		StakeMode:     models.StakeMode(req.StakeMode),
		Stake:         req.Stake,
		StakePercent:  req.StakePercent,
		Factor:        req.Factor,
		MinBalance:    req.MinBalance,
		TakeProfit:    req.TakeProfit,
		StopLoss:      req.StopLoss,
		DurationTicks: req.DurationTicks,
		RecoverTarget: req.RecoverTarget,
		Limits: models.Limits{
			TradesPerMinute:      req.Limits.TradesPerMinute,
			TradesPerHour:        req.Limits.TradesPerHour,
			MaxOpenPerMarket:     req.Limits.MaxOpenPerMarket,
			MaxOpenTotal:         req.Limits.MaxOpenTotal,
			MaxConsecutiveLosses: req.Limits.MaxConsecutiveLosses,
			MaxAPIErrors:         req.Limits.MaxAPIErrors,
			MaxDailyLoss:         req.Limits.MaxDailyLoss,
		},
	})
	if err != nil {
		h.log.Error("session create failed", xlogger.Error(err))
		return sessionError(c, err)
	}
	return xhttp.CreatedResponse(c, toSessionView(sess))
}

func (h *Handler) ListSessions(c echo.Context) error {
	var states []models.SessionState
	if s := c.QueryParam("state"); s != "" {
		states = append(states, models.SessionState(s))
	}

	sessions, err := h.sessions.List(c.Request().Context(), states...)
	if err != nil {
		h.log.Error("session list failed", xlogger.Error(err))
		return sessionError(c, err)
	}
	return xhttp.ListResponse(c, toSessionViews(sessions), int64(len(sessions)))
}

func (h *Handler) GetSession(c echo.Context) error {
	sess, err := h.sessions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return xhttp.SuccessResponse(c, toSessionView(sess))
}

func (h *Handler) CancelSession(c echo.Context) error {
	sess, err := h.sessions.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return xhttp.SuccessResponse(c, toSessionView(sess))
}

func (h *Handler) PauseSession(c echo.Context) error {
	var body struct {
		Reason string `json:"reason"`
	}
	// Body is optional; a bare POST pauses with the default reason.
	_ = c.Bind(&body)

	sess, err := h.sessions.Pause(c.Request().Context(), c.Param("id"), body.Reason)
	if err != nil {
		return sessionError(c, err)
	}
	return xhttp.SuccessResponse(c, toSessionView(sess))
}

func (h *Handler) ResumeSession(c echo.Context) error {
	sess, err := h.sessions.Resume(c.Request().Context(), c.Param("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return xhttp.SuccessResponse(c, toSessionView(sess))
}

func (h *Handler) SessionContracts(c echo.Context) error {
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 100)
	contracts, err := h.sessions.Contracts(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return sessionError(c, err)
	}
	return xhttp.ListResponse(c, contracts, int64(len(contracts)))
}
