package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"DigitPilot/internal/domain/repository"
	svccache "DigitPilot/internal/service/cache"
	"DigitPilot/internal/services/risk"
	"DigitPilot/internal/usecase"
	xlogger "DigitPilot/pkg/logger"
)

// Handler exposes the operator API: session lifecycle, engine status and
// backtests. Venue tokens never appear in responses.
type Handler struct {
	log      *xlogger.Logger
	sessions *usecase.SessionManager
	backtest *usecase.Backtester
	snaps    *svccache.SnapshotCache
	guard    *risk.Guard
	venue    repository.Venue
	stream   repository.TickSource
	monitor  *usecase.Monitor
	archive  repository.TickArchive // nil when archiving is disabled
	started  time.Time
}

func NewHandler(
	log *xlogger.Logger,
	sessions *usecase.SessionManager,
	backtest *usecase.Backtester,
	snaps *svccache.SnapshotCache,
	guard *risk.Guard,
	venue repository.Venue,
	stream repository.TickSource,
	monitor *usecase.Monitor,
	archive repository.TickArchive,
) *Handler {
	return &Handler{
		log:      log,
		sessions: sessions,
		backtest: backtest,
		snaps:    snaps,
		guard:    guard,
		venue:    venue,
		stream:   stream,
		monitor:  monitor,
		archive:  archive,
		started:  time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.POST("/sessions", h.CreateSession)
	g.GET("/sessions", h.ListSessions)
	g.GET("/sessions/:id", h.GetSession)
	g.DELETE("/sessions/:id", h.CancelSession)
	g.POST("/sessions/:id/pause", h.PauseSession)
	g.POST("/sessions/:id/resume", h.ResumeSession)
	g.GET("/sessions/:id/contracts", h.SessionContracts)
	g.GET("/status", h.Status)
	g.POST("/backtest", h.Backtest)
}
