package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	svccache "DigitPilot/internal/service/cache"
	xhttp "DigitPilot/pkg/http"
	xlogger "DigitPilot/pkg/logger"
)

type streamStatus struct {
	Healthy bool     `json:"healthy"`
	Markets []string `json:"markets"`
}

type statusResponse struct {
	Uptime        string                    `json:"uptime"`
	Breaker       string                    `json:"breaker"`
	VenueSessions int                       `json:"venue_sessions"`
	OpenContracts int                       `json:"open_contracts"`
	Stream        streamStatus              `json:"stream"`
	Sessions      map[string]int            `json:"sessions"`
	Markets       []svccache.MarketSnapshot `json:"markets"`
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Stream bool   `json:"stream"`
	Detail string `json:"detail,omitempty"`
}

// Status reports the view an operator checks first: stream health, breaker
// state, open exposure and the latest per-market evaluations.
func (h *Handler) Status(c echo.Context) error {
	sessions, err := h.sessions.List(c.Request().Context())
	if err != nil {
		h.log.Error("session list failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError(err.Error()))
	}
	counts := make(map[string]int, len(sessions))
	for _, s := range sessions {
		counts[string(s.State)]++
	}

	return xhttp.SuccessResponse(c, statusResponse{
		Uptime:        time.Since(h.started).Round(time.Second).String(),
		Breaker:       string(h.guard.BreakerState()),
		VenueSessions: h.venue.Size(),
		OpenContracts: h.monitor.Active(),
		Stream: streamStatus{
			Healthy: h.stream.Healthy(),
			Markets: h.stream.Markets(),
		},
		Sessions: counts,
		Markets:  h.snaps.All(),
	})
}

// Health is the liveness probe. A dead tick stream or an unreachable
// archive degrades the answer to 503 so orchestration can recycle the pod.
func (h *Handler) Health(c echo.Context) error {
	resp := healthResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
		Stream: h.stream.Healthy(),
	}
	if !resp.Stream {
		resp.Status = "degraded"
		resp.Detail = "tick stream down"
	}
	if h.archive != nil {
		if err := h.archive.Health(c.Request().Context()); err != nil {
			resp.Status = "degraded"
			resp.Detail = "archive unreachable: " + err.Error()
		}
	}
	if resp.Status != "ok" {
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
