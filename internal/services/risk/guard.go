package risk

import (
	"context"
	"fmt"
	"time"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	domsvc "DigitPilot/internal/domain/service"
	"DigitPilot/internal/service/ratelimit"
	"DigitPilot/pkg/logger"
)

type Config struct {
	TradesPerMinute  int
	TradesPerHour    int
	BreakerFailures  int
	BreakerCooldown  time.Duration
	MaxOpenPerMarket int
	MaxOpenTotal     int
}

func (c Config) withDefaults() Config {
	if c.TradesPerMinute <= 0 {
		c.TradesPerMinute = 3
	}
	if c.TradesPerHour <= 0 {
		c.TradesPerHour = 30
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 2 * time.Minute
	}
	if c.MaxOpenPerMarket <= 0 {
		c.MaxOpenPerMarket = 1
	}
	if c.MaxOpenTotal <= 0 {
		c.MaxOpenTotal = 5
	}
	return c
}

// Guard chains the admission checks in front of every placement. The checks
// run cheapest first and the verdict carries the first refusal; the two
// stateful gates (rate window, breaker probe) run last so a refusal upstream
// never consumes a slot.
type Guard struct {
	cfg      Config
	limiter  *ratelimit.Limiter
	breaker  *Breaker
	exposure *Exposure
	log      *logger.Logger
	metrics  repository.Metrics
}

var _ domsvc.Guard = (*Guard)(nil)

func NewGuard(cfg Config, log *logger.Logger, metrics repository.Metrics) *Guard {
	cfg = cfg.withDefaults()
	return &Guard{
		cfg:      cfg,
		limiter:  ratelimit.New(),
		breaker:  NewBreaker(cfg.BreakerFailures, cfg.BreakerCooldown),
		exposure: NewExposure(),
		log:      log,
		metrics:  metrics,
	}
}

// Check admits or refuses one signal for one session. The first failing
// stage wins and nothing after it runs.
func (g *Guard) Check(ctx context.Context, intent *models.Signal, sess *models.Session) domsvc.Verdict {
	v := g.check(intent, sess)
	if !v.Allowed {
		g.log.Info("trade refused",
			logger.String("session", sess.ID),
			logger.String("market", intent.Market),
			logger.String("stage", v.Stage),
			logger.String("reason", v.Reason))
		if g.metrics != nil {
			g.metrics.RecordVeto(v.Stage, v.Reason)
		}
	}
	return v
}

func (g *Guard) check(intent *models.Signal, sess *models.Session) domsvc.Verdict {
	if !sess.Running() {
		return domsvc.Refuse("session", fmt.Sprintf("session not running (status %s)", sess.State))
	}
	if cap := sess.Limits.MaxDailyLoss; cap > 0 {
		if loss := g.exposure.DailyLoss(sess.ID); loss >= cap {
			return domsvc.Refuse("session", fmt.Sprintf("daily loss %.2f at cap %.2f", loss, cap))
		}
	}
	if intent.Regime == models.RegimeChaos {
		return domsvc.Refuse("session", "market regime chaos")
	}

	maxMarket := sess.Limits.MaxOpenPerMarket
	if maxMarket <= 0 {
		maxMarket = g.cfg.MaxOpenPerMarket
	}
	maxTotal := sess.Limits.MaxOpenTotal
	if maxTotal <= 0 {
		maxTotal = g.cfg.MaxOpenTotal
	}
	inMarket, total := g.exposure.Open(sess.ID, intent.Market)
	if inMarket >= maxMarket {
		return domsvc.Refuse("exposure", fmt.Sprintf("%d open on %s, limit %d", inMarket, intent.Market, maxMarket))
	}
	if total >= maxTotal {
		return domsvc.Refuse("exposure", fmt.Sprintf("%d open positions, limit %d", total, maxTotal))
	}

	perMin := sess.Limits.TradesPerMinute
	if perMin <= 0 {
		perMin = g.cfg.TradesPerMinute
	}
	perHour := sess.Limits.TradesPerHour
	if perHour <= 0 {
		perHour = g.cfg.TradesPerHour
	}
	if !g.limiter.Allow(sess.ID, perMin, perHour) {
		return domsvc.Refuse("rate_limit", fmt.Sprintf("trade budget spent (%d/min, %d/hour)", perMin, perHour))
	}

	// Last: an open breaker must not eat rate slots, and a refusal after a
	// won probe would leave the probe dangling.
	if !g.breaker.Allow() {
		return domsvc.Refuse("breaker", "venue circuit open after repeated API errors")
	}

	return domsvc.Allow()
}

// RecordAPIResult feeds a venue call outcome into the breaker. Trade losses
// are not failures; only transport and API errors count.
func (g *Guard) RecordAPIResult(ok bool) {
	if ok {
		g.breaker.Success()
	} else {
		g.breaker.Failure()
	}
	if g.metrics != nil {
		g.metrics.SetBreakerState(string(g.breaker.State()))
	}
}

func (g *Guard) PositionOpened(sessionID, market string) {
	g.exposure.Opened(sessionID, market)
	if g.metrics != nil {
		g.metrics.SetOpenPositions(g.exposure.TotalOpen())
	}
}

func (g *Guard) PositionClosed(sessionID, market string, profit float64) {
	g.exposure.Closed(sessionID, market, profit)
	if g.metrics != nil {
		g.metrics.SetOpenPositions(g.exposure.TotalOpen())
	}
}

// ResetSession clears the rate budget for a resumed session.
func (g *Guard) ResetSession(sessionID string) {
	g.limiter.Reset(sessionID)
}

// BreakerState exposes the breaker for the status endpoint.
func (g *Guard) BreakerState() BreakerState {
	return g.breaker.State()
}
