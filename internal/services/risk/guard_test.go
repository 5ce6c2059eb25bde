package risk

import (
	"context"
	"testing"
	"time"

	"DigitPilot/internal/domain/models"
	"DigitPilot/pkg/logger"
)

func testGuard(t *testing.T, cfg Config) *Guard {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewGuard(cfg, log, nil)
}

func runningSession() *models.Session {
	return &models.Session{
		ID:    "sess-1",
		State: models.SessionRunning,
		Limits: models.Limits{
			TradesPerMinute:  10,
			TradesPerHour:    100,
			MaxOpenPerMarket: 1,
			MaxOpenTotal:     3,
		},
	}
}

func overSignal(market string) *models.Signal {
	return &models.Signal{
		Market: market,
		Side:   models.SideOver,
		Digit:  2,
		Regime: models.RegimeStable,
	}
}

func TestGuardAllowsCleanSignal(t *testing.T) {
	g := testGuard(t, Config{})
	v := g.Check(context.Background(), overSignal("R_10"), runningSession())
	if !v.Allowed {
		t.Fatalf("refused at %s: %s", v.Stage, v.Reason)
	}
}

func TestGuardRefusesNonRunningSession(t *testing.T) {
	g := testGuard(t, Config{})
	sess := runningSession()
	sess.State = models.SessionPaused

	v := g.Check(context.Background(), overSignal("R_10"), sess)
	if v.Allowed || v.Stage != "session" {
		t.Fatalf("verdict = %+v, want session refusal", v)
	}
}

func TestGuardRefusesChaosRegime(t *testing.T) {
	g := testGuard(t, Config{})
	sig := overSignal("R_10")
	sig.Regime = models.RegimeChaos

	v := g.Check(context.Background(), sig, runningSession())
	if v.Allowed || v.Stage != "session" {
		t.Fatalf("verdict = %+v, want chaos refusal", v)
	}
}

func TestGuardRefusesAtDailyLossCap(t *testing.T) {
	g := testGuard(t, Config{})
	sess := runningSession()
	sess.Limits.MaxDailyLoss = 5

	g.PositionOpened(sess.ID, "R_10")
	g.PositionClosed(sess.ID, "R_10", -5)

	v := g.Check(context.Background(), overSignal("R_10"), sess)
	if v.Allowed || v.Stage != "session" {
		t.Fatalf("verdict = %+v, want daily loss refusal", v)
	}
}

func TestGuardRefusesOnMarketExposure(t *testing.T) {
	g := testGuard(t, Config{})
	sess := runningSession()

	g.PositionOpened(sess.ID, "R_10")

	v := g.Check(context.Background(), overSignal("R_10"), sess)
	if v.Allowed || v.Stage != "exposure" {
		t.Fatalf("verdict = %+v, want exposure refusal", v)
	}

	// A different market is still within bounds.
	v = g.Check(context.Background(), overSignal("R_25"), sess)
	if !v.Allowed {
		t.Fatalf("other market refused at %s: %s", v.Stage, v.Reason)
	}
}

func TestGuardRefusesOnTotalExposure(t *testing.T) {
	g := testGuard(t, Config{})
	sess := runningSession()

	g.PositionOpened(sess.ID, "R_10")
	g.PositionOpened(sess.ID, "R_25")
	g.PositionOpened(sess.ID, "R_50")

	v := g.Check(context.Background(), overSignal("R_75"), sess)
	if v.Allowed || v.Stage != "exposure" {
		t.Fatalf("verdict = %+v, want total exposure refusal", v)
	}
}

func TestGuardRefusesWhenRateBudgetSpent(t *testing.T) {
	g := testGuard(t, Config{})
	sess := runningSession()
	sess.Limits.TradesPerMinute = 2
	sess.Limits.MaxOpenPerMarket = 10
	sess.Limits.MaxOpenTotal = 10

	for i := 0; i < 2; i++ {
		if v := g.Check(context.Background(), overSignal("R_10"), sess); !v.Allowed {
			t.Fatalf("check %d refused at %s: %s", i+1, v.Stage, v.Reason)
		}
	}
	v := g.Check(context.Background(), overSignal("R_10"), sess)
	if v.Allowed || v.Stage != "rate_limit" {
		t.Fatalf("verdict = %+v, want rate_limit refusal", v)
	}
}

func TestGuardRefusesWhileBreakerOpen(t *testing.T) {
	g := testGuard(t, Config{BreakerFailures: 2, BreakerCooldown: time.Hour})
	sess := runningSession()

	g.RecordAPIResult(false)
	g.RecordAPIResult(false)

	v := g.Check(context.Background(), overSignal("R_10"), sess)
	if v.Allowed || v.Stage != "breaker" {
		t.Fatalf("verdict = %+v, want breaker refusal", v)
	}
	if got := g.BreakerState(); got != BreakerOpen {
		t.Fatalf("breaker state = %s, want open", got)
	}
}

func TestGuardResetSessionRestoresBudget(t *testing.T) {
	g := testGuard(t, Config{})
	sess := runningSession()
	sess.Limits.TradesPerMinute = 1
	sess.Limits.MaxOpenPerMarket = 10
	sess.Limits.MaxOpenTotal = 10

	if v := g.Check(context.Background(), overSignal("R_10"), sess); !v.Allowed {
		t.Fatalf("first check refused at %s: %s", v.Stage, v.Reason)
	}
	if v := g.Check(context.Background(), overSignal("R_10"), sess); v.Allowed {
		t.Fatalf("second check allowed, want rate refusal")
	}

	g.ResetSession(sess.ID)
	if v := g.Check(context.Background(), overSignal("R_10"), sess); !v.Allowed {
		t.Fatalf("check after reset refused at %s: %s", v.Stage, v.Reason)
	}
}
