package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	domsvc "DigitPilot/internal/domain/service"
	svccache "DigitPilot/internal/service/cache"
	"DigitPilot/pkg/logger"
)

type SchedulerConfig struct {
	// Interval is the evaluation cycle period. A cycle that overruns the
	// interval makes the next one skip instead of piling up.
	Interval time.Duration
	// SmartDelay is the wait between picking a candidate and executing
	// it. The signal is recomputed from the live window after the delay
	// and any drift vetoes it.
	SmartDelay time.Duration
	// LockTTL bounds both the duplicate-signal lock and the execution
	// budget after the delay.
	LockTTL time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.Interval <= 0 {
		c.Interval = 3 * time.Second
	}
	if c.SmartDelay <= 0 {
		c.SmartDelay = 12 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	return c
}

// Scheduler drives the evaluation loop: every interval it evaluates each
// running session's markets, picks the highest-confidence candidate per
// session, and arms the smart delay. When the delay fires the signal is
// revalidated against the then-current window with zero tolerance before
// risk checks and execution.
type Scheduler struct {
	cfg     SchedulerConfig
	store   repository.SessionStore
	stream  repository.TickSource
	engine  domsvc.Evaluator
	learner domsvc.Learner
	guard   domsvc.Guard
	locker  repository.SignalLocker
	events  repository.EventPublisher
	exec    *Orchestrator
	snaps   *svccache.SnapshotCache
	metrics repository.Metrics
	log     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*time.Timer // session|market with an armed delay

	busy       atomic.Bool
	streamDown atomic.Bool
	wg         sync.WaitGroup
}

func NewScheduler(
	cfg SchedulerConfig,
	store repository.SessionStore,
	stream repository.TickSource,
	engine domsvc.Evaluator,
	learner domsvc.Learner,
	guard domsvc.Guard,
	locker repository.SignalLocker,
	events repository.EventPublisher,
	exec *Orchestrator,
	snaps *svccache.SnapshotCache,
	metrics repository.Metrics,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		store:   store,
		stream:  stream,
		engine:  engine,
		learner: learner,
		guard:   guard,
		locker:  locker,
		events:  events,
		exec:    exec,
		snaps:   snaps,
		metrics: metrics,
		log:     log,
		pending: make(map[string]*time.Timer),
	}
}

// Run blocks until ctx is done or Close is called.
func (s *Scheduler) Run(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("scheduler started",
		logger.Duration("interval", s.cfg.Interval),
		logger.Duration("smart_delay", s.cfg.SmartDelay))

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkStream()
			if !s.busy.CompareAndSwap(false, true) {
				s.log.Debug("cycle overrun, skipping")
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.busy.Store(false)
				s.cycle(s.ctx)
			}()
		}
	}
}

// Close stops the loop and drops every armed delay. Pending signals die
// with the process; they are recomputed from live data anyway.
func (s *Scheduler) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	for key, t := range s.pending {
		t.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// checkStream publishes a stream.down event on the healthy-to-down edge.
func (s *Scheduler) checkStream() {
	healthy := s.stream.Healthy()
	if !healthy && s.streamDown.CompareAndSwap(false, true) {
		s.log.Warn("tick stream down, evaluation continues on stale windows")
		s.publish(models.EngineEvent{Kind: models.EventStreamDown})
	}
	if healthy {
		s.streamDown.Store(false)
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	started := time.Now()
	sessions, err := s.store.List(ctx, models.SessionRunning)
	if err != nil {
		s.log.Error("session list failed", logger.Error(err))
		return
	}

	for _, sess := range sessions {
		if ctx.Err() != nil {
			return
		}
		s.evaluateSession(ctx, sess)
	}

	if d := time.Since(started); d > s.cfg.Interval {
		s.log.Warn("slow evaluation cycle",
			logger.Duration("took", d),
			logger.Int("sessions", len(sessions)))
	}
}

// evaluateSession scores every market and arms the smart delay for the
// highest-confidence candidate. One candidate per session per cycle.
func (s *Scheduler) evaluateSession(ctx context.Context, sess *models.Session) {
	var best *models.Signal
	for _, market := range sess.Markets {
		window, err := s.stream.Window(market)
		if err != nil {
			s.log.Debug("window unavailable",
				logger.String("market", market),
				logger.Error(err))
			continue
		}

		mem, err := s.learner.Weights(ctx, market)
		if err != nil {
			s.log.Debug("weights unavailable, evaluating neutral",
				logger.String("market", market),
				logger.Error(err))
			mem = nil
		}

		ev := s.engine.Evaluate(window, mem)
		s.snaps.Put(svccache.MarketSnapshot{
			Market:  market,
			Regime:  ev.Regime,
			Entropy: ev.Entropy,
			Reason:  ev.Reason,
			Signal:  ev.Signal,
			At:      time.Now().UTC(),
		})

		if ev.Signal == nil {
			continue
		}
		if best == nil || ev.Signal.Confidence > best.Confidence {
			best = ev.Signal
		}
	}
	if best == nil {
		return
	}
	s.arm(sess, best)
}

// arm stamps the candidate and starts its delay timer. A session+market
// pair with a delay already armed keeps the armed one; the later candidate
// is recomputed at fire time anyway.
func (s *Scheduler) arm(sess *models.Session, cand *models.Signal) {
	key := sess.ID + "|" + cand.Market

	s.mu.Lock()
	if _, armed := s.pending[key]; armed {
		s.mu.Unlock()
		return
	}
	cand.ID = uuid.NewString()
	cand.SessionID = sess.ID
	s.pending[key] = time.AfterFunc(s.cfg.SmartDelay, func() { s.fire(key, cand) })
	s.mu.Unlock()

	s.metrics.RecordSignal(cand.Market, string(cand.Side))
	s.log.Info("signal issued",
		logger.String("signal_id", cand.ID),
		logger.String("session_id", cand.SessionID),
		logger.String("market", cand.Market),
		logger.String("side", string(cand.Side)),
		logger.Int("digit", cand.Digit),
		logger.Float64("confidence", cand.Confidence),
		logger.String("regime", string(cand.Regime)),
		logger.Duration("delay", s.cfg.SmartDelay))
	s.publish(models.EngineEvent{
		Kind:      models.EventSignalIssued,
		SessionID: cand.SessionID,
		Market:    cand.Market,
		Payload: map[string]any{
			"signal_id":  cand.ID,
			"side":       string(cand.Side),
			"digit":      cand.Digit,
			"confidence": cand.Confidence,
			"vote_ratio": cand.VoteRatio,
			"entropy":    cand.Entropy,
			"regime":     string(cand.Regime),
			"delay_ms":   s.cfg.SmartDelay.Milliseconds(),
		},
	})
}

// fire runs after the smart delay: recompute, revalidate, lock, risk
// check, execute. Any mismatch against the armed candidate vetoes. Runs on
// the timer goroutine; Close cancels the scheduler context and an in-flight
// fire aborts at its next context use.
func (s *Scheduler) fire(key string, cand *models.Signal) {
	defer func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
	}()

	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.LockTTL)
	defer cancel()

	sess, err := s.store.Get(ctx, cand.SessionID)
	if err != nil {
		s.log.Warn("session lookup failed, signal dropped",
			logger.String("signal_id", cand.ID),
			logger.Error(err))
		return
	}
	if !sess.Running() {
		s.log.Debug("session no longer running, signal dropped",
			logger.String("signal_id", cand.ID),
			logger.String("state", string(sess.State)))
		return
	}

	window, err := s.stream.Window(cand.Market)
	if err != nil {
		s.vetoRevalidation(cand, "stream unavailable")
		return
	}
	mem, err := s.learner.Weights(ctx, cand.Market)
	if err != nil {
		mem = nil
	}

	fresh := s.engine.Evaluate(window, mem)
	s.snaps.Put(svccache.MarketSnapshot{
		Market:  cand.Market,
		Regime:  fresh.Regime,
		Entropy: fresh.Entropy,
		Reason:  fresh.Reason,
		Signal:  fresh.Signal,
		At:      time.Now().UTC(),
	})

	if fresh.Signal == nil {
		s.vetoRevalidation(cand, "conditions gone: "+fresh.Reason)
		return
	}
	if fresh.Signal.Side != cand.Side || fresh.Signal.Digit != cand.Digit {
		s.vetoRevalidation(cand, fmt.Sprintf("signal drifted: was %s %d, now %s %d",
			cand.Side, cand.Digit, fresh.Signal.Side, fresh.Signal.Digit))
		return
	}

	// Execute the recomputed signal under the armed identity. Confidence
	// and factor votes reflect the window actually traded.
	exec := fresh.Signal
	exec.ID = cand.ID
	exec.SessionID = cand.SessionID

	ok, err := s.locker.Acquire(ctx, exec.LockKey(), s.cfg.LockTTL)
	if err != nil {
		// Fail closed: without the lock a concurrent worker may hold the
		// same signal.
		s.log.Warn("signal lock unavailable, signal dropped",
			logger.String("signal_id", exec.ID),
			logger.Error(err))
		return
	}
	if !ok {
		s.log.Debug("duplicate signal suppressed",
			logger.String("lock_key", exec.LockKey()))
		return
	}
	defer func() {
		rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer rcancel()
		if err := s.locker.Release(rctx, exec.LockKey()); err != nil {
			// The TTL reaps it.
			s.log.Debug("lock release failed", logger.Error(err))
		}
	}()

	if v := s.guard.Check(ctx, exec, sess); !v.Allowed {
		s.publish(models.EngineEvent{
			Kind:      models.EventSignalVetoed,
			SessionID: exec.SessionID,
			Market:    exec.Market,
			Payload: map[string]any{
				"signal_id": exec.ID,
				"stage":     v.Stage,
				"reason":    v.Reason,
			},
		})
		return
	}

	if err := s.exec.Execute(ctx, sess, exec); err != nil {
		s.log.Error("signal execution failed",
			logger.String("signal_id", exec.ID),
			logger.Error(err))
	}
}

func (s *Scheduler) vetoRevalidation(cand *models.Signal, reason string) {
	s.metrics.RecordVeto("revalidation", reason)
	s.log.Info("signal vetoed on revalidation",
		logger.String("signal_id", cand.ID),
		logger.String("session_id", cand.SessionID),
		logger.String("market", cand.Market),
		logger.String("reason", reason))
	s.publish(models.EngineEvent{
		Kind:      models.EventSignalVetoed,
		SessionID: cand.SessionID,
		Market:    cand.Market,
		Payload: map[string]any{
			"signal_id": cand.ID,
			"stage":     "revalidation",
			"reason":    reason,
		},
	})
}

func (s *Scheduler) publish(ev models.EngineEvent) {
	if s.events == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.At = time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.events.Publish(ctx, &ev); err != nil {
		s.log.Warn("event publish failed",
			logger.String("kind", ev.Kind),
			logger.Error(err))
	}
}
