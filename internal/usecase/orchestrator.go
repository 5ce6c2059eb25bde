package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	domsvc "DigitPilot/internal/domain/service"
	"DigitPilot/internal/service/deriv"
	"DigitPilot/pkg/logger"
	"DigitPilot/pkg/queue"
)

type OrchestratorConfig struct {
	// PlacementDelay spaces sequential buys across accounts so the venue
	// never sees a burst from one engine.
	PlacementDelay       time.Duration
	MaxConsecutiveLosses int // session default when Limits leave it zero
	MaxAPIErrors         int
	MinStake             float64 // venue floor
	MaxStake             float64 // venue cap
	MinBalance           float64 // participant floor when the session sets none
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.PlacementDelay <= 0 {
		c.PlacementDelay = 500 * time.Millisecond
	}
	if c.MaxConsecutiveLosses <= 0 {
		c.MaxConsecutiveLosses = 5
	}
	if c.MaxAPIErrors <= 0 {
		c.MaxAPIErrors = 10
	}
	if c.MinStake <= 0 {
		c.MinStake = 0.35
	}
	if c.MaxStake <= 0 {
		c.MaxStake = 2000
	}
	if c.MinBalance <= 0 {
		c.MinBalance = 1
	}
	return c
}

// placement is one account cleared for a buy.
type placement struct {
	account  string
	token    string
	handle   repository.VenueSession
	stake    float64
	tp       float64
	sl       float64
	currency string
}

// Orchestrator turns an admitted signal into venue positions: one
// eligibility pass over the session's accounts, then sequential buys with
// a monitor attached to each fill. It also owns the post-close feedback
// that drives martingale state and pause limits.
type Orchestrator struct {
	cfg       OrchestratorConfig
	venue     repository.Venue
	gate      *SessionGate
	contracts repository.ContractStore
	monitor   *Monitor
	guard     domsvc.Guard
	learner   domsvc.Learner
	events    repository.EventPublisher
	jobs      queue.QueueService
	metrics   repository.Metrics
	log       *logger.Logger
}

func NewOrchestrator(
	cfg OrchestratorConfig,
	venue repository.Venue,
	gate *SessionGate,
	contracts repository.ContractStore,
	monitor *Monitor,
	guard domsvc.Guard,
	learner domsvc.Learner,
	events repository.EventPublisher,
	jobs queue.QueueService,
	metrics repository.Metrics,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg.withDefaults(),
		venue:     venue,
		gate:      gate,
		contracts: contracts,
		monitor:   monitor,
		guard:     guard,
		learner:   learner,
		events:    events,
		jobs:      jobs,
		metrics:   metrics,
		log:       log,
	}
}

// Execute places the signal on every eligible account. Per-account
// failures never abort the batch; an empty eligible set is recorded and
// returns nil because there is nothing to retry.
func (o *Orchestrator) Execute(ctx context.Context, sess *models.Session, sig *models.Signal) error {
	eligible, invalidated := o.screen(ctx, sess)
	if len(invalidated) > 0 {
		o.persistInvalidations(ctx, sess.ID, invalidated)
	}

	if len(eligible) == 0 {
		o.log.Warn("no eligible accounts, signal dropped",
			logger.String("session_id", sess.ID),
			logger.String("signal_id", sig.ID),
			logger.String("market", sig.Market))
		o.publish(ctx, &models.EngineEvent{
			Kind:      models.EventTradeRejected,
			SessionID: sess.ID,
			Market:    sig.Market,
			Payload: map[string]any{
				"signal_id": sig.ID,
				"reason":    "no eligible accounts",
			},
		})
		return nil
	}

	for i, p := range eligible {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(o.cfg.PlacementDelay):
			}
		}
		o.place(ctx, sess, sig, p)
	}
	return nil
}

// screen runs the eligibility pass. Credential and configuration problems
// invalidate the account with a recorded reason; transient venue errors
// count against the API-error budget and leave the account retryable.
func (o *Orchestrator) screen(ctx context.Context, sess *models.Session) ([]placement, []models.Account) {
	var eligible []placement
	var invalidated []models.Account

	invalidate := func(a *models.Account, reason string) {
		a.Status = models.AccountInvalid
		a.InvalidReason = reason
		invalidated = append(invalidated, *a)
		o.log.Warn("account excluded",
			logger.String("session_id", sess.ID),
			logger.String("account", a.Name),
			logger.String("reason", reason))
	}

	for i := range sess.Accounts {
		a := &sess.Accounts[i]
		if a.Status == models.AccountInvalid {
			continue
		}
		if a.Token == "" {
			invalidate(a, "missing token")
			continue
		}

		handle, err := o.venue.Acquire(ctx, a.Token)
		if err != nil {
			if deriv.IsAuthError(err) {
				invalidate(a, fmt.Sprintf("authorization failed: %v", err))
				continue
			}
			o.guard.RecordAPIResult(false)
			o.noteAPIError(ctx, sess.ID, a.Name, err)
			continue
		}

		if a.Currency != "" && handle.Currency() != a.Currency {
			invalidate(a, fmt.Sprintf("currency mismatch: account settles %s, session wants %s",
				handle.Currency(), a.Currency))
			continue
		}

		tp, sl := sess.EffectiveTP(*a), sess.EffectiveSL(*a)
		if tp <= 0 || sl <= 0 {
			invalidate(a, "missing take profit or stop loss")
			continue
		}

		balance, err := handle.Balance(ctx)
		if err != nil {
			o.guard.RecordAPIResult(false)
			o.noteAPIError(ctx, sess.ID, a.Name, err)
			continue
		}
		floor := sess.MinBalance
		if floor <= 0 {
			floor = o.cfg.MinBalance
		}
		if balance < floor {
			invalidate(a, fmt.Sprintf("balance %.2f below floor %.2f", balance, floor))
			continue
		}

		stake := o.stakeFor(sess, balance)
		if stake > balance {
			invalidate(a, fmt.Sprintf("stake %.2f exceeds balance %.2f", stake, balance))
			continue
		}

		eligible = append(eligible, placement{
			account:  a.Name,
			token:    a.Token,
			handle:   handle,
			stake:    stake,
			tp:       tp,
			sl:       sl,
			currency: handle.Currency(),
		})
	}
	return eligible, invalidated
}

// stakeFor resolves the stake for one account: mode amount, rounded to
// cents half up, then clamped to the venue bounds.
func (o *Orchestrator) stakeFor(sess *models.Session, balance float64) float64 {
	var stake float64
	switch sess.StakeMode {
	case models.StakePercent:
		stake = balance * sess.StakePercent / 100
	case models.StakeMartingale:
		mult := sess.Recovery.Multiplier
		if mult < 1 {
			mult = 1
		}
		stake = sess.Stake * mult
	default:
		stake = sess.Stake
	}

	stake = math.Floor(stake*100+0.5) / 100
	if stake < o.cfg.MinStake {
		stake = o.cfg.MinStake
	}
	if stake > o.cfg.MaxStake {
		stake = o.cfg.MaxStake
	}
	return stake
}

func (o *Orchestrator) place(ctx context.Context, sess *models.Session, sig *models.Signal, p placement) {
	order := models.Order{
		Market:        sig.Market,
		Side:          sig.Side,
		Digit:         sig.Digit,
		Stake:         p.stake,
		Currency:      p.currency,
		DurationTicks: sess.DurationTicks,
	}

	contract, err := p.handle.Buy(ctx, order)
	if err != nil {
		o.guard.RecordAPIResult(false)
		o.metrics.RecordTrade(sig.Market, "rejected")
		o.log.Error("buy failed",
			logger.String("session_id", sess.ID),
			logger.String("account", p.account),
			logger.String("market", sig.Market),
			logger.Error(err))
		o.publish(ctx, &models.EngineEvent{
			Kind:      models.EventTradeRejected,
			SessionID: sess.ID,
			Market:    sig.Market,
			Payload: map[string]any{
				"signal_id": sig.ID,
				"account":   p.account,
				"reason":    err.Error(),
			},
		})
		o.noteAPIError(ctx, sess.ID, p.account, err)
		return
	}
	o.guard.RecordAPIResult(true)

	contract.SignalID = sig.ID
	contract.SessionID = sess.ID
	contract.Account = p.account
	contract.TakeProfit = p.tp
	contract.StopLoss = p.sl
	if contract.OpenedAt.IsZero() {
		contract.OpenedAt = time.Now().UTC()
	}

	if err := o.contracts.SaveContract(ctx, contract); err != nil {
		// The close path upserts the full row again, so a failed insert
		// here costs visibility, not correctness.
		o.log.Error("contract save failed",
			logger.Int64("contract_id", contract.ID),
			logger.Error(err))
	}

	o.guard.PositionOpened(sess.ID, contract.Market)
	o.log.Info("trade placed",
		logger.String("session_id", sess.ID),
		logger.String("account", p.account),
		logger.String("market", contract.Market),
		logger.String("side", string(contract.Side)),
		logger.Int("digit", contract.Digit),
		logger.Float64("stake", contract.Stake),
		logger.Int64("contract_id", contract.ID))
	o.publish(ctx, &models.EngineEvent{
		Kind:      models.EventTradePlaced,
		SessionID: sess.ID,
		Market:    contract.Market,
		Payload: map[string]any{
			"signal_id":   sig.ID,
			"account":     p.account,
			"contract_id": contract.ID,
			"side":        string(contract.Side),
			"digit":       contract.Digit,
			"stake":       contract.Stake,
			"buy_price":   contract.BuyPrice,
		},
	})

	token := p.token
	rewatch := func(rctx context.Context) (repository.VenueSession, error) {
		return o.venue.Acquire(rctx, token)
	}
	o.monitor.Track(p.handle, contract, sig, rewatch, o.onClosed)
}

// Reattach restarts monitors for a session's open contracts after a
// process restart. Contracts whose account can no longer be resolved stay
// open in the store.
func (o *Orchestrator) Reattach(ctx context.Context, sess *models.Session) (int, error) {
	open, err := o.contracts.OpenContracts(ctx, sess.ID)
	if err != nil {
		return 0, fmt.Errorf("load open contracts: %w", err)
	}

	tokens := make(map[string]string, len(sess.Accounts))
	for _, a := range sess.Accounts {
		tokens[a.Name] = a.Token
	}

	n := 0
	for _, c := range open {
		token, ok := tokens[c.Account]
		if !ok || token == "" {
			o.log.Warn("open contract has no resolvable account",
				logger.Int64("contract_id", c.ID),
				logger.String("account", c.Account))
			continue
		}
		handle, err := o.venue.Acquire(ctx, token)
		if err != nil {
			o.log.Warn("reattach acquire failed",
				logger.Int64("contract_id", c.ID),
				logger.Error(err))
			continue
		}
		o.guard.PositionOpened(c.SessionID, c.Market)
		tok := token
		rewatch := func(rctx context.Context) (repository.VenueSession, error) {
			return o.venue.Acquire(rctx, tok)
		}
		// Signal context is gone after a restart; the outcome still feeds
		// session state, just not the indicator weights.
		o.monitor.Track(handle, c, nil, rewatch, o.onClosed)
		n++
	}
	return n, nil
}

// onClosed is the monitor callback. Persistence and event fan-out ride the
// job queue so a slow store never blocks the close path; session feedback
// and learning run inline because the next stake depends on them.
func (o *Orchestrator) onClosed(ctx context.Context, c *models.Contract, sig *models.Signal) {
	result := "loss"
	if c.Won() {
		result = "win"
	}
	o.metrics.RecordTrade(c.Market, result)
	o.guard.PositionClosed(c.SessionID, c.Market, c.Profit)

	o.persistOutcome(ctx, c)

	if sig != nil {
		fired := make([]string, 0, len(sig.Factors))
		for _, f := range sig.Factors {
			fired = append(fired, f.Name)
		}
		o.learner.RecordOutcome(ctx, domsvc.Outcome{
			Market:     c.Market,
			SessionID:  c.SessionID,
			Side:       c.Side,
			Won:        c.Won(),
			Fired:      fired,
			Confidence: sig.Confidence,
			Regime:     sig.Regime,
		})
	}

	var pausedReason string
	var completed bool
	sess, err := o.gate.Mutate(ctx, c.SessionID, func(s *models.Session) error {
		pausedReason, completed = o.applyOutcome(s, c)
		return nil
	})
	if err != nil {
		o.log.Error("session feedback failed",
			logger.String("session_id", c.SessionID),
			logger.Error(err))
	} else {
		o.metrics.RecordProfit(sess.ID, sess.RealizedPnL)
		if pausedReason != "" {
			o.log.Warn("session paused",
				logger.String("session_id", sess.ID),
				logger.String("reason", pausedReason))
			o.publish(ctx, &models.EngineEvent{
				Kind:      models.EventSessionPaused,
				SessionID: sess.ID,
				Payload:   map[string]any{"reason": pausedReason},
			})
		}
		if completed {
			o.log.Info("session completed, recovery target reached",
				logger.String("session_id", sess.ID),
				logger.Float64("recovered", sess.Recovery.Recovered))
			o.publish(ctx, &models.EngineEvent{
				Kind:      models.EventSessionCompleted,
				SessionID: sess.ID,
				Payload:   map[string]any{"recovered": sess.Recovery.Recovered},
			})
		}
	}

	o.publish(ctx, &models.EngineEvent{
		Kind:      models.EventTradeClosed,
		SessionID: c.SessionID,
		Market:    c.Market,
		Payload: map[string]any{
			"contract_id": c.ID,
			"account":     c.Account,
			"result":      result,
			"exit_reason": c.ExitReason,
			"profit":      c.Profit,
			"stake":       c.Stake,
		},
	})
}

// applyOutcome folds one closed contract into the session. A win resets
// the loss streak and the martingale multiplier; a loss compounds the
// multiplier and can trip the pause limit. Returns the pause reason and
// whether the recovery target completed the session.
func (o *Orchestrator) applyOutcome(s *models.Session, c *models.Contract) (pausedReason string, completed bool) {
	s.RealizedPnL += c.Profit

	if c.Won() {
		s.ConsecutiveLosses = 0
		s.Recovery.Recovered += c.Profit
		if s.StakeMode == models.StakeMartingale {
			s.Recovery.Multiplier = 1.0
			if s.Recovery.ToRecover > 0 {
				s.Recovery.ToRecover -= c.Profit
				if s.Recovery.ToRecover < 0 {
					s.Recovery.ToRecover = 0
				}
			}
		}
		if s.Recovery.Target > 0 && s.Recovery.Recovered >= s.Recovery.Target && s.Running() {
			s.State = models.SessionCompleted
			completed = true
		}
		return "", completed
	}

	s.ConsecutiveLosses++
	if s.StakeMode == models.StakeMartingale {
		s.Recovery.Multiplier *= s.Factor
		if c.RecoveryEligible {
			s.Recovery.ToRecover += c.Stake
		}
	}

	limit := s.Limits.MaxConsecutiveLosses
	if limit <= 0 {
		limit = o.cfg.MaxConsecutiveLosses
	}
	if s.ConsecutiveLosses >= limit && s.Running() {
		s.State = models.SessionPaused
		s.PauseReason = fmt.Sprintf("%d consecutive losses", s.ConsecutiveLosses)
		pausedReason = s.PauseReason
	}
	return pausedReason, false
}

// noteAPIError counts a venue failure against the session and pauses it at
// the limit. Only an explicit resume clears the counter.
func (o *Orchestrator) noteAPIError(ctx context.Context, sessionID, account string, cause error) {
	o.log.Warn("venue call failed",
		logger.String("session_id", sessionID),
		logger.String("account", account),
		logger.Error(cause))

	var pausedReason string
	_, err := o.gate.Mutate(ctx, sessionID, func(s *models.Session) error {
		s.APIErrors++
		limit := s.Limits.MaxAPIErrors
		if limit <= 0 {
			limit = o.cfg.MaxAPIErrors
		}
		if s.APIErrors >= limit && s.Running() {
			s.State = models.SessionPaused
			s.PauseReason = fmt.Sprintf("%d venue errors", s.APIErrors)
			pausedReason = s.PauseReason
		}
		return nil
	})
	if err != nil {
		o.log.Error("api error count failed",
			logger.String("session_id", sessionID),
			logger.Error(err))
		return
	}
	if pausedReason != "" {
		o.log.Warn("session paused",
			logger.String("session_id", sessionID),
			logger.String("reason", pausedReason))
		o.publish(ctx, &models.EngineEvent{
			Kind:      models.EventSessionPaused,
			SessionID: sessionID,
			Payload:   map[string]any{"reason": pausedReason},
		})
	}
}

// persistInvalidations merges account exclusions into the stored session
// by name. The screen pass worked on a snapshot, so only status and reason
// move over.
func (o *Orchestrator) persistInvalidations(ctx context.Context, sessionID string, invalidated []models.Account) {
	_, err := o.gate.Mutate(ctx, sessionID, func(s *models.Session) error {
		for _, inv := range invalidated {
			for i := range s.Accounts {
				if s.Accounts[i].Name == inv.Name {
					s.Accounts[i].Status = inv.Status
					s.Accounts[i].InvalidReason = inv.InvalidReason
				}
			}
		}
		return nil
	})
	if err != nil {
		o.log.Error("account invalidation persist failed",
			logger.String("session_id", sessionID),
			logger.Error(err))
	}
}

// persistOutcome writes the terminal contract row, preferring the job
// queue. Queue loss degrades to a direct write instead of dropping the
// trade record.
func (o *Orchestrator) persistOutcome(ctx context.Context, c *models.Contract) {
	if o.jobs != nil {
		err := o.jobs.PublishMessage(ctx, JobContractOutcome, c)
		if err == nil {
			return
		}
		o.log.Warn("outcome enqueue failed, writing directly",
			logger.Int64("contract_id", c.ID),
			logger.Error(err))
	}
	if err := o.contracts.SaveContract(ctx, c); err != nil {
		o.log.Error("contract outcome persist failed",
			logger.Int64("contract_id", c.ID),
			logger.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev *models.EngineEvent) {
	if o.events == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if o.jobs != nil {
		if err := o.jobs.PublishMessage(ctx, JobEngineEvent, ev); err == nil {
			return
		}
	}
	if err := o.events.Publish(ctx, ev); err != nil {
		o.log.Warn("event publish failed",
			logger.String("kind", ev.Kind),
			logger.Error(err))
	}
}
