package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	"DigitPilot/internal/services/risk"
	"DigitPilot/pkg/logger"
)

var (
	// ErrInvalidInput marks a create request the engine refuses to run.
	ErrInvalidInput = errors.New("invalid session input")
	// ErrInvalidTransition marks a lifecycle call against the wrong state.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// SessionGate serializes read-modify-write cycles on sessions. Every
// mutation in the engine goes through Mutate so the monitor callbacks and
// the ops API cannot interleave on the same row.
type SessionGate struct {
	mu    sync.Mutex
	store repository.SessionStore
}

func NewSessionGate(store repository.SessionStore) *SessionGate {
	return &SessionGate{store: store}
}

// Mutate loads the current session, applies fn and persists the result.
// fn returning an error abandons the write.
func (g *SessionGate) Mutate(ctx context.Context, id string, fn func(*models.Session) error) (*models.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sess, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}
	if err := g.store.Update(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// CreateSessionInput is the normalized create request after HTTP-boundary
// validation. Zero limit fields fall back to engine defaults.
type CreateSessionInput struct {
	Name          string
	Markets       []string
	Accounts      []models.Account
	StakeMode     models.StakeMode
	Stake         float64
	StakePercent  float64
	Factor        float64
	MinBalance    float64
	TakeProfit    float64
	StopLoss      float64
	DurationTicks int
	RecoverTarget float64
	Limits        models.Limits
}

func (in *CreateSessionInput) validate() error {
	if len(in.Markets) == 0 {
		return fmt.Errorf("at least one market is required")
	}
	for _, m := range in.Markets {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("market symbols must be non-empty")
		}
	}
	if len(in.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	switch in.StakeMode {
	case models.StakeFixed, models.StakeMartingale:
		if in.Stake <= 0 {
			return fmt.Errorf("stake must be positive for %s mode", in.StakeMode)
		}
	case models.StakePercent:
		if in.StakePercent <= 0 || in.StakePercent > 100 {
			return fmt.Errorf("stake_percent must be in (0, 100]")
		}
	default:
		return fmt.Errorf("unknown stake mode %q", in.StakeMode)
	}
	if in.TakeProfit <= 0 {
		return fmt.Errorf("take_profit must be positive")
	}
	if in.StopLoss <= 0 {
		return fmt.Errorf("stop_loss must be positive")
	}
	return nil
}

// SessionManager owns the session lifecycle: create, pause, resume, cancel
// and the boot-time restore of sessions that were running when the process
// died.
type SessionManager struct {
	gate      *SessionGate
	store     repository.SessionStore
	contracts repository.ContractStore
	stream    repository.TickSource
	guard     *risk.Guard
	exec      *Orchestrator
	events    repository.EventPublisher
	log       *logger.Logger
}

func NewSessionManager(
	gate *SessionGate,
	store repository.SessionStore,
	contracts repository.ContractStore,
	stream repository.TickSource,
	guard *risk.Guard,
	exec *Orchestrator,
	events repository.EventPublisher,
	log *logger.Logger,
) *SessionManager {
	return &SessionManager{
		gate:      gate,
		store:     store,
		contracts: contracts,
		stream:    stream,
		guard:     guard,
		exec:      exec,
		events:    events,
		log:       log,
	}
}

// Create persists a new session and subscribes its markets. The session is
// stored pending first, so a market subscription failure leaves a visible
// row instead of a half-started run.
func (m *SessionManager) Create(ctx context.Context, in CreateSessionInput) (*models.Session, error) {
	if err := in.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	sess := &models.Session{
		ID:            uuid.NewString(),
		Name:          in.Name,
		Markets:       in.Markets,
		Accounts:      in.Accounts,
		StakeMode:     in.StakeMode,
		Stake:         in.Stake,
		StakePercent:  in.StakePercent,
		Factor:        in.Factor,
		MinBalance:    in.MinBalance,
		DefaultTP:     in.TakeProfit,
		DefaultSL:     in.StopLoss,
		DurationTicks: in.DurationTicks,
		Limits:        in.Limits,
		State:         models.SessionPending,
		Recovery:      models.Recovery{Multiplier: 1.0, Target: in.RecoverTarget},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if sess.DurationTicks <= 0 {
		sess.DurationTicks = 1
	}
	for i := range sess.Accounts {
		sess.Accounts[i].Status = models.AccountActive
		sess.Accounts[i].InvalidReason = ""
	}

	if err := m.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	for _, market := range sess.Markets {
		if err := m.stream.Watch(ctx, market); err != nil {
			m.log.Error("market subscription failed, session stays pending",
				logger.String("session_id", sess.ID),
				logger.String("market", market),
				logger.Error(err))
			return nil, fmt.Errorf("watch market %s: %w", market, err)
		}
	}

	sess, err := m.gate.Mutate(ctx, sess.ID, func(s *models.Session) error {
		s.State = models.SessionRunning
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("activate session: %w", err)
	}

	m.log.Info("session created",
		logger.String("session_id", sess.ID),
		logger.String("name", sess.Name),
		logger.Strings("markets", sess.Markets),
		logger.String("stake_mode", string(sess.StakeMode)),
		logger.Int("accounts", len(sess.Accounts)))
	m.publish(ctx, models.EventSessionCreated, sess.ID, "", map[string]any{
		"name":       sess.Name,
		"markets":    sess.Markets,
		"stake_mode": string(sess.StakeMode),
	})
	return sess, nil
}

// Pause stops a running session. Open contracts keep their monitors; only
// new placements stop.
func (m *SessionManager) Pause(ctx context.Context, id, reason string) (*models.Session, error) {
	if reason == "" {
		reason = "paused by operator"
	}
	sess, err := m.gate.Mutate(ctx, id, func(s *models.Session) error {
		if s.State != models.SessionRunning {
			return fmt.Errorf("%w: session is %s, only running sessions pause", ErrInvalidTransition, s.State)
		}
		s.State = models.SessionPaused
		s.PauseReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("session paused",
		logger.String("session_id", id),
		logger.String("reason", reason))
	m.publish(ctx, models.EventSessionPaused, id, "", map[string]any{"reason": reason})
	return sess, nil
}

// Resume is the only way out of a pause. It clears the counters that
// tripped the pause and resets the guard's per-session rate history.
func (m *SessionManager) Resume(ctx context.Context, id string) (*models.Session, error) {
	sess, err := m.gate.Mutate(ctx, id, func(s *models.Session) error {
		if s.State != models.SessionPaused {
			return fmt.Errorf("%w: session is %s, only paused sessions resume", ErrInvalidTransition, s.State)
		}
		s.ResetPauseCounters()
		s.State = models.SessionRunning
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.guard.ResetSession(id)
	m.log.Info("session resumed", logger.String("session_id", id))
	m.publish(ctx, models.EventSessionResumed, id, "", nil)
	return sess, nil
}

// Cancel terminates a session. Terminal sessions stay terminal.
func (m *SessionManager) Cancel(ctx context.Context, id string) (*models.Session, error) {
	sess, err := m.gate.Mutate(ctx, id, func(s *models.Session) error {
		switch s.State {
		case models.SessionCompleted, models.SessionCancelled:
			return fmt.Errorf("%w: session is already %s", ErrInvalidTransition, s.State)
		}
		s.State = models.SessionCancelled
		s.PauseReason = "cancelled by operator"
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.log.Info("session cancelled", logger.String("session_id", id))
	return sess, nil
}

func (m *SessionManager) Get(ctx context.Context, id string) (*models.Session, error) {
	return m.store.Get(ctx, id)
}

func (m *SessionManager) List(ctx context.Context, states ...models.SessionState) ([]*models.Session, error) {
	return m.store.List(ctx, states...)
}

// Contracts returns a session's trade history, newest first.
func (m *SessionManager) Contracts(ctx context.Context, id string, limit int) ([]*models.Contract, error) {
	if _, err := m.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return m.contracts.ListContracts(ctx, id, limit)
}

// Restore re-subscribes markets and reattaches open-contract monitors for
// sessions that were running at the last shutdown. Failures are logged per
// session; one broken session never blocks the rest of the boot.
func (m *SessionManager) Restore(ctx context.Context) int {
	sessions, err := m.store.List(ctx, models.SessionRunning, models.SessionPaused)
	if err != nil {
		m.log.Error("session restore failed", logger.Error(err))
		return 0
	}

	restored := 0
	for _, sess := range sessions {
		for _, market := range sess.Markets {
			if err := m.stream.Watch(ctx, market); err != nil {
				m.log.Warn("market re-subscription failed",
					logger.String("session_id", sess.ID),
					logger.String("market", market),
					logger.Error(err))
			}
		}
		n, err := m.exec.Reattach(ctx, sess)
		if err != nil {
			m.log.Warn("contract reattach failed",
				logger.String("session_id", sess.ID),
				logger.Error(err))
		}
		if n > 0 {
			m.log.Info("open contracts reattached",
				logger.String("session_id", sess.ID),
				logger.Int("contracts", n))
		}
		restored++
	}
	if restored > 0 {
		m.log.Info("sessions restored", logger.Int("count", restored))
	}
	return restored
}

func (m *SessionManager) publish(ctx context.Context, kind, sessionID, market string, payload map[string]any) {
	if m.events == nil {
		return
	}
	ev := &models.EngineEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		SessionID: sessionID,
		Market:    market,
		Payload:   payload,
		At:        time.Now().UTC(),
	}
	if err := m.events.Publish(ctx, ev); err != nil {
		m.log.Warn("event publish failed",
			logger.String("kind", kind),
			logger.Error(err))
	}
}
