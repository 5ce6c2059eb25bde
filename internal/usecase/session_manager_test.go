package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	domsvc "DigitPilot/internal/domain/service"
	"DigitPilot/internal/services/risk"
)

type fakeTickSource struct {
	mu       sync.Mutex
	watched  []string
	watchErr error
}

func (s *fakeTickSource) Start(context.Context) error { return nil }
func (s *fakeTickSource) Healthy() bool               { return true }
func (s *fakeTickSource) Close() error                { return nil }

func (s *fakeTickSource) Watch(_ context.Context, market string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchErr != nil {
		return s.watchErr
	}
	s.watched = append(s.watched, market)
	return nil
}

func (s *fakeTickSource) Window(market string) (models.DigitWindow, error) {
	return models.DigitWindow{Market: market}, nil
}

func (s *fakeTickSource) Markets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.watched...)
}

type fakeContractStore struct {
	mu    sync.Mutex
	saved []*models.Contract
	open  []*models.Contract
}

func (s *fakeContractStore) SaveContract(_ context.Context, c *models.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, c)
	return nil
}

func (s *fakeContractStore) UpdateContract(context.Context, *models.Contract) error { return nil }

func (s *fakeContractStore) ListContracts(context.Context, string, int) ([]*models.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Contract(nil), s.saved...), nil
}

func (s *fakeContractStore) OpenContracts(context.Context, string) ([]*models.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Contract(nil), s.open...), nil
}

type fakeVenue struct {
	mu       sync.Mutex
	sessions map[string]*fakeVenueSession
	acquires int
	err      error
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{sessions: make(map[string]*fakeVenueSession)}
}

func (v *fakeVenue) Acquire(_ context.Context, token string) (repository.VenueSession, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.acquires++
	if v.err != nil {
		return nil, v.err
	}
	vs, ok := v.sessions[token]
	if !ok {
		vs = newFakeVenueSession()
		v.sessions[token] = vs
	}
	return vs, nil
}

func (v *fakeVenue) Size() int { return len(v.sessions) }
func (v *fakeVenue) CloseAll() {}

type fakeLearner struct{}

func (fakeLearner) Weights(_ context.Context, market string) (*models.MemoryRecord, error) {
	return models.NewMemoryRecord(market), nil
}

func (fakeLearner) RecordOutcome(context.Context, domsvc.Outcome) {}

type noopMetrics struct{}

func (noopMetrics) RecordTick(string)            {}
func (noopMetrics) RecordSignal(string, string)  {}
func (noopMetrics) RecordVeto(string, string)    {}
func (noopMetrics) RecordTrade(string, string)   {}
func (noopMetrics) RecordProfit(string, float64) {}
func (noopMetrics) SetBreakerState(string)       {}
func (noopMetrics) SetOpenPositions(int)         {}
func (noopMetrics) RecordStreamReconnect()       {}

type managerHarness struct {
	mgr       *SessionManager
	store     *fakeSessionStore
	stream    *fakeTickSource
	contracts *fakeContractStore
	venue     *fakeVenue
	monitor   *Monitor
}

func newManagerHarness(t *testing.T) *managerHarness {
	t.Helper()
	log := testLogger(t)
	store := newFakeSessionStore()
	stream := &fakeTickSource{}
	contracts := &fakeContractStore{}
	venue := newFakeVenue()
	gate := NewSessionGate(store)
	guard := risk.NewGuard(risk.Config{}, log, nil)
	monitor := NewMonitor(MonitorConfig{}, log)
	t.Cleanup(monitor.Close)

	exec := NewOrchestrator(OrchestratorConfig{}, venue, gate, contracts, monitor,
		guard, fakeLearner{}, nil, nil, noopMetrics{}, log)
	mgr := NewSessionManager(gate, store, contracts, stream, guard, exec, nil, log)
	return &managerHarness{
		mgr:       mgr,
		store:     store,
		stream:    stream,
		contracts: contracts,
		venue:     venue,
		monitor:   monitor,
	}
}

func validCreateInput() CreateSessionInput {
	return CreateSessionInput{
		Name:       "night run",
		Markets:    []string{"R_10", "R_25"},
		Accounts:   []models.Account{{Name: "acct-1", Token: "tok-1"}},
		StakeMode:  models.StakeFixed,
		Stake:      1,
		TakeProfit: 2,
		StopLoss:   5,
	}
}

func TestCreateSessionValidation(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateSessionInput)
	}{
		{"no markets", func(in *CreateSessionInput) { in.Markets = nil }},
		{"blank market", func(in *CreateSessionInput) { in.Markets = []string{" "} }},
		{"no accounts", func(in *CreateSessionInput) { in.Accounts = nil }},
		{"zero fixed stake", func(in *CreateSessionInput) { in.Stake = 0 }},
		{"zero percent", func(in *CreateSessionInput) {
			in.StakeMode = models.StakePercent
			in.StakePercent = 0
		}},
		{"percent above 100", func(in *CreateSessionInput) {
			in.StakeMode = models.StakePercent
			in.StakePercent = 150
		}},
		{"unknown stake mode", func(in *CreateSessionInput) { in.StakeMode = "banana" }},
		{"zero take profit", func(in *CreateSessionInput) { in.TakeProfit = 0 }},
		{"zero stop loss", func(in *CreateSessionInput) { in.StopLoss = 0 }},
	}
	for _, tc := range cases {
		in := validCreateInput()
		tc.mutate(&in)
		_, err := h.mgr.Create(ctx, in)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: err = %v, want ErrInvalidInput", tc.name, err)
		}
	}
}

func TestCreateSessionActivates(t *testing.T) {
	h := newManagerHarness(t)

	sess, err := h.mgr.Create(context.Background(), validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.State != models.SessionRunning {
		t.Fatalf("state = %s, want running", sess.State)
	}
	if sess.ID == "" {
		t.Fatalf("session has no id")
	}
	if sess.Recovery.Multiplier != 1 {
		t.Fatalf("multiplier = %v, want 1", sess.Recovery.Multiplier)
	}
	if sess.DurationTicks != 1 {
		t.Fatalf("duration ticks = %d, want default 1", sess.DurationTicks)
	}
	if sess.Accounts[0].Status != models.AccountActive {
		t.Fatalf("account status = %s, want active", sess.Accounts[0].Status)
	}
	if got := h.stream.Markets(); len(got) != 2 {
		t.Fatalf("watched markets = %v, want both session markets", got)
	}

	stored, err := h.store.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.State != models.SessionRunning {
		t.Fatalf("stored state = %s, want running", stored.State)
	}
}

func TestCreateSessionWatchFailureStaysPending(t *testing.T) {
	h := newManagerHarness(t)
	h.stream.watchErr = errors.New("stream unavailable")

	_, err := h.mgr.Create(context.Background(), validCreateInput())
	if err == nil {
		t.Fatalf("create succeeded with a dead stream")
	}

	rows, _ := h.store.List(context.Background())
	if len(rows) != 1 || rows[0].State != models.SessionPending {
		t.Fatalf("stored rows = %+v, want one pending session", rows)
	}
}

func TestPauseResumeTransitions(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	sess, err := h.mgr.Create(ctx, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	paused, err := h.mgr.Pause(ctx, sess.ID, "drawdown review")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.State != models.SessionPaused || paused.PauseReason != "drawdown review" {
		t.Fatalf("paused = %s %q", paused.State, paused.PauseReason)
	}

	if _, err := h.mgr.Pause(ctx, sess.ID, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second pause err = %v, want ErrInvalidTransition", err)
	}

	resumed, err := h.mgr.Resume(ctx, sess.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.State != models.SessionRunning {
		t.Fatalf("resumed state = %s, want running", resumed.State)
	}

	if _, err := h.mgr.Resume(ctx, sess.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resume of running session err = %v, want ErrInvalidTransition", err)
	}
}

func TestResumeClearsPauseCounters(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	h.store.put(&models.Session{
		ID:                "sess-1",
		State:             models.SessionPaused,
		PauseReason:       "5 consecutive losses",
		ConsecutiveLosses: 5,
		APIErrors:         3,
	})

	sess, err := h.mgr.Resume(ctx, "sess-1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if sess.ConsecutiveLosses != 0 || sess.APIErrors != 0 || sess.PauseReason != "" {
		t.Fatalf("counters not cleared: %+v", sess)
	}
}

func TestCancelIsTerminal(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	sess, err := h.mgr.Create(ctx, validCreateInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cancelled, err := h.mgr.Cancel(ctx, sess.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.State != models.SessionCancelled {
		t.Fatalf("state = %s, want cancelled", cancelled.State)
	}

	if _, err := h.mgr.Cancel(ctx, sess.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second cancel err = %v, want ErrInvalidTransition", err)
	}
	if _, err := h.mgr.Resume(ctx, sess.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resume of cancelled session err = %v, want ErrInvalidTransition", err)
	}
}

func TestRestoreResubscribesAndReattaches(t *testing.T) {
	h := newManagerHarness(t)
	ctx := context.Background()

	h.store.put(&models.Session{
		ID:       "sess-1",
		State:    models.SessionRunning,
		Markets:  []string{"R_10"},
		Accounts: []models.Account{{Name: "acct-1", Token: "tok-1"}},
	})
	h.store.put(&models.Session{
		ID:      "sess-2",
		State:   models.SessionCancelled,
		Markets: []string{"R_50"},
	})
	h.contracts.open = []*models.Contract{
		{ID: 42, SessionID: "sess-1", Account: "acct-1", Market: "R_10", Status: models.ContractOpen},
	}

	if got := h.mgr.Restore(ctx); got != 1 {
		t.Fatalf("restored = %d, want only the running session", got)
	}
	if got := h.stream.Markets(); len(got) != 1 || got[0] != "R_10" {
		t.Fatalf("watched = %v, want R_10 only", got)
	}
	waitFor(t, 2*time.Second, func() bool { return h.monitor.Active() == 1 }, "reattached monitor")
}
