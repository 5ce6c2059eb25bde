package deriv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"DigitPilot/internal/domain/models"
	"DigitPilot/internal/domain/repository"
	"DigitPilot/pkg/logger"
)

const DefaultWindowSize = 100

var (
	ErrMarketNotTracked  = errors.New("deriv: market not tracked")
	ErrStreamUnavailable = errors.New("deriv: tick stream unavailable")
)

type StreamConfig struct {
	Endpoint       string
	AppID          string
	Markets        []string
	PingInterval   time.Duration
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	MaxReconnects  int
	ReconnectBase  time.Duration
	WindowSize     int
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 15 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 10
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 2 * time.Second
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	return c
}

// ring holds the most recent digits for one market, oldest first.
type ring struct {
	digits    []int
	size      int
	lastEpoch int64
	asOf      time.Time
}

func newRing(size int) *ring {
	return &ring{digits: make([]int, 0, size), size: size}
}

func (r *ring) push(digit int) {
	if len(r.digits) == r.size {
		copy(r.digits, r.digits[1:])
		r.digits[len(r.digits)-1] = digit
		return
	}
	r.digits = append(r.digits, digit)
}

// warm replaces the window content with history ticks, keeping only the
// newest size entries.
func (r *ring) warm(ticks []*models.Tick) {
	if len(ticks) > r.size {
		ticks = ticks[len(ticks)-r.size:]
	}
	r.digits = r.digits[:0]
	for _, t := range ticks {
		r.digits = append(r.digits, t.Digit)
	}
	if n := len(ticks); n > 0 {
		r.lastEpoch = ticks[n-1].Epoch
		r.asOf = ticks[n-1].Time()
	}
}

// Stream keeps one venue connection alive for market data and maintains a
// bounded digit window per market. Reconnects use linear backoff; once the
// retry budget is spent the stream goes terminal and stays unavailable.
type Stream struct {
	cfg     StreamConfig
	log     *logger.Logger
	metrics repository.Metrics

	mu      sync.RWMutex
	windows map[string]*ring
	subIDs  map[string]string
	client  *Client
	hooks   []func(*models.Tick)

	healthy  atomic.Bool
	terminal atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ repository.TickSource = (*Stream)(nil)

func NewStream(cfg StreamConfig, log *logger.Logger, metrics repository.Metrics) *Stream {
	return &Stream{
		cfg:     cfg.withDefaults(),
		log:     log,
		metrics: metrics,
		windows: make(map[string]*ring),
		subIDs:  make(map[string]string),
		stop:    make(chan struct{}),
	}
}

// OnTick registers a sink receiving every accepted tick. Register before
// Start; sinks run on the read loop and must not block.
func (s *Stream) OnTick(fn func(*models.Tick)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Start dials the venue, warms the configured markets and launches the
// supervisor that drives reconnects.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	for _, m := range s.cfg.Markets {
		if _, ok := s.windows[m]; !ok {
			s.windows[m] = newRing(s.cfg.WindowSize)
		}
	}
	s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		return fmt.Errorf("tick stream start: %w", err)
	}

	s.wg.Add(1)
	go s.supervise(ctx)
	return nil
}

func (s *Stream) connect(ctx context.Context) error {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	cl, err := Dial(dctx, s.cfg.Endpoint, s.cfg.AppID, s.cfg.PingInterval, s.cfg.CallTimeout, s.log)
	if err != nil {
		return err
	}
	cl.SetTickSink(s.ingest)

	for _, m := range s.trackedMarkets() {
		if err := s.track(ctx, cl, m); err != nil {
			_ = cl.Close()
			return fmt.Errorf("track %s: %w", m, err)
		}
	}

	s.mu.Lock()
	s.client = cl
	s.mu.Unlock()
	s.healthy.Store(true)
	return nil
}

func (s *Stream) track(ctx context.Context, cl *Client, market string) error {
	ticks, subID, err := cl.History(ctx, market, s.cfg.WindowSize, true)
	if err != nil {
		return err
	}

	s.mu.Lock()
	r, ok := s.windows[market]
	if !ok {
		r = newRing(s.cfg.WindowSize)
		s.windows[market] = r
	}
	r.warm(ticks)
	s.subIDs[market] = subID
	s.mu.Unlock()

	s.log.Info("market tracked",
		logger.String("market", market),
		logger.Int("history", len(ticks)))
	return nil
}

func (s *Stream) trackedMarkets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.windows))
	out := make([]string, 0, len(s.windows))
	for _, m := range s.cfg.Markets {
		if _, ok := s.windows[m]; ok && !seen[m] {
			out = append(out, m)
			seen[m] = true
		}
	}
	for m := range s.windows {
		if !seen[m] {
			out = append(out, m)
			seen[m] = true
		}
	}
	return out
}

func (s *Stream) ingest(t *models.Tick) {
	s.mu.Lock()
	r, ok := s.windows[t.Market]
	if !ok {
		s.mu.Unlock()
		return
	}
	if t.Epoch <= r.lastEpoch {
		// Duplicate or out-of-order frame after a reconnect.
		s.mu.Unlock()
		return
	}
	r.push(t.Digit)
	r.lastEpoch = t.Epoch
	r.asOf = t.Time()
	hooks := s.hooks
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordTick(t.Market)
	}
	for _, h := range hooks {
		h(t)
	}
}

func (s *Stream) supervise(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.mu.RLock()
		cl := s.client
		s.mu.RUnlock()

		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-cl.Done():
		}

		s.healthy.Store(false)
		s.log.Warn("tick stream lost", logger.Error(cl.Err()))

		if !s.reconnect(ctx) {
			s.terminal.Store(true)
			s.log.Error("tick stream unavailable, retry budget spent",
				logger.Int("attempts", s.cfg.MaxReconnects))
			return
		}
	}
}

func (s *Stream) reconnect(ctx context.Context) bool {
	for attempt := 1; attempt <= s.cfg.MaxReconnects; attempt++ {
		delay := time.Duration(attempt) * s.cfg.ReconnectBase
		select {
		case <-ctx.Done():
			return false
		case <-s.stop:
			return false
		case <-time.After(delay):
		}

		if s.metrics != nil {
			s.metrics.RecordStreamReconnect()
		}
		if err := s.connect(ctx); err != nil {
			s.log.Warn("reconnect failed",
				logger.Int("attempt", attempt),
				logger.Error(err))
			continue
		}
		s.log.Info("tick stream reconnected", logger.Int("attempt", attempt))
		return true
	}
	return false
}

// Watch adds a market at runtime. The window survives reconnects.
func (s *Stream) Watch(ctx context.Context, market string) error {
	if s.terminal.Load() {
		return ErrStreamUnavailable
	}

	s.mu.RLock()
	_, tracked := s.windows[market]
	cl := s.client
	s.mu.RUnlock()
	if tracked {
		return nil
	}
	if cl == nil || !cl.Alive() {
		return ErrStreamUnavailable
	}
	return s.track(ctx, cl, market)
}

// Window snapshots the digit window for market.
func (s *Stream) Window(market string) (models.DigitWindow, error) {
	if s.terminal.Load() {
		return models.DigitWindow{}, ErrStreamUnavailable
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.windows[market]
	if !ok {
		return models.DigitWindow{}, fmt.Errorf("%w: %s", ErrMarketNotTracked, market)
	}
	digits := make([]int, len(r.digits))
	copy(digits, r.digits)
	return models.DigitWindow{Market: market, Digits: digits, AsOf: r.asOf}, nil
}

func (s *Stream) Markets() []string {
	return s.trackedMarkets()
}

func (s *Stream) Healthy() bool {
	return s.healthy.Load() && !s.terminal.Load()
}

func (s *Stream) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.RLock()
	cl := s.client
	s.mu.RUnlock()
	if cl != nil {
		_ = cl.Close()
	}
	s.wg.Wait()
	return nil
}
