package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"DigitPilot/internal/domain/models"
	"DigitPilot/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// captureSink copies every published batch; the pipeline reuses its batch
// slice after each flush.
type captureSink struct {
	mu  sync.Mutex
	got [][]*models.Tick
	err error
}

func (s *captureSink) PublishTicks(_ context.Context, ticks []*models.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, append([]*models.Tick(nil), ticks...))
	return nil
}

func (s *captureSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, batch := range s.got {
		n += len(batch)
	}
	return n
}

func tick(market string, epoch int64, digit int) *models.Tick {
	return &models.Tick{Market: market, Quote: 101.5, Epoch: epoch, Digit: digit}
}

func TestValidateTick(t *testing.T) {
	cases := []struct {
		name string
		tick *models.Tick
		ok   bool
	}{
		{"valid", tick("R_10", 1000, 5), true},
		{"nil", nil, false},
		{"no market", tick("", 1000, 5), false},
		{"zero epoch", tick("R_10", 0, 5), false},
		{"digit below range", tick("R_10", 1000, -1), false},
		{"digit above range", tick("R_10", 1000, 10), false},
	}
	for _, tc := range cases {
		err := validateTick(tc.tick)
		if tc.ok && err != nil {
			t.Fatalf("%s: err = %v, want nil", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: invalid tick accepted", tc.name)
		}
	}
}

func TestThrottlePerMarket(t *testing.T) {
	p := NewTickPipeline(&captureSink{}, testLogger(t), WithMaxRPS(2))
	t0 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if !p.allow("R_10", t0) {
		t.Fatalf("first tick throttled")
	}
	if p.allow("R_10", t0.Add(100*time.Millisecond)) {
		t.Fatalf("tick inside the per-market interval passed")
	}
	if !p.allow("R_10", t0.Add(600*time.Millisecond)) {
		t.Fatalf("tick past the interval throttled")
	}
	// Markets throttle independently.
	if !p.allow("R_25", t0.Add(100*time.Millisecond)) {
		t.Fatalf("other market throttled by R_10 traffic")
	}
}

func TestThrottleDisabled(t *testing.T) {
	p := NewTickPipeline(&captureSink{}, testLogger(t), WithMaxRPS(0))
	t0 := time.Now()
	for i := 0; i < 100; i++ {
		if !p.allow("R_10", t0) {
			t.Fatalf("disabled throttle refused tick %d", i)
		}
	}
}

func TestPipelineFlushesFullBatch(t *testing.T) {
	sink := &captureSink{}
	p := NewTickPipeline(sink, testLogger(t),
		WithMaxRPS(0),
		WithBatch(2, time.Minute))
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	p.Offer(tick("R_10", 1000, 1))
	p.Offer(tick("R_25", 1001, 2))

	waitFor(t, 2*time.Second, func() bool { return sink.total() == 2 }, "full batch flush")
	published, dropped := p.Stats()
	if published != 2 || dropped != 0 {
		t.Fatalf("stats = %d published %d dropped, want 2/0", published, dropped)
	}
}

func TestPipelineFlushesPartialBatchOnInterval(t *testing.T) {
	sink := &captureSink{}
	p := NewTickPipeline(sink, testLogger(t),
		WithMaxRPS(0),
		WithBatch(100, 20*time.Millisecond))
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	p.Offer(tick("R_10", 1000, 1))

	waitFor(t, 2*time.Second, func() bool { return sink.total() == 1 }, "interval flush")
}

func TestPipelineDropsInvalidTicks(t *testing.T) {
	sink := &captureSink{}
	p := NewTickPipeline(sink, testLogger(t), WithMaxRPS(0))

	p.Offer(nil)
	p.Offer(tick("", 1000, 1))
	p.Offer(tick("R_10", 1000, 12))

	if _, dropped := p.Stats(); dropped != 3 {
		t.Fatalf("dropped = %d, want 3", dropped)
	}
	if sink.total() != 0 {
		t.Fatalf("invalid ticks reached the sink")
	}
}

func TestPipelineDropsWhenBufferFull(t *testing.T) {
	// Not started, so nothing drains the buffer.
	p := NewTickPipeline(&captureSink{}, testLogger(t),
		WithMaxRPS(0),
		WithBufferSize(1))

	p.Offer(tick("R_10", 1000, 1))
	p.Offer(tick("R_10", 1001, 2))

	if _, dropped := p.Stats(); dropped != 1 {
		t.Fatalf("dropped = %d, want 1 past the buffer", dropped)
	}
}

func TestPipelineDropsBatchAfterRetries(t *testing.T) {
	sink := &captureSink{err: errors.New("broker down")}
	p := NewTickPipeline(sink, testLogger(t),
		WithMaxRPS(0),
		WithBatch(1, time.Minute))
	p.Start(context.Background())
	t.Cleanup(p.Stop)

	p.Offer(tick("R_10", 1000, 1))

	waitFor(t, 5*time.Second, func() bool {
		_, dropped := p.Stats()
		return dropped == 1
	}, "batch dropped after retries")
	published, _ := p.Stats()
	if published != 0 {
		t.Fatalf("published = %d, want 0 with a dead broker", published)
	}
}
