package deriv

import (
	"context"
	"errors"
	"testing"
	"time"

	"DigitPilot/internal/domain/models"
)

func TestRingBounded(t *testing.T) {
	r := newRing(5)
	for d := 0; d < 8; d++ {
		r.push(d)
	}
	want := []int{3, 4, 5, 6, 7}
	if len(r.digits) != 5 {
		t.Fatalf("len = %d, want 5", len(r.digits))
	}
	for i, d := range want {
		if r.digits[i] != d {
			t.Fatalf("digits = %v, want %v", r.digits, want)
		}
	}
}

func startStream(t *testing.T, s *venueServer, cfg StreamConfig) *Stream {
	t.Helper()
	cfg.Endpoint = s.url
	cfg.AppID = "1089"
	if cfg.Markets == nil {
		cfg.Markets = []string{"R_10"}
	}
	st := NewStream(cfg, testLogger(t), nil)
	if err := st.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStreamWarmsWindowFromHistory(t *testing.T) {
	s := newVenueServer(t)
	st := startStream(t, s, StreamConfig{})

	w, err := st.Window("R_10")
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	want := []int{1, 2, 3}
	if len(w.Digits) != len(want) {
		t.Fatalf("digits = %v, want %v", w.Digits, want)
	}
	for i := range want {
		if w.Digits[i] != want[i] {
			t.Fatalf("digits = %v, want %v", w.Digits, want)
		}
	}
	if !st.Healthy() {
		t.Fatalf("stream not healthy after start")
	}
}

func TestStreamAppendsLiveTicks(t *testing.T) {
	s := newVenueServer(t)
	st := startStream(t, s, StreamConfig{})

	s.pushTick("R_10", 101.264, 1003)
	waitFor(t, 2*time.Second, func() bool {
		w, err := st.Window("R_10")
		return err == nil && len(w.Digits) == 4 && w.Digits[3] == 4
	}, "live tick appended")
}

func TestStreamDropsStaleAndDuplicateTicks(t *testing.T) {
	s := newVenueServer(t)
	st := startStream(t, s, StreamConfig{})

	s.pushTick("R_10", 101.264, 1003)
	waitFor(t, 2*time.Second, func() bool {
		w, _ := st.Window("R_10")
		return len(w.Digits) == 4
	}, "first live tick")

	// Same epoch again and an older one: both ignored.
	s.pushTick("R_10", 101.275, 1003)
	s.pushTick("R_10", 101.286, 1001)
	s.pushTick("R_10", 101.297, 1004)
	waitFor(t, 2*time.Second, func() bool {
		w, _ := st.Window("R_10")
		return len(w.Digits) == 5
	}, "fresh tick after stale ones")

	w, _ := st.Window("R_10")
	if w.Digits[4] != 7 {
		t.Fatalf("digits = %v, want trailing 7", w.Digits)
	}
}

func TestStreamTickHookReceivesLiveTicks(t *testing.T) {
	s := newVenueServer(t)

	got := make(chan int, 8)
	st := NewStream(StreamConfig{
		Endpoint: s.url,
		AppID:    "1089",
		Markets:  []string{"R_10"},
	}, testLogger(t), nil)
	st.OnTick(func(tk *models.Tick) { got <- tk.Digit })
	if err := st.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	s.pushTick("R_10", 101.268, 1003)
	select {
	case d := <-got:
		if d != 8 {
			t.Fatalf("hook digit = %d, want 8", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("hook never fired")
	}
}

func TestStreamWatchAddsMarket(t *testing.T) {
	s := newVenueServer(t)
	st := startStream(t, s, StreamConfig{})

	if err := st.Watch(context.Background(), "R_25"); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if _, err := st.Window("R_25"); err != nil {
		t.Fatalf("window after watch: %v", err)
	}

	markets := st.Markets()
	if len(markets) != 2 {
		t.Fatalf("markets = %v", markets)
	}
}

func TestStreamWindowUnknownMarket(t *testing.T) {
	s := newVenueServer(t)
	st := startStream(t, s, StreamConfig{})

	_, err := st.Window("R_100")
	if !errors.Is(err, ErrMarketNotTracked) {
		t.Fatalf("err = %v, want ErrMarketNotTracked", err)
	}
}

func TestStreamReconnects(t *testing.T) {
	s := newVenueServer(t)
	st := startStream(t, s, StreamConfig{
		MaxReconnects: 5,
		ReconnectBase: 20 * time.Millisecond,
	})

	s.dropConnections()
	waitFor(t, 5*time.Second, func() bool { return st.Healthy() }, "stream reconnect")

	// The rewarmed window still answers.
	if _, err := st.Window("R_10"); err != nil {
		t.Fatalf("window after reconnect: %v", err)
	}
}

func TestStreamGoesTerminalWhenRetriesExhausted(t *testing.T) {
	s := newVenueServer(t)
	st := startStream(t, s, StreamConfig{
		MaxReconnects: 2,
		ReconnectBase: 10 * time.Millisecond,
	})

	// Kill the server for good; every redial fails.
	s.srv.Close()
	s.dropConnections()

	waitFor(t, 5*time.Second, func() bool {
		_, err := st.Window("R_10")
		return errors.Is(err, ErrStreamUnavailable)
	}, "terminal unavailable state")

	if st.Healthy() {
		t.Fatalf("terminal stream reports healthy")
	}
}
