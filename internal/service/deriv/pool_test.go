package deriv

import (
	"context"
	"testing"
	"time"
)

func newTestPool(t *testing.T, s *venueServer) *Pool {
	t.Helper()
	p := NewPool(PoolConfig{
		Endpoint: s.url,
		AppID:    "1089",
	}, testLogger(t))
	t.Cleanup(p.CloseAll)
	return p
}

func TestPoolAcquireCreatesAndReuses(t *testing.T) {
	s := newVenueServer(t)
	p := newTestPool(t, s)

	h1, err := p.Acquire(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if h1.LoginID() != "CR90001" {
		t.Fatalf("loginID = %s", h1.LoginID())
	}
	if p.Size() != 1 {
		t.Fatalf("size = %d, want 1", p.Size())
	}

	h2, err := p.Acquire(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("second acquire returned a new handle")
	}
	if p.Size() != 1 {
		t.Fatalf("size after reuse = %d, want 1", p.Size())
	}
}

func TestPoolSeparateHandlesPerCredential(t *testing.T) {
	s := newVenueServer(t)
	p := newTestPool(t, s)

	if _, err := p.Acquire(context.Background(), "tok-1"); err != nil {
		t.Fatalf("acquire tok-1: %v", err)
	}
	if _, err := p.Acquire(context.Background(), "tok-2"); err != nil {
		t.Fatalf("acquire tok-2: %v", err)
	}
	if p.Size() != 2 {
		t.Fatalf("size = %d, want 2", p.Size())
	}
}

func TestPoolReplacesDeadHandle(t *testing.T) {
	s := newVenueServer(t)
	p := newTestPool(t, s)

	h1, err := p.Acquire(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	s.dropConnections()
	waitFor(t, 2*time.Second, func() bool { return !h1.Alive() }, "handle death")

	h2, err := p.Acquire(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("acquire after death: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("dead handle was not replaced")
	}
	if !h2.Alive() {
		t.Fatalf("replacement handle is dead")
	}
	if p.Size() != 1 {
		t.Fatalf("size = %d, want 1", p.Size())
	}
}

func TestPoolAuthFailureIsFatal(t *testing.T) {
	s := newVenueServer(t)
	s.authFail = true
	p := newTestPool(t, s)

	_, err := p.Acquire(context.Background(), "bad-token")
	if err == nil {
		t.Fatalf("acquire succeeded with bad token")
	}
	if !IsAuthError(err) {
		t.Fatalf("err = %v, want auth error", err)
	}
	if p.Size() != 0 {
		t.Fatalf("size = %d after failed auth, want 0", p.Size())
	}
}

func TestPoolCloseAll(t *testing.T) {
	s := newVenueServer(t)
	p := NewPool(PoolConfig{Endpoint: s.url, AppID: "1089"}, testLogger(t))

	h, err := p.Acquire(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.CloseAll()
	if p.Size() != 0 {
		t.Fatalf("size = %d after CloseAll, want 0", p.Size())
	}
	if h.Alive() {
		t.Fatalf("handle alive after CloseAll")
	}
}
