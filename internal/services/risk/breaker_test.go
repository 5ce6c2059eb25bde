package risk

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.Failure()
		if got := b.State(); got != BreakerClosed {
			t.Fatalf("state after %d failures = %s, want closed", i+1, got)
		}
	}
	b.Failure()
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state after 3 failures = %s, want open", got)
	}
	if b.Allow() {
		t.Fatalf("open breaker allowed a call before cooldown")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state = %s, want closed after non-consecutive failures", got)
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	b.Failure()
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state = %s, want open", got)
	}

	now = now.Add(time.Minute)
	if !b.Allow() {
		t.Fatalf("probe refused after cooldown")
	}
	if got := b.State(); got != BreakerHalfOpen {
		t.Fatalf("state = %s, want half_open", got)
	}
	if b.Allow() {
		t.Fatalf("second caller won a probe while one is in flight")
	}

	b.Success()
	if got := b.State(); got != BreakerClosed {
		t.Fatalf("state after successful probe = %s, want closed", got)
	}
	if !b.Allow() {
		t.Fatalf("closed breaker refused a call")
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	b.Failure()
	now = now.Add(time.Minute)
	if !b.Allow() {
		t.Fatalf("probe refused after cooldown")
	}
	b.Failure()
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("state after failed probe = %s, want open", got)
	}
	if b.Allow() {
		t.Fatalf("reopened breaker allowed a call before new cooldown")
	}

	now = now.Add(time.Minute)
	if !b.Allow() {
		t.Fatalf("second probe refused after new cooldown")
	}
}
