package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

type budget struct {
	minute window
	hour   window
}

// Limiter enforces fixed-window trade budgets per key. The check and the
// increment happen under one lock so two concurrent callers can never both
// claim the last slot of a window.
type Limiter struct {
	mu      sync.Mutex
	budgets map[string]*budget
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{
		budgets: make(map[string]*budget),
		now:     time.Now,
	}
}

// Allow consumes one slot for key if both the minute and the hour window
// still have room. A limit of zero or less disables that window.
func (l *Limiter) Allow(key string, perMinute, perHour int) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[key]
	if !ok {
		b = &budget{
			minute: window{start: now},
			hour:   window{start: now},
		}
		l.budgets[key] = b
	}

	if now.Sub(b.minute.start) >= time.Minute {
		b.minute = window{start: now}
	}
	if now.Sub(b.hour.start) >= time.Hour {
		b.hour = window{start: now}
	}

	if perMinute > 0 && b.minute.count >= perMinute {
		return false
	}
	if perHour > 0 && b.hour.count >= perHour {
		return false
	}

	b.minute.count++
	b.hour.count++
	return true
}

// Remaining reports how many slots are left in the minute window for key
// without consuming one.
func (l *Limiter) Remaining(key string, perMinute int) int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[key]
	if !ok || now.Sub(b.minute.start) >= time.Minute {
		return perMinute
	}
	left := perMinute - b.minute.count
	if left < 0 {
		return 0
	}
	return left
}

// Reset drops the budgets for key. Called when a session is resumed so a
// stale window does not refuse the first trades.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.budgets, key)
	l.mu.Unlock()
}
