// Package ratelimit implements sliding-window admission control for
// persistence operations.
//
// Limits are keyed by (operation, scope): scope is a session id for
// per-session limits, or the global sentinel for fleet-wide limits. The
// window slides continuously, so a burst that was admitted a moment ago
// still counts against the next attempt until it ages out.
package ratelimit

import (
	"sync"
	"time"
)

// GlobalScope is the sentinel scope for limits spanning all sessions
const GlobalScope = "*"

// Limit defines one sliding-window budget
type Limit struct {
	Max    int
	Window time.Duration
}

type bucket struct {
	events []time.Time
}

// Limiter enforces sliding-window limits per (operation, scope) key.
// Check is read-only; callers Record only after the operation is admitted,
// so rejected attempts never consume budget.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	buckets map[string]*bucket
	now     func() time.Time
}

// New creates a limiter with no limits configured
func New() *Limiter {
	return &Limiter{
		limits:  make(map[string]Limit),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// NewWithClock creates a limiter with an injected clock. Used in tests.
func NewWithClock(now func() time.Time) *Limiter {
	l := New()
	l.now = now
	return l
}

// SetLimit configures the budget for an operation
func (l *Limiter) SetLimit(operation string, limit Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[operation] = limit
}

// Check reports whether one more event for (operation, scope) fits inside
// the window right now. It never mutates state. When the budget is
// exhausted it returns the duration until the oldest in-window event slides
// out, which is the earliest moment a retry can succeed.
func (l *Limiter) Check(operation, scope string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok := l.limits[operation]
	if !ok || limit.Max <= 0 {
		return true, 0
	}

	b, ok := l.buckets[key(operation, scope)]
	if !ok {
		return true, 0
	}

	now := l.now()
	cutoff := now.Add(-limit.Window)

	inWindow := 0
	var oldest time.Time
	for _, ts := range b.events {
		if ts.After(cutoff) {
			if inWindow == 0 {
				oldest = ts
			}
			inWindow++
		}
	}

	if inWindow < limit.Max {
		return true, 0
	}
	return false, oldest.Add(limit.Window).Sub(now)
}

// Record registers an admitted event for (operation, scope). Timestamp
// lists are pruned to the window and capped at twice the limit so memory
// stays bounded regardless of traffic.
func (l *Limiter) Record(operation, scope string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok := l.limits[operation]
	if !ok || limit.Max <= 0 {
		return
	}

	k := key(operation, scope)
	b, ok := l.buckets[k]
	if !ok {
		b = &bucket{}
		l.buckets[k] = b
	}

	now := l.now()
	cutoff := now.Add(-limit.Window)

	kept := b.events[:0]
	for _, ts := range b.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)

	if max := 2 * limit.Max; len(kept) > max {
		kept = kept[len(kept)-max:]
	}
	b.events = append([]time.Time(nil), kept...)
}

// Reset drops all recorded events for a scope across every operation.
// Used when a session is deleted so its budget does not outlive it.
func (l *Limiter) Reset(scope string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for operation := range l.limits {
		delete(l.buckets, key(operation, scope))
	}
}

func key(operation, scope string) string {
	return operation + "\x00" + scope
}
