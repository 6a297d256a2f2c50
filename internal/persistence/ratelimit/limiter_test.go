package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const opResume = "resume"

func newTestLimiter(max int, window time.Duration) (*Limiter, *time.Time) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l := NewWithClock(func() time.Time { return now })
	l.SetLimit(opResume, Limit{Max: max, Window: window})
	return l, &now
}

func TestAdmitsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, _ := l.Check(opResume, "sess_a")
		assert.True(t, ok, "attempt %d should be admitted", i+1)
		l.Record(opResume, "sess_a")
	}

	ok, retryAfter := l.Check(opResume, "sess_a")
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestCheckIsReadOnly(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	// Repeated checks without records never consume budget
	for i := 0; i < 10; i++ {
		ok, _ := l.Check(opResume, "sess_a")
		assert.True(t, ok)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	l.Record(opResume, "sess_a")
	ok, _ := l.Check(opResume, "sess_a")
	assert.False(t, ok)

	ok, _ = l.Check(opResume, "sess_b")
	assert.True(t, ok, "another session's budget is untouched")
}

func TestGlobalScopeCountsSeparately(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	l.Record(opResume, "sess_a")
	l.Record(opResume, GlobalScope)
	l.Record(opResume, GlobalScope)

	ok, _ := l.Check(opResume, "sess_a")
	assert.True(t, ok, "session scope has budget left")
	ok, _ = l.Check(opResume, GlobalScope)
	assert.False(t, ok, "global scope is exhausted")
}

func TestWindowSlides(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute)

	l.Record(opResume, "sess_a")
	l.Record(opResume, "sess_a")
	ok, _ := l.Check(opResume, "sess_a")
	assert.False(t, ok)

	// Advance past the window: both events age out
	*now = now.Add(61 * time.Second)
	ok, _ = l.Check(opResume, "sess_a")
	assert.True(t, ok)
}

func TestRetryAfterMatchesOldestEvent(t *testing.T) {
	l, now := newTestLimiter(1, time.Minute)

	l.Record(opResume, "sess_a")
	*now = now.Add(20 * time.Second)

	ok, retryAfter := l.Check(opResume, "sess_a")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, retryAfter)
}

func TestPartialSlideAdmitsOne(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute)

	l.Record(opResume, "sess_a")
	*now = now.Add(30 * time.Second)
	l.Record(opResume, "sess_a")

	ok, _ := l.Check(opResume, "sess_a")
	assert.False(t, ok)

	// First event slides out, second is still in the window
	*now = now.Add(31 * time.Second)
	ok, _ = l.Check(opResume, "sess_a")
	assert.True(t, ok)
	l.Record(opResume, "sess_a")
	ok, _ = l.Check(opResume, "sess_a")
	assert.False(t, ok)
}

func TestUnconfiguredOperationAlwaysAdmits(t *testing.T) {
	l := New()
	ok, retryAfter := l.Check("unknown", "sess_a")
	assert.True(t, ok)
	assert.Zero(t, retryAfter)
}

func TestResetClearsScope(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	l.Record(opResume, "sess_a")
	ok, _ := l.Check(opResume, "sess_a")
	assert.False(t, ok)

	l.Reset("sess_a")
	ok, _ = l.Check(opResume, "sess_a")
	assert.True(t, ok)
}

func TestEventListStaysBounded(t *testing.T) {
	l, _ := newTestLimiter(5, time.Hour)

	for i := 0; i < 100; i++ {
		l.Record(opResume, "sess_a")
	}

	l.mu.Lock()
	b := l.buckets[key(opResume, "sess_a")]
	l.mu.Unlock()
	assert.LessOrEqual(t, len(b.events), 10, "list is capped at twice the limit")
}
