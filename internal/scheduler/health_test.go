package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffProgression(t *testing.T) {
	var h sourceHealth
	t0 := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}
	for i, w := range want {
		h.recordFailure(t0.Add(time.Duration(i) * time.Second))
		assert.Equal(t, w, h.backoff)
	}

	// 4th failure at t=3 with backoff 16: still inside the window at t=5,
	// out of it 16s after the last failure.
	assert.True(t, h.skipped(t0.Add(5*time.Second), false))
	assert.True(t, h.skipped(t0.Add(18*time.Second), false))
	assert.False(t, h.skipped(t0.Add(19*time.Second), false))
}

func TestBackoffCapsAt300(t *testing.T) {
	var h sourceHealth
	now := time.Now()
	allowed := map[time.Duration]bool{}
	for _, sec := range []int{2, 4, 8, 16, 32, 64, 128, 256, 300} {
		allowed[time.Duration(sec)*time.Second] = true
	}

	for i := 0; i < 20; i++ {
		h.recordFailure(now)
		assert.True(t, allowed[h.backoff], "backoff %v not in table", h.backoff)
		assert.LessOrEqual(t, h.backoff, maxBackoff)
	}
	assert.Equal(t, maxBackoff, h.backoff)
}

func TestDuePredicates(t *testing.T) {
	now := time.Now()
	interval := 30 * time.Second

	t.Run("never attempted is always due", func(t *testing.T) {
		var h sourceHealth
		assert.True(t, h.due(now, interval, false))
	})

	t.Run("interval gates due", func(t *testing.T) {
		h := sourceHealth{lastAttempt: now.Add(-10 * time.Second)}
		assert.False(t, h.due(now, interval, false))
		h.lastAttempt = now.Add(-31 * time.Second)
		assert.True(t, h.due(now, interval, false))
	})

	t.Run("zero failures never skipped", func(t *testing.T) {
		h := sourceHealth{lastAttempt: now}
		assert.False(t, h.skipped(now, false))
	})

	t.Run("force overrides both", func(t *testing.T) {
		h := sourceHealth{
			consecutiveFailures: 5,
			backoff:             32 * time.Second,
			lastAttempt:         now.Add(-time.Second),
		}
		assert.True(t, h.skipped(now, false))
		assert.False(t, h.skipped(now, true))
		assert.True(t, h.due(now, interval, true))
	})
}

func TestSuccessResetsBackoff(t *testing.T) {
	var h sourceHealth
	now := time.Now()

	h.recordFailure(now)
	h.recordFailure(now)
	h.recordSuccess(now)

	assert.Zero(t, h.consecutiveFailures)
	assert.Zero(t, h.backoff)
	assert.Equal(t, now, h.lastSuccess)
}

func TestRecordAttemptKeepsFailureCount(t *testing.T) {
	var h sourceHealth
	now := time.Now()

	h.recordFailure(now)
	h.recordAttempt(now.Add(time.Minute))

	assert.Equal(t, 1, h.consecutiveFailures)
	assert.Equal(t, now.Add(time.Minute), h.lastAttempt)
}
