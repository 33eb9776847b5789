package scheduler

import "time"

const maxBackoff = 300 * time.Second

// sourceHealth tracks one source's attempt history and backoff window.
// Each slot is owned by exactly one goroutine at a time: the worker holding
// the source's job, or the RSS loop for feed slots.
type sourceHealth struct {
	consecutiveFailures int
	backoff             time.Duration
	lastAttempt         time.Time
	lastSuccess         time.Time
}

// due reports whether the source should be fetched this tick.
func (h *sourceHealth) due(now time.Time, interval time.Duration, force bool) bool {
	if force {
		return true
	}
	if h.lastAttempt.IsZero() {
		return true
	}
	return now.Sub(h.lastAttempt) >= interval
}

// skipped reports whether the backoff window still holds the source out.
func (h *sourceHealth) skipped(now time.Time, force bool) bool {
	if force || h.consecutiveFailures == 0 {
		return false
	}
	return now.Sub(h.lastAttempt) < h.backoff
}

func (h *sourceHealth) recordSuccess(now time.Time) {
	h.consecutiveFailures = 0
	h.backoff = 0
	h.lastSuccess = now
	h.lastAttempt = now
}

func (h *sourceHealth) recordFailure(now time.Time) {
	h.consecutiveFailures++
	h.lastAttempt = now
	h.backoff = backoffFor(h.consecutiveFailures)
}

// recordAttempt advances last_attempt without touching the failure count.
// Used when a fetch succeeds at transport level but yields zero records: an
// empty feed is not a down feed.
func (h *sourceHealth) recordAttempt(now time.Time) {
	h.lastAttempt = now
}

// backoffFor is min(2^failures, 300) seconds: 2, 4, 8, ..., 256, 300.
func backoffFor(failures int) time.Duration {
	if failures >= 9 {
		return maxBackoff
	}
	d := time.Duration(1<<uint(failures)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
