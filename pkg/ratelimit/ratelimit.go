// Package ratelimit implements the sliding-window, per-session-id request
// limiter described in SPEC_FULL.md §4.6. On every Allow call, timestamps
// older than the window are pruned from that session's log before the
// remaining count is compared against the limit, giving an amortized O(1)
// check per request (a burst does more pruning, but each timestamp is only
// ever pruned once). The whole structure is guarded by a single mutex,
// following the teacher's map-plus-mutex registry idiom used throughout
// pkg/queue and pkg/events.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter enforces a sliding-window request cap per session id.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	log    map[string][]time.Time
}

// New creates a Limiter allowing up to limit requests per window, per
// session id.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		log:    make(map[string][]time.Time),
	}
}

// Allow reports whether a request for sessionID may proceed right now,
// recording it if so. A rejected request is not recorded, so it doesn't
// count against the window itself.
func (l *Limiter) Allow(sessionID string) bool {
	return l.AllowAt(sessionID, time.Now())
}

// AllowAt is Allow with an explicit "now", exposed for deterministic tests.
func (l *Limiter) AllowAt(sessionID string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	timestamps := l.log[sessionID]

	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		l.log[sessionID] = kept
		return false
	}

	l.log[sessionID] = append(kept, now)
	return true
}

// Limit and Window report the configured parameters, used to shape the
// 429 response body (SPEC_FULL.md §4.6 / B4: "the configured limit and
// window in the message").
func (l *Limiter) Limit() int           { return l.limit }
func (l *Limiter) Window() time.Duration { return l.window }

// Reset drops the recorded timestamps for a session. Only the tests call
// it; session cleanup does not, so an idle session's entry stays in the
// map until Reset is called.
func (l *Limiter) Reset(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.log, sessionID)
}
