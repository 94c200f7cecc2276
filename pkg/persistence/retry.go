package persistence

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// backoffDelays is the exact (1s, 2s, 4s) x 3-attempt schedule the original
// implementation's async_retry decorator used around every sync_node/
// sync_edge call (original_source/agents/src/persistence/supabase_sync.py),
// ported onto time.After instead of asyncio.sleep.
var backoffDelays = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// permanentError marks an error as not worth retrying (a validation failure,
// a constraint violation that a retry would never clear). Everything else
// is assumed transient, matching the original's broad `except Exception`
// retry net.
type permanentError struct{ err error }

// Permanent wraps err so withRetry gives up immediately instead of
// burning the backoff schedule on an error retrying cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var pe *permanentError
	return !errors.As(err, &pe)
}

// withRetry runs fn up to len(backoffDelays)+1 times, sleeping the schedule
// between attempts, and gives up immediately on a Permanent error or
// context cancellation. The final failure is logged; callers never see a
// retry-exhausted error type distinct from fn's own error, matching §7's
// "persistence transient error: retried with backoff; final failure
// logged, no user impact" rule — the caller absorbs it the same way.
func withRetry(ctx context.Context, log *slog.Logger, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if attempt >= len(backoffDelays) {
			break
		}
		select {
		case <-time.After(backoffDelays[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if log != nil {
		log.Warn("persistence operation failed after retries", "op", op, "error", err)
	}
	return err
}
