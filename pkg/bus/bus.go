// Package bus implements the per-session event bus (SPEC_FULL.md §4.1): a
// process-wide registry mapping a session id to zero or more bounded
// subscriber queues, with non-blocking publish, drop accounting, and a
// rate-limited drop log. It is a direct port of the original's
// asyncio.Queue-based bus onto buffered Go channels, with the subscriber
// registry guarded by a single sync.Mutex.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// queueCapacity is the bounded size of every subscriber queue.
	queueCapacity = 500
	// dropLogWindow is the minimum interval between "event dropped" log lines
	// for the same session.
	dropLogWindow = 10 * time.Second
)

// Subscription is returned by Subscribe; Events delivers events in publish
// order (I3) until Unsubscribe is called or the bus cleans up the session.
type Subscription struct {
	id        string
	sessionID string
	ch        chan Event
}

// Events returns the channel events are delivered on.
func (s *Subscription) Events() <-chan Event { return s.ch }

type sessionState struct {
	subscribers  map[string]*Subscription
	lastActivity time.Time
	dropCount    int
	lastDropLog  time.Time
}

// Bus is the per-session pub/sub event bus.
type Bus struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	log      *slog.Logger
	nextSubID uint64
}

// New creates an empty Bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		sessions: make(map[string]*sessionState),
		log:      log.With("component", "event_bus"),
	}
}

// Subscribe creates a new bounded queue for a session and registers it.
func (b *Bus) Subscribe(sessionID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.sessions[sessionID]
	if !ok {
		st = &sessionState{subscribers: make(map[string]*Subscription)}
		b.sessions[sessionID] = st
	}
	b.nextSubID++
	sub := &Subscription{
		id:        formatSubID(b.nextSubID),
		sessionID: sessionID,
		ch:        make(chan Event, queueCapacity),
	}
	st.subscribers[sub.id] = sub
	st.lastActivity = time.Now().UTC()
	return sub
}

// Unsubscribe removes a single subscriber queue.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.sessions[sub.sessionID]; ok {
		delete(st.subscribers, sub.id)
	}
}

// Publish enqueues event into every subscriber queue registered for
// sessionID. It never blocks: a full queue drops the event for that
// subscriber, increments the session's drop counter, and logs a warning at
// most once per dropLogWindow.
func (b *Bus) Publish(sessionID string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.sessions[sessionID]
	if !ok {
		// B1: publishing to a session with no subscribers is a no-op, but we
		// still want stale-session reaping to have something to find if a
		// late subscriber shows up, so we do not create state here.
		return
	}
	st.lastActivity = time.Now().UTC()

	for _, sub := range st.subscribers {
		select {
		case sub.ch <- event:
		default:
			st.dropCount++
			now := time.Now()
			if now.Sub(st.lastDropLog) > dropLogWindow {
				b.log.Warn("event dropped, subscriber too slow",
					"session_id", sessionID, "total_drops", st.dropCount)
				st.lastDropLog = now
			}
		}
	}
}

// CleanupSession removes all queues, the timestamp, and drop stats for a
// session, logging the total dropped event count.
func (b *Bus) CleanupSession(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.sessions[sessionID]
	if !ok {
		return
	}
	if st.dropCount > 0 {
		b.log.Info("session cleanup", "session_id", sessionID, "total_events_dropped", st.dropCount)
	}
	delete(b.sessions, sessionID)
}

// StaleSessions returns session ids whose last-activity exceeds maxAge.
func (b *Bus) StaleSessions(maxAge time.Duration) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	var stale []string
	for sessionID, st := range b.sessions {
		if now.Sub(st.lastActivity) > maxAge {
			stale = append(stale, sessionID)
		}
	}
	return stale
}

// DropCount returns the dropped-event count for a session (for monitoring).
func (b *Bus) DropCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.sessions[sessionID]; ok {
		return st.dropCount
	}
	return 0
}

func formatSubID(n uint64) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "0"
	}
	buf := make([]byte, 0, 16)
	for n > 0 {
		buf = append([]byte{digits[n%36]}, buf...)
		n /= 36
	}
	return string(buf)
}
