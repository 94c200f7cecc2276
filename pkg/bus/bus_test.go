package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	// B1
	b := New(nil)
	assert.NotPanics(t, func() {
		b.Publish("no-such-session", NewPing("no-such-session"))
	})
}

func TestPublish_DeliversInOrder(t *testing.T) {
	// I3: events within one subscriber queue are delivered in publish order.
	b := New(nil)
	sub := b.Subscribe("s1")
	for i := 0; i < 10; i++ {
		b.Publish("s1", NewAgentThinking("s1", "analyst", string(rune('a'+i))))
	}
	for i := 0; i < 10; i++ {
		evt := <-sub.Events()
		thinking, ok := evt.(AgentThinking)
		require.True(t, ok)
		assert.Equal(t, string(rune('a'+i)), thinking.Chunk)
	}
}

func TestSessionIsolation(t *testing.T) {
	// I2: no event published for session A reaches a subscriber of session B.
	b := New(nil)
	subA := b.Subscribe("session-a")
	subB := b.Subscribe("session-b")

	b.Publish("session-a", NewPing("session-a"))

	select {
	case evt := <-subA.Events():
		assert.Equal(t, "session-a", evt.(Ping).SessionID)
	default:
		t.Fatal("expected event for session-a")
	}

	select {
	case evt := <-subB.Events():
		t.Fatalf("session-b unexpectedly received an event: %#v", evt)
	default:
	}
}

func TestPublish_FullQueueDropsAndContinues(t *testing.T) {
	// B2: a full subscriber queue drops the event and continues; publisher never blocks.
	b := New(nil)
	sub := b.Subscribe("s1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < queueCapacity+50; i++ {
			b.Publish("s1", NewPing("s1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	assert.Greater(t, b.DropCount("s1"), 0)
	assert.Len(t, sub.Events(), queueCapacity)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("s1")
	b.Unsubscribe(sub)
	b.Publish("s1", NewPing("s1"))
	assert.Len(t, sub.Events(), 0)
}

func TestCleanupSessionRemovesState(t *testing.T) {
	b := New(nil)
	b.Subscribe("s1")
	b.CleanupSession("s1")
	assert.Empty(t, b.StaleSessions(0))
}

func TestStaleSessions(t *testing.T) {
	b := New(nil)
	b.Subscribe("s1")
	stale := b.StaleSessions(-1 * time.Second)
	assert.Contains(t, stale, "s1")

	fresh := b.StaleSessions(time.Hour)
	assert.NotContains(t, fresh, "s1")
}
