package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AllowsUpToLimitThenRejects(t *testing.T) {
	l := New(3, time.Minute)
	now := time.Now()

	assert.True(t, l.AllowAt("s1", now))
	assert.True(t, l.AllowAt("s1", now))
	assert.True(t, l.AllowAt("s1", now))
	assert.False(t, l.AllowAt("s1", now))
}

func TestLimiter_WindowSlidesAndPrunesOldTimestamps(t *testing.T) {
	l := New(2, time.Minute)
	now := time.Now()

	assert.True(t, l.AllowAt("s1", now))
	assert.True(t, l.AllowAt("s1", now))
	assert.False(t, l.AllowAt("s1", now))

	later := now.Add(2 * time.Minute)
	assert.True(t, l.AllowAt("s1", later))
}

func TestLimiter_SessionsAreIndependent(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Now()

	assert.True(t, l.AllowAt("s1", now))
	assert.True(t, l.AllowAt("s2", now))
	assert.False(t, l.AllowAt("s1", now))
}

func TestLimiter_ResetClearsSession(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Now()

	assert.True(t, l.AllowAt("s1", now))
	assert.False(t, l.AllowAt("s1", now))

	l.Reset("s1")
	assert.True(t, l.AllowAt("s1", now))
}

func TestLimiter_LimitAndWindowAccessors(t *testing.T) {
	l := New(20, 60*time.Second)
	assert.Equal(t, 20, l.Limit())
	assert.Equal(t, 60*time.Second, l.Window())
}
