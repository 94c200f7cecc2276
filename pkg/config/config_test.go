package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "test-anthropic-key")
	t.Setenv("AUTH_SECRET", "a-reasonably-long-shared-secret")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 20, cfg.RateLimitRequests)
	assert.Equal(t, 60, cfg.RateLimitWindowSeconds)
	assert.Equal(t, 120, cfg.AgentTimeoutSeconds)
	assert.Equal(t, 2.5, cfg.AgentStaggerSeconds)
	assert.Equal(t, 6, cfg.MaxConcurrentAgents)
	assert.False(t, cfg.RehydrationEnabled())
	assert.False(t, cfg.GraphMirrorEnabled())
}

func TestLoadFromEnv_MissingAnthropicKey(t *testing.T) {
	t.Setenv("AUTH_SECRET", "a-reasonably-long-shared-secret")

	_, err := LoadFromEnv()
	require.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestLoadFromEnv_MissingAuthSecret(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-anthropic-key")

	_, err := LoadFromEnv()
	require.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestLoadFromEnv_InvalidRateLimitRequests(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")

	_, err := LoadFromEnv()
	require.Error(t, err)
}

func TestLoadFromEnv_OptionalCapabilities(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("VOYAGE_API_KEY", "voyage-key")
	t.Setenv("SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service-role-key")
	t.Setenv("NEO4J_URI", "neo4j://localhost:7687")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.True(t, cfg.RehydrationEnabled())
	assert.True(t, cfg.LifecycleMirrorEnabled())
	assert.True(t, cfg.GraphMirrorEnabled())
}

func TestSplitCommaList(t *testing.T) {
	assert.Nil(t, splitCommaList(""))
	assert.Equal(t, []string{"a", "b"}, splitCommaList("a, b"))
	assert.Equal(t, []string{"http://localhost:3000"}, splitCommaList("http://localhost:3000"))
}
