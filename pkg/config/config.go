// Package config loads the orchestrator's startup configuration from the
// environment (SPEC_FULL.md §6.4, §2's C5 "Configuration & Capability
// Probe"). Unlike the teacher's own pkg/config, which resolves a YAML
// registry of agent/chain/MCP-server definitions, this orchestrator has no
// such registry to load: its agent roles are the spec's closed six-role
// set, its planner/effort tables are fixed constants (pkg/swarm), and its
// only variable surface at startup is which optional backends are
// reachable. So the loader here follows pkg/database/config.go's
// LoadFromEnv+Validate idiom rather than the teacher's YAML+mergo pipeline.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the orchestrator's complete startup configuration, loaded once
// in cmd/orchestrator/main.go and threaded through every component's
// constructor rather than read ad hoc at call sites.
type Config struct {
	Host string
	Port string

	AnthropicAPIKey string
	AuthSecret      string
	CORSOrigins     []string

	DatabaseURL string

	SupabaseURL            string
	SupabaseServiceRoleKey string

	VoyageAPIKey string
	VoyageModel  string

	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string

	RateLimitRequests      int
	RateLimitWindowSeconds int
	AgentTimeoutSeconds    int
	AgentStaggerSeconds    float64
	MaxConcurrentAgents    int
}

// LoadFromEnv reads every option named in SPEC_FULL.md §6.4, applying the
// documented defaults, and validates the required fields.
func LoadFromEnv() (*Config, error) {
	rateLimitReqs, err := strconv.Atoi(getEnvOrDefault("RATE_LIMIT_REQUESTS", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REQUESTS: %w", err)
	}
	rateLimitWindow, err := strconv.Atoi(getEnvOrDefault("RATE_LIMIT_WINDOW_SECONDS", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW_SECONDS: %w", err)
	}
	agentTimeout, err := strconv.Atoi(getEnvOrDefault("AGENT_TIMEOUT_SECONDS", "120"))
	if err != nil {
		return nil, fmt.Errorf("invalid AGENT_TIMEOUT_SECONDS: %w", err)
	}
	agentStagger, err := strconv.ParseFloat(getEnvOrDefault("AGENT_STAGGER_SECONDS", "2.5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid AGENT_STAGGER_SECONDS: %w", err)
	}
	maxConcurrent, err := strconv.Atoi(getEnvOrDefault("MAX_CONCURRENT_AGENTS", "6"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_CONCURRENT_AGENTS: %w", err)
	}

	cfg := &Config{
		Host:                   getEnvOrDefault("HOST", "0.0.0.0"),
		Port:                   getEnvOrDefault("PORT", "8080"),
		AnthropicAPIKey:        os.Getenv("ANTHROPIC_API_KEY"),
		AuthSecret:             os.Getenv("AUTH_SECRET"),
		CORSOrigins:            splitCommaList(os.Getenv("CORS_ORIGINS")),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		VoyageAPIKey:           os.Getenv("VOYAGE_API_KEY"),
		VoyageModel:            getEnvOrDefault("VOYAGE_MODEL", "voyage-3"),
		Neo4jURI:               os.Getenv("NEO4J_URI"),
		Neo4jUser:              os.Getenv("NEO4J_USER"),
		Neo4jPassword:          os.Getenv("NEO4J_PASSWORD"),
		RateLimitRequests:      rateLimitReqs,
		RateLimitWindowSeconds: rateLimitWindow,
		AgentTimeoutSeconds:    agentTimeout,
		AgentStaggerSeconds:    agentStagger,
		MaxConcurrentAgents:    maxConcurrent,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the required fields and warns (does not fail) on the
// soft constraints §6.4 names.
func (c *Config) Validate() error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("%w: ANTHROPIC_API_KEY is required", ErrMissingRequiredField)
	}
	if c.AuthSecret == "" {
		return fmt.Errorf("%w: AUTH_SECRET is required", ErrMissingRequiredField)
	}
	if len(c.AuthSecret) < 16 {
		slog.Warn("AUTH_SECRET is shorter than 16 characters; this weakens the bearer/WebSocket token scheme")
	}
	if c.RateLimitRequests < 1 {
		return fmt.Errorf("%w: RATE_LIMIT_REQUESTS must be at least 1", ErrInvalidValue)
	}
	if c.RateLimitWindowSeconds < 1 {
		return fmt.Errorf("%w: RATE_LIMIT_WINDOW_SECONDS must be at least 1", ErrInvalidValue)
	}
	if c.AgentTimeoutSeconds < 1 {
		return fmt.Errorf("%w: AGENT_TIMEOUT_SECONDS must be at least 1", ErrInvalidValue)
	}
	if c.AgentStaggerSeconds < 0 {
		return fmt.Errorf("%w: AGENT_STAGGER_SECONDS cannot be negative", ErrInvalidValue)
	}
	if c.MaxConcurrentAgents < 1 {
		return fmt.Errorf("%w: MAX_CONCURRENT_AGENTS must be at least 1", ErrInvalidValue)
	}
	return nil
}

// RehydrationEnabled reports whether enough configuration is present to
// stand up the Rehydration Service's semantic retrieval path (§4.3.1):
// both an embedding provider and a semantic-search-capable persistence
// backend are needed.
func (c *Config) RehydrationEnabled() bool {
	return c.VoyageAPIKey != "" && c.SupabaseURL != ""
}

// LifecycleMirrorEnabled reports whether both the Supabase URL and the
// service-role key are set. cmd/orchestrator then builds the REST backend,
// which serves embedding generation and semantic search only; lifecycle
// experiment rows are not mirrored through it.
func (c *Config) LifecycleMirrorEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceRoleKey != ""
}

// GraphMirrorEnabled reports whether the Reasoning Graph has an optional
// Neo4j mirror configured (§6.4).
func (c *Config) GraphMirrorEnabled() bool {
	return c.Neo4jURI != ""
}

// RateLimitWindow returns RateLimitWindowSeconds as a time.Duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// AgentTimeout returns AgentTimeoutSeconds as a time.Duration.
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

func splitCommaList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
