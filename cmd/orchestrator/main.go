// Command orchestrator starts the multi-agent reasoning orchestrator's
// HTTP/WebSocket API server, following cmd/tarsy/main.go's entrypoint
// shape: flag-parsed config directory, godotenv.Load, explicit
// construction of every service, a gin router, graceful shutdown on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/opus-nx/orchestrator/pkg/api"
	"github.com/opus-nx/orchestrator/pkg/bus"
	"github.com/opus-nx/orchestrator/pkg/config"
	"github.com/opus-nx/orchestrator/pkg/graph"
	"github.com/opus-nx/orchestrator/pkg/lifecycle"
	"github.com/opus-nx/orchestrator/pkg/persistence"
	"github.com/opus-nx/orchestrator/pkg/rehydrate"
	"github.com/opus-nx/orchestrator/pkg/runner"
	"github.com/opus-nx/orchestrator/pkg/swarm"
	"github.com/opus-nx/orchestrator/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to a directory holding an optional .env file")
	agentRunnerAddr := flag.String("agent-runner-addr", getEnv("AGENT_RUNNER_ADDR", "localhost:50051"), "gRPC address of the Agent Runner sidecar")
	flag.Parse()

	log := slog.Default()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		log.Info("loaded environment file", "path", envPath)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *agentRunnerAddr, log); err != nil {
		log.Error("orchestrator exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, agentRunnerAddr string, log *slog.Logger) error {
	log.Info("starting orchestrator", "version", version.Full())

	g := graph.New(log)
	b := bus.New(log)

	reaper := bus.NewReaper(b, g, 30*time.Minute, log)
	if err := reaper.Start("@every 5m"); err != nil {
		return err
	}
	defer reaper.Stop()

	gateway, closeGateway, err := buildGateway(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeGateway()

	if _, err := gateway.ProbeCapabilities(ctx); err != nil {
		log.Warn("initial capability probe failed, continuing in degraded mode", "error", err)
	}
	capProber := cron.New()
	if _, err := capProber.AddFunc("@every 1m", func() {
		if _, err := gateway.ProbeCapabilities(context.Background()); err != nil {
			log.Warn("capability re-probe failed", "error", err)
		}
	}); err != nil {
		return err
	}
	capProber.Start()
	defer capProber.Stop()

	g.OnChange(func(eventType string, data any) error {
		switch v := data.(type) {
		case *graph.Node:
			if eventType == "node-added" {
				go func() {
					if err := gateway.SyncNode(context.Background(), v); err != nil {
						log.Warn("failed to sync node to persistence gateway", "node_id", v.ID, "error", err)
					}
				}()
			}
		case *graph.Edge:
			if eventType == "edge-added" {
				go func() {
					if err := gateway.SyncEdge(context.Background(), v); err != nil {
						log.Warn("failed to sync edge to persistence gateway", "source", v.SourceID, "target", v.TargetID, "error", err)
					}
				}()
			}
		}
		return nil
	})

	agentRunner, err := runner.NewGRPCRunner(agentRunnerAddr)
	if err != nil {
		return err
	}
	defer agentRunner.Close()

	rehydrator := rehydrate.New(gateway, log)

	swarmCfg := swarm.DefaultConfig()
	swarmCfg.AgentTimeout = cfg.AgentTimeout()
	swarmCfg.StaggerSeconds = cfg.AgentStaggerSeconds
	coordinator := swarm.New(g, b, gateway, rehydrator, agentRunner, swarmCfg, log)

	lifecycleSvc := lifecycle.New(gateway, b, lifecycle.SwarmRerunner{Coordinator: coordinator}, log)

	server := api.NewServer(api.Config{
		AuthSecret:        cfg.AuthSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow(),
	}, g, b, coordinator, lifecycleSvc, gateway, log)

	addr := cfg.Host + ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining in-flight requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildGateway wires the required Postgres tabular mirror and the optional
// Supabase-shaped semantic-search and Neo4j graph-mirror backends (§6.4),
// returning a gateway that works in degraded mode when only the required
// backend is reachable.
func buildGateway(ctx context.Context, cfg *config.Config, log *slog.Logger) (persistence.Gateway, func(), error) {
	var pg *persistence.PostgresGateway
	noop := func() {}

	if cfg.DatabaseURL != "" {
		var err error
		pg, err = persistence.NewPostgresGateway(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, noop, err
		}
	}

	var semantic *persistence.RestyGateway
	if cfg.RehydrationEnabled() || cfg.LifecycleMirrorEnabled() {
		semantic = persistence.NewRestyGateway(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, log)
	}

	var graphMirror *persistence.Neo4jGateway
	closeMirror := noop
	if cfg.GraphMirrorEnabled() {
		var err error
		graphMirror, err = persistence.NewNeo4jGateway(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, log)
		if err != nil {
			log.Warn("neo4j graph mirror unavailable, continuing without it", "error", err)
			graphMirror = nil
		} else {
			closeMirror = func() { _ = graphMirror.Close(ctx) }
		}
	}

	gateway := persistence.NewCompositeGateway(pg, semantic, graphMirror, log)
	close := func() {
		closeMirror()
		if pg != nil {
			_ = pg.Close()
		}
	}
	return gateway, close, nil
}
