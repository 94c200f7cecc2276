// Package api provides the HTTP and WebSocket surface of the orchestrator
// (SPEC_FULL.md §4.5, "Session Boundary"): request intake for swarm runs
// and checkpoints, REST reads over the reasoning graph and hypothesis
// experiments, and the real-time event stream.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opus-nx/orchestrator/pkg/bus"
	"github.com/opus-nx/orchestrator/pkg/graph"
	"github.com/opus-nx/orchestrator/pkg/lifecycle"
	"github.com/opus-nx/orchestrator/pkg/persistence"
	"github.com/opus-nx/orchestrator/pkg/ratelimit"
	"github.com/opus-nx/orchestrator/pkg/swarm"
)

// Config holds the Server's own settings, as opposed to the collaborators
// wired in via NewServer.
type Config struct {
	AuthSecret        string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	cfg         Config
	graph       *graph.Graph
	bus         *bus.Bus
	coordinator *swarm.Coordinator
	lifecycle   *lifecycle.Service
	gateway     persistence.Gateway
	limiter     *ratelimit.Limiter
	log         *slog.Logger
}

// NewServer wires a Server against its required collaborators and
// registers routes. Unlike the teacher's optional Set* wiring (used there
// for services that may legitimately be absent), every collaborator here
// is load-bearing for every route this server exposes, so they're required
// constructor arguments instead.
func NewServer(
	cfg Config,
	g *graph.Graph,
	b *bus.Bus,
	coordinator *swarm.Coordinator,
	lifecycleSvc *lifecycle.Service,
	gateway persistence.Gateway,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RateLimitRequests == 0 {
		cfg.RateLimitRequests = 20
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = 60 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router:      gin.New(),
		cfg:         cfg,
		graph:       g,
		bus:         b,
		coordinator: coordinator,
		lifecycle:   lifecycleSvc,
		gateway:     gateway,
		limiter:     ratelimit.New(cfg.RateLimitRequests, cfg.RateLimitWindow),
		log:         log.With("component", "api_server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes registers every route named in SPEC_FULL.md §6.1/§6.2.
func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(securityHeaders())
	s.router.MaxMultipartMemory = 2 << 20 // 2 MB, matching the teacher's body-size posture

	s.router.GET("/api/health", s.healthHandler)
	s.router.GET("/api/system/capabilities", s.capabilitiesHandler)

	v1 := s.router.Group("/api")
	v1.Use(s.requireAuth())
	v1.POST("/swarm", s.submitSwarmHandler)
	v1.POST("/swarm/:session_id/checkpoint", s.rateLimitBySessionParam("session_id"), s.checkpointHandler)
	v1.GET("/swarm/:session_id/experiments", s.listExperimentsHandler)
	v1.POST("/swarm/experiments/:id/compare", s.compareExperimentHandler)
	v1.POST("/swarm/experiments/:id/retain", s.retainExperimentHandler)

	// Graph reads are unauthenticated observability data (§6.1).
	s.router.GET("/api/graph/:session_id", s.graphHandler)

	s.router.GET("/ws/:session_id", s.wsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener,
// used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.router}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the underlying gin.Engine for tests.
func (s *Server) Router() http.Handler { return s.router }
