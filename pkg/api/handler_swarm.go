package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/opus-nx/orchestrator/pkg/bus"
	"github.com/opus-nx/orchestrator/pkg/orcherr"
)

// submitSwarmHandler handles POST /api/swarm. It validates the request,
// checks the rate limiter, then spawns the swarm pipeline as a background
// task and returns immediately (SPEC_FULL.md §4.5) — the caller follows up
// over the WebSocket stream for progress, not by blocking on this request.
func (s *Server) submitSwarmHandler(c *gin.Context) {
	var req SwarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %s", orcherr.ErrValidation, err))
		return
	}

	if _, err := uuid.Parse(req.SessionID); err != nil {
		writeError(c, fmt.Errorf("%w: session_id must be a UUID", orcherr.ErrValidation))
		return
	}
	if len(req.Query) > maxQueryLength {
		writeError(c, fmt.Errorf("%w: query exceeds %d characters", orcherr.ErrValidation, maxQueryLength))
		return
	}

	if !s.rateLimitBySessionBody(req.SessionID) {
		writeError(c, fmt.Errorf("%w: max %d requests per %ds", orcherr.ErrRateLimited, s.limiter.Limit(), int(s.limiter.Window().Seconds())))
		return
	}

	go s.runSwarmInBackground(req.SessionID, req.Query)

	c.JSON(http.StatusOK, SwarmResponse{Status: "started", SessionID: req.SessionID})
}

// runSwarmInBackground runs the swarm pipeline detached from the request's
// context (which is cancelled the instant the handler returns). Failures
// are published as a swarm-error event instead of propagating anywhere,
// per SPEC_FULL.md §7's propagation policy for background tasks.
func (s *Server) runSwarmInBackground(sessionID, query string) {
	ctx := context.Background()
	if _, err := s.coordinator.Run(ctx, sessionID, query); err != nil {
		s.log.Error("swarm run failed", "session_id", sessionID, "error", err)
		s.bus.Publish(sessionID, bus.NewSwarmError(sessionID, err.Error()))
	}
}
