package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opus-nx/orchestrator/pkg/version"
)

// healthHandler handles GET /api/health. Unauthenticated, minimal: liveness
// only, no external-dependency checks, so the orchestrator's own process
// health is never conflated with a downstream LLM or persistence outage.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: version.Full(),
	})
}

// capabilitiesHandler handles GET /api/system/capabilities, surfacing the
// Persistence Gateway's most recent capability probe so clients can render
// a degraded-mode banner without needing to know what's backing the gateway.
func (s *Server) capabilitiesHandler(c *gin.Context) {
	snap := s.gateway.GetCapabilitiesSnapshot()
	caps := make(map[string]bool, len(snap.Capabilities))
	for cap, ok := range snap.Capabilities {
		caps[string(cap)] = ok
	}

	reason := ""
	if snap.DegradedMode {
		reason = "one or more optional persistence capabilities are unavailable"
	}

	c.JSON(http.StatusOK, CapabilitiesResponse{
		Capabilities:   caps,
		DegradedMode:   snap.DegradedMode,
		DegradedReason: reason,
	})
}
