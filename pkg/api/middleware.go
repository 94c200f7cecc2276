package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opus-nx/orchestrator/pkg/orcherr"
)

// securityHeaders sets standard response headers on every request.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// rateLimitBySessionParam enforces the sliding-window limiter (SPEC_FULL.md
// §4.6) keyed on the route's :session_id param, rejecting with 429 before
// the handler runs.
func (s *Server) rateLimitBySessionParam(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param(param)
		if !s.limiter.Allow(sessionID) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":          orcherr.ErrRateLimited.Error(),
				"limit":          s.limiter.Limit(),
				"window_seconds": s.limiter.Window().Seconds(),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// rateLimitBySessionBody enforces the limiter keyed on a session_id field
// decoded from the JSON body, for routes (like POST /api/swarm) where the
// session id isn't a path parameter.
func (s *Server) rateLimitBySessionBody(sessionID string) bool {
	return s.limiter.Allow(sessionID)
}
