package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// graphHandler handles GET /api/graph/{session_id}. Unauthenticated, since
// the reasoning graph is read-only observability data — no write surface is
// exposed here (mutation only happens through the swarm pipeline and the
// checkpoint endpoint).
func (s *Server) graphHandler(c *gin.Context) {
	sessionID := c.Param("session_id")
	snap := s.graph.ToSnapshot(sessionID)
	c.JSON(http.StatusOK, GraphResponse{
		Nodes: len(snap.Nodes),
		Graph: snap,
	})
}
