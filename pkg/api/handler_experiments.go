package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opus-nx/orchestrator/pkg/lifecycle"
	"github.com/opus-nx/orchestrator/pkg/orcherr"
)

// listExperimentsHandler handles GET /api/swarm/{session_id}/experiments.
func (s *Server) listExperimentsHandler(c *gin.Context) {
	sessionID := c.Param("session_id")
	experiments := s.lifecycle.ListSessionExperiments(sessionID)

	m := s.lifecycle.Metrics()
	retain, defer_, archive := m.RetentionRatio()
	snap := s.gateway.GetCapabilitiesSnapshot()

	c.JSON(http.StatusOK, ExperimentsResponse{
		Experiments: experiments,
		Lifecycle: LifecycleStats{
			DegradedMode:          snap.DegradedMode,
			CompareCompletionRate: m.CompareCompletionRate(),
			RetainRatio:           retain,
			DeferRatio:            defer_,
			ArchiveRatio:          archive,
		},
	})
}

// compareExperimentHandler handles POST /api/swarm/experiments/{id}/compare.
func (s *Server) compareExperimentHandler(c *gin.Context) {
	experimentID := c.Param("id")

	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		writeError(c, fmt.Errorf("%w: %s", orcherr.ErrValidation, err))
		return
	}

	outcome, err := s.lifecycle.Compare(c.Request.Context(), experimentID, req.ForceRerun)
	if err != nil {
		writeError(c, err)
		return
	}

	status := "compare_started"
	var result *lifecycle.ComparisonResult
	if outcome == lifecycle.CompareFastPath {
		status = "comparison_ready"
		if exp, ok := s.lifecycle.GetExperiment(experimentID); ok {
			result = exp.Comparison
		}
	}

	c.JSON(http.StatusOK, CompareResponse{
		Status:           status,
		ComparisonResult: result,
		Mode:             string(outcome),
	})
}

// retainExperimentHandler handles POST /api/swarm/experiments/{id}/retain.
func (s *Server) retainExperimentHandler(c *gin.Context) {
	experimentID := c.Param("id")

	var req RetainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %s", orcherr.ErrValidation, err))
		return
	}
	if !validDecisions[req.Decision] {
		writeError(c, fmt.Errorf("%w: unknown decision %q", orcherr.ErrValidation, req.Decision))
		return
	}

	if err := s.lifecycle.Retain(c.Request.Context(), experimentID, req.Decision); err != nil {
		writeError(c, err)
		return
	}

	exp, _ := s.lifecycle.GetExperiment(experimentID)
	c.JSON(http.StatusOK, RetainResponse{Experiment: exp})
}
