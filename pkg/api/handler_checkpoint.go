package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/opus-nx/orchestrator/pkg/bus"
	"github.com/opus-nx/orchestrator/pkg/graph"
	"github.com/opus-nx/orchestrator/pkg/orcherr"
)

// promotableVerdicts is the subset of validVerdicts that starts a new
// hypothesis experiment when paired with an alternative summary (§4.4).
var promotableVerdicts = map[string]bool{
	"disagree": true,
	"explore":  true,
}

// checkpointHandler handles POST /api/swarm/{session_id}/checkpoint. It
// writes a human-annotation node observing the target node, optionally
// promotes a new hypothesis experiment, records the checkpoint action
// against the lifecycle service, and (for a disagree verdict with a
// correction) fires a background rerun.
func (s *Server) checkpointHandler(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req CheckpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, fmt.Errorf("%w: %s", orcherr.ErrValidation, err))
		return
	}
	if !validVerdicts[req.Verdict] {
		writeError(c, fmt.Errorf("%w: unknown verdict %q", orcherr.ErrValidation, req.Verdict))
		return
	}
	if s.graph.GetNode(req.NodeID) == nil {
		writeError(c, fmt.Errorf("%w: node %s", orcherr.ErrNotFound, req.NodeID))
		return
	}

	ctx := c.Request.Context()

	annotationID := uuid.NewString()
	content := req.Correction
	if content == "" {
		content = req.AlternativeSummary
	}
	if _, err := s.graph.AddNode(&graph.Node{
		ID:        annotationID,
		SessionID: sessionID,
		Agent:     graph.RoleHumanAnnotation,
		Content:   content,
		Kind:      graph.KindHumanAnnotation,
	}); err != nil {
		writeError(c, err)
		return
	}
	if err := s.graph.AddEdge(&graph.Edge{
		SourceID: annotationID,
		TargetID: req.NodeID,
		Relation: graph.RelationObserves,
		Weight:   1.0,
	}); err != nil {
		s.log.Warn("checkpoint annotation edge rejected", "node_id", req.NodeID, "error", err)
	}

	experimentID := req.ExperimentID
	if experimentID == "" && promotableVerdicts[req.Verdict] && req.AlternativeSummary != "" {
		exp, err := s.lifecycle.CreateExperiment(ctx, sessionID, req.NodeID, req.Correction)
		if err != nil {
			writeError(c, err)
			return
		}
		experimentID = exp.ID
	}

	if experimentID != "" {
		if err := s.lifecycle.RecordCheckpointAction(ctx, experimentID, req.Verdict, req.Correction); err != nil {
			s.log.Warn("failed to record checkpoint action", "experiment_id", experimentID, "error", err)
		}
	}

	s.bus.Publish(sessionID, bus.NewHumanCheckpoint(sessionID, req.NodeID, req.Verdict, req.Correction, experimentID))

	if experimentID != "" && req.Verdict == "disagree" && req.Correction != "" {
		go s.triggerCheckpointRerun(experimentID)
	}

	c.JSON(http.StatusOK, CheckpointResponse{
		Status:           "recorded",
		AnnotationNodeID: annotationID,
		ExperimentID:     experimentID,
	})
}

func (s *Server) triggerCheckpointRerun(experimentID string) {
	if err := s.lifecycle.TriggerRerun(context.Background(), experimentID); err != nil {
		s.log.Error("checkpoint-triggered rerun failed to start", "experiment_id", experimentID, "error", err)
	}
}
