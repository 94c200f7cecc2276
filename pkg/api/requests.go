package api

// maxQueryLength is the input validation bound named in SPEC_FULL.md §4.5.
const maxQueryLength = 2000

// SwarmRequest is the body of POST /api/swarm.
type SwarmRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Query     string `json:"query" binding:"required"`
}

// CheckpointRequest is the body of POST /api/swarm/{session_id}/checkpoint.
type CheckpointRequest struct {
	NodeID             string `json:"node_id" binding:"required"`
	Verdict            string `json:"verdict" binding:"required"`
	Correction         string `json:"correction,omitempty"`
	ExperimentID       string `json:"experiment_id,omitempty"`
	AlternativeSummary string `json:"alternative_summary,omitempty"`
	PromotedBy         string `json:"promoted_by,omitempty"`
}

// validVerdicts is the closed set named in SPEC_FULL.md §6.1.
var validVerdicts = map[string]bool{
	"verified":     true,
	"questionable": true,
	"disagree":     true,
	"agree":        true,
	"explore":      true,
	"note":         true,
}

// CompareRequest is the body of POST /api/swarm/experiments/{id}/compare.
type CompareRequest struct {
	PerformedBy    string `json:"performedBy,omitempty"`
	RerunIfMissing *bool  `json:"rerunIfMissing,omitempty"`
	ForceRerun     bool   `json:"forceRerun,omitempty"`
	NodeID         string `json:"nodeId,omitempty"`
	Correction     string `json:"correction,omitempty"`
}

// RetainRequest is the body of POST /api/swarm/experiments/{id}/retain.
type RetainRequest struct {
	Decision    string `json:"decision" binding:"required"`
	PerformedBy string `json:"performedBy,omitempty"`
}

var validDecisions = map[string]bool{
	"retain":  true,
	"defer":   true,
	"archive": true,
}
