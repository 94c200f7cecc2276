package api

import "github.com/opus-nx/orchestrator/pkg/lifecycle"

// SwarmResponse is returned by POST /api/swarm.
type SwarmResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// CheckpointResponse is returned by POST /api/swarm/{session_id}/checkpoint.
type CheckpointResponse struct {
	Status           string `json:"status"`
	AnnotationNodeID string `json:"annotation_node_id"`
	ExperimentID     string `json:"experiment_id,omitempty"`
}

// GraphResponse is returned by GET /api/graph/{session_id}.
type GraphResponse struct {
	Nodes int `json:"nodes"`
	Graph any `json:"graph"`
}

// LifecycleStats is embedded in ExperimentsResponse (§6.1).
type LifecycleStats struct {
	DegradedMode           bool    `json:"degraded_mode"`
	CompareCompletionRate  float64 `json:"compare_completion_rate"`
	RetainRatio            float64 `json:"retain_ratio"`
	DeferRatio             float64 `json:"defer_ratio"`
	ArchiveRatio           float64 `json:"archive_ratio"`
}

// ExperimentsResponse is returned by GET /api/swarm/{session_id}/experiments.
type ExperimentsResponse struct {
	Experiments []lifecycle.Experiment `json:"experiments"`
	Lifecycle   LifecycleStats         `json:"lifecycle"`
}

// CompareResponse is returned by POST /api/swarm/experiments/{id}/compare.
type CompareResponse struct {
	Status           string                     `json:"status"`
	ComparisonResult *lifecycle.ComparisonResult `json:"comparison_result,omitempty"`
	Mode             string                     `json:"mode"`
}

// RetainResponse is returned by POST /api/swarm/experiments/{id}/retain.
type RetainResponse struct {
	Experiment lifecycle.Experiment `json:"experiment"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// CapabilitiesResponse is returned by GET /api/system/capabilities.
type CapabilitiesResponse struct {
	Capabilities   map[string]bool `json:"capabilities"`
	DegradedMode   bool            `json:"degraded_mode"`
	DegradedReason string          `json:"degraded_reason,omitempty"`
}
