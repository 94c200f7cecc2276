// Package persistence defines the Persistence Gateway contract (SPEC_FULL.md
// §2, L4 and §6.5): best-effort replication of reasoning-graph mutations and
// hypothesis-experiment rows to external stores, plus semantic retrieval of
// prior reasoning artifacts for the Rehydration Service. The core only
// consumes this interface; everything in this package beyond Gateway itself
// is one reference composite implementation, not a requirement.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/opus-nx/orchestrator/pkg/graph"
	"github.com/opus-nx/orchestrator/pkg/orcherr"
)

// Capability names one externally-backed feature the gateway may or may not
// have available in a given deployment.
type Capability string

const (
	CapTabularSync         Capability = "tabular_sync"
	CapGraphMirror         Capability = "graph_mirror"
	CapSemanticSearch      Capability = "semantic_search"
	CapHypothesisTracking  Capability = "hypothesis_experiments"
	CapRehydrationAudit    Capability = "rehydration_audit"
)

// CapabilitySnapshot is the result of the most recent ProbeCapabilities
// call, exposed to clients as the `degraded_mode` flag (§7).
type CapabilitySnapshot struct {
	Capabilities map[Capability]bool
	ProbedAt     time.Time
	DegradedMode bool
}

// ExperimentState is the closed set of hypothesis-experiment lifecycle
// states (mirrors pkg/lifecycle's state machine; kept as plain strings here
// so this package does not need to import pkg/lifecycle).
type ExperimentState string

const (
	StatePromoted     ExperimentState = "promoted"
	StateCheckpointed ExperimentState = "checkpointed"
	StateRerunning    ExperimentState = "rerunning"
	StateComparing    ExperimentState = "comparing"
	StateRetained     ExperimentState = "retained"
	StateDeferred     ExperimentState = "deferred"
	StateArchived     ExperimentState = "archived"
)

// HypothesisExperiment is the persisted row behind a human checkpoint's
// promote-and-rerun lifecycle.
type HypothesisExperiment struct {
	ID           string
	SessionID    string
	NodeID       string
	State        ExperimentState
	Correction   string
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExperimentAction is an audit row recording one lifecycle transition or
// operator action taken against an experiment.
type ExperimentAction struct {
	ID           string
	ExperimentID string
	Action       string
	Detail       string
	CreatedAt    time.Time
}

// ArtifactMatch is one ranked hit from a semantic search, carrying the raw
// signals the Rehydration Service's composite score is computed from.
type ArtifactMatch struct {
	ID              string
	SessionID       string
	Kind            string
	Text            string
	Similarity      float64
	Importance      float64
	RecencyDays     float64
	RetentionBonus  float64
	CreatedAt       time.Time
}

// RehydrationRun is the audit row written once per rehydration pass.
type RehydrationRun struct {
	ID           string
	SessionID    string
	CandidateIDs []string
	SelectedIDs  []string
	CreatedAt    time.Time
}

// Gateway is the Persistence Gateway's external contract (§6.5). Every
// operation must be idempotent under retry; a backend missing a required
// table or RPC must return an error wrapping orcherr.ErrCapabilityAbsent
// rather than a generic failure.
type Gateway interface {
	SyncNode(ctx context.Context, node *graph.Node) error
	SyncEdge(ctx context.Context, edge *graph.Edge) error
	BackfillNodeTokens(ctx context.Context, ids []string, tokensOut, tokensIn int, agent string) error

	CreateHypothesisExperiment(ctx context.Context, exp HypothesisExperiment) (HypothesisExperiment, error)
	UpdateHypothesisExperiment(ctx context.Context, id string, state ExperimentState, fields map[string]any) (HypothesisExperiment, error)
	CreateHypothesisExperimentAction(ctx context.Context, action ExperimentAction) error
	GetHypothesisExperiment(ctx context.Context, id string) (HypothesisExperiment, error)
	ListSessionHypothesisExperiments(ctx context.Context, sessionID string, status *ExperimentState, limit int) ([]HypothesisExperiment, error)

	GenerateReasoningEmbedding(ctx context.Context, text string) ([]float64, error)
	SearchReasoningArtifacts(ctx context.Context, embedding []float64, threshold float64, k int, sessionID, kind string) ([]ArtifactMatch, error)
	SearchHypothesesSemantic(ctx context.Context, embedding []float64, threshold float64, k int, sessionID string, status *ExperimentState) ([]ArtifactMatch, error)
	CreateSessionRehydrationRun(ctx context.Context, run RehydrationRun) (RehydrationRun, error)
	MarkReasoningArtifactUsed(ctx context.Context, id string) error

	ProbeCapabilities(ctx context.Context) (CapabilitySnapshot, error)
	GetCapabilitiesSnapshot() CapabilitySnapshot
}

func capabilityAbsentf(cap Capability, format string, args ...any) error {
	return fmt.Errorf("%s capability unavailable: %s: %w", cap, fmt.Sprintf(format, args...), orcherr.ErrCapabilityAbsent)
}
