package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/opus-nx/orchestrator/pkg/graph"
)

// tabularBackend, semanticBackend and graphMirrorBackend are the narrow
// seams CompositeGateway depends on instead of the concrete *PostgresGateway
// / *RestyGateway / *Neo4jGateway types, so tests can substitute fakes
// without a database, an HTTP server, or a Neo4j instance.
type tabularBackend interface {
	SyncNode(ctx context.Context, node *graph.Node) error
	SyncEdge(ctx context.Context, edge *graph.Edge) error
	BackfillNodeTokens(ctx context.Context, ids []string, tokensOut, tokensIn int, agent string) error
	CreateHypothesisExperiment(ctx context.Context, exp HypothesisExperiment) (HypothesisExperiment, error)
	UpdateHypothesisExperiment(ctx context.Context, id string, state ExperimentState, fields map[string]any) (HypothesisExperiment, error)
	CreateHypothesisExperimentAction(ctx context.Context, action ExperimentAction) error
	GetHypothesisExperiment(ctx context.Context, id string) (HypothesisExperiment, error)
	ListSessionHypothesisExperiments(ctx context.Context, sessionID string, status *ExperimentState, limit int) ([]HypothesisExperiment, error)
	CreateSessionRehydrationRun(ctx context.Context, run RehydrationRun) (RehydrationRun, error)
	MarkReasoningArtifactUsed(ctx context.Context, id string) error
	probe(ctx context.Context) bool
}

type semanticBackend interface {
	GenerateReasoningEmbedding(ctx context.Context, text string) ([]float64, error)
	SearchReasoningArtifacts(ctx context.Context, embedding []float64, threshold float64, k int, sessionID, kind string) ([]ArtifactMatch, error)
	SearchHypothesesSemantic(ctx context.Context, embedding []float64, threshold float64, k int, sessionID string, status *ExperimentState) ([]ArtifactMatch, error)
	probe(ctx context.Context) bool
}

type graphMirrorBackend interface {
	SyncNode(ctx context.Context, node *graph.Node) error
	SyncEdge(ctx context.Context, edge *graph.Edge) error
	probe(ctx context.Context) bool
}

// CompositeGateway is the reference Gateway implementation: a required
// Postgres tabular mirror plus two optional backends (a PostgREST-shaped
// semantic-search endpoint, a Neo4j graph mirror) that degrade gracefully
// when not configured, matching the original's stance that "the swarm
// works fine without" either optional persistence backend.
type CompositeGateway struct {
	pg          tabularBackend
	semantic    semanticBackend
	graphMirror graphMirrorBackend
	log         *slog.Logger

	mu       sync.Mutex
	snapshot CapabilitySnapshot
}

// NewCompositeGateway wires a required Postgres gateway with optional
// semantic-search and graph-mirror backends. Pass nil for either optional
// backend to leave it unconfigured.
func NewCompositeGateway(pg *PostgresGateway, semantic *RestyGateway, graphMirror *Neo4jGateway, log *slog.Logger) *CompositeGateway {
	if log == nil {
		log = slog.Default()
	}
	c := &CompositeGateway{pg: pg, log: log.With("component", "persistence_composite")}
	if semantic != nil {
		c.semantic = semantic
	}
	if graphMirror != nil {
		c.graphMirror = graphMirror
	}
	return c
}

func (c *CompositeGateway) SyncNode(ctx context.Context, node *graph.Node) error {
	err := c.pg.SyncNode(ctx, node)
	if c.graphMirror != nil {
		if gerr := c.graphMirror.SyncNode(ctx, node); gerr != nil {
			c.log.Warn("graph mirror sync_node failed", "node_id", node.ID, "error", gerr)
		}
	}
	return err
}

func (c *CompositeGateway) SyncEdge(ctx context.Context, edge *graph.Edge) error {
	err := c.pg.SyncEdge(ctx, edge)
	if c.graphMirror != nil {
		if gerr := c.graphMirror.SyncEdge(ctx, edge); gerr != nil {
			c.log.Warn("graph mirror sync_edge failed", "source", edge.SourceID, "target", edge.TargetID, "error", gerr)
		}
	}
	return err
}

func (c *CompositeGateway) BackfillNodeTokens(ctx context.Context, ids []string, tokensOut, tokensIn int, agent string) error {
	return c.pg.BackfillNodeTokens(ctx, ids, tokensOut, tokensIn, agent)
}

func (c *CompositeGateway) CreateHypothesisExperiment(ctx context.Context, exp HypothesisExperiment) (HypothesisExperiment, error) {
	return c.pg.CreateHypothesisExperiment(ctx, exp)
}

func (c *CompositeGateway) UpdateHypothesisExperiment(ctx context.Context, id string, state ExperimentState, fields map[string]any) (HypothesisExperiment, error) {
	return c.pg.UpdateHypothesisExperiment(ctx, id, state, fields)
}

func (c *CompositeGateway) CreateHypothesisExperimentAction(ctx context.Context, action ExperimentAction) error {
	return c.pg.CreateHypothesisExperimentAction(ctx, action)
}

func (c *CompositeGateway) GetHypothesisExperiment(ctx context.Context, id string) (HypothesisExperiment, error) {
	return c.pg.GetHypothesisExperiment(ctx, id)
}

func (c *CompositeGateway) ListSessionHypothesisExperiments(ctx context.Context, sessionID string, status *ExperimentState, limit int) ([]HypothesisExperiment, error) {
	return c.pg.ListSessionHypothesisExperiments(ctx, sessionID, status, limit)
}

func (c *CompositeGateway) CreateSessionRehydrationRun(ctx context.Context, run RehydrationRun) (RehydrationRun, error) {
	return c.pg.CreateSessionRehydrationRun(ctx, run)
}

func (c *CompositeGateway) MarkReasoningArtifactUsed(ctx context.Context, id string) error {
	return c.pg.MarkReasoningArtifactUsed(ctx, id)
}

func (c *CompositeGateway) GenerateReasoningEmbedding(ctx context.Context, text string) ([]float64, error) {
	if c.semantic == nil {
		return nil, capabilityAbsentf(CapSemanticSearch, "no semantic backend configured")
	}
	return c.semantic.GenerateReasoningEmbedding(ctx, text)
}

func (c *CompositeGateway) SearchReasoningArtifacts(ctx context.Context, embedding []float64, threshold float64, k int, sessionID, kind string) ([]ArtifactMatch, error) {
	if c.semantic == nil {
		return nil, capabilityAbsentf(CapSemanticSearch, "no semantic backend configured")
	}
	return c.semantic.SearchReasoningArtifacts(ctx, embedding, threshold, k, sessionID, kind)
}

func (c *CompositeGateway) SearchHypothesesSemantic(ctx context.Context, embedding []float64, threshold float64, k int, sessionID string, status *ExperimentState) ([]ArtifactMatch, error) {
	if c.semantic == nil {
		return nil, capabilityAbsentf(CapSemanticSearch, "no semantic backend configured")
	}
	return c.semantic.SearchHypothesesSemantic(ctx, embedding, threshold, k, sessionID, status)
}

// ProbeCapabilities re-checks every configured backend and records the
// result as the snapshot GetCapabilitiesSnapshot returns. Unconfigured
// optional backends report as unavailable but do not, by themselves, flip
// DegradedMode — only a configured backend that fails to answer does.
func (c *CompositeGateway) ProbeCapabilities(ctx context.Context) (CapabilitySnapshot, error) {
	caps := make(map[Capability]bool, 5)

	tabular := c.pg.probe(ctx)
	caps[CapTabularSync] = tabular
	caps[CapHypothesisTracking] = tabular
	caps[CapRehydrationAudit] = tabular
	degraded := !tabular

	if c.semantic != nil {
		ok := c.semantic.probe(ctx)
		caps[CapSemanticSearch] = ok
		if !ok {
			degraded = true
		}
	} else {
		caps[CapSemanticSearch] = false
	}

	if c.graphMirror != nil {
		ok := c.graphMirror.probe(ctx)
		caps[CapGraphMirror] = ok
		if !ok {
			degraded = true
		}
	} else {
		caps[CapGraphMirror] = false
	}

	snap := CapabilitySnapshot{Capabilities: caps, ProbedAt: time.Now().UTC(), DegradedMode: degraded}
	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	if degraded {
		c.log.Warn("persistence gateway running in degraded mode", "capabilities", caps)
	}
	return snap, nil
}

// GetCapabilitiesSnapshot returns the last snapshot recorded by
// ProbeCapabilities, or a zero-value snapshot (everything false) if it has
// never run.
func (c *CompositeGateway) GetCapabilitiesSnapshot() CapabilitySnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

var _ Gateway = (*CompositeGateway)(nil)
