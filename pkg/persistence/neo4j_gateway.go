package persistence

import (
	"context"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/opus-nx/orchestrator/pkg/graph"
)

// Neo4jGateway mirrors the reasoning graph into Neo4j for cross-session
// graph queries and visualization, exactly the role the original's
// Neo4jPersistence plays: an optional backend the swarm degrades
// gracefully without. Activated only when NEO4J_URI is configured (§6.4).
type Neo4jGateway struct {
	driver neo4j.DriverWithContext
	log    *slog.Logger
}

// NewNeo4jGateway dials uri with basic auth using the given username and
// password; no default credentials are applied.
func NewNeo4jGateway(ctx context.Context, uri, username, password string, log *slog.Logger) (*Neo4jGateway, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Neo4jGateway{driver: driver, log: log.With("component", "persistence_neo4j")}, nil
}

func (g *Neo4jGateway) Close(ctx context.Context) error { return g.driver.Close(ctx) }

// SyncNode persists a reasoning node via MERGE, the same idempotent-upsert
// shape as the original's save_node.
func (g *Neo4jGateway) SyncNode(ctx context.Context, node *graph.Node) error {
	return withRetry(ctx, g.log, "neo4j_sync_node", func() error {
		session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
		defer session.Close(ctx)
		_, err := session.Run(ctx, `
			MERGE (n:ReasoningNode {id: $id})
			SET n.agent = $agent,
			    n.session_id = $session_id,
			    n.content = $content,
			    n.confidence = $confidence,
			    n.created_at = $created_at`,
			map[string]any{
				"id":          node.ID,
				"agent":       string(node.Agent),
				"session_id":  node.SessionID,
				"content":     node.Content,
				"confidence":  node.Confidence,
				"created_at":  node.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			})
		return err
	})
}

// SyncEdge persists a reasoning edge via MERGE, matching save_edge.
func (g *Neo4jGateway) SyncEdge(ctx context.Context, edge *graph.Edge) error {
	return withRetry(ctx, g.log, "neo4j_sync_edge", func() error {
		session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
		defer session.Close(ctx)
		_, err := session.Run(ctx, `
			MATCH (s:ReasoningNode {id: $source_id}), (t:ReasoningNode {id: $target_id})
			MERGE (s)-[r:RELATES_TO {relation: $relation}]->(t)
			SET r.weight = $weight`,
			map[string]any{
				"source_id": edge.SourceID,
				"target_id": edge.TargetID,
				"relation":  string(edge.Relation),
				"weight":    edge.Weight,
			})
		return err
	})
}

func (g *Neo4jGateway) probe(ctx context.Context) bool {
	return g.driver.VerifyConnectivity(ctx) == nil
}
