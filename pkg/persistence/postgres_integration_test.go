package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/opus-nx/orchestrator/pkg/graph"
)

// newTestPostgresGateway spins up a real Postgres container and applies the
// embedded migrations, exactly as the teacher's pkg/database/client_test.go
// did for its ent-backed client, minus the ent layer (DESIGN.md).
func newTestPostgresGateway(t *testing.T) *PostgresGateway {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("orchestrator_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	gw, err := NewPostgresGateway(ctx, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })

	return gw
}

func TestPostgresGateway_SyncNodeAndEdgeRoundTrip(t *testing.T) {
	gw := newTestPostgresGateway(t)
	ctx := context.Background()

	node := &graph.Node{
		ID:         "n1",
		SessionID:  "s1",
		Agent:      graph.RoleAnalyst,
		Content:    "initial analysis",
		Kind:       graph.KindAnalysis,
		Confidence: 0.8,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, gw.SyncNode(ctx, node))
	// Upsert is idempotent (R2).
	require.NoError(t, gw.SyncNode(ctx, node))

	other := &graph.Node{ID: "n2", SessionID: "s1", Agent: graph.RoleContrarian, Content: "challenge", CreatedAt: time.Now().UTC()}
	require.NoError(t, gw.SyncNode(ctx, other))

	edge := &graph.Edge{SourceID: "n2", TargetID: "n1", Relation: graph.RelationChallenges, Weight: 0.5, Metadata: map[string]any{"note": "test"}}
	require.NoError(t, gw.SyncEdge(ctx, edge))
	require.NoError(t, gw.SyncEdge(ctx, edge))

	require.NoError(t, gw.BackfillNodeTokens(ctx, []string{"n1"}, 120, 45, string(graph.RoleAnalyst)))
}

func TestPostgresGateway_HypothesisExperimentLifecycle(t *testing.T) {
	gw := newTestPostgresGateway(t)
	ctx := context.Background()

	exp := HypothesisExperiment{
		ID:        "exp-1",
		SessionID: "s1",
		NodeID:    "n1",
		State:     StatePromoted,
		CreatedAt: time.Now().UTC(),
	}
	created, err := gw.CreateHypothesisExperiment(ctx, exp)
	require.NoError(t, err)
	assert.Equal(t, StatePromoted, created.State)

	updated, err := gw.UpdateHypothesisExperiment(ctx, "exp-1", StateRerunning, map[string]any{"trigger": "checkpoint"})
	require.NoError(t, err)
	assert.Equal(t, StateRerunning, updated.State)

	require.NoError(t, gw.CreateHypothesisExperimentAction(ctx, ExperimentAction{
		ID:           "act-1",
		ExperimentID: "exp-1",
		Action:       "promote",
		CreatedAt:    time.Now().UTC(),
	}))

	fetched, err := gw.GetHypothesisExperiment(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, "s1", fetched.SessionID)

	list, err := gw.ListSessionHypothesisExperiments(ctx, "s1", nil, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPostgresGateway_RehydrationRunAndArtifactUse(t *testing.T) {
	gw := newTestPostgresGateway(t)
	ctx := context.Background()

	node := &graph.Node{ID: "n1", SessionID: "s1", Agent: graph.RoleAnalyst, Content: "c", CreatedAt: time.Now().UTC()}
	require.NoError(t, gw.SyncNode(ctx, node))

	run, err := gw.CreateSessionRehydrationRun(ctx, RehydrationRun{
		ID:           "run-1",
		SessionID:    "s1",
		CandidateIDs: []string{"n1"},
		SelectedIDs:  []string{"n1"},
		CreatedAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)

	require.NoError(t, gw.MarkReasoningArtifactUsed(ctx, "n1"))
}

func TestPostgresGateway_Probe(t *testing.T) {
	gw := newTestPostgresGateway(t)
	assert.True(t, gw.probe(context.Background()))
}
