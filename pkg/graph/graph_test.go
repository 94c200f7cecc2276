package graph

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opus-nx/orchestrator/pkg/orcherr"
)

func newNode(sessionID string, agent AgentRole) *Node {
	return &Node{ID: uuid.New().String(), SessionID: sessionID, Agent: agent, Content: "content", Confidence: 0.5}
}

func TestAddEdge_RejectsCycle(t *testing.T) {
	g := New(nil)
	a, b := newNode("s1", RoleAnalyst), newNode("s1", RoleContrarian)
	_, err := g.AddNode(a)
	require.NoError(t, err)
	_, err = g.AddNode(b)
	require.NoError(t, err)

	require.NoError(t, g.AddEdge(&Edge{SourceID: a.ID, TargetID: b.ID, Relation: RelationLeadsTo, Weight: 1}))

	err = g.AddEdge(&Edge{SourceID: b.ID, TargetID: a.ID, Relation: RelationLeadsTo, Weight: 1})
	require.ErrorIs(t, err, orcherr.ErrCycleDetected)

	exported := g.ToJSON()
	assert.Len(t, exported.Edges, 1, "graph must still have exactly one edge after the rejected cycle")
}

func TestAddEdge_EmptyGraphSucceeds(t *testing.T) {
	// B5: a cycle attempt on an empty graph (no existing path) succeeds.
	g := New(nil)
	err := g.AddEdge(&Edge{SourceID: "does-not-exist-a", TargetID: "does-not-exist-b", Relation: RelationLeadsTo})
	require.NoError(t, err)
}

func TestSessionIsolation(t *testing.T) {
	// I2: no node with session-id = A is returned by get-session-nodes(B).
	g := New(nil)
	a := newNode("session-a", RoleAnalyst)
	b := newNode("session-b", RoleAnalyst)
	_, _ = g.AddNode(a)
	_, _ = g.AddNode(b)

	nodesA := g.GetSessionNodes("session-a")
	require.Len(t, nodesA, 1)
	assert.Equal(t, a.ID, nodesA[0].ID)

	nodesB := g.GetSessionNodes("session-b")
	require.Len(t, nodesB, 1)
	assert.Equal(t, b.ID, nodesB[0].ID)
}

func TestGetChallengesFor(t *testing.T) {
	g := New(nil)
	target := newNode("s1", RoleAnalyst)
	challenger := newNode("s1", RoleContrarian)
	_, _ = g.AddNode(target)
	_, _ = g.AddNode(challenger)
	require.NoError(t, g.AddEdge(&Edge{SourceID: challenger.ID, TargetID: target.ID, Relation: RelationChallenges, Weight: 0.8}))
	require.NoError(t, g.AddEdge(&Edge{SourceID: challenger.ID, TargetID: target.ID, Relation: RelationVerifies, Weight: 0.2}))

	challenges := g.GetChallengesFor(target.ID)
	require.Len(t, challenges, 1)
	assert.Equal(t, challenger.ID, challenges[0].SourceNode.ID)

	verifications := g.GetVerificationsFor(target.ID)
	require.Len(t, verifications, 1)
}

func TestSnapshotRoundTrip(t *testing.T) {
	// R1: to-snapshot -> load-snapshot into an empty graph preserves counts and attributes.
	src := New(nil)
	a := newNode("s1", RoleAnalyst)
	b := newNode("s1", RoleSynthesizer)
	_, _ = src.AddNode(a)
	_, _ = src.AddNode(b)
	require.NoError(t, src.AddEdge(&Edge{SourceID: a.ID, TargetID: b.ID, Relation: RelationMerges, Weight: 1}))

	snap := src.ToSnapshot("s1")
	require.Len(t, snap.Nodes, 2)
	require.Len(t, snap.Edges, 1)

	dst := New(nil)
	loaded := dst.LoadSnapshot(snap)
	assert.Equal(t, 2, loaded)
	assert.Len(t, dst.GetSessionNodes("s1"), 2)
	assert.Equal(t, b.ID, dst.GetNode(b.ID).ID)
}

func TestCleanupSessionRemovesNodesAndEdges(t *testing.T) {
	g := New(nil)
	a := newNode("s1", RoleAnalyst)
	b := newNode("s1", RoleVerifier)
	keep := newNode("s2", RoleAnalyst)
	_, _ = g.AddNode(a)
	_, _ = g.AddNode(b)
	_, _ = g.AddNode(keep)
	require.NoError(t, g.AddEdge(&Edge{SourceID: a.ID, TargetID: b.ID, Relation: RelationLeadsTo}))

	removed := g.CleanupSession("s1")
	assert.Equal(t, 2, removed)
	assert.Nil(t, g.GetNode(a.ID))
	assert.Nil(t, g.GetNode(b.ID))
	assert.NotNil(t, g.GetNode(keep.ID))
	assert.Len(t, g.ToJSON().Edges, 0)
}

func TestListenerErrorDoesNotPropagate(t *testing.T) {
	g := New(nil)
	var called int
	g.OnChange(func(eventType string, data any) error {
		called++
		return fmt.Errorf("boom")
	})
	g.OnChange(func(eventType string, data any) error {
		panic("listener panic")
	})

	n := newNode("s1", RoleAnalyst)
	_, err := g.AddNode(n)
	require.NoError(t, err, "a failing/panicking listener must not fail the mutation")
	assert.Equal(t, 1, called)
}

func TestConcurrentMutationIsRace_Free(t *testing.T) {
	g := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = g.AddNode(newNode("s1", RoleAnalyst))
		}(i)
	}
	wg.Wait()
	assert.Len(t, g.GetSessionNodes("s1"), 50)
}
