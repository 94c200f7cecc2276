package bus

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opus-nx/orchestrator/pkg/graph"
)

func TestReaper_SweepCleansUpBusAndGraph(t *testing.T) {
	b := New(nil)
	g := graph.New(nil)

	b.Subscribe("stale-session")
	_, err := g.AddNode(&graph.Node{ID: uuid.NewString(), SessionID: "stale-session", Agent: graph.RoleAnalyst, Content: "x"})
	require.NoError(t, err)

	r := NewReaper(b, g, -1*time.Second, nil)
	r.sweep()

	assert.Empty(t, g.GetSessionNodes("stale-session"))
	assert.Empty(t, b.StaleSessions(0))
}

func TestReaper_SweepToleratesNilGraph(t *testing.T) {
	b := New(nil)
	b.Subscribe("stale-session")

	r := NewReaper(b, nil, -1*time.Second, nil)
	assert.NotPanics(t, func() { r.sweep() })
}
