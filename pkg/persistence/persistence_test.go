package persistence

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opus-nx/orchestrator/pkg/graph"
)

func nilSafeLogger() *slog.Logger { return slog.Default() }

// NewCompositeGatewayForTest builds a CompositeGateway directly from the
// narrow backend interfaces, bypassing the concrete-type constructor so
// tests can inject fakes for the tabular/semantic/graph-mirror seams.
func NewCompositeGatewayForTest(tab tabularBackend, semantic semanticBackend, mirror graphMirrorBackend) *CompositeGateway {
	c := &CompositeGateway{pg: tab, log: nilSafeLogger().With("component", "persistence_composite_test")}
	if semantic != nil {
		c.semantic = semantic
	}
	if mirror != nil {
		c.graphMirror = mirror
	}
	return c
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	backoffDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	err := withRetry(context.Background(), nil, "test_op", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_PermanentFailsFast(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), nil, "test_op", func() error {
		attempts++
		return Permanent(errors.New("bad input"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_ExhaustsScheduleAndReturnsLastError(t *testing.T) {
	backoffDelays = []time.Duration{time.Millisecond}
	attempts := 0
	err := withRetry(context.Background(), nil, "test_op", func() error {
		attempts++
		return errors.New("still failing")
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}

// fakeTabular/fakeSemantic/fakeGraphMirror are minimal stand-ins for the
// narrow backend seams CompositeGateway depends on.
type fakeTabular struct {
	tabularBackend
	healthy   bool
	syncCalls int
}

func (f *fakeTabular) SyncNode(ctx context.Context, node *graph.Node) error {
	f.syncCalls++
	return nil
}
func (f *fakeTabular) probe(ctx context.Context) bool { return f.healthy }

type fakeGraphMirror struct {
	graphMirrorBackend
	healthy   bool
	failSync  bool
	syncCalls int
}

func (f *fakeGraphMirror) SyncNode(ctx context.Context, node *graph.Node) error {
	f.syncCalls++
	if f.failSync {
		return errors.New("mirror down")
	}
	return nil
}
func (f *fakeGraphMirror) probe(ctx context.Context) bool { return f.healthy }

func TestCompositeGateway_SyncNodeMirrorFailureDoesNotPropagate(t *testing.T) {
	tab := &fakeTabular{healthy: true}
	mirror := &fakeGraphMirror{healthy: false, failSync: true}
	c := &CompositeGateway{pg: tab, graphMirror: mirror, log: nil}
	c.log = nilSafeLogger()

	err := c.SyncNode(context.Background(), &graph.Node{ID: "n1"})
	require.NoError(t, err)
	assert.Equal(t, 1, tab.syncCalls)
	assert.Equal(t, 1, mirror.syncCalls)
}

func TestCompositeGateway_ProbeCapabilities_DegradedWhenTabularDown(t *testing.T) {
	tab := &fakeTabular{healthy: false}
	c := NewCompositeGatewayForTest(tab, nil, nil)

	snap, err := c.ProbeCapabilities(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.DegradedMode)
	assert.False(t, snap.Capabilities[CapTabularSync])
}

func TestCompositeGateway_ProbeCapabilities_UnconfiguredOptionalIsNotDegraded(t *testing.T) {
	tab := &fakeTabular{healthy: true}
	c := NewCompositeGatewayForTest(tab, nil, nil)

	snap, err := c.ProbeCapabilities(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.DegradedMode)
	assert.False(t, snap.Capabilities[CapGraphMirror])
}

func TestCompositeGateway_ProbeCapabilities_ConfiguredButDownIsDegraded(t *testing.T) {
	tab := &fakeTabular{healthy: true}
	mirror := &fakeGraphMirror{healthy: false}
	c := NewCompositeGatewayForTest(tab, nil, mirror)

	snap, err := c.ProbeCapabilities(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.DegradedMode)
}

func TestCompositeGateway_SemanticSearchAbsentReturnsCapabilityError(t *testing.T) {
	tab := &fakeTabular{healthy: true}
	c := NewCompositeGatewayForTest(tab, nil, nil)

	_, err := c.GenerateReasoningEmbedding(context.Background(), "some text")
	require.Error(t, err)
}
