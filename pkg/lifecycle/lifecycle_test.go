package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opus-nx/orchestrator/pkg/bus"
	"github.com/opus-nx/orchestrator/pkg/persistence"
)

// fakeGateway embeds persistence.Gateway (nil) so only the mirror methods
// the service calls need overriding.
type fakeGateway struct {
	persistence.Gateway
	mu      sync.Mutex
	created []persistence.HypothesisExperiment
	updates []persistence.ExperimentState
	actions []string
}

func (f *fakeGateway) CreateHypothesisExperiment(ctx context.Context, exp persistence.HypothesisExperiment) (persistence.HypothesisExperiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, exp)
	return exp, nil
}

func (f *fakeGateway) UpdateHypothesisExperiment(ctx context.Context, id string, state persistence.ExperimentState, fields map[string]any) (persistence.HypothesisExperiment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, state)
	return persistence.HypothesisExperiment{ID: id, State: state}, nil
}

func (f *fakeGateway) CreateHypothesisExperimentAction(ctx context.Context, action persistence.ExperimentAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action.Action)
	return nil
}

type fakeRerunner struct {
	summary RerunSummary
	err     error
	calls   int
	mu      sync.Mutex
}

func (f *fakeRerunner) Rerun(ctx context.Context, sessionID, targetNodeID, correction, experimentID string) (RerunSummary, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.summary, f.err
}

func newTestService(rerunner Rerunner) (*Service, *fakeGateway) {
	gw := &fakeGateway{}
	svc := New(gw, bus.New(nil), rerunner, nil)
	return svc, gw
}

func TestCreateExperiment_StartsPromoted(t *testing.T) {
	svc, gw := newTestService(nil)
	exp, err := svc.CreateExperiment(context.Background(), "s1", "node-1", "it's actually X")
	require.NoError(t, err)
	assert.Equal(t, persistence.StatePromoted, exp.State)
	assert.Len(t, gw.created, 1)
}

func TestStateMachine_HappyPathToRetained(t *testing.T) {
	rerunner := &fakeRerunner{summary: RerunSummary{Agents: 2, TotalTokens: 500, DurationMS: 1000}}
	svc, _ := newTestService(rerunner)

	exp, err := svc.CreateExperiment(context.Background(), "s1", "node-1", "correction")
	require.NoError(t, err)

	require.NoError(t, svc.RecordCheckpointAction(context.Background(), exp.ID, "disagree", "correction"))
	got, _ := svc.GetExperiment(exp.ID)
	assert.Equal(t, persistence.StateCheckpointed, got.State)

	require.NoError(t, svc.TriggerRerun(context.Background(), exp.ID))
	got, _ = svc.GetExperiment(exp.ID)
	assert.Equal(t, persistence.StateRerunning, got.State)

	require.Eventually(t, func() bool {
		got, _ := svc.GetExperiment(exp.ID)
		return got.State == persistence.StateComparing
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Retain(context.Background(), exp.ID, "retain"))
	got, _ = svc.GetExperiment(exp.ID)
	assert.Equal(t, persistence.StateRetained, got.State)

	m := svc.Metrics()
	assert.Equal(t, 1, m.Retained)
}

func TestStateMachine_DisallowedTransitionIsNoOp(t *testing.T) {
	svc, _ := newTestService(nil)
	exp, err := svc.CreateExperiment(context.Background(), "s1", "node-1", "correction")
	require.NoError(t, err)

	// promoted -> retain is not in the transition table.
	err = svc.Retain(context.Background(), exp.ID, "retain")
	require.Error(t, err)

	got, _ := svc.GetExperiment(exp.ID)
	assert.Equal(t, persistence.StatePromoted, got.State)
}

func TestStateMachine_TerminalOnlyAcceptsArchive(t *testing.T) {
	current, ok := nextState(persistence.StateRetained, EventArchive)
	assert.True(t, ok)
	assert.Equal(t, persistence.StateArchived, current)

	_, ok = nextState(persistence.StateRetained, EventRetain)
	assert.False(t, ok)
}

func TestCompare_FastPathWhenComparisonAlreadyExists(t *testing.T) {
	svc, _ := newTestService(&fakeRerunner{})
	exp, _ := svc.CreateExperiment(context.Background(), "s1", "node-1", "correction")

	svc.mu.Lock()
	svc.experiments[exp.ID].Comparison = &ComparisonResult{AgentCount: 1}
	svc.mu.Unlock()

	result, err := svc.Compare(context.Background(), exp.ID, false)
	require.NoError(t, err)
	assert.Equal(t, CompareFastPath, result)
}

func TestCompare_InFlightGuardPreventsDuplicateWork(t *testing.T) {
	blockCh := make(chan struct{})
	rerunner := &blockingRerunner{block: blockCh}
	svc, _ := newTestService(rerunner)
	exp, _ := svc.CreateExperiment(context.Background(), "s1", "node-1", "correction")

	first, err := svc.Compare(context.Background(), exp.ID, true)
	require.NoError(t, err)
	assert.Equal(t, CompareSpawned, first)

	require.Eventually(t, func() bool { return rerunner.started() }, time.Second, 5*time.Millisecond)

	second, err := svc.Compare(context.Background(), exp.ID, true)
	require.NoError(t, err)
	assert.Equal(t, CompareAlreadyRunning, second)

	close(blockCh)

	m := svc.Metrics()
	assert.Equal(t, 2, m.CompareRequests)
}

type blockingRerunner struct {
	block     chan struct{}
	mu        sync.Mutex
	startedAt bool
}

func (b *blockingRerunner) Rerun(ctx context.Context, sessionID, targetNodeID, correction, experimentID string) (RerunSummary, error) {
	b.mu.Lock()
	b.startedAt = true
	b.mu.Unlock()
	<-b.block
	return RerunSummary{}, nil
}

func (b *blockingRerunner) started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startedAt
}
