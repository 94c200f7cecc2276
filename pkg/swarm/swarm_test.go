package swarm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opus-nx/orchestrator/pkg/bus"
	"github.com/opus-nx/orchestrator/pkg/graph"
	"github.com/opus-nx/orchestrator/pkg/persistence"
	"github.com/opus-nx/orchestrator/pkg/rehydrate"
	"github.com/opus-nx/orchestrator/pkg/runner"
)

// fakeRunner dispatches by Invocation.Role to per-role behavior functions,
// so a single fake stands in for the whole roster of agents a swarm pass
// invokes.
type fakeRunner struct {
	behaviors map[string]func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome
}

func (f *fakeRunner) Run(ctx context.Context, inv runner.Invocation) (<-chan runner.ProgressEvent, <-chan runner.TurnOutcome) {
	progress := make(chan runner.ProgressEvent)
	outcomes := make(chan runner.TurnOutcome, 1)
	close(progress)

	behavior, ok := f.behaviors[inv.Role]
	if !ok {
		outcomes <- runner.TurnOutcome{Result: &runner.TurnResult{Conclusion: "{}", Confidence: 0.5}}
		close(outcomes)
		return progress, outcomes
	}

	go func() {
		outcomes <- behavior(ctx, inv)
		close(outcomes)
	}()
	return progress, outcomes
}

func completedOutcome(conclusion string, confidence float64) runner.TurnOutcome {
	return runner.TurnOutcome{Result: &runner.TurnResult{Conclusion: conclusion, Confidence: confidence, TokensUsed: 100}}
}

// fakeGateway reports no semantic-search capability, so rehydrate.Service
// short-circuits to a pass-through query — these tests exercise the swarm
// coordinator, not the rehydration scoring pipeline.
type fakeGateway struct {
	persistence.Gateway
}

func (f *fakeGateway) GetCapabilitiesSnapshot() persistence.CapabilitySnapshot {
	return persistence.CapabilitySnapshot{}
}

func newTestCoordinator(behaviors map[string]func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome) (*Coordinator, *graph.Graph, *bus.Bus) {
	g := graph.New(nil)
	b := bus.New(nil)
	rh := rehydrate.New(&fakeGateway{}, nil)
	r := &fakeRunner{behaviors: behaviors}
	cfg := DefaultConfig()
	cfg.StaggerSeconds = 0.01
	cfg.AgentTimeout = 2 * time.Second
	cfg.PlannerTimeout = 2 * time.Second
	c := New(g, b, &fakeGateway{}, rh, r, cfg, nil)
	return c, g, b
}

func TestClassifyComplexity(t *testing.T) {
	assert.Equal(t, ComplexitySimple, ClassifyComplexity("hello there"))
	assert.Equal(t, ComplexityComplex, ClassifyComplexity("please debug this crash"))
	assert.Equal(t, ComplexityStandard, ClassifyComplexity("what should I have for lunch tomorrow"))
}

func TestCoordinator_Run_PartialAgentFailureDoesNotAffectSiblings(t *testing.T) {
	behaviors := map[string]func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome{
		string(graph.RolePlanner): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			return completedOutcome(`{"agents":[{"name":"analyst","effort":"high"},{"name":"contrarian","effort":"high"}],"subtasks":["a","b"],"reasoning":"test"}`, 0.9)
		},
		string(graph.RoleAnalyst): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			return completedOutcome("the analyst's conclusion", 0.8)
		},
		string(graph.RoleContrarian): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			<-ctx.Done()
			return runner.TurnOutcome{Err: ctx.Err()}
		},
		string(graph.RoleSynthesizer): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			return completedOutcome(`{"convergence":["both agree on x"],"divergence":[]}`, 0.85)
		},
		string(graph.RoleMeta): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			return completedOutcome(`{"categories":["bias-detection","pattern","improvement-hypothesis"]}`, 0.7)
		},
	}

	c, _, _ := newTestCoordinator(behaviors)
	c.cfg.AgentTimeout = 50 * time.Millisecond

	result, err := c.Run(context.Background(), "sess-1", "please debug this failing test")
	require.NoError(t, err)
	require.Len(t, result.Agents, 2)

	byAgent := map[string]AgentResult{}
	for _, a := range result.Agents {
		byAgent[a.Agent] = a
	}
	assert.Equal(t, "completed", byAgent[string(graph.RoleAnalyst)].Status)
	assert.Equal(t, "timeout", byAgent[string(graph.RoleContrarian)].Status)
	assert.NotEmpty(t, result.SynthesisNodeID)
}

func TestCoordinator_Run_WritesSynthesisAndMetaNodes(t *testing.T) {
	behaviors := map[string]func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome{
		string(graph.RolePlanner): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			return completedOutcome(`{"agents":[{"name":"analyst","effort":"high"}],"subtasks":["a"],"reasoning":"test"}`, 0.9)
		},
		string(graph.RoleAnalyst): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			return completedOutcome("conclusion text", 0.75)
		},
		string(graph.RoleSynthesizer): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			return completedOutcome(`{"convergence":[],"divergence":[]}`, 0.6)
		},
		string(graph.RoleMeta): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			return completedOutcome(`{"categories":["bias-detection","pattern","improvement-hypothesis"]}`, 0.6)
		},
	}

	c, g, _ := newTestCoordinator(behaviors)

	result, err := c.Run(context.Background(), "sess-2", "what is the capital of a made up country")
	require.NoError(t, err)
	require.NotEmpty(t, result.SynthesisNodeID)
	require.Len(t, result.MetaNodeIDs, 1)

	synthNode := g.GetNode(result.SynthesisNodeID)
	require.NotNil(t, synthNode)
	assert.Equal(t, graph.KindSynthesis, synthNode.Kind)
}

func TestCoordinator_PlannerTimeout_FallsBackToRegexClassifier(t *testing.T) {
	behaviors := map[string]func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome{
		string(graph.RolePlanner): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			<-ctx.Done()
			return runner.TurnOutcome{Err: ctx.Err()}
		},
		string(graph.RoleAnalyst): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			return completedOutcome("analyst conclusion", 0.7)
		},
		string(graph.RoleContrarian): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			return completedOutcome("contrarian conclusion", 0.6)
		},
		string(graph.RoleVerifier): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			return completedOutcome("verifier conclusion", 0.8)
		},
		string(graph.RoleSynthesizer): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			return completedOutcome(`{}`, 0.6)
		},
		string(graph.RoleMeta): func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			return completedOutcome(`{"categories":["bias-detection","pattern","improvement-hypothesis"]}`, 0.6)
		},
	}

	c, _, _ := newTestCoordinator(behaviors)
	c.cfg.PlannerTimeout = 20 * time.Millisecond

	result, err := c.Run(context.Background(), "sess-3", "please compare and contrast these two options")
	require.NoError(t, err)
	assert.Len(t, result.Agents, 3) // fallback plan deploys the full roster
}

func TestDetectGroupthink(t *testing.T) {
	nodes := []*graph.Node{
		{ID: "n1", Agent: graph.RoleContrarian},
	}
	edgesNoChallenge := []*graph.Edge{
		{SourceID: "n1", TargetID: "n2", Relation: graph.RelationSupports},
	}
	assert.True(t, detectGroupthink(nodes, edgesNoChallenge))

	edgesWithChallenge := []*graph.Edge{
		{SourceID: "n1", TargetID: "n2", Relation: graph.RelationSupports},
		{SourceID: "n1", TargetID: "n3", Relation: graph.RelationChallenges},
	}
	assert.False(t, detectGroupthink(nodes, edgesWithChallenge))
}

func TestParsePlannerConclusion_FallsBackOnMalformedJSON(t *testing.T) {
	_, ok := parsePlannerConclusion("not json at all")
	assert.False(t, ok)
}

func TestFakeRunner_ReturnsErrorOutcomeWhenBehaviorErrors(t *testing.T) {
	r := &fakeRunner{behaviors: map[string]func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome{
		"x": func(ctx context.Context, inv runner.Invocation) runner.TurnOutcome {
			return runner.TurnOutcome{Err: errors.New("boom")}
		},
	}}
	_, outcomes := r.Run(context.Background(), runner.Invocation{Role: "x"})
	out := <-outcomes
	require.Error(t, out.Err)
}
