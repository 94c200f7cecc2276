// Package swarm implements the Swarm Coordinator (SPEC_FULL.md §2, C2): the
// component that runs one query through the full agent pipeline — planning,
// staggered parallel primary analysis, synthesis, and meta-analysis — while
// mirroring every mutation onto the shared reasoning graph and the session
// event bus.
//
// The phase structure and staggered-gather mechanics are ported from
// original_source/agents/src/swarm.py's SwarmManager; the goroutine-plus-
// indexed-channel gather idiom and the per-agent context.WithTimeout wrapper
// follow pkg/queue/executor.go and pkg/agent/orchestrator/runner.go
// respectively, since the Go concurrency primitives replace asyncio.gather
// and asyncio.wait_for one-for-one.
package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/opus-nx/orchestrator/pkg/bus"
	"github.com/opus-nx/orchestrator/pkg/graph"
	"github.com/opus-nx/orchestrator/pkg/persistence"
	"github.com/opus-nx/orchestrator/pkg/rehydrate"
	"github.com/opus-nx/orchestrator/pkg/runner"
)

// Config tunes coordinator pacing and limits.
type Config struct {
	StaggerSeconds       float64
	AgentTimeout         time.Duration
	PlannerTimeout       time.Duration
	TreatmentInstruction string
	MetaFollowUpLimit    int
}

// DefaultConfig returns the pacing SPEC_FULL.md §4.3 specifies.
func DefaultConfig() Config {
	return Config{
		StaggerSeconds:       2.5,
		AgentTimeout:         120 * time.Second,
		PlannerTimeout:       plannerTimeout,
		TreatmentInstruction: "Incorporate the prior context above where relevant, but answer the question as asked.",
		MetaFollowUpLimit:    3,
	}
}

// Coordinator runs swarm passes against one reasoning graph, one event bus,
// one persistence gateway, and one agent runner.
type Coordinator struct {
	graph      *graph.Graph
	bus        *bus.Bus
	gateway    persistence.Gateway
	rehydrator *rehydrate.Service
	runner     runner.Runner
	cfg        Config
	log        *slog.Logger

	// limiter paces the re-run-with-correction path (§4.4.3), which a human
	// checkpoint can trigger repeatedly in quick succession.
	limiter *rate.Limiter
}

// New builds a Coordinator. runner dispatches by Invocation.Role rather than
// the caller supplying one runner.Runner per agent role, since every role
// shares the same transport and only differs in prompt/effort.
func New(g *graph.Graph, b *bus.Bus, gateway persistence.Gateway, rehydrator *rehydrate.Service, r runner.Runner, cfg Config, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		graph:      g,
		bus:        b,
		gateway:    gateway,
		rehydrator: rehydrator,
		runner:     r,
		cfg:        cfg,
		log:        log.With("component", "swarm_coordinator"),
		limiter:    rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

// Run executes one full swarm pass for a query (§4.3): rehydration,
// planning, staggered Phase 1 analysis, Phase 2 synthesis, Phase 3
// meta-analysis.
func (c *Coordinator) Run(ctx context.Context, sessionID, query string) (SwarmResult, error) {
	sel, err := c.rehydrator.Rehydrate(ctx, sessionID, query, c.cfg.TreatmentInstruction)
	if err != nil {
		return SwarmResult{}, fmt.Errorf("rehydration: %w", err)
	}

	// plan also applies its own plannerTimeout cap, so cfg.PlannerTimeout
	// can only shorten the planner deadline.
	planCtx, cancelPlan := ctx, context.CancelFunc(func() {})
	if c.cfg.PlannerTimeout > 0 {
		planCtx, cancelPlan = context.WithTimeout(ctx, c.cfg.PlannerTimeout)
	}
	p := plan(planCtx, c.runner, sessionID, sel.AugmentedQuery, c.log)
	cancelPlan()
	c.bus.Publish(sessionID, bus.NewMaestroDecomposition(sessionID, p.Subtasks, p.Rationale))

	agentNames := make([]string, 0, len(p.SelectedAgents))
	for _, role := range p.SelectedAgents {
		agentNames = append(agentNames, string(role))
	}
	c.bus.Publish(sessionID, bus.NewSwarmStarted(sessionID, agentNames, query))

	start := time.Now()
	phase1 := c.runPhase1(ctx, sessionID, sel.AugmentedQuery, p)

	result := SwarmResult{
		SessionID:      sessionID,
		Query:          query,
		AugmentedQuery: sel.AugmentedQuery,
		Complexity:     p.Complexity,
		Agents:         phase1,
	}
	for _, a := range phase1 {
		result.TotalTokens += a.TokensUsed
	}

	if synthNodeID, ok := c.runSynthesis(ctx, sessionID, phase1); ok {
		result.SynthesisNodeID = synthNodeID
	}

	metaNodeIDs, groupthink := c.runMetaAnalysis(ctx, sessionID)
	result.MetaNodeIDs = metaNodeIDs
	result.GroupthinkFlag = groupthink

	result.TotalDurationMS = time.Since(start).Milliseconds()
	return result, nil
}

// runPhase1 launches every planned primary agent with a stagger delay of
// i*StaggerSeconds (so the first agent starts immediately), each under its
// own AgentTimeout, and gathers results indexed by launch order — I4: one
// agent's timeout or error cancels only that agent's context, never its
// siblings'.
func (c *Coordinator) runPhase1(ctx context.Context, sessionID, query string, p PlannerOutput) []AgentResult {
	type indexed struct {
		index  int
		result AgentResult
	}

	results := make(chan indexed, len(p.SelectedAgents))
	var wg sync.WaitGroup

	for i, role := range p.SelectedAgents {
		wg.Add(1)
		go func(idx int, role graph.AgentRole) {
			defer wg.Done()
			delay := time.Duration(float64(idx) * c.cfg.StaggerSeconds * float64(time.Second))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				results <- indexed{index: idx, result: AgentResult{Agent: string(role), Status: "error", Err: ctx.Err()}}
				return
			}
			effort := p.Efforts[role]
			res := c.runAgent(ctx, sessionID, role, query, effort)
			results <- indexed{index: idx, result: res}
		}(i, role)
	}

	wg.Wait()
	close(results)

	var indexedResults []indexed
	for r := range results {
		indexedResults = append(indexedResults, r)
	}
	sort.Slice(indexedResults, func(i, j int) bool { return indexedResults[i].index < indexedResults[j].index })

	out := make([]AgentResult, len(indexedResults))
	for i, r := range indexedResults {
		out[i] = r.result
	}
	return out
}

// runAgent wraps one agent turn with its own deadline and classifies the
// outcome into completed/timeout/error (mirroring _run_with_timeout's
// three-way classification), writing a graph node on success and publishing
// the started/completed bus events around it.
func (c *Coordinator) runAgent(ctx context.Context, sessionID string, role graph.AgentRole, query string, effort runner.Effort) AgentResult {
	agentCtx, cancel := context.WithTimeout(ctx, c.cfg.AgentTimeout)
	defer cancel()

	start := time.Now()
	c.bus.Publish(sessionID, bus.NewAgentStarted(sessionID, string(role), string(effort)))

	progress, outcomes := c.runner.Run(agentCtx, runner.Invocation{
		SessionID: sessionID,
		Role:      string(role),
		Query:     query,
		Effort:    effort,
	})

	go func() {
		for ev := range progress {
			if ev.Kind == "thinking" {
				c.bus.Publish(sessionID, bus.NewAgentThinking(sessionID, string(role), ev.Content))
			}
		}
	}()

	out := <-outcomes
	durationMS := time.Since(start).Milliseconds()

	if out.Err != nil {
		status := "error"
		if agentCtx.Err() == context.DeadlineExceeded {
			status = "timeout"
		}
		c.log.Warn("agent turn did not complete", "session_id", sessionID, "agent", role, "status", status, "error", out.Err)
		c.bus.Publish(sessionID, bus.NewAgentCompleted(sessionID, string(role), status, 0, 0, durationMS))
		return AgentResult{Agent: string(role), Status: status, DurationMS: durationMS, Err: out.Err}
	}

	nodeID, err := c.graph.AddNode(&graph.Node{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Agent:      role,
		Content:    out.Result.Conclusion,
		Kind:       nodeKindForRole(role),
		Confidence: out.Result.Confidence,
	})
	if err != nil {
		c.log.Warn("failed to write agent node", "session_id", sessionID, "agent", role, "error", err)
	} else {
		c.bus.Publish(sessionID, bus.NewGraphNodeCreated(sessionID, nodeID, string(role), string(nodeKindForRole(role))))
	}

	nodeIDs := out.Result.NodeIDs
	if nodeID != "" {
		nodeIDs = append(nodeIDs, nodeID)
	}

	c.bus.Publish(sessionID, bus.NewAgentCompleted(sessionID, string(role), "completed", out.Result.Confidence, out.Result.TokensUsed, durationMS))

	return AgentResult{
		Agent:      string(role),
		Status:     "completed",
		Reasoning:  out.Result.Reasoning,
		Conclusion: out.Result.Conclusion,
		Confidence: out.Result.Confidence,
		TokensUsed: out.Result.TokensUsed,
		DurationMS: durationMS,
		NodeIDs:    nodeIDs,
	}
}

func nodeKindForRole(role graph.AgentRole) graph.NodeKind {
	switch role {
	case graph.RoleAnalyst:
		return graph.KindAnalysis
	case graph.RoleContrarian:
		return graph.KindChallenge
	case graph.RoleVerifier:
		return graph.KindVerification
	case graph.RoleSynthesizer:
		return graph.KindSynthesis
	case graph.RoleMeta:
		return graph.KindMetaInsight
	default:
		return graph.KindAnalysis
	}
}
