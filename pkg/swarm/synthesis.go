package swarm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/opus-nx/orchestrator/pkg/bus"
	"github.com/opus-nx/orchestrator/pkg/graph"
	"github.com/opus-nx/orchestrator/pkg/runner"
)

// runSynthesis implements Phase 2 (§4.3.4): the synthesizer reads all Phase 1
// results through the graph, writes a synthesis node, and creates merges
// edges from it to the highest-confidence node contributed by each Phase 1
// agent. It returns ("", false) if no Phase 1 node is available to
// synthesize over.
func (c *Coordinator) runSynthesis(ctx context.Context, sessionID string, phase1 []AgentResult) (string, bool) {
	bestByAgent := bestNodePerAgent(c.graph.GetSessionNodes(sessionID))
	if len(bestByAgent) == 0 {
		return "", false
	}

	var sb strings.Builder
	sb.WriteString("Synthesize the following primary analyses:\n")
	for role, n := range bestByAgent {
		fmt.Fprintf(&sb, "- [%s, confidence=%.2f] %s\n", role, n.Confidence, n.Content)
	}

	agentCtx, cancel := context.WithTimeout(ctx, c.cfg.AgentTimeout)
	defer cancel()
	progress, outcomes := c.runner.Run(agentCtx, runner.Invocation{
		SessionID: sessionID,
		Role:      string(graph.RoleSynthesizer),
		Query:     sb.String(),
		Effort:    runner.EffortHigh,
	})
	go drain(progress)

	out := <-outcomes
	if out.Err != nil {
		c.log.Warn("synthesis turn failed", "session_id", sessionID, "error", out.Err)
		return "", false
	}

	convergence, divergence := parseSynthesisConclusion(out.Result.Conclusion)

	nodeID, err := c.graph.AddNode(&graph.Node{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Agent:      graph.RoleSynthesizer,
		Content:    out.Result.Conclusion,
		Kind:       graph.KindSynthesis,
		Confidence: out.Result.Confidence,
	})
	if err != nil {
		c.log.Warn("failed to write synthesis node", "session_id", sessionID, "error", err)
		return "", false
	}

	for role, n := range bestByAgent {
		edge := &graph.Edge{SourceID: nodeID, TargetID: n.ID, Relation: graph.RelationMerges, Weight: n.Confidence}
		if err := c.graph.AddEdge(edge); err != nil {
			c.log.Warn("failed to write merges edge", "session_id", sessionID, "agent", role, "error", err)
		}
	}

	c.bus.Publish(sessionID, bus.NewGraphNodeCreated(sessionID, nodeID, string(graph.RoleSynthesizer), string(graph.KindSynthesis)))
	c.bus.Publish(sessionID, bus.NewSynthesisReady(sessionID, nodeID, convergence, divergence))
	return nodeID, true
}

// bestNodePerAgent picks, for each agent role present among sessionNodes,
// the node with the highest confidence — ties keep whichever was seen first
// (earliest CreatedAt, since GetSessionNodes returns chronological order).
func bestNodePerAgent(sessionNodes []*graph.Node) map[graph.AgentRole]*graph.Node {
	best := make(map[graph.AgentRole]*graph.Node)
	for _, n := range sessionNodes {
		if n.Agent == graph.RoleSynthesizer || n.Agent == graph.RoleMeta || n.Agent == graph.RolePlanner {
			continue
		}
		existing, ok := best[n.Agent]
		if !ok || n.Confidence > existing.Confidence {
			best[n.Agent] = n
		}
	}
	return best
}

// parseSynthesisConclusion tolerantly extracts convergence/divergence lists
// from the synthesizer's conclusion text; a non-JSON conclusion yields two
// empty lists rather than an error, since the free-text conclusion itself is
// still valid synthesis content.
func parseSynthesisConclusion(conclusion string) (convergence, divergence []string) {
	root := gjson.Parse(conclusion)
	for _, v := range root.Get("convergence").Array() {
		convergence = append(convergence, v.String())
	}
	for _, v := range root.Get("divergence").Array() {
		divergence = append(divergence, v.String())
	}
	return convergence, divergence
}
