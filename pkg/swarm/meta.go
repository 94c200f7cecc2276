package swarm

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/opus-nx/orchestrator/pkg/bus"
	"github.com/opus-nx/orchestrator/pkg/graph"
	"github.com/opus-nx/orchestrator/pkg/runner"
)

// requiredInsightCategories is the coverage checklist Phase 3 must satisfy
// before it stops spending follow-up turns (§4.3.5).
var requiredInsightCategories = []string{"bias-detection", "pattern", "improvement-hypothesis"}

// runMetaAnalysis implements Phase 3 (§4.3.5): the meta agent observes the
// full graph and may spend up to MetaFollowUpLimit additional turns closing
// gaps in required insight-category coverage, then checks for groupthink —
// a contrarian that only ever produced support relations, never a
// challenge.
func (c *Coordinator) runMetaAnalysis(ctx context.Context, sessionID string) (nodeIDs []string, groupthink bool) {
	covered := make(map[string]bool)
	attempts := 0

	for attempts <= c.cfg.MetaFollowUpLimit {
		missing := missingCategories(covered)
		if attempts > 0 && len(missing) == 0 {
			break
		}
		attempts++

		nodeID, categories, ok := c.runMetaTurn(ctx, sessionID, missing)
		if !ok {
			break
		}
		nodeIDs = append(nodeIDs, nodeID)
		for _, cat := range categories {
			covered[cat] = true
		}
		if len(missingCategories(covered)) == 0 {
			break
		}
		if attempts > c.cfg.MetaFollowUpLimit {
			break
		}
	}

	groupthink = detectGroupthink(c.graph.GetSessionNodes(sessionID), c.graph.ToJSON().Edges)
	if groupthink {
		c.log.Info("groupthink detected: contrarian produced no challenges", "session_id", sessionID)
		c.bus.Publish(sessionID, bus.NewMetaInsight(sessionID, "groupthink", "contrarian agent produced only support relations across this session"))
	}
	return nodeIDs, groupthink
}

func missingCategories(covered map[string]bool) []string {
	var missing []string
	for _, cat := range requiredInsightCategories {
		if !covered[cat] {
			missing = append(missing, cat)
		}
	}
	return missing
}

// runMetaTurn runs a single meta-agent turn, instructing it to focus on the
// still-missing insight categories, and tolerantly parses which categories
// its conclusion claims to have addressed.
func (c *Coordinator) runMetaTurn(ctx context.Context, sessionID string, missing []string) (string, []string, bool) {
	query := "Observe the full reasoning graph for this session and produce meta-insights."
	if len(missing) > 0 {
		query += " Prioritize these uncovered categories: " + strings.Join(missing, ", ")
	}

	agentCtx, cancel := context.WithTimeout(ctx, c.cfg.AgentTimeout)
	defer cancel()
	progress, outcomes := c.runner.Run(agentCtx, runner.Invocation{
		SessionID: sessionID,
		Role:      string(graph.RoleMeta),
		Query:     query,
		Effort:    runner.EffortHigh,
	})
	go drain(progress)

	out := <-outcomes
	if out.Err != nil {
		c.log.Warn("meta turn failed", "session_id", sessionID, "error", out.Err)
		return "", nil, false
	}

	categories := parseMetaCategories(out.Result.Conclusion)

	nodeID, err := c.graph.AddNode(&graph.Node{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Agent:      graph.RoleMeta,
		Content:    out.Result.Conclusion,
		Kind:       graph.KindMetaInsight,
		Confidence: out.Result.Confidence,
	})
	if err != nil {
		c.log.Warn("failed to write meta-insight node", "session_id", sessionID, "error", err)
		return "", categories, false
	}

	c.bus.Publish(sessionID, bus.NewGraphNodeCreated(sessionID, nodeID, string(graph.RoleMeta), string(graph.KindMetaInsight)))
	for _, cat := range categories {
		c.bus.Publish(sessionID, bus.NewMetaInsight(sessionID, cat, out.Result.Conclusion))
	}
	if len(categories) == 0 {
		c.bus.Publish(sessionID, bus.NewMetaInsight(sessionID, "general", out.Result.Conclusion))
	}
	return nodeID, categories, true
}

func parseMetaCategories(conclusion string) []string {
	root := gjson.Parse(conclusion)
	var categories []string
	for _, v := range root.Get("categories").Array() {
		categories = append(categories, v.String())
	}
	return categories
}

// detectGroupthink reports whether the session had a contrarian node that
// produced outgoing support edges but never an outgoing challenges edge.
func detectGroupthink(nodes []*graph.Node, edges []*graph.Edge) bool {
	contrarianNodeIDs := make(map[string]bool)
	for _, n := range nodes {
		if n.Agent == graph.RoleContrarian {
			contrarianNodeIDs[n.ID] = true
		}
	}
	if len(contrarianNodeIDs) == 0 {
		return false
	}

	sawSupport, sawChallenge := false, false
	for _, e := range edges {
		if !contrarianNodeIDs[e.SourceID] {
			continue
		}
		switch e.Relation {
		case graph.RelationSupports:
			sawSupport = true
		case graph.RelationChallenges:
			sawChallenge = true
		}
	}
	return sawSupport && !sawChallenge
}
