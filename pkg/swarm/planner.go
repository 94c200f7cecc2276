package swarm

import (
	"context"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"github.com/opus-nx/orchestrator/pkg/graph"
	"github.com/opus-nx/orchestrator/pkg/runner"
)

// plannerTimeout bounds the planner turn (§4.3.2): it must stay fast enough
// not to bottleneck the pipeline, mirroring the original Maestro agent's
// "high effort, not max" stance.
const plannerTimeout = 15 * time.Second

// PlannerOutput is the parsed deployment plan a planner turn produces, or
// the synthesized fallback plan built from the regex complexity classifier
// when the planner times out or returns something unparseable.
type PlannerOutput struct {
	SelectedAgents []graph.AgentRole
	Efforts        map[graph.AgentRole]runner.Effort
	Subtasks       []string
	Rationale      string
	Complexity     Complexity
	FellBack       bool
}

// allPrimaryAgents is the full roster a planner may deploy, in the order the
// fallback path always uses.
var allPrimaryAgents = []graph.AgentRole{graph.RoleAnalyst, graph.RoleContrarian, graph.RoleVerifier}

// plan invokes the planner role, tolerantly parses its JSON conclusion, and
// falls back to the regex classifier (§4.3.2) on timeout or parse failure —
// the classifier never returns an error, so the pipeline always has a plan.
func plan(ctx context.Context, r runner.Runner, sessionID, query string, log *slog.Logger) PlannerOutput {
	plannerCtx, cancel := context.WithTimeout(ctx, plannerTimeout)
	defer cancel()

	progress, outcomes := r.Run(plannerCtx, runner.Invocation{
		SessionID: sessionID,
		Role:      string(graph.RolePlanner),
		Query:     query,
		Effort:    runner.EffortHigh,
	})
	go drain(progress)

	select {
	case out := <-outcomes:
		if out.Err != nil {
			log.Warn("planner turn failed, falling back to regex classifier", "session_id", sessionID, "error", out.Err)
			return fallbackPlan(query)
		}
		parsed, ok := parsePlannerConclusion(out.Result.Conclusion)
		if !ok {
			log.Warn("planner returned unparseable plan, falling back to regex classifier", "session_id", sessionID)
			return fallbackPlan(query)
		}
		return parsed
	case <-plannerCtx.Done():
		log.Warn("planner turn timed out, falling back to regex classifier", "session_id", sessionID)
		return fallbackPlan(query)
	}
}

func drain(progress <-chan runner.ProgressEvent) {
	for range progress {
	}
}

// parsePlannerConclusion tolerantly extracts a plan from the JSON blob the
// planner's conclusion should contain, matching the {agents:[{name,effort}],
// subtasks, reasoning} shape the original Maestro agent assembles from its
// three tool calls. Missing or malformed fields fail the whole parse so the
// caller falls back rather than runs with a partial plan.
func parsePlannerConclusion(conclusion string) (PlannerOutput, bool) {
	root := gjson.Parse(conclusion)
	agentsField := root.Get("agents")
	if !agentsField.IsArray() || len(agentsField.Array()) == 0 {
		return PlannerOutput{}, false
	}

	var selected []graph.AgentRole
	efforts := make(map[graph.AgentRole]runner.Effort)
	for _, a := range agentsField.Array() {
		name := a.Get("name").String()
		role, ok := roleForPlannerName(name)
		if !ok {
			continue
		}
		effort := runner.Effort(a.Get("effort").String())
		if !validEffort(effort) {
			effort = runner.EffortHigh
		}
		selected = append(selected, role)
		efforts[role] = effort
	}
	if len(selected) == 0 {
		return PlannerOutput{}, false
	}

	var subtasks []string
	for _, s := range root.Get("subtasks").Array() {
		subtasks = append(subtasks, s.String())
	}

	return PlannerOutput{
		SelectedAgents: selected,
		Efforts:        efforts,
		Subtasks:       subtasks,
		Rationale:      root.Get("reasoning").String(),
		Complexity:     ComplexityStandard,
	}, true
}

func roleForPlannerName(name string) (graph.AgentRole, bool) {
	switch name {
	case "deep_thinker", "analyst":
		return graph.RoleAnalyst, true
	case "contrarian":
		return graph.RoleContrarian, true
	case "verifier":
		return graph.RoleVerifier, true
	default:
		return "", false
	}
}

func validEffort(e runner.Effort) bool {
	switch e {
	case runner.EffortLow, runner.EffortMedium, runner.EffortHigh, runner.EffortMax:
		return true
	default:
		return false
	}
}

// fallbackPlan builds a plan from the regex classifier alone: deploy the
// full roster, all at the complexity-derived effort, mirroring the
// original's V1 fallback behavior but always including all three agents
// since the classifier (unlike the planner) has no basis to narrow the
// roster.
func fallbackPlan(query string) PlannerOutput {
	complexity := ClassifyComplexity(query)
	effort := effortForComplexity[complexity]
	efforts := make(map[graph.AgentRole]runner.Effort, len(allPrimaryAgents))
	for _, role := range allPrimaryAgents {
		efforts[role] = effort
	}
	return PlannerOutput{
		SelectedAgents: allPrimaryAgents,
		Efforts:        efforts,
		Rationale:      "regex complexity fallback",
		Complexity:     complexity,
		FellBack:       true,
	}
}
