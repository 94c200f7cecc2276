package swarm

import (
	"context"
	"fmt"
	"time"

	"github.com/opus-nx/orchestrator/pkg/bus"
	"github.com/opus-nx/orchestrator/pkg/graph"
	"github.com/opus-nx/orchestrator/pkg/runner"
)

func effortsForRerun() map[graph.AgentRole]runner.Effort {
	return map[graph.AgentRole]runner.Effort{
		graph.RoleAnalyst:    runner.EffortHigh,
		graph.RoleContrarian: runner.EffortHigh,
	}
}

// Rerun implements the checkpoint-triggered re-run-with-correction variant
// (§4.3.6 / §4.4.3): it re-runs the rehydration pre-phase against an
// augmented query carrying the human's correction, then executes only the
// analyst and contrarian agents in parallel under the same stagger and
// timeout contract Phase 1 uses. It never touches the parent swarm's
// synthesis or meta-analysis output.
func (c *Coordinator) Rerun(ctx context.Context, sessionID, targetNodeID, correction, experimentID string) (RerunResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return RerunResult{}, fmt.Errorf("rerun rate limited: %w", err)
	}

	target := c.graph.GetNode(targetNodeID)
	targetContent := ""
	if target != nil {
		targetContent = target.Content
	}

	correctedQuery := fmt.Sprintf("A human reviewer disagreed with the following conclusion:\n%s\n\nCorrection: %s\n\nRe-analyze with this correction in mind.", targetContent, correction)

	sel, err := c.rehydrator.Rehydrate(ctx, sessionID, correctedQuery, c.cfg.TreatmentInstruction)
	if err != nil {
		return RerunResult{}, fmt.Errorf("rerun rehydration: %w", err)
	}

	c.bus.Publish(sessionID, bus.NewSwarmRerunStarted(sessionID, experimentID, targetNodeID))

	plannerOut := PlannerOutput{
		SelectedAgents: []graph.AgentRole{graph.RoleAnalyst, graph.RoleContrarian},
		Efforts:        effortsForRerun(),
	}

	start := time.Now()
	results := c.runPhase1(ctx, sessionID, sel.AugmentedQuery, plannerOut)

	rerun := RerunResult{
		ExperimentID:    experimentID,
		Agents:          results,
		TotalDurationMS: time.Since(start).Milliseconds(),
	}
	for _, a := range results {
		rerun.TotalTokens += a.TokensUsed
	}
	return rerun, nil
}
