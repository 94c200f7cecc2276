package lifecycle

import (
	"context"

	"github.com/opus-nx/orchestrator/pkg/swarm"
)

// SwarmRerunner adapts a *swarm.Coordinator to the Rerunner seam, so the
// Lifecycle Service's background rerun task can drive the real swarm
// pipeline without the swarm package needing to know lifecycle exists.
type SwarmRerunner struct {
	Coordinator *swarm.Coordinator
}

func (r SwarmRerunner) Rerun(ctx context.Context, sessionID, targetNodeID, correction, experimentID string) (RerunSummary, error) {
	result, err := r.Coordinator.Rerun(ctx, sessionID, targetNodeID, correction, experimentID)
	if err != nil {
		return RerunSummary{}, err
	}
	return RerunSummary{
		Agents:      len(result.Agents),
		TotalTokens: result.TotalTokens,
		DurationMS:  result.TotalDurationMS,
	}, nil
}
