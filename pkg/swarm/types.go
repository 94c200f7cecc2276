package swarm

import "github.com/opus-nx/orchestrator/pkg/runner"

// AgentResult is one primary agent's contribution to a swarm run, assembled
// from its runner.TurnOutcome plus the status classification the per-agent
// timeout wrapper applies.
type AgentResult struct {
	Agent      string
	Status     string // "completed" | "timeout" | "error"
	Reasoning  string
	Conclusion string
	Confidence float64
	TokensUsed int
	DurationMS int64
	NodeIDs    []string
	Err        error
}

// SwarmResult is the full outcome of one orchestrator run (§4.3).
type SwarmResult struct {
	SessionID       string
	Query           string
	AugmentedQuery  string
	Complexity      Complexity
	Effort          runner.Effort
	Agents          []AgentResult
	SynthesisNodeID string
	MetaNodeIDs     []string
	GroupthinkFlag  bool
	TotalTokens     int
	TotalDurationMS int64
}

// RerunResult is the outcome of a checkpoint-triggered re-run-with-correction
// (§4.4.3): a narrower pass re-running only the analyst/contrarian pairing
// against a corrected premise.
type RerunResult struct {
	ExperimentID    string
	Agents          []AgentResult
	TotalTokens     int
	TotalDurationMS int64
}
