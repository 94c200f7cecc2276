package bus

import "time"

// Envelope carries the fields every event shares: a discriminator tag, the
// owning session, and a UTC timestamp. Concrete event types embed it
// anonymously so its fields are promoted to the top level of the encoded
// JSON object alongside the variant's own fields.
type Envelope struct {
	Event     string    `json:"event"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is the closed tagged union of everything that can flow through the
// bus. Envelope implements it so every type embedding Envelope satisfies it
// for free.
type Event interface {
	isEvent()
}

func (Envelope) isEvent() {}

func newEnvelope(kind, sessionID string) Envelope {
	return Envelope{Event: kind, SessionID: sessionID, Timestamp: time.Now().UTC()}
}

// SwarmStarted announces the beginning of Phase 1 with the selected agents.
type SwarmStarted struct {
	Envelope
	Agents []string `json:"agents"`
	Query  string   `json:"query"`
}

func NewSwarmStarted(sessionID string, agents []string, query string) SwarmStarted {
	return SwarmStarted{Envelope: newEnvelope("swarm-started", sessionID), Agents: agents, Query: query}
}

// AgentStarted announces an individual agent invocation beginning.
type AgentStarted struct {
	Envelope
	Agent  string `json:"agent"`
	Effort string `json:"effort"`
}

func NewAgentStarted(sessionID, agent, effort string) AgentStarted {
	return AgentStarted{Envelope: newEnvelope("agent-started", sessionID), Agent: agent, Effort: effort}
}

// AgentThinking streams an incremental reasoning chunk from a running agent.
type AgentThinking struct {
	Envelope
	Agent string `json:"agent"`
	Chunk string `json:"chunk"`
}

func NewAgentThinking(sessionID, agent, chunk string) AgentThinking {
	return AgentThinking{Envelope: newEnvelope("agent-thinking", sessionID), Agent: agent, Chunk: chunk}
}

// GraphNodeCreated mirrors a reasoning-graph add-node mutation onto the bus.
type GraphNodeCreated struct {
	Envelope
	NodeID string `json:"node_id"`
	Agent  string `json:"agent"`
	Kind   string `json:"kind,omitempty"`
}

func NewGraphNodeCreated(sessionID, nodeID, agent, kind string) GraphNodeCreated {
	return GraphNodeCreated{Envelope: newEnvelope("graph-node-created", sessionID), NodeID: nodeID, Agent: agent, Kind: kind}
}

// AgentChallenges announces a contrarian-authored challenges edge.
type AgentChallenges struct {
	Envelope
	Agent        string `json:"agent"`
	TargetNodeID string `json:"target_node_id"`
	Content      string `json:"content"`
}

func NewAgentChallenges(sessionID, agent, targetNodeID, content string) AgentChallenges {
	return AgentChallenges{Envelope: newEnvelope("agent-challenges", sessionID), Agent: agent, TargetNodeID: targetNodeID, Content: content}
}

// VerificationScore announces a verifier-authored score for a node.
type VerificationScore struct {
	Envelope
	Agent  string  `json:"agent"`
	NodeID string  `json:"node_id"`
	Score  float64 `json:"score"`
}

func NewVerificationScore(sessionID, agent, nodeID string, score float64) VerificationScore {
	return VerificationScore{Envelope: newEnvelope("verification-score", sessionID), Agent: agent, NodeID: nodeID, Score: score}
}

// AgentCompleted is the per-agent wrapper's terminal event (§4.3.7).
type AgentCompleted struct {
	Envelope
	Agent      string  `json:"agent"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	TokensUsed int     `json:"tokens_used"`
	DurationMS int64   `json:"duration_ms"`
}

func NewAgentCompleted(sessionID, agent, status string, confidence float64, tokensUsed int, durationMS int64) AgentCompleted {
	return AgentCompleted{
		Envelope: newEnvelope("agent-completed", sessionID), Agent: agent, Status: status,
		Confidence: confidence, TokensUsed: tokensUsed, DurationMS: durationMS,
	}
}

// SynthesisReady announces Phase 2's output.
type SynthesisReady struct {
	Envelope
	NodeID      string   `json:"node_id"`
	Convergence []string `json:"convergence"`
	Divergence  []string `json:"divergence"`
}

func NewSynthesisReady(sessionID, nodeID string, convergence, divergence []string) SynthesisReady {
	return SynthesisReady{Envelope: newEnvelope("synthesis-ready", sessionID), NodeID: nodeID, Convergence: convergence, Divergence: divergence}
}

// MetaInsight announces a single Phase 3 insight category result.
type MetaInsight struct {
	Envelope
	Category string `json:"category"`
	Content  string `json:"content"`
}

func NewMetaInsight(sessionID, category, content string) MetaInsight {
	return MetaInsight{Envelope: newEnvelope("meta-insight", sessionID), Category: category, Content: content}
}

// MaestroDecomposition carries the planner's structured plan, or the regex
// fallback's classification, to the client.
type MaestroDecomposition struct {
	Envelope
	Subtasks  []string `json:"subtasks"`
	Rationale string   `json:"rationale"`
}

func NewMaestroDecomposition(sessionID string, subtasks []string, rationale string) MaestroDecomposition {
	return MaestroDecomposition{Envelope: newEnvelope("maestro-decomposition", sessionID), Subtasks: subtasks, Rationale: rationale}
}

// HumanCheckpoint mirrors a POST checkpoint call onto the bus.
type HumanCheckpoint struct {
	Envelope
	NodeID       string `json:"node_id"`
	Verdict      string `json:"verdict"`
	Correction   string `json:"correction,omitempty"`
	ExperimentID string `json:"experiment_id,omitempty"`
}

func NewHumanCheckpoint(sessionID, nodeID, verdict, correction, experimentID string) HumanCheckpoint {
	return HumanCheckpoint{
		Envelope: newEnvelope("human-checkpoint", sessionID), NodeID: nodeID, Verdict: verdict,
		Correction: correction, ExperimentID: experimentID,
	}
}

// SwarmRerunStarted announces a checkpoint-triggered re-run-with-correction.
type SwarmRerunStarted struct {
	Envelope
	ExperimentID string `json:"experiment_id"`
	TargetNodeID string `json:"target_node_id"`
}

func NewSwarmRerunStarted(sessionID, experimentID, targetNodeID string) SwarmRerunStarted {
	return SwarmRerunStarted{Envelope: newEnvelope("swarm-rerun-started", sessionID), ExperimentID: experimentID, TargetNodeID: targetNodeID}
}

// HypothesisExperimentUpdated announces any lifecycle state transition.
type HypothesisExperimentUpdated struct {
	Envelope
	ExperimentID string `json:"experiment_id"`
	State        string `json:"state"`
}

func NewHypothesisExperimentUpdated(sessionID, experimentID, state string) HypothesisExperimentUpdated {
	return HypothesisExperimentUpdated{Envelope: newEnvelope("hypothesis-experiment-updated", sessionID), ExperimentID: experimentID, State: state}
}

// SwarmError is published by background tasks instead of propagating.
type SwarmError struct {
	Envelope
	Message string `json:"message"`
}

func NewSwarmError(sessionID, message string) SwarmError {
	return SwarmError{Envelope: newEnvelope("swarm-error", sessionID), Message: message}
}

// Ping is the WebSocket heartbeat, sent every 15s (§4.5).
type Ping struct {
	Envelope
}

func NewPing(sessionID string) Ping {
	return Ping{Envelope: newEnvelope("ping", sessionID)}
}
