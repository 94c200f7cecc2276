// Package graph implements the shared reasoning graph: a concurrent,
// session-scoped directed acyclic graph of typed nodes and typed edges
// that every agent in a swarm run reads from and writes to.
//
// A single mutex guards all mutation and all multi-node reads so that
// readers never observe a torn view of a concurrent writer's work. Change
// listeners run synchronously inside that lock (see OnChange below) and
// must therefore be fast and non-reentrant.
package graph

import (
	"crypto/md5" //nolint:gosec // content-addressing key, not a security boundary
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opus-nx/orchestrator/pkg/orcherr"
)

// AgentRole is the closed set of node authors.
type AgentRole string

const (
	RolePlanner          AgentRole = "planner"
	RoleAnalyst          AgentRole = "analyst"
	RoleContrarian       AgentRole = "contrarian"
	RoleVerifier         AgentRole = "verifier"
	RoleSynthesizer      AgentRole = "synthesizer"
	RoleMeta             AgentRole = "meta"
	RoleHumanAnnotation  AgentRole = "human-annotation"
)

// NodeKind is the optional structural tag carried by a node's content.
type NodeKind string

const (
	KindAnalysis           NodeKind = "analysis"
	KindHypothesis         NodeKind = "hypothesis"
	KindConclusion         NodeKind = "conclusion"
	KindEvidence           NodeKind = "evidence"
	KindChallenge          NodeKind = "challenge"
	KindSupport            NodeKind = "support"
	KindVerification       NodeKind = "verification"
	KindSynthesis          NodeKind = "synthesis"
	KindMetaInsight        NodeKind = "meta-insight"
	KindDecisionPoint      NodeKind = "decision-point"
	KindHumanAnnotation    NodeKind = "human-annotation"
)

// EdgeRelation is the closed set of typed directed relations between nodes.
type EdgeRelation string

const (
	RelationLeadsTo    EdgeRelation = "leads-to"
	RelationChallenges EdgeRelation = "challenges"
	RelationVerifies   EdgeRelation = "verifies"
	RelationSupports   EdgeRelation = "supports"
	RelationContradicts EdgeRelation = "contradicts"
	RelationMerges     EdgeRelation = "merges"
	RelationObserves   EdgeRelation = "observes"
)

// DecisionPoint is a free-form record attached to a node's optional decision
// point list (e.g. a branch the agent considered and rejected).
type DecisionPoint struct {
	Label   string         `json:"label"`
	Detail  string         `json:"detail,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Node is a reasoning node: immutable once inserted, owned exclusively by
// the graph for the lifetime of its session.
type Node struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	Agent          AgentRole       `json:"agent"`
	Content        string          `json:"content"`
	Kind           NodeKind        `json:"kind,omitempty"`
	Confidence     float64         `json:"confidence"`
	DecisionPoints []DecisionPoint `json:"decision_points,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Edge is a typed directed relation between two nodes in the same session.
type Edge struct {
	SourceID string         `json:"source_id"`
	TargetID string         `json:"target_id"`
	Relation EdgeRelation   `json:"relation"`
	Weight   float64        `json:"weight"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ChangeListener is invoked synchronously, inside the mutation lock, for
// every successful add-node/add-edge. eventType is "node-added" or
// "edge-added"; data is the *Node or *Edge that was just inserted. A
// listener that panics or returns an error is caught and logged; it never
// interrupts the mutation that triggered it or propagates to the caller.
type ChangeListener func(eventType string, data any) error

// Graph is the concurrent in-memory reasoning graph.
type Graph struct {
	mu        sync.Mutex
	nodes     map[string]*Node
	order     []string            // node ids in insertion order, for to-json() determinism
	outgoing  map[string][]string // source id -> target ids (for cycle reachability)
	incoming  map[string][]*Edge  // target id -> edges pointing at it
	listeners []ChangeListener
	log       *slog.Logger
}

// New creates an empty graph.
func New(log *slog.Logger) *Graph {
	if log == nil {
		log = slog.Default()
	}
	return &Graph{
		nodes:    make(map[string]*Node),
		outgoing: make(map[string][]string),
		incoming: make(map[string][]*Edge),
		log:      log.With("component", "reasoning_graph"),
	}
}

// OnChange registers a listener invoked on every mutation.
func (g *Graph) OnChange(l ChangeListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, l)
}

// AddNode inserts a node and notifies listeners with ("node-added", node).
func (g *Graph) AddNode(n *Node) (string, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	g.notifyLocked("node-added", n)
	return n.ID, nil
}

// AddEdge inserts an edge, rejecting it with orcherr.ErrCycleDetected when
// both endpoints already exist and a path from target to source exists.
func (g *Graph) AddEdge(e *Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, srcExists := g.nodes[e.SourceID]
	_, tgtExists := g.nodes[e.TargetID]
	if srcExists && tgtExists && g.hasPathLocked(e.TargetID, e.SourceID) {
		g.log.Warn("cycle detected, edge rejected", "source", e.SourceID, "target", e.TargetID)
		return fmt.Errorf("%w: %s -> %s would create a cycle", orcherr.ErrCycleDetected, e.SourceID, e.TargetID)
	}

	g.outgoing[e.SourceID] = append(g.outgoing[e.SourceID], e.TargetID)
	g.incoming[e.TargetID] = append(g.incoming[e.TargetID], e)
	g.notifyLocked("edge-added", e)
	return nil
}

// hasPathLocked reports whether there is a directed path from -> to using a
// plain BFS over the outgoing adjacency. Must be called with mu held.
// Per-session edge counts are small (hundreds), so a per-insert BFS is
// adequate; no incremental reachability index is maintained.
func (g *Graph) hasPathLocked(from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.outgoing[cur] {
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

func (g *Graph) notifyLocked(eventType string, data any) {
	for _, l := range g.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					g.log.Error("graph listener panicked", "event_type", eventType, "recovered", r)
				}
			}()
			if err := l(eventType, data); err != nil {
				g.log.Error("graph listener returned error", "event_type", eventType, "error", err)
			}
		}()
	}
}

// GetNode returns a node by id, or nil if absent.
func (g *Graph) GetNode(id string) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes[id]
}

// GetNodesByAgent returns all nodes authored by the given role.
func (g *Graph) GetNodesByAgent(role AgentRole) []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*Node
	for _, id := range g.order {
		if n := g.nodes[id]; n.Agent == role {
			out = append(out, n)
		}
	}
	return out
}

// GetSessionNodes returns all nodes for a session, ordered by creation time.
func (g *Graph) GetSessionNodes(sessionID string) []*Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*Node
	for _, id := range g.order {
		if n := g.nodes[id]; n.SessionID == sessionID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ChallengeEntry pairs an incoming edge with its source node.
type ChallengeEntry struct {
	SourceNode *Node
	Edge       *Edge
}

// GetChallengesFor returns incoming "challenges" edges targeting a node.
func (g *Graph) GetChallengesFor(nodeID string) []ChallengeEntry {
	return g.incomingByRelation(nodeID, RelationChallenges)
}

// GetVerificationsFor returns incoming "verifies" edges targeting a node.
func (g *Graph) GetVerificationsFor(nodeID string) []ChallengeEntry {
	return g.incomingByRelation(nodeID, RelationVerifies)
}

func (g *Graph) incomingByRelation(nodeID string, relation EdgeRelation) []ChallengeEntry {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[nodeID]; !ok {
		return nil
	}
	var out []ChallengeEntry
	for _, e := range g.incoming[nodeID] {
		if e.Relation == relation {
			out = append(out, ChallengeEntry{SourceNode: g.nodes[e.SourceID], Edge: e})
		}
	}
	return out
}

// JSONExport is the shape returned by ToJSON and used as the "graph" field
// of to-snapshot.
type JSONExport struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// ToJSON exports the full graph for debugging/inspection.
func (g *Graph) ToJSON() JSONExport {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := JSONExport{}
	for _, id := range g.order {
		out.Nodes = append(out.Nodes, g.nodes[id])
	}
	for _, edges := range g.incoming {
		out.Edges = append(out.Edges, edges...)
	}
	return out
}

// Snapshot is a session-scoped export used for persistence warm-start.
type Snapshot struct {
	SessionID string  `json:"session_id"`
	Nodes     []*Node `json:"nodes"`
	Edges     []*Edge `json:"edges"`
}

// ToSnapshot exports only the nodes (and edges fully contained within them)
// belonging to a session.
func (g *Graph) ToSnapshot(sessionID string) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodeIDs := make(map[string]bool)
	snap := Snapshot{SessionID: sessionID}
	for _, id := range g.order {
		n := g.nodes[id]
		if n.SessionID == sessionID {
			nodeIDs[id] = true
			snap.Nodes = append(snap.Nodes, n)
		}
	}
	for _, edges := range g.incoming {
		for _, e := range edges {
			if nodeIDs[e.SourceID] && nodeIDs[e.TargetID] {
				snap.Edges = append(snap.Edges, e)
			}
		}
	}
	return snap
}

// LoadSnapshot restores nodes and edges from a previously exported
// snapshot. It is a trusted warm-start path from the orchestrator's own
// prior export: it does not re-run cycle validation on the restored edges
// (see SPEC_FULL.md §9's open-question decision), since re-validating every
// edge on load would be O(E^2) for no correctness gain over data the
// process itself produced. Returns the number of nodes loaded.
func (g *Graph) LoadSnapshot(snap Snapshot) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, n := range snap.Nodes {
		if _, exists := g.nodes[n.ID]; !exists {
			g.order = append(g.order, n.ID)
		}
		g.nodes[n.ID] = n
	}
	for _, e := range snap.Edges {
		g.outgoing[e.SourceID] = append(g.outgoing[e.SourceID], e.TargetID)
		g.incoming[e.TargetID] = append(g.incoming[e.TargetID], e)
	}
	if len(snap.Nodes) > 0 {
		g.log.Info("loaded graph snapshot", "nodes", len(snap.Nodes), "edges", len(snap.Edges))
	}
	return len(snap.Nodes)
}

// CleanupSession removes all nodes belonging to a session, and by
// construction all edges touching them. Returns the number of nodes removed.
func (g *Graph) CleanupSession(sessionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	toRemove := make(map[string]bool)
	var kept []string
	for _, id := range g.order {
		if g.nodes[id].SessionID == sessionID {
			toRemove[id] = true
			delete(g.nodes, id)
		} else {
			kept = append(kept, id)
		}
	}
	g.order = kept

	for id := range toRemove {
		delete(g.outgoing, id)
		delete(g.incoming, id)
	}
	for src, targets := range g.outgoing {
		if toRemove[src] {
			continue
		}
		filtered := targets[:0]
		for _, t := range targets {
			if !toRemove[t] {
				filtered = append(filtered, t)
			}
		}
		g.outgoing[src] = filtered
	}
	for tgt, edges := range g.incoming {
		if toRemove[tgt] {
			continue
		}
		filtered := edges[:0]
		for _, e := range edges {
			if !toRemove[e.SourceID] {
				filtered = append(filtered, e)
			}
		}
		g.incoming[tgt] = filtered
	}

	if len(toRemove) > 0 {
		g.log.Info("cleaned up session", "session_id", sessionID, "nodes_removed", len(toRemove))
	}
	return len(toRemove)
}

// DedupKey is the md5-of-lowercased-text content-addressing key used by the
// rehydration service for candidate deduplication (SPEC_FULL.md §4.3.1 step 4).
// Only the key function lives in this package; rehydration candidates
// themselves are never stored in the graph.
func DedupKey(sessionID, text string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(text)))) //nolint:gosec
	return sessionID + ":" + hex.EncodeToString(sum[:])
}
