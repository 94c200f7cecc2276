// Package rehydrate implements the Rehydration Service (SPEC_FULL.md §2,
// C1; algorithm in §4.3.1): it turns a swarm query into a retrieval-
// augmented one by pulling prior reasoning artifacts and hypotheses out of
// the Persistence Gateway, scoring and deduplicating them, and formatting
// the survivors into a preamble the planner and primary agents read before
// the one the user actually typed.
//
// The original module this spec distilled from was filtered out of the
// retrieval pack by its file-size cap, so this package is built directly
// from the fully-specified scoring algorithm rather than ported from a
// surviving source file; its struct/helper layout follows the small,
// single-purpose-method style pkg/queue/executor.go uses elsewhere in the
// teacher.
package rehydrate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opus-nx/orchestrator/pkg/graph"
	"github.com/opus-nx/orchestrator/pkg/persistence"
)

const (
	matchThreshold  = 0.68
	matchLimitEach  = 12
	topK            = 4
	excerptRunes    = 420
	similarityWeight     = 0.60
	importanceWeight     = 0.25
	recencyWeight        = 0.10
	retentionBonusWeight = 0.05
	recencyWindowDays    = 30
)

// Candidate is an ephemeral, per-query scored retrieval hit. It is never
// written to the reasoning graph.
type Candidate struct {
	ID              string
	Text            string
	Source          string // "artifact" | "hypothesis"
	SourceSessionID string
	Similarity      float64
	Importance      float64
	RecencyDays     float64
	RetentionBonus  float64
	Score           float64
}

// Selection is the outcome of one rehydration pass.
type Selection struct {
	AugmentedQuery    string
	Preamble          string
	Selected          []Candidate
	ArtifactCount     int
	HypothesisCount   int
}

// Metrics tracks a running hit-rate and average selection size across all
// rehydration passes this process has performed (§4.3.1 step 8).
type Metrics struct {
	Runs          int
	RunsWithHits  int
	TotalSelected int
}

// HitRate returns the fraction of runs that selected at least one candidate.
func (m Metrics) HitRate() float64 {
	if m.Runs == 0 {
		return 0
	}
	return float64(m.RunsWithHits) / float64(m.Runs)
}

// AvgSelected returns the mean number of candidates selected per run.
func (m Metrics) AvgSelected() float64 {
	if m.Runs == 0 {
		return 0
	}
	return float64(m.TotalSelected) / float64(m.Runs)
}

// Service performs rehydration against a persistence.Gateway.
type Service struct {
	gateway persistence.Gateway
	log     *slog.Logger

	mu      sync.Mutex
	metrics Metrics
}

// New builds a Service backed by gateway.
func New(gateway persistence.Gateway, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{gateway: gateway, log: log.With("component", "rehydration")}
}

// Metrics returns a snapshot of the running hit-rate/avg-selection counters.
func (s *Service) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// Rehydrate runs the full §4.3.1 pipeline. If the gateway has no semantic
// search capability it degrades to returning the original query unchanged —
// the swarm runs fine without rehydration, it just runs cold.
func (s *Service) Rehydrate(ctx context.Context, sessionID, query, treatmentInstruction string) (Selection, error) {
	snap := s.gateway.GetCapabilitiesSnapshot()
	if !snap.Capabilities[persistence.CapSemanticSearch] {
		return Selection{AugmentedQuery: query}, nil
	}

	embedding, err := s.gateway.GenerateReasoningEmbedding(ctx, query)
	if err != nil {
		s.log.Warn("embedding generation failed, skipping rehydration", "session_id", sessionID, "error", err)
		return Selection{AugmentedQuery: query}, nil
	}

	var artifacts, hypotheses []persistence.ArtifactMatch
	var artifactsErr, hypothesesErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		artifacts, artifactsErr = s.gateway.SearchReasoningArtifacts(ctx, embedding, matchThreshold, matchLimitEach, "", "")
	}()
	go func() {
		defer wg.Done()
		hypotheses, hypothesesErr = s.gateway.SearchHypothesesSemantic(ctx, embedding, matchThreshold, matchLimitEach, "", nil)
	}()
	wg.Wait()

	if artifactsErr != nil {
		s.log.Warn("artifact retrieval failed", "session_id", sessionID, "error", artifactsErr)
	}
	if hypothesesErr != nil {
		s.log.Warn("hypothesis retrieval failed", "session_id", sessionID, "error", hypothesesErr)
	}

	candidates := make([]Candidate, 0, len(artifacts)+len(hypotheses))
	for _, m := range artifacts {
		candidates = append(candidates, scoreMatch(m, "artifact"))
	}
	for _, m := range hypotheses {
		candidates = append(candidates, scoreMatch(m, "hypothesis"))
	}

	deduped := dedupe(candidates)
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].Score > deduped[j].Score })
	preferred := preferCrossSession(deduped, sessionID)
	if len(preferred) > topK {
		preferred = preferred[:topK]
	}

	preamble := formatPreamble(preferred)
	augmented := query
	if preamble != "" {
		augmented = query + "\n\n" + preamble + "\n\n" + treatmentInstruction
	}

	s.audit(ctx, sessionID, query, candidates, preferred)
	s.recordMetrics(preferred)

	return Selection{
		AugmentedQuery:  augmented,
		Preamble:        preamble,
		Selected:        preferred,
		ArtifactCount:   len(artifacts),
		HypothesisCount: len(hypotheses),
	}, nil
}

func scoreMatch(m persistence.ArtifactMatch, source string) Candidate {
	recency := math.Max(0, 1-m.RecencyDays/recencyWindowDays)
	score := similarityWeight*m.Similarity + importanceWeight*m.Importance + recencyWeight*recency + retentionBonusWeight*m.RetentionBonus
	return Candidate{
		ID:              m.ID,
		Text:            m.Text,
		Source:          source,
		SourceSessionID: m.SessionID,
		Similarity:      m.Similarity,
		Importance:      m.Importance,
		RecencyDays:     m.RecencyDays,
		RetentionBonus:  m.RetentionBonus,
		Score:           score,
	}
}

// dedupe collapses candidates sharing a (source-session, md5(lowercased
// text)) key, keeping whichever scored higher.
func dedupe(candidates []Candidate) []Candidate {
	best := make(map[string]Candidate, len(candidates))
	order := make([]string, 0, len(candidates))
	for _, c := range candidates {
		key := graph.DedupKey(c.SourceSessionID, c.Text)
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = c
			continue
		}
		if c.Score > existing.Score {
			best[key] = c
		}
	}
	out := make([]Candidate, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// preferCrossSession implements I5: if any candidate's source session
// differs from the current one, same-session candidates are dropped
// entirely rather than merely down-ranked.
func preferCrossSession(candidates []Candidate, sessionID string) []Candidate {
	cross := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.SourceSessionID != sessionID {
			cross = append(cross, c)
		}
	}
	if len(cross) > 0 {
		return cross
	}
	return candidates
}

func formatPreamble(candidates []Candidate) string {
	if len(candidates) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Prior reasoning context:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- [%s, score=%.3f sim=%.2f imp=%.2f rec_days=%.1f ret=%.2f] %s\n",
			c.Source, c.Score, c.Similarity, c.Importance, c.RecencyDays, c.RetentionBonus, excerpt(c.Text))
	}
	return strings.TrimRight(b.String(), "\n")
}

func excerpt(text string) string {
	r := []rune(text)
	if len(r) <= excerptRunes {
		return text
	}
	return string(r[:excerptRunes]) + "…"
}

// audit marks every selected artifact-sourced candidate as used and writes
// a rehydration-run row recording candidate counts and selection (§4.3.1
// step 7). Failures are logged, not propagated — an audit-write failure
// must never fail the swarm run it is describing.
func (s *Service) audit(ctx context.Context, sessionID, query string, all, selected []Candidate) {
	for _, c := range selected {
		if c.Source != "artifact" || c.ID == "" {
			continue
		}
		if err := s.gateway.MarkReasoningArtifactUsed(ctx, c.ID); err != nil {
			s.log.Warn("mark_reasoning_artifact_used failed", "id", c.ID, "error", err)
		}
	}

	candidateIDs := make([]string, 0, len(all))
	for _, c := range all {
		if c.ID != "" {
			candidateIDs = append(candidateIDs, c.ID)
		}
	}
	selectedIDs := make([]string, 0, len(selected))
	for _, c := range selected {
		if c.ID != "" {
			selectedIDs = append(selectedIDs, c.ID)
		}
	}

	run := persistence.RehydrationRun{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		CandidateIDs: candidateIDs,
		SelectedIDs:  selectedIDs,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.gateway.CreateSessionRehydrationRun(ctx, run); err != nil {
		s.log.Warn("create_session_rehydration_run failed", "session_id", sessionID, "error", err)
	}
}

func (s *Service) recordMetrics(selected []Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.Runs++
	s.metrics.TotalSelected += len(selected)
	if len(selected) > 0 {
		s.metrics.RunsWithHits++
	}
}
