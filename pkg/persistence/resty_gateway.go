package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// RestyGateway is the semantic-search half of the reference Persistence
// Gateway. It talks to a PostgREST-shaped RPC surface exactly the way the
// original's supabase-py client did (Supabase's REST layer over Postgres
// RPC functions) but through a plain HTTP client instead of a Python SDK,
// grounded on original_source/agents/src/persistence/supabase_sync.py's
// table()/upsert()/execute() call shape and on r3e-network-service_layer's
// resty+gjson pairing for tolerant response parsing.
type RestyGateway struct {
	http *resty.Client
	log  *slog.Logger
}

// NewRestyGateway builds a client against baseURL (a Supabase/PostgREST
// project URL) authenticated with a service-role key.
func NewRestyGateway(baseURL, serviceRoleKey string, log *slog.Logger) *RestyGateway {
	if log == nil {
		log = slog.Default()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", serviceRoleKey).
		SetHeader("Authorization", "Bearer "+serviceRoleKey).
		SetHeader("Content-Type", "application/json")
	return &RestyGateway{http: client, log: log.With("component", "persistence_resty")}
}

func (g *RestyGateway) GenerateReasoningEmbedding(ctx context.Context, text string) ([]float64, error) {
	var embedding []float64
	err := withRetry(ctx, g.log, "generate_reasoning_embedding", func() error {
		resp, err := g.http.R().
			SetContext(ctx).
			SetBody(map[string]any{"input": text}).
			Post("/rpc/generate_reasoning_embedding")
		if err != nil {
			return err
		}
		if resp.IsError() {
			if resp.StatusCode() == 404 {
				return Permanent(capabilityAbsentf(CapSemanticSearch, "embedding RPC returned 404"))
			}
			return fmt.Errorf("embedding RPC returned %s", resp.Status())
		}
		vals := gjson.GetBytes(resp.Body(), "embedding").Array()
		embedding = make([]float64, len(vals))
		for i, v := range vals {
			embedding[i] = v.Float()
		}
		return nil
	})
	return embedding, err
}

func (g *RestyGateway) SearchReasoningArtifacts(ctx context.Context, embedding []float64, threshold float64, k int, sessionID, kind string) ([]ArtifactMatch, error) {
	var out []ArtifactMatch
	err := withRetry(ctx, g.log, "search_reasoning_artifacts", func() error {
		body := map[string]any{
			"query_embedding": embedding,
			"match_threshold": threshold,
			"match_count":     k,
		}
		if sessionID != "" {
			body["session_id"] = sessionID
		}
		if kind != "" {
			body["artifact_type"] = kind
		}
		resp, err := g.http.R().SetContext(ctx).SetBody(body).Post("/rpc/search_reasoning_artifacts")
		if err != nil {
			return err
		}
		if resp.IsError() {
			if resp.StatusCode() == 404 {
				return Permanent(capabilityAbsentf(CapSemanticSearch, "search_reasoning_artifacts RPC returned 404"))
			}
			return fmt.Errorf("search_reasoning_artifacts RPC returned %s", resp.Status())
		}
		out = parseArtifactMatches(resp.Body())
		return nil
	})
	return out, err
}

func (g *RestyGateway) SearchHypothesesSemantic(ctx context.Context, embedding []float64, threshold float64, k int, sessionID string, status *ExperimentState) ([]ArtifactMatch, error) {
	var out []ArtifactMatch
	err := withRetry(ctx, g.log, "search_structured_reasoning_hypotheses_semantic", func() error {
		body := map[string]any{
			"query_embedding": embedding,
			"match_threshold": threshold,
			"match_count":     k,
		}
		if sessionID != "" {
			body["session_id"] = sessionID
		}
		if status != nil {
			body["status"] = string(*status)
		}
		resp, err := g.http.R().SetContext(ctx).SetBody(body).Post("/rpc/search_structured_reasoning_hypotheses_semantic")
		if err != nil {
			return err
		}
		if resp.IsError() {
			if resp.StatusCode() == 404 {
				return Permanent(capabilityAbsentf(CapSemanticSearch, "hypothesis semantic search RPC returned 404"))
			}
			return fmt.Errorf("hypothesis semantic search RPC returned %s", resp.Status())
		}
		out = parseArtifactMatches(resp.Body())
		return nil
	})
	return out, err
}

// parseArtifactMatches pulls ArtifactMatch rows out of a PostgREST RPC
// response body using gjson rather than a strict json.Unmarshal, since the
// response shape varies slightly between the artifact-search and
// hypothesis-search RPCs (extra/missing fields) and this code only needs a
// handful of the columns either one returns.
func parseArtifactMatches(body []byte) []ArtifactMatch {
	rows := gjson.GetBytes(body, "@this").Array()
	out := make([]ArtifactMatch, 0, len(rows))
	for _, row := range rows {
		out = append(out, ArtifactMatch{
			ID:             row.Get("id").String(),
			SessionID:      row.Get("session_id").String(),
			Kind:           row.Get("artifact_type").String(),
			Text:           row.Get("content").String(),
			Similarity:     row.Get("similarity").Float(),
			Importance:     row.Get("importance").Float(),
			RecencyDays:    row.Get("recency_days").Float(),
			RetentionBonus: row.Get("retention_bonus").Float(),
		})
	}
	return out
}

func (g *RestyGateway) probe(ctx context.Context) bool {
	resp, err := g.http.R().SetContext(ctx).Get("/")
	return err == nil && resp.StatusCode() < 500
}
