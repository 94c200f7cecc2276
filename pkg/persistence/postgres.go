package persistence

import (
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"context"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/opus-nx/orchestrator/pkg/graph"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresGateway is the tabular mirror half of the reference Persistence
// Gateway: reasoning-graph nodes/edges, hypothesis-experiment rows, and
// rehydration-run audit rows, all upserted through database/sql over the
// pgx driver exactly as pkg/database/client.go does, minus the ent layer
// this module does not carry (see DESIGN.md).
type PostgresGateway struct {
	db  *stdsql.DB
	log *slog.Logger
}

// NewPostgresGateway opens dsn, applies embedded migrations, and returns a
// ready gateway.
func NewPostgresGateway(ctx context.Context, dsn string, log *slog.Logger) (*PostgresGateway, error) {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresGateway{db: db, log: log.With("component", "persistence_postgres")}, nil
}

func runMigrations(db *stdsql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres migrate driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (g *PostgresGateway) Close() error { return g.db.Close() }

func (g *PostgresGateway) SyncNode(ctx context.Context, node *graph.Node) error {
	return withRetry(ctx, g.log, "sync_node", func() error {
		_, err := g.db.ExecContext(ctx, `
			INSERT INTO thinking_nodes (id, session_id, agent, kind, content, confidence_score, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				confidence_score = EXCLUDED.confidence_score,
				kind = EXCLUDED.kind`,
			node.ID, node.SessionID, string(node.Agent), string(node.Kind), node.Content, node.Confidence, node.CreatedAt)
		return err
	})
}

func (g *PostgresGateway) SyncEdge(ctx context.Context, edge *graph.Edge) error {
	return withRetry(ctx, g.log, "sync_edge", func() error {
		meta, err := json.Marshal(edge.Metadata)
		if err != nil {
			return Permanent(fmt.Errorf("marshal edge metadata: %w", err))
		}
		_, err = g.db.ExecContext(ctx, `
			INSERT INTO reasoning_edges (source_id, target_id, edge_type, weight, metadata)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (source_id, target_id, edge_type) DO UPDATE SET
				weight = EXCLUDED.weight,
				metadata = EXCLUDED.metadata`,
			edge.SourceID, edge.TargetID, string(edge.Relation), edge.Weight, meta)
		return err
	})
}

func (g *PostgresGateway) BackfillNodeTokens(ctx context.Context, ids []string, tokensOut, tokensIn int, agent string) error {
	return withRetry(ctx, g.log, "backfill_node_tokens", func() error {
		for _, id := range ids {
			if _, err := g.db.ExecContext(ctx, `
				UPDATE thinking_nodes SET tokens_out = $2, tokens_in = $3 WHERE id = $1 AND agent = $4`,
				id, tokensOut, tokensIn, agent); err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *PostgresGateway) CreateHypothesisExperiment(ctx context.Context, exp HypothesisExperiment) (HypothesisExperiment, error) {
	err := withRetry(ctx, g.log, "create_hypothesis_experiment", func() error {
		meta, merr := json.Marshal(exp.Metadata)
		if merr != nil {
			return Permanent(fmt.Errorf("marshal experiment metadata: %w", merr))
		}
		_, err := g.db.ExecContext(ctx, `
			INSERT INTO hypothesis_experiments (id, session_id, node_id, state, correction, metadata, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
			ON CONFLICT (id) DO NOTHING`,
			exp.ID, exp.SessionID, exp.NodeID, string(exp.State), exp.Correction, meta, exp.CreatedAt)
		return err
	})
	return exp, err
}

func (g *PostgresGateway) UpdateHypothesisExperiment(ctx context.Context, id string, state ExperimentState, fields map[string]any) (HypothesisExperiment, error) {
	var out HypothesisExperiment
	err := withRetry(ctx, g.log, "update_hypothesis_experiment", func() error {
		meta, merr := json.Marshal(fields)
		if merr != nil {
			return Permanent(fmt.Errorf("marshal update fields: %w", merr))
		}
		_, err := g.db.ExecContext(ctx, `
			UPDATE hypothesis_experiments
			SET state = $2, metadata = metadata || $3::jsonb, updated_at = now()
			WHERE id = $1`, id, string(state), meta)
		return err
	})
	if err != nil {
		return out, err
	}
	return g.GetHypothesisExperiment(ctx, id)
}

func (g *PostgresGateway) CreateHypothesisExperimentAction(ctx context.Context, action ExperimentAction) error {
	return withRetry(ctx, g.log, "create_hypothesis_experiment_action", func() error {
		_, err := g.db.ExecContext(ctx, `
			INSERT INTO hypothesis_experiment_actions (id, experiment_id, action, detail, created_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (id) DO NOTHING`,
			action.ID, action.ExperimentID, action.Action, action.Detail, action.CreatedAt)
		return err
	})
}

func (g *PostgresGateway) GetHypothesisExperiment(ctx context.Context, id string) (HypothesisExperiment, error) {
	var exp HypothesisExperiment
	var metaRaw []byte
	err := withRetry(ctx, g.log, "get_hypothesis_experiment", func() error {
		row := g.db.QueryRowContext(ctx, `
			SELECT id, session_id, node_id, state, correction, metadata, created_at, updated_at
			FROM hypothesis_experiments WHERE id = $1`, id)
		var state string
		if scanErr := row.Scan(&exp.ID, &exp.SessionID, &exp.NodeID, &state, &exp.Correction, &metaRaw, &exp.CreatedAt, &exp.UpdatedAt); scanErr != nil {
			if errors.Is(scanErr, stdsql.ErrNoRows) {
				return Permanent(scanErr)
			}
			return scanErr
		}
		exp.State = ExperimentState(state)
		return nil
	})
	if err != nil {
		return exp, err
	}
	if len(metaRaw) > 0 {
		_ = json.Unmarshal(metaRaw, &exp.Metadata)
	}
	return exp, nil
}

func (g *PostgresGateway) ListSessionHypothesisExperiments(ctx context.Context, sessionID string, status *ExperimentState, limit int) ([]HypothesisExperiment, error) {
	var out []HypothesisExperiment
	err := withRetry(ctx, g.log, "list_session_hypothesis_experiments", func() error {
		var rows *stdsql.Rows
		var err error
		if status != nil {
			rows, err = g.db.QueryContext(ctx, `
				SELECT id, session_id, node_id, state, correction, created_at, updated_at
				FROM hypothesis_experiments WHERE session_id = $1 AND state = $2
				ORDER BY created_at DESC LIMIT $3`, sessionID, string(*status), limit)
		} else {
			rows, err = g.db.QueryContext(ctx, `
				SELECT id, session_id, node_id, state, correction, created_at, updated_at
				FROM hypothesis_experiments WHERE session_id = $1
				ORDER BY created_at DESC LIMIT $2`, sessionID, limit)
		}
		if err != nil {
			return err
		}
		defer rows.Close()
		out = nil
		for rows.Next() {
			var exp HypothesisExperiment
			var state string
			if err := rows.Scan(&exp.ID, &exp.SessionID, &exp.NodeID, &state, &exp.Correction, &exp.CreatedAt, &exp.UpdatedAt); err != nil {
				return err
			}
			exp.State = ExperimentState(state)
			out = append(out, exp)
		}
		return rows.Err()
	})
	return out, err
}

func (g *PostgresGateway) CreateSessionRehydrationRun(ctx context.Context, run RehydrationRun) (RehydrationRun, error) {
	err := withRetry(ctx, g.log, "create_session_rehydration_run", func() error {
		candidates, cerr := json.Marshal(run.CandidateIDs)
		if cerr != nil {
			return Permanent(fmt.Errorf("marshal candidate ids: %w", cerr))
		}
		selected, serr := json.Marshal(run.SelectedIDs)
		if serr != nil {
			return Permanent(fmt.Errorf("marshal selected ids: %w", serr))
		}
		_, err := g.db.ExecContext(ctx, `
			INSERT INTO session_rehydration_runs (id, session_id, candidate_ids, selected_ids, created_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (id) DO NOTHING`,
			run.ID, run.SessionID, candidates, selected, run.CreatedAt)
		return err
	})
	return run, err
}

func (g *PostgresGateway) MarkReasoningArtifactUsed(ctx context.Context, id string) error {
	return withRetry(ctx, g.log, "mark_reasoning_artifact_used", func() error {
		_, err := g.db.ExecContext(ctx, `
			UPDATE thinking_nodes SET last_used_at = now() WHERE id = $1`, id)
		return err
	})
}

// probe checks that every table this gateway depends on is reachable.
func (g *PostgresGateway) probe(ctx context.Context) bool {
	_, err := g.db.ExecContext(ctx, `SELECT 1 FROM thinking_nodes LIMIT 1`)
	return err == nil
}
