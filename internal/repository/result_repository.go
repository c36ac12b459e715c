package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/linuzri/polymarket-bot/internal/domain"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultListLimit = 50

// PgxPool is the subset of *pgxpool.Pool the repository needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ResultRepository persists consensus results and their per-source
// breakdown for audit and the results API.
type ResultRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewResultRepository(pool PgxPool, tracer trace.Tracer) *ResultRepository {
	return &ResultRepository{pool: pool, tracer: tracer}
}

func (r *ResultRepository) SaveResult(ctx context.Context, res domain.ConsensusResult, evaluatedAt time.Time) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "result-repo.save-result",
		trace.WithAttributes(attribute.String("instrument", res.Instrument)))
	defer span.End()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO consensus_results (
		     instant_id, instrument, mode, signal, winning_category, plurality,
		     agreement_count, total_sources, confidence, actionable,
		     reference_price, edge, kelly_fraction, evaluated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		res.InstantID, res.Instrument, string(res.Mode), res.Signal, res.WinningCategory, res.Plurality,
		res.AgreementCount, res.TotalSources, res.Confidence, res.Actionable,
		res.ReferencePrice, res.Edge, res.KellyFraction, evaluatedAt.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert result: %w", err)
	}

	for i, s := range res.PerSource {
		if _, err := tx.Exec(ctx,
			`INSERT INTO consensus_source_votes (
			     result_id, position, source_id, category, raw_value, adjusted,
			     confidence, included, agrees, reason)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id, i, s.SourceID, s.Category, s.RawValue, s.Adjusted,
			s.Confidence, s.Included, s.Agrees, s.Reason,
		); err != nil {
			return 0, fmt.Errorf("insert vote %s: %w", s.SourceID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// ListResults returns the newest results first. Per-source rows are not
// loaded.
func (r *ResultRepository) ListResults(ctx context.Context, filter domain.ResultFilter) ([]domain.StoredResult, error) {
	ctx, span := r.tracer.Start(ctx, "result-repo.list-results")
	defer span.End()

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = defaultListLimit
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, instant_id, instrument, mode, signal, winning_category, plurality,
		        agreement_count, total_sources, confidence, actionable,
		        reference_price, edge, kelly_fraction, evaluated_at
		 FROM consensus_results
		 WHERE ($1 = '' OR instrument = $1) AND (NOT $2 OR actionable)
		 ORDER BY evaluated_at DESC, id DESC
		 LIMIT $3`,
		filter.Instrument, filter.ActionableOnly, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredResult
	for rows.Next() {
		var (
			s    domain.StoredResult
			mode string
		)
		res := &s.Result
		if err := rows.Scan(
			&s.ID, &res.InstantID, &res.Instrument, &mode, &res.Signal, &res.WinningCategory, &res.Plurality,
			&res.AgreementCount, &res.TotalSources, &res.Confidence, &res.Actionable,
			&res.ReferencePrice, &res.Edge, &res.KellyFraction, &s.EvaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Mode = domain.Mode(mode)
		out = append(out, s)
	}
	return out, rows.Err()
}
