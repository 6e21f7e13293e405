package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow_backend/platform/apperr"
)

// StageAggregate is the per-stage grouping of currently-resident deals.
type StageAggregate struct {
	StageID        uuid.UUID
	StageName      string
	Position       int
	IsActive       bool
	DealCount      int
	TotalValue     int64
	AvgValue       float64
	AvgDaysInStage float64
}

// StuckDeal is an open deal sitting in its stage past the threshold.
type StuckDeal struct {
	DealID     uuid.UUID
	Title      string
	StageID    uuid.UUID
	StageName  string
	OwnerID    uuid.UUID
	ValueCents int64
	Currency   string
	EnteredAt  time.Time
}

// Repository defines the read-only aggregation queries.
type Repository interface {
	StageAggregates(ctx context.Context, organizationID, pipelineID uuid.UUID, now time.Time) ([]StageAggregate, error)
	StuckDeals(ctx context.Context, organizationID, pipelineID uuid.UUID, now time.Time, thresholdDays int) ([]StuckDeal, error)
}

// Repo implements Repository with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new analytics repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Repository = (*Repo)(nil)

// StageAggregates groups the pipeline's non-deleted deals by current stage,
// one row per stage in position order, stages with no deals included. Dwell
// is averaged live against the supplied instant, not the cached snapshot.
func (r *Repo) StageAggregates(ctx context.Context, organizationID, pipelineID uuid.UUID, now time.Time) ([]StageAggregate, error) {
	query := `
		SELECT s.id, s.name, s.position, s.is_active,
		       COUNT(d.id),
		       COALESCE(SUM(d.value_cents), 0),
		       COALESCE(AVG(d.value_cents), 0),
		       COALESCE(AVG(EXTRACT(EPOCH FROM ($3::timestamptz - d.current_stage_entered_at)) / 86400.0), 0)
		FROM pipeline_stages s
		JOIN pipelines p ON p.id = s.pipeline_id
		LEFT JOIN deals d ON d.stage_id = s.id AND d.deleted_at IS NULL
		WHERE s.pipeline_id = $1 AND p.organization_id = $2 AND p.deleted_at IS NULL
		GROUP BY s.id, s.name, s.position, s.is_active
		ORDER BY s.position ASC`

	rows, err := r.pool.Query(ctx, query, pipelineID, organizationID, now)
	if err != nil {
		return nil, fmt.Errorf("stage aggregates: %w", err)
	}
	defer rows.Close()

	aggregates := make([]StageAggregate, 0)
	for rows.Next() {
		var a StageAggregate
		if err := rows.Scan(
			&a.StageID, &a.StageName, &a.Position, &a.IsActive,
			&a.DealCount, &a.TotalValue, &a.AvgValue, &a.AvgDaysInStage,
		); err != nil {
			return nil, fmt.Errorf("scan stage aggregate: %w", err)
		}
		aggregates = append(aggregates, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stage aggregates: %w", err)
	}

	// An empty result means the pipeline itself does not resolve: every
	// pipeline carries stages by invariant.
	if len(aggregates) == 0 {
		return nil, apperr.NotFound("pipeline not found")
	}
	return aggregates, nil
}

// StuckDeals returns open deals whose live dwell exceeds thresholdDays.
func (r *Repo) StuckDeals(ctx context.Context, organizationID, pipelineID uuid.UUID, now time.Time, thresholdDays int) ([]StuckDeal, error) {
	query := `
		SELECT d.id, d.title, d.stage_id, s.name, d.owner_id, d.value_cents, d.currency, d.current_stage_entered_at
		FROM deals d
		JOIN pipeline_stages s ON s.id = d.stage_id
		WHERE d.pipeline_id = $1 AND d.organization_id = $2 AND d.deleted_at IS NULL
		  AND d.status = 'open'
		  AND d.current_stage_entered_at < $3::timestamptz - make_interval(days => $4)
		ORDER BY d.current_stage_entered_at ASC`

	rows, err := r.pool.Query(ctx, query, pipelineID, organizationID, now, thresholdDays)
	if err != nil {
		return nil, fmt.Errorf("stuck deals: %w", err)
	}
	defer rows.Close()

	deals := make([]StuckDeal, 0)
	for rows.Next() {
		var d StuckDeal
		if err := rows.Scan(
			&d.DealID, &d.Title, &d.StageID, &d.StageName, &d.OwnerID,
			&d.ValueCents, &d.Currency, &d.EnteredAt,
		); err != nil {
			return nil, fmt.Errorf("scan stuck deal: %w", err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stuck deals: %w", err)
	}
	return deals, nil
}
