package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow_backend/platform/apperr"
)

const dealNotFoundMessage = "deal not found"

const dealColumns = `id, organization_id, pipeline_id, stage_id, title, description, value_cents, currency,
	priority, status, probability, owner_id, current_stage_entered_at, days_in_current_stage,
	expected_close_date, actual_close_date, version, created_at, updated_at`

// Repo implements the Repository interface with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new deals repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(row rowScanner) (Deal, error) {
	var d Deal
	err := row.Scan(
		&d.ID, &d.OrganizationID, &d.PipelineID, &d.StageID, &d.Title, &d.Description,
		&d.ValueCents, &d.Currency, &d.Priority, &d.Status, &d.Probability, &d.OwnerID,
		&d.CurrentStageEnteredAt, &d.DaysInCurrentStage, &d.ExpectedCloseDate,
		&d.ActualCloseDate, &d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	return d, err
}

// Create inserts a new deal row.
func (r *Repo) Create(ctx context.Context, params CreateParams) (Deal, error) {
	query := fmt.Sprintf(`
		INSERT INTO deals (organization_id, pipeline_id, stage_id, title, description, value_cents,
			currency, priority, status, probability, owner_id, current_stage_entered_at,
			expected_close_date, actual_close_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING %s`, dealColumns)

	d, err := scanDeal(r.pool.QueryRow(ctx, query,
		params.OrganizationID, params.PipelineID, params.StageID, params.Title, params.Description,
		params.ValueCents, params.Currency, params.Priority, params.Status, params.Probability,
		params.OwnerID, params.EnteredAt, params.ExpectedCloseDate, params.ActualCloseDate,
	))
	if err != nil {
		return Deal{}, fmt.Errorf("insert deal: %w", err)
	}
	return d, nil
}

// GetByID retrieves a live deal scoped to the organization.
func (r *Repo) GetByID(ctx context.Context, organizationID, id uuid.UUID) (Deal, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM deals
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`, dealColumns)

	d, err := scanDeal(r.pool.QueryRow(ctx, query, id, organizationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, apperr.NotFound(dealNotFoundMessage)
		}
		return Deal{}, fmt.Errorf("get deal by id: %w", err)
	}
	return d, nil
}

// List retrieves deals matching the filters, newest first, with a total count
// for pagination.
func (r *Repo) List(ctx context.Context, organizationID uuid.UUID, params ListParams) ([]Deal, int, error) {
	conditions := []string{"organization_id = $1", "deleted_at IS NULL"}
	args := []any{organizationID}

	addCondition := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if params.PipelineID != nil {
		addCondition("pipeline_id = $%d", *params.PipelineID)
	}
	if params.StageID != nil {
		addCondition("stage_id = $%d", *params.StageID)
	}
	if params.Status != nil {
		addCondition("status = $%d", *params.Status)
	}
	if params.Priority != nil {
		addCondition("priority = $%d", *params.Priority)
	}
	if params.OwnerID != nil {
		addCondition("owner_id = $%d", *params.OwnerID)
	}
	if params.Search != nil && *params.Search != "" {
		addCondition("title ILIKE $%d", "%"+*params.Search+"%")
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM deals WHERE " + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deals: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM deals
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, dealColumns, where, len(args)+1, len(args)+2)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list deals: %w", err)
	}
	defer rows.Close()

	deals := make([]Deal, 0)
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list deals: %w", err)
	}

	return deals, total, nil
}

// Update edits non-transition deal fields. Stage moves go through
// ApplyTransition exclusively.
func (r *Repo) Update(ctx context.Context, params UpdateParams) (Deal, error) {
	query := fmt.Sprintf(`
		UPDATE deals
		SET title = COALESCE($3, title),
		    description = COALESCE($4, description),
		    value_cents = COALESCE($5, value_cents),
		    currency = COALESCE($6, currency),
		    priority = COALESCE($7, priority),
		    probability = COALESCE($8, probability),
		    owner_id = COALESCE($9, owner_id),
		    expected_close_date = COALESCE($10, expected_close_date),
		    days_in_current_stage = COALESCE($11, days_in_current_stage),
		    updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
		RETURNING %s`, dealColumns)

	d, err := scanDeal(r.pool.QueryRow(ctx, query,
		params.ID, params.OrganizationID, params.Title, params.Description, params.ValueCents,
		params.Currency, params.Priority, params.Probability, params.OwnerID,
		params.ExpectedCloseDate, params.DaysInCurrentStage,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, apperr.NotFound(dealNotFoundMessage)
		}
		return Deal{}, fmt.Errorf("update deal: %w", err)
	}
	return d, nil
}

// SoftDelete marks the deal deleted. Its history stays readable.
func (r *Repo) SoftDelete(ctx context.Context, organizationID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE deals SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`,
		id, organizationID,
	)
	if err != nil {
		return fmt.Errorf("soft delete deal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(dealNotFoundMessage)
	}
	return nil
}

// ApplyTransition performs one stage transition as a single transaction:
// the projection update guarded by the version check, closing the open
// ledger entry with its computed duration, and opening the new one.
func (r *Repo) ApplyTransition(ctx context.Context, params TransitionParams) (Deal, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Deal{}, fmt.Errorf("apply transition: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE deals
		SET stage_id = $3,
		    current_stage_entered_at = $4,
		    days_in_current_stage = 0,
		    status = $5,
		    probability = $6,
		    actual_close_date = $7,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND version = $8 AND deleted_at IS NULL`,
		params.DealID, params.OrganizationID, params.TargetStageID, params.Now,
		params.Derived.Status, params.Derived.Probability, params.Derived.ActualCloseDate,
		params.ExpectedVersion,
	)
	if err != nil {
		return Deal{}, fmt.Errorf("transition deal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var v int64
		err := tx.QueryRow(ctx, `
			SELECT version FROM deals
			WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`,
			params.DealID, params.OrganizationID,
		).Scan(&v)
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, apperr.NotFound(dealNotFoundMessage)
		}
		if err != nil {
			return Deal{}, fmt.Errorf("transition deal: %w", err)
		}
		return Deal{}, apperr.Conflict("deal was modified concurrently")
	}

	_, err = tx.Exec(ctx, `
		UPDATE deal_stage_history
		SET exited_at = $2,
		    duration_ms = (EXTRACT(EPOCH FROM ($2::timestamptz - entered_at)) * 1000)::BIGINT
		WHERE deal_id = $1 AND exited_at IS NULL`,
		params.DealID, params.Now,
	)
	if err != nil {
		return Deal{}, fmt.Errorf("close open history entry: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO deal_stage_history (deal_id, stage_id, stage_name, entered_at, reason, changed_by)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		params.DealID, params.TargetStageID, params.TargetStageName, params.Now,
		params.Reason, params.ActorID,
	)
	if err != nil {
		return Deal{}, fmt.Errorf("append history entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Deal{}, fmt.Errorf("apply transition: commit: %w", err)
	}

	return r.GetByID(ctx, params.OrganizationID, params.DealID)
}

// ListOpenByPipeline returns the pipeline's live open deals.
func (r *Repo) ListOpenByPipeline(ctx context.Context, pipelineID uuid.UUID) ([]Deal, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM deals
		WHERE pipeline_id = $1 AND status = 'open' AND deleted_at IS NULL`, dealColumns)

	rows, err := r.pool.Query(ctx, query, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list open deals: %w", err)
	}
	defer rows.Close()

	deals := make([]Deal, 0)
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		deals = append(deals, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list open deals: %w", err)
	}
	return deals, nil
}

// ListPipelineIDs returns every live pipeline that has live deals in it.
func (r *Repo) ListPipelineIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT pipeline_id FROM deals WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("list deal pipelines: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pipeline id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deal pipelines: %w", err)
	}
	return ids, nil
}

// UpdateDwellSnapshot refreshes the cached days-in-stage counter. The live
// value is always recomputed on read; this only keeps the column usable for
// coarse queries.
func (r *Repo) UpdateDwellSnapshot(ctx context.Context, dealID uuid.UUID, days int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE deals SET days_in_current_stage = $2
		WHERE id = $1 AND deleted_at IS NULL`,
		dealID, days,
	)
	if err != nil {
		return fmt.Errorf("update dwell snapshot: %w", err)
	}
	return nil
}
