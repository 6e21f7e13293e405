package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dealflow_backend/platform/apperr"
)

const (
	pipelineNotFoundMessage = "pipeline not found"
	stageNotFoundMessage    = "stage not found"
)

// Repo implements the Repository interface with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new pipelines repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

// GetByID retrieves a pipeline with its stages ordered by position.
func (r *Repo) GetByID(ctx context.Context, organizationID, id uuid.UUID) (Pipeline, error) {
	query := `
		SELECT id, organization_id, name, description, is_default, is_active, created_at, updated_at
		FROM pipelines
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`

	var p Pipeline
	err := r.pool.QueryRow(ctx, query, id, organizationID).Scan(
		&p.ID, &p.OrganizationID, &p.Name, &p.Description, &p.IsDefault, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pipeline{}, apperr.NotFound(pipelineNotFoundMessage)
		}
		return Pipeline{}, fmt.Errorf("get pipeline by id: %w", err)
	}

	stages, err := r.GetStagesOrdered(ctx, organizationID, id)
	if err != nil {
		return Pipeline{}, err
	}
	p.Stages = stages

	return p, nil
}

// GetDefault retrieves the organization's default pipeline.
func (r *Repo) GetDefault(ctx context.Context, organizationID uuid.UUID) (Pipeline, error) {
	query := `
		SELECT id
		FROM pipelines
		WHERE organization_id = $1 AND is_default AND deleted_at IS NULL`

	var id uuid.UUID
	if err := r.pool.QueryRow(ctx, query, organizationID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Pipeline{}, apperr.NotFound(pipelineNotFoundMessage)
		}
		return Pipeline{}, fmt.Errorf("get default pipeline: %w", err)
	}

	return r.GetByID(ctx, organizationID, id)
}

// List retrieves all live pipelines of an organization with their stages.
func (r *Repo) List(ctx context.Context, organizationID uuid.UUID) ([]Pipeline, error) {
	query := `
		SELECT id, organization_id, name, description, is_default, is_active, created_at, updated_at
		FROM pipelines
		WHERE organization_id = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	pipelines := make([]Pipeline, 0)
	for rows.Next() {
		var p Pipeline
		if err := rows.Scan(
			&p.ID, &p.OrganizationID, &p.Name, &p.Description, &p.IsDefault, &p.IsActive,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		pipelines = append(pipelines, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}

	for i := range pipelines {
		stages, err := r.GetStagesOrdered(ctx, organizationID, pipelines[i].ID)
		if err != nil {
			return nil, err
		}
		pipelines[i].Stages = stages
	}

	return pipelines, nil
}

// GetStage resolves one stage of a live pipeline owned by the organization.
func (r *Repo) GetStage(ctx context.Context, organizationID, pipelineID, stageID uuid.UUID) (Stage, error) {
	query := `
		SELECT s.id, s.pipeline_id, s.name, s.description, s.probability, s.color, s.position,
		       s.is_active, s.is_closed_won, s.is_closed_lost
		FROM pipeline_stages s
		JOIN pipelines p ON p.id = s.pipeline_id
		WHERE s.id = $1 AND s.pipeline_id = $2 AND p.organization_id = $3 AND p.deleted_at IS NULL`

	var s Stage
	err := r.pool.QueryRow(ctx, query, stageID, pipelineID, organizationID).Scan(
		&s.ID, &s.PipelineID, &s.Name, &s.Description, &s.Probability, &s.Color, &s.Position,
		&s.IsActive, &s.IsClosedWon, &s.IsClosedLost,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stage{}, apperr.NotFound(stageNotFoundMessage)
		}
		return Stage{}, fmt.Errorf("get stage: %w", err)
	}

	return s, nil
}

// GetStagesOrdered retrieves the pipeline's stages ordered by position.
func (r *Repo) GetStagesOrdered(ctx context.Context, organizationID, pipelineID uuid.UUID) ([]Stage, error) {
	query := `
		SELECT s.id, s.pipeline_id, s.name, s.description, s.probability, s.color, s.position,
		       s.is_active, s.is_closed_won, s.is_closed_lost
		FROM pipeline_stages s
		JOIN pipelines p ON p.id = s.pipeline_id
		WHERE s.pipeline_id = $1 AND p.organization_id = $2 AND p.deleted_at IS NULL
		ORDER BY s.position ASC`

	rows, err := r.pool.Query(ctx, query, pipelineID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	return scanStages(rows)
}

// GetNextActiveStage returns the first active stage positioned after the
// given stage, or nil when the given stage is the last active one.
func (r *Repo) GetNextActiveStage(ctx context.Context, organizationID, pipelineID, stageID uuid.UUID) (*Stage, error) {
	return r.adjacentActiveStage(ctx, organizationID, pipelineID, stageID, true)
}

// GetPreviousActiveStage returns the first active stage positioned before the
// given stage, or nil when the given stage is the first active one.
func (r *Repo) GetPreviousActiveStage(ctx context.Context, organizationID, pipelineID, stageID uuid.UUID) (*Stage, error) {
	return r.adjacentActiveStage(ctx, organizationID, pipelineID, stageID, false)
}

func (r *Repo) adjacentActiveStage(ctx context.Context, organizationID, pipelineID, stageID uuid.UUID, forward bool) (*Stage, error) {
	// The reference stage must exist; absence of a neighbour is not an error.
	ref, err := r.GetStage(ctx, organizationID, pipelineID, stageID)
	if err != nil {
		return nil, err
	}

	comparison := "s.position > $2 ORDER BY s.position ASC"
	if !forward {
		comparison = "s.position < $2 ORDER BY s.position DESC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM pipeline_stages s
		WHERE s.pipeline_id = $1 AND s.is_active AND %s
		LIMIT 1`, prefixedStageColumns("s"), comparison)

	var s Stage
	err = r.pool.QueryRow(ctx, query, pipelineID, ref.Position).Scan(
		&s.ID, &s.PipelineID, &s.Name, &s.Description, &s.Probability, &s.Color, &s.Position,
		&s.IsActive, &s.IsClosedWon, &s.IsClosedLost,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("adjacent stage: %w", err)
	}

	return &s, nil
}

// Create inserts a pipeline and its initial stage set in one transaction.
// Stage positions are assigned densely in the given order. If the pipeline is
// marked default, any prior default of the organization is unset first.
func (r *Repo) Create(ctx context.Context, params CreateParams) (Pipeline, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Pipeline{}, fmt.Errorf("create pipeline: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if params.IsDefault {
		if err := unsetDefault(ctx, tx, params.OrganizationID); err != nil {
			return Pipeline{}, err
		}
	}

	var pipelineID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO pipelines (organization_id, name, description, is_default)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		params.OrganizationID, params.Name, params.Description, params.IsDefault,
	).Scan(&pipelineID)
	if err != nil {
		return Pipeline{}, fmt.Errorf("insert pipeline: %w", err)
	}

	for position, stage := range params.Stages {
		_, err := tx.Exec(ctx, `
			INSERT INTO pipeline_stages (pipeline_id, name, description, probability, color, position, is_active, is_closed_won, is_closed_lost)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			pipelineID, stage.Name, stage.Description, stage.Probability, stage.Color,
			position, stage.IsActive, stage.IsClosedWon, stage.IsClosedLost,
		)
		if err != nil {
			return Pipeline{}, fmt.Errorf("insert stage: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Pipeline{}, fmt.Errorf("create pipeline: commit: %w", err)
	}

	return r.GetByID(ctx, params.OrganizationID, pipelineID)
}

// Update edits pipeline metadata. Structural stage changes have their own
// operations so position renormalization always happens transactionally.
func (r *Repo) Update(ctx context.Context, params UpdateParams) (Pipeline, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE pipelines
		SET name = COALESCE($3, name),
		    description = COALESCE($4, description),
		    is_active = COALESCE($5, is_active),
		    updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`,
		params.ID, params.OrganizationID, params.Name, params.Description, params.IsActive,
	)
	if err != nil {
		return Pipeline{}, fmt.Errorf("update pipeline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Pipeline{}, apperr.NotFound(pipelineNotFoundMessage)
	}

	return r.GetByID(ctx, params.OrganizationID, params.ID)
}

// SoftDelete marks the pipeline deleted. History referencing it stays intact.
func (r *Repo) SoftDelete(ctx context.Context, organizationID, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE pipelines
		SET deleted_at = now(), is_default = FALSE, updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`,
		id, organizationID,
	)
	if err != nil {
		return fmt.Errorf("soft delete pipeline: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(pipelineNotFoundMessage)
	}
	return nil
}

// SetDefault makes the pipeline the organization's default, unsetting any
// prior default inside the same transaction.
func (r *Repo) SetDefault(ctx context.Context, organizationID, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("set default: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := unsetDefault(ctx, tx, organizationID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE pipelines
		SET is_default = TRUE, updated_at = now()
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL`,
		id, organizationID,
	)
	if err != nil {
		return fmt.Errorf("set default: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(pipelineNotFoundMessage)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("set default: commit: %w", err)
	}
	return nil
}

// AddStage appends (or inserts at position) one stage and renormalizes
// positions to a dense 0..N-1 sequence.
func (r *Repo) AddStage(ctx context.Context, organizationID, pipelineID uuid.UUID, params StageParams, position *int) (Stage, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Stage{}, fmt.Errorf("add stage: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockPipeline(ctx, tx, organizationID, pipelineID); err != nil {
		return Stage{}, err
	}

	// Append past the end by default; an explicit position shifts followers.
	insertPosition := 1 << 20
	if position != nil {
		insertPosition = *position
		_, err := tx.Exec(ctx, `
			UPDATE pipeline_stages SET position = position + 1
			WHERE pipeline_id = $1 AND position >= $2`,
			pipelineID, insertPosition,
		)
		if err != nil {
			return Stage{}, fmt.Errorf("shift stages: %w", err)
		}
	}

	var stageID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO pipeline_stages (pipeline_id, name, description, probability, color, position, is_active, is_closed_won, is_closed_lost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		pipelineID, params.Name, params.Description, params.Probability, params.Color,
		insertPosition, params.IsActive, params.IsClosedWon, params.IsClosedLost,
	).Scan(&stageID)
	if err != nil {
		return Stage{}, fmt.Errorf("insert stage: %w", err)
	}

	if err := renormalizePositions(ctx, tx, pipelineID); err != nil {
		return Stage{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Stage{}, fmt.Errorf("add stage: commit: %w", err)
	}

	return r.GetStage(ctx, organizationID, pipelineID, stageID)
}

// UpdateStage edits stage attributes in place. Terminal-flag consistency is
// validated by the service before this is called; the DB CHECK is the last line.
func (r *Repo) UpdateStage(ctx context.Context, params UpdateStageParams) (Stage, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE pipeline_stages s
		SET name = COALESCE($4, s.name),
		    description = COALESCE($5, s.description),
		    probability = COALESCE($6, s.probability),
		    color = COALESCE($7, s.color),
		    is_active = COALESCE($8, s.is_active),
		    is_closed_won = COALESCE($9, s.is_closed_won),
		    is_closed_lost = COALESCE($10, s.is_closed_lost),
		    updated_at = now()
		FROM pipelines p
		WHERE s.id = $1 AND s.pipeline_id = $2 AND p.id = s.pipeline_id
		  AND p.organization_id = $3 AND p.deleted_at IS NULL`,
		params.StageID, params.PipelineID, params.OrganizationID,
		params.Name, params.Description, params.Probability, params.Color,
		params.IsActive, params.IsClosedWon, params.IsClosedLost,
	)
	if err != nil {
		return Stage{}, fmt.Errorf("update stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Stage{}, apperr.NotFound(stageNotFoundMessage)
	}

	return r.GetStage(ctx, params.OrganizationID, params.PipelineID, params.StageID)
}

// RemoveStage deletes the stage and renormalizes the remaining positions.
// Occupancy and minimum-stage validation happens in the service layer first.
func (r *Repo) RemoveStage(ctx context.Context, organizationID, pipelineID, stageID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("remove stage: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockPipeline(ctx, tx, organizationID, pipelineID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM pipeline_stages WHERE id = $1 AND pipeline_id = $2`,
		stageID, pipelineID,
	)
	if err != nil {
		return fmt.Errorf("delete stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(stageNotFoundMessage)
	}

	if err := renormalizePositions(ctx, tx, pipelineID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("remove stage: commit: %w", err)
	}
	return nil
}

// ReorderStages rewrites positions to match the supplied full ordering.
func (r *Repo) ReorderStages(ctx context.Context, organizationID, pipelineID uuid.UUID, orderedStageIDs []uuid.UUID) ([]Stage, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("reorder stages: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockPipeline(ctx, tx, organizationID, pipelineID); err != nil {
		return nil, err
	}

	var existing int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM pipeline_stages WHERE pipeline_id = $1`, pipelineID).Scan(&existing); err != nil {
		return nil, fmt.Errorf("count stages: %w", err)
	}
	if existing != len(orderedStageIDs) {
		return nil, apperr.Validation("reorder must include every stage of the pipeline exactly once")
	}

	for position, stageID := range orderedStageIDs {
		tag, err := tx.Exec(ctx, `
			UPDATE pipeline_stages SET position = $3, updated_at = now()
			WHERE id = $1 AND pipeline_id = $2`,
			stageID, pipelineID, position,
		)
		if err != nil {
			return nil, fmt.Errorf("reorder stage: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, apperr.NotFound(stageNotFoundMessage)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("reorder stages: commit: %w", err)
	}

	return r.GetStagesOrdered(ctx, organizationID, pipelineID)
}

// CountDealsInStage counts live deals currently sitting in the stage.
func (r *Repo) CountDealsInStage(ctx context.Context, stageID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM deals WHERE stage_id = $1 AND deleted_at IS NULL`,
		stageID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count deals in stage: %w", err)
	}
	return count, nil
}

// CountActiveStages counts the pipeline's active stages.
func (r *Repo) CountActiveStages(ctx context.Context, pipelineID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM pipeline_stages WHERE pipeline_id = $1 AND is_active`,
		pipelineID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active stages: %w", err)
	}
	return count, nil
}

func unsetDefault(ctx context.Context, tx pgx.Tx, organizationID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE pipelines SET is_default = FALSE, updated_at = now()
		WHERE organization_id = $1 AND is_default AND deleted_at IS NULL`,
		organizationID,
	)
	if err != nil {
		return fmt.Errorf("unset default pipeline: %w", err)
	}
	return nil
}

// lockPipeline takes a row lock so concurrent structural edits serialize and
// position renormalization sees a stable stage set.
func lockPipeline(ctx context.Context, tx pgx.Tx, organizationID, pipelineID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id FROM pipelines
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
		FOR UPDATE`,
		pipelineID, organizationID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound(pipelineNotFoundMessage)
		}
		return fmt.Errorf("lock pipeline: %w", err)
	}
	return nil
}

// renormalizePositions rewrites positions to a dense 0..N-1 sequence keeping
// the current relative order.
func renormalizePositions(ctx context.Context, tx pgx.Tx, pipelineID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		WITH ordered AS (
			SELECT id, ROW_NUMBER() OVER (ORDER BY position, created_at) - 1 AS new_position
			FROM pipeline_stages
			WHERE pipeline_id = $1
		)
		UPDATE pipeline_stages s
		SET position = o.new_position
		FROM ordered o
		WHERE s.id = o.id AND s.position <> o.new_position`,
		pipelineID,
	)
	if err != nil {
		return fmt.Errorf("renormalize stage positions: %w", err)
	}
	return nil
}

func prefixedStageColumns(alias string) string {
	return fmt.Sprintf("%[1]s.id, %[1]s.pipeline_id, %[1]s.name, %[1]s.description, %[1]s.probability, %[1]s.color, %[1]s.position, %[1]s.is_active, %[1]s.is_closed_won, %[1]s.is_closed_lost", alias)
}

func scanStages(rows pgx.Rows) ([]Stage, error) {
	stages := make([]Stage, 0)
	for rows.Next() {
		var s Stage
		if err := rows.Scan(
			&s.ID, &s.PipelineID, &s.Name, &s.Description, &s.Probability, &s.Color, &s.Position,
			&s.IsActive, &s.IsClosedWon, &s.IsClosedLost,
		); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stages: %w", err)
	}
	return stages, nil
}
