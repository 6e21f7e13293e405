package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Stage is one named step of a pipeline. Stages have no lifecycle of their
// own; they exist only inside their pipeline and are addressed by position.
type Stage struct {
	ID           uuid.UUID `db:"id"`
	PipelineID   uuid.UUID `db:"pipeline_id"`
	Name         string    `db:"name"`
	Description  *string   `db:"description"`
	Probability  int       `db:"probability"`
	Color        *string   `db:"color"`
	Position     int       `db:"position"`
	IsActive     bool      `db:"is_active"`
	IsClosedWon  bool      `db:"is_closed_won"`
	IsClosedLost bool      `db:"is_closed_lost"`
}

// IsTerminal reports whether landing on this stage closes the deal.
func (s Stage) IsTerminal() bool {
	return s.IsClosedWon || s.IsClosedLost
}

// Pipeline is a named, ordered collection of stages owned by one organization.
type Pipeline struct {
	ID             uuid.UUID `db:"id"`
	OrganizationID uuid.UUID `db:"organization_id"`
	Name           string    `db:"name"`
	Description    *string   `db:"description"`
	IsDefault      bool      `db:"is_default"`
	IsActive       bool      `db:"is_active"`
	Stages         []Stage
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// StageParams contains the attributes of a stage for create/update calls.
type StageParams struct {
	Name         string
	Description  *string
	Probability  int
	Color        *string
	IsActive     bool
	IsClosedWon  bool
	IsClosedLost bool
}

// CreateParams contains parameters for creating a pipeline with its stages.
type CreateParams struct {
	OrganizationID uuid.UUID
	Name           string
	Description    *string
	IsDefault      bool
	Stages         []StageParams
}

// UpdateParams contains parameters for updating pipeline metadata.
type UpdateParams struct {
	OrganizationID uuid.UUID
	ID             uuid.UUID
	Name           *string
	Description    *string
	IsActive       *bool
}

// UpdateStageParams contains parameters for editing a single stage in place.
type UpdateStageParams struct {
	OrganizationID uuid.UUID
	PipelineID     uuid.UUID
	StageID        uuid.UUID
	Name           *string
	Description    *string
	Probability    *int
	Color          *string
	IsActive       *bool
	IsClosedWon    *bool
	IsClosedLost   *bool
}

// StageReader is the read-only contract the stage transition engine consumes.
// Implementations must resolve against the latest stored definitions on every
// call; stage state is never cached across calls.
type StageReader interface {
	GetStage(ctx context.Context, organizationID, pipelineID, stageID uuid.UUID) (Stage, error)
	GetStagesOrdered(ctx context.Context, organizationID, pipelineID uuid.UUID) ([]Stage, error)
	GetNextActiveStage(ctx context.Context, organizationID, pipelineID, stageID uuid.UUID) (*Stage, error)
	GetPreviousActiveStage(ctx context.Context, organizationID, pipelineID, stageID uuid.UUID) (*Stage, error)
}

// PipelineReader provides read operations over whole pipelines.
type PipelineReader interface {
	GetByID(ctx context.Context, organizationID, id uuid.UUID) (Pipeline, error)
	GetDefault(ctx context.Context, organizationID uuid.UUID) (Pipeline, error)
	List(ctx context.Context, organizationID uuid.UUID) ([]Pipeline, error)
}

// PipelineWriter provides admin mutation operations on pipeline definitions.
type PipelineWriter interface {
	Create(ctx context.Context, params CreateParams) (Pipeline, error)
	Update(ctx context.Context, params UpdateParams) (Pipeline, error)
	SoftDelete(ctx context.Context, organizationID, id uuid.UUID) error
	SetDefault(ctx context.Context, organizationID, id uuid.UUID) error
	AddStage(ctx context.Context, organizationID, pipelineID uuid.UUID, params StageParams, position *int) (Stage, error)
	UpdateStage(ctx context.Context, params UpdateStageParams) (Stage, error)
	RemoveStage(ctx context.Context, organizationID, pipelineID, stageID uuid.UUID) error
	ReorderStages(ctx context.Context, organizationID, pipelineID uuid.UUID, orderedStageIDs []uuid.UUID) ([]Stage, error)
	CountDealsInStage(ctx context.Context, stageID uuid.UUID) (int, error)
	CountActiveStages(ctx context.Context, pipelineID uuid.UUID) (int, error)
}

// Repository combines all pipeline repository operations.
type Repository interface {
	StageReader
	PipelineReader
	PipelineWriter
}
