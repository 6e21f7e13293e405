package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dealflow_backend/internal/deals/domain"
)

// Deal is the persisted deal projection. Stage occupancy lives in the
// history ledger; the stage fields here are the cache the transition
// operation keeps consistent.
type Deal struct {
	ID                    uuid.UUID
	OrganizationID        uuid.UUID
	PipelineID            uuid.UUID
	StageID               uuid.UUID
	Title                 string
	Description           *string
	ValueCents            int64
	Currency              string
	Priority              string
	Status                domain.Status
	Probability           int
	OwnerID               uuid.UUID
	CurrentStageEnteredAt time.Time
	DaysInCurrentStage    int
	ExpectedCloseDate     *time.Time
	ActualCloseDate       *time.Time
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HistoryEntry is one row of a deal's stage-occupancy ledger. An open entry
// has no ExitedAt; exactly one exists per deal at any time.
type HistoryEntry struct {
	ID         uuid.UUID
	DealID     uuid.UUID
	StageID    uuid.UUID
	StageName  string
	EnteredAt  time.Time
	ExitedAt   *time.Time
	DurationMS *int64
	Reason     *string
	ChangedBy  uuid.UUID
}

// CreateParams contains parameters for inserting a new deal.
type CreateParams struct {
	OrganizationID    uuid.UUID
	PipelineID        uuid.UUID
	StageID           uuid.UUID
	Title             string
	Description       *string
	ValueCents        int64
	Currency          string
	Priority          string
	Status            domain.Status
	Probability       int
	OwnerID           uuid.UUID
	ExpectedCloseDate *time.Time
	ActualCloseDate   *time.Time
	EnteredAt         time.Time
}

// UpdateParams contains parameters for editing deal fields outside of a
// stage transition. Nil means unchanged.
type UpdateParams struct {
	OrganizationID     uuid.UUID
	ID                 uuid.UUID
	Title              *string
	Description        *string
	ValueCents         *int64
	Currency           *string
	Priority           *string
	Probability        *int
	OwnerID            *uuid.UUID
	ExpectedCloseDate  *time.Time
	DaysInCurrentStage *int
}

// ListParams contains filters and pagination for deal listing.
type ListParams struct {
	PipelineID *uuid.UUID
	StageID    *uuid.UUID
	Status     *domain.Status
	Priority   *string
	OwnerID    *uuid.UUID
	Search     *string
	Limit      int
	Offset     int
}

// TransitionParams carries everything ApplyTransition writes in one
// transaction: the closed-and-reopened ledger pair, the projection update
// and the derived status, guarded by the optimistic version check.
type TransitionParams struct {
	OrganizationID  uuid.UUID
	DealID          uuid.UUID
	ExpectedVersion int64
	TargetStageID   uuid.UUID
	TargetStageName string
	Now             time.Time
	ActorID         uuid.UUID
	Reason          *string
	Derived         domain.Derivation
}

// Repository defines data access for deals and their stage history.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (Deal, error)
	GetByID(ctx context.Context, organizationID, id uuid.UUID) (Deal, error)
	List(ctx context.Context, organizationID uuid.UUID, params ListParams) ([]Deal, int, error)
	Update(ctx context.Context, params UpdateParams) (Deal, error)
	SoftDelete(ctx context.Context, organizationID, id uuid.UUID) error

	// ApplyTransition applies one stage transition atomically. It returns
	// apperr.Conflict when the version check fails and apperr.NotFound when
	// DealID does not resolve to a live deal of the organization.
	ApplyTransition(ctx context.Context, params TransitionParams) (Deal, error)

	GetHistory(ctx context.Context, organizationID, dealID uuid.UUID) ([]HistoryEntry, error)
	SeedInitialEntry(ctx context.Context, dealID, stageID uuid.UUID, stageName string, enteredAt time.Time, actorID uuid.UUID) error
	ListHistoryMissingNames(ctx context.Context, dealID uuid.UUID) ([]HistoryEntry, error)
	SetHistoryStageName(ctx context.Context, entryID uuid.UUID, stageName string) error

	// ListOpenByPipeline feeds the stuck-deal scan and dwell refresh jobs.
	ListOpenByPipeline(ctx context.Context, pipelineID uuid.UUID) ([]Deal, error)
	ListPipelineIDs(ctx context.Context) ([]uuid.UUID, error)
	UpdateDwellSnapshot(ctx context.Context, dealID uuid.UUID, days int) error
}
