package transport

import (
	"time"

	"github.com/google/uuid"
)

// CreateDealRequest contains data for creating a new deal. PipelineID falls
// back to the organization's default pipeline and StageID to its first
// active stage.
type CreateDealRequest struct {
	Title             string     `json:"title" validate:"required,min=1,max=200"`
	Description       *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	PipelineID        *uuid.UUID `json:"pipelineId,omitempty"`
	StageID           *uuid.UUID `json:"stageId,omitempty"`
	ValueCents        int64      `json:"valueCents" validate:"min=0"`
	Currency          *string    `json:"currency,omitempty" validate:"omitempty,len=3"`
	Priority          *string    `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
	OwnerID           *uuid.UUID `json:"ownerId,omitempty"`
	ExpectedCloseDate *time.Time `json:"expectedCloseDate,omitempty"`
}

// UpdateDealRequest contains data for editing deal fields. Probability here
// is the explicit override that survives until the next stage move.
type UpdateDealRequest struct {
	Title             *string    `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description       *string    `json:"description,omitempty" validate:"omitempty,max=2000"`
	ValueCents        *int64     `json:"valueCents,omitempty" validate:"omitempty,min=0"`
	Currency          *string    `json:"currency,omitempty" validate:"omitempty,len=3"`
	Priority          *string    `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
	Probability       *int       `json:"probability,omitempty" validate:"omitempty,min=0,max=100"`
	OwnerID           *uuid.UUID `json:"ownerId,omitempty"`
	ExpectedCloseDate *time.Time `json:"expectedCloseDate,omitempty"`
}

// MoveStageRequest moves a deal to another stage of its pipeline.
type MoveStageRequest struct {
	StageID uuid.UUID `json:"stageId" validate:"required"`
	Reason  *string   `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// ListDealsRequest contains query filters for deal listing.
type ListDealsRequest struct {
	PipelineID *uuid.UUID `form:"pipelineId"`
	StageID    *uuid.UUID `form:"stageId"`
	Status     *string    `form:"status" validate:"omitempty,oneof=open won lost pending"`
	Priority   *string    `form:"priority" validate:"omitempty,oneof=low medium high"`
	OwnerID    *uuid.UUID `form:"ownerId"`
	Search     *string    `form:"search"`
	Page       int        `form:"page"`
	PageSize   int        `form:"pageSize"`
}

// DealResponse represents a deal in API responses. DaysInCurrentStage is
// always the live recomputed value, not the stored snapshot.
type DealResponse struct {
	ID                    uuid.UUID  `json:"id"`
	PipelineID            uuid.UUID  `json:"pipelineId"`
	StageID               uuid.UUID  `json:"stageId"`
	Title                 string     `json:"title"`
	Description           *string    `json:"description,omitempty"`
	ValueCents            int64      `json:"valueCents"`
	Currency              string     `json:"currency"`
	Priority              string     `json:"priority"`
	Status                string     `json:"status"`
	Probability           int        `json:"probability"`
	OwnerID               uuid.UUID  `json:"ownerId"`
	CurrentStageEnteredAt string     `json:"currentStageEnteredAt"`
	DaysInCurrentStage    int        `json:"daysInCurrentStage"`
	IsStuck               bool       `json:"isStuck"`
	ExpectedCloseDate     *time.Time `json:"expectedCloseDate,omitempty"`
	ActualCloseDate       *time.Time `json:"actualCloseDate,omitempty"`
	Version               int64      `json:"version"`
	CreatedAt             string     `json:"createdAt"`
	UpdatedAt             string     `json:"updatedAt"`
}

// DealListResponse wraps a paginated deal listing.
type DealListResponse struct {
	Items    []DealResponse `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

// HistoryEntryResponse is one ledger entry of a deal's stage history.
type HistoryEntryResponse struct {
	ID         uuid.UUID  `json:"id"`
	StageID    uuid.UUID  `json:"stageId"`
	StageName  string     `json:"stageName"`
	EnteredAt  string     `json:"enteredAt"`
	ExitedAt   *time.Time `json:"exitedAt,omitempty"`
	DurationMS *int64     `json:"durationMs,omitempty"`
	Reason     *string    `json:"reason,omitempty"`
	ChangedBy  uuid.UUID  `json:"changedBy"`
}

// HistoryResponse wraps a deal's stage history ledger.
type HistoryResponse struct {
	Items []HistoryEntryResponse `json:"items"`
	Total int                    `json:"total"`
}
