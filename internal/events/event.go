// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"dealflow_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Deal Domain Events
// =============================================================================

// DealCreated is published when a new deal enters the pipeline.
type DealCreated struct {
	BaseEvent
	DealID         uuid.UUID `json:"dealId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	PipelineID     uuid.UUID `json:"pipelineId"`
	StageID        uuid.UUID `json:"stageId"`
	Title          string    `json:"title"`
	ValueCents     int64     `json:"valueCents"`
	Currency       string    `json:"currency"`
	CreatedBy      uuid.UUID `json:"createdBy"`
}

func (e DealCreated) EventName() string { return "deals.deal.created" }

// DealStageChanged is published on every successful stage transition.
type DealStageChanged struct {
	BaseEvent
	DealID         uuid.UUID `json:"dealId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	PipelineID     uuid.UUID `json:"pipelineId"`
	OldStageID     uuid.UUID `json:"oldStageId"`
	NewStageID     uuid.UUID `json:"newStageId"`
	OldStageName   string    `json:"oldStageName"`
	NewStageName   string    `json:"newStageName"`
	Reason         string    `json:"reason,omitempty"`
	ChangedBy      uuid.UUID `json:"changedBy"`
}

func (e DealStageChanged) EventName() string { return "deals.stage.changed" }

// DealWon is published when a deal lands on a closed-won stage.
type DealWon struct {
	BaseEvent
	DealID         uuid.UUID `json:"dealId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	PipelineID     uuid.UUID `json:"pipelineId"`
	StageID        uuid.UUID `json:"stageId"`
	Title          string    `json:"title"`
	ValueCents     int64     `json:"valueCents"`
	Currency       string    `json:"currency"`
	ActorID        uuid.UUID `json:"actorId"`
}

func (e DealWon) EventName() string { return "deals.deal.won" }

// DealLost is published when a deal lands on a closed-lost stage.
type DealLost struct {
	BaseEvent
	DealID         uuid.UUID `json:"dealId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	PipelineID     uuid.UUID `json:"pipelineId"`
	StageID        uuid.UUID `json:"stageId"`
	Title          string    `json:"title"`
	Reason         string    `json:"reason,omitempty"`
	ActorID        uuid.UUID `json:"actorId"`
}

func (e DealLost) EventName() string { return "deals.deal.lost" }

// DealReopened is published when a closed deal is moved back to a
// non-terminal stage.
type DealReopened struct {
	BaseEvent
	DealID         uuid.UUID `json:"dealId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	PipelineID     uuid.UUID `json:"pipelineId"`
	StageID        uuid.UUID `json:"stageId"`
	PreviousStatus string    `json:"previousStatus"`
	ActorID        uuid.UUID `json:"actorId"`
}

func (e DealReopened) EventName() string { return "deals.deal.reopened" }

// DealStuckDetected is published by the scheduler when an open deal has been
// sitting in its current stage past the configured threshold.
type DealStuckDetected struct {
	BaseEvent
	DealID         uuid.UUID `json:"dealId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	PipelineID     uuid.UUID `json:"pipelineId"`
	StageID        uuid.UUID `json:"stageId"`
	StageName      string    `json:"stageName"`
	Title          string    `json:"title"`
	DaysInStage    int       `json:"daysInStage"`
	OwnerID        uuid.UUID `json:"ownerId"`
}

func (e DealStuckDetected) EventName() string { return "deals.deal.stuck" }

// =============================================================================
// Pipeline Domain Events
// =============================================================================

// PipelineCreated is published when a new pipeline definition is created.
type PipelineCreated struct {
	BaseEvent
	PipelineID     uuid.UUID `json:"pipelineId"`
	OrganizationID uuid.UUID `json:"organizationId"`
	Name           string    `json:"name"`
	StageCount     int       `json:"stageCount"`
	CreatedBy      uuid.UUID `json:"createdBy"`
}

func (e PipelineCreated) EventName() string { return "pipelines.pipeline.created" }

// PipelineDefaultChanged is published when the default pipeline of an
// organization changes.
type PipelineDefaultChanged struct {
	BaseEvent
	PipelineID     uuid.UUID `json:"pipelineId"`
	OrganizationID uuid.UUID `json:"organizationId"`
}

func (e PipelineDefaultChanged) EventName() string { return "pipelines.default.changed" }
