package transport

import "github.com/google/uuid"

// StageInput describes one stage in a create or add-stage request.
type StageInput struct {
	Name         string  `json:"name" validate:"required,min=1,max=100"`
	Description  *string `json:"description,omitempty" validate:"omitempty,max=500"`
	Probability  int     `json:"probability" validate:"min=0,max=100"`
	Color        *string `json:"color,omitempty" validate:"omitempty,max=20"`
	IsActive     *bool   `json:"isActive,omitempty"`
	IsClosedWon  bool    `json:"isClosedWon"`
	IsClosedLost bool    `json:"isClosedLost"`
}

// CreatePipelineRequest contains data for creating a new pipeline.
// When Stages is empty the default stage set is seeded.
type CreatePipelineRequest struct {
	Name        string       `json:"name" validate:"required,min=1,max=100"`
	Description *string      `json:"description,omitempty" validate:"omitempty,max=500"`
	IsDefault   bool         `json:"isDefault"`
	Stages      []StageInput `json:"stages,omitempty" validate:"omitempty,dive"`
}

// UpdatePipelineRequest contains data for updating pipeline metadata.
type UpdatePipelineRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
	IsActive    *bool   `json:"isActive,omitempty"`
}

// AddStageRequest contains data for adding a stage to an existing pipeline.
// Position is optional; omitted means append at the end.
type AddStageRequest struct {
	StageInput
	Position *int `json:"position,omitempty" validate:"omitempty,min=0"`
}

// UpdateStageRequest contains data for editing a stage in place.
type UpdateStageRequest struct {
	Name         *string `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	Description  *string `json:"description,omitempty" validate:"omitempty,max=500"`
	Probability  *int    `json:"probability,omitempty" validate:"omitempty,min=0,max=100"`
	Color        *string `json:"color,omitempty" validate:"omitempty,max=20"`
	IsActive     *bool   `json:"isActive,omitempty"`
	IsClosedWon  *bool   `json:"isClosedWon,omitempty"`
	IsClosedLost *bool   `json:"isClosedLost,omitempty"`
}

// ReorderStagesRequest lists every stage of the pipeline in its new order.
type ReorderStagesRequest struct {
	StageIDs []uuid.UUID `json:"stageIds" validate:"required,min=2"`
}

// StageResponse represents a stage in API responses.
type StageResponse struct {
	ID           uuid.UUID `json:"id"`
	PipelineID   uuid.UUID `json:"pipelineId"`
	Name         string    `json:"name"`
	Description  *string   `json:"description,omitempty"`
	Probability  int       `json:"probability"`
	Color        *string   `json:"color,omitempty"`
	Position     int       `json:"position"`
	IsActive     bool      `json:"isActive"`
	IsClosedWon  bool      `json:"isClosedWon"`
	IsClosedLost bool      `json:"isClosedLost"`
}

// PipelineResponse represents a pipeline with its ordered stages.
type PipelineResponse struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	IsDefault   bool            `json:"isDefault"`
	IsActive    bool            `json:"isActive"`
	Stages      []StageResponse `json:"stages"`
	CreatedAt   string          `json:"createdAt"`
	UpdatedAt   string          `json:"updatedAt"`
}

// PipelineListResponse wraps a list of pipelines.
type PipelineListResponse struct {
	Items []PipelineResponse `json:"items"`
	Total int                `json:"total"`
}

// StageListResponse wraps the ordered stage list of one pipeline.
type StageListResponse struct {
	Items []StageResponse `json:"items"`
	Total int             `json:"total"`
}
