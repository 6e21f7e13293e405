package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dealflow_backend/internal/events"
	"dealflow_backend/internal/pipelines/repository"
	"dealflow_backend/internal/pipelines/transport"
	"dealflow_backend/platform/apperr"
	"dealflow_backend/platform/config"
	"dealflow_backend/platform/logger"
)

// Service provides business logic for pipeline definitions.
type Service struct {
	repo repository.Repository
	cfg  config.EngineConfig
	bus  events.Bus
	log  *logger.Logger
}

// New creates a new pipelines service.
func New(repo repository.Repository, cfg config.EngineConfig, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, cfg: cfg, bus: bus, log: log}
}

// defaultStages is the stage set seeded when a pipeline is created without
// an explicit one.
func defaultStages() []repository.StageParams {
	return []repository.StageParams{
		{Name: "Lead", Probability: 10, IsActive: true},
		{Name: "Qualified", Probability: 25, IsActive: true},
		{Name: "Proposal", Probability: 50, IsActive: true},
		{Name: "Negotiation", Probability: 75, IsActive: true},
		{Name: "Closed Won", Probability: 100, IsActive: true, IsClosedWon: true},
		{Name: "Closed Lost", Probability: 0, IsActive: true, IsClosedLost: true},
	}
}

// Create creates a pipeline with its stage set and publishes PipelineCreated.
func (s *Service) Create(ctx context.Context, organizationID, actorID uuid.UUID, req transport.CreatePipelineRequest) (transport.PipelineResponse, error) {
	stages := make([]repository.StageParams, 0, len(req.Stages))
	for _, in := range req.Stages {
		p, err := stageParamsFromInput(in)
		if err != nil {
			return transport.PipelineResponse{}, err
		}
		stages = append(stages, p)
	}
	if len(stages) == 0 {
		stages = defaultStages()
	}
	if len(stages) < s.cfg.GetPipelineMinStages() {
		return transport.PipelineResponse{}, apperr.Validation(
			fmt.Sprintf("a pipeline needs at least %d stages", s.cfg.GetPipelineMinStages()))
	}

	p, err := s.repo.Create(ctx, repository.CreateParams{
		OrganizationID: organizationID,
		Name:           req.Name,
		Description:    req.Description,
		IsDefault:      req.IsDefault,
		Stages:         stages,
	})
	if err != nil {
		return transport.PipelineResponse{}, err
	}

	s.bus.Publish(ctx, events.PipelineCreated{
		BaseEvent:      events.NewBaseEvent(),
		PipelineID:     p.ID,
		OrganizationID: organizationID,
		Name:           p.Name,
		StageCount:     len(p.Stages),
		CreatedBy:      actorID,
	})

	return toPipelineResponse(p), nil
}

// GetByID retrieves a pipeline with its ordered stages.
func (s *Service) GetByID(ctx context.Context, organizationID, id uuid.UUID) (transport.PipelineResponse, error) {
	p, err := s.repo.GetByID(ctx, organizationID, id)
	if err != nil {
		return transport.PipelineResponse{}, err
	}
	return toPipelineResponse(p), nil
}

// GetDefault retrieves the organization's default pipeline.
func (s *Service) GetDefault(ctx context.Context, organizationID uuid.UUID) (transport.PipelineResponse, error) {
	p, err := s.repo.GetDefault(ctx, organizationID)
	if err != nil {
		return transport.PipelineResponse{}, err
	}
	return toPipelineResponse(p), nil
}

// List retrieves all live pipelines of the organization.
func (s *Service) List(ctx context.Context, organizationID uuid.UUID) (transport.PipelineListResponse, error) {
	items, err := s.repo.List(ctx, organizationID)
	if err != nil {
		return transport.PipelineListResponse{}, err
	}
	resp := transport.PipelineListResponse{Items: make([]transport.PipelineResponse, 0, len(items)), Total: len(items)}
	for _, p := range items {
		resp.Items = append(resp.Items, toPipelineResponse(p))
	}
	return resp, nil
}

// Update edits pipeline metadata.
func (s *Service) Update(ctx context.Context, organizationID, id uuid.UUID, req transport.UpdatePipelineRequest) (transport.PipelineResponse, error) {
	p, err := s.repo.Update(ctx, repository.UpdateParams{
		OrganizationID: organizationID,
		ID:             id,
		Name:           req.Name,
		Description:    req.Description,
		IsActive:       req.IsActive,
	})
	if err != nil {
		return transport.PipelineResponse{}, err
	}
	return toPipelineResponse(p), nil
}

// Delete soft-deletes a pipeline. The default pipeline cannot be deleted so
// deal creation always has a fallback.
func (s *Service) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	p, err := s.repo.GetByID(ctx, organizationID, id)
	if err != nil {
		return err
	}
	if p.IsDefault {
		return apperr.Validation("the default pipeline cannot be deleted")
	}
	return s.repo.SoftDelete(ctx, organizationID, id)
}

// SetDefault makes the pipeline the organization's default.
func (s *Service) SetDefault(ctx context.Context, organizationID, id uuid.UUID) error {
	if err := s.repo.SetDefault(ctx, organizationID, id); err != nil {
		return err
	}
	s.bus.Publish(ctx, events.PipelineDefaultChanged{
		BaseEvent:      events.NewBaseEvent(),
		PipelineID:     id,
		OrganizationID: organizationID,
	})
	return nil
}

// AddStage adds a stage to the pipeline, appending unless a position is given.
func (s *Service) AddStage(ctx context.Context, organizationID, pipelineID uuid.UUID, req transport.AddStageRequest) (transport.StageResponse, error) {
	params, err := stageParamsFromInput(req.StageInput)
	if err != nil {
		return transport.StageResponse{}, err
	}
	st, err := s.repo.AddStage(ctx, organizationID, pipelineID, params, req.Position)
	if err != nil {
		return transport.StageResponse{}, err
	}
	return toStageResponse(st), nil
}

// UpdateStage edits a stage in place. A stage can never be flagged both
// closed-won and closed-lost, and deactivating a stage must leave the
// pipeline with enough active stages to run deals through.
func (s *Service) UpdateStage(ctx context.Context, organizationID, pipelineID, stageID uuid.UUID, req transport.UpdateStageRequest) (transport.StageResponse, error) {
	current, err := s.repo.GetStage(ctx, organizationID, pipelineID, stageID)
	if err != nil {
		return transport.StageResponse{}, err
	}

	won := current.IsClosedWon
	if req.IsClosedWon != nil {
		won = *req.IsClosedWon
	}
	lost := current.IsClosedLost
	if req.IsClosedLost != nil {
		lost = *req.IsClosedLost
	}
	if won && lost {
		return transport.StageResponse{}, apperr.Validation("a stage cannot be both closed-won and closed-lost")
	}

	if req.IsActive != nil && !*req.IsActive && current.IsActive {
		active, err := s.repo.CountActiveStages(ctx, pipelineID)
		if err != nil {
			return transport.StageResponse{}, err
		}
		if active-1 < s.cfg.GetPipelineMinStages() {
			return transport.StageResponse{}, apperr.Validation(
				fmt.Sprintf("a pipeline needs at least %d active stages", s.cfg.GetPipelineMinStages()))
		}
	}

	st, err := s.repo.UpdateStage(ctx, repository.UpdateStageParams{
		OrganizationID: organizationID,
		PipelineID:     pipelineID,
		StageID:        stageID,
		Name:           req.Name,
		Description:    req.Description,
		Probability:    req.Probability,
		Color:          req.Color,
		IsActive:       req.IsActive,
		IsClosedWon:    req.IsClosedWon,
		IsClosedLost:   req.IsClosedLost,
	})
	if err != nil {
		return transport.StageResponse{}, err
	}
	return toStageResponse(st), nil
}

// RemoveStage deletes a stage. Stages occupied by live deals cannot be
// removed, and the pipeline keeps its minimum stage count.
func (s *Service) RemoveStage(ctx context.Context, organizationID, pipelineID, stageID uuid.UUID) error {
	stage, err := s.repo.GetStage(ctx, organizationID, pipelineID, stageID)
	if err != nil {
		return err
	}

	occupied, err := s.repo.CountDealsInStage(ctx, stageID)
	if err != nil {
		return err
	}
	if occupied > 0 {
		return apperr.Validation(fmt.Sprintf("stage has %d deals in it and cannot be removed", occupied))
	}

	if stage.IsActive {
		active, err := s.repo.CountActiveStages(ctx, pipelineID)
		if err != nil {
			return err
		}
		if active-1 < s.cfg.GetPipelineMinStages() {
			return apperr.Validation(
				fmt.Sprintf("a pipeline needs at least %d active stages", s.cfg.GetPipelineMinStages()))
		}
	}

	return s.repo.RemoveStage(ctx, organizationID, pipelineID, stageID)
}

// ReorderStages rewrites the stage order. Every stage of the pipeline must
// appear exactly once.
func (s *Service) ReorderStages(ctx context.Context, organizationID, pipelineID uuid.UUID, req transport.ReorderStagesRequest) (transport.StageListResponse, error) {
	seen := make(map[uuid.UUID]struct{}, len(req.StageIDs))
	for _, id := range req.StageIDs {
		if _, dup := seen[id]; dup {
			return transport.StageListResponse{}, apperr.Validation("duplicate stage in reorder request")
		}
		seen[id] = struct{}{}
	}

	stages, err := s.repo.ReorderStages(ctx, organizationID, pipelineID, req.StageIDs)
	if err != nil {
		return transport.StageListResponse{}, err
	}
	return toStageListResponse(stages), nil
}

// ListStages retrieves the pipeline's stages ordered by position.
func (s *Service) ListStages(ctx context.Context, organizationID, pipelineID uuid.UUID) (transport.StageListResponse, error) {
	stages, err := s.repo.GetStagesOrdered(ctx, organizationID, pipelineID)
	if err != nil {
		return transport.StageListResponse{}, err
	}
	return toStageListResponse(stages), nil
}

func stageParamsFromInput(in transport.StageInput) (repository.StageParams, error) {
	if in.IsClosedWon && in.IsClosedLost {
		return repository.StageParams{}, apperr.Validation("a stage cannot be both closed-won and closed-lost")
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	return repository.StageParams{
		Name:         in.Name,
		Description:  in.Description,
		Probability:  in.Probability,
		Color:        in.Color,
		IsActive:     active,
		IsClosedWon:  in.IsClosedWon,
		IsClosedLost: in.IsClosedLost,
	}, nil
}

func toStageResponse(s repository.Stage) transport.StageResponse {
	return transport.StageResponse{
		ID:           s.ID,
		PipelineID:   s.PipelineID,
		Name:         s.Name,
		Description:  s.Description,
		Probability:  s.Probability,
		Color:        s.Color,
		Position:     s.Position,
		IsActive:     s.IsActive,
		IsClosedWon:  s.IsClosedWon,
		IsClosedLost: s.IsClosedLost,
	}
}

func toStageListResponse(stages []repository.Stage) transport.StageListResponse {
	resp := transport.StageListResponse{Items: make([]transport.StageResponse, 0, len(stages)), Total: len(stages)}
	for _, st := range stages {
		resp.Items = append(resp.Items, toStageResponse(st))
	}
	return resp
}

func toPipelineResponse(p repository.Pipeline) transport.PipelineResponse {
	stages := make([]transport.StageResponse, 0, len(p.Stages))
	for _, st := range p.Stages {
		stages = append(stages, toStageResponse(st))
	}
	return transport.PipelineResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		IsDefault:   p.IsDefault,
		IsActive:    p.IsActive,
		Stages:      stages,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339),
	}
}
