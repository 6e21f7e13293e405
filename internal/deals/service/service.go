package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dealflow_backend/internal/deals/domain"
	"dealflow_backend/internal/deals/repository"
	"dealflow_backend/internal/deals/transport"
	"dealflow_backend/internal/events"
	pipelinerepo "dealflow_backend/internal/pipelines/repository"
	"dealflow_backend/platform/apperr"
	"dealflow_backend/platform/config"
	"dealflow_backend/platform/logger"
)

// unknownStageName is the placeholder written when a ledger entry's stage
// cannot be resolved. Ledger writes never fail a deal save over a name lookup.
const unknownStageName = "Unknown Stage"

// Service provides the deal lifecycle engine: creation, stage transitions
// with their history ledger, status derivation, and deal CRUD.
type Service struct {
	repo      repository.Repository
	stages    pipelinerepo.StageReader
	pipelines pipelinerepo.PipelineReader
	cfg       config.EngineConfig
	bus       events.Bus
	log       *logger.Logger
	now       func() time.Time
}

// New creates a new deals service.
func New(repo repository.Repository, stages pipelinerepo.StageReader, pipelines pipelinerepo.PipelineReader, cfg config.EngineConfig, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		stages:    stages,
		pipelines: pipelines,
		cfg:       cfg,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

// Create creates a deal in the given (or default) pipeline and seeds its
// stage history with the single open entry. The status deriver runs once at
// creation, so a deal created directly into a terminal stage starts closed.
func (s *Service) Create(ctx context.Context, organizationID, actorID uuid.UUID, req transport.CreateDealRequest) (transport.DealResponse, error) {
	pipeline, err := s.resolvePipeline(ctx, organizationID, req.PipelineID)
	if err != nil {
		return transport.DealResponse{}, err
	}
	if !pipeline.IsActive {
		return transport.DealResponse{}, apperr.Validation("pipeline is not active")
	}

	stage, err := s.resolveEntryStage(pipeline, req.StageID)
	if err != nil {
		return transport.DealResponse{}, err
	}

	now := s.now()
	derived := domain.DeriveStatus(domain.StatusOpen, stageFlags(stage), nil, now)

	currency := "EUR"
	if req.Currency != nil {
		currency = *req.Currency
	}
	priority := "medium"
	if req.Priority != nil {
		priority = *req.Priority
	}
	ownerID := actorID
	if req.OwnerID != nil {
		ownerID = *req.OwnerID
	}

	deal, err := s.repo.Create(ctx, repository.CreateParams{
		OrganizationID:    organizationID,
		PipelineID:        pipeline.ID,
		StageID:           stage.ID,
		Title:             req.Title,
		Description:       req.Description,
		ValueCents:        req.ValueCents,
		Currency:          currency,
		Priority:          priority,
		Status:            derived.Status,
		Probability:       derived.Probability,
		OwnerID:           ownerID,
		ExpectedCloseDate: req.ExpectedCloseDate,
		ActualCloseDate:   derived.ActualCloseDate,
		EnteredAt:         now,
	})
	if err != nil {
		return transport.DealResponse{}, err
	}

	// The ledger favors availability: a failed seed never fails the create.
	if err := s.repo.SeedInitialEntry(ctx, deal.ID, stage.ID, stage.Name, now, actorID); err != nil {
		s.log.Warn("failed to seed initial stage history entry", "dealId", deal.ID, "error", err)
	}

	s.bus.Publish(ctx, events.DealCreated{
		BaseEvent:      events.NewBaseEvent(),
		DealID:         deal.ID,
		OrganizationID: organizationID,
		PipelineID:     pipeline.ID,
		StageID:        stage.ID,
		Title:          deal.Title,
		ValueCents:     deal.ValueCents,
		Currency:       deal.Currency,
		CreatedBy:      actorID,
	})
	s.publishOutcome(ctx, deal, derived, stage.ID, actorID, nil)

	return s.toResponse(deal), nil
}

// GetByID retrieves a deal with its dwell time recomputed live.
func (s *Service) GetByID(ctx context.Context, organizationID, id uuid.UUID) (transport.DealResponse, error) {
	deal, err := s.repo.GetByID(ctx, organizationID, id)
	if err != nil {
		return transport.DealResponse{}, err
	}
	return s.toResponse(deal), nil
}

// List retrieves deals with filters and pagination.
func (s *Service) List(ctx context.Context, organizationID uuid.UUID, req transport.ListDealsRequest) (transport.DealListResponse, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var status *domain.Status
	if req.Status != nil {
		st := domain.Status(*req.Status)
		if !st.Valid() {
			return transport.DealListResponse{}, apperr.Validation("unknown status filter")
		}
		status = &st
	}

	deals, total, err := s.repo.List(ctx, organizationID, repository.ListParams{
		PipelineID: req.PipelineID,
		StageID:    req.StageID,
		Status:     status,
		Priority:   req.Priority,
		OwnerID:    req.OwnerID,
		Search:     req.Search,
		Limit:      pageSize,
		Offset:     (page - 1) * pageSize,
	})
	if err != nil {
		return transport.DealListResponse{}, err
	}

	resp := transport.DealListResponse{
		Items:    make([]transport.DealResponse, 0, len(deals)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for _, d := range deals {
		resp.Items = append(resp.Items, s.toResponse(d))
	}
	return resp, nil
}

// Update edits deal fields outside of a stage transition. The probability
// set here is an explicit override; the next stage move replaces it with the
// target stage's configured value. The repair pass and the dwell snapshot
// run as part of every save of an existing deal.
func (s *Service) Update(ctx context.Context, organizationID, id uuid.UUID, req transport.UpdateDealRequest) (transport.DealResponse, error) {
	deal, err := s.repo.GetByID(ctx, organizationID, id)
	if err != nil {
		return transport.DealResponse{}, err
	}

	s.repairHistoryNames(ctx, organizationID, deal)

	dwell := domain.DaysInStage(deal.CurrentStageEnteredAt, s.now())
	updated, err := s.repo.Update(ctx, repository.UpdateParams{
		OrganizationID:     organizationID,
		ID:                 id,
		Title:              req.Title,
		Description:        req.Description,
		ValueCents:         req.ValueCents,
		Currency:           req.Currency,
		Priority:           req.Priority,
		Probability:        req.Probability,
		OwnerID:            req.OwnerID,
		ExpectedCloseDate:  req.ExpectedCloseDate,
		DaysInCurrentStage: &dwell,
	})
	if err != nil {
		return transport.DealResponse{}, err
	}
	return s.toResponse(updated), nil
}

// Delete soft-deletes a deal. Its history ledger stays readable.
func (s *Service) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	return s.repo.SoftDelete(ctx, organizationID, id)
}

// MoveToStage transitions a deal to another stage of its pipeline. The whole
// move (close open ledger entry, append the new one, update the projection,
// derive status) is applied atomically under an optimistic version check; a
// version conflict is retried once against fresh state before surfacing.
func (s *Service) MoveToStage(ctx context.Context, organizationID, dealID, actorID uuid.UUID, req transport.MoveStageRequest) (transport.DealResponse, error) {
	const maxAttempts = 2

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		deal, err := s.repo.GetByID(ctx, organizationID, dealID)
		if err != nil {
			return transport.DealResponse{}, err
		}
		if deal.StageID == req.StageID {
			return transport.DealResponse{}, apperr.Validation("deal is already in this stage")
		}

		// Resolve against the live definition; stage state is never cached.
		stage, err := s.stages.GetStage(ctx, organizationID, deal.PipelineID, req.StageID)
		if err != nil {
			return transport.DealResponse{}, err
		}
		if !stage.IsActive {
			return transport.DealResponse{}, apperr.Validation("cannot move a deal to an inactive stage")
		}

		s.repairHistoryNames(ctx, organizationID, deal)

		now := s.now()
		derived := domain.DeriveStatus(deal.Status, stageFlags(stage), nil, now)

		updated, err := s.repo.ApplyTransition(ctx, repository.TransitionParams{
			OrganizationID:  organizationID,
			DealID:          dealID,
			ExpectedVersion: deal.Version,
			TargetStageID:   stage.ID,
			TargetStageName: stage.Name,
			Now:             now,
			ActorID:         actorID,
			Reason:          req.Reason,
			Derived:         derived,
		})
		if err != nil {
			if apperr.Is(err, apperr.KindConflict) {
				lastErr = err
				continue
			}
			return transport.DealResponse{}, err
		}

		oldStageName := unknownStageName
		if old, err := s.stages.GetStage(ctx, organizationID, deal.PipelineID, deal.StageID); err == nil {
			oldStageName = old.Name
		}
		reason := ""
		if req.Reason != nil {
			reason = *req.Reason
		}
		s.bus.Publish(ctx, events.DealStageChanged{
			BaseEvent:      events.NewBaseEvent(),
			DealID:         dealID,
			OrganizationID: organizationID,
			PipelineID:     deal.PipelineID,
			OldStageID:     deal.StageID,
			NewStageID:     stage.ID,
			OldStageName:   oldStageName,
			NewStageName:   stage.Name,
			Reason:         reason,
			ChangedBy:      actorID,
		})
		s.publishOutcome(ctx, updated, derived, stage.ID, actorID, &deal.Status)

		return s.toResponse(updated), nil
	}

	return transport.DealResponse{}, lastErr
}

// GetHistory retrieves the deal's stage history ledger. Legacy entries with
// an empty name read back as the placeholder until repaired.
func (s *Service) GetHistory(ctx context.Context, organizationID, dealID uuid.UUID) (transport.HistoryResponse, error) {
	entries, err := s.repo.GetHistory(ctx, organizationID, dealID)
	if err != nil {
		return transport.HistoryResponse{}, err
	}

	resp := transport.HistoryResponse{
		Items: make([]transport.HistoryEntryResponse, 0, len(entries)),
		Total: len(entries),
	}
	for _, e := range entries {
		name := e.StageName
		if name == "" {
			name = unknownStageName
		}
		resp.Items = append(resp.Items, transport.HistoryEntryResponse{
			ID:         e.ID,
			StageID:    e.StageID,
			StageName:  name,
			EnteredAt:  e.EnteredAt.Format(time.RFC3339),
			ExitedAt:   e.ExitedAt,
			DurationMS: e.DurationMS,
			Reason:     e.Reason,
			ChangedBy:  e.ChangedBy,
		})
	}
	return resp, nil
}

// resolvePipeline loads the requested pipeline or falls back to the default.
func (s *Service) resolvePipeline(ctx context.Context, organizationID uuid.UUID, pipelineID *uuid.UUID) (pipelinerepo.Pipeline, error) {
	if pipelineID != nil {
		return s.pipelines.GetByID(ctx, organizationID, *pipelineID)
	}
	return s.pipelines.GetDefault(ctx, organizationID)
}

// resolveEntryStage picks the requested stage from the pipeline, or its
// first active stage when none was requested.
func (s *Service) resolveEntryStage(pipeline pipelinerepo.Pipeline, stageID *uuid.UUID) (pipelinerepo.Stage, error) {
	if stageID != nil {
		for _, st := range pipeline.Stages {
			if st.ID == *stageID {
				if !st.IsActive {
					return pipelinerepo.Stage{}, apperr.Validation("cannot create a deal in an inactive stage")
				}
				return st, nil
			}
		}
		return pipelinerepo.Stage{}, apperr.NotFound("stage not found")
	}
	for _, st := range pipeline.Stages {
		if st.IsActive && !st.IsTerminal() {
			return st, nil
		}
	}
	return pipelinerepo.Stage{}, apperr.Validation("pipeline has no active stage to create deals in")
}

// repairHistoryNames backfills ledger entries whose denormalized stage name
// was never written. Lookup failures degrade to the placeholder and nothing
// here ever blocks the save that triggered it.
func (s *Service) repairHistoryNames(ctx context.Context, organizationID uuid.UUID, deal repository.Deal) {
	entries, err := s.repo.ListHistoryMissingNames(ctx, deal.ID)
	if err != nil {
		s.log.Warn("history repair scan failed", "dealId", deal.ID, "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	for _, e := range entries {
		name := unknownStageName
		if st, err := s.stages.GetStage(ctx, organizationID, deal.PipelineID, e.StageID); err == nil {
			name = st.Name
		}
		if err := s.repo.SetHistoryStageName(ctx, e.ID, name); err != nil {
			s.log.Warn("history repair write failed", "dealId", deal.ID, "entryId", e.ID, "error", err)
		}
	}
}

// publishOutcome emits the won/lost/reopened event matching a derivation.
func (s *Service) publishOutcome(ctx context.Context, deal repository.Deal, derived domain.Derivation, stageID, actorID uuid.UUID, previous *domain.Status) {
	switch {
	case derived.Status == domain.StatusWon:
		s.bus.Publish(ctx, events.DealWon{
			BaseEvent:      events.NewBaseEvent(),
			DealID:         deal.ID,
			OrganizationID: deal.OrganizationID,
			PipelineID:     deal.PipelineID,
			StageID:        stageID,
			Title:          deal.Title,
			ValueCents:     deal.ValueCents,
			Currency:       deal.Currency,
			ActorID:        actorID,
		})
	case derived.Status == domain.StatusLost:
		s.bus.Publish(ctx, events.DealLost{
			BaseEvent:      events.NewBaseEvent(),
			DealID:         deal.ID,
			OrganizationID: deal.OrganizationID,
			PipelineID:     deal.PipelineID,
			StageID:        stageID,
			ActorID:        actorID,
			Title:          deal.Title,
		})
	case derived.Reopened && previous != nil:
		s.bus.Publish(ctx, events.DealReopened{
			BaseEvent:      events.NewBaseEvent(),
			DealID:         deal.ID,
			OrganizationID: deal.OrganizationID,
			PipelineID:     deal.PipelineID,
			StageID:        stageID,
			PreviousStatus: string(*previous),
			ActorID:        actorID,
		})
	}
}

func stageFlags(st pipelinerepo.Stage) domain.StageFlags {
	return domain.StageFlags{
		Probability:  st.Probability,
		IsClosedWon:  st.IsClosedWon,
		IsClosedLost: st.IsClosedLost,
	}
}

func (s *Service) toResponse(d repository.Deal) transport.DealResponse {
	now := s.now()
	dwell := domain.DaysInStage(d.CurrentStageEnteredAt, now)
	return transport.DealResponse{
		ID:                    d.ID,
		PipelineID:            d.PipelineID,
		StageID:               d.StageID,
		Title:                 d.Title,
		Description:           d.Description,
		ValueCents:            d.ValueCents,
		Currency:              d.Currency,
		Priority:              d.Priority,
		Status:                string(d.Status),
		Probability:           d.Probability,
		OwnerID:               d.OwnerID,
		CurrentStageEnteredAt: d.CurrentStageEnteredAt.Format(time.RFC3339),
		DaysInCurrentStage:    dwell,
		IsStuck:               domain.IsStuck(d.Status, d.CurrentStageEnteredAt, now, s.cfg.GetStuckThresholdDays()),
		ExpectedCloseDate:     d.ExpectedCloseDate,
		ActualCloseDate:       d.ActualCloseDate,
		Version:               d.Version,
		CreatedAt:             d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:             d.UpdatedAt.Format(time.RFC3339),
	}
}
