package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"dealflow_backend/internal/deals/domain"
	"dealflow_backend/internal/deals/repository"
	"dealflow_backend/internal/deals/transport"
	"dealflow_backend/internal/events"
	pipelinerepo "dealflow_backend/internal/pipelines/repository"
	"dealflow_backend/platform/apperr"
	"dealflow_backend/platform/logger"
)

type engineCfg struct{}

func (engineCfg) GetStuckThresholdDays() int { return 7 }
func (engineCfg) GetPipelineMinStages() int  { return 2 }

// fakePipelines serves stage definitions for one pipeline.
type fakePipelines struct {
	pipeline pipelinerepo.Pipeline
}

var _ pipelinerepo.StageReader = (*fakePipelines)(nil)
var _ pipelinerepo.PipelineReader = (*fakePipelines)(nil)

func (f *fakePipelines) GetByID(_ context.Context, orgID, id uuid.UUID) (pipelinerepo.Pipeline, error) {
	if f.pipeline.OrganizationID != orgID || f.pipeline.ID != id {
		return pipelinerepo.Pipeline{}, apperr.NotFound("pipeline not found")
	}
	return f.pipeline, nil
}

func (f *fakePipelines) GetDefault(_ context.Context, orgID uuid.UUID) (pipelinerepo.Pipeline, error) {
	if f.pipeline.OrganizationID != orgID || !f.pipeline.IsDefault {
		return pipelinerepo.Pipeline{}, apperr.NotFound("pipeline not found")
	}
	return f.pipeline, nil
}

func (f *fakePipelines) List(_ context.Context, _ uuid.UUID) ([]pipelinerepo.Pipeline, error) {
	return []pipelinerepo.Pipeline{f.pipeline}, nil
}

func (f *fakePipelines) GetStage(_ context.Context, orgID, pipelineID, stageID uuid.UUID) (pipelinerepo.Stage, error) {
	if f.pipeline.OrganizationID != orgID || f.pipeline.ID != pipelineID {
		return pipelinerepo.Stage{}, apperr.NotFound("pipeline not found")
	}
	for _, st := range f.pipeline.Stages {
		if st.ID == stageID {
			return st, nil
		}
	}
	return pipelinerepo.Stage{}, apperr.NotFound("stage not found")
}

func (f *fakePipelines) GetStagesOrdered(_ context.Context, orgID, pipelineID uuid.UUID) ([]pipelinerepo.Stage, error) {
	if f.pipeline.OrganizationID != orgID || f.pipeline.ID != pipelineID {
		return nil, apperr.NotFound("pipeline not found")
	}
	return f.pipeline.Stages, nil
}

func (f *fakePipelines) GetNextActiveStage(ctx context.Context, orgID, pipelineID, stageID uuid.UUID) (*pipelinerepo.Stage, error) {
	stages, err := f.GetStagesOrdered(ctx, orgID, pipelineID)
	if err != nil {
		return nil, err
	}
	for i, st := range stages {
		if st.ID == stageID {
			for _, next := range stages[i+1:] {
				if next.IsActive {
					return &next, nil
				}
			}
			return nil, nil
		}
	}
	return nil, apperr.NotFound("stage not found")
}

func (f *fakePipelines) GetPreviousActiveStage(ctx context.Context, orgID, pipelineID, stageID uuid.UUID) (*pipelinerepo.Stage, error) {
	stages, err := f.GetStagesOrdered(ctx, orgID, pipelineID)
	if err != nil {
		return nil, err
	}
	for i, st := range stages {
		if st.ID == stageID {
			for j := i - 1; j >= 0; j-- {
				if stages[j].IsActive {
					return &stages[j], nil
				}
			}
			return nil, nil
		}
	}
	return nil, apperr.NotFound("stage not found")
}

// fakeDealRepo is an in-memory Repository with real version semantics, so
// conflict handling is exercised the way the store would behave.
type fakeDealRepo struct {
	deals             map[uuid.UUID]repository.Deal
	history           map[uuid.UUID][]repository.HistoryEntry
	injectedConflicts int
	nameWrites        int
}

var _ repository.Repository = (*fakeDealRepo)(nil)

func newFakeDealRepo() *fakeDealRepo {
	return &fakeDealRepo{
		deals:   make(map[uuid.UUID]repository.Deal),
		history: make(map[uuid.UUID][]repository.HistoryEntry),
	}
}

func (f *fakeDealRepo) Create(_ context.Context, params repository.CreateParams) (repository.Deal, error) {
	d := repository.Deal{
		ID:                    uuid.New(),
		OrganizationID:        params.OrganizationID,
		PipelineID:            params.PipelineID,
		StageID:               params.StageID,
		Title:                 params.Title,
		Description:           params.Description,
		ValueCents:            params.ValueCents,
		Currency:              params.Currency,
		Priority:              params.Priority,
		Status:                params.Status,
		Probability:           params.Probability,
		OwnerID:               params.OwnerID,
		CurrentStageEnteredAt: params.EnteredAt,
		ExpectedCloseDate:     params.ExpectedCloseDate,
		ActualCloseDate:       params.ActualCloseDate,
		Version:               1,
		CreatedAt:             params.EnteredAt,
		UpdatedAt:             params.EnteredAt,
	}
	f.deals[d.ID] = d
	return d, nil
}

func (f *fakeDealRepo) GetByID(_ context.Context, orgID, id uuid.UUID) (repository.Deal, error) {
	d, ok := f.deals[id]
	if !ok || d.OrganizationID != orgID {
		return repository.Deal{}, apperr.NotFound("deal not found")
	}
	return d, nil
}

func (f *fakeDealRepo) List(_ context.Context, orgID uuid.UUID, _ repository.ListParams) ([]repository.Deal, int, error) {
	out := make([]repository.Deal, 0)
	for _, d := range f.deals {
		if d.OrganizationID == orgID {
			out = append(out, d)
		}
	}
	return out, len(out), nil
}

func (f *fakeDealRepo) Update(ctx context.Context, params repository.UpdateParams) (repository.Deal, error) {
	d, err := f.GetByID(ctx, params.OrganizationID, params.ID)
	if err != nil {
		return repository.Deal{}, err
	}
	if params.Title != nil {
		d.Title = *params.Title
	}
	if params.ValueCents != nil {
		d.ValueCents = *params.ValueCents
	}
	if params.Probability != nil {
		d.Probability = *params.Probability
	}
	if params.DaysInCurrentStage != nil {
		d.DaysInCurrentStage = *params.DaysInCurrentStage
	}
	f.deals[d.ID] = d
	return d, nil
}

func (f *fakeDealRepo) SoftDelete(ctx context.Context, orgID, id uuid.UUID) error {
	if _, err := f.GetByID(ctx, orgID, id); err != nil {
		return err
	}
	delete(f.deals, id)
	return nil
}

func (f *fakeDealRepo) ApplyTransition(ctx context.Context, params repository.TransitionParams) (repository.Deal, error) {
	if f.injectedConflicts > 0 {
		f.injectedConflicts--
		return repository.Deal{}, apperr.Conflict("deal was modified concurrently")
	}

	d, err := f.GetByID(ctx, params.OrganizationID, params.DealID)
	if err != nil {
		return repository.Deal{}, err
	}
	if d.Version != params.ExpectedVersion {
		return repository.Deal{}, apperr.Conflict("deal was modified concurrently")
	}

	entries := f.history[d.ID]
	for i := range entries {
		if entries[i].ExitedAt == nil {
			exited := params.Now
			duration := params.Now.Sub(entries[i].EnteredAt).Milliseconds()
			entries[i].ExitedAt = &exited
			entries[i].DurationMS = &duration
		}
	}
	entries = append(entries, repository.HistoryEntry{
		ID:        uuid.New(),
		DealID:    d.ID,
		StageID:   params.TargetStageID,
		StageName: params.TargetStageName,
		EnteredAt: params.Now,
		Reason:    params.Reason,
		ChangedBy: params.ActorID,
	})
	f.history[d.ID] = entries

	d.StageID = params.TargetStageID
	d.CurrentStageEnteredAt = params.Now
	d.DaysInCurrentStage = 0
	d.Status = params.Derived.Status
	d.Probability = params.Derived.Probability
	d.ActualCloseDate = params.Derived.ActualCloseDate
	d.Version++
	d.UpdatedAt = params.Now
	f.deals[d.ID] = d
	return d, nil
}

func (f *fakeDealRepo) GetHistory(_ context.Context, orgID, dealID uuid.UUID) ([]repository.HistoryEntry, error) {
	if d, ok := f.deals[dealID]; !ok || d.OrganizationID != orgID {
		return nil, apperr.NotFound("deal not found")
	}
	return f.history[dealID], nil
}

func (f *fakeDealRepo) SeedInitialEntry(_ context.Context, dealID, stageID uuid.UUID, stageName string, enteredAt time.Time, actorID uuid.UUID) error {
	f.history[dealID] = append(f.history[dealID], repository.HistoryEntry{
		ID:        uuid.New(),
		DealID:    dealID,
		StageID:   stageID,
		StageName: stageName,
		EnteredAt: enteredAt,
		ChangedBy: actorID,
	})
	return nil
}

func (f *fakeDealRepo) ListHistoryMissingNames(_ context.Context, dealID uuid.UUID) ([]repository.HistoryEntry, error) {
	missing := make([]repository.HistoryEntry, 0)
	for _, e := range f.history[dealID] {
		if e.StageName == "" {
			missing = append(missing, e)
		}
	}
	return missing, nil
}

func (f *fakeDealRepo) SetHistoryStageName(_ context.Context, entryID uuid.UUID, stageName string) error {
	f.nameWrites++
	for dealID, entries := range f.history {
		for i := range entries {
			if entries[i].ID == entryID {
				entries[i].StageName = stageName
				f.history[dealID] = entries
				return nil
			}
		}
	}
	return apperr.NotFound("history entry not found")
}

func (f *fakeDealRepo) ListOpenByPipeline(_ context.Context, pipelineID uuid.UUID) ([]repository.Deal, error) {
	out := make([]repository.Deal, 0)
	for _, d := range f.deals {
		if d.PipelineID == pipelineID && d.Status == domain.StatusOpen {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDealRepo) ListPipelineIDs(_ context.Context) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{})
	ids := make([]uuid.UUID, 0)
	for _, d := range f.deals {
		if _, ok := seen[d.PipelineID]; !ok {
			seen[d.PipelineID] = struct{}{}
			ids = append(ids, d.PipelineID)
		}
	}
	return ids, nil
}

func (f *fakeDealRepo) UpdateDwellSnapshot(_ context.Context, dealID uuid.UUID, days int) error {
	d, ok := f.deals[dealID]
	if !ok {
		return apperr.NotFound("deal not found")
	}
	d.DaysInCurrentStage = days
	f.deals[dealID] = d
	return nil
}

// fixture wires a service over the fakes with a controllable clock.
type fixture struct {
	svc       *Service
	repo      *fakeDealRepo
	orgID     uuid.UUID
	actorID   uuid.UUID
	pipeline  pipelinerepo.Pipeline
	current   time.Time
	lead      pipelinerepo.Stage
	qualified pipelinerepo.Stage
	won       pipelinerepo.Stage
	lost      pipelinerepo.Stage
	inactive  pipelinerepo.Stage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orgID := uuid.New()
	pipelineID := uuid.New()

	f := &fixture{
		repo:    newFakeDealRepo(),
		orgID:   orgID,
		actorID: uuid.New(),
		current: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.lead = pipelinerepo.Stage{ID: uuid.New(), PipelineID: pipelineID, Name: "Lead", Probability: 10, Position: 0, IsActive: true}
	f.qualified = pipelinerepo.Stage{ID: uuid.New(), PipelineID: pipelineID, Name: "Qualified", Probability: 25, Position: 1, IsActive: true}
	f.inactive = pipelinerepo.Stage{ID: uuid.New(), PipelineID: pipelineID, Name: "Parked", Probability: 30, Position: 2, IsActive: false}
	f.won = pipelinerepo.Stage{ID: uuid.New(), PipelineID: pipelineID, Name: "Closed Won", Probability: 100, Position: 3, IsActive: true, IsClosedWon: true}
	f.lost = pipelinerepo.Stage{ID: uuid.New(), PipelineID: pipelineID, Name: "Closed Lost", Probability: 0, Position: 4, IsActive: true, IsClosedLost: true}

	f.pipeline = pipelinerepo.Pipeline{
		ID:             pipelineID,
		OrganizationID: orgID,
		Name:           "Sales",
		IsDefault:      true,
		IsActive:       true,
		Stages:         []pipelinerepo.Stage{f.lead, f.qualified, f.inactive, f.won, f.lost},
	}

	log := logger.New("development")
	pipes := &fakePipelines{pipeline: f.pipeline}
	f.svc = New(f.repo, pipes, pipes, engineCfg{}, events.NewInMemoryBus(log), log)
	f.svc.now = func() time.Time { return f.current }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.current = f.current.Add(d)
}

func (f *fixture) createDeal(t *testing.T) transport.DealResponse {
	t.Helper()
	deal, err := f.svc.Create(context.Background(), f.orgID, f.actorID, transport.CreateDealRequest{
		Title:      "Acme rollout",
		ValueCents: 1_250_000,
	})
	if err != nil {
		t.Fatalf("create deal: %v", err)
	}
	return deal
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != kind {
		t.Fatalf("expected error kind %v, got %v", kind, err)
	}
}

func openEntries(entries []repository.HistoryEntry) []repository.HistoryEntry {
	open := make([]repository.HistoryEntry, 0)
	for _, e := range entries {
		if e.ExitedAt == nil {
			open = append(open, e)
		}
	}
	return open
}

func TestDealLifecycleThroughPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Created into Lead: one open ledger entry, status open, probability 10.
	deal := f.createDeal(t)
	if deal.Status != "open" || deal.Probability != 10 {
		t.Fatalf("after create: status=%s probability=%d", deal.Status, deal.Probability)
	}
	if deal.StageID != f.lead.ID {
		t.Fatalf("deal landed in stage %s, want Lead", deal.StageID)
	}
	entries := f.repo.history[deal.ID]
	if len(entries) != 1 || entries[0].ExitedAt != nil {
		t.Fatalf("after create: want 1 open entry, got %d", len(entries))
	}
	if entries[0].StageName != "Lead" {
		t.Errorf("seeded entry name = %q, want Lead", entries[0].StageName)
	}

	// Two days later, move to Qualified.
	f.advance(48 * time.Hour)
	moved, err := f.svc.MoveToStage(ctx, f.orgID, deal.ID, f.actorID, transport.MoveStageRequest{StageID: f.qualified.ID})
	if err != nil {
		t.Fatalf("move to Qualified: %v", err)
	}
	if moved.Status != "open" || moved.Probability != 25 {
		t.Fatalf("after Qualified: status=%s probability=%d", moved.Status, moved.Probability)
	}
	entries = f.repo.history[deal.ID]
	if len(entries) != 2 {
		t.Fatalf("after Qualified: want 2 entries, got %d", len(entries))
	}
	if entries[0].ExitedAt == nil || entries[0].DurationMS == nil {
		t.Fatal("first entry should be closed with a duration")
	}
	if want := (48 * time.Hour).Milliseconds(); *entries[0].DurationMS != want {
		t.Errorf("first entry duration = %dms, want %dms", *entries[0].DurationMS, want)
	}
	if len(openEntries(entries)) != 1 || openEntries(entries)[0].StageID != f.qualified.ID {
		t.Fatal("exactly one open entry pointing at Qualified expected")
	}

	// Close the deal as won.
	f.advance(24 * time.Hour)
	wonDeal, err := f.svc.MoveToStage(ctx, f.orgID, deal.ID, f.actorID, transport.MoveStageRequest{StageID: f.won.ID})
	if err != nil {
		t.Fatalf("move to Closed Won: %v", err)
	}
	if wonDeal.Status != "won" || wonDeal.Probability != 100 {
		t.Fatalf("after Closed Won: status=%s probability=%d", wonDeal.Status, wonDeal.Probability)
	}
	if wonDeal.ActualCloseDate == nil || !wonDeal.ActualCloseDate.Equal(f.current) {
		t.Fatalf("actualCloseDate = %v, want %v", wonDeal.ActualCloseDate, f.current)
	}
	entries = f.repo.history[deal.ID]
	if len(entries) != 3 || len(openEntries(entries)) != 1 {
		t.Fatalf("after Closed Won: want 3 entries with one open, got %d/%d", len(entries), len(openEntries(entries)))
	}

	// Reopen by moving back to Qualified.
	f.advance(24 * time.Hour)
	reopened, err := f.svc.MoveToStage(ctx, f.orgID, deal.ID, f.actorID, transport.MoveStageRequest{StageID: f.qualified.ID})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != "open" || reopened.Probability != 25 {
		t.Fatalf("after reopen: status=%s probability=%d", reopened.Status, reopened.Probability)
	}
	if reopened.ActualCloseDate != nil {
		t.Fatal("reopening must clear actualCloseDate")
	}
	entries = f.repo.history[deal.ID]
	if len(entries) != 4 || len(openEntries(entries)) != 1 {
		t.Fatalf("after reopen: want 4 entries with one open, got %d/%d", len(entries), len(openEntries(entries)))
	}
	if openEntries(entries)[0].StageID != f.qualified.ID {
		t.Fatal("the open entry must track the current stage")
	}
}

func TestMoveToCurrentStageRejectedWithoutLedgerMutation(t *testing.T) {
	f := newFixture(t)
	deal := f.createDeal(t)

	_, err := f.svc.MoveToStage(context.Background(), f.orgID, deal.ID, f.actorID, transport.MoveStageRequest{StageID: f.lead.ID})
	requireKind(t, err, apperr.KindValidation)

	if len(f.repo.history[deal.ID]) != 1 {
		t.Fatal("rejected self-move must not touch the ledger")
	}
}

func TestMoveToInactiveStageRejected(t *testing.T) {
	f := newFixture(t)
	deal := f.createDeal(t)

	_, err := f.svc.MoveToStage(context.Background(), f.orgID, deal.ID, f.actorID, transport.MoveStageRequest{StageID: f.inactive.ID})
	requireKind(t, err, apperr.KindValidation)
}

func TestMoveToUnknownStageRejected(t *testing.T) {
	f := newFixture(t)
	deal := f.createDeal(t)

	_, err := f.svc.MoveToStage(context.Background(), f.orgID, deal.ID, f.actorID, transport.MoveStageRequest{StageID: uuid.New()})
	requireKind(t, err, apperr.KindNotFound)
}

func TestTransitionConflictRetriedOnce(t *testing.T) {
	f := newFixture(t)
	deal := f.createDeal(t)

	// One conflict resolves on the retry.
	f.repo.injectedConflicts = 1
	moved, err := f.svc.MoveToStage(context.Background(), f.orgID, deal.ID, f.actorID, transport.MoveStageRequest{StageID: f.qualified.ID})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if moved.StageID != f.qualified.ID {
		t.Fatal("retry did not land the deal in the target stage")
	}

	// Two conflicts in a row surface to the caller.
	f.repo.injectedConflicts = 2
	_, err = f.svc.MoveToStage(context.Background(), f.orgID, deal.ID, f.actorID, transport.MoveStageRequest{StageID: f.lead.ID})
	requireKind(t, err, apperr.KindConflict)
}

func TestCreateDirectlyIntoTerminalStage(t *testing.T) {
	f := newFixture(t)

	deal, err := f.svc.Create(context.Background(), f.orgID, f.actorID, transport.CreateDealRequest{
		Title:   "Pre-closed migration",
		StageID: &f.won.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if deal.Status != "won" || deal.Probability != 100 {
		t.Fatalf("status=%s probability=%d, want won/100", deal.Status, deal.Probability)
	}
	if deal.ActualCloseDate == nil {
		t.Fatal("deriver must set the close date at creation")
	}
}

func TestHistoryRepairBackfillsAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	deal := f.createDeal(t)

	// Simulate legacy entries written before denormalization: one resolvable,
	// one pointing at a stage that no longer exists.
	ghostStage := uuid.New()
	f.repo.history[deal.ID] = []repository.HistoryEntry{
		{ID: uuid.New(), DealID: deal.ID, StageID: f.lead.ID, StageName: "", EnteredAt: f.current, ChangedBy: f.actorID},
		{ID: uuid.New(), DealID: deal.ID, StageID: ghostStage, StageName: "", EnteredAt: f.current, ChangedBy: f.actorID},
	}

	title := "renamed"
	if _, err := f.svc.Update(context.Background(), f.orgID, deal.ID, transport.UpdateDealRequest{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}

	entries := f.repo.history[deal.ID]
	if entries[0].StageName != "Lead" {
		t.Errorf("resolvable entry repaired to %q, want Lead", entries[0].StageName)
	}
	if entries[1].StageName != "Unknown Stage" {
		t.Errorf("unresolvable entry repaired to %q, want the placeholder", entries[1].StageName)
	}
	if f.repo.nameWrites != 2 {
		t.Fatalf("repair wrote %d names, want 2", f.repo.nameWrites)
	}

	// A second save finds nothing to fix and writes nothing.
	if _, err := f.svc.Update(context.Background(), f.orgID, deal.ID, transport.UpdateDealRequest{Title: &title}); err != nil {
		t.Fatalf("second update: %v", err)
	}
	if f.repo.nameWrites != 2 {
		t.Fatalf("idempotent repair ran again: %d writes", f.repo.nameWrites)
	}
}

func TestHistoryReadsShowPlaceholderForEmptyNames(t *testing.T) {
	f := newFixture(t)
	deal := f.createDeal(t)
	f.repo.history[deal.ID][0].StageName = ""

	history, err := f.svc.GetHistory(context.Background(), f.orgID, deal.ID)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if history.Items[0].StageName != "Unknown Stage" {
		t.Errorf("empty name read back as %q", history.Items[0].StageName)
	}
}

func TestLiveDwellRecomputedOnRead(t *testing.T) {
	f := newFixture(t)
	deal := f.createDeal(t)

	f.advance(9*24*time.Hour + time.Hour)
	got, err := f.svc.GetByID(context.Background(), f.orgID, deal.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DaysInCurrentStage != 10 {
		t.Errorf("daysInCurrentStage = %d, want 10 (partial day rounds up)", got.DaysInCurrentStage)
	}
	if !got.IsStuck {
		t.Error("open deal past the 7 day threshold should report stuck")
	}
}

func TestCreateUsesDefaultPipelineAndFirstActiveStage(t *testing.T) {
	f := newFixture(t)
	deal := f.createDeal(t)

	if deal.PipelineID != f.pipeline.ID {
		t.Errorf("deal created in pipeline %s, want the default", deal.PipelineID)
	}
	if deal.StageID != f.lead.ID {
		t.Errorf("deal created in stage %s, want the first active stage", deal.StageID)
	}
}
