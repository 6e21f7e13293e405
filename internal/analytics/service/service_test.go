package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dealflow_backend/internal/analytics/repository"
	"dealflow_backend/platform/logger"
)

type fakeRepo struct {
	aggregates []repository.StageAggregate
	stuck      []repository.StuckDeal
	calls      int
}

var _ repository.Repository = (*fakeRepo)(nil)

func (f *fakeRepo) StageAggregates(_ context.Context, _, _ uuid.UUID, _ time.Time) ([]repository.StageAggregate, error) {
	f.calls++
	return f.aggregates, nil
}

func (f *fakeRepo) StuckDeals(_ context.Context, _, _ uuid.UUID, _ time.Time, _ int) ([]repository.StuckDeal, error) {
	return f.stuck, nil
}

func funnel(counts ...int) []repository.StageAggregate {
	out := make([]repository.StageAggregate, 0, len(counts))
	for i, c := range counts {
		out = append(out, repository.StageAggregate{
			StageID:   uuid.New(),
			StageName: "Stage",
			Position:  i,
			IsActive:  true,
			DealCount: c,
		})
	}
	return out
}

func TestConversionRates(t *testing.T) {
	repo := &fakeRepo{aggregates: funnel(10, 5, 2, 0)}
	svc := New(repo, nil, time.Minute, 7, logger.New("development"))

	resp, err := svc.StageAnalytics(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("stage analytics: %v", err)
	}

	wantRates := []float64{50, 40, 0, 0}
	for i, row := range resp.Items {
		if row.ConversionRate != wantRates[i] {
			t.Errorf("stage %d conversion = %v, want %v", i, row.ConversionRate, wantRates[i])
		}
	}
}

func TestConversionSkipsInactiveStages(t *testing.T) {
	aggregates := funnel(10, 0, 4)
	aggregates[1].IsActive = false // parked stage between the two live ones
	repo := &fakeRepo{aggregates: aggregates}
	svc := New(repo, nil, time.Minute, 7, logger.New("development"))

	resp, err := svc.StageAnalytics(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("stage analytics: %v", err)
	}
	if got := resp.Items[0].ConversionRate; got != 40 {
		t.Errorf("conversion past inactive stage = %v, want 40", got)
	}
}

func TestConversionZeroDenominatorShortCircuits(t *testing.T) {
	repo := &fakeRepo{aggregates: funnel(0, 5)}
	svc := New(repo, nil, time.Minute, 7, logger.New("development"))

	resp, err := svc.StageAnalytics(context.Background(), uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("stage analytics: %v", err)
	}
	if got := resp.Items[0].ConversionRate; got != 0 {
		t.Errorf("empty stage conversion = %v, want 0 (never NaN)", got)
	}
}

func TestStageAnalyticsCachedInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo := &fakeRepo{aggregates: funnel(3, 1)}
	svc := New(repo, client, time.Minute, 7, logger.New("development"))

	orgID, pipelineID := uuid.New(), uuid.New()
	if _, err := svc.StageAnalytics(context.Background(), orgID, pipelineID); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := svc.StageAnalytics(context.Background(), orgID, pipelineID); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if repo.calls != 1 {
		t.Fatalf("repo hit %d times, want 1 (second read served from cache)", repo.calls)
	}

	// Expired entries fall back to the database.
	mr.FastForward(2 * time.Minute)
	if _, err := svc.StageAnalytics(context.Background(), orgID, pipelineID); err != nil {
		t.Fatalf("third call: %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("repo hit %d times after TTL expiry, want 2", repo.calls)
	}
}

func TestCacheKeysAreTenantScoped(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo := &fakeRepo{aggregates: funnel(1)}
	svc := New(repo, client, time.Minute, 7, logger.New("development"))

	pipelineID := uuid.New()
	if _, err := svc.StageAnalytics(context.Background(), uuid.New(), pipelineID); err != nil {
		t.Fatalf("org A: %v", err)
	}
	if _, err := svc.StageAnalytics(context.Background(), uuid.New(), pipelineID); err != nil {
		t.Fatalf("org B: %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("repo hit %d times, want 2 (no cross-tenant cache hit)", repo.calls)
	}
}

func TestStuckDealsComputesLiveDwell(t *testing.T) {
	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)
	repo := &fakeRepo{stuck: []repository.StuckDeal{
		{DealID: uuid.New(), Title: "Slow deal", EnteredAt: now.Add(-10 * 24 * time.Hour)},
	}}
	svc := New(repo, nil, time.Minute, 7, logger.New("development"))
	svc.now = func() time.Time { return now }

	resp, err := svc.StuckDeals(context.Background(), uuid.New(), uuid.New(), 0)
	if err != nil {
		t.Fatalf("stuck deals: %v", err)
	}
	if resp.ThresholdDays != 7 {
		t.Errorf("threshold fell back to %d, want configured 7", resp.ThresholdDays)
	}
	if resp.Total != 1 || resp.Items[0].DaysInStage != 10 {
		t.Errorf("got total=%d days=%d, want 1/10", resp.Total, resp.Items[0].DaysInStage)
	}
}
