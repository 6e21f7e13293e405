package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dealflow_backend/internal/analytics/repository"
	"dealflow_backend/internal/analytics/transport"
	"dealflow_backend/internal/deals/domain"
	"dealflow_backend/platform/logger"
)

// Service provides pipeline analytics: the per-stage funnel snapshot and
// stuck-deal detection. Results are read-through cached in Redis with a
// short TTL; analytics tolerate staleness, transitions do not.
type Service struct {
	repo          repository.Repository
	cache         *redis.Client
	cacheTTL      time.Duration
	thresholdDays int
	log           *logger.Logger
	now           func() time.Time
}

// New creates a new analytics service. A nil cache client disables caching.
func New(repo repository.Repository, cache *redis.Client, cacheTTL time.Duration, thresholdDays int, log *logger.Logger) *Service {
	return &Service{
		repo:          repo,
		cache:         cache,
		cacheTTL:      cacheTTL,
		thresholdDays: thresholdDays,
		log:           log,
		now:           time.Now,
	}
}

func (s *Service) cacheKey(organizationID, pipelineID uuid.UUID) string {
	return fmt.Sprintf("analytics:stages:%s:%s", organizationID, pipelineID)
}

// StageAnalytics returns the funnel snapshot for a pipeline, one row per
// stage in order. Conversion rate for a stage is the ratio of deals
// currently resident in the next active stage over deals in the stage
// itself; either count being zero short-circuits to 0. This is a snapshot
// over resident deals, not a cohort measure, and understates conversion
// once deals close out of the pipeline.
func (s *Service) StageAnalytics(ctx context.Context, organizationID, pipelineID uuid.UUID) (transport.StageAnalyticsResponse, error) {
	key := s.cacheKey(organizationID, pipelineID)
	if cached, ok := s.readCache(ctx, key); ok {
		return cached, nil
	}

	aggregates, err := s.repo.StageAggregates(ctx, organizationID, pipelineID, s.now())
	if err != nil {
		return transport.StageAnalyticsResponse{}, err
	}

	resp := transport.StageAnalyticsResponse{
		PipelineID: pipelineID,
		Items:      make([]transport.StageAnalyticsRow, 0, len(aggregates)),
	}
	for i, agg := range aggregates {
		resp.Items = append(resp.Items, transport.StageAnalyticsRow{
			StageID:        agg.StageID,
			StageName:      agg.StageName,
			DealCount:      agg.DealCount,
			TotalValue:     agg.TotalValue,
			AvgValue:       agg.AvgValue,
			AvgDaysInStage: agg.AvgDaysInStage,
			ConversionRate: conversionRate(aggregates, i),
		})
	}

	s.writeCache(ctx, key, resp)
	return resp, nil
}

// conversionRate computes dealCount(next active stage) / dealCount(stage)
// * 100 with a zero short-circuit on either side.
func conversionRate(aggregates []repository.StageAggregate, i int) float64 {
	if aggregates[i].DealCount == 0 {
		return 0
	}
	for _, next := range aggregates[i+1:] {
		if !next.IsActive {
			continue
		}
		if next.DealCount == 0 {
			return 0
		}
		return float64(next.DealCount) / float64(aggregates[i].DealCount) * 100
	}
	return 0
}

// StuckDeals lists open deals whose live dwell exceeds the threshold. A
// non-positive threshold falls back to the configured default.
func (s *Service) StuckDeals(ctx context.Context, organizationID, pipelineID uuid.UUID, thresholdDays int) (transport.StuckDealsResponse, error) {
	if thresholdDays <= 0 {
		thresholdDays = s.thresholdDays
	}

	now := s.now()
	deals, err := s.repo.StuckDeals(ctx, organizationID, pipelineID, now, thresholdDays)
	if err != nil {
		return transport.StuckDealsResponse{}, err
	}

	resp := transport.StuckDealsResponse{
		PipelineID:    pipelineID,
		ThresholdDays: thresholdDays,
		Items:         make([]transport.StuckDealRow, 0, len(deals)),
		Total:         len(deals),
	}
	for _, d := range deals {
		resp.Items = append(resp.Items, transport.StuckDealRow{
			DealID:      d.DealID,
			Title:       d.Title,
			StageID:     d.StageID,
			StageName:   d.StageName,
			OwnerID:     d.OwnerID,
			ValueCents:  d.ValueCents,
			Currency:    d.Currency,
			DaysInStage: domain.DaysInStage(d.EnteredAt, now),
		})
	}
	return resp, nil
}

// readCache is best-effort: any Redis error silently falls back to the
// database.
func (s *Service) readCache(ctx context.Context, key string) (transport.StageAnalyticsResponse, bool) {
	if s.cache == nil {
		return transport.StageAnalyticsResponse{}, false
	}
	raw, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.log.Debug("analytics cache read failed", "key", key, "error", err)
		}
		return transport.StageAnalyticsResponse{}, false
	}
	var resp transport.StageAnalyticsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return transport.StageAnalyticsResponse{}, false
	}
	return resp, true
}

func (s *Service) writeCache(ctx context.Context, key string, resp transport.StageAnalyticsResponse) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cacheTTL).Err(); err != nil {
		s.log.Debug("analytics cache write failed", "key", key, "error", err)
	}
}
