package scheduler

import (
	"context"
	"fmt"
	"time"

	"dealflow_backend/internal/deals/domain"
	dealrepo "dealflow_backend/internal/deals/repository"
	"dealflow_backend/internal/events"
	pipelinerepo "dealflow_backend/internal/pipelines/repository"
	"dealflow_backend/platform/config"
	"dealflow_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// scanConcurrency bounds how many deals one pipeline scan inspects at a time.
const scanConcurrency = 8

type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	deals     dealrepo.Repository
	stages    pipelinerepo.StageReader
	bus       events.Bus
	threshold int
	log       *logger.Logger
}

type workerConfig interface {
	config.SchedulerConfig
	config.EngineConfig
}

func NewWorker(cfg workerConfig, pool *pgxpool.Pool, bus events.Bus, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:    server,
		mux:       mux,
		deals:     dealrepo.New(pool),
		stages:    pipelinerepo.New(pool),
		bus:       bus,
		threshold: cfg.GetStuckThresholdDays(),
		log:       log,
	}

	mux.HandleFunc(TaskStuckDealScan, w.handleStuckDealScan)
	mux.HandleFunc(TaskDwellRefresh, w.handleDwellRefresh)

	return w, nil
}

// handleStuckDealScan inspects one pipeline's open deals and publishes a
// DealStuckDetected event for every deal past the dwell threshold.
func (w *Worker) handleStuckDealScan(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseStuckDealScanPayload(task)
	if err != nil {
		return err
	}
	pipelineID, err := uuid.Parse(payload.PipelineID)
	if err != nil {
		return err
	}

	deals, err := w.deals.ListOpenByPipeline(ctx, pipelineID)
	if err != nil {
		return err
	}

	now := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)

	for _, deal := range deals {
		if !domain.IsStuck(deal.Status, deal.CurrentStageEnteredAt, now, w.threshold) {
			continue
		}
		deal := deal
		g.Go(func() error {
			stageName := "Unknown Stage"
			if st, err := w.stages.GetStage(gctx, deal.OrganizationID, deal.PipelineID, deal.StageID); err == nil {
				stageName = st.Name
			}
			return w.bus.PublishSync(gctx, events.DealStuckDetected{
				BaseEvent:      events.NewBaseEvent(),
				DealID:         deal.ID,
				OrganizationID: deal.OrganizationID,
				PipelineID:     deal.PipelineID,
				StageID:        deal.StageID,
				StageName:      stageName,
				Title:          deal.Title,
				DaysInStage:    domain.DaysInStage(deal.CurrentStageEnteredAt, now),
				OwnerID:        deal.OwnerID,
			})
		})
	}

	return g.Wait()
}

// handleDwellRefresh recomputes the cached days-in-stage snapshot for one
// pipeline's open deals. Reads never trust this column, but coarse queries
// and exports do.
func (w *Worker) handleDwellRefresh(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseDwellRefreshPayload(task)
	if err != nil {
		return err
	}
	pipelineID, err := uuid.Parse(payload.PipelineID)
	if err != nil {
		return err
	}

	deals, err := w.deals.ListOpenByPipeline(ctx, pipelineID)
	if err != nil {
		return err
	}

	now := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanConcurrency)

	for _, deal := range deals {
		days := domain.DaysInStage(deal.CurrentStageEnteredAt, now)
		if days == deal.DaysInCurrentStage {
			continue
		}
		dealID := deal.ID
		g.Go(func() error {
			return w.deals.UpdateDwellSnapshot(gctx, dealID, days)
		})
	}

	return g.Wait()
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
