package scheduler

import (
	"context"
	"fmt"
	"time"

	dealrepo "dealflow_backend/internal/deals/repository"
	"dealflow_backend/platform/config"
	"dealflow_backend/platform/logger"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PipelineScanDispatcher periodically fans out one stuck-deal-scan and one
// dwell-refresh task per pipeline that currently holds deals.
type PipelineScanDispatcher struct {
	client        *asynq.Client
	queue         string
	deals         dealrepo.Repository
	log           *logger.Logger
	scanInterval  time.Duration
	dwellInterval time.Duration
}

func NewPipelineScanDispatcher(cfg config.SchedulerConfig, pool *pgxpool.Pool, log *logger.Logger) (*PipelineScanDispatcher, error) {
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

	return &PipelineScanDispatcher{
		client:        asynq.NewClient(opt),
		queue:         queue,
		deals:         dealrepo.New(pool),
		log:           log,
		scanInterval:  cfg.GetStuckScanInterval(),
		dwellInterval: cfg.GetDwellRefreshInterval(),
	}, nil
}

func (d *PipelineScanDispatcher) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *PipelineScanDispatcher) Run(ctx context.Context) {
	if d == nil || d.client == nil {
		return
	}

	scanTicker := time.NewTicker(d.scanInterval)
	defer scanTicker.Stop()
	dwellTicker := time.NewTicker(d.dwellInterval)
	defer dwellTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scanTicker.C:
			d.dispatch(ctx, func(pipelineID string) (*asynq.Task, error) {
				return NewStuckDealScanTask(StuckDealScanPayload{PipelineID: pipelineID})
			})
		case <-dwellTicker.C:
			d.dispatch(ctx, func(pipelineID string) (*asynq.Task, error) {
				return NewDwellRefreshTask(DwellRefreshPayload{PipelineID: pipelineID})
			})
		}
	}
}

func (d *PipelineScanDispatcher) dispatch(ctx context.Context, makeTask func(pipelineID string) (*asynq.Task, error)) {
	pipelineIDs, err := d.deals.ListPipelineIDs(ctx)
	if err != nil {
		d.log.Warn("pipeline scan dispatch failed", "error", err)
		return
	}

	for _, id := range pipelineIDs {
		task, err := makeTask(id.String())
		if err != nil {
			d.log.Warn("failed to build scan task", "pipelineId", id, "error", err)
			continue
		}
		if _, err := d.client.EnqueueContext(ctx, task, asynq.Queue(d.queue)); err != nil {
			d.log.Warn("failed to enqueue scan task", "pipelineId", id, "error", err)
		}
	}
}
