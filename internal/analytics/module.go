// Package analytics provides the pipeline analytics bounded context module:
// the per-stage funnel snapshot and stuck-deal detection, cached in Redis.
package analytics

import (
	"dealflow_backend/internal/analytics/handler"
	"dealflow_backend/internal/analytics/repository"
	"dealflow_backend/internal/analytics/service"
	apphttp "dealflow_backend/internal/http"
	"dealflow_backend/platform/config"
	"dealflow_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Module is the analytics bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// Config combines the analytics and engine settings the module needs.
type Config interface {
	config.AnalyticsConfig
	config.EngineConfig
}

// NewModule creates and initializes the analytics module. The Redis client
// may be nil, which disables the read-through cache.
func NewModule(pool *pgxpool.Pool, cache *redis.Client, cfg Config, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, cache, cfg.GetAnalyticsCacheTTL(), cfg.GetStuckThresholdDays(), log)
	h := handler.New(svc)

	return &Module{handler: h, service: svc}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "analytics"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts analytics routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/pipelines/:id/analytics", m.handler.StageAnalytics)
	ctx.Protected.GET("/pipelines/:id/stuck-deals", m.handler.StuckDeals)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
