// Package deals provides the deal lifecycle bounded context module: deal
// CRUD, the stage transition engine and the stage history ledger.
package deals

import (
	"dealflow_backend/internal/deals/handler"
	"dealflow_backend/internal/deals/repository"
	"dealflow_backend/internal/deals/service"
	"dealflow_backend/internal/events"
	apphttp "dealflow_backend/internal/http"
	pipelinerepo "dealflow_backend/internal/pipelines/repository"
	"dealflow_backend/platform/config"
	"dealflow_backend/platform/logger"
	"dealflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the deals bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    repository.Repository
}

// NewModule creates and initializes the deals module. It consumes the
// pipelines module's repository as its stage resolver.
func NewModule(pool *pgxpool.Pool, pipelines pipelinerepo.Repository, cfg config.EngineConfig, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, pipelines, pipelines, cfg, bus, log)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "deals"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// Repository returns the repository for scheduler jobs that scan deals.
func (m *Module) Repository() repository.Repository {
	return m.repo
}

// RegisterRoutes mounts deal routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/deals")
	group.POST("", m.handler.Create)
	group.GET("", m.handler.List)
	group.GET("/:id", m.handler.GetByID)
	group.PUT("/:id", m.handler.Update)
	group.DELETE("/:id", m.handler.Delete)
	group.PATCH("/:id/stage", m.handler.MoveStage)
	group.GET("/:id/history", m.handler.GetHistory)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
