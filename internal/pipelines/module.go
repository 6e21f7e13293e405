// Package pipelines provides the pipeline definition bounded context module.
// It owns pipeline and stage configuration and serves as the stage resolver
// for the deal transition engine.
package pipelines

import (
	"dealflow_backend/internal/events"
	apphttp "dealflow_backend/internal/http"
	"dealflow_backend/internal/pipelines/handler"
	"dealflow_backend/internal/pipelines/repository"
	"dealflow_backend/internal/pipelines/service"
	"dealflow_backend/platform/config"
	"dealflow_backend/platform/logger"
	"dealflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the pipelines bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	repo    repository.Repository
}

// NewModule creates and initializes the pipelines module with all its dependencies.
func NewModule(pool *pgxpool.Pool, cfg config.EngineConfig, bus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, cfg, bus, log)
	h := handler.New(svc, val)

	return &Module{
		handler: h,
		service: svc,
		repo:    repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "pipelines"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// StageReader exposes the read-only stage contract the deal engine consumes.
func (m *Module) StageReader() repository.StageReader {
	return m.repo
}

// Repository returns the repository for direct access if needed.
func (m *Module) Repository() repository.Repository {
	return m.repo
}

// RegisterRoutes mounts pipeline routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	// Tenant-scoped read endpoints
	ctx.Protected.GET("/pipelines", m.handler.List)
	ctx.Protected.GET("/pipelines/default", m.handler.GetDefault)
	ctx.Protected.GET("/pipelines/:id", m.handler.GetByID)
	ctx.Protected.GET("/pipelines/:id/stages", m.handler.ListStages)

	// Admin-only definition management
	adminGroup := ctx.Admin.Group("/pipelines")
	adminGroup.POST("", m.handler.Create)
	adminGroup.PUT("/:id", m.handler.Update)
	adminGroup.DELETE("/:id", m.handler.Delete)
	adminGroup.PATCH("/:id/default", m.handler.SetDefault)
	adminGroup.POST("/:id/stages", m.handler.AddStage)
	adminGroup.PUT("/:id/stages/order", m.handler.ReorderStages)
	adminGroup.PUT("/:id/stages/:stageId", m.handler.UpdateStage)
	adminGroup.DELETE("/:id/stages/:stageId", m.handler.RemoveStage)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
