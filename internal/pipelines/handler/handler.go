package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dealflow_backend/internal/pipelines/service"
	"dealflow_backend/internal/pipelines/transport"
	"dealflow_backend/platform/httpkit"
	"dealflow_backend/platform/validator"
)

// Handler handles HTTP requests for pipeline definitions.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid pipeline ID"
	msgInvalidStageID   = "invalid stage ID"
)

// New creates a new pipelines handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// mustGetOrganizationID resolves the tenant from the authenticated identity.
// Writes a 403 and returns false when the token carries no organization.
func mustGetOrganizationID(c *gin.Context) (uuid.UUID, bool) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return uuid.Nil, false
	}
	orgID := identity.OrganizationID()
	if orgID == nil {
		httpkit.Error(c, http.StatusForbidden, "no organization in token", nil)
		return uuid.Nil, false
	}
	return *orgID, true
}

// List retrieves all pipelines of the organization.
// GET /api/v1/pipelines
func (h *Handler) List(c *gin.Context) {
	orgID, ok := mustGetOrganizationID(c)
	if !ok {
		return
	}
	result, err := h.svc.List(c.Request.Context(), orgID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetByID retrieves one pipeline with its stages.
// GET /api/v1/pipelines/:id
func (h *Handler) GetByID(c *gin.Context) {
	orgID, ok := mustGetOrganizationID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}
	result, err := h.svc.GetByID(c.Request.Context(), orgID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetDefault retrieves the organization's default pipeline.
// GET /api/v1/pipelines/default
func (h *Handler) GetDefault(c *gin.Context) {
	orgID, ok := mustGetOrganizationID(c)
	if !ok {
		return
	}
	result, err := h.svc.GetDefault(c.Request.Context(), orgID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Create creates a pipeline (admin only).
// POST /api/v1/admin/pipelines
func (h *Handler) Create(c *gin.Context) {
	orgID, ok := mustGetOrganizationID(c)
	if !ok {
		return
	}
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	var req transport.CreatePipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.Create(c.Request.Context(), orgID, identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, result)
}

// Update edits pipeline metadata (admin only).
// PUT /api/v1/admin/pipelines/:id
func (h *Handler) Update(c *gin.Context) {
	orgID, ok := mustGetOrganizationID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	var req transport.UpdatePipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.Update(c.Request.Context(), orgID, id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Delete soft-deletes a pipeline (admin only).
// DELETE /api/v1/admin/pipelines/:id
func (h *Handler) Delete(c *gin.Context) {
	orgID, ok := mustGetOrganizationID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}
	if err := h.svc.Delete(c.Request.Context(), orgID, id); httpkit.HandleError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}

// SetDefault makes the pipeline the organization's default (admin only).
// PATCH /api/v1/admin/pipelines/:id/default
func (h *Handler) SetDefault(c *gin.Context) {
	orgID, ok := mustGetOrganizationID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}
	if err := h.svc.SetDefault(c.Request.Context(), orgID, id); httpkit.HandleError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}

// ListStages retrieves the ordered stages of one pipeline.
// GET /api/v1/pipelines/:id/stages
func (h *Handler) ListStages(c *gin.Context) {
	orgID, ok := mustGetOrganizationID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}
	result, err := h.svc.ListStages(c.Request.Context(), orgID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// AddStage adds a stage to a pipeline (admin only).
// POST /api/v1/admin/pipelines/:id/stages
func (h *Handler) AddStage(c *gin.Context) {
	orgID, ok := mustGetOrganizationID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	var req transport.AddStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.AddStage(c.Request.Context(), orgID, id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, result)
}

// UpdateStage edits a stage in place (admin only).
// PUT /api/v1/admin/pipelines/:id/stages/:stageId
func (h *Handler) UpdateStage(c *gin.Context) {
	orgID, ok := mustGetOrganizationID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}
	stageID, err := uuid.Parse(c.Param("stageId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidStageID, nil)
		return
	}

	var req transport.UpdateStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.UpdateStage(c.Request.Context(), orgID, id, stageID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// RemoveStage deletes a stage from a pipeline (admin only).
// DELETE /api/v1/admin/pipelines/:id/stages/:stageId
func (h *Handler) RemoveStage(c *gin.Context) {
	orgID, ok := mustGetOrganizationID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}
	stageID, err := uuid.Parse(c.Param("stageId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidStageID, nil)
		return
	}
	if err := h.svc.RemoveStage(c.Request.Context(), orgID, id, stageID); httpkit.HandleError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}

// ReorderStages rewrites the stage order of a pipeline (admin only).
// PUT /api/v1/admin/pipelines/:id/stages/order
func (h *Handler) ReorderStages(c *gin.Context) {
	orgID, ok := mustGetOrganizationID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	var req transport.ReorderStagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.ReorderStages(c.Request.Context(), orgID, id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
