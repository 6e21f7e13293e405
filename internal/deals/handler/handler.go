package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dealflow_backend/internal/deals/service"
	"dealflow_backend/internal/deals/transport"
	"dealflow_backend/platform/httpkit"
	"dealflow_backend/platform/validator"
)

// Handler handles HTTP requests for deals.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid deal ID"
)

// New creates a new deals handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

func mustGetActor(c *gin.Context) (orgID, userID uuid.UUID, ok bool) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return uuid.Nil, uuid.Nil, false
	}
	org := identity.OrganizationID()
	if org == nil {
		httpkit.Error(c, http.StatusForbidden, "no organization in token", nil)
		return uuid.Nil, uuid.Nil, false
	}
	return *org, identity.UserID(), true
}

// Create creates a new deal.
// POST /api/v1/deals
func (h *Handler) Create(c *gin.Context) {
	orgID, userID, ok := mustGetActor(c)
	if !ok {
		return
	}

	var req transport.CreateDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.Create(c.Request.Context(), orgID, userID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, result)
}

// List retrieves deals with filters and pagination.
// GET /api/v1/deals
func (h *Handler) List(c *gin.Context) {
	orgID, _, ok := mustGetActor(c)
	if !ok {
		return
	}

	var req transport.ListDealsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.List(c.Request.Context(), orgID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetByID retrieves one deal with its live dwell time.
// GET /api/v1/deals/:id
func (h *Handler) GetByID(c *gin.Context) {
	orgID, _, ok := mustGetActor(c)
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

// Update edits deal fields.
// PUT /api/v1/deals/:id
func (h *Handler) Update(c *gin.Context) {
	orgID, _, ok := mustGetActor(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	var req transport.UpdateDealRequest
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

// Delete soft-deletes a deal.
// DELETE /api/v1/deals/:id
func (h *Handler) Delete(c *gin.Context) {
	orgID, _, ok := mustGetActor(c)
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

// MoveStage transitions a deal to another stage of its pipeline.
// PATCH /api/v1/deals/:id/stage
func (h *Handler) MoveStage(c *gin.Context) {
	orgID, userID, ok := mustGetActor(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	var req transport.MoveStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	result, err := h.svc.MoveToStage(c.Request.Context(), orgID, id, userID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetHistory retrieves the deal's stage history ledger.
// GET /api/v1/deals/:id/history
func (h *Handler) GetHistory(c *gin.Context) {
	orgID, _, ok := mustGetActor(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	result, err := h.svc.GetHistory(c.Request.Context(), orgID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
