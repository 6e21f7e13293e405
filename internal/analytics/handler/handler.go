package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dealflow_backend/internal/analytics/service"
	"dealflow_backend/platform/httpkit"
)

// Handler handles HTTP requests for pipeline analytics.
type Handler struct {
	svc *service.Service
}

const msgInvalidID = "invalid pipeline ID"

// New creates a new analytics handler.
func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

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

// StageAnalytics returns the per-stage funnel snapshot of a pipeline.
// GET /api/v1/pipelines/:id/analytics
func (h *Handler) StageAnalytics(c *gin.Context) {
	orgID, ok := mustGetOrganizationID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	result, err := h.svc.StageAnalytics(c.Request.Context(), orgID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// StuckDeals lists open deals past the dwell threshold.
// GET /api/v1/pipelines/:id/stuck-deals?thresholdDays=7
func (h *Handler) StuckDeals(c *gin.Context) {
	orgID, ok := mustGetOrganizationID(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	threshold := 0
	if raw := c.Query("thresholdDays"); raw != "" {
		threshold, err = strconv.Atoi(raw)
		if err != nil || threshold < 0 {
			httpkit.Error(c, http.StatusBadRequest, "invalid thresholdDays", nil)
			return
		}
	}

	result, err := h.svc.StuckDeals(c.Request.Context(), orgID, id, threshold)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
