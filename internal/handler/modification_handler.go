package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/carewell/scheduling-api/internal/dto"
	"github.com/carewell/scheduling-api/internal/models"
	"github.com/carewell/scheduling-api/internal/service"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
	"github.com/carewell/scheduling-api/pkg/response"
)

type modificationApplier interface {
	Apply(ctx context.Context, req dto.ModificationRequest) (*models.ModificationResult, error)
	History(ctx context.Context, query dto.ModificationHistoryQuery) ([]models.ModificationRequest, error)
}

// ModificationHandler exposes schedule modification endpoints.
type ModificationHandler struct {
	service modificationApplier
	metrics *service.MetricsService
}

// NewModificationHandler constructs the handler.
func NewModificationHandler(svc *service.ModificationService, metrics *service.MetricsService) *ModificationHandler {
	return &ModificationHandler{service: svc, metrics: metrics}
}

// Apply godoc
// @Summary Apply a schedule modification to an enrollment
// @Description Dispatches on the modification type; the request either applies atomically or leaves the schedule untouched.
// @Tags Modifications
// @Accept json
// @Produce json
// @Param payload body dto.ModificationRequest true "Modification payload"
// @Success 200 {object} response.Envelope
// @Router /modifications [post]
func (h *ModificationHandler) Apply(c *gin.Context) {
	var req dto.ModificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid modification payload"))
		return
	}
	if req.RequestedBy == "" {
		req.RequestedBy = actorID(c)
	}
	result, err := h.service.Apply(c.Request.Context(), req)
	if h.metrics != nil {
		h.metrics.ObserveModification(string(req.Type), err == nil)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// History godoc
// @Summary List an enrollment's modification history, newest first
// @Tags Modifications
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param limit query int false "Maximum rows to return"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/modifications [get]
func (h *ModificationHandler) History(c *gin.Context) {
	query := dto.ModificationHistoryQuery{EnrollmentID: c.Param("id")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		query.Limit = limit
	}
	history, err := h.service.History(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}
