package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carewell/scheduling-api/internal/dto"
	"github.com/carewell/scheduling-api/internal/models"
	"github.com/carewell/scheduling-api/internal/service"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
	"github.com/carewell/scheduling-api/pkg/response"
)

type templateSyncEngine interface {
	AnalyzeChanges(ctx context.Context, req dto.AnalyzeChangesRequest) (*dto.AnalyzeChangesResult, error)
	UpdateTemplate(ctx context.Context, templateID string, params dto.TemplateParams) (*models.ProgramTemplate, *dto.AnalyzeChangesResult, error)
	ValidateSync(ctx context.Context, req dto.ValidateSyncRequest) (*dto.ValidateSyncResult, error)
	Execute(ctx context.Context, req dto.ExecuteSyncRequest) (*models.SyncOperation, error)
	Rollback(ctx context.Context, operationID, requestedBy string) (*dto.RollbackResult, error)
	Operation(ctx context.Context, id string) (*models.SyncOperation, error)
}

type updateTemplateResponse struct {
	Template *models.ProgramTemplate   `json:"template"`
	Analysis *dto.AnalyzeChangesResult `json:"analysis"`
}

// SyncHandler exposes template synchronization endpoints.
type SyncHandler struct {
	service templateSyncEngine
	metrics *service.MetricsService
}

// NewSyncHandler constructs the handler.
func NewSyncHandler(svc *service.TemplateSyncService, metrics *service.MetricsService) *SyncHandler {
	return &SyncHandler{service: svc, metrics: metrics}
}

// AnalyzeChanges godoc
// @Summary Classify the impact of a template parameter diff
// @Tags Sync
// @Accept json
// @Produce json
// @Param payload body dto.AnalyzeChangesRequest true "Diff payload"
// @Success 200 {object} response.Envelope
// @Router /sync/analyze [post]
func (h *SyncHandler) AnalyzeChanges(c *gin.Context) {
	var req dto.AnalyzeChangesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid diff payload"))
		return
	}
	result, err := h.service.AnalyzeChanges(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// UpdateTemplate godoc
// @Summary Update a program template's base parameters
// @Description Persists the new parameters only when they differ from the stored version and returns the change analysis.
// @Tags Sync
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Param payload body dto.TemplateParams true "New template parameters"
// @Success 200 {object} response.Envelope
// @Router /templates/{id} [put]
func (h *SyncHandler) UpdateTemplate(c *gin.Context) {
	var params dto.TemplateParams
	if err := c.ShouldBindJSON(&params); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid template parameters"))
		return
	}
	template, analysis, err := h.service.UpdateTemplate(c.Request.Context(), c.Param("id"), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updateTemplateResponse{Template: template, Analysis: analysis}, nil)
}

// Validate godoc
// @Summary Validate a synchronization against its policy
// @Tags Sync
// @Accept json
// @Produce json
// @Param payload body dto.ValidateSyncRequest true "Validation payload"
// @Success 200 {object} response.Envelope
// @Router /sync/validate [post]
func (h *SyncHandler) Validate(c *gin.Context) {
	var req dto.ValidateSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid validation payload"))
		return
	}
	result, err := h.service.ValidateSync(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Execute godoc
// @Summary Execute a template synchronization
// @Description Dry runs report projected work without mutating schedules; committed runs apply batches atomically and arm the rollback window.
// @Tags Sync
// @Accept json
// @Produce json
// @Param payload body dto.ExecuteSyncRequest true "Execution payload"
// @Success 200 {object} response.Envelope
// @Router /sync/execute [post]
func (h *SyncHandler) Execute(c *gin.Context) {
	var req dto.ExecuteSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid execution payload"))
		return
	}
	op, err := h.service.Execute(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveSyncOperation(string(op.Status))
	}
	response.JSON(c, http.StatusOK, op, nil)
}

// Rollback godoc
// @Summary Roll back a completed synchronization from its snapshot
// @Tags Sync
// @Produce json
// @Param id path string true "Sync operation ID"
// @Success 200 {object} response.Envelope
// @Router /sync/operations/{id}/rollback [post]
func (h *SyncHandler) Rollback(c *gin.Context) {
	result, err := h.service.Rollback(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Operation godoc
// @Summary Fetch one synchronization operation
// @Tags Sync
// @Produce json
// @Param id path string true "Sync operation ID"
// @Success 200 {object} response.Envelope
// @Router /sync/operations/{id} [get]
func (h *SyncHandler) Operation(c *gin.Context) {
	op, err := h.service.Operation(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, op, nil)
}
