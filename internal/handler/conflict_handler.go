package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carewell/scheduling-api/internal/dto"
	"github.com/carewell/scheduling-api/internal/models"
	"github.com/carewell/scheduling-api/internal/service"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
	"github.com/carewell/scheduling-api/pkg/response"
)

type conflictDetector interface {
	Detect(ctx context.Context, query dto.DetectConflictsQuery) (*dto.DetectConflictsResponse, error)
	DetectRange(ctx context.Context, from, to time.Time) ([]models.ScheduleConflict, error)
}

type conflictResolver interface {
	SuggestResolutions(ctx context.Context, conflict models.ScheduleConflict, params dto.ResolutionParams) ([]models.AlternativeSlot, error)
	BulkResolve(ctx context.Context, req dto.BulkResolveRequest) (*dto.BulkResolveResult, error)
	AnalyzePatterns(ctx context.Context, query dto.PatternQuery) (*models.ConflictPatternReport, error)
}

type suggestResolutionsRequest struct {
	ConflictID string               `json:"conflictId" binding:"required"`
	From       string               `json:"from" binding:"required"`
	To         string               `json:"to" binding:"required"`
	Params     dto.ResolutionParams `json:"params"`
}

type suggestResolutionsResponse struct {
	ConflictID   string                   `json:"conflictId"`
	Alternatives []models.AlternativeSlot `json:"alternatives"`
}

// ConflictHandler exposes conflict detection and resolution.
type ConflictHandler struct {
	detector conflictDetector
	resolver conflictResolver
	metrics  *service.MetricsService
}

// NewConflictHandler constructs the handler.
func NewConflictHandler(detector *service.ConflictDetectorService, resolver *service.ConflictResolverService, metrics *service.MetricsService) *ConflictHandler {
	return &ConflictHandler{detector: detector, resolver: resolver, metrics: metrics}
}

// Detect godoc
// @Summary Detect schedule conflicts inside a date window
// @Tags Conflicts
// @Produce json
// @Param from query string true "Window start (YYYY-MM-DD)"
// @Param to query string true "Window end (YYYY-MM-DD)"
// @Param therapistId query string false "Restrict to one therapist"
// @Param roomId query string false "Restrict to one room"
// @Success 200 {object} response.Envelope
// @Router /conflicts [get]
func (h *ConflictHandler) Detect(c *gin.Context) {
	query := dto.DetectConflictsQuery{
		From:        c.Query("from"),
		To:          c.Query("to"),
		TherapistID: c.Query("therapistId"),
		RoomID:      c.Query("roomId"),
	}
	result, err := h.detector.Detect(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		counts := map[models.ConflictType]int{}
		for _, conflict := range result.Conflicts {
			counts[conflict.Type]++
		}
		for conflictType, count := range counts {
			h.metrics.AddConflictsDetected(string(conflictType), count)
		}
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Suggest godoc
// @Summary Suggest alternative placements for one detected conflict
// @Description Re-derives the conflict inside the given window; the conflict id must come from a prior detection run.
// @Tags Conflicts
// @Accept json
// @Produce json
// @Param payload body suggestResolutionsRequest true "Suggestion payload"
// @Success 200 {object} response.Envelope
// @Router /conflicts/suggestions [post]
func (h *ConflictHandler) Suggest(c *gin.Context) {
	var req suggestResolutionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid suggestion payload"))
		return
	}
	from, err := time.ParseInLocation(models.DateLayout, req.From, time.UTC)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "from must be formatted as YYYY-MM-DD"))
		return
	}
	to, err := time.ParseInLocation(models.DateLayout, req.To, time.UTC)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "to must be formatted as YYYY-MM-DD"))
		return
	}

	conflicts, err := h.detector.DetectRange(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	for _, conflict := range conflicts {
		if conflict.ID != req.ConflictID {
			continue
		}
		alternatives, err := h.resolver.SuggestResolutions(c.Request.Context(), conflict, req.Params)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, suggestResolutionsResponse{ConflictID: conflict.ID, Alternatives: alternatives}, nil)
		return
	}
	response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "conflict not present in the given window"))
}

// BulkResolve godoc
// @Summary Resolve many conflicts with one strategy
// @Description Each conflict is resolved independently; failures are itemized and never abort the batch.
// @Tags Conflicts
// @Accept json
// @Produce json
// @Param payload body dto.BulkResolveRequest true "Bulk resolution payload"
// @Success 200 {object} response.Envelope
// @Router /conflicts/bulk-resolve [post]
func (h *ConflictHandler) BulkResolve(c *gin.Context) {
	var req dto.BulkResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid bulk resolution payload"))
		return
	}
	result, err := h.resolver.BulkResolve(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		for range result.Resolved {
			h.metrics.ObserveResolution(req.Strategy, true)
		}
		for range result.Failed {
			h.metrics.ObserveResolution(req.Strategy, false)
		}
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Patterns godoc
// @Summary Aggregate conflict patterns over a period
// @Tags Conflicts
// @Produce json
// @Param from query string true "Window start (YYYY-MM-DD)"
// @Param to query string true "Window end (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /conflicts/patterns [get]
func (h *ConflictHandler) Patterns(c *gin.Context) {
	query := dto.PatternQuery{From: c.Query("from"), To: c.Query("to")}
	report, err := h.resolver.AnalyzePatterns(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
