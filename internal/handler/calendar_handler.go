package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/carewell/scheduling-api/internal/dto"
	"github.com/carewell/scheduling-api/internal/service"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
	"github.com/carewell/scheduling-api/pkg/response"
)

type calendarGenerator interface {
	Generate(ctx context.Context, req dto.GenerateCalendarRequest) (*dto.GenerateCalendarResponse, error)
	Preview(ctx context.Context, req dto.GenerateCalendarRequest) (*dto.GenerateCalendarResponse, error)
}

// CalendarHandler exposes session calendar generation.
type CalendarHandler struct {
	service calendarGenerator
	metrics *service.MetricsService
}

// NewCalendarHandler constructs the handler.
func NewCalendarHandler(svc *service.CalendarGeneratorService, metrics *service.MetricsService) *CalendarHandler {
	return &CalendarHandler{service: svc, metrics: metrics}
}

// Generate godoc
// @Summary Generate and persist session slots for an enrollment
// @Description Builds the individualized calendar from the enrollment's active schedule parameters and commits the conflict-checked slots.
// @Tags Calendar
// @Accept json
// @Produce json
// @Param payload body dto.GenerateCalendarRequest true "Generation payload"
// @Success 201 {object} response.Envelope
// @Router /calendar/generate [post]
func (h *CalendarHandler) Generate(c *gin.Context) {
	var req dto.GenerateCalendarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generation payload"))
		return
	}
	result, err := h.service.Generate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.AddSlotsGenerated(result.Count)
	}
	response.Created(c, result)
}

// Preview godoc
// @Summary Preview session slots without persisting them
// @Tags Calendar
// @Accept json
// @Produce json
// @Param payload body dto.GenerateCalendarRequest true "Generation payload"
// @Success 200 {object} response.Envelope
// @Router /calendar/preview [post]
func (h *CalendarHandler) Preview(c *gin.Context) {
	var req dto.GenerateCalendarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generation payload"))
		return
	}
	result, err := h.service.Preview(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
