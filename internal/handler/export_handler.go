package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carewell/scheduling-api/internal/models"
	"github.com/carewell/scheduling-api/internal/service"
	"github.com/carewell/scheduling-api/pkg/response"
)

type scheduleExporter interface {
	ScheduleCSV(ctx context.Context, filter models.SlotFilter) ([]byte, error)
	ConflictReportPDF(ctx context.Context, from, to time.Time) ([]byte, error)
}

// ExportHandler serves downloadable schedule and conflict reports.
type ExportHandler struct {
	service scheduleExporter
}

// NewExportHandler constructs the handler.
func NewExportHandler(svc *service.ExportService) *ExportHandler {
	return &ExportHandler{service: svc}
}

// ScheduleCSV godoc
// @Summary Export session slots as CSV
// @Tags Exports
// @Produce text/csv
// @Param from query string true "Window start (YYYY-MM-DD)"
// @Param to query string true "Window end (YYYY-MM-DD)"
// @Param enrollmentId query string false "Restrict to one enrollment"
// @Param therapistId query string false "Restrict to one therapist"
// @Param roomId query string false "Restrict to one room"
// @Success 200 {file} file
// @Router /exports/schedule.csv [get]
func (h *ExportHandler) ScheduleCSV(c *gin.Context) {
	from, err := parseDateQuery(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseDateQuery(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := models.SlotFilter{
		EnrollmentID: c.Query("enrollmentId"),
		TherapistID:  c.Query("therapistId"),
		RoomID:       c.Query("roomId"),
		From:         &from,
		To:           &to,
	}
	data, err := h.service.ScheduleCSV(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("schedule_%s_%s.csv", from.Format(models.DateLayout), to.Format(models.DateLayout))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/csv", data)
}

// ConflictReportPDF godoc
// @Summary Export the conflict pattern report as PDF
// @Tags Exports
// @Produce application/pdf
// @Param from query string true "Window start (YYYY-MM-DD)"
// @Param to query string true "Window end (YYYY-MM-DD)"
// @Success 200 {file} file
// @Router /exports/conflicts.pdf [get]
func (h *ExportHandler) ConflictReportPDF(c *gin.Context) {
	from, err := parseDateQuery(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseDateQuery(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	data, err := h.service.ConflictReportPDF(c.Request.Context(), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("conflicts_%s_%s.pdf", from.Format(models.DateLayout), to.Format(models.DateLayout))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "application/pdf", data)
}
