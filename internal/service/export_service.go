package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/carewell/scheduling-api/internal/models"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
	"github.com/carewell/scheduling-api/pkg/export"
)

type exportSlotReader interface {
	ListRange(ctx context.Context, filter models.SlotFilter) ([]models.SessionSlot, error)
}

type exportConflictSource interface {
	DetectRange(ctx context.Context, from, to time.Time) ([]models.ScheduleConflict, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportService renders schedules and conflict reports for download.
type ExportService struct {
	slots     exportSlotReader
	conflicts exportConflictSource
	csv       csvRenderer
	pdf       pdfRenderer
	logger    *zap.Logger
}

// NewExportService constructs the export service.
func NewExportService(slots exportSlotReader, conflicts exportConflictSource, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		slots:     slots,
		conflicts: conflicts,
		csv:       csv,
		pdf:       pdf,
		logger:    logger,
	}
}

// ScheduleCSV renders the slots matching the filter as CSV.
func (s *ExportService) ScheduleCSV(ctx context.Context, filter models.SlotFilter) ([]byte, error) {
	slots, err := s.slots.ListRange(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slots")
	}

	dataset := export.Dataset{
		Headers: []string{"Date", "Start", "End", "Type", "Status", "Owner", "Therapist", "Room"},
	}
	for _, slot := range slots {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Date":      slot.Date.Format(models.DateLayout),
			"Start":     slot.StartTime,
			"End":       slot.EndTime,
			"Type":      string(slot.SessionType),
			"Status":    string(slot.Status),
			"Owner":     slot.OwnerID(),
			"Therapist": slot.TherapistID,
			"Room":      slot.RoomID,
		})
	}
	payload, err := s.csv.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
	}
	return payload, nil
}

// ConflictReportPDF renders a window's conflict clusters as a PDF table.
func (s *ExportService) ConflictReportPDF(ctx context.Context, from, to time.Time) ([]byte, error) {
	conflicts, err := s.conflicts.DetectRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Headers: []string{"Conflict", "Type", "Entity", "Date", "Sessions"},
	}
	for _, conflict := range conflicts {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Conflict": conflict.ID,
			"Type":     string(conflict.Type),
			"Entity":   conflict.EntityID,
			"Date":     conflict.Date.Format(models.DateLayout),
			"Sessions": fmt.Sprintf("%d", len(conflict.Slots)),
		})
	}
	title := fmt.Sprintf("Conflict report %s to %s", from.Format(models.DateLayout), to.Format(models.DateLayout))
	payload, err := s.pdf.Render(dataset, title)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
	}
	return payload, nil
}
