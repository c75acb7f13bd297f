package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/carewell/scheduling-api/internal/dto"
	"github.com/carewell/scheduling-api/internal/models"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
)

type generatorEnrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

type generatorScheduleStore interface {
	CreateVersion(ctx context.Context, exec sqlx.ExtContext, schedule *models.CustomSchedule) error
	GetActive(ctx context.Context, enrollmentID string) (*models.CustomSchedule, error)
}

type generatorSlotStore interface {
	BulkInsert(ctx context.Context, exec sqlx.ExtContext, slots []models.SessionSlot) error
	ListRange(ctx context.Context, filter models.SlotFilter) ([]models.SessionSlot, error)
}

type holidaySource interface {
	ListRange(ctx context.Context, from, to time.Time) ([]time.Time, error)
}

// CalendarGeneratorService expands an enrollment's scheduling parameters into
// concrete session slots over a date range.
type CalendarGeneratorService struct {
	enrollments generatorEnrollmentReader
	schedules   generatorScheduleStore
	slots       generatorSlotStore
	closures    holidaySource
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         GeneratorConfig
}

// GeneratorConfig carries the clinic-wide generation defaults.
type GeneratorConfig struct {
	AllowWeekends bool
	AvoidHolidays bool
	Holidays      []string
}

// NewCalendarGeneratorService wires the generator's dependencies.
func NewCalendarGeneratorService(
	enrollments generatorEnrollmentReader,
	schedules generatorScheduleStore,
	slots generatorSlotStore,
	closures holidaySource,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg GeneratorConfig,
) *CalendarGeneratorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarGeneratorService{
		enrollments: enrollments,
		schedules:   schedules,
		slots:       slots,
		closures:    closures,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// calendarParams is the resolved input of one generation run.
type calendarParams struct {
	EnrollmentID           string
	TherapistID            string
	RoomID                 string
	StartDate              time.Time
	EndDate                time.Time
	SessionsPerWeek        int
	SessionDurationMinutes int
	PreferredDays          []string
	PreferredTimes         []string
	AllowWeekends          bool
	AvoidHolidays          bool
	Holidays               map[string]bool
}

// Generate builds and persists the slot sequence for an enrollment. The new
// custom schedule version is recorded alongside the slots.
func (s *CalendarGeneratorService) Generate(ctx context.Context, req dto.GenerateCalendarRequest) (*dto.GenerateCalendarResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid calendar generation payload")
	}

	startDate, err := time.ParseInLocation(models.DateLayout, req.StartDate, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "startDate must be formatted YYYY-MM-DD")
	}
	endDate, err := time.ParseInLocation(models.DateLayout, req.EndDate, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "endDate must be formatted YYYY-MM-DD")
	}

	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "enrollment not found")
	}
	if enrollment.State == models.ScheduleStateArchived {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot generate a calendar for an archived enrollment")
	}

	params, err := s.resolveParams(ctx, enrollment, req, startDate, endDate)
	if err != nil {
		return nil, err
	}

	generated := buildCalendar(params)

	if len(generated) > 0 && s.schedules != nil {
		version := &models.CustomSchedule{
			EnrollmentID:           enrollment.ID,
			SessionsPerWeek:        params.SessionsPerWeek,
			SessionDurationMinutes: params.SessionDurationMinutes,
			PreferredDays:          params.PreferredDays,
			PreferredTimes:         params.PreferredTimes,
		}
		if err := s.schedules.CreateVersion(ctx, nil, version); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record schedule version")
		}
	}

	if len(generated) > 0 {
		if err := s.slots.BulkInsert(ctx, nil, generated); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist session slots")
		}
	}

	s.logger.Info("calendar generated",
		zap.String("enrollment_id", enrollment.ID),
		zap.Int("slots", len(generated)),
		zap.String("from", req.StartDate),
		zap.String("to", req.EndDate))

	return &dto.GenerateCalendarResponse{
		EnrollmentID: enrollment.ID,
		Slots:        generated,
		Count:        len(generated),
	}, nil
}

// Preview expands the parameters without persisting anything.
func (s *CalendarGeneratorService) Preview(ctx context.Context, req dto.GenerateCalendarRequest) (*dto.GenerateCalendarResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid calendar generation payload")
	}
	startDate, err := time.ParseInLocation(models.DateLayout, req.StartDate, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "startDate must be formatted YYYY-MM-DD")
	}
	endDate, err := time.ParseInLocation(models.DateLayout, req.EndDate, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "endDate must be formatted YYYY-MM-DD")
	}
	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "enrollment not found")
	}
	params, err := s.resolveParams(ctx, enrollment, req, startDate, endDate)
	if err != nil {
		return nil, err
	}
	generated := buildCalendar(params)
	return &dto.GenerateCalendarResponse{
		EnrollmentID: enrollment.ID,
		Slots:        generated,
		Count:        len(generated),
	}, nil
}

func (s *CalendarGeneratorService) resolveParams(ctx context.Context, enrollment *models.Enrollment, req dto.GenerateCalendarRequest, startDate, endDate time.Time) (calendarParams, error) {
	params := calendarParams{
		EnrollmentID:           enrollment.ID,
		TherapistID:            req.TherapistID,
		RoomID:                 req.RoomID,
		StartDate:              startDate,
		EndDate:                endDate,
		SessionsPerWeek:        req.Schedule.SessionsPerWeek,
		SessionDurationMinutes: req.Schedule.SessionDurationMinutes,
		PreferredDays:          normalizeDays(req.Schedule.PreferredDays),
		PreferredTimes:         req.Schedule.PreferredTimes,
		AllowWeekends:          s.cfg.AllowWeekends,
		AvoidHolidays:          s.cfg.AvoidHolidays,
	}
	if req.Options.AllowWeekends != nil {
		params.AllowWeekends = *req.Options.AllowWeekends
	}
	if req.Options.AvoidHolidays != nil {
		params.AvoidHolidays = *req.Options.AvoidHolidays
	}

	// A request without explicit parameters falls back to the enrollment's
	// active schedule version.
	if params.SessionsPerWeek == 0 && s.schedules != nil {
		active, err := s.schedules.GetActive(ctx, enrollment.ID)
		if err == nil && active != nil {
			params.SessionsPerWeek = active.SessionsPerWeek
			params.SessionDurationMinutes = active.SessionDurationMinutes
			params.PreferredDays = normalizeDays(active.PreferredDays)
			params.PreferredTimes = active.PreferredTimes
		}
	}

	holidayCfg := s.cfg
	holidayCfg.AvoidHolidays = params.AvoidHolidays
	params.Holidays = holidaySet(ctx, s.closures, holidayCfg, startDate, endDate, s.logger)
	return params, nil
}

// holidaySet merges the configured holiday list with the clinic closure
// calendar over [from, to]. An inactive avoid flag yields an empty set.
func holidaySet(ctx context.Context, closures holidaySource, cfg GeneratorConfig, from, to time.Time, logger *zap.Logger) map[string]bool {
	set := make(map[string]bool)
	if !cfg.AvoidHolidays {
		return set
	}
	for _, holiday := range cfg.Holidays {
		set[holiday] = true
	}
	if closures != nil {
		days, err := closures.ListRange(ctx, from, to)
		if err != nil && logger != nil {
			logger.Warn("failed to load clinic closures", zap.Error(err))
		}
		for _, day := range days {
			set[day.Format(models.DateLayout)] = true
		}
	}
	return set
}

// buildCalendar expands parameters into slots. Degenerate parameters yield an
// empty schedule rather than an error: zero sessions per week, an empty day
// or time list, a non-positive duration, or an inverted date range all
// produce no slots.
func buildCalendar(params calendarParams) []models.SessionSlot {
	if params.SessionsPerWeek <= 0 || params.SessionDurationMinutes <= 0 {
		return nil
	}
	if len(params.PreferredDays) == 0 || len(params.PreferredTimes) == 0 {
		return nil
	}
	if params.EndDate.Before(params.StartDate) {
		return nil
	}

	preferred := make(map[string]bool, len(params.PreferredDays))
	for _, day := range params.PreferredDays {
		preferred[day] = true
	}

	var slots []models.SessionSlot
	placedThisWeek := 0
	placedTotal := 0
	currentWeek := -1

	for date := params.StartDate; !date.After(params.EndDate); date = date.AddDate(0, 0, 1) {
		year, week := date.ISOWeek()
		weekKey := year*100 + week
		if weekKey != currentWeek {
			currentWeek = weekKey
			placedThisWeek = 0
		}

		if placedThisWeek >= params.SessionsPerWeek {
			continue
		}
		weekday := strings.ToLower(date.Weekday().String())
		if !preferred[weekday] {
			continue
		}
		if !params.AllowWeekends && (date.Weekday() == time.Saturday || date.Weekday() == time.Sunday) {
			continue
		}
		if params.AvoidHolidays && params.Holidays[date.Format(models.DateLayout)] {
			continue
		}

		startTime := params.PreferredTimes[placedTotal%len(params.PreferredTimes)]
		startMinutes := models.ClockToMinutes(startTime)
		if startMinutes < 0 {
			continue
		}
		endTime := models.MinutesToClock(startMinutes + params.SessionDurationMinutes)

		enrollmentID := params.EnrollmentID
		slots = append(slots, models.SessionSlot{
			EnrollmentID: &enrollmentID,
			TherapistID:  params.TherapistID,
			RoomID:       params.RoomID,
			Date:         date,
			StartTime:    startTime,
			EndTime:      endTime,
			SessionType:  models.SessionTypeIndividual,
			Status:       models.SlotStatusScheduled,
		})
		placedThisWeek++
		placedTotal++
	}
	return slots
}

func normalizeDays(days []string) []string {
	normalized := make([]string, 0, len(days))
	for _, day := range days {
		day = strings.ToLower(strings.TrimSpace(day))
		if day != "" {
			normalized = append(normalized, day)
		}
	}
	return normalized
}
