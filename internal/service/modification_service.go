package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/carewell/scheduling-api/internal/dto"
	"github.com/carewell/scheduling-api/internal/models"
	"github.com/carewell/scheduling-api/pkg/billing"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
	"github.com/carewell/scheduling-api/pkg/locks"
	"github.com/carewell/scheduling-api/pkg/notify"
)

type modificationEnrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	UpdateState(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
}

type modificationSlotStore interface {
	ListRange(ctx context.Context, filter models.SlotFilter) ([]models.SessionSlot, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.SessionSlot, error)
	BulkInsert(ctx context.Context, exec sqlx.ExtContext, slots []models.SessionSlot) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, ids []string, status models.SlotStatus) (int64, error)
	UpdatePlacement(ctx context.Context, exec sqlx.ExtContext, id string, date time.Time, startTime, endTime string) error
}

type modificationScheduleStore interface {
	CreateVersion(ctx context.Context, exec sqlx.ExtContext, schedule *models.CustomSchedule) error
	GetActive(ctx context.Context, enrollmentID string) (*models.CustomSchedule, error)
}

type modificationHistoryStore interface {
	Append(ctx context.Context, exec sqlx.ExtContext, record *models.ModificationRequest) error
	ListByEnrollment(ctx context.Context, enrollmentID string, limit int) ([]models.ModificationRequest, error)
}

type modificationAuditStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, entry *models.AuditLog) error
}

type placementChecker interface {
	CheckPlacements(ctx context.Context, candidates []models.SessionSlot) ([]models.ScheduleConflict, error)
}

// ModificationService applies lifecycle changes to enrollment schedules. All
// changes for a single enrollment are serialized; every request is recorded
// in the append-only history whether it succeeded or not.
type ModificationService struct {
	enrollments modificationEnrollmentStore
	slots       modificationSlotStore
	schedules   modificationScheduleStore
	history     modificationHistoryStore
	audit       modificationAuditStore
	checker     placementChecker
	closures    holidaySource
	tx          txProvider
	keyed       *locks.KeyedMutex
	notifier    notify.Notifier
	biller      billing.Biller
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         GeneratorConfig
}

// NewModificationService wires the service's dependencies. The keyed mutex is
// shared with every other service that mutates enrollment schedules.
func NewModificationService(
	enrollments modificationEnrollmentStore,
	slots modificationSlotStore,
	schedules modificationScheduleStore,
	history modificationHistoryStore,
	audit modificationAuditStore,
	checker placementChecker,
	closures holidaySource,
	tx txProvider,
	keyed *locks.KeyedMutex,
	notifier notify.Notifier,
	biller billing.Biller,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg GeneratorConfig,
) *ModificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if biller == nil {
		biller = billing.Nop{}
	}
	if keyed == nil {
		keyed = locks.NewKeyedMutex()
	}
	return &ModificationService{
		enrollments: enrollments,
		slots:       slots,
		schedules:   schedules,
		history:     history,
		audit:       audit,
		checker:     checker,
		closures:    closures,
		tx:          tx,
		keyed:       keyed,
		notifier:    notifier,
		biller:      biller,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// Apply executes one modification request atomically. On failure nothing in
// the schedule changes, but the rejected request still lands in history.
func (s *ModificationService) Apply(ctx context.Context, req dto.ModificationRequest) (*models.ModificationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid modification payload")
	}
	effectiveDate, err := time.ParseInLocation(models.DateLayout, req.EffectiveDate, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "effectiveDate must be formatted YYYY-MM-DD")
	}
	details, err := detailsFor(req)
	if err != nil {
		return nil, err
	}

	s.keyed.Lock(req.EnrollmentID)
	defer s.keyed.Unlock(req.EnrollmentID)

	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "enrollment not found")
	}
	if enrollment.State == models.ScheduleStateArchived {
		return nil, appErrors.Clone(appErrors.ErrValidation, "archived enrollments cannot be modified")
	}

	record := &models.ModificationRequest{
		EnrollmentID:  req.EnrollmentID,
		Type:          req.Type,
		EffectiveDate: effectiveDate,
		RequestedBy:   req.RequestedBy,
		Reason:        req.Reason,
		Details:       details,
	}

	result, applyErr := s.applyInTx(ctx, enrollment, req, effectiveDate, record)
	if applyErr != nil {
		s.appendFailure(ctx, record, applyErr)
		return nil, applyErr
	}

	s.notifyAsync(notify.Event{
		Type:       notify.EventModificationOccurred,
		Subject:    fmt.Sprintf("Schedule %s applied", req.Type),
		Body:       result.Message,
		Recipients: []string{req.RequestedBy},
		Meta: map[string]string{
			"enrollment_id": req.EnrollmentID,
			"type":          string(req.Type),
		},
	})

	s.logger.Info("modification applied",
		zap.String("enrollment_id", req.EnrollmentID),
		zap.String("type", string(req.Type)),
		zap.Int("affected_slots", result.AffectedSlots))
	return result, nil
}

func (s *ModificationService) applyInTx(ctx context.Context, enrollment *models.Enrollment, req dto.ModificationRequest, effectiveDate time.Time, record *models.ModificationRequest) (*models.ModificationResult, error) {
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var result *models.ModificationResult
	switch req.Type {
	case models.ModificationTypeReschedule:
		result, err = s.applyReschedule(ctx, tx, enrollment, *req.Reschedule, effectiveDate)
	case models.ModificationTypePause:
		result, err = s.applyPause(ctx, tx, enrollment, *req.Pause, effectiveDate)
	case models.ModificationTypeResume:
		result, err = s.applyResume(ctx, tx, enrollment, *req.Resume, effectiveDate)
	case models.ModificationTypeIntensityChange:
		result, err = s.applyIntensityChange(ctx, tx, enrollment, *req.Intensity, effectiveDate)
	case models.ModificationTypeExtendDuration:
		result, err = s.applyExtendDuration(ctx, tx, enrollment, *req.Extend, effectiveDate)
	default:
		err = appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported modification type %q", req.Type))
	}
	if err != nil {
		return nil, err
	}

	record.Success = true
	record.Outcome = mustJSON(result)
	if err := s.history.Append(ctx, tx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append modification history")
	}
	if s.audit != nil {
		entry := &models.AuditLog{
			UserID:     &req.RequestedBy,
			Action:     models.AuditActionModificationApply,
			Resource:   "enrollment",
			ResourceID: &enrollment.ID,
			NewValues:  record.Outcome,
		}
		if err := s.audit.Create(ctx, tx, entry); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write audit log")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit modification")
	}
	return result, nil
}

// appendFailure records a rejected request outside the rolled-back
// transaction so the audit trail keeps the attempt.
func (s *ModificationService) appendFailure(ctx context.Context, record *models.ModificationRequest, applyErr error) {
	record.Success = false
	record.Outcome = mustJSON(map[string]string{"error": applyErr.Error()})
	if err := s.history.Append(ctx, nil, record); err != nil {
		s.logger.Error("failed to append rejected modification", zap.Error(err), zap.String("enrollment_id", record.EnrollmentID))
	}
}

// History returns an enrollment's modification records, newest first.
func (s *ModificationService) History(ctx context.Context, query dto.ModificationHistoryQuery) ([]models.ModificationRequest, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid history query")
	}
	records, err := s.history.ListByEnrollment(ctx, query.EnrollmentID, query.Limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load modification history")
	}
	return records, nil
}

func (s *ModificationService) notifyAsync(event notify.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Send(ctx, event); err != nil {
			s.logger.Warn("notification delivery failed", zap.Error(err), zap.String("event", event.Type))
		}
	}()
}

// detailsFor extracts the detail payload matching the request type. Exactly
// one variant must be present.
func detailsFor(req dto.ModificationRequest) (types.JSONText, error) {
	var payload interface{}
	switch req.Type {
	case models.ModificationTypeReschedule:
		if req.Reschedule == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "reschedule details are required")
		}
		payload = req.Reschedule
	case models.ModificationTypePause:
		if req.Pause == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "pause details are required")
		}
		payload = req.Pause
	case models.ModificationTypeResume:
		if req.Resume == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "resume details are required")
		}
		payload = req.Resume
	case models.ModificationTypeIntensityChange:
		if req.Intensity == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "intensity change details are required")
		}
		payload = req.Intensity
	case models.ModificationTypeExtendDuration:
		if req.Extend == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "extend duration details are required")
		}
		payload = req.Extend
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported modification type %q", req.Type))
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid modification details")
	}
	return types.JSONText(raw), nil
}

func mustJSON(value interface{}) types.JSONText {
	raw, err := json.Marshal(value)
	if err != nil {
		return types.JSONText("{}")
	}
	return types.JSONText(raw)
}
