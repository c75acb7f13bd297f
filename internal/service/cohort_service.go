package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/carewell/scheduling-api/internal/dto"
	"github.com/carewell/scheduling-api/internal/models"
	"github.com/carewell/scheduling-api/pkg/billing"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
	"github.com/carewell/scheduling-api/pkg/locks"
)

type cohortStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, cohort *models.Cohort) error
	FindByID(ctx context.Context, id string) (*models.Cohort, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.CohortStatus) error
	AddMember(ctx context.Context, exec sqlx.ExtContext, cohortID, enrollmentID string) error
	RemoveMember(ctx context.Context, exec sqlx.ExtContext, cohortID, enrollmentID string) error
	ListActiveMembers(ctx context.Context, cohortID string) ([]models.CohortMember, error)
	CreateActivity(ctx context.Context, exec sqlx.ExtContext, activity *models.SharedActivity) error
	ListActivities(ctx context.Context, cohortID string) ([]models.SharedActivity, error)
	CreateAttendance(ctx context.Context, exec sqlx.ExtContext, records []models.ActivityAttendance) error
	CancelAttendance(ctx context.Context, exec sqlx.ExtContext, enrollmentID string, slotIDs []string) (int64, error)
	ListAttendanceBySlots(ctx context.Context, slotIDs []string) ([]models.ActivityAttendance, error)
}

type cohortEnrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.Enrollment, error)
	SetCohort(ctx context.Context, exec sqlx.ExtContext, enrollmentID string, cohortID *string) error
}

type cohortSlotStore interface {
	BulkInsert(ctx context.Context, exec sqlx.ExtContext, slots []models.SessionSlot) error
	ListRange(ctx context.Context, filter models.SlotFilter) ([]models.SessionSlot, error)
	ListByEnrollments(ctx context.Context, enrollmentIDs []string, from *time.Time) ([]models.SessionSlot, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, ids []string, status models.SlotStatus) (int64, error)
	UpdatePlacement(ctx context.Context, exec sqlx.ExtContext, id string, date time.Time, startTime, endTime string) error
}

type cohortAuditStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, entry *models.AuditLog) error
}

// CohortCoordinatorService manages therapy groups: shared recurring
// activities, membership churn and the combined group schedule.
type CohortCoordinatorService struct {
	cohorts     cohortStore
	enrollments cohortEnrollmentStore
	slots       cohortSlotStore
	checker     placementChecker
	audit       cohortAuditStore
	cache       patternCache
	tx          txProvider
	keyed       *locks.KeyedMutex
	biller      billing.Biller
	validator   *validator.Validate
	logger      *zap.Logger
	cacheTTL    time.Duration
}

// NewCohortCoordinatorService wires the coordinator's dependencies. The keyed
// mutex is shared with every other service that mutates enrollment schedules.
func NewCohortCoordinatorService(
	cohorts cohortStore,
	enrollments cohortEnrollmentStore,
	slots cohortSlotStore,
	checker placementChecker,
	audit cohortAuditStore,
	cache patternCache,
	tx txProvider,
	keyed *locks.KeyedMutex,
	biller billing.Biller,
	validate *validator.Validate,
	logger *zap.Logger,
	cacheTTL time.Duration,
) *CohortCoordinatorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyed == nil {
		keyed = locks.NewKeyedMutex()
	}
	if biller == nil {
		biller = billing.Nop{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &CohortCoordinatorService{
		cohorts:     cohorts,
		enrollments: enrollments,
		slots:       slots,
		checker:     checker,
		audit:       audit,
		cache:       cache,
		tx:          tx,
		keyed:       keyed,
		biller:      biller,
		validator:   validate,
		logger:      logger,
		cacheTTL:    cacheTTL,
	}
}

// Create builds a cohort with its initial members and shared activities.
// Every member must derive from the cohort's template and belong to no other
// cohort.
func (s *CohortCoordinatorService) Create(ctx context.Context, req dto.CreateCohortRequest) (*models.Cohort, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cohort payload")
	}

	enrollments, err := s.enrollments.ListByIDs(ctx, req.EnrollmentIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	if len(enrollments) != len(req.EnrollmentIDs) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "one or more enrollments do not exist")
	}
	for _, enrollment := range enrollments {
		if enrollment.TemplateID != req.TemplateID {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("enrollment %s derives from a different template", enrollment.ID))
		}
		if enrollment.CohortID != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("enrollment %s already belongs to a cohort", enrollment.ID))
		}
		if enrollment.State == models.ScheduleStateArchived {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("enrollment %s is archived", enrollment.ID))
		}
	}
	for _, activity := range req.Activities {
		if models.ClockToMinutes(activity.StartTime) < 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("activity %q has a malformed start time", activity.Name))
		}
		if activity.MinParticipants > activity.MaxParticipants {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("activity %q allows fewer participants than it requires", activity.Name))
		}
		if len(req.EnrollmentIDs) > activity.MaxParticipants {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("activity %q cannot hold %d members", activity.Name, len(req.EnrollmentIDs)))
		}
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	cohort := &models.Cohort{
		Name:       req.Name,
		TemplateID: req.TemplateID,
		CreatedBy:  req.CreatedBy,
	}
	if err := s.cohorts.Create(ctx, tx, cohort); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create cohort")
	}
	for _, payload := range req.Activities {
		activity := &models.SharedActivity{
			CohortID:        cohort.ID,
			Name:            payload.Name,
			DayOfWeek:       strings.ToLower(payload.DayOfWeek),
			StartTime:       payload.StartTime,
			DurationMinutes: payload.DurationMinutes,
			MinParticipants: payload.MinParticipants,
			MaxParticipants: payload.MaxParticipants,
			TherapistIDs:    payload.TherapistIDs,
			RoomID:          payload.RoomID,
		}
		if err := s.cohorts.CreateActivity(ctx, tx, activity); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create shared activity")
		}
	}
	for _, enrollment := range enrollments {
		if err := s.cohorts.AddMember(ctx, tx, cohort.ID, enrollment.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add member")
		}
		if err := s.enrollments.SetCohort(ctx, tx, enrollment.ID, &cohort.ID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link enrollment")
		}
	}
	s.writeAudit(ctx, tx, req.CreatedBy, cohort.ID, "cohort created")

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit cohort")
	}

	s.logger.Info("cohort created",
		zap.String("cohort_id", cohort.ID),
		zap.Int("members", len(enrollments)),
		zap.Int("activities", len(req.Activities)))
	return cohort, nil
}

// GenerateSchedule expands shared activities into concrete slots over the
// window and attaches attendance for every active member. Activities whose
// membership falls below their minimum are skipped.
func (s *CohortCoordinatorService) GenerateSchedule(ctx context.Context, cohortID string, req dto.GenerateCohortScheduleRequest) (*dto.CohortScheduleResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule request")
	}
	from, to, err := parseWindow(req.From, req.To)
	if err != nil {
		return nil, err
	}
	cohort, err := s.cohorts.FindByID(ctx, cohortID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "cohort not found")
	}
	if cohort.Status != models.CohortStatusActive {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cohort is dissolved")
	}

	members, err := s.cohorts.ListActiveMembers(ctx, cohortID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load members")
	}
	activities, err := s.cohorts.ListActivities(ctx, cohortID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activities")
	}

	var shared []models.SessionSlot
	for _, activity := range activities {
		if len(members) < activity.MinParticipants {
			s.logger.Warn("activity below minimum participants, skipping",
				zap.String("activity_id", activity.ID),
				zap.Int("members", len(members)),
				zap.Int("min", activity.MinParticipants))
			continue
		}
		shared = append(shared, expandActivity(activity, from, to)...)
	}

	var conflicts []models.ScheduleConflict
	if s.checker != nil && len(shared) > 0 {
		conflicts, err = s.checker.CheckPlacements(ctx, shared)
		if err != nil {
			return nil, err
		}
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.slots.BulkInsert(ctx, tx, shared); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist shared slots")
	}
	var attendance []models.ActivityAttendance
	for _, slot := range shared {
		for _, member := range members {
			attendance = append(attendance, models.ActivityAttendance{
				SlotID:       slot.ID,
				EnrollmentID: member.EnrollmentID,
				Status:       models.SlotStatusScheduled,
			})
		}
	}
	if err := s.cohorts.CreateAttendance(ctx, tx, attendance); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist attendance")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit schedule")
	}

	result := &dto.CohortScheduleResult{
		SharedSessions: shared,
		Conflicts:      conflicts,
		Stats: dto.CohortScheduleStats{
			SharedCount:   len(shared),
			MemberCount:   len(members),
			ConflictCount: len(conflicts),
		},
	}
	if req.IncludeIndividualSessions && len(members) > 0 {
		memberIDs := make([]string, 0, len(members))
		for _, member := range members {
			memberIDs = append(memberIDs, member.EnrollmentID)
		}
		individual, err := s.slots.ListByEnrollments(ctx, memberIDs, &from)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load individual sessions")
		}
		trimmed := individual[:0]
		for _, slot := range individual {
			if !slot.Date.After(to) {
				trimmed = append(trimmed, slot)
			}
		}
		result.IndividualSessions = trimmed
		result.Stats.IndividualCount = len(trimmed)
	}
	return result, nil
}

// AddMember joins an enrollment into the cohort and registers it for future
// shared sessions.
func (s *CohortCoordinatorService) AddMember(ctx context.Context, cohortID string, req dto.AddMemberRequest) (*dto.CohortScheduleResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid member payload")
	}
	cohort, err := s.cohorts.FindByID(ctx, cohortID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "cohort not found")
	}
	if cohort.Status != models.CohortStatusActive {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cohort is dissolved")
	}
	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "enrollment not found")
	}
	if enrollment.TemplateID != cohort.TemplateID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment derives from a different template")
	}
	if enrollment.CohortID != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment already belongs to a cohort")
	}

	members, err := s.cohorts.ListActiveMembers(ctx, cohortID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load members")
	}
	activities, err := s.cohorts.ListActivities(ctx, cohortID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activities")
	}
	for _, activity := range activities {
		if len(members)+1 > activity.MaxParticipants {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("activity %q is full", activity.Name))
		}
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	future, err := s.futureSharedSlots(ctx, cohortID, today)
	if err != nil {
		return nil, err
	}

	// Joining mid-stream can collide the member's individual sessions with
	// established shared ones.
	var conflicts []models.ScheduleConflict
	if s.checker != nil && len(future) > 0 {
		individual, err := s.slots.ListByEnrollments(ctx, []string{enrollment.ID}, &today)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load individual sessions")
		}
		conflicts = overlapsBetween(individual, future)
		if len(conflicts) > 0 && !req.AutoResolveConflicts {
			return nil, appErrors.Wrap(
				&models.SlotConflictError{Message: "joining would collide with the member's individual sessions", Conflicts: conflicts},
				appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "membership would create conflicts")
		}
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.cohorts.AddMember(ctx, tx, cohortID, enrollment.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add member")
	}
	if err := s.enrollments.SetCohort(ctx, tx, enrollment.ID, &cohortID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link enrollment")
	}
	var attendance []models.ActivityAttendance
	for _, slot := range future {
		attendance = append(attendance, models.ActivityAttendance{
			SlotID:       slot.ID,
			EnrollmentID: enrollment.ID,
			Status:       models.SlotStatusScheduled,
		})
	}
	if err := s.cohorts.CreateAttendance(ctx, tx, attendance); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist attendance")
	}
	s.writeAudit(ctx, tx, "", cohortID, fmt.Sprintf("member %s joined", enrollment.ID))

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit membership")
	}
	s.adjustBilling(ctx, enrollment.ID, len(future), fmt.Sprintf("joined cohort %s", cohortID))

	return &dto.CohortScheduleResult{
		SharedSessions: future,
		Conflicts:      conflicts,
		Stats: dto.CohortScheduleStats{
			SharedCount:   len(future),
			MemberCount:   len(members) + 1,
			ConflictCount: len(conflicts),
		},
	}, nil
}

// RemoveMember takes an enrollment out of the cohort. Activities whose
// membership drops below their minimum have their future sessions cancelled.
func (s *CohortCoordinatorService) RemoveMember(ctx context.Context, cohortID string, req dto.RemoveMemberRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid member payload")
	}
	if _, err := s.cohorts.FindByID(ctx, cohortID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "cohort not found")
	}

	// Leaving cancels schedule entries for this enrollment, so the removal
	// serializes with any other mutation against it.
	s.keyed.Lock(req.EnrollmentID)
	defer s.keyed.Unlock(req.EnrollmentID)

	today := time.Now().UTC().Truncate(24 * time.Hour)
	future, err := s.futureSharedSlots(ctx, cohortID, today)
	if err != nil {
		return err
	}
	futureIDs := make([]string, 0, len(future))
	for _, slot := range future {
		futureIDs = append(futureIDs, slot.ID)
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.cohorts.RemoveMember(ctx, tx, cohortID, req.EnrollmentID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "membership not found")
	}
	if err := s.enrollments.SetCohort(ctx, tx, req.EnrollmentID, nil); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unlink enrollment")
	}
	cancelled := int64(0)
	if req.CancelSharedSessions {
		count, err := s.cohorts.CancelAttendance(ctx, tx, req.EnrollmentID, futureIDs)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel attendance")
		}
		cancelled += count
	}
	if !req.KeepIndividualSessions {
		individual, err := s.slots.ListRange(ctx, models.SlotFilter{
			EnrollmentID: req.EnrollmentID,
			From:         &today,
			Statuses:     []models.SlotStatus{models.SlotStatusScheduled, models.SlotStatusMakeupScheduled},
		})
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load individual sessions")
		}
		ids := make([]string, 0, len(individual))
		for _, slot := range individual {
			ids = append(ids, slot.ID)
		}
		count, err := s.slots.UpdateStatus(ctx, tx, ids, models.SlotStatusCancelled)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel individual sessions")
		}
		cancelled += count
	}

	// Remaining membership may no longer sustain every activity.
	remaining, err := s.cohorts.ListActiveMembers(ctx, cohortID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load members")
	}
	remainingCount := len(remaining)
	for _, member := range remaining {
		if member.EnrollmentID == req.EnrollmentID {
			remainingCount--
		}
	}
	activities, err := s.cohorts.ListActivities(ctx, cohortID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activities")
	}
	for _, activity := range activities {
		if remainingCount >= activity.MinParticipants {
			continue
		}
		var ids []string
		for _, slot := range future {
			if slot.SharedActivityID != nil && *slot.SharedActivityID == activity.ID {
				ids = append(ids, slot.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}
		if _, err := s.slots.UpdateStatus(ctx, tx, ids, models.SlotStatusCancelled); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel undersized activity")
		}
		s.logger.Warn("activity fell below minimum participants, future sessions cancelled",
			zap.String("activity_id", activity.ID),
			zap.Int("remaining", remainingCount),
			zap.Int("min", activity.MinParticipants))
	}

	s.writeAudit(ctx, tx, "", cohortID, fmt.Sprintf("member %s removed", req.EnrollmentID))
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit removal")
	}
	s.adjustBilling(ctx, req.EnrollmentID, -int(cancelled), fmt.Sprintf("left cohort %s", cohortID))
	return nil
}

// adjustBilling forwards a session-count delta to the billing system. The
// call is advisory: failures are logged, never surfaced.
func (s *CohortCoordinatorService) adjustBilling(ctx context.Context, enrollmentID string, delta int, reason string) {
	if delta == 0 {
		return
	}
	adjustment := billing.Adjustment{
		EnrollmentID: enrollmentID,
		SessionDelta: delta,
		Reason:       reason,
	}
	if err := s.biller.Adjust(ctx, adjustment); err != nil {
		s.logger.Warn("billing adjustment failed",
			zap.Error(err),
			zap.String("enrollment_id", enrollmentID),
			zap.Int("session_delta", delta))
	}
}

// Synchronize reconciles persisted shared slots with the activity
// definitions over a window. Full mode re-places drifted sessions and fills
// gaps; incremental mode only fills gaps.
func (s *CohortCoordinatorService) Synchronize(ctx context.Context, cohortID string, req dto.SynchronizeRequest) (*dto.SynchronizeResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid synchronize payload")
	}
	from, to, err := parseWindow(req.From, req.To)
	if err != nil {
		return nil, err
	}
	members, err := s.cohorts.ListActiveMembers(ctx, cohortID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load members")
	}
	activities, err := s.cohorts.ListActivities(ctx, cohortID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activities")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result := &dto.SynchronizeResult{Mode: req.Mode}
	for _, activity := range activities {
		if len(members) < activity.MinParticipants {
			continue
		}
		expected := expandActivity(activity, from, to)
		existing, err := s.slots.ListRange(ctx, models.SlotFilter{
			SharedActivityID: activity.ID,
			From:             &from,
			To:               &to,
			Statuses:         []models.SlotStatus{models.SlotStatusScheduled},
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load shared slots")
		}

		existingByDate := make(map[string]models.SessionSlot, len(existing))
		for _, slot := range existing {
			existingByDate[slot.Date.Format(models.DateLayout)] = slot
		}

		var missing []models.SessionSlot
		for _, want := range expected {
			have, ok := existingByDate[want.Date.Format(models.DateLayout)]
			if !ok {
				missing = append(missing, want)
				continue
			}
			if have.StartTime != want.StartTime || have.EndTime != want.EndTime || have.RoomID != want.RoomID {
				result.DriftingSessions++
				if req.Mode == dto.SyncModeFull {
					if err := s.slots.UpdatePlacement(ctx, tx, have.ID, want.Date, want.StartTime, want.EndTime); err != nil {
						return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to re-place drifted slot")
					}
					result.SessionsRebuilt++
				}
			}
		}

		if len(missing) > 0 {
			if err := s.slots.BulkInsert(ctx, tx, missing); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fill missing slots")
			}
			var attendance []models.ActivityAttendance
			for _, slot := range missing {
				for _, member := range members {
					attendance = append(attendance, models.ActivityAttendance{
						SlotID:       slot.ID,
						EnrollmentID: member.EnrollmentID,
						Status:       models.SlotStatusScheduled,
					})
				}
			}
			if err := s.cohorts.CreateAttendance(ctx, tx, attendance); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist attendance")
			}
			result.SessionsRebuilt += len(missing)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit synchronization")
	}

	s.logger.Info("cohort synchronized",
		zap.String("cohort_id", cohortID),
		zap.String("mode", req.Mode),
		zap.Int("rebuilt", result.SessionsRebuilt),
		zap.Int("drifting", result.DriftingSessions))
	return result, nil
}

// Analytics aggregates attendance and efficiency numbers for the cohort.
// Reports cache per cohort and window.
func (s *CohortCoordinatorService) Analytics(ctx context.Context, cohortID string, query dto.CohortAnalyticsQuery) (*models.CohortAnalytics, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid analytics query")
	}
	from, to, err := parseWindow(query.From, query.To)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("cohorts:analytics:%s:%s:%s", cohortID, query.From, query.To)
	if s.cache != nil {
		var cached models.CohortAnalytics
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	activities, err := s.cohorts.ListActivities(ctx, cohortID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activities")
	}
	activityNames := make(map[string]string, len(activities))
	for _, activity := range activities {
		activityNames[activity.ID] = activity.Name
	}

	shared, err := s.slots.ListRange(ctx, models.SlotFilter{From: &from, To: &to})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slots")
	}
	var cohortSlots []models.SessionSlot
	var slotIDs []string
	for _, slot := range shared {
		if slot.SharedActivityID != nil {
			if _, ok := activityNames[*slot.SharedActivityID]; ok {
				cohortSlots = append(cohortSlots, slot)
				slotIDs = append(slotIDs, slot.ID)
			}
		}
	}

	attendance, err := s.cohorts.ListAttendanceBySlots(ctx, slotIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
	}

	analytics := &models.CohortAnalytics{
		CohortID:          cohortID,
		From:              from,
		To:                to,
		ActivityBreakdown: make(map[string]float64),
		MemberEngagement:  make(map[string]float64),
		GeneratedAt:       time.Now().UTC(),
	}

	attended, expected := 0, 0
	perActivityAttended := make(map[string]int)
	perActivityExpected := make(map[string]int)
	perMemberAttended := make(map[string]int)
	perMemberExpected := make(map[string]int)

	activityBySlot := make(map[string]string, len(cohortSlots))
	completedSlots := 0
	for _, slot := range cohortSlots {
		activityBySlot[slot.ID] = *slot.SharedActivityID
		if slot.Status == models.SlotStatusCompleted {
			completedSlots++
		}
	}
	for _, record := range attendance {
		if record.Status == models.SlotStatusCancelled {
			continue
		}
		expected++
		perActivityExpected[activityBySlot[record.SlotID]]++
		perMemberExpected[record.EnrollmentID]++
		if record.Status == models.SlotStatusCompleted {
			attended++
			perActivityAttended[activityBySlot[record.SlotID]]++
			perMemberAttended[record.EnrollmentID]++
		}
	}

	if expected > 0 {
		analytics.AttendanceRate = float64(attended) / float64(expected)
	}
	for activityID, total := range perActivityExpected {
		if total > 0 {
			analytics.ActivityBreakdown[activityNames[activityID]] = float64(perActivityAttended[activityID]) / float64(total)
		}
	}
	for enrollmentID, total := range perMemberExpected {
		if total > 0 {
			analytics.MemberEngagement[enrollmentID] = float64(perMemberAttended[enrollmentID]) / float64(total)
		}
	}
	if len(cohortSlots) > 0 {
		analytics.ScheduleEfficiency = float64(completedSlots) / float64(len(cohortSlots))
	}
	if s.checker != nil && len(cohortSlots) > 0 {
		conflicts, err := s.checker.CheckPlacements(ctx, cohortSlots)
		if err == nil && len(cohortSlots) > 0 {
			analytics.ConflictRate = float64(len(conflicts)) / float64(len(cohortSlots))
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, analytics, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache cohort analytics", zap.Error(err))
		}
	}
	return analytics, nil
}

// Dissolve archives the cohort and detaches every member.
func (s *CohortCoordinatorService) Dissolve(ctx context.Context, cohortID string) error {
	members, err := s.cohorts.ListActiveMembers(ctx, cohortID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load members")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, member := range members {
		if err := s.cohorts.RemoveMember(ctx, tx, cohortID, member.EnrollmentID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove member")
		}
		if err := s.enrollments.SetCohort(ctx, tx, member.EnrollmentID, nil); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unlink enrollment")
		}
	}
	if err := s.cohorts.UpdateStatus(ctx, tx, cohortID, models.CohortStatusDissolved); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to dissolve cohort")
	}
	s.writeAudit(ctx, tx, "", cohortID, "cohort dissolved")
	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit dissolution")
	}
	return nil
}

func (s *CohortCoordinatorService) futureSharedSlots(ctx context.Context, cohortID string, from time.Time) ([]models.SessionSlot, error) {
	activities, err := s.cohorts.ListActivities(ctx, cohortID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activities")
	}
	var future []models.SessionSlot
	for _, activity := range activities {
		slots, err := s.slots.ListRange(ctx, models.SlotFilter{
			SharedActivityID: activity.ID,
			From:             &from,
			Statuses:         []models.SlotStatus{models.SlotStatusScheduled},
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load shared slots")
		}
		future = append(future, slots...)
	}
	return future, nil
}

func (s *CohortCoordinatorService) writeAudit(ctx context.Context, tx *sqlx.Tx, userID, cohortID, summary string) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     models.AuditActionCohortChange,
		Resource:   "cohort",
		ResourceID: &cohortID,
		NewValues:  []byte(fmt.Sprintf("{%q: %q}", "summary", summary)),
	}
	if userID != "" {
		entry.UserID = &userID
	}
	if err := s.audit.Create(ctx, tx, entry); err != nil {
		s.logger.Warn("failed to write cohort audit entry", zap.Error(err))
	}
}

// expandActivity materializes an activity's weekly occurrences in [from, to].
func expandActivity(activity models.SharedActivity, from, to time.Time) []models.SessionSlot {
	startMinutes := models.ClockToMinutes(activity.StartTime)
	if startMinutes < 0 || activity.DurationMinutes <= 0 {
		return nil
	}
	endTime := models.MinutesToClock(startMinutes + activity.DurationMinutes)
	wanted := strings.ToLower(activity.DayOfWeek)

	var slots []models.SessionSlot
	therapistIdx := 0
	for date := from; !date.After(to); date = date.AddDate(0, 0, 1) {
		if strings.ToLower(date.Weekday().String()) != wanted {
			continue
		}
		therapistID := ""
		if len(activity.TherapistIDs) > 0 {
			therapistID = activity.TherapistIDs[therapistIdx%len(activity.TherapistIDs)]
			therapistIdx++
		}
		activityID := activity.ID
		slots = append(slots, models.SessionSlot{
			SharedActivityID: &activityID,
			TherapistID:      therapistID,
			RoomID:           activity.RoomID,
			Date:             date,
			StartTime:        activity.StartTime,
			EndTime:          endTime,
			SessionType:      models.SessionTypeShared,
			Status:           models.SlotStatusScheduled,
		})
	}
	return slots
}

// overlapsBetween reports clusters where any slot of the first set collides
// with any slot of the second on the time axis.
func overlapsBetween(first, second []models.SessionSlot) []models.ScheduleConflict {
	var conflicts []models.ScheduleConflict
	for _, a := range first {
		if !a.Occupies() {
			continue
		}
		for _, b := range second {
			if !b.Occupies() || !a.Overlaps(b) {
				continue
			}
			conflicts = append(conflicts, models.ScheduleConflict{
				ID:       fmt.Sprintf("member:%s:%s:0", a.ID, b.ID),
				Type:     models.ConflictTypeStudent,
				EntityID: a.OwnerID(),
				Date:     a.Date,
				Slots:    []models.SessionSlot{a, b},
			})
		}
	}
	return conflicts
}

func parseWindow(fromRaw, toRaw string) (time.Time, time.Time, error) {
	from, err := time.ParseInLocation(models.DateLayout, fromRaw, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "from must be formatted YYYY-MM-DD")
	}
	to, err := time.ParseInLocation(models.DateLayout, toRaw, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "to must be formatted YYYY-MM-DD")
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "to must not precede from")
	}
	return from, to, nil
}
