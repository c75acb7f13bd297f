package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/carewell/scheduling-api/internal/models"
	"github.com/carewell/scheduling-api/pkg/billing"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
)

// applyReschedule moves the requested slots to their new placements. Only
// upcoming sessions move: a slot already held, cancelled, or dated before the
// effective date rejects the request. Without a force flag, any placement
// that would double-book therapist, room or student rejects it too.
func (s *ModificationService) applyReschedule(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment, details models.RescheduleDetails, effectiveDate time.Time) (*models.ModificationResult, error) {
	if len(details.Moves) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one slot move is required")
	}

	slotIDs := make([]string, 0, len(details.Moves))
	for _, move := range details.Moves {
		slotIDs = append(slotIDs, move.SlotID)
	}
	slots, err := s.slots.FindByIDs(ctx, slotIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slots")
	}
	byID := make(map[string]models.SessionSlot, len(slots))
	for _, slot := range slots {
		byID[slot.ID] = slot
	}

	candidates := make([]models.SessionSlot, 0, len(details.Moves))
	for _, move := range details.Moves {
		slot, ok := byID[move.SlotID]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("slot %s not found", move.SlotID))
		}
		if slot.EnrollmentID == nil || *slot.EnrollmentID != enrollment.ID {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("slot %s does not belong to enrollment %s", move.SlotID, enrollment.ID))
		}
		if slot.Status != models.SlotStatusScheduled && slot.Status != models.SlotStatusMakeupScheduled {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("slot %s is %s and can no longer move", move.SlotID, slot.Status))
		}
		if slot.Date.Before(effectiveDate) {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("slot %s is dated before the effective date", move.SlotID))
		}
		newDate, err := time.ParseInLocation(models.DateLayout, move.NewDate, time.UTC)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("slot %s: newDate must be formatted YYYY-MM-DD", move.SlotID))
		}
		if models.ClockToMinutes(move.StartTime) < 0 || models.ClockToMinutes(move.EndTime) < 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("slot %s: times must be formatted HH:MM", move.SlotID))
		}
		slot.Date = newDate
		slot.StartTime = move.StartTime
		slot.EndTime = move.EndTime
		candidates = append(candidates, slot)
	}

	if !details.Force && s.checker != nil {
		conflicts, err := s.checker.CheckPlacements(ctx, candidates)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			return nil, appErrors.Wrap(
				&models.SlotConflictError{Message: "requested placements collide with existing sessions", Conflicts: conflicts},
				appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "reschedule would create conflicts")
		}
	}

	for _, candidate := range candidates {
		if err := s.slots.UpdatePlacement(ctx, tx, candidate.ID, candidate.Date, candidate.StartTime, candidate.EndTime); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to move slot")
		}
	}

	enrollment.State = models.ScheduleStateModified
	if err := s.enrollments.UpdateState(ctx, tx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}

	return &models.ModificationResult{
		Success:       true,
		AffectedSlots: len(candidates),
		Message:       fmt.Sprintf("moved %d sessions", len(candidates)),
	}, nil
}

// applyPause suspends the schedule for a number of weeks from the effective
// date. Sessions inside the pause window are cancelled or parked as makeup
// candidates depending on the request.
func (s *ModificationService) applyPause(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment, details models.PauseDetails, effectiveDate time.Time) (*models.ModificationResult, error) {
	if details.DurationWeeks <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "pause duration must be at least one week")
	}
	if enrollment.State == models.ScheduleStatePaused {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment is already paused")
	}

	resumeDate := effectiveDate.AddDate(0, 0, 7*details.DurationWeeks)
	affected := 0

	if details.CancelSessions {
		pauseEnd := resumeDate.AddDate(0, 0, -1)
		inWindow, err := s.slots.ListRange(ctx, models.SlotFilter{
			EnrollmentID: enrollment.ID,
			From:         &effectiveDate,
			To:           &pauseEnd,
			Statuses:     []models.SlotStatus{models.SlotStatusScheduled, models.SlotStatusMakeupScheduled},
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load pause window slots")
		}
		ids := make([]string, 0, len(inWindow))
		for _, slot := range inWindow {
			ids = append(ids, slot.ID)
		}
		status := models.SlotStatusCancelled
		if details.CreateMakeupSessions {
			status = models.SlotStatusMakeupNeeded
		}
		count, err := s.slots.UpdateStatus(ctx, tx, ids, status)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update pause window slots")
		}
		affected = int(count)
	}

	enrollment.State = models.ScheduleStatePaused
	enrollment.PauseStart = &effectiveDate
	enrollment.ResumeDate = &resumeDate
	if err := s.enrollments.UpdateState(ctx, tx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}

	return &models.ModificationResult{
		Success:       true,
		AffectedSlots: affected,
		ResumeDate:    &resumeDate,
		Message:       fmt.Sprintf("paused for %d weeks, resuming %s", details.DurationWeeks, resumeDate.Format(models.DateLayout)),
	}, nil
}

// applyResume reactivates a paused enrollment. Makeup candidates are
// re-placed one week forward from their original date when the placement is
// free; contended candidates stay parked.
func (s *ModificationService) applyResume(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment, details models.ResumeDetails, effectiveDate time.Time) (*models.ModificationResult, error) {
	if enrollment.State != models.ScheduleStatePaused {
		return nil, appErrors.Clone(appErrors.ErrValidation, "only paused enrollments can resume")
	}

	affected := 0
	if details.ApplyMakeupSessions {
		needed, err := s.slots.ListRange(ctx, models.SlotFilter{
			EnrollmentID: enrollment.ID,
			Statuses:     []models.SlotStatus{models.SlotStatusMakeupNeeded},
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load makeup candidates")
		}
		for _, slot := range needed {
			target := slot.Date.AddDate(0, 0, 7)
			for target.Before(effectiveDate) {
				target = target.AddDate(0, 0, 7)
			}
			candidate := slot
			candidate.Date = target
			candidate.Status = models.SlotStatusMakeupScheduled

			if s.checker != nil {
				conflicts, err := s.checker.CheckPlacements(ctx, []models.SessionSlot{candidate})
				if err != nil {
					return nil, err
				}
				if len(conflicts) > 0 {
					continue
				}
			}
			if err := s.slots.UpdatePlacement(ctx, tx, slot.ID, target, slot.StartTime, slot.EndTime); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to place makeup session")
			}
			if _, err := s.slots.UpdateStatus(ctx, tx, []string{slot.ID}, models.SlotStatusMakeupScheduled); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to schedule makeup session")
			}
			affected++
		}
	}

	enrollment.State = models.ScheduleStateActive
	enrollment.PauseStart = nil
	enrollment.ResumeDate = nil
	if err := s.enrollments.UpdateState(ctx, tx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}

	return &models.ModificationResult{
		Success:       true,
		AffectedSlots: affected,
		Message:       fmt.Sprintf("resumed with %d makeup sessions scheduled", affected),
	}, nil
}

// applyIntensityChange records a new schedule version and rebuilds future
// sessions from the effective date. Sessions already held are untouched.
func (s *ModificationService) applyIntensityChange(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment, details models.IntensityChangeDetails, effectiveDate time.Time) (*models.ModificationResult, error) {
	if details.SessionsPerWeek <= 0 || details.SessionDurationMinutes <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sessionsPerWeek and sessionDurationMinutes must be positive")
	}

	previous, err := s.schedules.GetActive(ctx, enrollment.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "enrollment has no active schedule")
	}
	days := details.PreferredDays
	if len(days) == 0 {
		days = previous.PreferredDays
	}
	times := details.PreferredTimes
	if len(times) == 0 {
		times = previous.PreferredTimes
	}

	version := &models.CustomSchedule{
		EnrollmentID:           enrollment.ID,
		SessionsPerWeek:        details.SessionsPerWeek,
		SessionDurationMinutes: details.SessionDurationMinutes,
		PreferredDays:          days,
		PreferredTimes:         times,
	}
	if err := s.schedules.CreateVersion(ctx, tx, version); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record schedule version")
	}

	future, err := s.slots.ListRange(ctx, models.SlotFilter{
		EnrollmentID: enrollment.ID,
		From:         &effectiveDate,
		Statuses:     []models.SlotStatus{models.SlotStatusScheduled},
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load future slots")
	}
	ids := make([]string, 0, len(future))
	roomID := ""
	for _, slot := range future {
		ids = append(ids, slot.ID)
		if roomID == "" {
			roomID = slot.RoomID
		}
	}
	if _, err := s.slots.UpdateStatus(ctx, tx, ids, models.SlotStatusCancelled); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to retire future slots")
	}

	rebuilt := buildCalendar(calendarParams{
		EnrollmentID:           enrollment.ID,
		TherapistID:            enrollment.TherapistID,
		RoomID:                 roomID,
		StartDate:              effectiveDate,
		EndDate:                enrollment.EndDate,
		SessionsPerWeek:        details.SessionsPerWeek,
		SessionDurationMinutes: details.SessionDurationMinutes,
		PreferredDays:          normalizeDays(days),
		PreferredTimes:         times,
		AllowWeekends:          s.cfg.AllowWeekends,
		AvoidHolidays:          s.cfg.AvoidHolidays,
		Holidays:               holidaySet(ctx, s.closures, s.cfg, effectiveDate, enrollment.EndDate, s.logger),
	})
	if err := s.slots.BulkInsert(ctx, tx, rebuilt); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist rebuilt slots")
	}

	enrollment.State = models.ScheduleStateModified
	enrollment.ScheduleVersion = version.Version
	if err := s.enrollments.UpdateState(ctx, tx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}

	return &models.ModificationResult{
		Success:       true,
		AffectedSlots: len(ids) + len(rebuilt),
		Message:       fmt.Sprintf("retired %d sessions, scheduled %d at the new intensity", len(ids), len(rebuilt)),
	}, nil
}

// applyExtendDuration pushes the enrollment end date forward and, when the
// current pattern is kept, fills the extension with sessions.
func (s *ModificationService) applyExtendDuration(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment, details models.ExtendDurationDetails, effectiveDate time.Time) (*models.ModificationResult, error) {
	if details.ExtensionWeeks <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "extension must be at least one week")
	}

	previousEnd := enrollment.EndDate
	newEnd := previousEnd.AddDate(0, 0, 7*details.ExtensionWeeks)
	created := 0

	if details.MaintainCurrentSchedule {
		active, err := s.schedules.GetActive(ctx, enrollment.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "enrollment has no active schedule")
		}

		existing, err := s.slots.ListRange(ctx, models.SlotFilter{
			EnrollmentID: enrollment.ID,
			From:         &effectiveDate,
			Statuses:     []models.SlotStatus{models.SlotStatusScheduled},
		})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load future slots")
		}
		roomID := ""
		for _, slot := range existing {
			if roomID == "" {
				roomID = slot.RoomID
			}
		}

		extensionStart := previousEnd.AddDate(0, 0, 1)
		extension := buildCalendar(calendarParams{
			EnrollmentID:           enrollment.ID,
			TherapistID:            enrollment.TherapistID,
			RoomID:                 roomID,
			StartDate:              extensionStart,
			EndDate:                newEnd,
			SessionsPerWeek:        active.SessionsPerWeek,
			SessionDurationMinutes: active.SessionDurationMinutes,
			PreferredDays:          normalizeDays(active.PreferredDays),
			PreferredTimes:         active.PreferredTimes,
			AllowWeekends:          s.cfg.AllowWeekends,
			AvoidHolidays:          s.cfg.AvoidHolidays,
			Holidays:               holidaySet(ctx, s.closures, s.cfg, extensionStart, newEnd, s.logger),
		})
		if err := s.slots.BulkInsert(ctx, tx, extension); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist extension slots")
		}
		created = len(extension)
	}

	enrollment.State = models.ScheduleStateExtended
	enrollment.EndDate = newEnd
	if err := s.enrollments.UpdateState(ctx, tx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}

	message := fmt.Sprintf("extended by %d weeks to %s", details.ExtensionWeeks, newEnd.Format(models.DateLayout))
	if details.ProrateFees {
		adjustment := billing.Adjustment{
			EnrollmentID: enrollment.ID,
			SessionDelta: created,
			Reason:       fmt.Sprintf("enrollment extended by %d weeks", details.ExtensionWeeks),
		}
		if err := s.biller.Adjust(ctx, adjustment); err != nil {
			s.logger.Warn("billing adjustment failed",
				zap.Error(err),
				zap.String("enrollment_id", enrollment.ID),
				zap.Int("session_delta", adjustment.SessionDelta))
		}
		message += " (fees prorated)"
	}
	return &models.ModificationResult{
		Success:       true,
		AffectedSlots: created,
		NewEndDate:    &newEnd,
		Message:       message,
	}, nil
}
