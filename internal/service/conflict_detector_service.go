package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/carewell/scheduling-api/internal/dto"
	"github.com/carewell/scheduling-api/internal/models"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
	"github.com/carewell/scheduling-api/pkg/notify"
)

type detectorSlotReader interface {
	ListRange(ctx context.Context, filter models.SlotFilter) ([]models.SessionSlot, error)
}

type detectorEnrollmentReader interface {
	ListByIDs(ctx context.Context, ids []string) ([]models.Enrollment, error)
}

type detectorAttendanceReader interface {
	ListAttendanceBySlots(ctx context.Context, slotIDs []string) ([]models.ActivityAttendance, error)
}

// ConflictDetectorService finds double-bookings across the therapist, room
// and student dimensions. Conflicts are a derived view over slot state:
// detection never mutates anything, so running it twice over unchanged slots
// returns identical results.
type ConflictDetectorService struct {
	slots       detectorSlotReader
	enrollments detectorEnrollmentReader
	attendance  detectorAttendanceReader
	notifier    notify.Notifier
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewConflictDetectorService wires the detector's dependencies.
func NewConflictDetectorService(
	slots detectorSlotReader,
	enrollments detectorEnrollmentReader,
	attendance detectorAttendanceReader,
	notifier notify.Notifier,
	validate *validator.Validate,
	logger *zap.Logger,
) *ConflictDetectorService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &ConflictDetectorService{
		slots:       slots,
		enrollments: enrollments,
		attendance:  attendance,
		notifier:    notifier,
		validator:   validate,
		logger:      logger,
	}
}

// Detect scans the window for overlap clusters.
func (s *ConflictDetectorService) Detect(ctx context.Context, query dto.DetectConflictsQuery) (*dto.DetectConflictsResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid conflict query")
	}
	from, err := time.ParseInLocation(models.DateLayout, query.From, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from must be formatted YYYY-MM-DD")
	}
	to, err := time.ParseInLocation(models.DateLayout, query.To, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to must be formatted YYYY-MM-DD")
	}

	conflicts, err := s.DetectRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	if query.TherapistID != "" || query.RoomID != "" {
		filtered := conflicts[:0]
		for _, conflict := range conflicts {
			if query.TherapistID != "" && !(conflict.Type == models.ConflictTypeTherapist && conflict.EntityID == query.TherapistID) {
				continue
			}
			if query.RoomID != "" && !(conflict.Type == models.ConflictTypeRoom && conflict.EntityID == query.RoomID) {
				continue
			}
			filtered = append(filtered, conflict)
		}
		conflicts = filtered
	}

	return &dto.DetectConflictsResponse{Conflicts: conflicts, Count: len(conflicts)}, nil
}

// DetectRange computes every conflict cluster inside [from, to].
func (s *ConflictDetectorService) DetectRange(ctx context.Context, from, to time.Time) ([]models.ScheduleConflict, error) {
	slots, err := s.slots.ListRange(ctx, models.SlotFilter{From: &from, To: &to})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slots")
	}

	studentsBySlot, err := s.resolveStudents(ctx, slots)
	if err != nil {
		return nil, err
	}

	conflicts := DetectOverlaps(slots, studentsBySlot)
	if len(conflicts) > 0 {
		s.logger.Info("conflicts detected",
			zap.Int("count", len(conflicts)),
			zap.Time("from", from),
			zap.Time("to", to))
		s.notifyDetected(len(conflicts), from, to)
	}
	return conflicts, nil
}

func (s *ConflictDetectorService) notifyDetected(count int, from, to time.Time) {
	event := notify.Event{
		Type:    notify.EventConflictDetected,
		Subject: "Schedule conflicts detected",
		Body: fmt.Sprintf("%d scheduling conflicts found between %s and %s.",
			count, from.Format(models.DateLayout), to.Format(models.DateLayout)),
		Meta: map[string]string{
			"count": strconv.Itoa(count),
			"from":  from.Format(models.DateLayout),
			"to":    to.Format(models.DateLayout),
		},
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Send(ctx, event); err != nil {
			s.logger.Warn("conflict notification failed", zap.Error(err))
		}
	}()
}

// CheckPlacements reports conflicts that a candidate slot set would create
// against existing occupying slots. Candidates also clash among themselves.
func (s *ConflictDetectorService) CheckPlacements(ctx context.Context, candidates []models.SessionSlot) ([]models.ScheduleConflict, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	from, to := candidates[0].Date, candidates[0].Date
	for _, candidate := range candidates[1:] {
		if candidate.Date.Before(from) {
			from = candidate.Date
		}
		if candidate.Date.After(to) {
			to = candidate.Date
		}
	}

	existing, err := s.slots.ListRange(ctx, models.SlotFilter{From: &from, To: &to})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slots")
	}

	candidateIDs := make(map[string]bool, len(candidates))
	combined := make([]models.SessionSlot, 0, len(existing)+len(candidates))
	for _, candidate := range candidates {
		candidateIDs[candidate.ID] = true
		combined = append(combined, candidate)
	}
	for _, slot := range existing {
		if !candidateIDs[slot.ID] {
			combined = append(combined, slot)
		}
	}

	studentsBySlot, err := s.resolveStudents(ctx, combined)
	if err != nil {
		return nil, err
	}

	all := DetectOverlaps(combined, studentsBySlot)
	var involving []models.ScheduleConflict
	for _, conflict := range all {
		for _, slot := range conflict.Slots {
			if candidateIDs[slot.ID] {
				involving = append(involving, conflict)
				break
			}
		}
	}
	return involving, nil
}

// resolveStudents maps slot ids to the students occupying them. Individual
// slots carry one student via their enrollment; shared slots carry one per
// attending member.
func (s *ConflictDetectorService) resolveStudents(ctx context.Context, slots []models.SessionSlot) (map[string][]string, error) {
	enrollmentIDs := make(map[string]bool)
	var sharedSlotIDs []string
	for _, slot := range slots {
		if slot.EnrollmentID != nil {
			enrollmentIDs[*slot.EnrollmentID] = true
		} else if slot.SharedActivityID != nil {
			sharedSlotIDs = append(sharedSlotIDs, slot.ID)
		}
	}

	attendanceBySlot := make(map[string][]string)
	if len(sharedSlotIDs) > 0 && s.attendance != nil {
		records, err := s.attendance.ListAttendanceBySlots(ctx, sharedSlotIDs)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
		}
		for _, record := range records {
			if record.Status == models.SlotStatusCancelled {
				continue
			}
			attendanceBySlot[record.SlotID] = append(attendanceBySlot[record.SlotID], record.EnrollmentID)
			enrollmentIDs[record.EnrollmentID] = true
		}
	}

	studentByEnrollment := make(map[string]string)
	if len(enrollmentIDs) > 0 && s.enrollments != nil {
		ids := make([]string, 0, len(enrollmentIDs))
		for id := range enrollmentIDs {
			ids = append(ids, id)
		}
		enrollments, err := s.enrollments.ListByIDs(ctx, ids)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
		}
		for _, enrollment := range enrollments {
			studentByEnrollment[enrollment.ID] = enrollment.StudentID
		}
	}

	studentsBySlot := make(map[string][]string, len(slots))
	for _, slot := range slots {
		if slot.EnrollmentID != nil {
			if student, ok := studentByEnrollment[*slot.EnrollmentID]; ok {
				studentsBySlot[slot.ID] = []string{student}
			}
			continue
		}
		for _, enrollmentID := range attendanceBySlot[slot.ID] {
			if student, ok := studentByEnrollment[enrollmentID]; ok {
				studentsBySlot[slot.ID] = append(studentsBySlot[slot.ID], student)
			}
		}
	}
	return studentsBySlot, nil
}

// DetectOverlaps clusters occupying slots that collide per resource and day.
// Cancelled and makeup-needed slots hold no resources and never conflict.
// Output order and conflict ids are deterministic for a given slot set.
func DetectOverlaps(slots []models.SessionSlot, studentsBySlot map[string][]string) []models.ScheduleConflict {
	type groupKey struct {
		Type   models.ConflictType
		Entity string
		Date   string
	}

	groups := make(map[groupKey][]models.SessionSlot)
	add := func(key groupKey, slot models.SessionSlot) {
		groups[key] = append(groups[key], slot)
	}

	for _, slot := range slots {
		if !slot.Occupies() {
			continue
		}
		date := slot.Date.Format(models.DateLayout)
		if slot.TherapistID != "" {
			add(groupKey{models.ConflictTypeTherapist, slot.TherapistID, date}, slot)
		}
		if slot.RoomID != "" {
			add(groupKey{models.ConflictTypeRoom, slot.RoomID, date}, slot)
		}
		for _, student := range studentsBySlot[slot.ID] {
			add(groupKey{models.ConflictTypeStudent, student, date}, slot)
		}
	}

	keys := make([]groupKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Date != keys[j].Date {
			return keys[i].Date < keys[j].Date
		}
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].Entity < keys[j].Entity
	})

	var conflicts []models.ScheduleConflict
	for _, key := range keys {
		group := groups[key]
		sort.Slice(group, func(i, j int) bool {
			aStart, _ := group[i].Minutes()
			bStart, _ := group[j].Minutes()
			if aStart != bStart {
				return aStart < bStart
			}
			return group[i].ID < group[j].ID
		})

		clusterIdx := 0
		var cluster []models.SessionSlot
		clusterEnd := -1

		flush := func() {
			if len(cluster) >= 2 {
				date, _ := time.ParseInLocation(models.DateLayout, key.Date, time.UTC)
				conflicts = append(conflicts, models.ScheduleConflict{
					ID:       fmt.Sprintf("%s:%s:%s:%d", key.Type, key.Entity, key.Date, clusterIdx),
					Type:     key.Type,
					EntityID: key.Entity,
					Date:     date,
					Slots:    cluster,
				})
				clusterIdx++
			}
			cluster = nil
			clusterEnd = -1
		}

		for _, slot := range group {
			start, end := slot.Minutes()
			if start < 0 || end < 0 {
				continue
			}
			// Half-open intervals: a slot starting exactly when the
			// cluster ends begins a new cluster.
			if len(cluster) > 0 && start < clusterEnd {
				cluster = append(cluster, slot)
				if end > clusterEnd {
					clusterEnd = end
				}
				continue
			}
			flush()
			cluster = []models.SessionSlot{slot}
			clusterEnd = end
		}
		flush()
	}
	return conflicts
}
