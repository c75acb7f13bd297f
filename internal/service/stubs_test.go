package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/carewell/scheduling-api/internal/models"
	"github.com/carewell/scheduling-api/pkg/billing"
)

// txMock backs the txProvider interface with sqlmock so services can open
// and commit real transactions without a database.
type txMock struct {
	db   *sqlx.DB
	mock sqlmock.Sqlmock
}

func newTxMock(t *testing.T) *txMock {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { db.Close() })
	return &txMock{db: sqlx.NewDb(db, "sqlmock"), mock: mock}
}

func (m *txMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return m.db.BeginTxx(ctx, opts)
}

// expectTx arms one begin/commit pair.
func (m *txMock) expectTx() {
	m.mock.ExpectBegin()
	m.mock.ExpectCommit()
}

func strPtr(s string) *string { return &s }

func datePtr(t time.Time) *time.Time { return &t }

func mustDate(t *testing.T, raw string) time.Time {
	t.Helper()
	date, err := time.ParseInLocation(models.DateLayout, raw, time.UTC)
	require.NoError(t, err)
	return date
}

// slotStoreStub is an in-memory stand-in for the session slot repository.
type slotStoreStub struct {
	slots      map[string]*models.SessionSlot
	nextID     int
	insertErr  error
	placeErr   map[string]error
	restored   map[string][]models.SessionSlot
	statusSets int
}

func newSlotStoreStub() *slotStoreStub {
	return &slotStoreStub{
		slots:    make(map[string]*models.SessionSlot),
		placeErr: make(map[string]error),
		restored: make(map[string][]models.SessionSlot),
	}
}

func (s *slotStoreStub) add(slot models.SessionSlot) models.SessionSlot {
	if slot.ID == "" {
		s.nextID++
		slot.ID = fmt.Sprintf("slot-%d", s.nextID)
	}
	copied := slot
	s.slots[slot.ID] = &copied
	return copied
}

func (s *slotStoreStub) matches(slot *models.SessionSlot, filter models.SlotFilter) bool {
	if filter.EnrollmentID != "" && (slot.EnrollmentID == nil || *slot.EnrollmentID != filter.EnrollmentID) {
		return false
	}
	if filter.SharedActivityID != "" && (slot.SharedActivityID == nil || *slot.SharedActivityID != filter.SharedActivityID) {
		return false
	}
	if filter.TherapistID != "" && slot.TherapistID != filter.TherapistID {
		return false
	}
	if filter.RoomID != "" && slot.RoomID != filter.RoomID {
		return false
	}
	if filter.From != nil && slot.Date.Before(*filter.From) {
		return false
	}
	if filter.To != nil && slot.Date.After(*filter.To) {
		return false
	}
	if len(filter.Statuses) > 0 {
		found := false
		for _, status := range filter.Statuses {
			if slot.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *slotStoreStub) ListRange(_ context.Context, filter models.SlotFilter) ([]models.SessionSlot, error) {
	var out []models.SessionSlot
	for _, slot := range s.slots {
		if s.matches(slot, filter) {
			out = append(out, *slot)
		}
	}
	return out, nil
}

func (s *slotStoreStub) ListByEnrollments(_ context.Context, enrollmentIDs []string, from *time.Time) ([]models.SessionSlot, error) {
	wanted := make(map[string]bool, len(enrollmentIDs))
	for _, id := range enrollmentIDs {
		wanted[id] = true
	}
	var out []models.SessionSlot
	for _, slot := range s.slots {
		if slot.EnrollmentID == nil || !wanted[*slot.EnrollmentID] {
			continue
		}
		if from != nil && slot.Date.Before(*from) {
			continue
		}
		out = append(out, *slot)
	}
	return out, nil
}

func (s *slotStoreStub) FindByIDs(_ context.Context, ids []string) ([]models.SessionSlot, error) {
	var out []models.SessionSlot
	for _, id := range ids {
		if slot, ok := s.slots[id]; ok {
			out = append(out, *slot)
		}
	}
	return out, nil
}

func (s *slotStoreStub) BulkInsert(_ context.Context, _ sqlx.ExtContext, slots []models.SessionSlot) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	for i := range slots {
		if slots[i].ID == "" {
			s.nextID++
			slots[i].ID = fmt.Sprintf("slot-%d", s.nextID)
		}
		copied := slots[i]
		s.slots[slots[i].ID] = &copied
	}
	return nil
}

func (s *slotStoreStub) UpdateStatus(_ context.Context, _ sqlx.ExtContext, ids []string, status models.SlotStatus) (int64, error) {
	var affected int64
	for _, id := range ids {
		if slot, ok := s.slots[id]; ok {
			slot.Status = status
			affected++
		}
	}
	s.statusSets++
	return affected, nil
}

func (s *slotStoreStub) UpdatePlacement(_ context.Context, _ sqlx.ExtContext, id string, date time.Time, startTime, endTime string) error {
	if err := s.placeErr[id]; err != nil {
		return err
	}
	slot, ok := s.slots[id]
	if !ok {
		return fmt.Errorf("slot %s not found", id)
	}
	slot.Date = date
	slot.StartTime = startTime
	slot.EndTime = endTime
	return nil
}

func (s *slotStoreStub) UpdateTherapist(_ context.Context, _ sqlx.ExtContext, id, therapistID string) error {
	slot, ok := s.slots[id]
	if !ok {
		return fmt.Errorf("slot %s not found", id)
	}
	slot.TherapistID = therapistID
	return nil
}

func (s *slotStoreStub) UpdateRoom(_ context.Context, _ sqlx.ExtContext, id, roomID string) error {
	slot, ok := s.slots[id]
	if !ok {
		return fmt.Errorf("slot %s not found", id)
	}
	slot.RoomID = roomID
	return nil
}

func (s *slotStoreStub) CountScheduledFrom(_ context.Context, enrollmentIDs []string, from time.Time) (int, error) {
	wanted := make(map[string]bool, len(enrollmentIDs))
	for _, id := range enrollmentIDs {
		wanted[id] = true
	}
	count := 0
	for _, slot := range s.slots {
		if slot.EnrollmentID != nil && wanted[*slot.EnrollmentID] && slot.Status == models.SlotStatusScheduled && !slot.Date.Before(from) {
			count++
		}
	}
	return count, nil
}

func (s *slotStoreStub) RestoreEnrollmentSlots(_ context.Context, _ sqlx.ExtContext, enrollmentID string, snapshot []models.SessionSlot) error {
	s.restored[enrollmentID] = snapshot
	for id, slot := range s.slots {
		if slot.EnrollmentID != nil && *slot.EnrollmentID == enrollmentID {
			delete(s.slots, id)
		}
	}
	for _, slot := range snapshot {
		copied := slot
		s.slots[slot.ID] = &copied
	}
	return nil
}

// enrollmentStoreStub is an in-memory stand-in for the enrollment repository.
type enrollmentStoreStub struct {
	enrollments map[string]*models.Enrollment
}

func newEnrollmentStoreStub(enrollments ...models.Enrollment) *enrollmentStoreStub {
	stub := &enrollmentStoreStub{enrollments: make(map[string]*models.Enrollment)}
	for i := range enrollments {
		copied := enrollments[i]
		stub.enrollments[copied.ID] = &copied
	}
	return stub
}

func (s *enrollmentStoreStub) FindByID(_ context.Context, id string) (*models.Enrollment, error) {
	enrollment, ok := s.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *enrollment
	return &copied, nil
}

func (s *enrollmentStoreStub) ListByIDs(_ context.Context, ids []string) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for _, id := range ids {
		if enrollment, ok := s.enrollments[id]; ok {
			out = append(out, *enrollment)
		}
	}
	return out, nil
}

func (s *enrollmentStoreStub) ListActiveByTemplate(_ context.Context, templateID string) ([]models.Enrollment, error) {
	var out []models.Enrollment
	for _, enrollment := range s.enrollments {
		if enrollment.TemplateID == templateID && enrollment.State != models.ScheduleStateArchived {
			out = append(out, *enrollment)
		}
	}
	return out, nil
}

func (s *enrollmentStoreStub) UpdateState(_ context.Context, _ sqlx.ExtContext, enrollment *models.Enrollment) error {
	copied := *enrollment
	s.enrollments[enrollment.ID] = &copied
	return nil
}

func (s *enrollmentStoreStub) SetCohort(_ context.Context, _ sqlx.ExtContext, enrollmentID string, cohortID *string) error {
	enrollment, ok := s.enrollments[enrollmentID]
	if !ok {
		return sql.ErrNoRows
	}
	enrollment.CohortID = cohortID
	return nil
}

// scheduleStoreStub keeps custom schedule versions per enrollment.
type scheduleStoreStub struct {
	versions map[string][]models.CustomSchedule
}

func newScheduleStoreStub() *scheduleStoreStub {
	return &scheduleStoreStub{versions: make(map[string][]models.CustomSchedule)}
}

func (s *scheduleStoreStub) CreateVersion(_ context.Context, _ sqlx.ExtContext, schedule *models.CustomSchedule) error {
	schedule.Version = len(s.versions[schedule.EnrollmentID]) + 1
	if schedule.ID == "" {
		schedule.ID = fmt.Sprintf("cs-%s-%d", schedule.EnrollmentID, schedule.Version)
	}
	s.versions[schedule.EnrollmentID] = append(s.versions[schedule.EnrollmentID], *schedule)
	return nil
}

func (s *scheduleStoreStub) GetActive(_ context.Context, enrollmentID string) (*models.CustomSchedule, error) {
	versions := s.versions[enrollmentID]
	if len(versions) == 0 {
		return nil, sql.ErrNoRows
	}
	copied := versions[len(versions)-1]
	return &copied, nil
}

// historyStoreStub captures appended modification records.
type historyStoreStub struct {
	records []models.ModificationRequest
}

func (s *historyStoreStub) Append(_ context.Context, _ sqlx.ExtContext, record *models.ModificationRequest) error {
	s.records = append(s.records, *record)
	return nil
}

func (s *historyStoreStub) ListByEnrollment(_ context.Context, enrollmentID string, _ int) ([]models.ModificationRequest, error) {
	var out []models.ModificationRequest
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].EnrollmentID == enrollmentID {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

// auditStoreStub captures audit entries.
type auditStoreStub struct {
	entries []models.AuditLog
}

func (s *auditStoreStub) Create(_ context.Context, _ sqlx.ExtContext, entry *models.AuditLog) error {
	s.entries = append(s.entries, *entry)
	return nil
}

// checkerStub returns canned placement conflicts.
type checkerStub struct {
	conflicts []models.ScheduleConflict
	calls     int
}

func (s *checkerStub) CheckPlacements(_ context.Context, _ []models.SessionSlot) ([]models.ScheduleConflict, error) {
	s.calls++
	return s.conflicts, nil
}

// conflictSourceStub serves a fixed conflict set.
type conflictSourceStub struct {
	conflicts []models.ScheduleConflict
}

func (s *conflictSourceStub) DetectRange(_ context.Context, _, _ time.Time) ([]models.ScheduleConflict, error) {
	return s.conflicts, nil
}

// resolutionStoreStub captures resolution attempts.
type resolutionStoreStub struct {
	records []models.ResolutionRecord
}

func (s *resolutionStoreStub) Record(_ context.Context, _ sqlx.ExtContext, record *models.ResolutionRecord) error {
	s.records = append(s.records, *record)
	return nil
}

func (s *resolutionStoreStub) SuccessRate(_ context.Context, _, _ time.Time) (int, int, error) {
	attempted, succeeded := 0, 0
	for _, record := range s.records {
		attempted++
		if record.Succeeded {
			succeeded++
		}
	}
	return attempted, succeeded, nil
}

// opStoreStub keeps sync operations in memory.
type opStoreStub struct {
	ops        map[string]*models.SyncOperation
	nextID     int
	rolledBack []string
}

func newOpStoreStub() *opStoreStub {
	return &opStoreStub{ops: make(map[string]*models.SyncOperation)}
}

func (s *opStoreStub) Create(_ context.Context, _ sqlx.ExtContext, op *models.SyncOperation) error {
	if op.ID == "" {
		s.nextID++
		op.ID = fmt.Sprintf("op-%d", s.nextID)
	}
	if op.Status == "" {
		op.Status = models.SyncStatusPending
	}
	copied := *op
	s.ops[op.ID] = &copied
	return nil
}

func (s *opStoreStub) FindByID(_ context.Context, id string) (*models.SyncOperation, error) {
	op, ok := s.ops[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *op
	return &copied, nil
}

func (s *opStoreStub) UpdateOutcome(_ context.Context, _ sqlx.ExtContext, op *models.SyncOperation) error {
	copied := *op
	s.ops[op.ID] = &copied
	return nil
}

func (s *opStoreStub) MarkRolledBack(_ context.Context, _ sqlx.ExtContext, id string) error {
	op, ok := s.ops[id]
	if !ok {
		return sql.ErrNoRows
	}
	op.Status = models.SyncStatusRolledBack
	op.RollbackDeadline = nil
	s.rolledBack = append(s.rolledBack, id)
	return nil
}

func (s *opStoreStub) ListDueScheduled(_ context.Context, _ int) ([]models.SyncOperation, error) {
	var out []models.SyncOperation
	for _, op := range s.ops {
		if op.Status == models.SyncStatusPending && op.Trigger == models.SyncTriggerScheduled {
			out = append(out, *op)
		}
	}
	return out, nil
}

// templateStoreStub serves a fixed template.
type templateStoreStub struct {
	template *models.ProgramTemplate
	updated  bool
}

func (s *templateStoreStub) FindByID(_ context.Context, id string) (*models.ProgramTemplate, error) {
	if s.template == nil || s.template.ID != id {
		return nil, sql.ErrNoRows
	}
	copied := *s.template
	return &copied, nil
}

func (s *templateStoreStub) Update(_ context.Context, _ sqlx.ExtContext, template *models.ProgramTemplate) error {
	copied := *template
	s.template = &copied
	s.updated = true
	return nil
}

// cacheStub is an in-memory patternCache backed by JSON payloads.
type cacheStub struct {
	values map[string][]byte
}

func newCacheStub() *cacheStub {
	return &cacheStub{values: make(map[string][]byte)}
}

func (s *cacheStub) Get(_ context.Context, key string, dest interface{}) error {
	payload, ok := s.values[key]
	if !ok {
		return fmt.Errorf("cache miss for %s", key)
	}
	return json.Unmarshal(payload, dest)
}

func (s *cacheStub) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.values[key] = payload
	return nil
}

// billerStub records billing adjustments passed to it.
type billerStub struct {
	mu          sync.Mutex
	adjustments []billing.Adjustment
}

func (s *billerStub) Adjust(_ context.Context, adjustment billing.Adjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjustments = append(s.adjustments, adjustment)
	return nil
}
