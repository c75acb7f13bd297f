package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/carewell/scheduling-api/internal/models"
)

func newSlotRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func slotRowColumns() []string {
	return []string{"id", "enrollment_id", "shared_activity_id", "therapist_id", "room_id", "date", "start_time", "end_time", "session_type", "status", "created_at", "updated_at"}
}

func TestSessionSlotRepositoryBulkInsertAssignsIDs(t *testing.T) {
	db, mock, cleanup := newSlotRepoMock(t)
	defer cleanup()

	repo := NewSessionSlotRepository(db)
	enrollmentID := "enr-1"
	slots := []models.SessionSlot{
		{
			EnrollmentID: &enrollmentID,
			TherapistID:  "th-1",
			RoomID:       "room-1",
			Date:         time.Date(2025, time.January, 6, 0, 0, 0, 0, time.UTC),
			StartTime:    "10:00",
			EndTime:      "11:00",
			SessionType:  models.SessionTypeIndividual,
			Status:       models.SlotStatusScheduled,
		},
		{
			EnrollmentID: &enrollmentID,
			TherapistID:  "th-1",
			RoomID:       "room-1",
			Date:         time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC),
			StartTime:    "10:00",
			EndTime:      "11:00",
			SessionType:  models.SessionTypeIndividual,
			Status:       models.SlotStatusScheduled,
		},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO session_slots")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO session_slots")).WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.BulkInsert(context.Background(), nil, slots))
	require.NotEmpty(t, slots[0].ID)
	require.NotEmpty(t, slots[1].ID)
	require.NotEqual(t, slots[0].ID, slots[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionSlotRepositoryListRangeFilters(t *testing.T) {
	db, mock, cleanup := newSlotRepoMock(t)
	defer cleanup()

	repo := NewSessionSlotRepository(db)
	enrollmentID := "enr-1"
	from := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(slotRowColumns()).
		AddRow("slot-1", enrollmentID, nil, "th-1", "room-1", from.AddDate(0, 0, 5), "10:00", "11:00", "individual", "scheduled", time.Now(), time.Now())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, enrollment_id, shared_activity_id")).
		WillReturnRows(rows)

	slots, err := repo.ListRange(context.Background(), models.SlotFilter{
		TherapistID: "th-1",
		From:        &from,
		Statuses:    []models.SlotStatus{models.SlotStatusScheduled, models.SlotStatusMakeupScheduled},
	})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	require.Equal(t, "slot-1", slots[0].ID)
	require.Equal(t, "th-1", slots[0].TherapistID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionSlotRepositoryUpdateStatusCountsRows(t *testing.T) {
	db, mock, cleanup := newSlotRepoMock(t)
	defer cleanup()

	repo := NewSessionSlotRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE session_slots SET status")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := repo.UpdateStatus(context.Background(), nil, []string{"a", "b", "c"}, models.SlotStatusCancelled)
	require.NoError(t, err)
	require.EqualValues(t, 3, affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionSlotRepositoryUpdateStatusEmptyIsNoop(t *testing.T) {
	db, mock, cleanup := newSlotRepoMock(t)
	defer cleanup()

	repo := NewSessionSlotRepository(db)
	affected, err := repo.UpdateStatus(context.Background(), nil, nil, models.SlotStatusCancelled)
	require.NoError(t, err)
	require.Zero(t, affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionSlotRepositoryRestoreEnrollmentSlots(t *testing.T) {
	db, mock, cleanup := newSlotRepoMock(t)
	defer cleanup()

	repo := NewSessionSlotRepository(db)
	enrollmentID := "enr-1"
	snapshot := []models.SessionSlot{
		{
			ID:           "slot-1",
			EnrollmentID: &enrollmentID,
			TherapistID:  "th-1",
			RoomID:       "room-1",
			Date:         time.Date(2025, time.February, 3, 0, 0, 0, 0, time.UTC),
			StartTime:    "09:00",
			EndTime:      "10:00",
			SessionType:  models.SessionTypeIndividual,
			Status:       models.SlotStatusScheduled,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		},
	}

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM session_slots WHERE enrollment_id")).
		WithArgs(enrollmentID).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO session_slots")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.RestoreEnrollmentSlots(context.Background(), nil, enrollmentID, snapshot))
	require.NoError(t, mock.ExpectationsWereMet())
}
