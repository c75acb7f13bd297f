package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/carewell/scheduling-api/internal/models"
)

// SessionSlotRepository is the only persistence path for session slots. All
// mutating operations go through the Modification Service or the Sync
// Engine's batch commit, which re-check conflicts inside the transaction.
type SessionSlotRepository struct {
	db *sqlx.DB
}

// NewSessionSlotRepository constructs the repository.
func NewSessionSlotRepository(db *sqlx.DB) *SessionSlotRepository {
	return &SessionSlotRepository{db: db}
}

func (r *SessionSlotRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const slotColumns = `id, enrollment_id, shared_activity_id, therapist_id, room_id, date, start_time, end_time, session_type, status, created_at, updated_at`

// BulkInsert persists a slot batch, assigning ids and timestamps.
func (r *SessionSlotRepository) BulkInsert(ctx context.Context, exec sqlx.ExtContext, slots []models.SessionSlot) error {
	if len(slots) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()

	const query = `
INSERT INTO session_slots (id, enrollment_id, shared_activity_id, therapist_id, room_id, date, start_time, end_time, session_type, status, created_at, updated_at)
VALUES (:id, :enrollment_id, :shared_activity_id, :therapist_id, :room_id, :date, :start_time, :end_time, :session_type, :status, :created_at, :updated_at)`

	for i := range slots {
		slot := &slots[i]
		if slot.ID == "" {
			slot.ID = uuid.NewString()
		}
		if slot.CreatedAt.IsZero() {
			slot.CreatedAt = now
		}
		slot.UpdatedAt = now
		if _, err := sqlx.NamedExecContext(ctx, target, query, slot); err != nil {
			return fmt.Errorf("insert session slot: %w", err)
		}
	}
	return nil
}

// ListRange returns slots matching the filter ordered by date and start time.
func (r *SessionSlotRepository) ListRange(ctx context.Context, filter models.SlotFilter) ([]models.SessionSlot, error) {
	var conditions []string
	var args []interface{}

	if filter.EnrollmentID != "" {
		conditions = append(conditions, fmt.Sprintf("enrollment_id = $%d", len(args)+1))
		args = append(args, filter.EnrollmentID)
	}
	if filter.SharedActivityID != "" {
		conditions = append(conditions, fmt.Sprintf("shared_activity_id = $%d", len(args)+1))
		args = append(args, filter.SharedActivityID)
	}
	if filter.TherapistID != "" {
		conditions = append(conditions, fmt.Sprintf("therapist_id = $%d", len(args)+1))
		args = append(args, filter.TherapistID)
	}
	if filter.RoomID != "" {
		conditions = append(conditions, fmt.Sprintf("room_id = $%d", len(args)+1))
		args = append(args, filter.RoomID)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			statuses[i] = string(status)
		}
		conditions = append(conditions, fmt.Sprintf("status = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(statuses))
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`SELECT %s FROM session_slots%s ORDER BY date ASC, start_time ASC`, slotColumns, clause)

	var slots []models.SessionSlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list session slots: %w", err)
	}
	return slots, nil
}

// ListByEnrollments returns slots for a set of enrollments from a date on.
func (r *SessionSlotRepository) ListByEnrollments(ctx context.Context, enrollmentIDs []string, from *time.Time) ([]models.SessionSlot, error) {
	if len(enrollmentIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM session_slots WHERE enrollment_id = ANY($1)`, slotColumns)
	args := []interface{}{pq.Array(enrollmentIDs)}
	if from != nil {
		query += ` AND date >= $2`
		args = append(args, *from)
	}
	query += ` ORDER BY date ASC, start_time ASC`

	var slots []models.SessionSlot
	if err := r.db.SelectContext(ctx, &slots, query, args...); err != nil {
		return nil, fmt.Errorf("list slots by enrollments: %w", err)
	}
	return slots, nil
}

// FindByIDs loads specific slots.
func (r *SessionSlotRepository) FindByIDs(ctx context.Context, ids []string) ([]models.SessionSlot, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM session_slots WHERE id = ANY($1)`, slotColumns)
	var slots []models.SessionSlot
	if err := r.db.SelectContext(ctx, &slots, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find slots: %w", err)
	}
	return slots, nil
}

// UpdateStatus transitions a set of slots to the given status. Status
// transition is the only permitted mutation besides placement updates.
func (r *SessionSlotRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, ids []string, status models.SlotStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	target := r.exec(exec)
	const query = `UPDATE session_slots SET status = $1, updated_at = $2 WHERE id = ANY($3)`
	result, err := target.ExecContext(ctx, query, status, time.Now().UTC(), pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("update slot status: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// UpdatePlacement moves a slot to a new date/time window.
func (r *SessionSlotRepository) UpdatePlacement(ctx context.Context, exec sqlx.ExtContext, id string, date time.Time, startTime, endTime string) error {
	target := r.exec(exec)
	const query = `UPDATE session_slots SET date = $1, start_time = $2, end_time = $3, updated_at = $4 WHERE id = $5`
	result, err := target.ExecContext(ctx, query, date, startTime, endTime, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update slot placement: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("slot %s not updated", id)
	}
	return nil
}

// UpdateTherapist reassigns a slot to another therapist.
func (r *SessionSlotRepository) UpdateTherapist(ctx context.Context, exec sqlx.ExtContext, id, therapistID string) error {
	target := r.exec(exec)
	const query = `UPDATE session_slots SET therapist_id = $1, updated_at = $2 WHERE id = $3`
	if _, err := target.ExecContext(ctx, query, therapistID, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update slot therapist: %w", err)
	}
	return nil
}

// UpdateRoom reassigns a slot to another room.
func (r *SessionSlotRepository) UpdateRoom(ctx context.Context, exec sqlx.ExtContext, id, roomID string) error {
	target := r.exec(exec)
	const query = `UPDATE session_slots SET room_id = $1, updated_at = $2 WHERE id = $3`
	if _, err := target.ExecContext(ctx, query, roomID, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update slot room: %w", err)
	}
	return nil
}

// CountScheduledFrom sizes the blast radius of a sync run.
func (r *SessionSlotRepository) CountScheduledFrom(ctx context.Context, enrollmentIDs []string, from time.Time) (int, error) {
	if len(enrollmentIDs) == 0 {
		return 0, nil
	}
	const query = `SELECT COUNT(*) FROM session_slots WHERE enrollment_id = ANY($1) AND date >= $2 AND status = $3`
	var count int
	if err := r.db.GetContext(ctx, &count, query, pq.Array(enrollmentIDs), from, models.SlotStatusScheduled); err != nil {
		return 0, fmt.Errorf("count scheduled slots: %w", err)
	}
	return count, nil
}

// RestoreEnrollmentSlots replaces an enrollment's slot rows with the given
// snapshot. Used exclusively by sync rollback inside a transaction; the
// snapshot is reinstated exactly as captured.
func (r *SessionSlotRepository) RestoreEnrollmentSlots(ctx context.Context, exec sqlx.ExtContext, enrollmentID string, snapshot []models.SessionSlot) error {
	target := r.exec(exec)
	const deleteQuery = `DELETE FROM session_slots WHERE enrollment_id = $1`
	if _, err := target.ExecContext(ctx, deleteQuery, enrollmentID); err != nil {
		return fmt.Errorf("clear slots for restore: %w", err)
	}

	const insertQuery = `
INSERT INTO session_slots (id, enrollment_id, shared_activity_id, therapist_id, room_id, date, start_time, end_time, session_type, status, created_at, updated_at)
VALUES (:id, :enrollment_id, :shared_activity_id, :therapist_id, :room_id, :date, :start_time, :end_time, :session_type, :status, :created_at, :updated_at)`
	for i := range snapshot {
		if _, err := sqlx.NamedExecContext(ctx, target, insertQuery, &snapshot[i]); err != nil {
			return fmt.Errorf("restore session slot: %w", err)
		}
	}
	return nil
}
