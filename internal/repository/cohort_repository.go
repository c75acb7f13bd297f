package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/carewell/scheduling-api/internal/models"
)

// CohortRepository manages cohorts, membership, shared activities and
// attendance records.
type CohortRepository struct {
	db *sqlx.DB
}

// NewCohortRepository constructs the repository.
func NewCohortRepository(db *sqlx.DB) *CohortRepository {
	return &CohortRepository{db: db}
}

func (r *CohortRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts the cohort row.
func (r *CohortRepository) Create(ctx context.Context, exec sqlx.ExtContext, cohort *models.Cohort) error {
	target := r.exec(exec)
	if cohort.ID == "" {
		cohort.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cohort.CreatedAt = now
	cohort.UpdatedAt = now
	if cohort.Status == "" {
		cohort.Status = models.CohortStatusActive
	}
	const query = `
INSERT INTO cohorts (id, name, template_id, status, created_by, created_at, updated_at)
VALUES (:id, :name, :template_id, :status, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, query, cohort); err != nil {
		return fmt.Errorf("create cohort: %w", err)
	}
	return nil
}

// FindByID loads one cohort.
func (r *CohortRepository) FindByID(ctx context.Context, id string) (*models.Cohort, error) {
	const query = `SELECT id, name, template_id, status, created_by, created_at, updated_at FROM cohorts WHERE id = $1`
	var cohort models.Cohort
	if err := r.db.GetContext(ctx, &cohort, query, id); err != nil {
		return nil, err
	}
	return &cohort, nil
}

// UpdateStatus transitions the cohort lifecycle.
func (r *CohortRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.CohortStatus) error {
	target := r.exec(exec)
	const query = `UPDATE cohorts SET status = $1, updated_at = $2 WHERE id = $3`
	if _, err := target.ExecContext(ctx, query, status, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update cohort status: %w", err)
	}
	return nil
}

// AddMember records a membership. Re-joining resets left_at.
func (r *CohortRepository) AddMember(ctx context.Context, exec sqlx.ExtContext, cohortID, enrollmentID string) error {
	target := r.exec(exec)
	const query = `
INSERT INTO cohort_members (cohort_id, enrollment_id, joined_at, left_at)
VALUES ($1, $2, $3, NULL)
ON CONFLICT (cohort_id, enrollment_id) DO UPDATE SET joined_at = EXCLUDED.joined_at, left_at = NULL`
	if _, err := target.ExecContext(ctx, query, cohortID, enrollmentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("add cohort member: %w", err)
	}
	return nil
}

// RemoveMember marks the membership closed without erasing history.
func (r *CohortRepository) RemoveMember(ctx context.Context, exec sqlx.ExtContext, cohortID, enrollmentID string) error {
	target := r.exec(exec)
	const query = `UPDATE cohort_members SET left_at = $1 WHERE cohort_id = $2 AND enrollment_id = $3 AND left_at IS NULL`
	result, err := target.ExecContext(ctx, query, time.Now().UTC(), cohortID, enrollmentID)
	if err != nil {
		return fmt.Errorf("remove cohort member: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("enrollment %s is not an active member of cohort %s", enrollmentID, cohortID)
	}
	return nil
}

// ListActiveMembers returns current membership rows.
func (r *CohortRepository) ListActiveMembers(ctx context.Context, cohortID string) ([]models.CohortMember, error) {
	const query = `SELECT cohort_id, enrollment_id, joined_at, left_at FROM cohort_members WHERE cohort_id = $1 AND left_at IS NULL ORDER BY joined_at ASC`
	var members []models.CohortMember
	if err := r.db.SelectContext(ctx, &members, query, cohortID); err != nil {
		return nil, fmt.Errorf("list cohort members: %w", err)
	}
	return members, nil
}

// CreateActivity inserts a shared activity definition.
func (r *CohortRepository) CreateActivity(ctx context.Context, exec sqlx.ExtContext, activity *models.SharedActivity) error {
	target := r.exec(exec)
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO shared_activities (id, cohort_id, name, day_of_week, start_time, duration_minutes, min_participants, max_participants, therapist_ids, room_id, created_at)
VALUES (:id, :cohort_id, :name, :day_of_week, :start_time, :duration_minutes, :min_participants, :max_participants, :therapist_ids, :room_id, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, query, activity); err != nil {
		return fmt.Errorf("create shared activity: %w", err)
	}
	return nil
}

// ListActivities returns the cohort's shared-activity definitions.
func (r *CohortRepository) ListActivities(ctx context.Context, cohortID string) ([]models.SharedActivity, error) {
	const query = `
SELECT id, cohort_id, name, day_of_week, start_time, duration_minutes, min_participants, max_participants, therapist_ids, room_id, created_at
FROM shared_activities WHERE cohort_id = $1 ORDER BY created_at ASC`
	var activities []models.SharedActivity
	if err := r.db.SelectContext(ctx, &activities, query, cohortID); err != nil {
		return nil, fmt.Errorf("list shared activities: %w", err)
	}
	return activities, nil
}

// CreateAttendance records members' participation in a shared slot.
func (r *CohortRepository) CreateAttendance(ctx context.Context, exec sqlx.ExtContext, records []models.ActivityAttendance) error {
	if len(records) == 0 {
		return nil
	}
	target := r.exec(exec)
	now := time.Now().UTC()
	const query = `
INSERT INTO activity_attendance (id, slot_id, enrollment_id, status, created_at)
VALUES (:id, :slot_id, :enrollment_id, :status, :created_at)`
	for i := range records {
		record := &records[i]
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		if _, err := sqlx.NamedExecContext(ctx, target, query, record); err != nil {
			return fmt.Errorf("create attendance record: %w", err)
		}
	}
	return nil
}

// CancelAttendance marks a member's attendance cancelled for future slots.
func (r *CohortRepository) CancelAttendance(ctx context.Context, exec sqlx.ExtContext, enrollmentID string, slotIDs []string) (int64, error) {
	if len(slotIDs) == 0 {
		return 0, nil
	}
	target := r.exec(exec)
	const query = `UPDATE activity_attendance SET status = $1 WHERE enrollment_id = $2 AND slot_id = ANY($3)`
	result, err := target.ExecContext(ctx, query, models.SlotStatusCancelled, enrollmentID, pq.Array(slotIDs))
	if err != nil {
		return 0, fmt.Errorf("cancel attendance: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}

// ListAttendanceBySlots returns attendance rows for a slot set.
func (r *CohortRepository) ListAttendanceBySlots(ctx context.Context, slotIDs []string) ([]models.ActivityAttendance, error) {
	if len(slotIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT id, slot_id, enrollment_id, status, created_at FROM activity_attendance WHERE slot_id = ANY($1)`
	var records []models.ActivityAttendance
	if err := r.db.SelectContext(ctx, &records, query, pq.Array(slotIDs)); err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	return records, nil
}
