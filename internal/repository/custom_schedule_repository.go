package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/carewell/scheduling-api/internal/models"
)

// CustomScheduleRepository stores versioned schedule parameter snapshots.
// Versions are append-only; the highest version is the active one.
type CustomScheduleRepository struct {
	db *sqlx.DB
}

// NewCustomScheduleRepository constructs the repository.
func NewCustomScheduleRepository(db *sqlx.DB) *CustomScheduleRepository {
	return &CustomScheduleRepository{db: db}
}

// CreateVersion appends a new schedule version for the enrollment.
func (r *CustomScheduleRepository) CreateVersion(ctx context.Context, exec sqlx.ExtContext, schedule *models.CustomSchedule) error {
	target := exec
	if target == nil {
		target = r.db
	}
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now().UTC()
	}

	const versionQuery = `SELECT COALESCE(MAX(version), 0) + 1 FROM custom_schedules WHERE enrollment_id = $1`
	row := target.QueryRowxContext(ctx, versionQuery, schedule.EnrollmentID)
	if err := row.Scan(&schedule.Version); err != nil {
		return fmt.Errorf("next schedule version: %w", err)
	}

	const query = `
INSERT INTO custom_schedules (id, enrollment_id, version, sessions_per_week, session_duration_minutes, preferred_days, preferred_times, created_at)
VALUES (:id, :enrollment_id, :version, :sessions_per_week, :session_duration_minutes, :preferred_days, :preferred_times, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, query, schedule); err != nil {
		return fmt.Errorf("create custom schedule version: %w", err)
	}
	return nil
}

// GetActive returns the highest schedule version for the enrollment.
func (r *CustomScheduleRepository) GetActive(ctx context.Context, enrollmentID string) (*models.CustomSchedule, error) {
	const query = `
SELECT id, enrollment_id, version, sessions_per_week, session_duration_minutes, preferred_days, preferred_times, created_at
FROM custom_schedules WHERE enrollment_id = $1 ORDER BY version DESC LIMIT 1`
	var schedule models.CustomSchedule
	if err := r.db.GetContext(ctx, &schedule, query, enrollmentID); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// ListVersions returns every retained version, newest first.
func (r *CustomScheduleRepository) ListVersions(ctx context.Context, enrollmentID string) ([]models.CustomSchedule, error) {
	const query = `
SELECT id, enrollment_id, version, sessions_per_week, session_duration_minutes, preferred_days, preferred_times, created_at
FROM custom_schedules WHERE enrollment_id = $1 ORDER BY version DESC`
	var schedules []models.CustomSchedule
	if err := r.db.SelectContext(ctx, &schedules, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list custom schedule versions: %w", err)
	}
	return schedules, nil
}
