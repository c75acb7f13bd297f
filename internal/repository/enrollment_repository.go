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

// EnrollmentRepository handles persistence of enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, template_id, therapist_id, start_date, end_date, state, cohort_id, pause_start, resume_date, schedule_version, created_at, updated_at`

// FindByID loads one enrollment.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = $1`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// Create inserts a new enrollment.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now
	if enrollment.State == "" {
		enrollment.State = models.ScheduleStateActive
	}
	const query = `
INSERT INTO enrollments (id, student_id, template_id, therapist_id, start_date, end_date, state, cohort_id, schedule_version, created_at, updated_at)
VALUES (:id, :student_id, :template_id, :therapist_id, :start_date, :end_date, :state, :cohort_id, :schedule_version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.TemplateID != "" {
		conditions = append(conditions, fmt.Sprintf("template_id = $%d", len(args)+1))
		args = append(args, filter.TemplateID)
	}
	if filter.CohortID != "" {
		conditions = append(conditions, fmt.Sprintf("cohort_id = $%d", len(args)+1))
		args = append(args, filter.CohortID)
	}
	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)+1))
		args = append(args, filter.State)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM enrollments%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		enrollmentColumns, clause, size, offset)

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	return enrollments, nil
}

// ListByIDs loads a set of enrollments.
func (r *EnrollmentRepository) ListByIDs(ctx context.Context, ids []string) ([]models.Enrollment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE id = ANY($1)`, enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list enrollments by ids: %w", err)
	}
	return enrollments, nil
}

// ListActiveByTemplate returns non-archived enrollments derived from a template.
func (r *EnrollmentRepository) ListActiveByTemplate(ctx context.Context, templateID string) ([]models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE template_id = $1 AND state <> $2 ORDER BY created_at ASC`, enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, templateID, models.ScheduleStateArchived); err != nil {
		return nil, fmt.Errorf("list enrollments by template: %w", err)
	}
	return enrollments, nil
}

// UpdateState persists lifecycle transitions for a single enrollment.
func (r *EnrollmentRepository) UpdateState(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	target := exec
	if target == nil {
		target = r.db
	}
	enrollment.UpdatedAt = time.Now().UTC()
	const query = `
UPDATE enrollments
SET state = :state,
    end_date = :end_date,
    cohort_id = :cohort_id,
    pause_start = :pause_start,
    resume_date = :resume_date,
    schedule_version = :schedule_version,
    updated_at = :updated_at
WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, target, query, enrollment)
	if err != nil {
		return fmt.Errorf("update enrollment state: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("enrollment %s not updated", enrollment.ID)
	}
	return nil
}

// SetCohort assigns or clears cohort membership on the enrollment row.
func (r *EnrollmentRepository) SetCohort(ctx context.Context, exec sqlx.ExtContext, enrollmentID string, cohortID *string) error {
	target := exec
	if target == nil {
		target = r.db
	}
	const query = `UPDATE enrollments SET cohort_id = $1, updated_at = $2 WHERE id = $3`
	if _, err := target.ExecContext(ctx, query, cohortID, time.Now().UTC(), enrollmentID); err != nil {
		return fmt.Errorf("set enrollment cohort: %w", err)
	}
	return nil
}
