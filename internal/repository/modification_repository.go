package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/carewell/scheduling-api/internal/models"
)

// ModificationRepository stores the append-only modification history. Rows
// are never updated or deleted; they are the regulatory audit trail.
type ModificationRepository struct {
	db *sqlx.DB
}

// NewModificationRepository constructs the repository.
func NewModificationRepository(db *sqlx.DB) *ModificationRepository {
	return &ModificationRepository{db: db}
}

// Append records a modification request together with its outcome.
func (r *ModificationRepository) Append(ctx context.Context, exec sqlx.ExtContext, record *models.ModificationRequest) error {
	target := exec
	if target == nil {
		target = r.db
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO modification_requests (id, enrollment_id, type, effective_date, requested_by, reason, details, success, outcome, created_at)
VALUES (:id, :enrollment_id, :type, :effective_date, :requested_by, :reason, :details, :success, :outcome, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, query, record); err != nil {
		return fmt.Errorf("append modification record: %w", err)
	}
	return nil
}

// ListByEnrollment returns the history, newest first.
func (r *ModificationRepository) ListByEnrollment(ctx context.Context, enrollmentID string, limit int) ([]models.ModificationRequest, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf(`
SELECT id, enrollment_id, type, effective_date, requested_by, reason, details, success, outcome, created_at
FROM modification_requests WHERE enrollment_id = $1 ORDER BY created_at DESC LIMIT %d`, limit)
	var records []models.ModificationRequest
	if err := r.db.SelectContext(ctx, &records, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list modification history: %w", err)
	}
	return records, nil
}
