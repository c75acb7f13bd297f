package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/carewell/scheduling-api/internal/models"
)

// ResolutionRepository records conflict resolution attempts. The pattern
// report derives its success rate from these rows.
type ResolutionRepository struct {
	db *sqlx.DB
}

// NewResolutionRepository constructs the repository.
func NewResolutionRepository(db *sqlx.DB) *ResolutionRepository {
	return &ResolutionRepository{db: db}
}

func (r *ResolutionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Record appends one resolution attempt, successful or not.
func (r *ResolutionRepository) Record(ctx context.Context, exec sqlx.ExtContext, record *models.ResolutionRecord) error {
	target := r.exec(exec)
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.ResolvedAt.IsZero() {
		record.ResolvedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO conflict_resolutions (id, conflict_id, strategy, succeeded, reason, conflict_type, resolved_at)
VALUES (:id, :conflict_id, :strategy, :succeeded, :reason, :conflict_type, :resolved_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, query, record); err != nil {
		return fmt.Errorf("record resolution: %w", err)
	}
	return nil
}

// SuccessRate returns attempted and succeeded counts within the window.
func (r *ResolutionRepository) SuccessRate(ctx context.Context, from, to time.Time) (attempted int, succeeded int, err error) {
	const query = `
SELECT COUNT(*) AS attempted, COUNT(*) FILTER (WHERE succeeded) AS succeeded
FROM conflict_resolutions
WHERE resolved_at >= $1 AND resolved_at < $2`
	row := struct {
		Attempted int `db:"attempted"`
		Succeeded int `db:"succeeded"`
	}{}
	if err := r.db.GetContext(ctx, &row, query, from, to); err != nil {
		return 0, 0, fmt.Errorf("resolution success rate: %w", err)
	}
	return row.Attempted, row.Succeeded, nil
}
