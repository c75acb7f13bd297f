package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/carewell/scheduling-api/internal/models"
)

// SyncOperationRepository persists template sync runs, including the slot
// backup that backs rollback.
type SyncOperationRepository struct {
	db *sqlx.DB
}

// NewSyncOperationRepository constructs the repository.
func NewSyncOperationRepository(db *sqlx.DB) *SyncOperationRepository {
	return &SyncOperationRepository{db: db}
}

func (r *SyncOperationRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const syncOperationColumns = `id, template_id, status, dry_run, "trigger", changes, policy, batch_results, backup, affected_enrollments, started_at, completed_at, rollback_deadline, created_at`

// Create inserts a new operation in pending state.
func (r *SyncOperationRepository) Create(ctx context.Context, exec sqlx.ExtContext, op *models.SyncOperation) error {
	target := r.exec(exec)
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Status == "" {
		op.Status = models.SyncStatusPending
	}
	op.CreatedAt = time.Now().UTC()
	if op.BatchResults == nil {
		op.BatchResults = types.JSONText("[]")
	}
	const query = `
INSERT INTO sync_operations (id, template_id, status, dry_run, "trigger", changes, policy, batch_results, backup, affected_enrollments, started_at, completed_at, rollback_deadline, created_at)
VALUES (:id, :template_id, :status, :dry_run, :trigger, :changes, :policy, :batch_results, :backup, :affected_enrollments, :started_at, :completed_at, :rollback_deadline, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, query, op); err != nil {
		return fmt.Errorf("create sync operation: %w", err)
	}
	return nil
}

// FindByID loads one operation, backup included.
func (r *SyncOperationRepository) FindByID(ctx context.Context, id string) (*models.SyncOperation, error) {
	query := fmt.Sprintf(`SELECT %s FROM sync_operations WHERE id = $1`, syncOperationColumns)
	var op models.SyncOperation
	if err := r.db.GetContext(ctx, &op, query, id); err != nil {
		return nil, err
	}
	return &op, nil
}

// UpdateOutcome records the terminal state of a run together with its batch
// results and rollback deadline.
func (r *SyncOperationRepository) UpdateOutcome(ctx context.Context, exec sqlx.ExtContext, op *models.SyncOperation) error {
	target := r.exec(exec)
	const query = `
UPDATE sync_operations SET
	status = :status,
	batch_results = :batch_results,
	backup = :backup,
	affected_enrollments = :affected_enrollments,
	completed_at = :completed_at,
	rollback_deadline = :rollback_deadline
WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, target, query, op)
	if err != nil {
		return fmt.Errorf("update sync operation: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("sync operation %s not found", op.ID)
	}
	return nil
}

// MarkRolledBack flips a completed operation to rolled_back and clears the
// deadline so a second rollback cannot run.
func (r *SyncOperationRepository) MarkRolledBack(ctx context.Context, exec sqlx.ExtContext, id string) error {
	target := r.exec(exec)
	const query = `UPDATE sync_operations SET status = $1, rollback_deadline = NULL WHERE id = $2 AND status = $3`
	result, err := target.ExecContext(ctx, query, models.SyncStatusRolledBack, id, models.SyncStatusCompleted)
	if err != nil {
		return fmt.Errorf("mark sync operation rolled back: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("sync operation %s is not in a rollback-eligible state", id)
	}
	return nil
}

// ListDueScheduled returns pending operations with the scheduled trigger,
// oldest first. The cron runner drains these.
func (r *SyncOperationRepository) ListDueScheduled(ctx context.Context, limit int) ([]models.SyncOperation, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM sync_operations WHERE status = $1 AND "trigger" = $2 ORDER BY created_at ASC LIMIT $3`, syncOperationColumns)
	var ops []models.SyncOperation
	if err := r.db.SelectContext(ctx, &ops, query, models.SyncStatusPending, models.SyncTriggerScheduled, limit); err != nil {
		return nil, fmt.Errorf("list due sync operations: %w", err)
	}
	return ops, nil
}

// ListByTemplate returns the sync history for one template, newest first.
func (r *SyncOperationRepository) ListByTemplate(ctx context.Context, templateID string, limit int) ([]models.SyncOperation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM sync_operations WHERE template_id = $1 ORDER BY created_at DESC LIMIT $2`, syncOperationColumns)
	var ops []models.SyncOperation
	if err := r.db.SelectContext(ctx, &ops, query, templateID, limit); err != nil {
		return nil, fmt.Errorf("list sync operations: %w", err)
	}
	return ops, nil
}
