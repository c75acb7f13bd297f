package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/require"

	"github.com/carewell/scheduling-api/internal/models"
)

func newSyncRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestSyncOperationRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newSyncRepoMock(t)
	defer cleanup()

	repo := NewSyncOperationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sync_operations")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	op := &models.SyncOperation{
		TemplateID: "tpl-1",
		Trigger:    models.SyncTriggerImmediate,
		Changes:    types.JSONText(`[{"field":"default_times"}]`),
		Policy:     types.JSONText(`{"auto_sync":true}`),
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), nil, op))
	require.NotEmpty(t, op.ID)
	require.Equal(t, models.SyncStatusPending, op.Status)
	require.JSONEq(t, "[]", string(op.BatchResults))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncOperationRepositoryMarkRolledBackRequiresCompleted(t *testing.T) {
	db, mock, cleanup := newSyncRepoMock(t)
	defer cleanup()

	repo := NewSyncOperationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sync_operations SET status")).
		WithArgs(string(models.SyncStatusRolledBack), "op-1", string(models.SyncStatusCompleted)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkRolledBack(context.Background(), nil, "op-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not in a rollback-eligible state")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncOperationRepositoryListDueScheduled(t *testing.T) {
	db, mock, cleanup := newSyncRepoMock(t)
	defer cleanup()

	repo := NewSyncOperationRepository(db)
	rows := sqlmock.NewRows([]string{"id", "template_id", "status", "dry_run", "trigger", "changes", "policy", "batch_results", "backup", "affected_enrollments", "started_at", "completed_at", "rollback_deadline", "created_at"}).
		AddRow("op-1", "tpl-1", "pending", false, "scheduled", "[]", "{}", "[]", nil, 0, time.Now(), nil, nil, time.Now())

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, template_id, status")).
		WithArgs(string(models.SyncStatusPending), string(models.SyncTriggerScheduled), 10).
		WillReturnRows(rows)

	ops, err := repo.ListDueScheduled(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, "op-1", ops[0].ID)
	require.Equal(t, models.SyncTriggerScheduled, ops[0].Trigger)
	require.NoError(t, mock.ExpectationsWereMet())
}
