package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// SyncTrigger decides when an approved sync runs.
type SyncTrigger string

const (
	SyncTriggerImmediate SyncTrigger = "immediate"
	SyncTriggerScheduled SyncTrigger = "scheduled"
)

// SyncPolicy governs how template changes propagate into generated schedules.
type SyncPolicy struct {
	AutoSync            bool        `json:"auto_sync"`
	Trigger             SyncTrigger `json:"trigger"`
	NotifyParticipants  bool        `json:"notify_participants"`
	AllowRollback       bool        `json:"allow_rollback"`
	RollbackWindowHours int         `json:"rollback_window_hours"`
	BackupSchedules     bool        `json:"backup_schedules"`
	BatchSize           int         `json:"batch_size"`
}

// SyncOperationStatus is the sync operation lifecycle.
type SyncOperationStatus string

const (
	SyncStatusPending    SyncOperationStatus = "pending"
	SyncStatusRunning    SyncOperationStatus = "running"
	SyncStatusCompleted  SyncOperationStatus = "completed"
	SyncStatusFailed     SyncOperationStatus = "failed"
	SyncStatusRolledBack SyncOperationStatus = "rolled_back"
)

// SyncBatchStatus records the outcome of one enrollment batch.
type SyncBatchStatus string

const (
	SyncBatchCommitted SyncBatchStatus = "committed"
	SyncBatchFailed    SyncBatchStatus = "failed"
	SyncBatchSkipped   SyncBatchStatus = "skipped"
)

// SyncBatchResult is the per-batch unit of atomicity. Committed batches stay
// committed even when a later batch fails.
type SyncBatchResult struct {
	BatchIndex    int             `json:"batch_index"`
	EnrollmentIDs []string        `json:"enrollment_ids"`
	Status        SyncBatchStatus `json:"status"`
	SlotsRebuilt  int             `json:"slots_rebuilt"`
	Error         string          `json:"error,omitempty"`
}

// SyncOperation records one propagation run, carrying enough state (the
// pre-operation slot backup) to support rollback inside the policy window.
type SyncOperation struct {
	ID                  string              `db:"id" json:"id"`
	TemplateID          string              `db:"template_id" json:"template_id"`
	Status              SyncOperationStatus `db:"status" json:"status"`
	DryRun              bool                `db:"dry_run" json:"dry_run"`
	Trigger             SyncTrigger         `db:"trigger" json:"trigger"`
	Changes             types.JSONText      `db:"changes" json:"changes"`
	Policy              types.JSONText      `db:"policy" json:"policy"`
	BatchResults        types.JSONText      `db:"batch_results" json:"batch_results"`
	Backup              types.JSONText      `db:"backup" json:"-"`
	AffectedEnrollments int                 `db:"affected_enrollments" json:"affected_enrollments"`
	StartedAt           time.Time           `db:"started_at" json:"started_at"`
	CompletedAt         *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
	RollbackDeadline    *time.Time          `db:"rollback_deadline" json:"rollback_deadline,omitempty"`
	CreatedAt           time.Time           `db:"created_at" json:"created_at"`
}

// ScheduleBackup is the serialized pre-operation slot snapshot, keyed by
// enrollment id.
type ScheduleBackup struct {
	TakenAt time.Time                `json:"taken_at"`
	Slots   map[string][]SessionSlot `json:"slots"`
}
