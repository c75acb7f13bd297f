package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carewell/scheduling-api/internal/dto"
	"github.com/carewell/scheduling-api/internal/models"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
	"github.com/carewell/scheduling-api/pkg/locks"
)

type syncFixture struct {
	service     *TemplateSyncService
	templates   *templateStoreStub
	enrollments *enrollmentStoreStub
	slots       *slotStoreStub
	schedules   *scheduleStoreStub
	operations  *opStoreStub
	audit       *auditStoreStub
	tx          *txMock
}

func newSyncFixture(t *testing.T, enrollments ...models.Enrollment) *syncFixture {
	t.Helper()
	templates := &templateStoreStub{template: &models.ProgramTemplate{
		ID:                         "tpl-1",
		Name:                       "early intervention",
		Version:                    1,
		BaseSessionsPerWeek:        2,
		BaseSessionDurationMinutes: 60,
		DurationWeeks:              12,
		DefaultDays:                []string{"monday", "wednesday"},
		DefaultTimes:               []string{"10:00"},
	}}
	enrollmentStore := newEnrollmentStoreStub(enrollments...)
	slots := newSlotStoreStub()
	schedules := newScheduleStoreStub()
	operations := newOpStoreStub()
	audit := &auditStoreStub{}
	tx := newTxMock(t)
	service := NewTemplateSyncService(templates, enrollmentStore, slots, schedules, operations, audit, nil, tx, nil, nil, nil, nil, SyncEngineConfig{
		BatchSize:           2,
		RollbackWindowHours: 24,
	})
	return &syncFixture{
		service:     service,
		templates:   templates,
		enrollments: enrollmentStore,
		slots:       slots,
		schedules:   schedules,
		operations:  operations,
		audit:       audit,
		tx:          tx,
	}
}

func templateEnrollment(id string) models.Enrollment {
	return models.Enrollment{
		ID:          id,
		StudentID:   "stu-" + id,
		TemplateID:  "tpl-1",
		TherapistID: "ther-1",
		StartDate:   time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2025, 3, 28, 0, 0, 0, 0, time.UTC),
		State:       models.ScheduleStateActive,
	}
}

func basePolicy() models.SyncPolicy {
	return models.SyncPolicy{
		AutoSync:        true,
		Trigger:         models.SyncTriggerImmediate,
		AllowRollback:   true,
		BackupSchedules: true,
		BatchSize:       2,
	}
}

func TestAnalyzeChangesClassifiesImpact(t *testing.T) {
	fixture := newSyncFixture(t)

	old := dto.TemplateParams{
		BaseSessionsPerWeek:        2,
		BaseSessionDurationMinutes: 60,
		DurationWeeks:              12,
		DefaultDays:                []string{"monday", "wednesday"},
		DefaultTimes:               []string{"10:00"},
	}
	updated := old
	updated.BaseSessionsPerWeek = 3
	updated.DefaultTimes = []string{"14:00"}

	result, err := fixture.service.AnalyzeChanges(context.Background(), dto.AnalyzeChangesRequest{
		TemplateID: "tpl-1",
		Old:        old,
		New:        updated,
	})

	require.NoError(t, err)
	require.True(t, result.SyncRequired)
	require.Len(t, result.Changes, 2)
	assert.Equal(t, models.ImpactMedium, result.ImpactLevel)

	byField := make(map[string]models.TemplateChange, len(result.Changes))
	for _, change := range result.Changes {
		byField[change.Field] = change
	}
	perWeek := byField["base_sessions_per_week"]
	assert.Equal(t, models.ImpactMedium, perWeek.Impact)
	assert.True(t, perWeek.RequiresScheduleRebuild)
	assert.True(t, perWeek.AffectsExistingSessions)
	times := byField["default_times"]
	assert.Equal(t, models.ImpactLow, times.Impact)
	assert.False(t, times.RequiresScheduleRebuild)
	assert.False(t, times.AffectsExistingSessions)
}

func TestAnalyzeChangesNoDiff(t *testing.T) {
	fixture := newSyncFixture(t)
	params := dto.TemplateParams{
		BaseSessionsPerWeek: 2,
		DefaultDays:         []string{"monday"},
	}

	result, err := fixture.service.AnalyzeChanges(context.Background(), dto.AnalyzeChangesRequest{
		TemplateID: "tpl-1",
		Old:        params,
		New:        params,
	})
	require.NoError(t, err)
	assert.False(t, result.SyncRequired)
	assert.Empty(t, result.Changes)
}

func TestUpdateTemplatePersistsOnlyOnChange(t *testing.T) {
	fixture := newSyncFixture(t)

	same := dto.TemplateParams{
		BaseSessionsPerWeek:        2,
		BaseSessionDurationMinutes: 60,
		DurationWeeks:              12,
		DefaultDays:                []string{"monday", "wednesday"},
		DefaultTimes:               []string{"10:00"},
	}
	_, analysis, err := fixture.service.UpdateTemplate(context.Background(), "tpl-1", same)
	require.NoError(t, err)
	assert.False(t, analysis.SyncRequired)
	assert.False(t, fixture.templates.updated)

	changed := same
	changed.DurationWeeks = 16
	template, analysis, err := fixture.service.UpdateTemplate(context.Background(), "tpl-1", changed)
	require.NoError(t, err)
	assert.True(t, analysis.SyncRequired)
	assert.Equal(t, models.ImpactHigh, analysis.ImpactLevel)
	assert.True(t, fixture.templates.updated)
	assert.Equal(t, 16, template.DurationWeeks)
}

func TestValidateSyncSeparatesBlockingFromWarnings(t *testing.T) {
	fixture := newSyncFixture(t, templateEnrollment("enr-1"))

	result, err := fixture.service.ValidateSync(context.Background(), dto.ValidateSyncRequest{
		TemplateID: "tpl-1",
		Changes:    []models.TemplateChange{{Field: "duration_weeks", Impact: models.ImpactHigh}},
		Policy: models.SyncPolicy{
			AutoSync:        false,
			AllowRollback:   true,
			BackupSchedules: false,
		},
	})

	require.NoError(t, err)
	assert.False(t, result.CanSync)
	assert.Contains(t, result.BlockingIssues, "auto_sync is disabled by policy")
	assert.Contains(t, result.BlockingIssues, "rollback requires backup_schedules")
	assert.Contains(t, result.Warnings, "high-impact changes without schedule backups cannot be undone")
	assert.Contains(t, result.Warnings, "participants will not be notified")
	assert.Equal(t, 1, result.EstimatedImpact.AffectedEnrollments)
}

func TestExecuteBlockedPolicyReturnsPolicyViolation(t *testing.T) {
	fixture := newSyncFixture(t, templateEnrollment("enr-1"))

	_, err := fixture.service.Execute(context.Background(), dto.ExecuteSyncRequest{
		TemplateID: "tpl-1",
		Changes:    []models.TemplateChange{{Field: "default_times"}},
		Policy:     models.SyncPolicy{AutoSync: false},
	})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrPolicyViolation.Code, appErr.Code)
}

func TestExecuteDryRunDoesNotMutate(t *testing.T) {
	fixture := newSyncFixture(t,
		templateEnrollment("enr-1"),
		templateEnrollment("enr-2"),
		templateEnrollment("enr-3"),
	)
	future := mustDate(t, "2099-06-01")
	fixture.slots.add(individualSlot("s1", "enr-1", "ther-1", "room-1", future, "10:00", "11:00"))
	fixture.slots.add(individualSlot("s2", "enr-2", "ther-1", "room-1", future, "11:00", "12:00"))
	fixture.slots.add(individualSlot("s3", "enr-3", "ther-1", "room-1", future, "12:00", "13:00"))

	op, err := fixture.service.Execute(context.Background(), dto.ExecuteSyncRequest{
		TemplateID: "tpl-1",
		Changes:    []models.TemplateChange{{Field: "base_sessions_per_week", NewValue: 3}},
		Policy:     basePolicy(),
		Options:    dto.SyncExecuteOptions{DryRun: true},
	})

	require.NoError(t, err)
	assert.True(t, op.DryRun)
	assert.Equal(t, models.SyncStatusCompleted, op.Status)
	assert.Equal(t, 3, op.AffectedEnrollments)
	assert.Nil(t, op.RollbackDeadline)

	var batches []models.SyncBatchResult
	require.NoError(t, json.Unmarshal(op.BatchResults, &batches))
	require.Len(t, batches, 2)
	assert.Equal(t, models.SyncBatchCommitted, batches[0].Status)
	assert.Equal(t, 2, batches[0].SlotsRebuilt)
	assert.Equal(t, 1, batches[1].SlotsRebuilt)

	// Nothing moved: every slot still holds its original status.
	assert.Zero(t, fixture.slots.statusSets)
	for _, id := range []string{"s1", "s2", "s3"} {
		assert.Equal(t, models.SlotStatusScheduled, fixture.slots.slots[id].Status)
	}
	assert.Empty(t, fixture.audit.entries)
}

func TestExecuteCommitsBatchesAndArmsRollback(t *testing.T) {
	fixture := newSyncFixture(t, templateEnrollment("enr-1"))
	require.NoError(t, fixture.schedules.CreateVersion(context.Background(), nil, &models.CustomSchedule{
		EnrollmentID:           "enr-1",
		SessionsPerWeek:        2,
		SessionDurationMinutes: 60,
		PreferredDays:          []string{"monday", "wednesday"},
		PreferredTimes:         []string{"10:00"},
	}))
	future := mustDate(t, "2099-06-01")
	fixture.slots.add(individualSlot("s1", "enr-1", "ther-1", "room-1", future, "10:00", "11:00"))
	fixture.tx.expectTx()

	op, err := fixture.service.Execute(context.Background(), dto.ExecuteSyncRequest{
		TemplateID: "tpl-1",
		Changes:    []models.TemplateChange{{Field: "base_sessions_per_week", NewValue: 3}},
		Policy:     basePolicy(),
	})

	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, op.Status)
	require.NotNil(t, op.RollbackDeadline)
	assert.True(t, op.RollbackDeadline.After(time.Now().UTC().Add(23*time.Hour)))

	// The stale session was retired and the pre-operation snapshot kept.
	assert.Equal(t, models.SlotStatusCancelled, fixture.slots.slots["s1"].Status)
	var backup models.ScheduleBackup
	require.NoError(t, json.Unmarshal(op.Backup, &backup))
	require.Len(t, backup.Slots["enr-1"], 1)
	assert.Equal(t, "s1", backup.Slots["enr-1"][0].ID)

	var batches []models.SyncBatchResult
	require.NoError(t, json.Unmarshal(op.BatchResults, &batches))
	require.Len(t, batches, 1)
	assert.Equal(t, models.SyncBatchCommitted, batches[0].Status)
	assert.Len(t, fixture.audit.entries, 1)
}

func TestExecuteScheduledTriggerParksOperation(t *testing.T) {
	fixture := newSyncFixture(t, templateEnrollment("enr-1"))
	policy := basePolicy()
	policy.Trigger = models.SyncTriggerScheduled

	op, err := fixture.service.Execute(context.Background(), dto.ExecuteSyncRequest{
		TemplateID: "tpl-1",
		Changes:    []models.TemplateChange{{Field: "default_times", NewValue: []string{"14:00"}}},
		Policy:     policy,
	})

	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, op.Status)
	assert.Empty(t, op.BatchResults)

	due, err := fixture.operations.ListDueScheduled(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, op.ID, due[0].ID)
}

func TestRunScheduledDrainsPendingOperations(t *testing.T) {
	fixture := newSyncFixture(t, templateEnrollment("enr-1"))
	require.NoError(t, fixture.schedules.CreateVersion(context.Background(), nil, &models.CustomSchedule{
		EnrollmentID:           "enr-1",
		SessionsPerWeek:        2,
		SessionDurationMinutes: 60,
		PreferredDays:          []string{"monday"},
		PreferredTimes:         []string{"10:00"},
	}))
	policy := basePolicy()
	policy.Trigger = models.SyncTriggerScheduled
	policy.BackupSchedules = false
	policy.AllowRollback = false

	require.NoError(t, fixture.operations.Create(context.Background(), nil, &models.SyncOperation{
		TemplateID: "tpl-1",
		Trigger:    models.SyncTriggerScheduled,
		Changes:    mustJSON([]models.TemplateChange{{Field: "default_times", NewValue: []interface{}{"14:00"}}}),
		Policy:     mustJSON(policy),
		StartedAt:  time.Now().UTC(),
	}))
	corrupt := &models.SyncOperation{
		TemplateID: "tpl-1",
		Trigger:    models.SyncTriggerScheduled,
		Changes:    []byte("{not json"),
		Policy:     mustJSON(policy),
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, fixture.operations.Create(context.Background(), nil, corrupt))

	fixture.tx.expectTx()
	require.NoError(t, fixture.service.RunScheduled(context.Background()))

	drained, err := fixture.operations.FindByID(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, drained.Status)

	// The corrupt payload is skipped, not failed.
	skipped, err := fixture.operations.FindByID(context.Background(), corrupt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, skipped.Status)
}

func TestRollbackRestoresSnapshot(t *testing.T) {
	fixture := newSyncFixture(t)
	snapshot := []models.SessionSlot{
		individualSlot("old-1", "enr-1", "ther-1", "room-1", mustDate(t, "2099-06-01"), "10:00", "11:00"),
	}
	deadline := time.Now().UTC().Add(2 * time.Hour)
	require.NoError(t, fixture.operations.Create(context.Background(), nil, &models.SyncOperation{
		TemplateID:       "tpl-1",
		Status:           models.SyncStatusCompleted,
		RollbackDeadline: &deadline,
		Backup:           mustJSON(&models.ScheduleBackup{TakenAt: time.Now().UTC(), Slots: map[string][]models.SessionSlot{"enr-1": snapshot}}),
	}))
	fixture.slots.add(individualSlot("new-1", "enr-1", "ther-1", "room-1", mustDate(t, "2099-06-02"), "14:00", "15:00"))
	fixture.tx.expectTx()

	result, err := fixture.service.Rollback(context.Background(), "op-1", "coord-1")

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.SessionsRestored)
	assert.Equal(t, []string{"op-1"}, fixture.operations.rolledBack)

	// The regenerated slot is gone and the snapshot is back.
	_, exists := fixture.slots.slots["new-1"]
	assert.False(t, exists)
	_, exists = fixture.slots.slots["old-1"]
	assert.True(t, exists)
	assert.Len(t, fixture.audit.entries, 1)
}

func TestRollbackOutsideWindowIsRejected(t *testing.T) {
	fixture := newSyncFixture(t)
	expired := time.Now().UTC().Add(-1 * time.Hour)
	require.NoError(t, fixture.operations.Create(context.Background(), nil, &models.SyncOperation{
		TemplateID:       "tpl-1",
		Status:           models.SyncStatusCompleted,
		RollbackDeadline: &expired,
		Backup:           mustJSON(&models.ScheduleBackup{}),
	}))

	_, err := fixture.service.Rollback(context.Background(), "op-1", "coord-1")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrRollbackExpired.Code, appErr.Code)
}

func TestRollbackRequiresRollbackSupport(t *testing.T) {
	fixture := newSyncFixture(t)
	require.NoError(t, fixture.operations.Create(context.Background(), nil, &models.SyncOperation{
		TemplateID: "tpl-1",
		Status:     models.SyncStatusCompleted,
	}))

	_, err := fixture.service.Rollback(context.Background(), "op-1", "coord-1")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrPolicyViolation.Code, appErr.Code)

	require.NoError(t, fixture.operations.Create(context.Background(), nil, &models.SyncOperation{
		TemplateID: "tpl-1",
		Status:     models.SyncStatusRunning,
	}))
	_, err = fixture.service.Rollback(context.Background(), "op-2", "coord-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only completed operations")
}

func TestAnalyzeChangesCosmeticOnlyNeedsNoSync(t *testing.T) {
	fixture := newSyncFixture(t)

	old := dto.TemplateParams{
		BaseSessionsPerWeek:        2,
		BaseSessionDurationMinutes: 60,
		DurationWeeks:              12,
		DefaultDays:                []string{"monday", "wednesday"},
		DefaultTimes:               []string{"10:00"},
	}
	updated := old
	updated.DefaultTimes = []string{"14:00"}

	result, err := fixture.service.AnalyzeChanges(context.Background(), dto.AnalyzeChangesRequest{
		TemplateID: "tpl-1",
		Old:        old,
		New:        updated,
	})

	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, models.ImpactLow, result.ImpactLevel)

	// default_times only shapes sessions generated from now on; nothing
	// already booked needs to move.
	assert.False(t, result.SyncRequired)
}

func TestUpdateTemplatePersistsCosmeticChange(t *testing.T) {
	fixture := newSyncFixture(t)

	changed := dto.TemplateParams{
		BaseSessionsPerWeek:        2,
		BaseSessionDurationMinutes: 60,
		DurationWeeks:              12,
		DefaultDays:                []string{"monday", "wednesday"},
		DefaultTimes:               []string{"14:00"},
	}
	template, analysis, err := fixture.service.UpdateTemplate(context.Background(), "tpl-1", changed)

	require.NoError(t, err)
	assert.False(t, analysis.SyncRequired)
	assert.True(t, fixture.templates.updated)
	assert.Equal(t, []string{"14:00"}, []string(template.DefaultTimes))
}

func TestExecuteWaitsForEnrollmentLock(t *testing.T) {
	fixture := newSyncFixture(t, templateEnrollment("enr-1"))
	shared := locks.NewKeyedMutex()
	service := NewTemplateSyncService(fixture.templates, fixture.enrollments, fixture.slots, fixture.schedules,
		fixture.operations, fixture.audit, nil, fixture.tx, shared, nil, nil, nil,
		SyncEngineConfig{BatchSize: 2, RollbackWindowHours: 24})
	require.NoError(t, fixture.schedules.CreateVersion(context.Background(), nil, &models.CustomSchedule{
		EnrollmentID:           "enr-1",
		SessionsPerWeek:        2,
		SessionDurationMinutes: 60,
		PreferredDays:          []string{"monday"},
		PreferredTimes:         []string{"10:00"},
	}))
	fixture.tx.expectTx()

	policy := basePolicy()
	policy.AllowRollback = false
	policy.BackupSchedules = false

	shared.Lock("enr-1")
	done := make(chan error, 1)
	go func() {
		_, err := service.Execute(context.Background(), dto.ExecuteSyncRequest{
			TemplateID: "tpl-1",
			Changes:    []models.TemplateChange{{Field: "base_sessions_per_week", NewValue: 3}},
			Policy:     policy,
		})
		done <- err
	}()

	// While another mutation holds the enrollment, the batch cannot commit.
	select {
	case <-done:
		t.Fatal("sync finished while the enrollment was locked")
	case <-time.After(50 * time.Millisecond):
	}

	shared.Unlock("enr-1")
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sync never finished after the lock was released")
	}
}

// deadlineGuardedOpStore refuses writes on an expired context, the way a real
// database driver would.
type deadlineGuardedOpStore struct {
	*opStoreStub
}

func (s *deadlineGuardedOpStore) UpdateOutcome(ctx context.Context, exec sqlx.ExtContext, op *models.SyncOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.opStoreStub.UpdateOutcome(ctx, exec, op)
}

func TestRunRecordsOutcomeAfterDeadline(t *testing.T) {
	fixture := newSyncFixture(t, templateEnrollment("enr-1"), templateEnrollment("enr-2"))
	guarded := &deadlineGuardedOpStore{opStoreStub: fixture.operations}
	service := NewTemplateSyncService(fixture.templates, fixture.enrollments, fixture.slots, fixture.schedules,
		guarded, fixture.audit, nil, fixture.tx, nil, nil, nil, nil,
		SyncEngineConfig{BatchSize: 1, RollbackWindowHours: 24})

	policy := basePolicy()
	policy.AllowRollback = false
	policy.BackupSchedules = false
	policy.BatchSize = 1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	op, err := service.Execute(ctx, dto.ExecuteSyncRequest{
		TemplateID: "tpl-1",
		Changes:    []models.TemplateChange{{Field: "base_sessions_per_week", NewValue: 3}},
		Policy:     policy,
	})

	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, op.Status)

	var batches []models.SyncBatchResult
	require.NoError(t, json.Unmarshal(op.BatchResults, &batches))
	require.Len(t, batches, 2)
	for _, batch := range batches {
		assert.Equal(t, models.SyncBatchSkipped, batch.Status)
		assert.Equal(t, "deadline exceeded", batch.Error)
	}

	// The operation record leaves the running state even though the request
	// context is gone.
	stored, err := fixture.operations.FindByID(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, stored.Status)
}
