package service

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/carewell/scheduling-api/internal/dto"
	"github.com/carewell/scheduling-api/internal/models"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
	"github.com/carewell/scheduling-api/pkg/locks"
	"github.com/carewell/scheduling-api/pkg/notify"
)

type syncTemplateStore interface {
	FindByID(ctx context.Context, id string) (*models.ProgramTemplate, error)
	Update(ctx context.Context, exec sqlx.ExtContext, template *models.ProgramTemplate) error
}

type syncEnrollmentReader interface {
	ListActiveByTemplate(ctx context.Context, templateID string) ([]models.Enrollment, error)
}

type syncSlotStore interface {
	ListByEnrollments(ctx context.Context, enrollmentIDs []string, from *time.Time) ([]models.SessionSlot, error)
	ListRange(ctx context.Context, filter models.SlotFilter) ([]models.SessionSlot, error)
	BulkInsert(ctx context.Context, exec sqlx.ExtContext, slots []models.SessionSlot) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, ids []string, status models.SlotStatus) (int64, error)
	CountScheduledFrom(ctx context.Context, enrollmentIDs []string, from time.Time) (int, error)
	RestoreEnrollmentSlots(ctx context.Context, exec sqlx.ExtContext, enrollmentID string, snapshot []models.SessionSlot) error
}

type syncScheduleReader interface {
	GetActive(ctx context.Context, enrollmentID string) (*models.CustomSchedule, error)
}

type syncOperationStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, op *models.SyncOperation) error
	FindByID(ctx context.Context, id string) (*models.SyncOperation, error)
	UpdateOutcome(ctx context.Context, exec sqlx.ExtContext, op *models.SyncOperation) error
	MarkRolledBack(ctx context.Context, exec sqlx.ExtContext, id string) error
	ListDueScheduled(ctx context.Context, limit int) ([]models.SyncOperation, error)
}

type syncAuditStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, entry *models.AuditLog) error
}

// TemplateSyncService propagates template parameter changes into the
// generated schedules that derive from them. Propagation runs in batches;
// each batch commits or fails atomically, and committed batches survive a
// later batch's failure.
type TemplateSyncService struct {
	templates   syncTemplateStore
	enrollments syncEnrollmentReader
	slots       syncSlotStore
	schedules   syncScheduleReader
	operations  syncOperationStore
	audit       syncAuditStore
	closures    holidaySource
	tx          txProvider
	keyed       *locks.KeyedMutex
	notifier    notify.Notifier
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         SyncEngineConfig
}

// SyncEngineConfig carries the engine defaults.
type SyncEngineConfig struct {
	BatchSize           int
	RollbackWindowHours int
	BackupSchedules     bool
	Generation          GeneratorConfig
}

// NewTemplateSyncService wires the engine's dependencies. The keyed mutex is
// shared with every other service that mutates enrollment schedules.
func NewTemplateSyncService(
	templates syncTemplateStore,
	enrollments syncEnrollmentReader,
	slots syncSlotStore,
	schedules syncScheduleReader,
	operations syncOperationStore,
	audit syncAuditStore,
	closures holidaySource,
	tx txProvider,
	keyed *locks.KeyedMutex,
	notifier notify.Notifier,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg SyncEngineConfig,
) *TemplateSyncService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if keyed == nil {
		keyed = locks.NewKeyedMutex()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.RollbackWindowHours <= 0 {
		cfg.RollbackWindowHours = 24
	}
	return &TemplateSyncService{
		templates:   templates,
		enrollments: enrollments,
		slots:       slots,
		schedules:   schedules,
		operations:  operations,
		audit:       audit,
		closures:    closures,
		tx:          tx,
		keyed:       keyed,
		notifier:    notifier,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// fieldImpact classifies how disruptive changing each template field is.
var fieldImpact = map[string]models.TemplateChange{
	"base_sessions_per_week":        {Impact: models.ImpactMedium, RequiresScheduleRebuild: true, AffectsExistingSessions: true},
	"base_session_duration_minutes": {Impact: models.ImpactMedium, RequiresScheduleRebuild: false, AffectsExistingSessions: true},
	"duration_weeks":                {Impact: models.ImpactHigh, RequiresScheduleRebuild: true, AffectsExistingSessions: true},
	"default_days":                  {Impact: models.ImpactMedium, RequiresScheduleRebuild: true, AffectsExistingSessions: true},
	"default_times":                 {Impact: models.ImpactLow, RequiresScheduleRebuild: false, AffectsExistingSessions: false},
}

// AnalyzeChanges diffs two template parameter sets field by field.
func (s *TemplateSyncService) AnalyzeChanges(ctx context.Context, req dto.AnalyzeChangesRequest) (*dto.AnalyzeChangesResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid analyze payload")
	}

	var changes []models.TemplateChange
	record := func(field string, oldValue, newValue interface{}) {
		if reflect.DeepEqual(oldValue, newValue) {
			return
		}
		change := fieldImpact[field]
		change.Field = field
		change.OldValue = oldValue
		change.NewValue = newValue
		changes = append(changes, change)
	}

	record("base_sessions_per_week", req.Old.BaseSessionsPerWeek, req.New.BaseSessionsPerWeek)
	record("base_session_duration_minutes", req.Old.BaseSessionDurationMinutes, req.New.BaseSessionDurationMinutes)
	record("duration_weeks", req.Old.DurationWeeks, req.New.DurationWeeks)
	record("default_days", req.Old.DefaultDays, req.New.DefaultDays)
	record("default_times", req.Old.DefaultTimes, req.New.DefaultTimes)

	// Cosmetic fields can change without disturbing booked sessions; only a
	// change that touches existing sessions forces a sync.
	syncRequired := false
	for _, change := range changes {
		if change.AffectsExistingSessions {
			syncRequired = true
			break
		}
	}
	result := &dto.AnalyzeChangesResult{
		Changes:      changes,
		SyncRequired: syncRequired,
		ImpactLevel:  overallImpact(changes),
	}
	return result, nil
}

func overallImpact(changes []models.TemplateChange) models.ImpactLevel {
	rank := map[models.ImpactLevel]int{models.ImpactLow: 1, models.ImpactMedium: 2, models.ImpactHigh: 3}
	highest := models.ImpactLow
	for _, change := range changes {
		if rank[change.Impact] > rank[highest] {
			highest = change.Impact
		}
	}
	return highest
}

// UpdateTemplate persists new template parameters and reports the resulting
// diff so the caller can decide whether to sync.
func (s *TemplateSyncService) UpdateTemplate(ctx context.Context, templateID string, params dto.TemplateParams) (*models.ProgramTemplate, *dto.AnalyzeChangesResult, error) {
	if err := s.validator.Struct(params); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid template parameters")
	}
	template, err := s.templates.FindByID(ctx, templateID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "template not found")
	}

	analysis, err := s.AnalyzeChanges(ctx, dto.AnalyzeChangesRequest{
		TemplateID: templateID,
		Old: dto.TemplateParams{
			BaseSessionsPerWeek:        template.BaseSessionsPerWeek,
			BaseSessionDurationMinutes: template.BaseSessionDurationMinutes,
			DurationWeeks:              template.DurationWeeks,
			DefaultDays:                template.DefaultDays,
			DefaultTimes:               template.DefaultTimes,
		},
		New: params,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(analysis.Changes) == 0 {
		return template, analysis, nil
	}

	template.BaseSessionsPerWeek = params.BaseSessionsPerWeek
	template.BaseSessionDurationMinutes = params.BaseSessionDurationMinutes
	template.DurationWeeks = params.DurationWeeks
	template.DefaultDays = params.DefaultDays
	template.DefaultTimes = params.DefaultTimes
	if err := s.templates.Update(ctx, nil, template); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update template")
	}
	return template, analysis, nil
}

// ValidateSync checks feasibility before execution without touching state.
func (s *TemplateSyncService) ValidateSync(ctx context.Context, req dto.ValidateSyncRequest) (*dto.ValidateSyncResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid validation payload")
	}
	if _, err := s.templates.FindByID(ctx, req.TemplateID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "template not found")
	}

	result := &dto.ValidateSyncResult{}

	enrollments, err := s.enrollments.ListActiveByTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	result.EstimatedImpact.AffectedEnrollments = len(enrollments)

	if len(enrollments) > 0 {
		ids := make([]string, 0, len(enrollments))
		for _, enrollment := range enrollments {
			ids = append(ids, enrollment.ID)
		}
		today := time.Now().UTC().Truncate(24 * time.Hour)
		count, err := s.slots.CountScheduledFrom(ctx, ids, today)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to size impact")
		}
		result.EstimatedImpact.AffectedSlots = count
	} else {
		result.Warnings = append(result.Warnings, "no active enrollments derive from this template")
	}

	if !req.Policy.AutoSync {
		result.BlockingIssues = append(result.BlockingIssues, "auto_sync is disabled by policy")
	}
	if req.Policy.AllowRollback && !req.Policy.BackupSchedules {
		result.BlockingIssues = append(result.BlockingIssues, "rollback requires backup_schedules")
	}
	if overallImpact(req.Changes) == models.ImpactHigh && !req.Policy.BackupSchedules {
		result.Warnings = append(result.Warnings, "high-impact changes without schedule backups cannot be undone")
	}
	if !req.Policy.NotifyParticipants {
		result.Warnings = append(result.Warnings, "participants will not be notified")
	}
	if req.Policy.BatchSize <= 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("batch size not set, defaulting to %d", s.cfg.BatchSize))
	}

	result.CanSync = len(result.BlockingIssues) == 0
	return result, nil
}

// Execute runs the propagation. Dry runs compute batches and record the
// operation without mutating any schedule. Scheduled-trigger requests are
// parked as pending operations for the background runner.
func (s *TemplateSyncService) Execute(ctx context.Context, req dto.ExecuteSyncRequest) (*models.SyncOperation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid execute payload")
	}

	validation, err := s.ValidateSync(ctx, dto.ValidateSyncRequest{
		TemplateID: req.TemplateID,
		Changes:    req.Changes,
		Policy:     req.Policy,
	})
	if err != nil {
		return nil, err
	}
	if !validation.CanSync {
		return nil, appErrors.Clone(appErrors.ErrPolicyViolation, fmt.Sprintf("sync blocked: %v", validation.BlockingIssues))
	}

	op := &models.SyncOperation{
		TemplateID: req.TemplateID,
		DryRun:     req.Options.DryRun,
		Trigger:    req.Policy.Trigger,
		Changes:    mustJSON(req.Changes),
		Policy:     mustJSON(req.Policy),
		StartedAt:  time.Now().UTC(),
	}
	if op.Trigger == "" {
		op.Trigger = models.SyncTriggerImmediate
	}

	if op.Trigger == models.SyncTriggerScheduled && !req.Options.DryRun {
		if err := s.operations.Create(ctx, nil, op); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue sync operation")
		}
		s.logger.Info("sync operation scheduled", zap.String("operation_id", op.ID), zap.String("template_id", req.TemplateID))
		return op, nil
	}

	op.Status = models.SyncStatusRunning
	if err := s.operations.Create(ctx, nil, op); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record sync operation")
	}
	return s.run(ctx, op, req.Changes, req.Policy, req.Options)
}

// run executes one operation's batches. It is shared by the immediate path
// and the scheduled runner.
func (s *TemplateSyncService) run(ctx context.Context, op *models.SyncOperation, changes []models.TemplateChange, policy models.SyncPolicy, options dto.SyncExecuteOptions) (*models.SyncOperation, error) {
	if options.DeadlineSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(options.DeadlineSeconds)*time.Second)
		defer cancel()
	}

	enrollments, err := s.enrollments.ListActiveByTemplate(ctx, op.TemplateID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments")
	}
	op.AffectedEnrollments = len(enrollments)

	batchSize := policy.BatchSize
	if batchSize <= 0 {
		batchSize = s.cfg.BatchSize
	}
	batches := batchEnrollments(enrollments, batchSize)
	today := time.Now().UTC().Truncate(24 * time.Hour)

	var backup *models.ScheduleBackup
	if policy.BackupSchedules && !op.DryRun {
		backup, err = s.takeBackup(ctx, enrollments, today)
		if err != nil {
			return nil, err
		}
		op.Backup = mustJSON(backup)
	}

	results := make([]models.SyncBatchResult, 0, len(batches))
	failed := false
	for idx, batch := range batches {
		ids := make([]string, 0, len(batch))
		for _, enrollment := range batch {
			ids = append(ids, enrollment.ID)
		}
		batchResult := models.SyncBatchResult{BatchIndex: idx, EnrollmentIDs: ids}

		if ctx.Err() != nil {
			batchResult.Status = models.SyncBatchSkipped
			batchResult.Error = "deadline exceeded"
			results = append(results, batchResult)
			continue
		}
		if op.DryRun {
			rebuilt, err := s.sizeBatch(ctx, ids, today)
			if err != nil {
				return nil, err
			}
			batchResult.Status = models.SyncBatchCommitted
			batchResult.SlotsRebuilt = rebuilt
			results = append(results, batchResult)
			continue
		}

		rebuilt, err := s.applyBatch(ctx, batch, changes, today)
		if err != nil {
			failed = true
			batchResult.Status = models.SyncBatchFailed
			batchResult.Error = err.Error()
			s.logger.Error("sync batch failed",
				zap.String("operation_id", op.ID),
				zap.Int("batch", idx),
				zap.Error(err))
		} else {
			batchResult.Status = models.SyncBatchCommitted
			batchResult.SlotsRebuilt = rebuilt
		}
		results = append(results, batchResult)
	}

	now := time.Now().UTC()
	op.BatchResults = mustJSON(results)
	op.CompletedAt = &now
	if failed {
		op.Status = models.SyncStatusFailed
	} else {
		op.Status = models.SyncStatusCompleted
	}
	if !op.DryRun && policy.AllowRollback && backup != nil && op.Status == models.SyncStatusCompleted {
		window := policy.RollbackWindowHours
		if window <= 0 {
			window = s.cfg.RollbackWindowHours
		}
		deadline := now.Add(time.Duration(window) * time.Hour)
		op.RollbackDeadline = &deadline
	}
	// The outcome write must land even when the run's deadline has expired,
	// otherwise the operation is stranded in running.
	if err := s.operations.UpdateOutcome(context.WithoutCancel(ctx), nil, op); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record sync outcome")
	}

	if s.audit != nil && !op.DryRun {
		entry := &models.AuditLog{
			Action:     models.AuditActionSyncExecute,
			Resource:   "template",
			ResourceID: &op.TemplateID,
			NewValues:  op.BatchResults,
		}
		if err := s.audit.Create(context.WithoutCancel(ctx), nil, entry); err != nil {
			s.logger.Warn("failed to write sync audit entry", zap.Error(err))
		}
	}
	if policy.NotifyParticipants && !op.DryRun {
		s.notifyCompletion(op)
	}

	s.logger.Info("sync operation finished",
		zap.String("operation_id", op.ID),
		zap.String("status", string(op.Status)),
		zap.Bool("dry_run", op.DryRun),
		zap.Int("batches", len(results)))
	return op, nil
}

// applyBatch rebuilds one enrollment batch inside a single transaction. Each
// member's schedule lock is held for the whole batch so a concurrent
// modification cannot interleave with the retire and regenerate steps.
func (s *TemplateSyncService) applyBatch(ctx context.Context, batch []models.Enrollment, changes []models.TemplateChange, from time.Time) (int, error) {
	ids := make([]string, 0, len(batch))
	for _, enrollment := range batch {
		ids = append(ids, enrollment.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.keyed.Lock(id)
	}
	defer func() {
		for _, id := range ids {
			s.keyed.Unlock(id)
		}
	}()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin batch transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rebuilt := 0
	for _, enrollment := range batch {
		count, err := s.applyToEnrollment(ctx, tx, enrollment, changes, from)
		if err != nil {
			return 0, fmt.Errorf("enrollment %s: %w", enrollment.ID, err)
		}
		rebuilt += count
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch: %w", err)
	}
	return rebuilt, nil
}

// applyToEnrollment retires the enrollment's future sessions and regenerates
// them with the changed parameters layered over its custom schedule.
func (s *TemplateSyncService) applyToEnrollment(ctx context.Context, tx *sqlx.Tx, enrollment models.Enrollment, changes []models.TemplateChange, from time.Time) (int, error) {
	active, err := s.schedules.GetActive(ctx, enrollment.ID)
	if err != nil {
		return 0, fmt.Errorf("load active schedule: %w", err)
	}

	params := calendarParams{
		EnrollmentID:           enrollment.ID,
		TherapistID:            enrollment.TherapistID,
		StartDate:              from,
		EndDate:                enrollment.EndDate,
		SessionsPerWeek:        active.SessionsPerWeek,
		SessionDurationMinutes: active.SessionDurationMinutes,
		PreferredDays:          normalizeDays(active.PreferredDays),
		PreferredTimes:         active.PreferredTimes,
		AllowWeekends:          s.cfg.Generation.AllowWeekends,
		AvoidHolidays:          s.cfg.Generation.AvoidHolidays,
	}
	for _, change := range changes {
		switch change.Field {
		case "base_sessions_per_week":
			if v, ok := asInt(change.NewValue); ok {
				params.SessionsPerWeek = v
			}
		case "base_session_duration_minutes":
			if v, ok := asInt(change.NewValue); ok {
				params.SessionDurationMinutes = v
			}
		case "duration_weeks":
			if v, ok := asInt(change.NewValue); ok {
				params.EndDate = enrollment.StartDate.AddDate(0, 0, 7*v)
			}
		case "default_days":
			if v, ok := asStrings(change.NewValue); ok {
				params.PreferredDays = normalizeDays(v)
			}
		case "default_times":
			if v, ok := asStrings(change.NewValue); ok {
				params.PreferredTimes = v
			}
		}
	}
	params.Holidays = holidaySet(ctx, s.closures, s.cfg.Generation, params.StartDate, params.EndDate, s.logger)

	future, err := s.slots.ListRange(ctx, models.SlotFilter{
		EnrollmentID: enrollment.ID,
		From:         &from,
		Statuses:     []models.SlotStatus{models.SlotStatusScheduled},
	})
	if err != nil {
		return 0, fmt.Errorf("load future slots: %w", err)
	}
	ids := make([]string, 0, len(future))
	for _, slot := range future {
		ids = append(ids, slot.ID)
		if params.RoomID == "" {
			params.RoomID = slot.RoomID
		}
	}
	if _, err := s.slots.UpdateStatus(ctx, tx, ids, models.SlotStatusCancelled); err != nil {
		return 0, fmt.Errorf("retire future slots: %w", err)
	}

	regenerated := buildCalendar(params)
	if err := s.slots.BulkInsert(ctx, tx, regenerated); err != nil {
		return 0, fmt.Errorf("insert regenerated slots: %w", err)
	}
	return len(regenerated), nil
}

// sizeBatch estimates a dry-run batch without mutating anything.
func (s *TemplateSyncService) sizeBatch(ctx context.Context, ids []string, from time.Time) (int, error) {
	count, err := s.slots.CountScheduledFrom(ctx, ids, from)
	if err != nil {
		return 0, fmt.Errorf("size dry-run batch: %w", err)
	}
	return count, nil
}

func (s *TemplateSyncService) takeBackup(ctx context.Context, enrollments []models.Enrollment, from time.Time) (*models.ScheduleBackup, error) {
	ids := make([]string, 0, len(enrollments))
	for _, enrollment := range enrollments {
		ids = append(ids, enrollment.ID)
	}
	slots, err := s.slots.ListByEnrollments(ctx, ids, &from)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to snapshot schedules")
	}
	backup := &models.ScheduleBackup{
		TakenAt: time.Now().UTC(),
		Slots:   make(map[string][]models.SessionSlot),
	}
	for _, slot := range slots {
		if slot.EnrollmentID == nil {
			continue
		}
		backup.Slots[*slot.EnrollmentID] = append(backup.Slots[*slot.EnrollmentID], slot)
	}
	return backup, nil
}

// Rollback restores the pre-operation snapshot. Only completed operations
// with a live rollback window qualify; the window closing makes the
// operation permanent.
func (s *TemplateSyncService) Rollback(ctx context.Context, operationID, requestedBy string) (*dto.RollbackResult, error) {
	op, err := s.operations.FindByID(ctx, operationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "sync operation not found")
	}
	if op.Status != models.SyncStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("operation is %s, only completed operations roll back", op.Status))
	}
	if op.RollbackDeadline == nil {
		return nil, appErrors.Clone(appErrors.ErrPolicyViolation, "operation was executed without rollback support")
	}
	if time.Now().UTC().After(*op.RollbackDeadline) {
		return nil, appErrors.Clone(appErrors.ErrRollbackExpired, fmt.Sprintf("rollback window closed at %s", op.RollbackDeadline.Format(time.RFC3339)))
	}
	if len(op.Backup) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPolicyViolation, "operation carries no schedule backup")
	}

	var backup models.ScheduleBackup
	if err := json.Unmarshal(op.Backup, &backup); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt schedule backup")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	restored := 0
	for enrollmentID, snapshot := range backup.Slots {
		if err := s.slots.RestoreEnrollmentSlots(ctx, tx, enrollmentID, snapshot); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restore schedule")
		}
		restored += len(snapshot)
	}
	if err := s.operations.MarkRolledBack(ctx, tx, op.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark operation rolled back")
	}
	if s.audit != nil {
		entry := &models.AuditLog{
			Action:     models.AuditActionSyncRollback,
			Resource:   "sync_operation",
			ResourceID: &op.ID,
		}
		if requestedBy != "" {
			entry.UserID = &requestedBy
		}
		if err := s.audit.Create(ctx, tx, entry); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write audit log")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit rollback")
	}

	s.logger.Info("sync operation rolled back",
		zap.String("operation_id", op.ID),
		zap.Int("sessions_restored", restored))
	return &dto.RollbackResult{Success: true, SessionsRestored: restored}, nil
}

// Operation returns one sync run.
func (s *TemplateSyncService) Operation(ctx context.Context, id string) (*models.SyncOperation, error) {
	op, err := s.operations.FindByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "sync operation not found")
	}
	return op, nil
}

// RunScheduled drains pending scheduled operations. The cron runner calls
// this on its tick.
func (s *TemplateSyncService) RunScheduled(ctx context.Context) error {
	due, err := s.operations.ListDueScheduled(ctx, 0)
	if err != nil {
		return fmt.Errorf("list due operations: %w", err)
	}
	for i := range due {
		op := &due[i]
		var changes []models.TemplateChange
		if err := json.Unmarshal(op.Changes, &changes); err != nil {
			s.logger.Error("skipping operation with corrupt change set", zap.String("operation_id", op.ID), zap.Error(err))
			continue
		}
		var policy models.SyncPolicy
		if err := json.Unmarshal(op.Policy, &policy); err != nil {
			s.logger.Error("skipping operation with corrupt policy", zap.String("operation_id", op.ID), zap.Error(err))
			continue
		}

		op.Status = models.SyncStatusRunning
		if _, err := s.run(ctx, op, changes, policy, dto.SyncExecuteOptions{}); err != nil {
			s.logger.Error("scheduled sync run failed", zap.String("operation_id", op.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *TemplateSyncService) notifyCompletion(op *models.SyncOperation) {
	event := notify.Event{
		Type:    notify.EventSyncCompleted,
		Subject: "Program template synchronization finished",
		Body:    fmt.Sprintf("Template %s synchronized with status %s across %d enrollments.", op.TemplateID, op.Status, op.AffectedEnrollments),
		Meta: map[string]string{
			"operation_id": op.ID,
			"template_id":  op.TemplateID,
			"status":       string(op.Status),
		},
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Send(ctx, event); err != nil {
			s.logger.Warn("sync notification failed", zap.Error(err))
		}
	}()
}

func batchEnrollments(enrollments []models.Enrollment, size int) [][]models.Enrollment {
	var batches [][]models.Enrollment
	for start := 0; start < len(enrollments); start += size {
		end := start + size
		if end > len(enrollments) {
			end = len(enrollments)
		}
		batches = append(batches, enrollments[start:end])
	}
	return batches
}

func asInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func asStrings(value interface{}) ([]string, bool) {
	switch v := value.(type) {
	case []string:
		return v, true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	default:
		return nil, false
	}
}
