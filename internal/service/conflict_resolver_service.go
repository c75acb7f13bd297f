package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/carewell/scheduling-api/internal/dto"
	"github.com/carewell/scheduling-api/internal/models"
	appErrors "github.com/carewell/scheduling-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type resolverConflictSource interface {
	DetectRange(ctx context.Context, from, to time.Time) ([]models.ScheduleConflict, error)
}

type resolverSlotStore interface {
	ListRange(ctx context.Context, filter models.SlotFilter) ([]models.SessionSlot, error)
	UpdatePlacement(ctx context.Context, exec sqlx.ExtContext, id string, date time.Time, startTime, endTime string) error
	UpdateTherapist(ctx context.Context, exec sqlx.ExtContext, id, therapistID string) error
	UpdateRoom(ctx context.Context, exec sqlx.ExtContext, id, roomID string) error
}

type resolutionStore interface {
	Record(ctx context.Context, exec sqlx.ExtContext, record *models.ResolutionRecord) error
	SuccessRate(ctx context.Context, from, to time.Time) (attempted int, succeeded int, err error)
}

type patternCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ConflictResolverService suggests alternative placements for conflicting
// slots and applies resolution strategies in bulk.
type ConflictResolverService struct {
	conflicts   resolverConflictSource
	slots       resolverSlotStore
	resolutions resolutionStore
	cache       patternCache
	tx          txProvider
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         ResolverConfig
}

// ResolverConfig tunes the alternative search and bulk fan-out.
type ResolverConfig struct {
	LookaheadDays   int
	BulkConcurrency int
	PatternCacheTTL time.Duration
}

// NewConflictResolverService wires the resolver's dependencies.
func NewConflictResolverService(
	conflicts resolverConflictSource,
	slots resolverSlotStore,
	resolutions resolutionStore,
	cache patternCache,
	tx txProvider,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg ResolverConfig,
) *ConflictResolverService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LookaheadDays <= 0 {
		cfg.LookaheadDays = 14
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = 4
	}
	if cfg.PatternCacheTTL <= 0 {
		cfg.PatternCacheTTL = 10 * time.Minute
	}
	return &ConflictResolverService{
		conflicts:   conflicts,
		slots:       slots,
		resolutions: resolutions,
		cache:       cache,
		tx:          tx,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// SuggestResolutions proposes alternative placements for every slot in the
// cluster except the first, which keeps its original position. The search
// walks forward day by day within the lookahead window and stops at the
// first free placement per slot.
func (s *ConflictResolverService) SuggestResolutions(ctx context.Context, conflict models.ScheduleConflict, params dto.ResolutionParams) ([]models.AlternativeSlot, error) {
	lookahead := params.LookaheadDays
	if lookahead <= 0 {
		lookahead = s.cfg.LookaheadDays
	}

	var alternatives []models.AlternativeSlot
	for _, slot := range conflict.Slots[1:] {
		alternative, found, err := s.findAlternative(ctx, slot, lookahead)
		if err != nil {
			return nil, err
		}
		if found {
			alternatives = append(alternatives, alternative)
		}
	}
	return alternatives, nil
}

func (s *ConflictResolverService) findAlternative(ctx context.Context, slot models.SessionSlot, lookaheadDays int) (models.AlternativeSlot, bool, error) {
	start, end := slot.Minutes()
	if start < 0 || end < 0 {
		return models.AlternativeSlot{}, false, nil
	}
	duration := end - start

	for offset := 1; offset <= lookaheadDays; offset++ {
		date := slot.Date.AddDate(0, 0, offset)
		free, err := s.placementFree(ctx, slot.TherapistID, slot.RoomID, date, start, end, slot.ID)
		if err != nil {
			return models.AlternativeSlot{}, false, err
		}
		if free {
			return models.AlternativeSlot{
				SlotID:      slot.ID,
				Date:        date,
				StartTime:   slot.StartTime,
				EndTime:     models.MinutesToClock(start + duration),
				TherapistID: slot.TherapistID,
				RoomID:      slot.RoomID,
			}, true, nil
		}
	}
	return models.AlternativeSlot{}, false, nil
}

var occupyingStatuses = []models.SlotStatus{
	models.SlotStatusScheduled,
	models.SlotStatusCompleted,
	models.SlotStatusMakeupScheduled,
}

// placementFree reports whether therapist and room are both clear of
// occupying slots in the half-open window on the given date.
func (s *ConflictResolverService) placementFree(ctx context.Context, therapistID, roomID string, date time.Time, startMinutes, endMinutes int, excludeSlotID string) (bool, error) {
	check := func(filter models.SlotFilter) (bool, error) {
		existing, err := s.slots.ListRange(ctx, filter)
		if err != nil {
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slots")
		}
		for _, other := range existing {
			if other.ID == excludeSlotID {
				continue
			}
			otherStart, otherEnd := other.Minutes()
			if startMinutes < otherEnd && otherStart < endMinutes {
				return false, nil
			}
		}
		return true, nil
	}

	if therapistID != "" {
		free, err := check(models.SlotFilter{TherapistID: therapistID, From: &date, To: &date, Statuses: occupyingStatuses})
		if err != nil || !free {
			return false, err
		}
	}
	if roomID != "" {
		free, err := check(models.SlotFilter{RoomID: roomID, From: &date, To: &date, Statuses: occupyingStatuses})
		if err != nil || !free {
			return false, err
		}
	}
	return true, nil
}

// BulkResolve applies one strategy to many conflicts. Each conflict resolves
// independently under a bounded worker fan-out; a failed item never aborts
// the rest of the batch.
func (s *ConflictResolverService) BulkResolve(ctx context.Context, req dto.BulkResolveRequest) (*dto.BulkResolveResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk resolve payload")
	}
	from, err := time.ParseInLocation(models.DateLayout, req.From, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from must be formatted YYYY-MM-DD")
	}
	to, err := time.ParseInLocation(models.DateLayout, req.To, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to must be formatted YYYY-MM-DD")
	}

	detected, err := s.conflicts.DetectRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.ScheduleConflict, len(detected))
	for _, conflict := range detected {
		byID[conflict.ID] = conflict
	}

	result := &dto.BulkResolveResult{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.BulkConcurrency)

	for _, conflictID := range req.ConflictIDs {
		conflict, ok := byID[conflictID]
		if !ok {
			result.Failed = append(result.Failed, dto.BulkResolveFailure{
				ConflictID: conflictID,
				Reason:     "conflict no longer present in the window",
			})
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(conflict models.ScheduleConflict) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.resolveOne(ctx, conflict, req.Strategy, req.Params)
			s.recordResolution(ctx, conflict, req.Strategy, err)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, dto.BulkResolveFailure{
					ConflictID: conflict.ID,
					Reason:     err.Error(),
				})
			} else {
				result.Resolved = append(result.Resolved, conflict.ID)
			}
		}(conflict)
	}
	wg.Wait()

	sort.Strings(result.Resolved)
	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i].ConflictID < result.Failed[j].ConflictID })

	s.logger.Info("bulk resolution finished",
		zap.String("strategy", req.Strategy),
		zap.Int("resolved", len(result.Resolved)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

func (s *ConflictResolverService) resolveOne(ctx context.Context, conflict models.ScheduleConflict, strategy string, params dto.ResolutionParams) error {
	if len(conflict.Slots) < 2 {
		return fmt.Errorf("conflict %s has nothing to resolve", conflict.ID)
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin resolution transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	switch strategy {
	case dto.StrategyReschedule:
		err = s.applyReschedule(ctx, tx, conflict, params)
	case dto.StrategyReassignTherapist:
		err = s.applyReassignTherapist(ctx, tx, conflict, params)
	case dto.StrategyReassignRoom:
		err = s.applyReassignRoom(ctx, tx, conflict, params)
	default:
		err = fmt.Errorf("unknown strategy %q", strategy)
	}
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit resolution: %w", err)
	}
	return nil
}

func (s *ConflictResolverService) applyReschedule(ctx context.Context, tx *sqlx.Tx, conflict models.ScheduleConflict, params dto.ResolutionParams) error {
	lookahead := params.LookaheadDays
	if lookahead <= 0 {
		lookahead = s.cfg.LookaheadDays
	}
	for _, slot := range conflict.Slots[1:] {
		alternative, found, err := s.findAlternative(ctx, slot, lookahead)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no free placement for slot %s within %d days", slot.ID, lookahead)
		}
		if err := s.slots.UpdatePlacement(ctx, tx, slot.ID, alternative.Date, alternative.StartTime, alternative.EndTime); err != nil {
			return err
		}
	}
	return nil
}

func (s *ConflictResolverService) applyReassignTherapist(ctx context.Context, tx *sqlx.Tx, conflict models.ScheduleConflict, params dto.ResolutionParams) error {
	if len(params.TherapistPool) == 0 {
		return fmt.Errorf("strategy %s requires a therapist pool", dto.StrategyReassignTherapist)
	}
	for _, slot := range conflict.Slots[1:] {
		start, end := slot.Minutes()
		assigned := false
		for _, candidate := range params.TherapistPool {
			if candidate == slot.TherapistID {
				continue
			}
			free, err := s.placementFree(ctx, candidate, "", slot.Date, start, end, slot.ID)
			if err != nil {
				return err
			}
			if free {
				if err := s.slots.UpdateTherapist(ctx, tx, slot.ID, candidate); err != nil {
					return err
				}
				assigned = true
				break
			}
		}
		if !assigned {
			return fmt.Errorf("no available therapist in pool for slot %s", slot.ID)
		}
	}
	return nil
}

func (s *ConflictResolverService) applyReassignRoom(ctx context.Context, tx *sqlx.Tx, conflict models.ScheduleConflict, params dto.ResolutionParams) error {
	if len(params.RoomPool) == 0 {
		return fmt.Errorf("strategy %s requires a room pool", dto.StrategyReassignRoom)
	}
	for _, slot := range conflict.Slots[1:] {
		start, end := slot.Minutes()
		assigned := false
		for _, candidate := range params.RoomPool {
			if candidate == slot.RoomID {
				continue
			}
			free, err := s.placementFree(ctx, "", candidate, slot.Date, start, end, slot.ID)
			if err != nil {
				return err
			}
			if free {
				if err := s.slots.UpdateRoom(ctx, tx, slot.ID, candidate); err != nil {
					return err
				}
				assigned = true
				break
			}
		}
		if !assigned {
			return fmt.Errorf("no available room in pool for slot %s", slot.ID)
		}
	}
	return nil
}

func (s *ConflictResolverService) recordResolution(ctx context.Context, conflict models.ScheduleConflict, strategy string, resolveErr error) {
	if s.resolutions == nil {
		return
	}
	record := &models.ResolutionRecord{
		ConflictID: conflict.ID,
		Strategy:   strategy,
		Succeeded:  resolveErr == nil,
		Type:       conflict.Type,
	}
	if resolveErr != nil {
		record.Reason = resolveErr.Error()
	}
	if err := s.resolutions.Record(ctx, nil, record); err != nil {
		s.logger.Warn("failed to record resolution attempt", zap.Error(err), zap.String("conflict_id", conflict.ID))
	}
}

// AnalyzePatterns aggregates conflict statistics over a window. Reports are
// cached; an unchanged window within the TTL serves the cached copy.
func (s *ConflictResolverService) AnalyzePatterns(ctx context.Context, query dto.PatternQuery) (*models.ConflictPatternReport, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pattern query")
	}
	from, err := time.ParseInLocation(models.DateLayout, query.From, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from must be formatted YYYY-MM-DD")
	}
	to, err := time.ParseInLocation(models.DateLayout, query.To, time.UTC)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to must be formatted YYYY-MM-DD")
	}

	cacheKey := fmt.Sprintf("conflicts:patterns:%s:%s", query.From, query.To)
	if s.cache != nil {
		var cached models.ConflictPatternReport
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	conflicts, err := s.conflicts.DetectRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	report := &models.ConflictPatternReport{
		From:           from,
		To:             to,
		TotalConflicts: len(conflicts),
		CountsByType:   make(map[models.ConflictType]int),
		GeneratedAt:    time.Now().UTC(),
	}
	hourCounts := make(map[int]int)
	for _, conflict := range conflicts {
		report.CountsByType[conflict.Type]++
		for _, slot := range conflict.Slots {
			if start := models.ClockToMinutes(slot.StartTime); start >= 0 {
				hourCounts[start/60]++
			}
		}
	}
	for hour, count := range hourCounts {
		report.PeakHours = append(report.PeakHours, models.HourBucket{Hour: hour, Count: count})
	}
	sort.Slice(report.PeakHours, func(i, j int) bool {
		if report.PeakHours[i].Count != report.PeakHours[j].Count {
			return report.PeakHours[i].Count > report.PeakHours[j].Count
		}
		return report.PeakHours[i].Hour < report.PeakHours[j].Hour
	})

	if s.resolutions != nil {
		attempted, succeeded, err := s.resolutions.SuccessRate(ctx, from, to.AddDate(0, 0, 1))
		if err != nil {
			s.logger.Warn("failed to compute resolution success rate", zap.Error(err))
		} else if attempted > 0 {
			report.ResolutionSuccessRate = float64(succeeded) / float64(attempted)
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, report, s.cfg.PatternCacheTTL); err != nil {
			s.logger.Warn("failed to cache pattern report", zap.Error(err))
		}
	}
	return report, nil
}
