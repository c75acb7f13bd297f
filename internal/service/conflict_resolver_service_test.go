package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carewell/scheduling-api/internal/dto"
	"github.com/carewell/scheduling-api/internal/models"
)

type resolverFixture struct {
	service     *ConflictResolverService
	source      *conflictSourceStub
	slots       *slotStoreStub
	resolutions *resolutionStoreStub
	cache       *cacheStub
	tx          *txMock
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	source := &conflictSourceStub{}
	slots := newSlotStoreStub()
	resolutions := &resolutionStoreStub{}
	cache := newCacheStub()
	tx := newTxMock(t)
	service := NewConflictResolverService(source, slots, resolutions, cache, tx, nil, nil, ResolverConfig{
		LookaheadDays:   14,
		BulkConcurrency: 1,
	})
	return &resolverFixture{service: service, source: source, slots: slots, resolutions: resolutions, cache: cache, tx: tx}
}

func therapistConflict(id, therapistID string, slots ...models.SessionSlot) models.ScheduleConflict {
	return models.ScheduleConflict{
		ID:       id,
		Type:     models.ConflictTypeTherapist,
		EntityID: therapistID,
		Date:     slots[0].Date,
		Slots:    slots,
	}
}

func TestSuggestResolutionsFindsNextFreeDay(t *testing.T) {
	fixture := newResolverFixture(t)
	date := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	first := fixture.slots.add(individualSlot("s1", "enr-1", "ther-1", "room-1", date, "10:00", "11:00"))
	second := fixture.slots.add(individualSlot("s2", "enr-2", "ther-1", "room-1", date, "10:30", "11:30"))

	alternatives, err := fixture.service.SuggestResolutions(context.Background(),
		therapistConflict("c1", "ther-1", first, second), dto.ResolutionParams{})

	require.NoError(t, err)
	require.Len(t, alternatives, 1)
	assert.Equal(t, "s2", alternatives[0].SlotID)
	assert.Equal(t, "2025-02-04", alternatives[0].Date.Format(models.DateLayout))
	assert.Equal(t, "10:30", alternatives[0].StartTime)
	assert.Equal(t, "11:30", alternatives[0].EndTime)
}

func TestBulkResolveItemizesFailures(t *testing.T) {
	fixture := newResolverFixture(t)
	date := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)

	a1 := fixture.slots.add(individualSlot("a1", "enr-1", "ther-1", "room-1", date, "10:00", "11:00"))
	a2 := fixture.slots.add(individualSlot("a2", "enr-2", "ther-1", "room-1", date, "10:30", "11:30"))

	b1 := fixture.slots.add(individualSlot("b1", "enr-3", "ther-9", "room-9", date, "10:00", "11:00"))
	b2 := fixture.slots.add(individualSlot("b2", "enr-4", "ther-9", "room-9", date, "10:30", "11:30"))
	// Block ther-9 across the whole lookahead day so b2 cannot move.
	fixture.slots.add(individualSlot("blk", "enr-5", "ther-9", "room-8", date.AddDate(0, 0, 1), "09:00", "18:00"))

	fixture.source.conflicts = []models.ScheduleConflict{
		therapistConflict("c1", "ther-1", a1, a2),
		therapistConflict("c2", "ther-9", b1, b2),
	}

	fixture.tx.mock.ExpectBegin()
	fixture.tx.mock.ExpectCommit()
	fixture.tx.mock.ExpectBegin()
	fixture.tx.mock.ExpectRollback()

	result, err := fixture.service.BulkResolve(context.Background(), dto.BulkResolveRequest{
		ConflictIDs: []string{"c1", "c2", "ghost"},
		From:        "2025-02-01",
		To:          "2025-02-07",
		Strategy:    dto.StrategyReschedule,
		Params:      dto.ResolutionParams{LookaheadDays: 1},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, result.Resolved)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, "c2", result.Failed[0].ConflictID)
	assert.Contains(t, result.Failed[0].Reason, "no free placement")
	assert.Equal(t, "ghost", result.Failed[1].ConflictID)
	assert.Equal(t, "conflict no longer present in the window", result.Failed[1].Reason)

	moved := fixture.slots.slots["a2"]
	assert.Equal(t, "2025-02-04", moved.Date.Format(models.DateLayout))

	// Both attempted conflicts are recorded; the stale id is not.
	require.Len(t, fixture.resolutions.records, 2)
	outcomes := map[string]bool{}
	for _, record := range fixture.resolutions.records {
		outcomes[record.ConflictID] = record.Succeeded
	}
	assert.True(t, outcomes["c1"])
	assert.False(t, outcomes["c2"])
	require.NoError(t, fixture.tx.mock.ExpectationsWereMet())
}

func TestBulkResolveReassignsTherapistFromPool(t *testing.T) {
	fixture := newResolverFixture(t)
	date := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	a1 := fixture.slots.add(individualSlot("a1", "enr-1", "ther-1", "room-1", date, "10:00", "11:00"))
	a2 := fixture.slots.add(individualSlot("a2", "enr-2", "ther-1", "room-2", date, "10:30", "11:30"))
	fixture.source.conflicts = []models.ScheduleConflict{therapistConflict("c1", "ther-1", a1, a2)}

	fixture.tx.expectTx()

	result, err := fixture.service.BulkResolve(context.Background(), dto.BulkResolveRequest{
		ConflictIDs: []string{"c1"},
		From:        "2025-02-01",
		To:          "2025-02-07",
		Strategy:    dto.StrategyReassignTherapist,
		Params:      dto.ResolutionParams{TherapistPool: []string{"ther-1", "ther-2"}},
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, result.Resolved)
	assert.Empty(t, result.Failed)
	assert.Equal(t, "ther-2", fixture.slots.slots["a2"].TherapistID)
}

func TestBulkResolveReassignRoomRequiresPool(t *testing.T) {
	fixture := newResolverFixture(t)
	date := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	a1 := fixture.slots.add(individualSlot("a1", "enr-1", "ther-1", "room-1", date, "10:00", "11:00"))
	a2 := fixture.slots.add(individualSlot("a2", "enr-2", "ther-2", "room-1", date, "10:30", "11:30"))
	fixture.source.conflicts = []models.ScheduleConflict{{
		ID:       "c1",
		Type:     models.ConflictTypeRoom,
		EntityID: "room-1",
		Date:     date,
		Slots:    []models.SessionSlot{a1, a2},
	}}

	fixture.tx.mock.ExpectBegin()
	fixture.tx.mock.ExpectRollback()

	result, err := fixture.service.BulkResolve(context.Background(), dto.BulkResolveRequest{
		ConflictIDs: []string{"c1"},
		From:        "2025-02-01",
		To:          "2025-02-07",
		Strategy:    dto.StrategyReassignRoom,
	})

	require.NoError(t, err)
	assert.Empty(t, result.Resolved)
	require.Len(t, result.Failed, 1)
	assert.Contains(t, result.Failed[0].Reason, "room pool")
}

func TestAnalyzePatternsAggregatesAndCaches(t *testing.T) {
	fixture := newResolverFixture(t)
	date := time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)
	a1 := individualSlot("a1", "enr-1", "ther-1", "room-1", date, "10:00", "11:00")
	a2 := individualSlot("a2", "enr-2", "ther-1", "room-2", date, "10:30", "11:30")
	b1 := individualSlot("b1", "enr-3", "ther-2", "room-3", date, "14:00", "15:00")
	b2 := individualSlot("b2", "enr-4", "ther-3", "room-3", date, "14:30", "15:30")
	fixture.source.conflicts = []models.ScheduleConflict{
		therapistConflict("c1", "ther-1", a1, a2),
		{ID: "c2", Type: models.ConflictTypeRoom, EntityID: "room-3", Date: date, Slots: []models.SessionSlot{b1, b2}},
	}
	fixture.resolutions.records = []models.ResolutionRecord{
		{ConflictID: "c1", Succeeded: true},
		{ConflictID: "c2", Succeeded: false},
	}

	query := dto.PatternQuery{From: "2025-02-01", To: "2025-02-07"}
	report, err := fixture.service.AnalyzePatterns(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalConflicts)
	assert.Equal(t, 1, report.CountsByType[models.ConflictTypeTherapist])
	assert.Equal(t, 1, report.CountsByType[models.ConflictTypeRoom])
	assert.InDelta(t, 0.5, report.ResolutionSuccessRate, 0.0001)
	require.NotEmpty(t, report.PeakHours)
	assert.Equal(t, 10, report.PeakHours[0].Hour)
	assert.Equal(t, 2, report.PeakHours[0].Count)

	// The second call serves the cached report even after the source moves.
	fixture.source.conflicts = nil
	cached, err := fixture.service.AnalyzePatterns(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, 2, cached.TotalConflicts)
}
