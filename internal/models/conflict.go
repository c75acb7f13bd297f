package models

import "time"

// ConflictType names the contended resource dimension.
type ConflictType string

const (
	ConflictTypeTherapist ConflictType = "therapist"
	ConflictTypeRoom      ConflictType = "room"
	ConflictTypeStudent   ConflictType = "student"
)

// ScheduleConflict is a detected overlap cluster. Conflicts are derived views
// over slot state, recomputed on demand and never persisted as source of
// truth. The ID is deterministic for an unmodified slot set.
type ScheduleConflict struct {
	ID           string            `json:"id"`
	Type         ConflictType      `json:"type"`
	EntityID     string            `json:"entity_id"`
	Date         time.Time         `json:"date"`
	Slots        []SessionSlot     `json:"slots"`
	Alternatives []AlternativeSlot `json:"alternatives,omitempty"`
}

// AlternativeSlot is a suggested replacement placement for a conflicting slot.
type AlternativeSlot struct {
	SlotID      string    `json:"slot_id"`
	Date        time.Time `json:"date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	TherapistID string    `json:"therapist_id"`
	RoomID      string    `json:"room_id"`
}

// SlotConflictError is returned when a requested placement would violate the
// no-double-booking invariant and no force override was supplied.
type SlotConflictError struct {
	Message   string             `json:"message"`
	Conflicts []ScheduleConflict `json:"conflicts"`
}

// Error implements the error interface.
func (e *SlotConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Message
}

// SlotIDs lists every slot involved across the carried conflicts.
func (e *SlotConflictError) SlotIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, conflict := range e.Conflicts {
		for _, slot := range conflict.Slots {
			if _, ok := seen[slot.ID]; ok {
				continue
			}
			seen[slot.ID] = struct{}{}
			ids = append(ids, slot.ID)
		}
	}
	return ids
}

// ConflictPatternReport aggregates conflict statistics over a date window.
type ConflictPatternReport struct {
	From                  time.Time            `json:"from"`
	To                    time.Time            `json:"to"`
	TotalConflicts        int                  `json:"total_conflicts"`
	CountsByType          map[ConflictType]int `json:"counts_by_type"`
	PeakHours             []HourBucket         `json:"peak_hours"`
	ResolutionSuccessRate float64              `json:"resolution_success_rate"`
	GeneratedAt           time.Time            `json:"generated_at"`
}

// HourBucket counts conflicts whose slots start within a clock hour.
type HourBucket struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// ResolutionRecord captures one conflict resolution attempt for the pattern
// report's success-rate aggregate.
type ResolutionRecord struct {
	ID         string       `db:"id" json:"id"`
	ConflictID string       `db:"conflict_id" json:"conflict_id"`
	Strategy   string       `db:"strategy" json:"strategy"`
	Succeeded  bool         `db:"succeeded" json:"succeeded"`
	Reason     string       `db:"reason" json:"reason"`
	Type       ConflictType `db:"conflict_type" json:"conflict_type"`
	ResolvedAt time.Time    `db:"resolved_at" json:"resolved_at"`
}
