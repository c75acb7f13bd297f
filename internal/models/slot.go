package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SlotStatus is the lifecycle state of a session slot. Slots are never
// deleted, only status-transitioned, so the audit trail stays intact.
type SlotStatus string

const (
	SlotStatusScheduled       SlotStatus = "scheduled"
	SlotStatusCompleted       SlotStatus = "completed"
	SlotStatusCancelled       SlotStatus = "cancelled"
	SlotStatusMakeupNeeded    SlotStatus = "makeup_needed"
	SlotStatusMakeupScheduled SlotStatus = "makeup_scheduled"
)

// SessionType distinguishes individual from cohort shared sessions.
type SessionType string

const (
	SessionTypeIndividual SessionType = "individual"
	SessionTypeShared     SessionType = "shared"
)

// SessionSlot is the atomic schedulable unit. Exactly one of EnrollmentID or
// SharedActivityID is set.
type SessionSlot struct {
	ID               string      `db:"id" json:"id"`
	EnrollmentID     *string     `db:"enrollment_id" json:"enrollment_id,omitempty"`
	SharedActivityID *string     `db:"shared_activity_id" json:"shared_activity_id,omitempty"`
	TherapistID      string      `db:"therapist_id" json:"therapist_id"`
	RoomID           string      `db:"room_id" json:"room_id"`
	Date             time.Time   `db:"date" json:"date"`
	StartTime        string      `db:"start_time" json:"start_time"`
	EndTime          string      `db:"end_time" json:"end_time"`
	SessionType      SessionType `db:"session_type" json:"session_type"`
	Status           SlotStatus  `db:"status" json:"status"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
}

// Occupies reports whether the slot holds its therapist/room resources.
// Cancelled and makeup-needed slots release their resources.
func (s SessionSlot) Occupies() bool {
	switch s.Status {
	case SlotStatusScheduled, SlotStatusCompleted, SlotStatusMakeupScheduled:
		return true
	default:
		return false
	}
}

// Overlaps reports whether two slots collide in time on the same date using
// half-open [start, end) semantics; boundary-touching slots do not overlap.
func (s SessionSlot) Overlaps(other SessionSlot) bool {
	if !sameDate(s.Date, other.Date) {
		return false
	}
	aStart, aEnd := s.Minutes()
	bStart, bEnd := other.Minutes()
	return aStart < bEnd && bStart < aEnd
}

// Minutes returns the slot's start and end as minutes since midnight.
func (s SessionSlot) Minutes() (int, int) {
	return ClockToMinutes(s.StartTime), ClockToMinutes(s.EndTime)
}

// OwnerID returns the id of the schedule-owning entity.
func (s SessionSlot) OwnerID() string {
	if s.EnrollmentID != nil {
		return *s.EnrollmentID
	}
	if s.SharedActivityID != nil {
		return *s.SharedActivityID
	}
	return ""
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// ClockToMinutes parses an "HH:MM" clock value into minutes since midnight.
// Malformed values map to -1 so they never overlap anything.
func ClockToMinutes(clock string) int {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return -1
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return -1
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return -1
	}
	return hours*60 + minutes
}

// MinutesToClock formats minutes since midnight as "HH:MM".
func MinutesToClock(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	minutes = minutes % (24 * 60)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// SlotFilter narrows slot range queries.
type SlotFilter struct {
	EnrollmentID     string
	SharedActivityID string
	TherapistID      string
	RoomID           string
	From             *time.Time
	To               *time.Time
	Statuses         []SlotStatus
}
