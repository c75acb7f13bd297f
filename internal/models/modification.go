package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// ModificationType enumerates supported lifecycle changes.
type ModificationType string

const (
	ModificationTypeReschedule      ModificationType = "reschedule"
	ModificationTypePause           ModificationType = "pause"
	ModificationTypeResume          ModificationType = "resume"
	ModificationTypeIntensityChange ModificationType = "intensity_change"
	ModificationTypeExtendDuration  ModificationType = "extend_duration"
)

// ModificationRequest is an immutable record of a requested schedule change.
// The Details payload is a tagged variant keyed by Type.
type ModificationRequest struct {
	ID            string           `db:"id" json:"id"`
	EnrollmentID  string           `db:"enrollment_id" json:"enrollment_id"`
	Type          ModificationType `db:"type" json:"type"`
	EffectiveDate time.Time        `db:"effective_date" json:"effective_date"`
	RequestedBy   string           `db:"requested_by" json:"requested_by"`
	Reason        string           `db:"reason" json:"reason"`
	Details       types.JSONText   `db:"details" json:"details"`
	Success       bool             `db:"success" json:"success"`
	Outcome       types.JSONText   `db:"outcome" json:"outcome"`
	CreatedAt     time.Time        `db:"created_at" json:"created_at"`
}

// ModificationResult summarises the applied change.
type ModificationResult struct {
	Success       bool       `json:"success"`
	AffectedSlots int        `json:"affected_slots"`
	NewEndDate    *time.Time `json:"new_end_date,omitempty"`
	ResumeDate    *time.Time `json:"resume_date,omitempty"`
	Message       string     `json:"message,omitempty"`
}

// SlotMove reassigns one slot to a new placement.
type SlotMove struct {
	SlotID    string `json:"slot_id"`
	NewDate   string `json:"new_date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// RescheduleDetails moves specific slots to new placements.
type RescheduleDetails struct {
	Moves []SlotMove `json:"moves"`
	Force bool       `json:"force"`
}

// PauseDetails suspends an enrollment's schedule for a number of weeks.
type PauseDetails struct {
	DurationWeeks        int  `json:"duration_weeks"`
	CancelSessions       bool `json:"cancel_sessions_during_pause"`
	CreateMakeupSessions bool `json:"create_makeup_sessions"`
}

// ResumeDetails restarts a paused enrollment.
type ResumeDetails struct {
	ApplyMakeupSessions bool `json:"apply_makeup_sessions"`
}

// IntensityChangeDetails replaces the custom schedule from the effective date.
type IntensityChangeDetails struct {
	SessionsPerWeek        int      `json:"sessions_per_week"`
	SessionDurationMinutes int      `json:"session_duration_minutes"`
	PreferredDays          []string `json:"preferred_days,omitempty"`
	PreferredTimes         []string `json:"preferred_times,omitempty"`
}

// ExtendDurationDetails pushes the enrollment end date forward.
type ExtendDurationDetails struct {
	ExtensionWeeks          int  `json:"extension_weeks"`
	MaintainCurrentSchedule bool `json:"maintain_current_schedule"`
	ProrateFees             bool `json:"prorate_fees"`
}
