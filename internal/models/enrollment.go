package models

import (
	"time"

	"github.com/lib/pq"
)

// ScheduleState represents the lifecycle of an enrollment's schedule.
type ScheduleState string

// Possible schedule states.
const (
	ScheduleStateActive   ScheduleState = "active"
	ScheduleStatePaused   ScheduleState = "paused"
	ScheduleStateModified ScheduleState = "modified"
	ScheduleStateExtended ScheduleState = "extended"
	ScheduleStateArchived ScheduleState = "archived"
)

// Enrollment registers a student into a therapy program. It owns exactly one
// active CustomSchedule version and may belong to at most one active cohort.
type Enrollment struct {
	ID              string        `db:"id" json:"id"`
	StudentID       string        `db:"student_id" json:"student_id"`
	TemplateID      string        `db:"template_id" json:"template_id"`
	TherapistID     string        `db:"therapist_id" json:"therapist_id"`
	StartDate       time.Time     `db:"start_date" json:"start_date"`
	EndDate         time.Time     `db:"end_date" json:"end_date"`
	State           ScheduleState `db:"state" json:"state"`
	CohortID        *string       `db:"cohort_id" json:"cohort_id,omitempty"`
	PauseStart      *time.Time    `db:"pause_start" json:"pause_start,omitempty"`
	ResumeDate      *time.Time    `db:"resume_date" json:"resume_date,omitempty"`
	ScheduleVersion int           `db:"schedule_version" json:"schedule_version"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// CustomSchedule is an immutable versioned snapshot of an enrollment's
// scheduling parameters. Each modification inserts a new version; prior
// versions are retained for audit.
type CustomSchedule struct {
	ID                     string         `db:"id" json:"id"`
	EnrollmentID           string         `db:"enrollment_id" json:"enrollment_id"`
	Version                int            `db:"version" json:"version"`
	SessionsPerWeek        int            `db:"sessions_per_week" json:"sessions_per_week"`
	SessionDurationMinutes int            `db:"session_duration_minutes" json:"session_duration_minutes"`
	PreferredDays          pq.StringArray `db:"preferred_days" json:"preferred_days"`
	PreferredTimes         pq.StringArray `db:"preferred_times" json:"preferred_times"`
	CreatedAt              time.Time      `db:"created_at" json:"created_at"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID  string
	TemplateID string
	CohortID   string
	State      ScheduleState
	Page       int
	PageSize   int
}
