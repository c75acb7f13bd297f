package models

import (
	"time"

	"github.com/lib/pq"
)

// CohortStatus is the group lifecycle state.
type CohortStatus string

const (
	CohortStatusActive    CohortStatus = "active"
	CohortStatusDissolved CohortStatus = "dissolved"
)

// Cohort is a named group of enrollments sharing recurring group activities.
type Cohort struct {
	ID         string       `db:"id" json:"id"`
	Name       string       `db:"name" json:"name"`
	TemplateID string       `db:"template_id" json:"template_id"`
	Status     CohortStatus `db:"status" json:"status"`
	CreatedBy  string       `db:"created_by" json:"created_by"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at" json:"updated_at"`
}

// CohortMember links an enrollment to a cohort. LeftAt marks removal without
// erasing the membership history.
type CohortMember struct {
	CohortID     string     `db:"cohort_id" json:"cohort_id"`
	EnrollmentID string     `db:"enrollment_id" json:"enrollment_id"`
	JoinedAt     time.Time  `db:"joined_at" json:"joined_at"`
	LeftAt       *time.Time `db:"left_at" json:"left_at,omitempty"`
}

// SharedActivity is a recurring group-session template owned by a cohort.
type SharedActivity struct {
	ID              string         `db:"id" json:"id"`
	CohortID        string         `db:"cohort_id" json:"cohort_id"`
	Name            string         `db:"name" json:"name"`
	DayOfWeek       string         `db:"day_of_week" json:"day_of_week"`
	StartTime       string         `db:"start_time" json:"start_time"`
	DurationMinutes int            `db:"duration_minutes" json:"duration_minutes"`
	MinParticipants int            `db:"min_participants" json:"min_participants"`
	MaxParticipants int            `db:"max_participants" json:"max_participants"`
	TherapistIDs    pq.StringArray `db:"therapist_ids" json:"therapist_ids"`
	RoomID          string         `db:"room_id" json:"room_id"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// ActivityAttendance records one member's participation in one shared slot.
type ActivityAttendance struct {
	ID           string     `db:"id" json:"id"`
	SlotID       string     `db:"slot_id" json:"slot_id"`
	EnrollmentID string     `db:"enrollment_id" json:"enrollment_id"`
	Status       SlotStatus `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// CohortAnalytics aggregates read-only engagement numbers over a period.
type CohortAnalytics struct {
	CohortID           string             `json:"cohort_id"`
	From               time.Time          `json:"from"`
	To                 time.Time          `json:"to"`
	AttendanceRate     float64            `json:"attendance_rate"`
	ActivityBreakdown  map[string]float64 `json:"activity_breakdown"`
	MemberEngagement   map[string]float64 `json:"member_engagement"`
	ScheduleEfficiency float64            `json:"schedule_efficiency"`
	ConflictRate       float64            `json:"conflict_rate"`
	GeneratedAt        time.Time          `json:"generated_at"`
}
