package dto

import "github.com/carewell/scheduling-api/internal/models"

// Synchronization modes.
const (
	SyncModeFull        = "full"
	SyncModeIncremental = "incremental"
)

// SharedActivityPayload defines a recurring group session.
type SharedActivityPayload struct {
	Name            string   `json:"name" validate:"required"`
	DayOfWeek       string   `json:"dayOfWeek" validate:"required,oneof=monday tuesday wednesday thursday friday saturday sunday"`
	StartTime       string   `json:"startTime" validate:"required,len=5"`
	DurationMinutes int      `json:"durationMinutes" validate:"required,min=1"`
	MinParticipants int      `json:"minParticipants" validate:"omitempty,min=1"`
	MaxParticipants int      `json:"maxParticipants" validate:"required,min=1"`
	TherapistIDs    []string `json:"therapistIds" validate:"required,min=1"`
	RoomID          string   `json:"roomId" validate:"required"`
}

// CreateCohortRequest groups enrollments under shared activities.
type CreateCohortRequest struct {
	Name          string                  `json:"name" validate:"required"`
	TemplateID    string                  `json:"templateId" validate:"required"`
	EnrollmentIDs []string                `json:"enrollmentIds" validate:"required,min=1"`
	Activities    []SharedActivityPayload `json:"activities" validate:"omitempty,dive"`
	CreatedBy     string                  `json:"createdBy" validate:"required"`
}

// GenerateCohortScheduleRequest builds the cohort's combined schedule.
type GenerateCohortScheduleRequest struct {
	From                      string `json:"from" validate:"required"`
	To                        string `json:"to" validate:"required"`
	IncludeIndividualSessions bool   `json:"includeIndividualSessions"`
}

// CohortScheduleStats summarises one generation run.
type CohortScheduleStats struct {
	SharedCount     int `json:"sharedCount"`
	IndividualCount int `json:"individualCount"`
	MemberCount     int `json:"memberCount"`
	ConflictCount   int `json:"conflictCount"`
}

// CohortScheduleResult is the union of shared and per-member slots.
type CohortScheduleResult struct {
	SharedSessions     []models.SessionSlot      `json:"sharedSessions"`
	IndividualSessions []models.SessionSlot      `json:"individualSessions"`
	Conflicts          []models.ScheduleConflict `json:"conflicts,omitempty"`
	Stats              CohortScheduleStats       `json:"stats"`
}

// AddMemberRequest joins an enrollment into a cohort.
type AddMemberRequest struct {
	EnrollmentID         string `json:"enrollmentId" validate:"required"`
	GenerateSchedule     bool   `json:"generateSchedule"`
	AutoResolveConflicts bool   `json:"autoResolveConflicts"`
}

// RemoveMemberRequest removes an enrollment from a cohort.
type RemoveMemberRequest struct {
	EnrollmentID           string `json:"enrollmentId" validate:"required"`
	KeepIndividualSessions bool   `json:"keepIndividualSessions"`
	CancelSharedSessions   bool   `json:"cancelSharedSessions"`
}

// SynchronizeRequest reconciles member schedules with shared activities.
type SynchronizeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=full incremental"`
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

// SynchronizeResult reports reconciliation work performed.
type SynchronizeResult struct {
	Mode             string `json:"mode"`
	SessionsRebuilt  int    `json:"sessionsRebuilt"`
	DriftingSessions int    `json:"driftingSessions"`
}

// CohortAnalyticsQuery bounds the analytics period.
type CohortAnalyticsQuery struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}
