package dto

import "github.com/carewell/scheduling-api/internal/models"

// CustomSchedulePayload carries the per-enrollment scheduling parameters.
type CustomSchedulePayload struct {
	SessionsPerWeek        int      `json:"sessionsPerWeek" validate:"omitempty,min=0"`
	SessionDurationMinutes int      `json:"sessionDurationMinutes" validate:"omitempty,min=0"`
	PreferredDays          []string `json:"preferredDays" validate:"omitempty,dive,oneof=monday tuesday wednesday thursday friday saturday sunday"`
	PreferredTimes         []string `json:"preferredTimes" validate:"omitempty,dive,len=5"`
}

// GeneratorOptions tune a single generation run. Nil pointers fall back to
// the configured defaults.
type GeneratorOptions struct {
	AvoidHolidays *bool `json:"avoidHolidays,omitempty"`
	AllowWeekends *bool `json:"allowWeekends,omitempty"`
}

// GenerateCalendarRequest instructs the generator to build session slots for
// an enrollment date range.
type GenerateCalendarRequest struct {
	EnrollmentID string                `json:"enrollmentId" validate:"required"`
	TherapistID  string                `json:"therapistId" validate:"required"`
	RoomID       string                `json:"roomId"`
	StartDate    string                `json:"startDate" validate:"required"`
	EndDate      string                `json:"endDate" validate:"required"`
	Schedule     CustomSchedulePayload `json:"schedule"`
	Options      GeneratorOptions      `json:"options"`
}

// GenerateCalendarResponse returns the generated slot sequence.
type GenerateCalendarResponse struct {
	EnrollmentID string               `json:"enrollmentId"`
	Slots        []models.SessionSlot `json:"slots"`
	Count        int                  `json:"count"`
}
