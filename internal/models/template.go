package models

import (
	"time"

	"github.com/lib/pq"
)

// ProgramTemplate holds the base parameters enrollment and cohort schedules
// derive from. Templates are versioned; changes between versions drive the
// sync engine.
type ProgramTemplate struct {
	ID                         string         `db:"id" json:"id"`
	Name                       string         `db:"name" json:"name"`
	Version                    int            `db:"version" json:"version"`
	BaseSessionsPerWeek        int            `db:"base_sessions_per_week" json:"base_sessions_per_week"`
	BaseSessionDurationMinutes int            `db:"base_session_duration_minutes" json:"base_session_duration_minutes"`
	DurationWeeks              int            `db:"duration_weeks" json:"duration_weeks"`
	DefaultDays                pq.StringArray `db:"default_days" json:"default_days"`
	DefaultTimes               pq.StringArray `db:"default_times" json:"default_times"`
	CreatedAt                  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt                  time.Time      `db:"updated_at" json:"updated_at"`
}

// ImpactLevel classifies how disruptive a template field change is.
type ImpactLevel string

const (
	ImpactLow    ImpactLevel = "low"
	ImpactMedium ImpactLevel = "medium"
	ImpactHigh   ImpactLevel = "high"
)

// TemplateChange is one field-level diff entry between template versions.
type TemplateChange struct {
	Field                   string      `json:"field"`
	OldValue                interface{} `json:"old_value"`
	NewValue                interface{} `json:"new_value"`
	Impact                  ImpactLevel `json:"impact"`
	RequiresScheduleRebuild bool        `json:"requires_schedule_rebuild"`
	AffectsExistingSessions bool        `json:"affects_existing_sessions"`
}
