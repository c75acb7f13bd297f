package dto

import "github.com/carewell/scheduling-api/internal/models"

// TemplateParams is the comparable parameter set of one template version.
type TemplateParams struct {
	BaseSessionsPerWeek        int      `json:"baseSessionsPerWeek" validate:"min=0"`
	BaseSessionDurationMinutes int      `json:"baseSessionDurationMinutes" validate:"min=0"`
	DurationWeeks              int      `json:"durationWeeks" validate:"min=0"`
	DefaultDays                []string `json:"defaultDays"`
	DefaultTimes               []string `json:"defaultTimes"`
}

// AnalyzeChangesRequest diffs two template versions.
type AnalyzeChangesRequest struct {
	TemplateID string         `json:"templateId" validate:"required"`
	Old        TemplateParams `json:"old"`
	New        TemplateParams `json:"new"`
}

// AnalyzeChangesResult classifies the diff.
type AnalyzeChangesResult struct {
	Changes      []models.TemplateChange `json:"changes"`
	SyncRequired bool                    `json:"syncRequired"`
	ImpactLevel  models.ImpactLevel      `json:"impactLevel"`
}

// ValidateSyncRequest checks policy feasibility before execution.
type ValidateSyncRequest struct {
	TemplateID string                  `json:"templateId" validate:"required"`
	Changes    []models.TemplateChange `json:"changes" validate:"required,min=1"`
	Policy     models.SyncPolicy       `json:"policy"`
}

// EstimatedImpact sizes the blast radius of a sync.
type EstimatedImpact struct {
	AffectedEnrollments int `json:"affectedEnrollments"`
	AffectedSlots       int `json:"affectedSlots"`
}

// ValidateSyncResult separates non-fatal warnings from blocking issues.
type ValidateSyncResult struct {
	CanSync         bool            `json:"canSync"`
	Warnings        []string        `json:"warnings"`
	BlockingIssues  []string        `json:"blockingIssues"`
	EstimatedImpact EstimatedImpact `json:"estimatedImpact"`
}

// SyncExecuteOptions tune one execution run.
type SyncExecuteOptions struct {
	DryRun          bool `json:"dryRun"`
	DeadlineSeconds int  `json:"deadlineSeconds" validate:"omitempty,min=1"`
}

// ExecuteSyncRequest propagates validated changes into schedules.
type ExecuteSyncRequest struct {
	TemplateID string                  `json:"templateId" validate:"required"`
	Changes    []models.TemplateChange `json:"changes" validate:"required,min=1"`
	Policy     models.SyncPolicy       `json:"policy"`
	Options    SyncExecuteOptions      `json:"options"`
}

// RollbackResult reports a snapshot restore.
type RollbackResult struct {
	Success          bool `json:"success"`
	SessionsRestored int  `json:"sessionsRestored"`
}
