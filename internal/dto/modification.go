package dto

import "github.com/carewell/scheduling-api/internal/models"

// ModificationRequest is the tagged-variant change request. Exactly one
// detail payload matching Type must be present.
type ModificationRequest struct {
	EnrollmentID  string                  `json:"enrollmentId" validate:"required"`
	Type          models.ModificationType `json:"type" validate:"required,oneof=reschedule pause resume intensity_change extend_duration"`
	EffectiveDate string                  `json:"effectiveDate" validate:"required"`
	RequestedBy   string                  `json:"requestedBy" validate:"required"`
	Reason        string                  `json:"reason" validate:"required"`

	Reschedule *models.RescheduleDetails      `json:"reschedule,omitempty"`
	Pause      *models.PauseDetails           `json:"pause,omitempty"`
	Resume     *models.ResumeDetails          `json:"resume,omitempty"`
	Intensity  *models.IntensityChangeDetails `json:"intensityChange,omitempty"`
	Extend     *models.ExtendDurationDetails  `json:"extendDuration,omitempty"`
}

// ModificationHistoryQuery filters an enrollment's modification history.
type ModificationHistoryQuery struct {
	EnrollmentID string `json:"enrollmentId" validate:"required"`
	Limit        int    `json:"limit" validate:"omitempty,min=1,max=500"`
}
