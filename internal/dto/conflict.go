package dto

import "github.com/carewell/scheduling-api/internal/models"

// Supported bulk resolution strategies.
const (
	StrategyReschedule        = "reschedule"
	StrategyReassignTherapist = "reassign_therapist"
	StrategyReassignRoom      = "reassign_room"
)

// DetectConflictsQuery scopes conflict detection to a slot window.
type DetectConflictsQuery struct {
	From        string `json:"from" validate:"required"`
	To          string `json:"to" validate:"required"`
	TherapistID string `json:"therapistId"`
	RoomID      string `json:"roomId"`
}

// ResolutionParams tune the alternative-slot search.
type ResolutionParams struct {
	LookaheadDays int      `json:"lookaheadDays" validate:"omitempty,min=1,max=90"`
	TherapistPool []string `json:"therapistPool"`
	RoomPool      []string `json:"roomPool"`
}

// BulkResolveRequest applies one strategy to many conflicts independently.
type BulkResolveRequest struct {
	ConflictIDs []string         `json:"conflictIds" validate:"required,min=1"`
	From        string           `json:"from" validate:"required"`
	To          string           `json:"to" validate:"required"`
	Strategy    string           `json:"strategy" validate:"required,oneof=reschedule reassign_therapist reassign_room"`
	Params      ResolutionParams `json:"params"`
}

// BulkResolveFailure itemizes one failed conflict resolution.
type BulkResolveFailure struct {
	ConflictID string `json:"conflictId"`
	Reason     string `json:"reason"`
}

// BulkResolveResult separates resolved from failed items; one failure never
// aborts the batch.
type BulkResolveResult struct {
	Resolved []string             `json:"resolved"`
	Failed   []BulkResolveFailure `json:"failed"`
}

// PatternQuery bounds the conflict pattern aggregation window.
type PatternQuery struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}

// DetectConflictsResponse lists detected conflict clusters.
type DetectConflictsResponse struct {
	Conflicts []models.ScheduleConflict `json:"conflicts"`
	Count     int                       `json:"count"`
}
