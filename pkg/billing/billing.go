package billing

import "context"

// Adjustment is one session-count delta against an enrollment's plan. The
// engine computes the delta; the fee arithmetic lives in the billing system.
type Adjustment struct {
	EnrollmentID string `json:"enrollment_id"`
	SessionDelta int    `json:"session_delta"`
	Reason       string `json:"reason"`
}

// Biller applies fee adjustments. Calls are advisory: the engine logs
// failures and proceeds. Implementations must be safe for concurrent use.
type Biller interface {
	Adjust(ctx context.Context, adjustment Adjustment) error
}

// Nop discards all adjustments.
type Nop struct{}

// Adjust implements Biller.
func (Nop) Adjust(context.Context, Adjustment) error { return nil }
