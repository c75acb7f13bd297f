package notify

import "context"

// Event types emitted by the scheduling engine.
const (
	EventModificationOccurred = "modification_occurred"
	EventConflictDetected     = "conflict_detected"
	EventSyncCompleted        = "sync_completed"
)

// Event is a fire-and-forget notification. The engine never blocks on, nor
// inspects, delivery success.
type Event struct {
	Type       string            `json:"type"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	Recipients []string          `json:"recipients"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Notifier delivers events to participants. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Send(ctx context.Context, event Event) error
}

// Nop discards all events.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, Event) error { return nil }
