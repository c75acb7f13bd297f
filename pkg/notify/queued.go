package notify

import (
	"context"

	"github.com/carewell/scheduling-api/pkg/jobs"
)

// Queued hands events to a background job queue so callers never wait on
// delivery. A full queue drops the event; the queue logs the drop.
type Queued struct {
	queue *jobs.Queue
}

// NewQueued wraps a started queue as a Notifier.
func NewQueued(queue *jobs.Queue) *Queued {
	return &Queued{queue: queue}
}

// Send implements Notifier.
func (n *Queued) Send(_ context.Context, event Event) error {
	return n.queue.Enqueue(jobs.Job{Type: event.Type, Payload: event})
}
