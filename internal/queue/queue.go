// Package queue moves delivery tasks between the gateway, the
// dispatcher workers and the retry scheduler.
package queue

import "context"

// Queue names, ordered by dispatch priority. Retry traffic has its own
// lane so a backlog of retries cannot starve fresh events.
const (
	High    = "high"
	Default = "default"
	Low     = "low"
	Retry   = "retry"
)

// Names lists every queue in priority order.
var Names = []string{High, Default, Low, Retry}

// Task tells a dispatcher worker which event to deliver. The event
// body lives in the database; the queue only carries the reference.
type Task struct {
	EventID    string `json:"event_id"`
	Queue      string `json:"queue"`
	Attempt    int    `json:"attempt"`
	EnqueuedAt int64  `json:"enqueued_at"`
}

// Handler processes one task. Returning an error requeues the task
// after a short delay.
type Handler func(ctx context.Context, task *Task) error

type Queue interface {
	// Publish enqueues a task on the named queue.
	Publish(ctx context.Context, queue string, task *Task) error

	// Consume starts delivering tasks from the named queue to handler.
	// The returned stop function halts consumption.
	Consume(ctx context.Context, queue string, handler Handler) (func(), error)

	Close() error
}
