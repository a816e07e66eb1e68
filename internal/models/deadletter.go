package models

import "time"

// DeliveryFailure is one entry in a dead letter's failure history.
type DeliveryFailure struct {
	TargetSystem string    `json:"target_system"`
	Attempt      int       `json:"attempt"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	Error        string    `json:"error"`
	At           time.Time `json:"at"`
}

// DeadLetterEntry holds an event that exhausted all delivery retries. It
// retains the full canonical payload and the attempt history so the event
// can be reconstructed and retried after the underlying problem (target
// outage, bad mapping) is fixed.
type DeadLetterEntry struct {
	ID             string            `json:"id"`
	EventID        string            `json:"event_id"`
	EventType      string            `json:"event_type"`
	SourceSystem   string            `json:"source_system"`
	Payload        map[string]any    `json:"payload"`
	FailureHistory []DeliveryFailure `json:"failure_history"`
	ArchivedAt     *time.Time        `json:"archived_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Archived reports whether the entry has been excluded from default
// listings.
func (d *DeadLetterEntry) Archived() bool {
	return d.ArchivedAt != nil
}
