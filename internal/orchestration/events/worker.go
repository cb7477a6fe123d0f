package events

import "time"

// WorkerEventType identifies the kind of worker event.
type WorkerEventType string

const (
	// WorkerStarted is emitted when a worker begins a phase operation.
	WorkerStarted WorkerEventType = "started"
	// WorkerWorking is emitted while a worker makes progress.
	WorkerWorking WorkerEventType = "working"
	// WorkerComplete is emitted when a phase operation succeeds.
	WorkerComplete WorkerEventType = "complete"
	// WorkerError is emitted when a phase operation fails.
	WorkerError WorkerEventType = "error"
)

// WorkerEvent represents an event from a worker.
type WorkerEvent struct {
	// Type identifies the kind of event.
	Type WorkerEventType `json:"type"`
	// ParticipantID identifies which worker emitted the event.
	ParticipantID string `json:"participant_id"`
	// Data is event specific: a status message, a result summary or an error string.
	Data any `json:"data,omitempty"`
	// Timestamp when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
}
