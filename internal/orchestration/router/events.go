package router

import "github.com/zjrosen/devteam/internal/orchestration/message"

// EventType identifies the kind of router event.
type EventType string

const (
	// EventSent is emitted for every Send, whether delivered or queued.
	EventSent EventType = "sent"
	// EventDelivered is emitted after a message reached its subscribers.
	EventDelivered EventType = "delivered"
	// EventQueued is emitted when a recipient had no subscription.
	EventQueued EventType = "queued"
	// EventDropped is emitted when a full queue discards its oldest message.
	EventDropped EventType = "dropped"
	// EventBroadcast is emitted once per Broadcast call.
	EventBroadcast EventType = "broadcast"
	// EventHandlerFailed is emitted when a handler returns an error or panics.
	EventHandlerFailed EventType = "handler_failed"
)

// Event describes something that happened on the router.
type Event struct {
	Type          EventType
	Message       message.Message
	ParticipantID string
	Error         error
}
