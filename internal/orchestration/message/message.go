// Package message defines the messages exchanged between participants on the router.
package message

import (
	"time"

	"github.com/google/uuid"
)

// MessageType categorizes the kind of message being sent.
type MessageType string

const (
	// MessageInfo is for status updates and informational messages.
	MessageInfo MessageType = "info"

	// MessageRequest indicates the sender expects a correlated reply.
	MessageRequest MessageType = "request"

	// MessageResponse is a reply to a previous request.
	MessageResponse MessageType = "response"

	// MessageBroadcast is a message fanned out to every subscribed participant.
	MessageBroadcast MessageType = "broadcast"

	// MessagePhaseComplete announces that an orchestrator phase finished.
	MessagePhaseComplete MessageType = "phase_complete"

	// MessageError indicates something went wrong.
	MessageError MessageType = "error"
)

// Priority orders queued messages. High priority messages jump the queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	default:
		return false
	}
}

// Message is a single routed message.
type Message struct {
	// ID is a unique identifier for this message (uuid).
	ID string `json:"id"`

	// From identifies the sender: "orchestrator", "architect", etc.
	From string `json:"from"`

	// To identifies the recipient participant, or "*" for broadcasts.
	To string `json:"to"`

	// Type categorizes the message purpose.
	Type MessageType `json:"type"`

	// Payload is the message body.
	Payload any `json:"payload"`

	// Timestamp when the message was created.
	Timestamp time.Time `json:"timestamp"`

	Priority Priority `json:"priority"`

	// Acknowledged is the only field mutated after send.
	Acknowledged bool `json:"acknowledged"`

	// CorrelationID links a request to its reply. Empty for plain sends.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// IsReplyTo reports whether m answers the request identified by correlationID.
func (m *Message) IsReplyTo(correlationID string) bool {
	return correlationID != "" && m.Type == MessageResponse && m.CorrelationID == correlationID
}

// New creates a message with a fresh id and timestamp.
// An invalid or empty priority is normalized to PriorityNormal.
func New(from, to string, msgType MessageType, payload any, priority Priority) Message {
	if !priority.Valid() {
		priority = PriorityNormal
	}
	if msgType == "" {
		msgType = MessageInfo
	}
	return Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
		Priority:  priority,
	}
}

// Common sender/recipient identifiers.
const (
	// ActorOrchestrator is the pipeline driver.
	ActorOrchestrator = "orchestrator"

	// ActorUser is the human user.
	ActorUser = "user"

	// ActorAll is the recipient recorded on broadcast messages.
	ActorAll = "*"

	// ActorSystem is the default sender when none is given.
	ActorSystem = "system"
)

// Handler receives a delivered message. A returned error is logged by the
// router and does not affect delivery to other handlers.
type Handler func(Message) error

// Subscription binds a handler to a participant.
type Subscription struct {
	ID            string
	ParticipantID string
	Handler       Handler
}
