package client

// EventType identifies a model client event.
type EventType string

const (
	// EventProviderFailed is emitted when a single provider call fails.
	EventProviderFailed EventType = "provider_failed"
	// EventFailover is emitted when the client moves on to the next provider.
	EventFailover EventType = "failover"
	// EventCompleted is emitted when a provider returns a response.
	EventCompleted EventType = "completed"
)

// Event describes one step of a completion's provider selection.
type Event struct {
	Type     EventType
	Provider ProviderType
	// Next is the provider being failed over to (EventFailover only).
	Next  ProviderType
	Error error
	// Usage is the token count of the response (EventCompleted only).
	Usage *Usage
}
