package message

import (
	"sync"
)

// DefaultHistoryLimit is the number of messages retained by a History.
const DefaultHistoryLimit = 1000

// History is a bounded, thread-safe log of sent messages.
// Once the limit is exceeded the oldest entries are dropped.
type History struct {
	entries []Message
	limit   int
	mu      sync.RWMutex
}

// NewHistory creates a history retaining at most limit messages.
// If limit is <= 0, DefaultHistoryLimit is used.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{
		entries: make([]Message, 0),
		limit:   limit,
	}
}

// Append records a message, trimming the oldest entries beyond the limit.
func (h *History) Append(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, msg)
	if over := len(h.entries) - h.limit; over > 0 {
		h.entries = append([]Message(nil), h.entries[over:]...)
	}
}

// Entries returns a copy of the most recent messages, oldest first.
// A limit <= 0 returns every retained message.
func (h *History) Entries(limit int) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(h.entries) {
		start = len(h.entries) - limit
	}
	result := make([]Message, len(h.entries)-start)
	copy(result, h.entries[start:])
	return result
}

// Acknowledge marks the message with the given id as acknowledged.
// Returns false if the message is no longer retained.
func (h *History) Acknowledge(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.entries {
		if h.entries[i].ID == id {
			h.entries[i].Acknowledged = true
			return true
		}
	}
	return false
}

// Count returns the number of retained messages.
func (h *History) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Clear drops every retained message.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = make([]Message, 0)
}
