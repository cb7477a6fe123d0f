package worker

import (
	"sync"

	"github.com/zjrosen/devteam/internal/orchestration/message"
)

// DefaultInboxCapacity bounds how many router messages a worker keeps.
const DefaultInboxCapacity = 100

// Inbox is a thread-safe ring buffer of the messages delivered to a worker.
// When full, the oldest message is overwritten.
type Inbox struct {
	msgs     []message.Message
	capacity int
	start    int // Index of oldest message
	count    int
	mu       sync.RWMutex
}

// NewInbox creates an Inbox. Capacity must be at least 1.
func NewInbox(capacity int) *Inbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Inbox{
		msgs:     make([]message.Message, capacity),
		capacity: capacity,
	}
}

// Write appends msg.
func (b *Inbox) Write(msg message.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < b.capacity {
		b.msgs[(b.start+b.count)%b.capacity] = msg
		b.count++
		return
	}
	b.msgs[b.start] = msg
	b.start = (b.start + 1) % b.capacity
}

// Messages returns all messages in arrival order.
func (b *Inbox) Messages() []message.Message {
	return b.LastN(b.Len())
}

// LastN returns the newest n messages in arrival order.
func (b *Inbox) LastN(n int) []message.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.count {
		n = b.count
	}
	if n <= 0 {
		return nil
	}

	result := make([]message.Message, n)
	skip := b.count - n
	for i := 0; i < n; i++ {
		result[i] = b.msgs[(b.start+skip+i)%b.capacity]
	}
	return result
}

func (b *Inbox) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

func (b *Inbox) Capacity() int {
	return b.capacity
}

// Clear removes all messages.
func (b *Inbox) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.msgs)
	b.start = 0
	b.count = 0
}
