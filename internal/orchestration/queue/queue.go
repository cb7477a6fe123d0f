// Package queue provides the bounded per-recipient message queue used by the router
// when a participant has no live subscription.
package queue

import (
	"sync"
	"time"

	"github.com/zjrosen/devteam/internal/orchestration/message"
)

// DefaultMaxSize is the default maximum number of messages a queue can hold.
const DefaultMaxSize = 100

// QueuedMessage is a message waiting for its recipient to subscribe.
type QueuedMessage struct {
	Message    message.Message
	EnqueuedAt time.Time
	seq        uint64
}

// MessageQueue is a thread-safe priority queue for pending messages.
//
// High priority messages are placed ahead of every normal and low priority
// message but behind earlier high priority ones, so send order is kept within
// a priority class. When the queue grows past its maximum the oldest enqueued
// message is dropped.
type MessageQueue struct {
	entries []QueuedMessage
	mu      sync.Mutex
	maxSize int
	nextSeq uint64
	dropped int
}

// NewMessageQueue creates a new MessageQueue with the specified maximum size.
// If maxSize is <= 0, DefaultMaxSize (100) is used.
func NewMessageQueue(maxSize int) *MessageQueue {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &MessageQueue{
		entries: make([]QueuedMessage, 0),
		maxSize: maxSize,
	}
}

// Enqueue adds a message according to its priority.
// Returns the message dropped to stay within the maximum, if any.
func (q *MessageQueue) Enqueue(msg message.Message) (dropped *message.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextSeq++
	entry := QueuedMessage{Message: msg, EnqueuedAt: time.Now(), seq: q.nextSeq}

	if msg.Priority == message.PriorityHigh {
		pos := 0
		for pos < len(q.entries) && q.entries[pos].Message.Priority == message.PriorityHigh {
			pos++
		}
		q.entries = append(q.entries, QueuedMessage{})
		copy(q.entries[pos+1:], q.entries[pos:])
		q.entries[pos] = entry
	} else {
		q.entries = append(q.entries, entry)
	}

	if len(q.entries) <= q.maxSize {
		return nil
	}

	oldest := 0
	for i := range q.entries {
		if q.entries[i].seq < q.entries[oldest].seq {
			oldest = i
		}
	}
	removed := q.entries[oldest].Message
	q.entries = append(q.entries[:oldest], q.entries[oldest+1:]...)
	q.dropped++
	return &removed
}

// Dequeue removes and returns the message at the front of the queue.
// Returns (zero value, false) if the queue is empty.
func (q *MessageQueue) Dequeue() (message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return message.Message{}, false
	}

	msg := q.entries[0].Message
	q.entries = q.entries[1:]
	return msg, true
}

// Peek returns the message at the front of the queue without removing it.
func (q *MessageQueue) Peek() (message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return message.Message{}, false
	}
	return q.entries[0].Message, true
}

// Len returns the current number of messages in the queue.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// Dropped returns how many messages were discarded for exceeding the maximum.
func (q *MessageQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.dropped
}

// Drain removes and returns all messages in delivery order, leaving the queue empty.
func (q *MessageQueue) Drain() []message.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]message.Message, len(q.entries))
	for i, e := range q.entries {
		result[i] = e.Message
	}
	q.entries = make([]QueuedMessage, 0)
	return result
}
