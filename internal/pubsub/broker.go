package pubsub

import (
	"context"
	"sync"
	"time"
)

const defaultBufferSize = 64

// Broker is a generic pub/sub event broker.
//
// Two delivery modes are supported. Channel subscribers (Subscribe) receive
// events asynchronously and drop them when their buffer is full. Listeners
// (Listen) are invoked synchronously inside Publish, in registration order,
// and never miss an event.
type Broker[T any] struct {
	subs       map[chan Event[T]]struct{}
	listeners  []listenerEntry[T]
	nextID     uint64
	mu         sync.RWMutex
	done       chan struct{}
	bufferSize int
}

type listenerEntry[T any] struct {
	id uint64
	fn ListenerFunc[T]
}

// NewBroker creates a new broker with the default buffer size (64).
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer creates a new broker with a custom buffer size.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	return &Broker[T]{
		subs:       make(map[chan Event[T]]struct{}),
		done:       make(chan struct{}),
		bufferSize: size,
	}
}

// Subscribe creates a new subscription channel.
// The channel is automatically closed when ctx is cancelled.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan Event[T])
		close(ch)
		return ch
	default:
	}

	sub := make(chan Event[T], b.bufferSize)
	b.subs[sub] = struct{}{}

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()

		select {
		case <-b.done:
			return // Already closed
		default:
		}

		delete(b.subs, sub)
		close(sub)
	}()

	return sub
}

// Listen registers a synchronous listener and returns a function removing it.
// Listeners must not call Listen or the returned cancel function re-entrantly.
func (b *Broker[T]) Listen(fn ListenerFunc[T]) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listenerEntry[T]{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.id == id {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Publish sends an event to all listeners, then to all channel subscribers.
// Channel delivery is non-blocking: events are dropped if a subscriber is full.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	select {
	case <-b.done:
		b.mu.RUnlock()
		return
	default:
	}

	event := Event[T]{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	listeners := make([]ListenerFunc[T], len(b.listeners))
	for i, l := range b.listeners {
		listeners[i] = l.fn
	}

	for sub := range b.subs {
		select {
		case sub <- event:
		default:
			// Channel full - drop to prevent blocking
		}
	}
	b.mu.RUnlock()

	// Listeners run without the broker lock held.
	for _, fn := range listeners {
		fn(event)
	}
}

// Close shuts down the broker and all subscriber channels.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return // Already closed
	default:
	}

	close(b.done)
	for sub := range b.subs {
		close(sub)
	}
	b.subs = nil
	b.listeners = nil
}

// SubscriberCount returns the number of active channel subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// ListenerCount returns the number of registered synchronous listeners.
func (b *Broker[T]) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
