// Package router provides in-process message delivery between named participants.
//
// The Router supports point-to-point sends, broadcasts and a request/reply
// pattern with timeouts. Messages sent to a participant without a live
// subscription are held in a bounded per-recipient queue and flushed when the
// participant subscribes.
//
// # Delivery Model
//
// Send and Broadcast fan out synchronously on the caller's goroutine. Handlers
// are invoked without the router lock held, so a handler may itself send.
// Request is the only blocking call; it waits for a correlated reply, the
// timeout, or context cancellation.
package router

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/devteam/internal/log"
	"github.com/zjrosen/devteam/internal/orchestration/message"
	"github.com/zjrosen/devteam/internal/orchestration/queue"
	"github.com/zjrosen/devteam/internal/pubsub"
)

// DefaultRequestTimeout is the reply window used when neither the request nor
// the router config specifies one.
const DefaultRequestTimeout = 30 * time.Second

// ErrRequestTimeout is matched by every *TimeoutError.
var ErrRequestTimeout = errors.New("request timed out")

// TimeoutError is returned by Request when no reply arrives in time.
type TimeoutError struct {
	To            string
	CorrelationID string
	Timeout       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s (correlation %s)", e.To, e.Timeout, e.CorrelationID)
}

// Unwrap lets errors.Is match ErrRequestTimeout.
func (e *TimeoutError) Unwrap() error {
	return ErrRequestTimeout
}

// Config holds router limits.
type Config struct {
	// MaxQueueSize bounds each per-recipient queue (default: queue.DefaultMaxSize).
	MaxQueueSize int
	// HistoryLimit bounds the sent-message history (default: 1000).
	HistoryLimit int
	// RequestTimeout is the default reply window for Request (default: 30s).
	RequestTimeout time.Duration
}

// SendOptions configures a single Send.
type SendOptions struct {
	From     string
	Priority message.Priority
	Type     message.MessageType
	// CorrelationID is set by Request and Reply.
	CorrelationID string
}

// BroadcastOptions configures a Broadcast.
type BroadcastOptions struct {
	From    string
	Exclude []string
	// Type defaults to message.MessageBroadcast.
	Type message.MessageType
}

// RequestOptions configures a Request.
type RequestOptions struct {
	From     string
	Priority message.Priority
	// Timeout overrides the router's default reply window when > 0.
	Timeout time.Duration
}

// Router routes messages between participants.
type Router struct {
	subs   map[string][]message.Subscription
	queues map[string]*queue.MessageQueue
	// flushing marks participants whose queue is being delivered. Messages
	// sent to them meanwhile are queued behind the backlog.
	flushing map[string]bool
	pending  map[string]chan message.Message
	history *message.History
	broker  *pubsub.Broker[Event]
	cfg     Config
	mu      sync.RWMutex
}

// New creates a router with the given limits. Zero values use defaults.
func New(cfg Config) *Router {
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = queue.DefaultMaxSize
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = message.DefaultHistoryLimit
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Router{
		subs:    make(map[string][]message.Subscription),
		queues:   make(map[string]*queue.MessageQueue),
		flushing: make(map[string]bool),
		pending:  make(map[string]chan message.Message),
		history: message.NewHistory(cfg.HistoryLimit),
		broker:  pubsub.NewBroker[Event](),
		cfg:     cfg,
	}
}

// Config returns the effective router limits.
func (r *Router) Config() Config {
	return r.cfg
}

// Subscribe registers handler for participantID and flushes any messages
// queued for that participant to it, in queue order. Messages sent while the
// flush runs are delivered after the backlog.
func (r *Router) Subscribe(participantID string, handler message.Handler) string {
	sub := message.Subscription{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		Handler:       handler,
	}

	r.mu.Lock()
	r.subs[participantID] = append(r.subs[participantID], sub)
	_, queued := r.queues[participantID]
	flush := queued && !r.flushing[participantID]
	if flush {
		r.flushing[participantID] = true
	}
	r.mu.Unlock()

	log.Debug(log.CatRouter, "Subscribed", "participant", participantID, "subscription", sub.ID, "flush", flush)

	if flush {
		r.flush(participantID)
	}
	return sub.ID
}

// flush delivers participantID's queue one message at a time until it is
// empty or the participant has no subscriber left.
func (r *Router) flush(participantID string) {
	flushed := 0
	for {
		r.mu.Lock()
		subs := slices.Clone(r.subs[participantID])
		var (
			msg message.Message
			ok  bool
		)
		if q := r.queues[participantID]; q != nil && len(subs) > 0 {
			msg, ok = q.Dequeue()
		}
		if !ok {
			if q := r.queues[participantID]; q != nil && q.Len() == 0 {
				delete(r.queues, participantID)
			}
			delete(r.flushing, participantID)
			r.mu.Unlock()
			break
		}
		r.mu.Unlock()

		for _, sub := range subs {
			r.invoke(sub, msg)
		}
		r.publish(EventDelivered, msg, participantID, nil)
		flushed++
	}
	log.Debug(log.CatRouter, "Queue flushed", "participant", participantID, "count", flushed)
}

// Unsubscribe removes a single subscription, or every subscription of the
// participant when subscriptionID is empty.
func (r *Router) Unsubscribe(participantID, subscriptionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subscriptionID == "" {
		delete(r.subs, participantID)
		return
	}

	subs := slices.DeleteFunc(r.subs[participantID], func(s message.Subscription) bool {
		return s.ID == subscriptionID
	})
	if len(subs) == 0 {
		delete(r.subs, participantID)
		return
	}
	r.subs[participantID] = subs
}

// Send delivers payload to every current subscriber of to, or queues it when
// there are none. The message is always recorded in history.
func (r *Router) Send(to string, payload any, opts SendOptions) string {
	from := opts.From
	if from == "" {
		from = message.ActorSystem
	}
	msg := message.New(from, to, opts.Type, payload, opts.Priority)
	msg.CorrelationID = opts.CorrelationID

	r.dispatch(msg)
	return msg.ID
}

// Broadcast sends payload to every subscribed participant not in opts.Exclude.
// Participants without a subscription are skipped; broadcasts are never queued.
// Returns the ids of the per-recipient messages.
func (r *Router) Broadcast(payload any, opts BroadcastOptions) []string {
	from := opts.From
	if from == "" {
		from = message.ActorSystem
	}
	msgType := opts.Type
	if msgType == "" {
		msgType = message.MessageBroadcast
	}

	r.mu.RLock()
	recipients := make([]string, 0, len(r.subs))
	for participant := range r.subs {
		if !slices.Contains(opts.Exclude, participant) {
			recipients = append(recipients, participant)
		}
	}
	r.mu.RUnlock()
	slices.Sort(recipients)

	ids := make([]string, 0, len(recipients))
	for _, to := range recipients {
		msg := message.New(from, to, msgType, payload, message.PriorityNormal)
		r.history.Append(msg)
		r.deliver(msg)
		ids = append(ids, msg.ID)
	}

	r.publish(EventBroadcast, message.New(from, message.ActorAll, msgType, payload, message.PriorityNormal), "", nil)
	return ids
}

// Request sends payload to to and waits for a reply carrying the same
// correlation id. Returns a *TimeoutError when the window elapses first.
func (r *Router) Request(ctx context.Context, to string, payload any, opts RequestOptions) (*message.Message, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.cfg.RequestTimeout
	}

	correlationID := uuid.New().String()
	waiter := make(chan message.Message, 1)

	r.mu.Lock()
	r.pending[correlationID] = waiter
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, correlationID)
		r.mu.Unlock()
	}()

	r.Send(to, payload, SendOptions{
		From:          opts.From,
		Priority:      opts.Priority,
		Type:          message.MessageRequest,
		CorrelationID: correlationID,
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-waiter:
		return &reply, nil
	case <-timer.C:
		log.Warn(log.CatRouter, "Request timed out", "to", to, "correlation", correlationID, "timeout", timeout)
		return nil, &TimeoutError{To: to, CorrelationID: correlationID, Timeout: timeout}
	case <-ctx.Done():
		return nil, fmt.Errorf("request to %s: %w", to, ctx.Err())
	}
}

// Reply answers original, addressed to its sender, preserving the correlation id.
func (r *Router) Reply(original message.Message, payload any) string {
	return r.Send(original.From, payload, SendOptions{
		From:          original.To,
		Priority:      original.Priority,
		Type:          message.MessageResponse,
		CorrelationID: original.CorrelationID,
	})
}

// Acknowledge marks a retained message as acknowledged.
func (r *Router) Acknowledge(messageID string) bool {
	return r.history.Acknowledge(messageID)
}

// History returns up to limit of the most recent messages, oldest first.
func (r *Router) History(limit int) []message.Message {
	return r.history.Entries(limit)
}

// QueueLength returns the number of messages waiting for participantID.
func (r *Router) QueueLength(participantID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if q, ok := r.queues[participantID]; ok {
		return q.Len()
	}
	return 0
}

// Subscribers returns the participants with at least one subscription, sorted.
func (r *Router) Subscribers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.subs))
	for participant := range r.subs {
		out = append(out, participant)
	}
	slices.Sort(out)
	return out
}

// PendingRequests returns the number of requests still awaiting a reply.
func (r *Router) PendingRequests() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending)
}

// Clear drops history and queued messages. Subscriptions are kept.
func (r *Router) Clear() {
	r.mu.Lock()
	r.queues = make(map[string]*queue.MessageQueue)
	r.mu.Unlock()
	r.history.Clear()
}

// Notifications returns a channel of router events.
func (r *Router) Notifications(ctx context.Context) <-chan pubsub.Event[Event] {
	return r.broker.Subscribe(ctx)
}

// OnEvent registers a synchronous router event listener.
func (r *Router) OnEvent(fn func(Event)) func() {
	return r.broker.Listen(func(e pubsub.Event[Event]) { fn(e.Payload) })
}

// dispatch records msg, resolves any waiting request, then delivers or queues it.
func (r *Router) dispatch(msg message.Message) {
	r.history.Append(msg)

	if msg.Type == message.MessageResponse && msg.CorrelationID != "" {
		r.mu.RLock()
		waiter, ok := r.pending[msg.CorrelationID]
		r.mu.RUnlock()
		if ok {
			select {
			case waiter <- msg:
			default:
				// A reply was already accepted for this correlation id
			}
		}
	}

	if subs := r.route(msg); len(subs) > 0 {
		for _, sub := range subs {
			r.invoke(sub, msg)
		}
		r.publish(EventDelivered, msg, msg.To, nil)
	}
	r.publish(EventSent, msg, msg.To, nil)
}

// route returns the subscribers msg should be delivered to now. When the
// recipient has none, or its queue is being flushed, msg is queued instead
// and route returns nil. Checking and queueing happen under one lock so a
// finishing flush cannot miss the message.
func (r *Router) route(msg message.Message) []message.Subscription {
	r.mu.Lock()
	if subs := r.subs[msg.To]; len(subs) > 0 && !r.flushing[msg.To] {
		subs = slices.Clone(subs)
		r.mu.Unlock()
		return subs
	}
	q, ok := r.queues[msg.To]
	if !ok {
		q = queue.NewMessageQueue(r.cfg.MaxQueueSize)
		r.queues[msg.To] = q
	}
	dropped := q.Enqueue(msg)
	r.mu.Unlock()

	log.Debug(log.CatRouter, "Message queued", "to", msg.To, "from", msg.From, "priority", msg.Priority)
	r.publish(EventQueued, msg, msg.To, nil)
	if dropped != nil {
		log.Warn(log.CatRouter, "Queue full, dropped oldest message", "to", msg.To, "dropped", dropped.ID)
		r.publish(EventDropped, *dropped, msg.To, nil)
	}
	return nil
}

// deliver invokes every current subscriber of msg.To without queueing.
// Returns false when there were none.
func (r *Router) deliver(msg message.Message) bool {
	r.mu.RLock()
	subs := slices.Clone(r.subs[msg.To])
	r.mu.RUnlock()

	if len(subs) == 0 {
		return false
	}
	for _, sub := range subs {
		r.invoke(sub, msg)
	}
	r.publish(EventDelivered, msg, msg.To, nil)
	return true
}

// invoke runs a single handler, isolating its error or panic.
func (r *Router) invoke(sub message.Subscription, msg message.Message) {
	var err error
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("handler panic: %v", p)
			}
		}()
		err = sub.Handler(msg)
	}()

	if err != nil {
		log.ErrorErr(log.CatRouter, "Handler failed", err,
			"participant", sub.ParticipantID,
			"subscription", sub.ID,
			"message", msg.ID)
		r.publish(EventHandlerFailed, msg, sub.ParticipantID, err)
	}
}

func (r *Router) publish(t EventType, msg message.Message, participant string, err error) {
	r.broker.Publish(pubsub.CreatedEvent, Event{
		Type:          t,
		Message:       msg,
		ParticipantID: participant,
		Error:         err,
	})
}
