package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zjrosen/devteam/internal/log"
	"github.com/zjrosen/devteam/internal/orchestration/client"
	"github.com/zjrosen/devteam/internal/orchestration/events"
	"github.com/zjrosen/devteam/internal/orchestration/memory"
	"github.com/zjrosen/devteam/internal/orchestration/message"
	"github.com/zjrosen/devteam/internal/orchestration/router"
	"github.com/zjrosen/devteam/internal/pubsub"
)

// inboxContext is how many recent router messages are quoted in prompts.
const inboxContext = 5

// Deps are the shared services a worker is wired to. Router and Memory are
// optional.
type Deps struct {
	Client *client.ModelClient
	Router *router.Router
	Memory *memory.Store
}

// Base implements Worker and the plumbing shared by the default workers.
// Embed it and add the role operation.
type Base struct {
	id    string
	role  Role
	deps  Deps
	inbox *Inbox

	broker *pubsub.Broker[events.WorkerEvent]
	subID  string

	mu      sync.RWMutex
	project ProjectContext
	calls   int
}

// NewBase creates a Base for role and subscribes it to the router under its
// participant id.
func NewBase(role Role, deps Deps) *Base {
	b := &Base{
		id:     string(role),
		role:   role,
		deps:   deps,
		inbox:  NewInbox(DefaultInboxCapacity),
		broker: pubsub.NewBroker[events.WorkerEvent](),
	}
	if deps.Router != nil {
		b.subID = deps.Router.Subscribe(b.id, func(m message.Message) error {
			b.inbox.Write(m)
			return nil
		})
	}
	return b
}

func (b *Base) ID() string   { return b.id }
func (b *Base) Role() Role   { return b.role }
func (b *Base) Icon() string { return b.role.Icon() }

func (b *Base) Events() *pubsub.Broker[events.WorkerEvent] {
	return b.broker
}

// Inbox returns the messages routed to this worker during the run.
func (b *Base) Inbox() *Inbox {
	return b.inbox
}

func (b *Base) SetProjectContext(pc ProjectContext) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.project = pc.Clone()
}

// ProjectContext returns a copy of the last context received.
func (b *Base) ProjectContext() ProjectContext {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.project.Clone()
}

// Calls returns the number of model calls made this run.
func (b *Base) Calls() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.calls
}

func (b *Base) Reset() {
	b.mu.Lock()
	b.project = ProjectContext{}
	b.calls = 0
	b.mu.Unlock()
	b.inbox.Clear()
}

// Close removes the router subscription.
func (b *Base) Close() {
	if b.deps.Router != nil && b.subID != "" {
		b.deps.Router.Unsubscribe(b.id, b.subID)
	}
}

// Emit publishes a worker event.
func (b *Base) Emit(t events.WorkerEventType, data any) {
	b.broker.Publish(pubsub.UpdatedEvent, events.WorkerEvent{
		Type:          t,
		ParticipantID: b.id,
		Data:          data,
		Timestamp:     time.Now(),
	})
}

// Ask sends task to the model and decodes the JSON answer into out. The raw
// answer is kept in short-term memory under <role>:<task>.
func (b *Base) Ask(ctx context.Context, task Task, sections []section, out any) error {
	if b.deps.Client == nil {
		return fmt.Errorf("%s: no model client configured", b.id)
	}

	request := b.ProjectContext().Description
	msgs, err := buildMessages(b.role, task, request, sections, b.inbox.LastN(inboxContext))
	if err != nil {
		return err
	}

	b.Emit(events.WorkerWorking, fmt.Sprintf("Consulting model for %s", task))
	resp, err := b.deps.Client.Complete(ctx, msgs, client.CompleteOptions{})
	if err != nil {
		return fmt.Errorf("%s %s: %w", b.id, task, err)
	}

	b.mu.Lock()
	b.calls++
	b.mu.Unlock()

	if b.deps.Memory != nil {
		if _, err := b.deps.Memory.Store(string(b.role), string(task), resp.Content, memory.StoreOptions{
			Metadata: map[string]any{"provider": string(resp.Provider), "model": resp.Model},
		}); err != nil {
			log.Warn(log.CatWorker, "Failed to remember model response", "worker", b.id, "error", err)
		}
	}

	if err := DecodeResponse(resp.Content, out); err != nil {
		return fmt.Errorf("%s %s: %w", b.id, task, err)
	}
	return nil
}

// perform wraps a phase operation with started, complete and error events.
func perform[T any](b *Base, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	b.Emit(events.WorkerStarted, op)
	log.Debug(log.CatWorker, "Worker started", "worker", b.id, "op", op)

	result, err := fn(ctx)
	if err != nil {
		b.Emit(events.WorkerError, err.Error())
		log.ErrorErr(log.CatWorker, "Worker failed", err, "worker", b.id, "op", op)
		return result, err
	}

	b.Emit(events.WorkerComplete, op)
	log.Debug(log.CatWorker, "Worker complete", "worker", b.id, "op", op)
	return result, nil
}
