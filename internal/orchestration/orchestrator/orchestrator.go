// Package orchestrator drives a team of workers through the delivery pipeline.
//
// The Orchestrator owns the shared project context, one worker per enabled
// role, and the Router and Memory Store the workers share. Run executes the
// phases strictly in order:
//
//	starting -> requirements -> architecture -> [design] -> implementation
//	         -> [security] -> review -> (fixing -> review)* -> complete
//
// Any phase failure ends the run in the error phase. Progress events are
// emitted after every phase; every worker event is appended to the run's
// event log and re-published, in emission order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/devteam/internal/log"
	"github.com/zjrosen/devteam/internal/orchestration/client"
	"github.com/zjrosen/devteam/internal/orchestration/events"
	"github.com/zjrosen/devteam/internal/orchestration/memory"
	"github.com/zjrosen/devteam/internal/orchestration/message"
	"github.com/zjrosen/devteam/internal/orchestration/metrics"
	"github.com/zjrosen/devteam/internal/orchestration/router"
	"github.com/zjrosen/devteam/internal/orchestration/worker"
	"github.com/zjrosen/devteam/internal/pubsub"
)

const (
	DefaultMaxIterations    = 3
	DefaultQualityThreshold = 80
	DefaultProjectName      = "untitled-project"
)

var (
	// ErrMissingRole is returned by New when a required role is not enabled.
	ErrMissingRole = errors.New("missing required worker role")

	// ErrRoleMismatch is returned by New when a worker does not implement the
	// interface of its role.
	ErrRoleMismatch = errors.New("worker does not implement its role")

	// ErrAlreadyRunning is reported when Run is called during another run.
	ErrAlreadyRunning = errors.New("orchestrator is already running")

	// ErrPanic wraps a panic raised by a worker, remediator or approval gate.
	ErrPanic = errors.New("phase panicked")
)

// Config holds configuration for creating an Orchestrator.
type Config struct {
	// ProjectID defaults to a new uuid.
	ProjectID   string
	ProjectName string

	// Team lists the enabled roles (default: worker.DefaultTeam). Roles of
	// injected Workers are always enabled.
	Team []worker.Role

	// MaxIterations caps review attempts per run (default: 3).
	MaxIterations int
	// QualityThreshold is the review score that passes the gate (default: 80).
	QualityThreshold int

	// Client backs the default workers and token accounting. It may be nil
	// when every enabled role has an injected worker.
	Client *client.ModelClient

	// Workers replace the default worker of their role.
	Workers []worker.Worker

	// Router and Memory default to new instances.
	Router *router.Router
	Memory *memory.Store

	// Remediator runs between failed reviews (default: the developer's Fix).
	Remediator Remediator

	// Approval, when set, must approve the architecture and implementation
	// phases before they start.
	Approval ApprovalGate

	Tracer trace.Tracer
}

// Orchestrator runs the pipeline. Runs are sequential; Run returns
// ErrAlreadyRunning in the result when called concurrently.
type Orchestrator struct {
	cfg Config

	router *router.Router
	memory *memory.Store
	client *client.ModelClient

	workers []worker.Worker
	owned   []worker.Worker
	// Role views of workers. designer and security may be nil.
	analyst   worker.RequirementsAnalyst
	architect worker.Architect
	designer  worker.Designer
	developer worker.Developer
	security  worker.SecurityAuditor
	reviewer  worker.Reviewer

	remediator Remediator
	tracker    *metrics.Tracker

	progress     *pubsub.Broker[events.ProgressEvent]
	workerEvents *pubsub.Broker[events.WorkerEvent]
	unlisten     []func()

	running atomic.Bool
	mu      sync.RWMutex
	project worker.ProjectContext
	log     []events.WorkerEvent
	phase   events.Phase
}

// New creates an Orchestrator with one worker per enabled role.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.ProjectID == "" {
		cfg.ProjectID = uuid.New().String()
	}
	if cfg.ProjectName == "" {
		cfg.ProjectName = DefaultProjectName
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.QualityThreshold <= 0 {
		cfg.QualityThreshold = DefaultQualityThreshold
	}
	if len(cfg.Team) == 0 {
		cfg.Team = slices.Clone(worker.DefaultTeam)
	}

	o := &Orchestrator{
		cfg:          cfg,
		router:       cfg.Router,
		memory:       cfg.Memory,
		client:       cfg.Client,
		tracker:      metrics.NewTracker(),
		progress:     pubsub.NewBroker[events.ProgressEvent](),
		workerEvents: pubsub.NewBroker[events.WorkerEvent](),
		phase:        events.PhaseStarting,
	}
	if o.router == nil {
		o.router = router.New(router.Config{})
	}
	if o.memory == nil {
		o.memory = memory.New(memory.Config{})
	}

	if err := o.buildTeam(); err != nil {
		return nil, err
	}

	o.remediator = cfg.Remediator
	if o.remediator == nil {
		o.remediator = DeveloperRemediator{Developer: o.developer}
	}

	for _, w := range o.workers {
		o.unlisten = append(o.unlisten, w.Events().Listen(o.relay))
	}
	if o.client != nil {
		o.unlisten = append(o.unlisten, o.client.OnEvent(o.recordUsage))
	}

	log.Debug(log.CatOrch, "Orchestrator created",
		"project", cfg.ProjectID,
		"team", len(o.workers),
		"maxIterations", cfg.MaxIterations,
		"threshold", cfg.QualityThreshold)
	return o, nil
}

// buildTeam resolves one worker per enabled role, in team order.
func (o *Orchestrator) buildTeam() error {
	injected := make(map[worker.Role]worker.Worker, len(o.cfg.Workers))
	roles := slices.Clone(o.cfg.Team)
	for _, w := range o.cfg.Workers {
		injected[w.Role()] = w
		if !slices.Contains(roles, w.Role()) {
			roles = append(roles, w.Role())
		}
	}

	deps := worker.Deps{Client: o.client, Router: o.router, Memory: o.memory}
	for _, role := range roles {
		if _, err := worker.ParseRole(string(role)); err != nil {
			return err
		}
		w, ok := injected[role]
		if !ok {
			if o.client == nil {
				return fmt.Errorf("no model client for default %s worker", role)
			}
			var err error
			if w, err = worker.New(role, deps); err != nil {
				return err
			}
			o.owned = append(o.owned, w)
		}
		if !worker.Implements(w) {
			return fmt.Errorf("%w: %s", ErrRoleMismatch, role)
		}
		o.workers = append(o.workers, w)
		o.bind(role, w)
	}

	for _, role := range worker.RequiredRoles {
		if !slices.Contains(roles, role) {
			return fmt.Errorf("%w: %s", ErrMissingRole, role)
		}
	}
	return nil
}

// bind stores the role view of w.
func (o *Orchestrator) bind(role worker.Role, w worker.Worker) {
	switch role {
	case worker.RoleProductManager:
		o.analyst = w.(worker.RequirementsAnalyst)
	case worker.RoleArchitect:
		o.architect = w.(worker.Architect)
	case worker.RoleDesigner:
		o.designer = w.(worker.Designer)
	case worker.RoleDeveloper:
		o.developer = w.(worker.Developer)
	case worker.RoleSecurity:
		o.security = w.(worker.SecurityAuditor)
	case worker.RoleQA:
		o.reviewer = w.(worker.Reviewer)
	}
}

// ProjectID returns the configured project id.
func (o *Orchestrator) ProjectID() string {
	return o.cfg.ProjectID
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Workers returns the team in role order.
func (o *Orchestrator) Workers() []worker.Worker {
	return slices.Clone(o.workers)
}

// Router returns the shared message router.
func (o *Orchestrator) Router() *router.Router {
	return o.router
}

// Memory returns the shared memory store.
func (o *Orchestrator) Memory() *memory.Store {
	return o.memory
}

// Project returns a copy of the shared project context.
func (o *Orchestrator) Project() worker.ProjectContext {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.project.Clone()
}

// Phase returns the phase currently executing, or the last one reached.
func (o *Orchestrator) Phase() events.Phase {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase
}

// EventLog returns every worker event of the current run, in order.
func (o *Orchestrator) EventLog() []events.WorkerEvent {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.log)
}

// Metrics returns token usage of the current run.
func (o *Orchestrator) Metrics() metrics.TokenMetrics {
	return o.tracker.Snapshot()
}

// Progress returns a stream of progress events.
func (o *Orchestrator) Progress(ctx context.Context) <-chan pubsub.Event[events.ProgressEvent] {
	return o.progress.Subscribe(ctx)
}

// OnProgress registers a synchronous progress listener.
func (o *Orchestrator) OnProgress(fn func(events.ProgressEvent)) func() {
	return o.progress.Listen(func(e pubsub.Event[events.ProgressEvent]) { fn(e.Payload) })
}

// Events returns a stream of the relayed worker events.
func (o *Orchestrator) Events(ctx context.Context) <-chan pubsub.Event[events.WorkerEvent] {
	return o.workerEvents.Subscribe(ctx)
}

// OnEvent registers a synchronous listener for relayed worker events.
func (o *Orchestrator) OnEvent(fn func(events.WorkerEvent)) func() {
	return o.workerEvents.Listen(func(e pubsub.Event[events.WorkerEvent]) { fn(e.Payload) })
}

// Reset clears the event log, project context, memory store, router history
// and queues, token usage and every worker's per-run state. Workers and the
// router are kept.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.log = nil
	o.project = worker.ProjectContext{}
	o.phase = events.PhaseStarting
	o.mu.Unlock()

	o.memory.ClearAll()
	o.router.Clear()
	o.tracker.Reset()
	for _, w := range o.workers {
		w.Reset()
	}
	log.Debug(log.CatOrch, "Orchestrator reset", "project", o.cfg.ProjectID)
}

// Close detaches listeners and closes the event brokers.
func (o *Orchestrator) Close() {
	for _, fn := range o.unlisten {
		fn()
	}
	o.unlisten = nil
	for _, w := range o.owned {
		if c, ok := w.(interface{ Close() }); ok {
			c.Close()
		}
	}
	o.progress.Close()
	o.workerEvents.Close()
}

// relay appends a worker event to the log and re-publishes it.
func (o *Orchestrator) relay(e pubsub.Event[events.WorkerEvent]) {
	o.mu.Lock()
	o.log = append(o.log, e.Payload)
	o.mu.Unlock()
	o.workerEvents.Publish(pubsub.UpdatedEvent, e.Payload)
}

// recordUsage attributes completed model calls to the current phase.
func (o *Orchestrator) recordUsage(e client.Event) {
	if e.Type != client.EventCompleted || !o.running.Load() {
		return
	}
	o.tracker.Record(string(o.Phase()), string(e.Provider), e.Usage)
}

func (o *Orchestrator) emitProgress(phase events.Phase, participant, icon, msg, thought string) {
	o.progress.Publish(pubsub.UpdatedEvent, events.ProgressEvent{
		Phase:           phase,
		Participant:     participant,
		ParticipantIcon: icon,
		Message:         msg,
		ProgressPercent: phase.Percent(),
		Thought:         thought,
		Timestamp:       time.Now(),
	})
}

// broadcastPhase tells every worker that phase finished.
func (o *Orchestrator) broadcastPhase(phase events.Phase, participant string) {
	o.router.Broadcast(fmt.Sprintf("%s complete (%s)", phase, participant), router.BroadcastOptions{
		From: message.ActorOrchestrator,
		Type: message.MessagePhaseComplete,
	})
}
