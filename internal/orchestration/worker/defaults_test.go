package worker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/devteam/internal/orchestration/client"
	"github.com/zjrosen/devteam/internal/orchestration/events"
	"github.com/zjrosen/devteam/internal/orchestration/memory"
	"github.com/zjrosen/devteam/internal/orchestration/message"
	"github.com/zjrosen/devteam/internal/orchestration/mock"
	"github.com/zjrosen/devteam/internal/orchestration/router"
	"github.com/zjrosen/devteam/internal/orchestration/worker"
	"github.com/zjrosen/devteam/internal/pubsub"
)

type harness struct {
	provider *mock.Provider
	deps     worker.Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	p := mock.New()
	c, err := client.New(client.ModelConfig{}, client.WithProvider(p))
	require.NoError(t, err)
	return &harness{
		provider: p,
		deps: worker.Deps{
			Client: c,
			Router: router.New(router.Config{}),
			Memory: memory.New(memory.Config{}),
		},
	}
}

func (h *harness) worker(t *testing.T, role worker.Role) worker.Worker {
	t.Helper()
	w, err := worker.New(role, h.deps)
	require.NoError(t, err)
	w.SetProjectContext(worker.ProjectContext{Description: "Build a todo app with user authentication"})
	return w
}

func recordEvents(w worker.Worker) *[]events.WorkerEvent {
	var got []events.WorkerEvent
	w.Events().Listen(func(e pubsub.Event[events.WorkerEvent]) {
		got = append(got, e.Payload)
	})
	return &got
}

func eventTypes(evs []events.WorkerEvent) []events.WorkerEventType {
	out := make([]events.WorkerEventType, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func TestNew_AllRolesImplementTheirInterface(t *testing.T) {
	h := newHarness(t)
	for _, role := range []worker.Role{
		worker.RoleProductManager, worker.RoleArchitect, worker.RoleDesigner,
		worker.RoleDeveloper, worker.RoleSecurity, worker.RoleQA,
	} {
		w, err := worker.New(role, h.deps)
		require.NoError(t, err)
		require.Equal(t, string(role), w.ID())
		require.Equal(t, role.Icon(), w.Icon())
		require.True(t, worker.Implements(w), "role %s", role)
	}

	_, err := worker.New("janitor", h.deps)
	require.ErrorIs(t, err, worker.ErrUnknownRole)
}

func TestProductManager_AnalyzeRequirements(t *testing.T) {
	h := newHarness(t)
	w := h.worker(t, worker.RoleProductManager)
	got := recordEvents(w)

	req, err := w.(worker.RequirementsAnalyst).AnalyzeRequirements(context.Background(), "Build a todo app with user authentication")
	require.NoError(t, err)
	require.Contains(t, req.Features, "user authentication")

	require.Equal(t, []events.WorkerEventType{events.WorkerStarted, events.WorkerWorking, events.WorkerComplete}, eventTypes(*got))
	for _, e := range *got {
		require.Equal(t, "product_manager", e.ParticipantID)
		require.False(t, e.Timestamp.IsZero())
	}

	// The raw answer is remembered under role:task
	_, ok := h.deps.Memory.Retrieve("product_manager", string(worker.TaskAnalyzeRequirements))
	require.True(t, ok)
}

func TestDeveloper_ImplementAndFix(t *testing.T) {
	h := newHarness(t)
	dev := h.worker(t, worker.RoleDeveloper).(worker.Developer)

	files, err := dev.Implement(context.Background(), worker.ImplementationInput{Request: "Build a todo app"})
	require.NoError(t, err)
	require.NotEmpty(t, files)

	fixed, err := dev.Fix(context.Background(), files, &worker.QAReport{Score: 50})
	require.NoError(t, err)
	require.Len(t, fixed, len(files)+1)
	require.Equal(t, mock.ChangesFile, fixed[len(fixed)-1].Path)
	require.Equal(t, files, fixed[:len(files)])
}

func TestDeveloper_NoFiles(t *testing.T) {
	h := newHarness(t)
	h.provider.RespondFunc = func(client.Request) (string, error) { return `{"files": [{"path": ""}]}`, nil }
	dev := h.worker(t, worker.RoleDeveloper).(worker.Developer)

	_, err := dev.Implement(context.Background(), worker.ImplementationInput{})
	require.ErrorContains(t, err, "no files")
}

func TestQAEngineer_ClampsScore(t *testing.T) {
	h := newHarness(t)
	h.provider.RespondFunc = func(client.Request) (string, error) { return `{"score": 140, "passed": false}`, nil }
	qa := h.worker(t, worker.RoleQA).(worker.Reviewer)

	report, err := qa.Review(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, 100, report.Score)
}

func TestWorker_ErrorEvent(t *testing.T) {
	h := newHarness(t)
	h.provider.RespondFunc = func(client.Request) (string, error) { return "", errors.New("model offline") }
	w := h.worker(t, worker.RoleArchitect)
	got := recordEvents(w)

	_, err := w.(worker.Architect).DesignArchitecture(context.Background(), &worker.Requirements{})
	require.ErrorContains(t, err, "model offline")

	types := eventTypes(*got)
	require.Equal(t, events.WorkerError, types[len(types)-1])
	require.Contains(t, (*got)[len(*got)-1].Data, "model offline")
}

func TestBase_InboxQuotedInPrompt(t *testing.T) {
	h := newHarness(t)
	w := h.worker(t, worker.RoleSecurity)

	h.deps.Router.Send("security", "architecture approved", router.SendOptions{From: message.ActorOrchestrator})
	base := w.(*worker.SecurityReviewer).Base
	require.Equal(t, 1, base.Inbox().Len())

	_, err := w.(worker.SecurityAuditor).Audit(context.Background(), nil)
	require.NoError(t, err)

	reqs := h.provider.Requests()
	require.Contains(t, reqs[len(reqs)-1].Messages[1].Content, "orchestrator (info): architecture approved")
	require.Equal(t, 1, base.Calls())

	w.Reset()
	require.Zero(t, base.Inbox().Len())
	require.Zero(t, base.Calls())
	require.Empty(t, base.ProjectContext().Description)
}

func TestBase_ProjectContextCopyOnRead(t *testing.T) {
	h := newHarness(t)
	w := h.worker(t, worker.RoleDesigner).(*worker.UIDesigner)

	pc := w.ProjectContext()
	pc.Description = "mutated"
	require.Equal(t, "Build a todo app with user authentication", w.ProjectContext().Description)
}
