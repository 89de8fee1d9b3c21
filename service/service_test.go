package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/engine"
	"github.com/mohitkumar/agentflow/interaction"
	"github.com/mohitkumar/agentflow/invocation"
	"github.com/mohitkumar/agentflow/memory"
	"github.com/mohitkumar/agentflow/metadata"
	"github.com/mohitkumar/agentflow/model"
	store "github.com/mohitkumar/agentflow/persistence/memory"
	"github.com/mohitkumar/agentflow/util"
	"github.com/stretchr/testify/require"
)

type invokerFunc func(ctx context.Context, req invocation.Request) (*invocation.Result, error)

func (f invokerFunc) Invoke(ctx context.Context, req invocation.Request) (*invocation.Result, error) {
	return f(ctx, req)
}

type fixture struct {
	storage *store.Storage
	engine  *engine.FlowEngine
	control *ControlService
	status  *StatusService
	invoke  invokerFunc
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	storage := store.NewStorage()
	clock := util.NewManualClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	memoryService, err := memory.NewSQLiteService(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { memoryService.Close() })

	f := &fixture{storage: storage}
	f.invoke = func(ctx context.Context, req invocation.Request) (*invocation.Result, error) {
		return &invocation.Result{Content: "ok"}, nil
	}
	policy := invocation.DefaultRetryPolicy()
	policy.MaxAttempts = 1
	runner := invocation.NewRunner(invokerFunc(func(ctx context.Context, req invocation.Request) (*invocation.Result, error) {
		return f.invoke(ctx, req)
	}), policy, nil)

	metadataService := metadata.NewService(store.NewMetadataStorage())
	require.NoError(t, metadataService.SaveAgent(ctx, model.AgentVersion{
		Id: "writer-v1", ProviderId: "openai", ModelId: "gpt-4o-mini", Status: model.AGENT_PUBLISHED,
	}))
	require.NoError(t, metadataService.SaveFlow(ctx, model.FlowDefinition{
		Id:          "plain",
		StartStepId: "write",
		Steps: []model.StepConfig{{
			Id: "write", AgentVersionId: "writer-v1", Prompt: "go",
			Transition: model.Transition{OnSuccess: model.TRANSITION_COMPLETE},
		}},
	}))
	require.NoError(t, metadataService.SaveFlow(ctx, model.FlowDefinition{
		Id:          "review",
		StartStepId: "write",
		Steps: []model.StepConfig{{
			Id: "write", AgentVersionId: "writer-v1", Prompt: "go",
			Transition: model.Transition{OnSuccess: model.TRANSITION_COMPLETE},
			Interaction: &model.InteractionConfig{
				Type:          "approval",
				PayloadSchema: json.RawMessage(`{"type":"object"}`),
			},
		}},
	}))

	gate := interaction.NewGate(storage, interaction.OpenAPISchemaValidator{}, clock)
	f.engine = engine.NewFlowEngine(storage, metadataService, runner, memory.NewBridge(memoryService), gate, engine.WithClock(clock))
	f.control = NewControlService(storage, f.engine, gate, clock)
	f.status = NewStatusService(storage)
	f.status.tick = 5 * time.Millisecond
	return f
}

func (f *fixture) start(t *testing.T, definitionId string) *model.FlowSession {
	s, err := f.control.Start(context.Background(), model.StartFlowRequest{DefinitionId: definitionId, ChatSessionId: "chat-1"})
	require.NoError(t, err)
	return s
}

func (f *fixture) drain(t *testing.T) int {
	n := 0
	for {
		processed, err := f.engine.ProcessNextJob(context.Background(), "w")
		require.NoError(t, err)
		if !processed {
			return n
		}
		n++
	}
}

func (f *fixture) snapshot(t *testing.T, id string) *Snapshot {
	snap, err := f.status.CurrentSnapshot(context.Background(), id)
	require.NoError(t, err)
	return snap
}

func eventTypes(events []*model.FlowEvent) []model.EventType {
	var types []model.EventType
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

func (f *fixture) pendingRequest(t *testing.T, sessionId string) *model.FlowInteractionRequest {
	pending, err := f.storage.ListPendingInteractionRequests(context.Background(), sessionId)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	return pending[0]
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.start(t, "plain")

	paused, err := f.control.Pause(ctx, session.Id)
	require.NoError(t, err)
	require.Equal(t, model.SESSION_PAUSED, paused.Status)
	_, err = f.control.Pause(ctx, session.Id)
	require.True(t, api.IsConflict(err))

	// the queued job is stale while paused
	require.Equal(t, 1, f.drain(t))
	snap := f.snapshot(t, session.Id)
	require.Equal(t, model.STEP_PENDING, snap.Executions[0].Status)

	resumed, err := f.control.Resume(ctx, session.Id)
	require.NoError(t, err)
	require.Equal(t, model.SESSION_RUNNING, resumed.Status)
	_, err = f.control.Resume(ctx, session.Id)
	require.True(t, api.IsConflict(err))

	require.Equal(t, 1, f.drain(t))
	snap = f.snapshot(t, session.Id)
	require.Equal(t, model.SESSION_COMPLETED, snap.Session.Status)
	require.Equal(t, []model.EventType{
		model.EVENT_FLOW_STARTED,
		model.EVENT_FLOW_PAUSED,
		model.EVENT_FLOW_RESUMED,
		model.EVENT_STEP_STARTED,
		model.EVENT_STEP_COMPLETED,
		model.EVENT_FLOW_COMPLETED,
	}, eventTypes(snap.Events))

	_, err = f.control.Pause(ctx, session.Id)
	require.True(t, api.IsConflict(err))
	_, err = f.control.Pause(ctx, "missing")
	require.True(t, api.IsNotFound(err))
}

func TestRespondWhilePaused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.start(t, "review")
	require.Equal(t, 1, f.drain(t))
	request := f.pendingRequest(t, session.Id)

	_, err := f.control.Pause(ctx, session.Id)
	require.NoError(t, err)
	_, err = f.control.Respond(ctx, model.RespondRequest{
		RequestId: request.Id, ChatSessionId: "chat-1", RespondedBy: "alice", Payload: map[string]any{"ok": true},
	})
	require.NoError(t, err)
	snap := f.snapshot(t, session.Id)
	require.Equal(t, model.SESSION_PAUSED, snap.Session.Status)
	require.Equal(t, model.STEP_PENDING, snap.Executions[0].Status)
	require.Equal(t, 0, f.drain(t))

	_, err = f.control.Resume(ctx, session.Id)
	require.NoError(t, err)
	require.Equal(t, 1, f.drain(t))
	require.Equal(t, model.SESSION_COMPLETED, f.snapshot(t, session.Id).Session.Status)
}

func TestResumeBackToWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.start(t, "review")
	f.drain(t)

	_, err := f.control.Pause(ctx, session.Id)
	require.NoError(t, err)
	resumed, err := f.control.Resume(ctx, session.Id)
	require.NoError(t, err)
	require.Equal(t, model.SESSION_WAITING_USER_INPUT, resumed.Status)
	require.Equal(t, 0, f.drain(t))
}

func TestCancelWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.start(t, "review")
	f.drain(t)
	request := f.pendingRequest(t, session.Id)

	cancelled, err := f.control.Cancel(ctx, session.Id, "bob")
	require.NoError(t, err)
	require.Equal(t, model.SESSION_CANCELLED, cancelled.Status)

	snap := f.snapshot(t, session.Id)
	require.Equal(t, model.STEP_CANCELLED, snap.Executions[0].Status)
	require.Equal(t, []model.EventType{
		model.EVENT_FLOW_STARTED,
		model.EVENT_STEP_STARTED,
		model.EVENT_HUMAN_INTERACTION_REQUIRED,
		model.EVENT_HUMAN_INTERACTION_AUTO_RESOLVED,
		model.EVENT_FLOW_CANCELLED,
	}, eventTypes(snap.Events))

	stored, err := f.storage.GetInteractionRequest(ctx, request.Id)
	require.NoError(t, err)
	require.Equal(t, model.INTERACTION_AUTO_RESOLVED, stored.Status)

	_, err = f.control.Respond(ctx, model.RespondRequest{RequestId: request.Id, ChatSessionId: "chat-1", RespondedBy: "alice"})
	require.True(t, api.IsConflict(err))
	_, err = f.control.Cancel(ctx, session.Id, "bob")
	require.True(t, api.IsConflict(err))
}

func TestCancelDropsInFlightResult(t *testing.T) {
	f := newFixture(t)
	session := f.start(t, "plain")
	f.invoke = func(ctx context.Context, req invocation.Request) (*invocation.Result, error) {
		_, err := f.control.Cancel(ctx, session.Id, "")
		require.NoError(t, err)
		return &invocation.Result{Content: "late"}, nil
	}
	require.Equal(t, 1, f.drain(t))

	snap := f.snapshot(t, session.Id)
	require.Equal(t, model.SESSION_CANCELLED, snap.Session.Status)
	require.Equal(t, model.STEP_CANCELLED, snap.Executions[0].Status)
	require.Nil(t, snap.Executions[0].OutputPayload)
	require.Equal(t, []model.EventType{
		model.EVENT_FLOW_STARTED,
		model.EVENT_STEP_STARTED,
		model.EVENT_FLOW_CANCELLED,
	}, eventTypes(snap.Events))
	require.Equal(t, interaction.SYSTEM_RESPONDER, snap.Events[2].Payload["cancelledBy"])
}

func TestRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.start(t, "plain")
	_, err := f.control.Retry(ctx, session.Id)
	require.True(t, api.IsConflict(err))

	f.invoke = func(ctx context.Context, req invocation.Request) (*invocation.Result, error) {
		return nil, &invocation.StatusError{Code: 400, Err: context.DeadlineExceeded}
	}
	f.drain(t)
	require.Equal(t, model.SESSION_FAILED, f.snapshot(t, session.Id).Session.Status)

	f.invoke = func(ctx context.Context, req invocation.Request) (*invocation.Result, error) {
		return &invocation.Result{Content: "ok"}, nil
	}
	retried, err := f.control.Retry(ctx, session.Id)
	require.NoError(t, err)
	require.Equal(t, model.SESSION_RUNNING, retried.Status)
	require.Nil(t, retried.CompletedAt)
	f.drain(t)

	snap := f.snapshot(t, session.Id)
	require.Equal(t, model.SESSION_COMPLETED, snap.Session.Status)
	require.Len(t, snap.Executions, 2)
	require.Equal(t, 2, snap.Executions[1].Attempt)
}

func TestPollSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.start(t, "plain")
	snap := f.snapshot(t, session.Id)
	lastEvent := snap.Events[len(snap.Events)-1].Id

	t.Run("timeout", func(t *testing.T) {
		begin := time.Now()
		polled, err := f.status.PollSession(ctx, session.Id, lastEvent, snap.Session.StateVersion, 30*time.Millisecond)
		require.NoError(t, err)
		require.False(t, polled.Changed)
		require.Empty(t, polled.Events)
		require.GreaterOrEqual(t, time.Since(begin), 30*time.Millisecond)
	})

	t.Run("stale version", func(t *testing.T) {
		polled, err := f.status.PollSession(ctx, session.Id, lastEvent, snap.Session.StateVersion-1, time.Second)
		require.NoError(t, err)
		require.True(t, polled.Changed)
	})

	t.Run("new events", func(t *testing.T) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			f.control.Pause(ctx, session.Id)
		}()
		polled, err := f.status.PollSession(ctx, session.Id, lastEvent, snap.Session.StateVersion, 5*time.Second)
		require.NoError(t, err)
		require.True(t, polled.Changed)
		require.Equal(t, []model.EventType{model.EVENT_FLOW_PAUSED}, eventTypes(polled.Events))
	})

	t.Run("terminal", func(t *testing.T) {
		cancelled, err := f.control.Cancel(ctx, session.Id, "bob")
		require.NoError(t, err)
		last, err := f.storage.ListEvents(ctx, session.Id, 0)
		require.NoError(t, err)
		polled, err := f.status.PollSession(ctx, session.Id, last[len(last)-1].Id, cancelled.StateVersion, 5*time.Second)
		require.NoError(t, err)
		require.True(t, polled.Changed)
		require.Equal(t, model.SESSION_CANCELLED, polled.Session.Status)
	})

	_, err := f.status.PollSession(ctx, "missing", 0, 0, time.Millisecond)
	require.True(t, api.IsNotFound(err))
}

func TestPollTimeout(t *testing.T) {
	for scenario, tc := range map[string]struct {
		requested time.Duration
		expected  time.Duration
	}{
		"unset":    {0, DEFAULT_POLL_TIMEOUT},
		"negative": {-time.Second, DEFAULT_POLL_TIMEOUT},
		"short":    {2 * time.Second, 2 * time.Second},
		"at cap":   {DEFAULT_POLL_TIMEOUT, DEFAULT_POLL_TIMEOUT},
		"too long": {time.Hour, DEFAULT_POLL_TIMEOUT},
	} {
		t.Run(scenario, func(t *testing.T) {
			require.Equal(t, tc.expected, pollTimeout(tc.requested))
		})
	}
}
