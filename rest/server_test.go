package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohitkumar/agentflow/analytics"
	"github.com/mohitkumar/agentflow/engine"
	"github.com/mohitkumar/agentflow/interaction"
	"github.com/mohitkumar/agentflow/invocation"
	"github.com/mohitkumar/agentflow/memory"
	"github.com/mohitkumar/agentflow/metadata"
	"github.com/mohitkumar/agentflow/model"
	store "github.com/mohitkumar/agentflow/persistence/memory"
	"github.com/mohitkumar/agentflow/service"
	"github.com/mohitkumar/agentflow/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type staticInvoker struct{}

func (staticInvoker) Invoke(ctx context.Context, req invocation.Request) (*invocation.Result, error) {
	return &invocation.Result{Content: "hello", Usage: model.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}}, nil
}

type testServer struct {
	http      *httptest.Server
	engine    *engine.FlowEngine
	collector *analytics.PrometheusDataCollector
}

func newTestServer(t *testing.T) *testServer {
	storage := store.NewStorage()
	clock := util.SystemClock{}
	memoryService, err := memory.NewSQLiteService(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { memoryService.Close() })

	metadataService := metadata.NewService(store.NewMetadataStorage())
	gate := interaction.NewGate(storage, interaction.OpenAPISchemaValidator{}, clock)
	runner := invocation.NewRunner(staticInvoker{}, invocation.DefaultRetryPolicy(), nil)
	eng := engine.NewFlowEngine(storage, metadataService, runner, memory.NewBridge(memoryService), gate)

	reg := prometheus.NewRegistry()
	collector := analytics.NewPrometheusDataCollector(reg)
	srv, err := NewServer(0, metadataService, service.NewControlService(storage, eng, gate, clock), service.NewStatusService(storage), reg)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return &testServer{http: ts, engine: eng, collector: collector}
}

func (ts *testServer) do(t *testing.T, method string, path string, body any, out any) int {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	require.NoError(t, err)
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) drain(t *testing.T) {
	for {
		processed, err := ts.engine.ProcessNextJob(context.Background(), "w")
		require.NoError(t, err)
		if !processed {
			return
		}
	}
}

func (ts *testServer) seed(t *testing.T) {
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/metadata/agent", model.AgentVersion{
		Id: "writer-v1", ProviderId: "openai", ModelId: "gpt-4o-mini", Status: model.AGENT_PUBLISHED,
	}, nil))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/metadata/flow", model.FlowDefinition{
		Id:          "greet",
		StartStepId: "hello",
		Steps: []model.StepConfig{{
			Id: "hello", AgentVersionId: "writer-v1", Prompt: "Say hi to {$.launch.name}",
			Transition: model.Transition{OnSuccess: "confirm"},
		}, {
			Id: "confirm", AgentVersionId: "writer-v1",
			Transition:  model.Transition{OnSuccess: model.TRANSITION_COMPLETE},
			Interaction: &model.InteractionConfig{Type: "confirm", Title: "Send it?"},
		}},
	}, nil))
}

func TestMetadataEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)

	var def model.FlowDefinition
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/metadata/flow/greet", nil, &def))
	require.Len(t, def.Steps, 2)

	var agent model.AgentVersion
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/metadata/agent/writer-v1", nil, &agent))
	require.Equal(t, "gpt-4o-mini", agent.ModelId)

	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/metadata/flow/missing", nil, nil))
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/metadata/flow", model.FlowDefinition{Id: "empty"}, nil))
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/metadata/flow", model.FlowDefinition{
		Id: "orphan", StartStepId: "a",
		Steps: []model.StepConfig{{Id: "a", AgentVersionId: "nobody", Transition: model.Transition{OnSuccess: model.TRANSITION_COMPLETE}}},
	}, nil))
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/session", model.StartFlowRequest{}, nil))
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/session", model.StartFlowRequest{DefinitionId: "greet"}, nil))

	var session model.FlowSession
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/session", model.StartFlowRequest{
		DefinitionId:     "greet",
		LaunchParameters: map[string]any{"name": "Ada"},
		ChatSessionId:    "chat-9",
	}, &session))
	require.Equal(t, model.SESSION_RUNNING, session.Status)

	ts.drain(t)

	var snap service.Snapshot
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/session/"+session.Id, nil, &snap))
	require.Equal(t, model.SESSION_WAITING_USER_INPUT, snap.Session.Status)
	require.Len(t, snap.Executions, 2)

	var pending []*model.FlowInteractionRequest
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/session/"+session.Id+"/interactions", nil, &pending))
	require.Len(t, pending, 1)
	require.Equal(t, "Send it?", pending[0].Title)

	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/interaction/"+pending[0].Id+"/respond", map[string]any{
		"chatSessionId": "chat-9",
	}, nil))
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/interaction/"+pending[0].Id+"/respond", map[string]any{
		"chatSessionId": "chat-9",
		"respondedBy":   "ada",
		"payload":       map[string]any{"send": true},
	}, nil))
	require.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/interaction/"+pending[0].Id+"/auto-resolve", map[string]any{
		"respondedBy": "system",
	}, nil))

	ts.drain(t)
	var polled service.Snapshot
	path := "/session/" + session.Id + "/poll?since=0&version=0&timeoutMs=100"
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path, nil, &polled))
	require.True(t, polled.Changed)
	require.Equal(t, model.SESSION_COMPLETED, polled.Session.Status)
	// an oversized timeout is capped, not rejected
	path = "/session/" + session.Id + "/poll?since=0&version=0&timeoutMs=9223372036854775807"
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path, nil, &polled))
	require.True(t, polled.Changed)

	require.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/session/"+session.Id+"/pause", nil, nil))
	require.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/session/"+session.Id+"/cancel", nil, nil))
	require.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/session/"+session.Id+"/poll?since=x", nil, nil))
}

func TestControlEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t)

	var session model.FlowSession
	require.Equal(t, http.StatusCreated, ts.do(t, http.MethodPost, "/session", model.StartFlowRequest{
		DefinitionId: "greet", ChatSessionId: "chat-1",
	}, &session))

	var paused model.FlowSession
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/session/"+session.Id+"/pause", nil, &paused))
	require.Equal(t, model.SESSION_PAUSED, paused.Status)
	require.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/session/"+session.Id+"/retry", nil, nil))

	var resumed model.FlowSession
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/session/"+session.Id+"/resume", nil, &resumed))
	require.Equal(t, model.SESSION_RUNNING, resumed.Status)

	var cancelled model.FlowSession
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/session/"+session.Id+"/cancel", map[string]any{"cancelledBy": "ops"}, &cancelled))
	require.Equal(t, model.SESSION_CANCELLED, cancelled.Status)

	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/session/missing/pause", nil, nil))
	require.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/session/missing", nil, nil))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.collector.RecordEvent(model.FlowEvent{EventType: model.EVENT_FLOW_STARTED, Status: "RUNNING", CreatedAt: time.Now()})

	resp, err := ts.http.Client().Get(ts.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `agentflow_events_total{status="RUNNING",type="FLOW_STARTED"} 1`)
}
