package invocation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/override"
	"github.com/stretchr/testify/require"
)

type scriptedInvoker struct {
	calls   atomic.Int32
	results []error
}

func (s *scriptedInvoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	n := int(s.calls.Add(1))
	if n <= len(s.results) && s.results[n-1] != nil {
		return nil, s.results[n-1]
	}
	return &Result{Content: "ok"}, nil
}

func fastPolicy(attempts int) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = attempts
	p.InitialDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	return p
}

func TestRunner(t *testing.T) {
	unavailable := &StatusError{Code: 503, Err: errors.New("overloaded")}
	for scenario, tc := range map[string]struct {
		results   []error
		attempts  int
		wantErr   bool
		wantCalls int32
	}{
		"success first try":           {results: nil, attempts: 3, wantCalls: 1},
		"retryable then success":      {results: []error{unavailable, unavailable}, attempts: 3, wantCalls: 3},
		"retryable exhausted":         {results: []error{unavailable, unavailable, unavailable}, attempts: 3, wantErr: true, wantCalls: 3},
		"non retryable status":        {results: []error{&StatusError{Code: 400, Err: errors.New("bad")}}, attempts: 3, wantErr: true, wantCalls: 1},
		"error without status":        {results: []error{errors.New("boom")}, attempts: 3, wantErr: true, wantCalls: 1},
		"single attempt policy":       {results: []error{unavailable}, attempts: 1, wantErr: true, wantCalls: 1},
		"zero attempts means one try": {results: []error{unavailable}, attempts: 0, wantErr: true, wantCalls: 1},
	} {
		t.Run(scenario, func(t *testing.T) {
			inv := &scriptedInvoker{results: tc.results}
			runner := NewRunner(inv, fastPolicy(tc.attempts), nil)
			res, err := runner.Invoke(context.Background(), Request{ProviderId: "openai"})
			if tc.wantErr {
				require.Error(t, err)
				require.Nil(t, res)
			} else {
				require.NoError(t, err)
				require.Equal(t, "ok", res.Content)
			}
			require.Equal(t, tc.wantCalls, inv.calls.Load())
		})
	}
}

func TestRunnerProviderPolicy(t *testing.T) {
	unavailable := &StatusError{Code: 429, Err: errors.New("slow down")}
	inv := &scriptedInvoker{results: []error{unavailable, unavailable, unavailable, unavailable}}
	runner := NewRunner(inv, fastPolicy(1), map[string]RetryPolicy{"anthropic": fastPolicy(5)})
	res, err := runner.Invoke(context.Background(), Request{ProviderId: "anthropic"})
	require.NoError(t, err)
	require.Equal(t, "ok", res.Content)
	require.Equal(t, int32(5), inv.calls.Load())
	require.Equal(t, 1, runner.Policy("other").MaxAttempts)
}

func TestRunnerKeepsLastError(t *testing.T) {
	last := &StatusError{Code: 502, Err: errors.New("last")}
	inv := &scriptedInvoker{results: []error{&StatusError{Code: 502, Err: errors.New("first")}, last}}
	_, err := NewRunner(inv, fastPolicy(2), nil).Invoke(context.Background(), Request{})
	require.ErrorIs(t, err, last)
}

func TestBackOffShape(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, InitialDelay: 250 * time.Millisecond, Multiplier: 2, MaxDelay: 400 * time.Millisecond}
	b := p.backOff()
	b.Reset()
	require.Equal(t, 250*time.Millisecond, b.NextBackOff())
	require.Equal(t, 400*time.Millisecond, b.NextBackOff())
	require.Equal(t, 400*time.Millisecond, b.NextBackOff())
	require.Less(t, b.NextBackOff(), time.Duration(0))

	fixed := RetryPolicy{MaxAttempts: 2, InitialDelay: 100 * time.Millisecond, Multiplier: 1}.backOff()
	fixed.Reset()
	require.Equal(t, 100*time.Millisecond, fixed.NextBackOff())
	require.Less(t, fixed.NextBackOff(), time.Duration(0))
}

func TestOpenAIInvoker(t *testing.T) {
	var captured map[string]any
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"hello there"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":11,"completion_tokens":3,"total_tokens":14}}`))
	}))
	defer server.Close()

	inv := NewOpenAIInvoker(OpenAIConfig{APIKey: "test", BaseURL: server.URL + "/v1"})
	temp := 0.2
	req := Request{
		ProviderId:     "openai",
		ModelId:        "gpt-4o-mini",
		SystemPrompt:   "be brief",
		MemoryMessages: []model.ChatMessage{{Role: "system", Content: "Memory channel \"notes\":\n- \"x\""}},
		Params:         map[string]any{"topic": "go"},
		UserMessage:    "say hi",
		Overrides:      override.Resolve(nil, nil, &model.RequestOverrides{Temperature: &temp}),
		MaxTokens:      256,
	}
	res, err := inv.Invoke(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "hello there", res.Content)
	require.Equal(t, model.Usage{PromptTokens: 11, CompletionTokens: 3, TotalTokens: 14}, res.Usage)

	require.Equal(t, "gpt-4o-mini", captured["model"])
	require.InDelta(t, 0.2, captured["temperature"], 0.0001)
	require.Equal(t, float64(256), captured["max_tokens"])
	messages := captured["messages"].([]any)
	require.Len(t, messages, 4)
	require.Equal(t, "user", messages[3].(map[string]any)["role"])
	require.Equal(t, "say hi", messages[3].(map[string]any)["content"])

	status = http.StatusServiceUnavailable
	_, err = inv.Invoke(context.Background(), req)
	require.Error(t, err)
	code, ok := StatusOf(err)
	require.True(t, ok)
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestOpenAIInvokerSamplingParams(t *testing.T) {
	zero := 0.0
	half := 0.5
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = nil
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer server.Close()
	inv := NewOpenAIInvoker(OpenAIConfig{APIKey: "test", BaseURL: server.URL + "/v1"})

	for scenario, fn := range map[string]func(t *testing.T){
		"explicit zero temperature is sent": func(t *testing.T) {
			req := Request{ModelId: "gpt-4o-mini", UserMessage: "hi",
				Overrides: override.Resolve(nil, &model.RequestOverrides{Temperature: &zero}, nil)}
			_, err := inv.Invoke(context.Background(), req)
			require.NoError(t, err)
			temp, ok := captured["temperature"]
			require.True(t, ok)
			require.InDelta(t, 0, temp, 1e-30)
			_, ok = captured["top_p"]
			require.False(t, ok)
		},
		"explicit zero top p is sent": func(t *testing.T) {
			req := Request{ModelId: "gpt-4o-mini", UserMessage: "hi",
				Overrides: override.Resolve(&model.RequestOverrides{Temperature: &half}, nil, &model.RequestOverrides{TopP: &zero})}
			_, err := inv.Invoke(context.Background(), req)
			require.NoError(t, err)
			require.InDelta(t, 0.5, captured["temperature"], 0.0001)
			_, ok := captured["top_p"]
			require.True(t, ok)
		},
		"unset params are omitted": func(t *testing.T) {
			req := Request{ModelId: "gpt-4o-mini", UserMessage: "hi"}
			_, err := inv.Invoke(context.Background(), req)
			require.NoError(t, err)
			_, ok := captured["temperature"]
			require.False(t, ok)
			_, ok = captured["top_p"]
			require.False(t, ok)
		},
	} {
		t.Run(scenario, fn)
	}
}
