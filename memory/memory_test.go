package memory

import (
	"context"
	"testing"

	"github.com/mohitkumar/agentflow/model"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *SQLiteService {
	svc, err := NewSQLiteService(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestSQLiteService(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	v1, err := svc.Append(ctx, "s1", "notes", map[string]any{"content": "a"}, "e1")
	require.NoError(t, err)
	v2, err := svc.Append(ctx, "s1", "facts", map[string]any{"k": "v"}, "e1")
	require.NoError(t, err)
	v3, err := svc.Append(ctx, "s1", "notes", map[string]any{"content": "b"}, "e2")
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, []int64{v1, v2, v3})

	other, err := svc.Append(ctx, "s2", "notes", map[string]any{"content": "z"}, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), other)

	entries, err := svc.History(ctx, "s1", "notes", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].Payload["content"])
	require.Equal(t, "b", entries[1].Payload["content"])
	require.Equal(t, "e2", entries[1].StepExecutionId)

	entries, err = svc.History(ctx, "s1", "notes", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(3), entries[0].Version)

	entries, err = svc.History(ctx, "s1", "empty", 5)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestSanitize(t *testing.T) {
	for scenario, tc := range map[string]struct {
		in   any
		want any
	}{
		"unwraps content": {in: map[string]any{"content": "hi", "usage": map[string]any{"totalTokens": 3}, "cost": 0.1}, want: "hi"},
		"keeps other keys": {
			in:   map[string]any{"content": "hi", "score": 1.0},
			want: map[string]any{"content": "hi", "score": 1.0},
		},
		"nested": {
			in:   map[string]any{"data": map[string]any{"content": "x", "usage": 1}, "list": []any{map[string]any{"content": "y"}}},
			want: map[string]any{"data": "x", "list": []any{"y"}},
		},
		"scalar": {in: 5.0, want: 5.0},
	} {
		t.Run(scenario, func(t *testing.T) {
			require.Equal(t, tc.want, Sanitize(tc.in))
		})
	}
}

func TestBridge(t *testing.T) {
	ctx := context.Background()
	bridge := NewBridge(newService(t))

	msgs, err := bridge.BuildContext(ctx, "s1", []model.MemoryReadInstruction{{Channel: "notes", Limit: 5}})
	require.NoError(t, err)
	require.Empty(t, msgs)

	output := map[string]any{"content": "draft one", "usage": map[string]any{"totalTokens": 12}}
	versions, err := bridge.WriteBack(ctx, "s1", "e1", []model.MemoryWriteInstruction{
		{Channel: "notes", Mode: model.MEMORY_WRITE_AGENT_OUTPUT},
		{Channel: "audit", Mode: model.MEMORY_WRITE_STATIC, Payload: map[string]any{"topic": "{$.launch.topic}"}},
	}, output, map[string]any{"launch": map[string]any{"topic": "go"}})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, versions)

	msgs, err = bridge.BuildContext(ctx, "s1", []model.MemoryReadInstruction{
		{Channel: "notes", Limit: 5},
		{Channel: "audit", Limit: 5},
		{Channel: "missing", Limit: 5},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "system", msgs[0].Role)
	require.Equal(t, "Memory channel \"notes\":\n- \"draft one\"", msgs[0].Content)
	require.Equal(t, "Memory channel \"audit\":\n- {\"topic\":\"go\"}", msgs[1].Content)
}
