package override

import (
	"testing"

	"github.com/mohitkumar/agentflow/model"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }
func i(v int) *int         { return &v }

func TestResolve(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"later layers win per field": testLayering,
		"all nil is empty":           testAllNil,
		"defaults only is empty":     testDefaultsOnly,
		"same value as default":      testSameAsDefault,
		"layers are copied":          testCopied,
	} {
		t.Run(scenario, fn)
	}
}

func testLayering(t *testing.T) {
	eff := Resolve(
		&model.RequestOverrides{Temperature: f(0.7)},
		&model.RequestOverrides{MaxTokens: i(500)},
		&model.RequestOverrides{Temperature: f(0.2)},
	)
	require.Equal(t, 0.2, *eff.Temperature)
	require.Equal(t, 500, *eff.MaxTokens)
	require.Nil(t, eff.TopP)
	require.False(t, eff.IsEmpty())
	require.Equal(t, map[string]any{"temperature": 0.2, "maxTokens": 500}, eff.ToMap())
}

func testAllNil(t *testing.T) {
	eff := Resolve(nil, nil, nil)
	require.True(t, eff.IsEmpty())
	require.Empty(t, eff.ToMap())
}

func testDefaultsOnly(t *testing.T) {
	eff := Resolve(&model.RequestOverrides{TopP: f(0.9)}, nil, &model.RequestOverrides{})
	require.Equal(t, 0.9, *eff.TopP)
	require.True(t, eff.IsEmpty())
}

func testSameAsDefault(t *testing.T) {
	eff := Resolve(&model.RequestOverrides{Temperature: f(0.5)}, &model.RequestOverrides{Temperature: f(0.5)}, nil)
	require.True(t, eff.IsEmpty())
}

func testCopied(t *testing.T) {
	step := &model.RequestOverrides{MaxTokens: i(10)}
	eff := Resolve(nil, step, nil)
	*step.MaxTokens = 20
	require.Equal(t, 10, *eff.MaxTokens)
}
