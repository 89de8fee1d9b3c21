package metadata_test

import (
	"context"
	"strings"
	"testing"

	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/metadata"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

func twoStepFlow() model.FlowDefinition {
	return model.FlowDefinition{
		Id:          "review",
		StartStepId: "draft",
		Steps: []model.StepConfig{
			{
				Id:             "draft",
				AgentVersionId: "writer-v1",
				Transition: model.Transition{
					OnSuccess: "publish",
					Branches: []model.Branch{
						{When: "$.output.score < 0.5", Next: "rewrite"},
					},
				},
			},
			{Id: "rewrite", AgentVersionId: "writer-v1", Transition: model.Transition{OnSuccess: "publish"}},
			{Id: "publish", AgentVersionId: "editor-v1", Transition: model.Transition{OnSuccess: model.TRANSITION_COMPLETE}},
		},
	}
}

func TestCompile(t *testing.T) {
	fl, err := metadata.Compile(twoStepFlow())
	require.NoError(t, err)
	require.Equal(t, "draft", fl.StartStep().Id)
	step, ok := fl.Step("publish")
	require.True(t, ok)
	require.Equal(t, "editor-v1", step.AgentVersionId)
	require.False(t, fl.RequiresInteraction())
	require.ElementsMatch(t, []string{"writer-v1", "editor-v1"}, fl.AgentVersionIds())
	require.True(t, metadata.IsComplete(model.TRANSITION_COMPLETE))
	require.True(t, metadata.IsComplete(""))
	require.False(t, metadata.IsComplete("publish"))
}

func TestCompileRejects(t *testing.T) {
	for scenario, mutate := range map[string]func(def *model.FlowDefinition){
		"missing id":          func(def *model.FlowDefinition) { def.Id = "" },
		"no steps":            func(def *model.FlowDefinition) { def.Steps = nil },
		"unknown start":       func(def *model.FlowDefinition) { def.StartStepId = "nope" },
		"duplicate step":      func(def *model.FlowDefinition) { def.Steps[1].Id = "draft" },
		"reserved step id":    func(def *model.FlowDefinition) { def.Steps[1].Id = model.TRANSITION_COMPLETE },
		"missing agent":       func(def *model.FlowDefinition) { def.Steps[0].AgentVersionId = "" },
		"unknown target":      func(def *model.FlowDefinition) { def.Steps[1].Transition.OnSuccess = "ghost" },
		"branch no condition": func(def *model.FlowDefinition) { def.Steps[0].Transition.Branches[0].When = "" },
		"branch bad target":   func(def *model.FlowDefinition) { def.Steps[0].Transition.Branches[0].Next = "ghost" },
		"bad write mode": func(def *model.FlowDefinition) {
			def.Steps[0].MemoryWrites = []model.MemoryWriteInstruction{{Channel: "notes", Mode: "APPEND"}}
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			def := twoStepFlow()
			mutate(&def)
			_, err := metadata.Compile(def)
			require.Error(t, err)
			require.True(t, api.IsValidation(err))
		})
	}
}

func TestNextStep(t *testing.T) {
	fl, err := metadata.Compile(twoStepFlow())
	require.NoError(t, err)
	draft, _ := fl.Step("draft")

	next, err := fl.NextStep(draft, map[string]any{"output": map[string]any{"score": 0.2}})
	require.NoError(t, err)
	require.Equal(t, "rewrite", next)

	next, err = fl.NextStep(draft, map[string]any{"output": map[string]any{"score": 0.9}})
	require.NoError(t, err)
	require.Equal(t, "publish", next)

	publish, _ := fl.Step("publish")
	next, err = fl.NextStep(publish, nil)
	require.NoError(t, err)
	require.True(t, metadata.IsComplete(next))

	broken := *draft
	broken.Transition.Branches = []model.Branch{{When: "$.output.missing.deeper", Next: "publish"}}
	_, err = fl.NextStep(&broken, map[string]any{"output": map[string]any{}})
	require.Error(t, err)
}

func TestService(t *testing.T) {
	ctx := context.Background()
	svc := metadata.NewService(memory.NewMetadataStorage())

	err := svc.SaveFlow(ctx, twoStepFlow())
	require.Error(t, err)
	require.True(t, api.IsValidation(err))

	require.NoError(t, svc.SaveAgent(ctx, model.AgentVersion{Id: "writer-v1", ProviderId: "openai", ModelId: "m", Status: model.AGENT_PUBLISHED}))
	require.NoError(t, svc.SaveAgent(ctx, model.AgentVersion{Id: "editor-v1", ProviderId: "openai", ModelId: "m", Status: model.AGENT_DRAFT}))
	require.NoError(t, svc.SaveFlow(ctx, twoStepFlow()))

	fl, err := svc.GetFlow(ctx, "review")
	require.NoError(t, err)
	again, err := svc.GetFlow(ctx, "review")
	require.NoError(t, err)
	require.Same(t, fl, again)

	agent, err := svc.GetAgentVersion(ctx, "editor-v1")
	require.NoError(t, err)
	require.Equal(t, model.AGENT_DRAFT, agent.Status)

	// saving evicts the cached copy
	agent.Status = model.AGENT_PUBLISHED
	require.NoError(t, svc.SaveAgent(ctx, *agent))
	agent, err = svc.GetAgentVersion(ctx, "editor-v1")
	require.NoError(t, err)
	require.Equal(t, model.AGENT_PUBLISHED, agent.Status)

	_, err = svc.GetFlow(ctx, "missing")
	require.True(t, api.IsNotFound(err))

	err = svc.SaveAgent(ctx, model.AgentVersion{Id: "x", ProviderId: "p", ModelId: "m", Status: "LIVE"})
	require.True(t, api.IsValidation(err))
}

const catalogYAML = `
agents:
  - id: writer-v1
    providerId: openai
    modelId: gpt-4o-mini
    systemPrompt: You write short posts.
    status: PUBLISHED
    invocationOptions:
      temperature: 0.7
flows:
  - id: approve
    startStepId: draft
    steps:
      - id: draft
        agentVersionId: writer-v1
        prompt: "Write about {$.launch.topic}"
        interaction:
          type: approval
          title: Approve the topic
          payloadSchema:
            type: object
            required: [approved]
        transition:
          onSuccess: complete
`

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	catalog, err := metadata.ReadCatalog(strings.NewReader(catalogYAML))
	require.NoError(t, err)
	require.Len(t, catalog.Agents, 1)
	require.Len(t, catalog.Flows, 1)
	require.Equal(t, 0.7, *catalog.Agents[0].InvocationOptions.Temperature)
	require.JSONEq(t, `{"type":"object","required":["approved"]}`, string(catalog.Flows[0].Steps[0].Interaction.PayloadSchema))

	svc := metadata.NewService(memory.NewMetadataStorage())
	require.NoError(t, metadata.Import(ctx, svc, catalog))
	fl, err := svc.GetFlow(ctx, "approve")
	require.NoError(t, err)
	require.True(t, fl.RequiresInteraction())
}
