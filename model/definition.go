package model

import "encoding/json"

const TRANSITION_COMPLETE = "complete"

type FlowDefinition struct {
	Id          string       `json:"id"`
	Name        string       `json:"name"`
	Version     int          `json:"version"`
	StartStepId string       `json:"startStepId"`
	Steps       []StepConfig `json:"steps"`
}

type StepConfig struct {
	Id             string                   `json:"id"`
	AgentVersionId string                   `json:"agentVersionId"`
	Prompt         string                   `json:"prompt,omitempty"`
	Overrides      *RequestOverrides        `json:"overrides,omitempty"`
	MemoryReads    []MemoryReadInstruction  `json:"memoryReads,omitempty"`
	MemoryWrites   []MemoryWriteInstruction `json:"memoryWrites,omitempty"`
	Transition     Transition               `json:"transition"`
	Interaction    *InteractionConfig       `json:"interaction,omitempty"`
	MaxAttempts    int                      `json:"maxAttempts,omitempty"`
}

func (s StepConfig) Attempts() int {
	if s.MaxAttempts <= 0 {
		return 1
	}
	return s.MaxAttempts
}

type Transition struct {
	OnSuccess string   `json:"onSuccess,omitempty"`
	Branches  []Branch `json:"branches,omitempty"`
}

// Branch is taken when the javascript expression When evaluates truthy.
type Branch struct {
	When string `json:"when"`
	Next string `json:"next"`
}

type InteractionConfig struct {
	Type             string          `json:"type"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	PayloadSchema    json.RawMessage `json:"payloadSchema,omitempty"`
	SuggestedActions []string        `json:"suggestedActions,omitempty"`
	DueInSeconds     int             `json:"dueInSeconds,omitempty"`
}

type MemoryWriteMode string

const (
	MEMORY_WRITE_AGENT_OUTPUT MemoryWriteMode = "AGENT_OUTPUT"
	MEMORY_WRITE_STATIC       MemoryWriteMode = "STATIC"
)

type MemoryReadInstruction struct {
	Channel string `json:"channel"`
	Limit   int    `json:"limit"`
}

type MemoryWriteInstruction struct {
	Channel string          `json:"channel"`
	Mode    MemoryWriteMode `json:"mode"`
	Payload map[string]any  `json:"payload,omitempty"`
}

type AgentStatus string

const (
	AGENT_DRAFT      AgentStatus = "DRAFT"
	AGENT_PUBLISHED  AgentStatus = "PUBLISHED"
	AGENT_DEPRECATED AgentStatus = "DEPRECATED"
)

type AgentVersion struct {
	Id                string            `json:"id"`
	ProviderId        string            `json:"providerId"`
	ModelId           string            `json:"modelId"`
	SystemPrompt      string            `json:"systemPrompt,omitempty"`
	InvocationOptions *RequestOverrides `json:"invocationOptions,omitempty"`
	MaxTokens         int               `json:"maxTokens,omitempty"`
	Status            AgentStatus       `json:"status"`
}

// RequestOverrides holds optional model parameters; nil fields are unset.
type RequestOverrides struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
}
