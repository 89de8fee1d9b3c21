package model

import "time"

type SessionStatus string

const (
	SESSION_RUNNING            SessionStatus = "RUNNING"
	SESSION_PAUSED             SessionStatus = "PAUSED"
	SESSION_WAITING_USER_INPUT SessionStatus = "WAITING_USER_INPUT"
	SESSION_COMPLETED          SessionStatus = "COMPLETED"
	SESSION_FAILED             SessionStatus = "FAILED"
	SESSION_CANCELLED          SessionStatus = "CANCELLED"
)

func (s SessionStatus) IsTerminal() bool {
	return s == SESSION_COMPLETED || s == SESSION_FAILED || s == SESSION_CANCELLED
}

type FlowSession struct {
	Id                     string            `json:"id"`
	DefinitionId           string            `json:"definitionId"`
	Status                 SessionStatus     `json:"status"`
	CurrentStepId          string            `json:"currentStepId"`
	CurrentStepExecutionId string            `json:"currentStepExecutionId"`
	StateVersion           int64             `json:"stateVersion"`
	CurrentMemoryVersion   int64             `json:"currentMemoryVersion,omitempty"`
	SharedContext          map[string]any    `json:"sharedContext,omitempty"`
	LaunchParameters       map[string]any    `json:"launchParameters,omitempty"`
	Overrides              *RequestOverrides `json:"overrides,omitempty"`
	ChatSessionId          string            `json:"chatSessionId,omitempty"`
	StartedAt              time.Time         `json:"startedAt"`
	UpdatedAt              time.Time         `json:"updatedAt"`
	CompletedAt            *time.Time        `json:"completedAt,omitempty"`
}

// Touch records a mutation of the session.
func (s *FlowSession) Touch(now time.Time) {
	s.StateVersion++
	s.UpdatedAt = now
}

func (s *FlowSession) Finish(status SessionStatus, now time.Time) {
	s.Status = status
	s.CompletedAt = &now
}

type StepStatus string

const (
	STEP_PENDING            StepStatus = "PENDING"
	STEP_RUNNING            StepStatus = "RUNNING"
	STEP_COMPLETED          StepStatus = "COMPLETED"
	STEP_FAILED             StepStatus = "FAILED"
	STEP_WAITING_USER_INPUT StepStatus = "WAITING_USER_INPUT"
	STEP_CANCELLED          StepStatus = "CANCELLED"
)

func (s StepStatus) IsTerminal() bool {
	return s == STEP_COMPLETED || s == STEP_FAILED || s == STEP_CANCELLED
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// INTERACTION_INPUT_KEY is the execution input key a human response is merged under.
const INTERACTION_INPUT_KEY = "interaction"

type FlowStepExecution struct {
	Id            string         `json:"id"`
	SessionId     string         `json:"sessionId"`
	StepId        string         `json:"stepId"`
	Attempt       int            `json:"attempt"`
	Status        StepStatus     `json:"status"`
	InputPayload  map[string]any `json:"inputPayload,omitempty"`
	OutputPayload map[string]any `json:"outputPayload,omitempty"`
	Usage         *Usage         `json:"usage,omitempty"`
	Cost          float64        `json:"cost,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
}

func (e *FlowStepExecution) HasInteraction() bool {
	if e.InputPayload == nil {
		return false
	}
	_, ok := e.InputPayload[INTERACTION_INPUT_KEY]
	return ok
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
