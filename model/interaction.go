package model

import (
	"encoding/json"
	"time"
)

type InteractionStatus string

const (
	INTERACTION_PENDING       InteractionStatus = "PENDING"
	INTERACTION_ANSWERED      InteractionStatus = "ANSWERED"
	INTERACTION_AUTO_RESOLVED InteractionStatus = "AUTO_RESOLVED"
	INTERACTION_EXPIRED       InteractionStatus = "EXPIRED"
)

type ResponseSource string

const (
	SOURCE_USER   ResponseSource = "USER"
	SOURCE_SYSTEM ResponseSource = "SYSTEM"
)

type FlowInteractionRequest struct {
	Id               string            `json:"id"`
	SessionId        string            `json:"sessionId"`
	StepExecutionId  string            `json:"stepExecutionId"`
	ChatSessionId    string            `json:"chatSessionId"`
	AgentVersionId   string            `json:"agentVersionId,omitempty"`
	Type             string            `json:"type"`
	Title            string            `json:"title"`
	Description      string            `json:"description,omitempty"`
	Status           InteractionStatus `json:"status"`
	PayloadSchema    json.RawMessage   `json:"payloadSchema,omitempty"`
	SuggestedActions []string          `json:"suggestedActions,omitempty"`
	DueAt            *time.Time        `json:"dueAt,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

type FlowInteractionResponse struct {
	Id            string         `json:"id"`
	RequestId     string         `json:"requestId"`
	ChatSessionId string         `json:"chatSessionId"`
	Payload       map[string]any `json:"payload,omitempty"`
	Source        ResponseSource `json:"source"`
	RespondedBy   string         `json:"respondedBy"`
	CreatedAt     time.Time      `json:"createdAt"`
}
