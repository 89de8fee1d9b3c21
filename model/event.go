package model

import "time"

type EventType string

const (
	EVENT_FLOW_STARTED                    EventType = "FLOW_STARTED"
	EVENT_STEP_STARTED                    EventType = "STEP_STARTED"
	EVENT_STEP_COMPLETED                  EventType = "STEP_COMPLETED"
	EVENT_STEP_FAILED                     EventType = "STEP_FAILED"
	EVENT_STEP_RETRY_SCHEDULED            EventType = "STEP_RETRY_SCHEDULED"
	EVENT_FLOW_COMPLETED                  EventType = "FLOW_COMPLETED"
	EVENT_FLOW_FAILED                     EventType = "FLOW_FAILED"
	EVENT_FLOW_PAUSED                     EventType = "FLOW_PAUSED"
	EVENT_FLOW_RESUMED                    EventType = "FLOW_RESUMED"
	EVENT_FLOW_CANCELLED                  EventType = "FLOW_CANCELLED"
	EVENT_HUMAN_INTERACTION_REQUIRED      EventType = "HUMAN_INTERACTION_REQUIRED"
	EVENT_HUMAN_INTERACTION_RESPONDED     EventType = "HUMAN_INTERACTION_RESPONDED"
	EVENT_HUMAN_INTERACTION_AUTO_RESOLVED EventType = "HUMAN_INTERACTION_AUTO_RESOLVED"
)

type FlowEvent struct {
	Id               int64          `json:"id"`
	SessionId        string         `json:"sessionId"`
	EventType        EventType      `json:"eventType"`
	Status           string         `json:"status"`
	Payload          map[string]any `json:"payload,omitempty"`
	PromptTokens     int            `json:"promptTokens,omitempty"`
	CompletionTokens int            `json:"completionTokens,omitempty"`
	Cost             float64        `json:"cost,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// NewEvent builds an event labelled with the session's current status. The id
// is assigned by the store on commit.
func NewEvent(session *FlowSession, eventType EventType, payload map[string]any, now time.Time) *FlowEvent {
	return &FlowEvent{
		SessionId: session.Id,
		EventType: eventType,
		Status:    string(session.Status),
		Payload:   payload,
		CreatedAt: now,
	}
}
