package model

type StartFlowRequest struct {
	DefinitionId     string            `json:"definitionId" validate:"required"`
	LaunchParameters map[string]any    `json:"launchParameters,omitempty"`
	SharedContext    map[string]any    `json:"sharedContext,omitempty"`
	Overrides        *RequestOverrides `json:"overrides,omitempty"`
	ChatSessionId    string            `json:"chatSessionId,omitempty"`
}

type RespondRequest struct {
	RequestId     string         `json:"requestId" validate:"required"`
	ChatSessionId string         `json:"chatSessionId" validate:"required"`
	Payload       map[string]any `json:"payload,omitempty"`
	RespondedBy   string         `json:"respondedBy" validate:"required"`
}

type AutoResolveRequest struct {
	RequestId   string         `json:"requestId" validate:"required"`
	Payload     map[string]any `json:"payload,omitempty"`
	RespondedBy string         `json:"respondedBy" validate:"required"`
}
