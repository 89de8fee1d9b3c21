package invocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/override"
	openai "github.com/sashabaranov/go-openai"
)

type Request struct {
	ProviderId     string
	ModelId        string
	SystemPrompt   string
	MemoryMessages []model.ChatMessage
	Params         map[string]any
	UserMessage    string
	Overrides      override.Effective
	// MaxTokens is the agent's own limit, used when no override sets one.
	MaxTokens int
}

type Result struct {
	Content string
	Usage   model.Usage
	Cost    float64
}

// AgentInvoker performs one model call.
type AgentInvoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func (e *StatusError) StatusCode() int {
	return e.Code
}

// StatusOf extracts the HTTP status carried by err, if any.
func StatusOf(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}
