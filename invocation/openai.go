package invocation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mohitkumar/agentflow/model"
	openai "github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api-key"`
	BaseURL string `mapstructure:"base-url"`
}

// OpenAIInvoker calls any OpenAI compatible chat completion endpoint.
type OpenAIInvoker struct {
	client *openai.Client
}

var _ AgentInvoker = new(OpenAIInvoker)

func NewOpenAIInvoker(conf OpenAIConfig) *OpenAIInvoker {
	cfg := openai.DefaultConfig(conf.APIKey)
	if conf.BaseURL != "" {
		cfg.BaseURL = conf.BaseURL
	}
	return &OpenAIInvoker{client: openai.NewClientWithConfig(cfg)}
}

func (o *OpenAIInvoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.MemoryMessages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if len(req.Params) > 0 {
		params, err := json.Marshal(req.Params)
		if err != nil {
			return nil, fmt.Errorf("error encoding params: %w", err)
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Context parameters: " + string(params),
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserMessage})

	chatReq := openai.ChatCompletionRequest{
		Model:     req.ModelId,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	eff := req.Overrides
	if eff.Temperature != nil {
		chatReq.Temperature = sampling(*eff.Temperature)
	}
	if eff.TopP != nil {
		chatReq.TopP = sampling(*eff.TopP)
	}
	if eff.MaxTokens != nil {
		chatReq.MaxTokens = *eff.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("model %s returned no choices", req.ModelId)
	}
	return &Result{
		Content: resp.Choices[0].Message.Content,
		Usage: model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// sampling converts a sampling parameter for the client request, which drops
// zero values. An explicit zero is sent as the smallest positive float32.
func sampling(v float64) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(v)
}
