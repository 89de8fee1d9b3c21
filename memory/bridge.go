package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/util"
)

// Bridge turns read instructions into prompt messages and write instructions
// into appended entries.
type Bridge struct {
	service Service
}

func NewBridge(service Service) *Bridge {
	return &Bridge{service: service}
}

// BuildContext renders one labelled message per read instruction. Channels
// without entries produce nothing.
func (b *Bridge) BuildContext(ctx context.Context, sessionId string, reads []model.MemoryReadInstruction) ([]model.ChatMessage, error) {
	var messages []model.ChatMessage
	for _, read := range reads {
		entries, err := b.service.History(ctx, sessionId, read.Channel, read.Limit)
		if err != nil {
			return nil, fmt.Errorf("error reading memory channel %s: %w", read.Channel, err)
		}
		if len(entries) == 0 {
			continue
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "Memory channel %q:", read.Channel)
		for _, e := range entries {
			data, err := json.Marshal(Sanitize(e.Payload))
			if err != nil {
				return nil, err
			}
			sb.WriteString("\n- ")
			sb.Write(data)
		}
		messages = append(messages, model.ChatMessage{Role: "system", Content: sb.String()})
	}
	return messages, nil
}

// WriteBack applies the write instructions and returns the new versions in
// instruction order. AGENT_OUTPUT stores output, STATIC stores the configured
// payload with templates resolved against scope.
func (b *Bridge) WriteBack(ctx context.Context, sessionId string, stepExecutionId string, writes []model.MemoryWriteInstruction, output map[string]any, scope map[string]any) ([]int64, error) {
	var versions []int64
	for _, w := range writes {
		var payload map[string]any
		switch w.Mode {
		case model.MEMORY_WRITE_AGENT_OUTPUT:
			payload = output
		case model.MEMORY_WRITE_STATIC:
			payload = util.ResolveParams(w.Payload, scope)
		default:
			return versions, fmt.Errorf("unknown memory write mode %q", w.Mode)
		}
		v, err := b.service.Append(ctx, sessionId, w.Channel, payload, stepExecutionId)
		if err != nil {
			return versions, fmt.Errorf("error writing memory channel %s: %w", w.Channel, err)
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// Sanitize drops usage and cost keys at every depth and unwraps maps whose
// only key is content.
func Sanitize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if k == "usage" || k == "cost" {
				continue
			}
			out[k] = Sanitize(val)
		}
		if content, ok := out["content"]; ok && len(out) == 1 {
			return content
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = Sanitize(t[i])
		}
		return out
	default:
		return v
	}
}
