// Package memory connects flow steps to per-session memory channels.
package memory

import (
	"context"
	"time"
)

type Entry struct {
	Version         int64          `json:"version"`
	Channel         string         `json:"channel"`
	Payload         map[string]any `json:"payload"`
	StepExecutionId string         `json:"stepExecutionId,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

type Service interface {
	// History returns the most recent limit entries of channel, oldest first.
	History(ctx context.Context, sessionId string, channel string, limit int) ([]Entry, error)
	// Append stores payload and returns its version. Versions increase per
	// session across all channels.
	Append(ctx context.Context, sessionId string, channel string, payload map[string]any, stepExecutionId string) (int64, error)
}
