package persistence

import (
	"context"

	"github.com/mohitkumar/agentflow/model"
)

// EventListener is told about events after they are committed. It must not
// block.
type EventListener interface {
	OnEvents(events []*model.FlowEvent)
}

type notifyingStorage struct {
	Storage
	listener EventListener
}

// WithEventListener wraps s so every committed event is handed to l.
func WithEventListener(s Storage, l EventListener) Storage {
	return &notifyingStorage{Storage: s, listener: l}
}

func (n *notifyingStorage) Commit(ctx context.Context, m *Mutation) error {
	if err := n.Storage.Commit(ctx, m); err != nil {
		return err
	}
	if len(m.Events) > 0 {
		n.listener.OnEvents(m.Events)
	}
	return nil
}
