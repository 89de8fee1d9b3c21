package service

import (
	"context"
	"time"

	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/persistence"
)

const (
	DEFAULT_POLL_TICK    = 250 * time.Millisecond
	DEFAULT_POLL_TIMEOUT = 25 * time.Second
)

type Snapshot struct {
	Session    *model.FlowSession         `json:"session"`
	Events     []*model.FlowEvent         `json:"events"`
	Executions []*model.FlowStepExecution `json:"executions"`
	Changed    bool                       `json:"changed"`
}

type StatusService struct {
	store persistence.FlowStore
	tick  time.Duration
}

func NewStatusService(store persistence.FlowStore) *StatusService {
	return &StatusService{store: store, tick: DEFAULT_POLL_TICK}
}

// CurrentSnapshot returns the session with all its events and executions.
func (s *StatusService) CurrentSnapshot(ctx context.Context, sessionId string) (*Snapshot, error) {
	return s.snapshot(ctx, sessionId, 0)
}

// PollSession waits until the session has events after sinceEventId, a
// version other than stateVersion, or a terminal status. On timeout it
// returns the current state with Changed false. Only events after
// sinceEventId are included. The wait never exceeds DEFAULT_POLL_TIMEOUT.
func (s *StatusService) PollSession(ctx context.Context, sessionId string, sinceEventId int64, stateVersion int64, timeout time.Duration) (*Snapshot, error) {
	deadline := time.NewTimer(pollTimeout(timeout))
	defer deadline.Stop()
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		snap, err := s.snapshot(ctx, sessionId, sinceEventId)
		if err != nil {
			return nil, err
		}
		if len(snap.Events) > 0 || snap.Session.StateVersion != stateVersion || snap.Session.Status.IsTerminal() {
			snap.Changed = true
			return snap, nil
		}
		select {
		case <-deadline.C:
			return snap, nil
		case <-ticker.C:
		}
	}
}

func (s *StatusService) snapshot(ctx context.Context, sessionId string, sinceEventId int64) (*Snapshot, error) {
	session, err := s.store.GetSession(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx, sessionId, sinceEventId)
	if err != nil {
		return nil, err
	}
	executions, err := s.store.ListStepExecutions(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Session:    session,
		Events:     events,
		Executions: executions,
	}, nil
}

// PendingInteractions lists the unanswered interaction requests of a session.
func (s *StatusService) PendingInteractions(ctx context.Context, sessionId string) ([]*model.FlowInteractionRequest, error) {
	if _, err := s.store.GetSession(ctx, sessionId); err != nil {
		return nil, err
	}
	return s.store.ListPendingInteractionRequests(ctx, sessionId)
}

func pollTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 || timeout > DEFAULT_POLL_TIMEOUT {
		return DEFAULT_POLL_TIMEOUT
	}
	return timeout
}
