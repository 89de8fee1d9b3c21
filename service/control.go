package service

import (
	"context"
	"fmt"

	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/engine"
	"github.com/mohitkumar/agentflow/interaction"
	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/persistence"
	"github.com/mohitkumar/agentflow/util"
	"go.uber.org/zap"
)

const MANUAL_RETRY_REASON = "manual_retry"

// ControlService is the operator facing surface over running sessions.
type ControlService struct {
	storage persistence.Storage
	engine  *engine.FlowEngine
	gate    *interaction.Gate
	clock   util.Clock
}

func NewControlService(storage persistence.Storage, engine *engine.FlowEngine, gate *interaction.Gate, clock util.Clock) *ControlService {
	return &ControlService{
		storage: storage,
		engine:  engine,
		gate:    gate,
		clock:   clock,
	}
}

func (c *ControlService) Start(ctx context.Context, req model.StartFlowRequest) (*model.FlowSession, error) {
	return c.engine.Start(ctx, req)
}

// Pause stops a RUNNING or WAITING_USER_INPUT session. Jobs already queued
// for it are consumed without effect.
func (c *ControlService) Pause(ctx context.Context, sessionId string) (*model.FlowSession, error) {
	m, err := persistence.UpdateSession(ctx, c.storage, c.clock, sessionId, func(s *model.FlowSession) (*persistence.Mutation, error) {
		if s.Status != model.SESSION_RUNNING && s.Status != model.SESSION_WAITING_USER_INPUT {
			return nil, illegalState(s, "paused")
		}
		previous := s.Status
		s.Status = model.SESSION_PAUSED
		m := &persistence.Mutation{}
		m.AddEvent(model.NewEvent(s, model.EVENT_FLOW_PAUSED, map[string]any{"previousStatus": string(previous)}, c.clock.Now()))
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("session paused", zap.String("sessionId", sessionId))
	return m.Session, nil
}

// Resume puts a PAUSED session back to work. A pending step gets a fresh
// job, a step waiting for input returns the session to WAITING_USER_INPUT.
func (c *ControlService) Resume(ctx context.Context, sessionId string) (*model.FlowSession, error) {
	m, err := persistence.UpdateSession(ctx, c.storage, c.clock, sessionId, func(s *model.FlowSession) (*persistence.Mutation, error) {
		if s.Status != model.SESSION_PAUSED {
			return nil, illegalState(s, "resumed")
		}
		exec, err := c.storage.GetStepExecution(ctx, s.CurrentStepExecutionId)
		if err != nil {
			return nil, err
		}
		now := c.clock.Now()
		m := &persistence.Mutation{}
		switch exec.Status {
		case model.STEP_WAITING_USER_INPUT:
			s.Status = model.SESSION_WAITING_USER_INPUT
		case model.STEP_PENDING:
			s.Status = model.SESSION_RUNNING
			job, err := persistence.NewStepJob(exec, now, now)
			if err != nil {
				return nil, err
			}
			m.AddJob(job)
		default:
			s.Status = model.SESSION_RUNNING
		}
		m.AddEvent(model.NewEvent(s, model.EVENT_FLOW_RESUMED, map[string]any{
			"stepId":          exec.StepId,
			"stepExecutionId": exec.Id,
		}, now))
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("session resumed", zap.String("sessionId", sessionId), zap.String("status", string(m.Session.Status)))
	return m.Session, nil
}

// Cancel ends a non terminal session. Pending interaction requests are
// resolved without resuming their steps.
func (c *ControlService) Cancel(ctx context.Context, sessionId string, by string) (*model.FlowSession, error) {
	if by == "" {
		by = interaction.SYSTEM_RESPONDER
	}
	session, err := c.storage.GetSession(ctx, sessionId)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, illegalState(session, "cancelled")
	}
	if _, err := c.gate.AutoResolvePendingRequests(ctx, session, model.SOURCE_SYSTEM, by, false); err != nil {
		return nil, fmt.Errorf("error resolving pending interactions of session %s: %w", sessionId, err)
	}
	m, err := persistence.UpdateSession(ctx, c.storage, c.clock, sessionId, func(s *model.FlowSession) (*persistence.Mutation, error) {
		if s.Status.IsTerminal() {
			return nil, illegalState(s, "cancelled")
		}
		now := c.clock.Now()
		m := &persistence.Mutation{}
		if s.CurrentStepExecutionId != "" {
			exec, err := c.storage.GetStepExecution(ctx, s.CurrentStepExecutionId)
			if err != nil {
				return nil, err
			}
			if !exec.Status.IsTerminal() {
				exec.Status = model.STEP_CANCELLED
				exec.CompletedAt = &now
				m.AddExecution(exec)
			}
		}
		s.Finish(model.SESSION_CANCELLED, now)
		m.AddEvent(model.NewEvent(s, model.EVENT_FLOW_CANCELLED, map[string]any{"cancelledBy": by}, now))
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("session cancelled", zap.String("sessionId", sessionId), zap.String("by", by))
	return m.Session, nil
}

// Retry restarts the failed step of a FAILED session with the next attempt.
func (c *ControlService) Retry(ctx context.Context, sessionId string) (*model.FlowSession, error) {
	session, err := c.engine.RetryFailed(ctx, sessionId, MANUAL_RETRY_REASON)
	if err != nil {
		return nil, err
	}
	logger.Info("session retried", zap.String("sessionId", sessionId), zap.String("stepId", session.CurrentStepId))
	return session, nil
}

func (c *ControlService) Respond(ctx context.Context, req model.RespondRequest) (*model.FlowInteractionResponse, error) {
	return c.gate.Respond(ctx, req)
}

func (c *ControlService) AutoResolve(ctx context.Context, req model.AutoResolveRequest) (*model.FlowInteractionResponse, error) {
	return c.gate.AutoResolve(ctx, req)
}

func illegalState(s *model.FlowSession, action string) error {
	return api.ConflictError{Message: fmt.Sprintf("session %s is %s and can not be %s", s.Id, s.Status, action)}
}
