// Package interaction suspends steps that need a human decision and resumes
// them once exactly one response has been recorded.
package interaction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/persistence"
	"github.com/mohitkumar/agentflow/util"
	"go.uber.org/zap"
)

const SYSTEM_RESPONDER = "system"

type Gate struct {
	store     persistence.FlowStore
	validator SchemaValidator
	clock     util.Clock
}

func NewGate(store persistence.FlowStore, validator SchemaValidator, clock util.Clock) *Gate {
	return &Gate{
		store:     store,
		validator: validator,
		clock:     clock,
	}
}

// EnsureRequest returns the request of execution, creating it on first call.
// Creation moves the execution, and a RUNNING session, to WAITING_USER_INPUT.
func (g *Gate) EnsureRequest(ctx context.Context, session *model.FlowSession, execution *model.FlowStepExecution, cfg *model.InteractionConfig, agent *model.AgentVersion) (*model.FlowInteractionRequest, error) {
	existing, err := g.store.FindInteractionRequest(ctx, execution.Id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	var request *model.FlowInteractionRequest
	_, err = persistence.UpdateSession(ctx, g.store, g.clock, session.Id, func(s *model.FlowSession) (*persistence.Mutation, error) {
		existing, err := g.store.FindInteractionRequest(ctx, execution.Id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			request = existing
			return nil, nil
		}
		exec, err := g.store.GetStepExecution(ctx, execution.Id)
		if err != nil {
			return nil, err
		}
		if exec.Status != model.STEP_RUNNING {
			return nil, api.ConflictError{Message: fmt.Sprintf("step execution %s is %s", exec.Id, exec.Status)}
		}
		now := g.clock.Now()
		request = &model.FlowInteractionRequest{
			Id:               uuid.NewString(),
			SessionId:        s.Id,
			StepExecutionId:  exec.Id,
			ChatSessionId:    s.ChatSessionId,
			Type:             cfg.Type,
			Title:            cfg.Title,
			Description:      cfg.Description,
			Status:           model.INTERACTION_PENDING,
			PayloadSchema:    cfg.PayloadSchema,
			SuggestedActions: cfg.SuggestedActions,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if agent != nil {
			request.AgentVersionId = agent.Id
		}
		if cfg.DueInSeconds > 0 {
			due := now.Add(time.Duration(cfg.DueInSeconds) * time.Second)
			request.DueAt = &due
		}
		exec.Status = model.STEP_WAITING_USER_INPUT
		if s.Status == model.SESSION_RUNNING {
			s.Status = model.SESSION_WAITING_USER_INPUT
		}
		m := &persistence.Mutation{Requests: []*model.FlowInteractionRequest{request}}
		m.AddExecution(exec)
		m.AddEvent(model.NewEvent(s, model.EVENT_HUMAN_INTERACTION_REQUIRED, map[string]any{
			"requestId":       request.Id,
			"stepExecutionId": exec.Id,
			"stepId":          exec.StepId,
			"type":            request.Type,
			"title":           request.Title,
		}, now))
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

type resolution struct {
	requestId     string
	chatSessionId string
	payload       map[string]any
	source        model.ResponseSource
	respondedBy   string
	status        model.InteractionStatus
	eventType     model.EventType
	resume        bool
	validate      bool
}

// Respond records a user answer and puts the step back in the queue.
func (g *Gate) Respond(ctx context.Context, req model.RespondRequest) (*model.FlowInteractionResponse, error) {
	if err := api.Validate(req); err != nil {
		return nil, err
	}
	return g.resolve(ctx, resolution{
		requestId:     req.RequestId,
		chatSessionId: req.ChatSessionId,
		payload:       req.Payload,
		source:        model.SOURCE_USER,
		respondedBy:   req.RespondedBy,
		status:        model.INTERACTION_ANSWERED,
		eventType:     model.EVENT_HUMAN_INTERACTION_RESPONDED,
		resume:        true,
		validate:      true,
	})
}

// AutoResolve answers a request on behalf of the system.
func (g *Gate) AutoResolve(ctx context.Context, req model.AutoResolveRequest) (*model.FlowInteractionResponse, error) {
	if err := api.Validate(req); err != nil {
		return nil, err
	}
	return g.resolve(ctx, resolution{
		requestId:   req.RequestId,
		payload:     req.Payload,
		source:      model.SOURCE_SYSTEM,
		respondedBy: req.RespondedBy,
		status:      model.INTERACTION_AUTO_RESOLVED,
		eventType:   model.EVENT_HUMAN_INTERACTION_AUTO_RESOLVED,
		resume:      true,
		validate:    true,
	})
}

// AutoResolvePendingRequests resolves every pending request of session with
// an empty payload. Without resumeStep only the request, the response and the
// event are written.
func (g *Gate) AutoResolvePendingRequests(ctx context.Context, session *model.FlowSession, source model.ResponseSource, respondedBy string, resumeStep bool) ([]*model.FlowInteractionResponse, error) {
	pending, err := g.store.ListPendingInteractionRequests(ctx, session.Id)
	if err != nil {
		return nil, err
	}
	var responses []*model.FlowInteractionResponse
	for _, req := range pending {
		resp, err := g.resolve(ctx, resolution{
			requestId:   req.Id,
			source:      source,
			respondedBy: respondedBy,
			status:      model.INTERACTION_AUTO_RESOLVED,
			eventType:   model.EVENT_HUMAN_INTERACTION_AUTO_RESOLVED,
			resume:      resumeStep,
		})
		if api.IsConflict(err) {
			logger.Info("interaction request resolved concurrently", zap.String("requestId", req.Id), zap.Error(err))
			continue
		}
		if err != nil {
			return responses, err
		}
		responses = append(responses, resp)
	}
	return responses, nil
}

// ExpireOverdue resolves pending requests whose due time has passed and
// resumes their steps. It returns how many were expired.
func (g *Gate) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := g.store.ListOverdueInteractionRequests(ctx, g.clock.Now())
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, req := range overdue {
		_, err := g.resolve(ctx, resolution{
			requestId:   req.Id,
			source:      model.SOURCE_SYSTEM,
			respondedBy: SYSTEM_RESPONDER,
			status:      model.INTERACTION_EXPIRED,
			eventType:   model.EVENT_HUMAN_INTERACTION_AUTO_RESOLVED,
			resume:      true,
		})
		if err != nil {
			if api.IsConflict(err) {
				continue
			}
			return expired, err
		}
		logger.Info("interaction request expired", zap.String("requestId", req.Id), zap.String("sessionId", req.SessionId))
		expired++
	}
	return expired, nil
}

func (g *Gate) resolve(ctx context.Context, r resolution) (*model.FlowInteractionResponse, error) {
	request, err := g.store.GetInteractionRequest(ctx, r.requestId)
	if err != nil {
		return nil, err
	}
	if request.Status != model.INTERACTION_PENDING {
		return nil, api.ConflictError{Message: fmt.Sprintf("interaction request %s is %s", request.Id, request.Status)}
	}
	if r.chatSessionId != "" && r.chatSessionId != request.ChatSessionId {
		return nil, api.ValidationError{Field: "chatSessionId", Message: "does not match the interaction request"}
	}
	if r.validate && len(request.PayloadSchema) > 0 {
		if err := g.validator.Validate(request.PayloadSchema, r.payload); err != nil {
			return nil, err
		}
	}

	var response *model.FlowInteractionResponse
	_, err = persistence.UpdateSession(ctx, g.store, g.clock, request.SessionId, func(s *model.FlowSession) (*persistence.Mutation, error) {
		current, err := g.store.GetInteractionRequest(ctx, r.requestId)
		if err != nil {
			return nil, err
		}
		if current.Status != model.INTERACTION_PENDING {
			return nil, api.ConflictError{Message: fmt.Sprintf("interaction request %s is %s", current.Id, current.Status)}
		}
		if r.resume && s.Status.IsTerminal() {
			return nil, api.ConflictError{Message: fmt.Sprintf("session %s is %s", s.Id, s.Status)}
		}
		now := g.clock.Now()
		current.Status = r.status
		current.UpdatedAt = now
		response = &model.FlowInteractionResponse{
			Id:            uuid.NewString(),
			RequestId:     current.Id,
			ChatSessionId: current.ChatSessionId,
			Payload:       r.payload,
			Source:        r.source,
			RespondedBy:   r.respondedBy,
			CreatedAt:     now,
		}
		m := &persistence.Mutation{
			Requests: []*model.FlowInteractionRequest{current},
			Response: response,
		}
		if r.resume {
			if err := g.resumeStep(ctx, s, current, response, m, now); err != nil {
				return nil, err
			}
		}
		m.AddEvent(model.NewEvent(s, r.eventType, map[string]any{
			"requestId":       current.Id,
			"stepExecutionId": current.StepExecutionId,
			"source":          string(r.source),
			"respondedBy":     r.respondedBy,
			"status":          string(r.status),
		}, now))
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (g *Gate) resumeStep(ctx context.Context, s *model.FlowSession, request *model.FlowInteractionRequest, response *model.FlowInteractionResponse, m *persistence.Mutation, now time.Time) error {
	exec, err := g.store.GetStepExecution(ctx, request.StepExecutionId)
	if err != nil {
		return err
	}
	if exec.Status != model.STEP_WAITING_USER_INPUT {
		return nil
	}
	payload := response.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	exec.InputPayload = util.MergeMap(exec.InputPayload, map[string]any{
		model.INTERACTION_INPUT_KEY: map[string]any{
			"requestId":   request.Id,
			"source":      string(response.Source),
			"respondedBy": response.RespondedBy,
			"payload":     payload,
		},
	})
	exec.Status = model.STEP_PENDING
	m.AddExecution(exec)
	// a paused session keeps its status; resuming it enqueues the job
	if s.Status == model.SESSION_WAITING_USER_INPUT {
		s.Status = model.SESSION_RUNNING
		job, err := persistence.NewStepJob(exec, now, now)
		if err != nil {
			return err
		}
		m.AddJob(job)
	}
	return nil
}
