package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/interaction"
	"github.com/mohitkumar/agentflow/invocation"
	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/memory"
	"github.com/mohitkumar/agentflow/metadata"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/override"
	"github.com/mohitkumar/agentflow/persistence"
	"github.com/mohitkumar/agentflow/util"
	"go.uber.org/zap"
)

const DEFAULT_RETRY_DELAY = time.Second

// JobListener is told about every job the engine finishes.
type JobListener interface {
	OnJobFinished(job *model.FlowJob)
}

type Option func(*FlowEngine)

func WithClock(clock util.Clock) Option {
	return func(f *FlowEngine) { f.clock = clock }
}

func WithRetryDelay(d time.Duration) Option {
	return func(f *FlowEngine) { f.retryDelay = d }
}

func WithJobListener(l JobListener) Option {
	return func(f *FlowEngine) { f.jobListener = l }
}

type FlowEngine struct {
	storage         persistence.Storage
	metadataService metadata.Service
	runner          *invocation.Runner
	bridge          *memory.Bridge
	gate            *interaction.Gate
	clock           util.Clock
	retryDelay      time.Duration
	jobListener     JobListener
	payloadEncDec   util.EncoderDecoder[model.JobPayload]
}

func NewFlowEngine(storage persistence.Storage, metadataService metadata.Service, runner *invocation.Runner, bridge *memory.Bridge, gate *interaction.Gate, opts ...Option) *FlowEngine {
	f := &FlowEngine{
		storage:         storage,
		metadataService: metadataService,
		runner:          runner,
		bridge:          bridge,
		gate:            gate,
		clock:           util.SystemClock{},
		retryDelay:      DEFAULT_RETRY_DELAY,
		payloadEncDec:   util.NewJsonEncoderDecoder[model.JobPayload](),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start creates a RUNNING session with its first execution, the FLOW_STARTED
// event and the job that runs the start step, all in one write.
func (f *FlowEngine) Start(ctx context.Context, req model.StartFlowRequest) (*model.FlowSession, error) {
	if err := api.Validate(req); err != nil {
		return nil, err
	}
	fl, err := f.metadataService.GetFlow(ctx, req.DefinitionId)
	if err != nil {
		return nil, err
	}
	for _, agentId := range fl.AgentVersionIds() {
		agent, err := f.metadataService.GetAgentVersion(ctx, agentId)
		if err != nil {
			return nil, err
		}
		if agent.Status != model.AGENT_PUBLISHED {
			return nil, api.ConflictError{Message: fmt.Sprintf("agent version %s is %s", agent.Id, agent.Status)}
		}
	}
	if fl.RequiresInteraction() && strings.TrimSpace(req.ChatSessionId) == "" {
		return nil, api.ValidationError{Field: "chatSessionId", Message: "required by flows with interaction steps"}
	}

	now := f.clock.Now()
	startStep := fl.StartStep()
	session := &model.FlowSession{
		Id:               uuid.NewString(),
		DefinitionId:     req.DefinitionId,
		Status:           model.SESSION_RUNNING,
		CurrentStepId:    startStep.Id,
		SharedContext:    util.CloneMap(req.SharedContext),
		LaunchParameters: util.CloneMap(req.LaunchParameters),
		Overrides:        req.Overrides,
		ChatSessionId:    req.ChatSessionId,
		StartedAt:        now,
		UpdatedAt:        now,
	}
	exec := newExecution(session, startStep.Id, 1, map[string]any{}, now)
	session.CurrentStepExecutionId = exec.Id
	job, err := persistence.NewStepJob(exec, now, now)
	if err != nil {
		return nil, err
	}
	m := &persistence.Mutation{Session: session}
	m.AddExecution(exec)
	m.AddEvent(model.NewEvent(session, model.EVENT_FLOW_STARTED, map[string]any{
		"definitionId": session.DefinitionId,
		"stepId":       startStep.Id,
	}, now))
	m.AddJob(job)
	if err := f.storage.Commit(ctx, m); err != nil {
		logger.Error("error starting flow", zap.String("definitionId", req.DefinitionId), zap.Error(err))
		return nil, err
	}
	logger.Info("flow started", zap.String("sessionId", session.Id), zap.String("definitionId", session.DefinitionId))
	return session, nil
}

// ProcessNextJob runs the earliest due job, if any, and reports whether one
// was taken. A step that fails is still a completed job; only infrastructure
// errors fail the job.
func (f *FlowEngine) ProcessNextJob(ctx context.Context, workerId string) (bool, error) {
	job, err := f.storage.LockNextPending(ctx, workerId, f.clock.Now())
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	payload, err := f.payloadEncDec.Decode(job.Payload)
	if err == nil && payload.StepExecutionId == "" {
		err = fmt.Errorf("missing step execution id")
	}
	if err != nil {
		corrupt := api.CorruptPayloadError{JobId: job.Id, Message: err.Error()}
		logger.Error("corrupt job payload", zap.String("jobId", job.Id), zap.String("sessionId", job.SessionId), zap.Error(corrupt))
		f.finishJob(ctx, job, model.JOB_FAILED, corrupt.Error())
		return true, nil
	}
	if err := f.runStep(ctx, payload); err != nil {
		var te *transientError
		if errors.As(err, &te) {
			logger.Warn("job interrupted, rescheduling", zap.String("jobId", job.Id), zap.String("sessionId", payload.SessionId),
				zap.String("stepId", payload.StepId), zap.Int("attempt", payload.Attempt), zap.Error(err))
			f.rescheduleJob(ctx, job, payload, te)
			return true, err
		}
		logger.Error("error processing job", zap.String("jobId", job.Id), zap.String("sessionId", payload.SessionId),
			zap.String("stepId", payload.StepId), zap.Int("attempt", payload.Attempt), zap.Error(err))
		f.finishJob(ctx, job, model.JOB_FAILED, err.Error())
		return true, err
	}
	f.finishJob(ctx, job, model.JOB_COMPLETED, "")
	return true, nil
}

// transientError is an infrastructure failure after which the job runs
// again. started is set when the step was already marked RUNNING.
type transientError struct {
	err     error
	started bool
}

func (e *transientError) Error() string {
	return e.err.Error()
}

func (e *transientError) Unwrap() error {
	return e.err
}

func retryable(err error) error {
	if api.IsNotFound(err) {
		return err
	}
	return &transientError{err: err}
}

// rescheduleJob puts job back in the queue after the retry delay.
func (f *FlowEngine) rescheduleJob(ctx context.Context, job *model.FlowJob, payload *model.JobPayload, cause *transientError) {
	if cause.started {
		payload.Interrupted = cause.Error()
		data, err := f.payloadEncDec.Encode(*payload)
		if err != nil {
			logger.Error("error encoding job payload", zap.String("jobId", job.Id), zap.Error(err))
			f.finishJob(ctx, job, model.JOB_FAILED, cause.Error())
			return
		}
		job.Payload = data
	}
	now := f.clock.Now()
	job.Status = model.JOB_PENDING
	job.ScheduledAt = now.Add(f.retryDelay)
	job.LockedBy = ""
	job.LockedAt = nil
	job.Error = cause.Error()
	job.UpdatedAt = now
	if err := f.storage.Save(ctx, job); err != nil {
		logger.Error("error rescheduling job", zap.String("jobId", job.Id), zap.Error(err))
	}
}

func (f *FlowEngine) finishJob(ctx context.Context, job *model.FlowJob, status model.JobStatus, message string) {
	job.Status = status
	job.Error = message
	job.UpdatedAt = f.clock.Now()
	if err := f.storage.Save(ctx, job); err != nil {
		logger.Error("error saving job", zap.String("jobId", job.Id), zap.String("status", string(status)), zap.Error(err))
	}
	if f.jobListener != nil {
		f.jobListener.OnJobFinished(job)
	}
}

func (f *FlowEngine) runStep(ctx context.Context, payload *model.JobPayload) error {
	exec, err := f.storage.GetStepExecution(ctx, payload.StepExecutionId)
	if err != nil {
		return retryable(err)
	}
	session, err := f.storage.GetSession(ctx, exec.SessionId)
	if err != nil {
		return retryable(err)
	}
	interrupted := payload.Interrupted != "" && !session.Status.IsTerminal() && exec.Status == model.STEP_RUNNING
	if !interrupted && (session.Status != model.SESSION_RUNNING || exec.Status != model.STEP_PENDING) {
		logger.Info("skipping stale job", zap.String("sessionId", session.Id), zap.String("sessionStatus", string(session.Status)),
			zap.String("stepExecutionId", exec.Id), zap.String("stepStatus", string(exec.Status)))
		return nil
	}

	fl, err := f.metadataService.GetFlow(ctx, session.DefinitionId)
	if err != nil {
		return f.unresolved(ctx, exec, interrupted, fmt.Errorf("error resolving flow %s: %w", session.DefinitionId, err))
	}
	step, ok := fl.Step(exec.StepId)
	if !ok {
		return f.abort(ctx, exec, fmt.Errorf("step %s not found in flow %s", exec.StepId, fl.Definition.Id))
	}
	if interrupted {
		return f.interrupt(ctx, exec, step, fmt.Errorf("step interrupted: %s", payload.Interrupted))
	}
	agent, err := f.metadataService.GetAgentVersion(ctx, step.AgentVersionId)
	if err != nil {
		return f.unresolved(ctx, exec, false, fmt.Errorf("error resolving agent version %s: %w", step.AgentVersionId, err))
	}

	session, exec, err = f.markStarted(ctx, exec.SessionId, exec.Id)
	if err != nil {
		return retryable(err)
	}
	if exec == nil {
		return nil
	}
	if err := f.execute(ctx, fl, step, agent, session, exec); err != nil {
		return f.interrupt(ctx, exec, step, err)
	}
	return nil
}

// unresolved fails the session when the definitions are gone or invalid.
// Any other lookup error leaves the session alone and the job runs again.
func (f *FlowEngine) unresolved(ctx context.Context, exec *model.FlowStepExecution, started bool, cause error) error {
	if api.IsNotFound(cause) || api.IsValidation(cause) {
		return f.abort(ctx, exec, cause)
	}
	return &transientError{err: cause, started: started}
}

// interrupt fails a started step whose run broke on an infrastructure
// error. When that write fails too the job is kept for another run.
func (f *FlowEngine) interrupt(ctx context.Context, exec *model.FlowStepExecution, step *model.StepConfig, cause error) error {
	if err := f.failStep(ctx, exec, step, cause); err != nil {
		logger.Error("error failing interrupted step", zap.String("sessionId", exec.SessionId),
			zap.String("stepExecutionId", exec.Id), zap.NamedError("cause", cause), zap.Error(err))
		return &transientError{err: cause, started: true}
	}
	return nil
}

func (f *FlowEngine) execute(ctx context.Context, fl *metadata.Flow, step *model.StepConfig, agent *model.AgentVersion, session *model.FlowSession, exec *model.FlowStepExecution) error {
	if step.Interaction != nil && !exec.HasInteraction() {
		req, err := f.gate.EnsureRequest(ctx, session, exec, step.Interaction, agent)
		if err != nil {
			return err
		}
		logger.Info("step waiting for user input", zap.String("sessionId", session.Id), zap.String("stepId", step.Id), zap.String("requestId", req.Id))
		return nil
	}

	scope := stepScope(session, exec)
	eff := override.Resolve(agent.InvocationOptions, step.Overrides, session.Overrides)
	result, err := f.invoke(ctx, session, exec, step, agent, eff, scope)
	if err != nil {
		return f.failStep(ctx, exec, step, err)
	}
	output := outputPayload(result)
	scope["output"] = output
	next, err := fl.NextStep(step, scope)
	if err != nil {
		return f.failStep(ctx, exec, step, err)
	}
	// memory is written ahead of the completion commit, so an attempt that
	// is interrupted after this point may have its entries written again
	versions, err := f.bridge.WriteBack(ctx, session.Id, exec.Id, step.MemoryWrites, output, scope)
	if err != nil {
		return f.failStep(ctx, exec, step, err)
	}
	var overrides map[string]any
	if !eff.IsEmpty() {
		overrides = eff.ToMap()
	}
	return f.completeStep(ctx, exec, result, output, next, versions, overrides)
}

func (f *FlowEngine) markStarted(ctx context.Context, sessionId string, execId string) (*model.FlowSession, *model.FlowStepExecution, error) {
	var session *model.FlowSession
	var exec *model.FlowStepExecution
	_, err := persistence.UpdateSession(ctx, f.storage, f.clock, sessionId, func(s *model.FlowSession) (*persistence.Mutation, error) {
		session, exec = nil, nil
		e, err := f.storage.GetStepExecution(ctx, execId)
		if err != nil {
			return nil, err
		}
		if s.Status != model.SESSION_RUNNING || e.Status != model.STEP_PENDING {
			return nil, nil
		}
		now := f.clock.Now()
		e.Status = model.STEP_RUNNING
		e.StartedAt = &now
		s.CurrentStepId = e.StepId
		s.CurrentStepExecutionId = e.Id
		m := &persistence.Mutation{}
		m.AddExecution(e)
		m.AddEvent(model.NewEvent(s, model.EVENT_STEP_STARTED, map[string]any{
			"stepId":          e.StepId,
			"stepExecutionId": e.Id,
			"attempt":         e.Attempt,
		}, now))
		session, exec = s, e
		return m, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return session, exec, nil
}

func (f *FlowEngine) invoke(ctx context.Context, session *model.FlowSession, exec *model.FlowStepExecution, step *model.StepConfig, agent *model.AgentVersion, eff override.Effective, scope map[string]any) (*invocation.Result, error) {
	messages, err := f.bridge.BuildContext(ctx, session.Id, step.MemoryReads)
	if err != nil {
		return nil, err
	}
	userMessage := util.ResolveTemplate(step.Prompt, scope)
	if strings.TrimSpace(userMessage) == "" {
		data, err := json.Marshal(exec.InputPayload)
		if err != nil {
			return nil, err
		}
		userMessage = string(data)
	}
	params := map[string]any{}
	if len(session.LaunchParameters) > 0 {
		params["launch"] = session.LaunchParameters
	}
	if len(session.SharedContext) > 0 {
		params["shared"] = session.SharedContext
	}
	req := invocation.Request{
		ProviderId:     agent.ProviderId,
		ModelId:        agent.ModelId,
		SystemPrompt:   util.ResolveTemplate(agent.SystemPrompt, scope),
		MemoryMessages: messages,
		Params:         params,
		UserMessage:    userMessage,
		Overrides:      eff,
		MaxTokens:      agent.MaxTokens,
	}
	res, err := f.runner.Invoke(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent %s invocation failed: %w", agent.Id, err)
	}
	return res, nil
}

func (f *FlowEngine) completeStep(ctx context.Context, exec *model.FlowStepExecution, result *invocation.Result, output map[string]any, next string, versions []int64, overrides map[string]any) error {
	_, err := persistence.UpdateSession(ctx, f.storage, f.clock, exec.SessionId, func(s *model.FlowSession) (*persistence.Mutation, error) {
		e, err := f.storage.GetStepExecution(ctx, exec.Id)
		if err != nil {
			return nil, err
		}
		if e.Status != model.STEP_RUNNING {
			logger.Info("dropping step result, execution no longer running", zap.String("sessionId", s.Id),
				zap.String("stepExecutionId", e.Id), zap.String("stepStatus", string(e.Status)))
			return nil, nil
		}
		now := f.clock.Now()
		usage := result.Usage
		e.Status = model.STEP_COMPLETED
		e.OutputPayload = output
		e.Usage = &usage
		e.Cost = result.Cost
		e.CompletedAt = &now
		if len(versions) > 0 {
			s.CurrentMemoryVersion = versions[0]
		}
		m := &persistence.Mutation{}
		m.AddExecution(e)
		payload := map[string]any{
			"stepId":          e.StepId,
			"stepExecutionId": e.Id,
			"attempt":         e.Attempt,
			"next":            next,
		}
		if overrides != nil {
			payload["overrides"] = overrides
		}
		completed := model.NewEvent(s, model.EVENT_STEP_COMPLETED, payload, now)
		completed.PromptTokens = usage.PromptTokens
		completed.CompletionTokens = usage.CompletionTokens
		completed.Cost = result.Cost
		m.AddEvent(completed)

		if metadata.IsComplete(next) {
			s.Finish(model.SESSION_COMPLETED, now)
			m.AddEvent(model.NewEvent(s, model.EVENT_FLOW_COMPLETED, map[string]any{"stepId": e.StepId}, now))
			return m, nil
		}
		successor := newExecution(s, next, 1, map[string]any{
			"previousStepId": e.StepId,
			"previousOutput": output,
		}, now)
		m.AddExecution(successor)
		s.CurrentStepId = successor.StepId
		s.CurrentStepExecutionId = successor.Id
		// a paused session gets its job on resume
		if s.Status == model.SESSION_RUNNING {
			job, err := persistence.NewStepJob(successor, now, now)
			if err != nil {
				return nil, err
			}
			m.AddJob(job)
		}
		return m, nil
	})
	return err
}

func (f *FlowEngine) failStep(ctx context.Context, exec *model.FlowStepExecution, step *model.StepConfig, cause error) error {
	logger.Warn("step failed", zap.String("sessionId", exec.SessionId), zap.String("stepId", exec.StepId),
		zap.Int("attempt", exec.Attempt), zap.Int("maxAttempts", step.Attempts()), zap.Error(cause))
	_, err := persistence.UpdateSession(ctx, f.storage, f.clock, exec.SessionId, func(s *model.FlowSession) (*persistence.Mutation, error) {
		e, err := f.storage.GetStepExecution(ctx, exec.Id)
		if err != nil {
			return nil, err
		}
		if e.Status != model.STEP_RUNNING {
			return nil, nil
		}
		now := f.clock.Now()
		e.Status = model.STEP_FAILED
		e.ErrorMessage = cause.Error()
		e.CompletedAt = &now
		m := &persistence.Mutation{}
		m.AddExecution(e)
		m.AddEvent(model.NewEvent(s, model.EVENT_STEP_FAILED, map[string]any{
			"stepId":          e.StepId,
			"stepExecutionId": e.Id,
			"attempt":         e.Attempt,
			"error":           e.ErrorMessage,
		}, now))

		if e.Attempt >= step.Attempts() {
			s.Finish(model.SESSION_FAILED, now)
			m.AddEvent(model.NewEvent(s, model.EVENT_FLOW_FAILED, map[string]any{
				"stepId":  e.StepId,
				"attempt": e.Attempt,
				"error":   e.ErrorMessage,
			}, now))
			return m, nil
		}
		if err := f.scheduleRetry(s, e, "step_failed", m, now); err != nil {
			return nil, err
		}
		return m, nil
	})
	return err
}

// scheduleRetry adds the next attempt of failed to m. The job is delayed by
// the retry delay and only created while the session is RUNNING.
func (f *FlowEngine) scheduleRetry(s *model.FlowSession, failed *model.FlowStepExecution, reason string, m *persistence.Mutation, now time.Time) error {
	retry := newExecution(s, failed.StepId, failed.Attempt+1, util.CloneMap(failed.InputPayload), now)
	m.AddExecution(retry)
	s.CurrentStepId = retry.StepId
	s.CurrentStepExecutionId = retry.Id
	scheduledAt := now.Add(f.retryDelay)
	if s.Status == model.SESSION_RUNNING {
		job, err := persistence.NewStepJob(retry, scheduledAt, now)
		if err != nil {
			return err
		}
		m.AddJob(job)
	}
	m.AddEvent(model.NewEvent(s, model.EVENT_STEP_RETRY_SCHEDULED, map[string]any{
		"stepId":          retry.StepId,
		"stepExecutionId": retry.Id,
		"attempt":         retry.Attempt,
		"scheduledAt":     scheduledAt,
		"reason":          reason,
	}, now))
	return nil
}

// abort fails the session without retry when its job cannot be resolved
// against the stored definitions. It returns cause.
func (f *FlowEngine) abort(ctx context.Context, exec *model.FlowStepExecution, cause error) error {
	_, err := persistence.UpdateSession(ctx, f.storage, f.clock, exec.SessionId, func(s *model.FlowSession) (*persistence.Mutation, error) {
		if s.Status.IsTerminal() {
			return nil, nil
		}
		e, err := f.storage.GetStepExecution(ctx, exec.Id)
		if err != nil {
			return nil, err
		}
		now := f.clock.Now()
		m := &persistence.Mutation{}
		if !e.Status.IsTerminal() {
			e.Status = model.STEP_FAILED
			e.ErrorMessage = cause.Error()
			e.CompletedAt = &now
			m.AddExecution(e)
			m.AddEvent(model.NewEvent(s, model.EVENT_STEP_FAILED, map[string]any{
				"stepId":          e.StepId,
				"stepExecutionId": e.Id,
				"attempt":         e.Attempt,
				"error":           e.ErrorMessage,
			}, now))
		}
		s.Finish(model.SESSION_FAILED, now)
		m.AddEvent(model.NewEvent(s, model.EVENT_FLOW_FAILED, map[string]any{
			"stepId": e.StepId,
			"error":  cause.Error(),
		}, now))
		return m, nil
	})
	if err != nil {
		logger.Error("error failing session", zap.String("sessionId", exec.SessionId), zap.Error(err))
	}
	return cause
}

// RetryFailed restarts the current step of a FAILED session with the next
// attempt number.
func (f *FlowEngine) RetryFailed(ctx context.Context, sessionId string, reason string) (*model.FlowSession, error) {
	m, err := persistence.UpdateSession(ctx, f.storage, f.clock, sessionId, func(s *model.FlowSession) (*persistence.Mutation, error) {
		if s.Status != model.SESSION_FAILED {
			return nil, api.ConflictError{Message: fmt.Sprintf("session %s is %s, only FAILED sessions can be retried", s.Id, s.Status)}
		}
		current, err := f.lastExecution(ctx, s)
		if err != nil {
			return nil, err
		}
		now := f.clock.Now()
		s.Status = model.SESSION_RUNNING
		s.CompletedAt = nil
		m := &persistence.Mutation{}
		m.AddEvent(model.NewEvent(s, model.EVENT_FLOW_RESUMED, map[string]any{"reason": reason}, now))
		retry := newExecution(s, current.StepId, current.Attempt+1, util.CloneMap(current.InputPayload), now)
		m.AddExecution(retry)
		s.CurrentStepId = retry.StepId
		s.CurrentStepExecutionId = retry.Id
		job, err := persistence.NewStepJob(retry, now, now)
		if err != nil {
			return nil, err
		}
		m.AddJob(job)
		m.AddEvent(model.NewEvent(s, model.EVENT_STEP_RETRY_SCHEDULED, map[string]any{
			"stepId":          retry.StepId,
			"stepExecutionId": retry.Id,
			"attempt":         retry.Attempt,
			"scheduledAt":     now,
			"reason":          reason,
		}, now))
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return m.Session, nil
}

// lastExecution returns the execution with the highest attempt for the
// session's current step.
func (f *FlowEngine) lastExecution(ctx context.Context, s *model.FlowSession) (*model.FlowStepExecution, error) {
	executions, err := f.storage.ListStepExecutions(ctx, s.Id)
	if err != nil {
		return nil, err
	}
	var last *model.FlowStepExecution
	for _, e := range executions {
		if e.StepId != s.CurrentStepId {
			continue
		}
		if last == nil || e.Attempt > last.Attempt {
			last = e
		}
	}
	if last == nil {
		return nil, api.NotFoundError{Kind: "step execution", Id: s.CurrentStepExecutionId}
	}
	return last, nil
}

func newExecution(s *model.FlowSession, stepId string, attempt int, input map[string]any, now time.Time) *model.FlowStepExecution {
	return &model.FlowStepExecution{
		Id:           uuid.NewString(),
		SessionId:    s.Id,
		StepId:       stepId,
		Attempt:      attempt,
		Status:       model.STEP_PENDING,
		InputPayload: input,
		CreatedAt:    now,
	}
}

func stepScope(s *model.FlowSession, e *model.FlowStepExecution) map[string]any {
	return map[string]any{
		"input":  orEmpty(e.InputPayload),
		"launch": orEmpty(s.LaunchParameters),
		"shared": orEmpty(s.SharedContext),
		"session": map[string]any{
			"id":            s.Id,
			"chatSessionId": s.ChatSessionId,
		},
	}
}

// outputPayload keeps the raw content and, when the agent answered with a
// JSON object, its parsed form under data.
func outputPayload(res *invocation.Result) map[string]any {
	out := map[string]any{
		"content": res.Content,
		"usage": map[string]any{
			"promptTokens":     res.Usage.PromptTokens,
			"completionTokens": res.Usage.CompletionTokens,
			"totalTokens":      res.Usage.TotalTokens,
		},
		"cost": res.Cost,
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(res.Content)), &data); err == nil {
		out["data"] = data
	}
	return out
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
