package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/util"
)

// ErrConcurrentModification is returned by Commit when the stored session
// version is not the one the mutation was built from.
var ErrConcurrentModification = errors.New("session modified concurrently")

// Mutation is written in a single atomic step. Session, when set, must carry
// a StateVersion exactly one above the stored one (0 for a new session).
type Mutation struct {
	Session    *model.FlowSession
	Executions []*model.FlowStepExecution
	Events     []*model.FlowEvent
	Jobs       []*model.FlowJob
	Requests   []*model.FlowInteractionRequest
	// Response is created only if no response exists for its request yet;
	// otherwise the whole mutation is rejected with a ConflictError.
	Response *model.FlowInteractionResponse
}

func (m *Mutation) AddExecution(e *model.FlowStepExecution) {
	m.Executions = append(m.Executions, e)
}

func (m *Mutation) AddEvent(e *model.FlowEvent) {
	m.Events = append(m.Events, e)
}

func (m *Mutation) AddJob(j *model.FlowJob) {
	m.Jobs = append(m.Jobs, j)
}

type FlowStore interface {
	Commit(ctx context.Context, m *Mutation) error
	GetSession(ctx context.Context, id string) (*model.FlowSession, error)
	GetStepExecution(ctx context.Context, id string) (*model.FlowStepExecution, error)
	ListStepExecutions(ctx context.Context, sessionId string) ([]*model.FlowStepExecution, error)
	ListEvents(ctx context.Context, sessionId string, afterId int64) ([]*model.FlowEvent, error)
	GetInteractionRequest(ctx context.Context, id string) (*model.FlowInteractionRequest, error)
	// FindInteractionRequest returns nil, nil when the execution has no request.
	FindInteractionRequest(ctx context.Context, stepExecutionId string) (*model.FlowInteractionRequest, error)
	ListPendingInteractionRequests(ctx context.Context, sessionId string) ([]*model.FlowInteractionRequest, error)
	ListOverdueInteractionRequests(ctx context.Context, now time.Time) ([]*model.FlowInteractionRequest, error)
	GetInteractionResponse(ctx context.Context, requestId string) (*model.FlowInteractionResponse, error)
}

type JobQueue interface {
	EnqueueStepJob(ctx context.Context, session *model.FlowSession, execution *model.FlowStepExecution, payload []byte, scheduledAt time.Time) (*model.FlowJob, error)
	// LockNextPending claims the earliest PENDING job due at now. It returns
	// nil, nil when there is none.
	LockNextPending(ctx context.Context, workerId string, now time.Time) (*model.FlowJob, error)
	Save(ctx context.Context, job *model.FlowJob) error
	GetJob(ctx context.Context, id string) (*model.FlowJob, error)
}

// Storage is a flow store whose Commit also persists the jobs of a mutation.
type Storage interface {
	FlowStore
	JobQueue
}

var payloadEncDec = util.NewJsonEncoderDecoder[model.JobPayload]()

// NewStepJob builds a PENDING job that drives execution.
func NewStepJob(execution *model.FlowStepExecution, scheduledAt time.Time, now time.Time) (*model.FlowJob, error) {
	payload, err := payloadEncDec.Encode(model.JobPayload{
		SessionId:       execution.SessionId,
		StepExecutionId: execution.Id,
		StepId:          execution.StepId,
		Attempt:         execution.Attempt,
	})
	if err != nil {
		return nil, err
	}
	return &model.FlowJob{
		Id:              uuid.NewString(),
		SessionId:       execution.SessionId,
		StepExecutionId: execution.Id,
		Payload:         payload,
		Status:          model.JOB_PENDING,
		ScheduledAt:     scheduledAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
