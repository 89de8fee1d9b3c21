package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/persistence"
)

func (s *Storage) EnqueueStepJob(ctx context.Context, session *model.FlowSession, execution *model.FlowStepExecution, payload []byte, scheduledAt time.Time) (*model.FlowJob, error) {
	now := time.Now().UTC()
	job := &model.FlowJob{
		Id:              uuid.NewString(),
		SessionId:       session.Id,
		StepExecutionId: execution.Id,
		Payload:         payload,
		Status:          model.JOB_PENDING,
		ScheduledAt:     scheduledAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Commit(ctx, &persistence.Mutation{Jobs: []*model.FlowJob{job}}); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Storage) LockNextPending(ctx context.Context, workerId string, now time.Time) (*model.FlowJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next *storedJob
	for _, sj := range s.pendingJobs {
		if sj.job.ScheduledAt.After(now) {
			continue
		}
		if next == nil || sj.job.ScheduledAt.Before(next.job.ScheduledAt) ||
			(sj.job.ScheduledAt.Equal(next.job.ScheduledAt) && sj.seq < next.seq) {
			next = sj
		}
	}
	if next == nil {
		return nil, nil
	}
	lockedAt := now
	next.job.Status = model.JOB_RUNNING
	next.job.LockedBy = workerId
	next.job.LockedAt = &lockedAt
	next.job.UpdatedAt = now
	s.indexJob(next)
	job := next.job
	return &job, nil
}

func (s *Storage) Save(ctx context.Context, job *model.FlowJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sj, ok := s.jobs[job.Id]
	if !ok {
		return api.NotFoundError{Kind: "job", Id: job.Id}
	}
	sj.job = *job
	s.indexJob(sj)
	return nil
}

// indexJob keeps pendingJobs holding exactly the PENDING jobs, so finished
// jobs stay readable without slowing down LockNextPending.
func (s *Storage) indexJob(sj *storedJob) {
	if sj.job.Status == model.JOB_PENDING {
		s.pendingJobs[sj.job.Id] = sj
		return
	}
	delete(s.pendingJobs, sj.job.Id)
}

func (s *Storage) GetJob(ctx context.Context, id string) (*model.FlowJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sj, ok := s.jobs[id]
	if !ok {
		return nil, api.NotFoundError{Kind: "job", Id: id}
	}
	job := sj.job
	return &job, nil
}
