package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/persistence"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	JOB       string = "JOB"
	JOB_QUEUE string = "JOB_QUEUE"
)

// KEYS[1] pending queue, ARGV[1] now in ms, ARGV[2] job key prefix,
// ARGV[3] worker id. Removing the id from the queue is the claim, so two
// callers can never get the same job.
var lockNextScript = rd.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
redis.call('HSET', ARGV[2] .. id, 'status', 'RUNNING', 'lockedBy', ARGV[3], 'lockedAt', ARGV[1], 'updatedAt', ARGV[1])
return id
`)

func (s *Storage) jobKey(id string) string {
	return s.getNamespaceKey(JOB, id)
}

func (s *Storage) writeJob(ctx context.Context, pipe rd.Pipeliner, job *model.FlowJob) {
	pipe.HSet(ctx, s.jobKey(job.Id), jobRecord(job))
	if job.Status == model.JOB_PENDING {
		pipe.ZAdd(ctx, s.getNamespaceKey(JOB_QUEUE), rd.Z{
			Score:  float64(job.ScheduledAt.UnixMilli()),
			Member: job.Id,
		})
	} else {
		pipe.ZRem(ctx, s.getNamespaceKey(JOB_QUEUE), job.Id)
	}
}

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
	keys := []string{s.getNamespaceKey(JOB_QUEUE)}
	id, err := lockNextScript.Run(ctx, s.redisClient, keys,
		strconv.FormatInt(now.UnixMilli(), 10), s.getNamespaceKey(JOB)+":", workerId).Text()
	if errors.Is(err, rd.Nil) {
		return nil, nil
	}
	if err != nil {
		logger.Error("error locking next job", zap.String("worker", workerId), zap.Error(err))
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	return s.GetJob(ctx, id)
}

func (s *Storage) Save(ctx context.Context, job *model.FlowJob) error {
	n, err := s.redisClient.Exists(ctx, s.jobKey(job.Id)).Result()
	if err != nil {
		return api.StorageLayerError{Message: err.Error()}
	}
	if n == 0 {
		return api.NotFoundError{Kind: "job", Id: job.Id}
	}
	_, err = s.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		s.writeJob(ctx, pipe, job)
		return nil
	})
	if err != nil {
		logger.Error("error saving job", zap.String("jobId", job.Id), zap.Error(err))
		return api.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) GetJob(ctx context.Context, id string) (*model.FlowJob, error) {
	fields, err := s.redisClient.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, api.StorageLayerError{Message: err.Error()}
	}
	if len(fields) == 0 {
		return nil, api.NotFoundError{Kind: "job", Id: id}
	}
	return parseJobRecord(fields), nil
}

func jobRecord(job *model.FlowJob) map[string]any {
	record := map[string]any{
		"id":              job.Id,
		"sessionId":       job.SessionId,
		"stepExecutionId": job.StepExecutionId,
		"payload":         string(job.Payload),
		"status":          string(job.Status),
		"scheduledAt":     job.ScheduledAt.UnixMilli(),
		"lockedBy":        job.LockedBy,
		"lockedAt":        "",
		"error":           job.Error,
		"createdAt":       job.CreatedAt.UnixMilli(),
		"updatedAt":       job.UpdatedAt.UnixMilli(),
	}
	if job.LockedAt != nil {
		record["lockedAt"] = job.LockedAt.UnixMilli()
	}
	return record
}

func parseJobRecord(fields map[string]string) *model.FlowJob {
	job := &model.FlowJob{
		Id:              fields["id"],
		SessionId:       fields["sessionId"],
		StepExecutionId: fields["stepExecutionId"],
		Payload:         []byte(fields["payload"]),
		Status:          model.JobStatus(fields["status"]),
		ScheduledAt:     parseMillis(fields["scheduledAt"]),
		LockedBy:        fields["lockedBy"],
		Error:           fields["error"],
		CreatedAt:       parseMillis(fields["createdAt"]),
		UpdatedAt:       parseMillis(fields["updatedAt"]),
	}
	if v := fields["lockedAt"]; v != "" {
		t := parseMillis(v)
		job.LockedAt = &t
	}
	return job
}

func parseMillis(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
