// Package storetest holds the behaviour every persistence.Storage must show.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	api "github.com/mohitkumar/agentflow/api/v1"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/persistence"
	"github.com/mohitkumar/agentflow/util"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStorage func(t *testing.T) persistence.Storage) {
	for scenario, fn := range map[string]func(t *testing.T, s persistence.Storage){
		"commit and read back":          testCommitAndRead,
		"stale version is rejected":     testStaleVersion,
		"update session reloads":        testUpdateSessionRetry,
		"response is created once":      testResponseOnce,
		"lock picks earliest due job":   testLockOrder,
		"concurrent lock single winner": testConcurrentLock,
		"interaction request indexes":   testInteractionIndexes,
		"enqueue and save job":          testEnqueueAndSave,
		"saved pending job is requeued": testRequeue,
		"missing records":               testNotFound,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newStorage(t))
		})
	}
}

func newSession() *model.FlowSession {
	return &model.FlowSession{
		Id:            uuid.NewString(),
		DefinitionId:  "def",
		Status:        model.SESSION_RUNNING,
		CurrentStepId: "a",
		StartedAt:     base,
		UpdatedAt:     base,
	}
}

func newExecution(session *model.FlowSession, attempt int) *model.FlowStepExecution {
	return &model.FlowStepExecution{
		Id:        uuid.NewString(),
		SessionId: session.Id,
		StepId:    session.CurrentStepId,
		Attempt:   attempt,
		Status:    model.STEP_PENDING,
		CreatedAt: base.Add(time.Duration(attempt) * time.Millisecond),
	}
}

func seed(t *testing.T, s persistence.Storage) (*model.FlowSession, *model.FlowStepExecution, *model.FlowJob) {
	ctx := context.Background()
	session := newSession()
	exec := newExecution(session, 1)
	job, err := persistence.NewStepJob(exec, base, base)
	require.NoError(t, err)
	m := &persistence.Mutation{
		Session:    session,
		Executions: []*model.FlowStepExecution{exec},
		Events:     []*model.FlowEvent{model.NewEvent(session, model.EVENT_FLOW_STARTED, nil, base)},
		Jobs:       []*model.FlowJob{job},
	}
	require.NoError(t, s.Commit(ctx, m))
	return session, exec, job
}

func testCommitAndRead(t *testing.T, s persistence.Storage) {
	ctx := context.Background()
	session, exec, job := seed(t, s)

	got, err := s.GetSession(ctx, session.Id)
	require.NoError(t, err)
	require.Equal(t, session.Id, got.Id)
	require.Equal(t, int64(0), got.StateVersion)
	require.Equal(t, model.SESSION_RUNNING, got.Status)

	execs, err := s.ListStepExecutions(ctx, session.Id)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	require.Equal(t, exec.Id, execs[0].Id)

	storedJob, err := s.GetJob(ctx, job.Id)
	require.NoError(t, err)
	require.Equal(t, model.JOB_PENDING, storedJob.Status)

	clock := util.NewManualClock(base)
	_, err = persistence.UpdateSession(ctx, s, clock, session.Id, func(sess *model.FlowSession) (*persistence.Mutation, error) {
		e, err := s.GetStepExecution(ctx, exec.Id)
		require.NoError(t, err)
		e.Status = model.STEP_RUNNING
		m := &persistence.Mutation{}
		m.AddExecution(e)
		m.AddEvent(model.NewEvent(sess, model.EVENT_STEP_STARTED, map[string]any{"attempt": 1}, clock.Now()))
		m.AddEvent(model.NewEvent(sess, model.EVENT_STEP_COMPLETED, nil, clock.Now()))
		return m, nil
	})
	require.NoError(t, err)

	got, err = s.GetSession(ctx, session.Id)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.StateVersion)

	events, err := s.ListEvents(ctx, session.Id, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, model.EVENT_FLOW_STARTED, events[0].EventType)
	require.Equal(t, model.EVENT_STEP_STARTED, events[1].EventType)
	require.Equal(t, model.EVENT_STEP_COMPLETED, events[2].EventType)
	require.Less(t, events[0].Id, events[1].Id)
	require.Less(t, events[1].Id, events[2].Id)
	require.Equal(t, float64(1), events[1].Payload["attempt"])

	after, err := s.ListEvents(ctx, session.Id, events[1].Id)
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, events[2].Id, after[0].Id)

	// a second execution keeps creation order
	second := newExecution(got, 2)
	got.Touch(base)
	require.NoError(t, s.Commit(ctx, &persistence.Mutation{Session: got, Executions: []*model.FlowStepExecution{second}}))
	execs, err = s.ListStepExecutions(ctx, session.Id)
	require.NoError(t, err)
	require.Len(t, execs, 2)
	require.Equal(t, 1, execs[0].Attempt)
	require.Equal(t, 2, execs[1].Attempt)
}

func testStaleVersion(t *testing.T, s persistence.Storage) {
	ctx := context.Background()
	session, _, _ := seed(t, s)

	first := *session
	first.Touch(base)
	require.NoError(t, s.Commit(ctx, &persistence.Mutation{Session: &first}))

	stale := *session
	stale.Touch(base)
	stale.Status = model.SESSION_PAUSED
	err := s.Commit(ctx, &persistence.Mutation{
		Session: &stale,
		Events:  []*model.FlowEvent{model.NewEvent(&stale, model.EVENT_FLOW_PAUSED, nil, base)},
	})
	require.ErrorIs(t, err, persistence.ErrConcurrentModification)

	events, err := s.ListEvents(ctx, session.Id, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)

	dup := newSession()
	dup.Id = session.Id
	require.ErrorIs(t, s.Commit(ctx, &persistence.Mutation{Session: dup}), persistence.ErrConcurrentModification)
}

func testUpdateSessionRetry(t *testing.T, s persistence.Storage) {
	ctx := context.Background()
	session, _, _ := seed(t, s)
	clock := util.NewManualClock(base)

	calls := 0
	_, err := persistence.UpdateSession(ctx, s, clock, session.Id, func(sess *model.FlowSession) (*persistence.Mutation, error) {
		calls++
		if calls == 1 {
			// someone else writes in between
			other, err := s.GetSession(ctx, session.Id)
			require.NoError(t, err)
			other.Touch(base)
			require.NoError(t, s.Commit(ctx, &persistence.Mutation{Session: other}))
		}
		sess.Status = model.SESSION_PAUSED
		return &persistence.Mutation{Events: []*model.FlowEvent{model.NewEvent(sess, model.EVENT_FLOW_PAUSED, nil, base)}}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	got, err := s.GetSession(ctx, session.Id)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.StateVersion)
	require.Equal(t, model.SESSION_PAUSED, got.Status)

	// returning nil writes nothing
	m, err := persistence.UpdateSession(ctx, s, clock, session.Id, func(sess *model.FlowSession) (*persistence.Mutation, error) {
		return nil, nil
	})
	require.NoError(t, err)
	require.Nil(t, m)
	got, err = s.GetSession(ctx, session.Id)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.StateVersion)
}

func testResponseOnce(t *testing.T, s persistence.Storage) {
	ctx := context.Background()
	session, exec, _ := seed(t, s)
	req := &model.FlowInteractionRequest{
		Id:              uuid.NewString(),
		SessionId:       session.Id,
		StepExecutionId: exec.Id,
		ChatSessionId:   "chat",
		Status:          model.INTERACTION_PENDING,
		CreatedAt:       base,
	}
	session.Touch(base)
	require.NoError(t, s.Commit(ctx, &persistence.Mutation{Session: session, Requests: []*model.FlowInteractionRequest{req}}))

	respond := func(by string) error {
		current, err := s.GetSession(ctx, session.Id)
		require.NoError(t, err)
		current.Touch(base)
		answered := *req
		answered.Status = model.INTERACTION_ANSWERED
		return s.Commit(ctx, &persistence.Mutation{
			Session:  current,
			Requests: []*model.FlowInteractionRequest{&answered},
			Events:   []*model.FlowEvent{model.NewEvent(current, model.EVENT_HUMAN_INTERACTION_RESPONDED, nil, base)},
			Response: &model.FlowInteractionResponse{
				Id:          uuid.NewString(),
				RequestId:   req.Id,
				Source:      model.SOURCE_USER,
				RespondedBy: by,
				CreatedAt:   base,
			},
		})
	}
	require.NoError(t, respond("alice"))
	err := respond("bob")
	require.Error(t, err)
	require.True(t, api.IsConflict(err))

	resp, err := s.GetInteractionResponse(ctx, req.Id)
	require.NoError(t, err)
	require.Equal(t, "alice", resp.RespondedBy)

	events, err := s.ListEvents(ctx, session.Id, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	got, err := s.GetSession(ctx, session.Id)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.StateVersion)
}

func testLockOrder(t *testing.T, s persistence.Storage) {
	ctx := context.Background()
	session := newSession()
	late := newExecution(session, 1)
	early := newExecution(session, 2)
	future := newExecution(session, 3)
	lateJob, err := persistence.NewStepJob(late, base.Add(2*time.Second), base)
	require.NoError(t, err)
	earlyJob, err := persistence.NewStepJob(early, base.Add(time.Second), base)
	require.NoError(t, err)
	futureJob, err := persistence.NewStepJob(future, base.Add(time.Hour), base)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, &persistence.Mutation{
		Session:    session,
		Executions: []*model.FlowStepExecution{late, early, future},
		Jobs:       []*model.FlowJob{lateJob, earlyJob, futureJob},
	}))

	job, err := s.LockNextPending(ctx, "w1", base)
	require.NoError(t, err)
	require.Nil(t, job)

	now := base.Add(5 * time.Second)
	job, err = s.LockNextPending(ctx, "w1", now)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, earlyJob.Id, job.Id)
	require.Equal(t, model.JOB_RUNNING, job.Status)
	require.Equal(t, "w1", job.LockedBy)
	require.NotNil(t, job.LockedAt)
	require.Equal(t, earlyJob.Payload, job.Payload)
	require.Equal(t, early.Id, job.StepExecutionId)

	job, err = s.LockNextPending(ctx, "w2", now)
	require.NoError(t, err)
	require.Equal(t, lateJob.Id, job.Id)

	job, err = s.LockNextPending(ctx, "w2", now)
	require.NoError(t, err)
	require.Nil(t, job)

	stored, err := s.GetJob(ctx, earlyJob.Id)
	require.NoError(t, err)
	require.Equal(t, model.JOB_RUNNING, stored.Status)
	require.Equal(t, "w1", stored.LockedBy)
}

func testConcurrentLock(t *testing.T, s persistence.Storage) {
	ctx := context.Background()
	_, _, job := seed(t, s)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan *model.FlowJob, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j, err := s.LockNextPending(ctx, "worker-"+string(rune('a'+i)), base.Add(time.Second))
			if err != nil {
				errs <- err
				return
			}
			results <- j
		}(i)
	}
	wg.Wait()
	close(results)
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	winners := 0
	for j := range results {
		if j != nil {
			winners++
			require.Equal(t, job.Id, j.Id)
		}
	}
	require.Equal(t, 1, winners)
}

func testInteractionIndexes(t *testing.T, s persistence.Storage) {
	ctx := context.Background()
	session, exec, _ := seed(t, s)

	found, err := s.FindInteractionRequest(ctx, exec.Id)
	require.NoError(t, err)
	require.Nil(t, found)

	due := base.Add(time.Minute)
	req := &model.FlowInteractionRequest{
		Id:              uuid.NewString(),
		SessionId:       session.Id,
		StepExecutionId: exec.Id,
		ChatSessionId:   "chat",
		Title:           "approve",
		Status:          model.INTERACTION_PENDING,
		DueAt:           &due,
		CreatedAt:       base,
	}
	session.Touch(base)
	require.NoError(t, s.Commit(ctx, &persistence.Mutation{Session: session, Requests: []*model.FlowInteractionRequest{req}}))

	found, err = s.FindInteractionRequest(ctx, exec.Id)
	require.NoError(t, err)
	require.Equal(t, req.Id, found.Id)

	pending, err := s.ListPendingInteractionRequests(ctx, session.Id)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	overdue, err := s.ListOverdueInteractionRequests(ctx, base)
	require.NoError(t, err)
	require.Empty(t, overdue)
	overdue, err = s.ListOverdueInteractionRequests(ctx, due.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	req.Status = model.INTERACTION_ANSWERED
	session.Touch(base)
	require.NoError(t, s.Commit(ctx, &persistence.Mutation{Session: session, Requests: []*model.FlowInteractionRequest{req}}))

	pending, err = s.ListPendingInteractionRequests(ctx, session.Id)
	require.NoError(t, err)
	require.Empty(t, pending)
	overdue, err = s.ListOverdueInteractionRequests(ctx, due.Add(time.Second))
	require.NoError(t, err)
	require.Empty(t, overdue)

	got, err := s.GetInteractionRequest(ctx, req.Id)
	require.NoError(t, err)
	require.Equal(t, model.INTERACTION_ANSWERED, got.Status)
}

func testEnqueueAndSave(t *testing.T, s persistence.Storage) {
	ctx := context.Background()
	session := newSession()
	exec := newExecution(session, 1)
	job, err := s.EnqueueStepJob(ctx, session, exec, []byte(`{"sessionId":"x"}`), base)
	require.NoError(t, err)
	require.Equal(t, model.JOB_PENDING, job.Status)

	locked, err := s.LockNextPending(ctx, "w", base)
	require.NoError(t, err)
	require.Equal(t, job.Id, locked.Id)
	require.Equal(t, []byte(`{"sessionId":"x"}`), locked.Payload)

	locked.Status = model.JOB_FAILED
	locked.Error = "boom"
	require.NoError(t, s.Save(ctx, locked))
	stored, err := s.GetJob(ctx, job.Id)
	require.NoError(t, err)
	require.Equal(t, model.JOB_FAILED, stored.Status)
	require.Equal(t, "boom", stored.Error)
}

func testRequeue(t *testing.T, s persistence.Storage) {
	ctx := context.Background()
	session := newSession()
	job, err := s.EnqueueStepJob(ctx, session, newExecution(session, 1), []byte(`{}`), base)
	require.NoError(t, err)

	locked, err := s.LockNextPending(ctx, "w", base)
	require.NoError(t, err)
	require.Equal(t, job.Id, locked.Id)

	locked.Status = model.JOB_PENDING
	locked.LockedBy = ""
	locked.LockedAt = nil
	locked.ScheduledAt = base.Add(2 * time.Second)
	require.NoError(t, s.Save(ctx, locked))

	none, err := s.LockNextPending(ctx, "w", base.Add(time.Second))
	require.NoError(t, err)
	require.Nil(t, none)
	again, err := s.LockNextPending(ctx, "w", base.Add(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, job.Id, again.Id)
	require.Equal(t, model.JOB_RUNNING, again.Status)

	again.Status = model.JOB_COMPLETED
	require.NoError(t, s.Save(ctx, again))
	none, err = s.LockNextPending(ctx, "w", base.Add(time.Hour))
	require.NoError(t, err)
	require.Nil(t, none)
}

func testNotFound(t *testing.T, s persistence.Storage) {
	ctx := context.Background()
	_, err := s.GetSession(ctx, "missing")
	require.True(t, api.IsNotFound(err))
	_, err = s.GetStepExecution(ctx, "missing")
	require.True(t, api.IsNotFound(err))
	_, err = s.GetInteractionRequest(ctx, "missing")
	require.True(t, api.IsNotFound(err))
	_, err = s.GetInteractionResponse(ctx, "missing")
	require.True(t, api.IsNotFound(err))
	_, err = s.GetJob(ctx, "missing")
	require.True(t, api.IsNotFound(err))
	err = s.Save(ctx, &model.FlowJob{Id: "missing"})
	require.True(t, api.IsNotFound(err))
	events, err := s.ListEvents(ctx, "missing", 0)
	require.NoError(t, err)
	require.Empty(t, events)
}
