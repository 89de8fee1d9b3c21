package memory

import (
	"context"
	"testing"
	"time"

	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/persistence"
	"github.com/mohitkumar/agentflow/persistence/storetest"
	"github.com/stretchr/testify/require"
)

func TestStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) persistence.Storage {
		return NewStorage()
	})
}

func TestFinishedJobsLeavePendingIndex(t *testing.T) {
	ctx := context.Background()
	s := NewStorage()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	session := &model.FlowSession{Id: "s1"}
	for i := 0; i < 50; i++ {
		exec := &model.FlowStepExecution{Id: "e" + string(rune('a'+i%26)), SessionId: "s1", StepId: "a", Attempt: 1}
		_, err := s.EnqueueStepJob(ctx, session, exec, []byte(`{}`), now)
		require.NoError(t, err)
	}
	require.Len(t, s.pendingJobs, 50)

	var ids []string
	for {
		job, err := s.LockNextPending(ctx, "w", now)
		require.NoError(t, err)
		if job == nil {
			break
		}
		job.Status = model.JOB_COMPLETED
		require.NoError(t, s.Save(ctx, job))
		ids = append(ids, job.Id)
	}
	require.Len(t, ids, 50)
	require.Empty(t, s.pendingJobs)
	require.Len(t, s.jobs, 50)

	stored, err := s.GetJob(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, model.JOB_COMPLETED, stored.Status)
}
