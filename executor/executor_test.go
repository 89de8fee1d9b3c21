package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingProcessor struct {
	mu      sync.Mutex
	pending int
	byId    map[string]int
	failing atomic.Bool
}

func (p *countingProcessor) ProcessNextJob(ctx context.Context, workerId string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == 0 {
		return false, nil
	}
	p.pending--
	p.byId[workerId]++
	if p.failing.Load() {
		return true, errors.New("storage down")
	}
	return true, nil
}

func (p *countingProcessor) left() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

func TestJobExecutorDrains(t *testing.T) {
	p := &countingProcessor{pending: 50, byId: map[string]int{}}
	p.failing.Store(true)
	var wg sync.WaitGroup
	group := NewGroup(&wg)
	ex := NewJobExecutor("worker", p, 4, 5*time.Millisecond, &wg)
	group.Register("jobs", ex)
	group.Start()
	require.True(t, ex.IsRunning())

	require.Eventually(t, func() bool { return p.left() == 0 }, time.Second, 5*time.Millisecond)
	group.Stop()
	require.False(t, ex.IsRunning())

	total := 0
	for id, n := range p.byId {
		require.Contains(t, id, "worker-")
		total += n
	}
	require.Equal(t, 50, total)
}

type fakeExpirer struct {
	calls atomic.Int32
}

func (f *fakeExpirer) ExpireOverdue(ctx context.Context) (int, error) {
	f.calls.Add(1)
	return 1, nil
}

func TestExpiryExecutor(t *testing.T) {
	var wg sync.WaitGroup
	expirer := &fakeExpirer{}
	ex := NewExpiryExecutor(expirer, 5*time.Millisecond, &wg)
	ex.Start()
	require.Eventually(t, func() bool { return expirer.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	ex.Stop()
	wg.Wait()
	require.False(t, ex.IsRunning())
}
