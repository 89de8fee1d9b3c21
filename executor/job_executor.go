package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/util"
	"go.uber.org/zap"
)

var _ Executor = new(JobExecutor)

// JobExecutor runs a pool of workers. On every tick a worker drains due jobs
// until none is left, then waits for the next tick.
type JobExecutor struct {
	processor JobProcessor
	workers   []*util.TickWorker
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewJobExecutor(name string, processor JobProcessor, workerCount int, pollInterval time.Duration, wg *sync.WaitGroup) *JobExecutor {
	if workerCount < 1 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	ex := &JobExecutor{
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < workerCount; i++ {
		workerId := fmt.Sprintf("%s-%d", name, i)
		ex.workers = append(ex.workers, util.NewTickWorker(workerId, pollInterval, func() { ex.drain(workerId) }, wg))
	}
	return ex
}

func (ex *JobExecutor) Start() {
	for _, w := range ex.workers {
		w.Start()
	}
}

func (ex *JobExecutor) Stop() {
	ex.cancel()
	for _, w := range ex.workers {
		w.Stop()
	}
}

func (ex *JobExecutor) IsRunning() bool {
	for _, w := range ex.workers {
		if w.IsRunning() {
			return true
		}
	}
	return false
}

func (ex *JobExecutor) drain(workerId string) {
	for ex.ctx.Err() == nil {
		processed, err := ex.processor.ProcessNextJob(ex.ctx, workerId)
		if err != nil {
			logger.Error("error processing job", zap.String("worker", workerId), zap.Error(err))
		}
		if !processed {
			return
		}
	}
}
