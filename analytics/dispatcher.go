package analytics

import (
	"fmt"
	"sync"

	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/model"
	"github.com/mohitkumar/agentflow/persistence"
	"github.com/mohitkumar/agentflow/util"
	"go.uber.org/zap"
)

const DEFAULT_BUFFER_SIZE = 1024

var _ persistence.EventListener = new(Dispatcher)

// Dispatcher hands events and jobs to a collector on its own goroutine.
// When the buffer is full records are dropped.
type Dispatcher struct {
	collector DataCollector
	worker    *util.Worker
}

func NewDispatcher(collector DataCollector, bufferSize int, wg *sync.WaitGroup) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DEFAULT_BUFFER_SIZE
	}
	d := &Dispatcher{collector: collector}
	d.worker = util.NewWorker("analytics-dispatcher", wg, d.handle, bufferSize)
	return d
}

func (d *Dispatcher) Start() {
	d.worker.Start()
}

func (d *Dispatcher) Stop() {
	d.worker.Stop()
}

func (d *Dispatcher) OnEvents(events []*model.FlowEvent) {
	for _, e := range events {
		if !d.worker.TrySend(*e) {
			logger.Warn("analytics buffer full, dropping event", zap.String("sessionId", e.SessionId), zap.String("type", string(e.EventType)))
		}
	}
}

func (d *Dispatcher) OnJobFinished(job *model.FlowJob) {
	if !d.worker.TrySend(*job) {
		logger.Warn("analytics buffer full, dropping job", zap.String("jobId", job.Id))
	}
}

func (d *Dispatcher) handle(action util.Action) error {
	switch v := action.(type) {
	case model.FlowEvent:
		d.collector.RecordEvent(v)
	case model.FlowJob:
		d.collector.RecordJob(v)
	default:
		return fmt.Errorf("unexpected analytics record %T", action)
	}
	return nil
}
