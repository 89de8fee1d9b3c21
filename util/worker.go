package util

import (
	"sync"

	"github.com/mohitkumar/agentflow/logger"
	"go.uber.org/zap"
)

type Action any

// Worker drains a buffered channel of actions on a single goroutine.
type Worker struct {
	name       string
	stop       chan struct{}
	wg         *sync.WaitGroup
	handler    func(Action) error
	actionChan chan Action
	stopOnce   sync.Once
}

func NewWorker(name string, wg *sync.WaitGroup, handler func(Action) error, capacity int) *Worker {
	return &Worker{
		actionChan: make(chan Action, capacity),
		name:       name,
		wg:         wg,
		stop:       make(chan struct{}),
		handler:    handler,
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case action := <-w.actionChan:
				w.handle(action)
			case <-w.stop:
				for {
					select {
					case action := <-w.actionChan:
						w.handle(action)
					default:
						logger.Info("stopping worker", zap.String("worker", w.name))
						return
					}
				}
			}
		}
	}()
}

func (w *Worker) handle(action Action) {
	if err := w.handler(action); err != nil {
		logger.Error("error in executing action in worker", zap.String("worker", w.name), zap.Any("action", action), zap.Error(err))
	}
}

// TrySend queues action without blocking and reports whether it was accepted.
func (w *Worker) TrySend(action Action) bool {
	select {
	case w.actionChan <- action:
		return true
	default:
		return false
	}
}

// Stop drains what is already queued, then exits.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}
