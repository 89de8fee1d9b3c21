package executor

import (
	"context"
	"sync"
)

type Executor interface {
	Start()
	Stop()
	IsRunning() bool
}

// JobProcessor runs at most one due job per call and reports whether it did.
type JobProcessor interface {
	ProcessNextJob(ctx context.Context, workerId string) (bool, error)
}

// InteractionExpirer resolves overdue interaction requests.
type InteractionExpirer interface {
	ExpireOverdue(ctx context.Context) (int, error)
}

// Group starts and stops a set of named executors together.
type Group struct {
	mu        sync.Mutex
	executors map[string]Executor
	wg        *sync.WaitGroup
}

func NewGroup(wg *sync.WaitGroup) *Group {
	return &Group{
		executors: make(map[string]Executor),
		wg:        wg,
	}
}

func (g *Group) Register(name string, executor Executor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.executors[name] = executor
}

func (g *Group) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, executor := range g.executors {
		executor.Start()
	}
}

// Stop signals every executor and waits for their goroutines to exit.
func (g *Group) Stop() {
	g.mu.Lock()
	for _, executor := range g.executors {
		executor.Stop()
	}
	g.mu.Unlock()
	g.wg.Wait()
}
