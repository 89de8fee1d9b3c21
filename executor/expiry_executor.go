package executor

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumar/agentflow/logger"
	"github.com/mohitkumar/agentflow/util"
	"go.uber.org/zap"
)

var _ Executor = new(ExpiryExecutor)

// ExpiryExecutor periodically auto-resolves interaction requests past their
// due time.
type ExpiryExecutor struct {
	expirer InteractionExpirer
	tw      *util.TickWorker
}

func NewExpiryExecutor(expirer InteractionExpirer, interval time.Duration, wg *sync.WaitGroup) *ExpiryExecutor {
	ex := &ExpiryExecutor{expirer: expirer}
	ex.tw = util.NewTickWorker("interaction-expiry", interval, ex.handle, wg)
	return ex
}

func (ex *ExpiryExecutor) Start() {
	ex.tw.Start()
}

func (ex *ExpiryExecutor) Stop() {
	ex.tw.Stop()
}

func (ex *ExpiryExecutor) IsRunning() bool {
	return ex.tw.IsRunning()
}

func (ex *ExpiryExecutor) handle() {
	n, err := ex.expirer.ExpireOverdue(context.Background())
	if err != nil {
		logger.Error("error expiring interaction requests", zap.Error(err))
	}
	if n > 0 {
		logger.Info("expired interaction requests", zap.Int("count", n))
	}
}
