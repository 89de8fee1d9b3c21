package invocation

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/mohitkumar/agentflow/logger"
	"go.uber.org/zap"
)

type RetryPolicy struct {
	MaxAttempts       int           `mapstructure:"max-attempts"`
	InitialDelay      time.Duration `mapstructure:"initial-delay"`
	Multiplier        float64       `mapstructure:"multiplier"`
	MaxDelay          time.Duration `mapstructure:"max-delay"`
	RetryableStatuses []int         `mapstructure:"retryable-statuses"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      250 * time.Millisecond,
		Multiplier:        2,
		MaxDelay:          10 * time.Second,
		RetryableStatuses: []int{429, 500, 502, 503, 504},
	}
}

func (p RetryPolicy) retryable(status int) bool {
	for _, s := range p.RetryableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (p RetryPolicy) backOff() backoff.BackOff {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	initial := p.InitialDelay
	if initial > maxDelay {
		initial = maxDelay
	}
	var b backoff.BackOff
	if p.Multiplier > 1.0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = initial
		eb.Multiplier = p.Multiplier
		eb.MaxInterval = maxDelay
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		b = eb
	} else {
		b = backoff.NewConstantBackOff(initial)
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

// Runner retries transient invocation failures within a single step
// attempt. Callers only see the final outcome.
type Runner struct {
	invoker       AgentInvoker
	policies      map[string]RetryPolicy
	defaultPolicy RetryPolicy
}

func NewRunner(invoker AgentInvoker, defaultPolicy RetryPolicy, policies map[string]RetryPolicy) *Runner {
	if policies == nil {
		policies = make(map[string]RetryPolicy)
	}
	return &Runner{
		invoker:       invoker,
		policies:      policies,
		defaultPolicy: defaultPolicy,
	}
}

func (r *Runner) Policy(providerId string) RetryPolicy {
	if p, ok := r.policies[providerId]; ok {
		return p
	}
	return r.defaultPolicy
}

// Invoke returns the first successful result, or the last error once the
// provider policy is exhausted or a non retryable error occurs.
func (r *Runner) Invoke(ctx context.Context, req Request) (*Result, error) {
	policy := r.Policy(req.ProviderId)
	attempt := 0
	var result *Result
	op := func() error {
		attempt++
		res, err := r.invoker.Invoke(ctx, req)
		if err == nil {
			result = res
			return nil
		}
		if status, ok := StatusOf(err); ok && policy.retryable(status) {
			logger.Warn("retryable invocation failure", zap.String("provider", req.ProviderId), zap.String("model", req.ModelId),
				zap.Int("attempt", attempt), zap.Int("status", status), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, backoff.WithContext(policy.backOff(), ctx)); err != nil {
		return nil, err
	}
	return result, nil
}
