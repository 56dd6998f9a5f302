// Package policy composes the rate limiter, circuit breaker, per-call
// timeout, and retry loop that every adapter call runs through.
package policy

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/portfolio-aggregator/internal/circuitbreaker"
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/retry"
)

// CallPolicy wraps adapter calls with backoff, rate limiting, and
// per-(account,operation) circuit breaking. One policy instance is
// shared by all workers of an aggregation cycle.
type CallPolicy struct {
	retryCfg    *retry.Config
	breakers    *circuitbreaker.Manager
	callTimeout time.Duration

	// one limiter per source network, created lazily
	limiterRPS   rate.Limit
	limiterBurst int
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
}

// Config configures a CallPolicy
type Config struct {
	Retry       *retry.Config
	Breaker     *circuitbreaker.Config
	CallTimeout time.Duration
	SourceRPS   float64
	Burst       int
}

// New creates a call policy
func New(cfg *Config) *CallPolicy {
	if cfg == nil {
		cfg = &Config{}
	}
	rps := cfg.SourceRPS
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &CallPolicy{
		retryCfg:     cfg.Retry,
		breakers:     circuitbreaker.NewManager(cfg.Breaker),
		callTimeout:  timeout,
		limiterRPS:   rate.Limit(rps),
		limiterBurst: burst,
		limiters:     make(map[string]*rate.Limiter),
	}
}

// limiter returns the rate limiter for a source, creating it on first use
func (p *CallPolicy) limiter(source string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.limiters[source]; ok {
		return l
	}
	l := rate.NewLimiter(p.limiterRPS, p.limiterBurst)
	p.limiters[source] = l
	return l
}

// Do executes fn for the given account and operation. The circuit
// breaker is consulted before any network I/O; while it is open the
// call returns ErrOpen immediately. Only retry-exhausted transient
// failures count against the breaker: permanent and configuration
// errors say nothing about upstream health.
func (p *CallPolicy) Do(ctx context.Context, source, accountID, op string, fn func(ctx context.Context) error) error {
	breaker := p.breakers.Get(accountID + ":" + op)
	if err := breaker.Allow(); err != nil {
		return err
	}

	err := retry.Do(ctx, p.retryCfg, func(ctx context.Context) error {
		if err := p.limiter(source).Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
		return fn(callCtx)
	})

	switch {
	case err == nil:
		breaker.RecordSuccess()
	case apperrors.IsRetryExhausted(err):
		breaker.RecordFailure()
	}
	return err
}

// BreakerStates exposes breaker states for health reporting
func (p *CallPolicy) BreakerStates() map[string]circuitbreaker.State {
	return p.breakers.States()
}
