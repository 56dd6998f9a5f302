// Package retry implements exponential backoff with jitter for
// transient source failures.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	apperrors "github.com/portfolio-aggregator/internal/errors"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts  int           // Maximum number of attempts, including the first
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Cap on the delay between retries
	Multiplier   float64       // Multiplier for exponential backoff
	Jitter       float64       // Fraction of the delay randomized, 0..1
}

// DefaultConfig returns a default retry configuration.
// Pattern: 500ms, 1s, 2s, capped at 15s.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  4,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Func is an operation eligible for retry
type Func func(ctx context.Context) error

// Do executes fn, retrying transient failures with exponential backoff.
// Permanent, not-configured, and reordering errors pass straight
// through on the first occurrence. When the attempt budget is consumed
// the last transient error is wrapped in ErrRetryExhausted so the
// circuit breaker can count it.
func Do(ctx context.Context, cfg *Config, fn Func) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !apperrors.IsTransient(err) {
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-time.After(delayFor(cfg, attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", apperrors.ErrRetryExhausted, attempts, lastErr)
}

// delayFor computes the backoff delay for the given attempt, with
// jitter applied so concurrent callers do not synchronize their
// retries against a recovering upstream. MaxDelay bounds the final
// sleep, jitter included.
func delayFor(cfg *Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))

	if cfg.Jitter > 0 {
		// Spread the delay across [1-jitter, 1+jitter]
		delay *= 1 + cfg.Jitter*(2*rand.Float64()-1)
	}
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	return time.Duration(delay)
}
