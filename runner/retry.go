// Package runner retries start-up operations such as opening a connection
// pool. Provider calls made while handling an event are never retried.
package runner

import (
	"context"
	"fmt"
	"math"
	"time"

	rules "github.com/goliatone/go-rules"
)

// RetryStrategy encapsulates the delay between attempts.
type RetryStrategy interface {
	// SleepDuration returns how long to wait before the next attempt. The
	// attempt index starts at 0, incrementing after each failure.
	SleepDuration(attempt int, err error) time.Duration
}

// NoDelayStrategy retries immediately.
type NoDelayStrategy struct{}

func (NoDelayStrategy) SleepDuration(int, error) time.Duration {
	return 0
}

// ExponentialBackoffStrategy implements a capped exponential backoff.
//
//	runner.ExponentialBackoffStrategy{
//	    Base:   200 * time.Millisecond,
//	    Factor: 2,
//	    Max:    5 * time.Second,
//	}
type ExponentialBackoffStrategy struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := e.Factor
	if factor <= 0 {
		factor = 1
	}
	delay := float64(e.Base) * math.Pow(factor, float64(attempt))
	if e.Max > 0 && time.Duration(delay) > e.Max {
		return e.Max
	}
	return time.Duration(delay)
}

// Option configures Retry.
type Option func(*config)

type config struct {
	retries  int
	strategy RetryStrategy
	logger   rules.Logger
	name     string
}

// WithMaxRetries sets how many times a failing call is repeated. Zero runs
// fn once.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.retries = n
		}
	}
}

func WithRetryStrategy(s RetryStrategy) Option {
	return func(c *config) {
		if s != nil {
			c.strategy = s
		}
	}
}

func WithLogger(l rules.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithName labels log lines and the final error.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// Retry calls fn until it succeeds, the retries are used up or ctx ends.
// The last error is returned wrapped with the attempt count.
func Retry(ctx context.Context, fn func(context.Context) error, opts ...Option) error {
	cfg := config{strategy: NoDelayStrategy{}, logger: rules.NopLogger{}, name: "operation"}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	var err error
	for attempt := 0; attempt <= cfg.retries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == cfg.retries {
			break
		}

		delay := cfg.strategy.SleepDuration(attempt, err)
		cfg.logger.Warn("%s failed, attempt %d of %d, retrying in %s: %v",
			cfg.name, attempt+1, cfg.retries+1, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", cfg.name, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", cfg.name, cfg.retries+1, err)
}
