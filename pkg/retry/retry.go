// Package retry runs store reads with exponential backoff and jitter.
// Writes are never retried here: appending to the XP ledger is not idempotent.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config bounds the attempts and the backoff between them.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first one.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier grows the delay after each attempt.
	Multiplier float64

	// JitterFactor randomizes delays (0.0 = none, 1.0 = full).
	JitterFactor float64

	// RetryIf decides whether an error is transient. Nil retries nothing.
	RetryIf func(error) bool

	// OnRetry is called before sleeping between attempts.
	OnRetry func(err error, delay time.Duration)
}

// DefaultConfig returns a Config tuned for store reads.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Option adjusts a Config.
type Option func(*Config)

// WithMaxAttempts caps the total number of calls, the first one included.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithInitialDelay sets the first backoff delay.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

// WithMaxDelay sets the backoff ceiling.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

// WithJitter sets the randomization factor.
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1 {
			c.JitterFactor = j
		}
	}
}

// WithRetryIf sets the transient-error predicate.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) {
		c.RetryIf = fn
	}
}

// WithOnRetry sets a callback invoked before each retry.
func WithOnRetry(fn func(err error, delay time.Duration)) Option {
	return func(c *Config) {
		c.OnRetry = fn
	}
}

// Retrier executes operations with retries.
type Retrier struct {
	config Config
}

// New returns a Retrier over DefaultConfig with opts applied.
func New(opts ...Option) *Retrier {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config}
}

// Do executes the operation, retrying errors accepted by RetryIf.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	_, err := DoWithData(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, operation(ctx)
	})
	return err
}

// DoWithData executes an operation that returns a value.
func DoWithData[T any](ctx context.Context, r *Retrier, operation func(ctx context.Context) (T, error)) (T, error) {
	cfg := r.config

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialDelay
	policy.MaxInterval = cfg.MaxDelay
	policy.Multiplier = cfg.Multiplier
	policy.RandomizationFactor = cfg.JitterFactor

	opts := []backoff.RetryOption{
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
	}
	if cfg.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(cfg.OnRetry)))
	}

	return backoff.Retry(ctx, func() (T, error) {
		v, err := operation(ctx)
		if err == nil {
			return v, nil
		}
		if cfg.RetryIf == nil || !cfg.RetryIf(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
}
