package reliability

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig holds configuration for retry operations
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial attempt)
	MaxAttempts int `yaml:"max_attempts"`
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay"`
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration `yaml:"max_delay"`
	// Multiplier for exponential backoff
	Multiplier float64 `yaml:"multiplier"`
	// Jitter adds randomness to delay calculations
	Jitter float64 `yaml:"jitter"`
	// ShouldRetry decides whether an error is transient. Errors it rejects end
	// the retry loop immediately.
	ShouldRetry func(error) bool `yaml:"-"`
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, delay time.Duration, err error) `yaml:"-"`
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond * 100,
		MaxDelay:     time.Second * 5,
		Multiplier:   2.0,
		Jitter:       0.1,
		ShouldRetry: func(err error) bool {
			return err != nil
		},
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = def.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = def.Jitter
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = def.ShouldRetry
	}
	return c
}

// NewBackOff builds the exponential policy described by the config, bounded
// by MaxAttempts and ctx.
func (c RetryConfig) NewBackOff(ctx context.Context) backoff.BackOff {
	c = c.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = c.MaxDelay
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.Jitter
	// Attempts bound the loop, not elapsed time
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.MaxAttempts-1)), ctx)
}

// Retry runs fn until it succeeds, returns an error ShouldRetry rejects, the
// attempts run out, or ctx is done. The last error from fn is returned.
func Retry(ctx context.Context, config RetryConfig, fn func(context.Context) error) error {
	config = config.withDefaults()

	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !config.ShouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var notify backoff.Notify
	if config.OnRetry != nil {
		notify = func(err error, delay time.Duration) {
			config.OnRetry(attempt, delay, err)
		}
	}

	return backoff.RetryNotify(operation, config.NewBackOff(ctx), notify)
}

// RetryWithResult is Retry for operations that return a value.
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var result T
	err := Retry(ctx, config, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
