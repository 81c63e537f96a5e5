// Package retry provides exponential backoff with optional jitter, used for
// registry initialization and the gateway reconnection schedule.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig parameterizes the delay schedule.
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay" validate:"min=10ms,max=10s"`
	MaxDelay     time.Duration `json:"max_delay" validate:"min=100ms,max=5m"`
	Multiplier   float64       `json:"multiplier" validate:"min=1.0,max=10.0"`
	MaxAttempts  int           `json:"max_attempts" validate:"min=1,max=20"`
	Jitter       bool          `json:"jitter"`
}

// DefaultBackoffConfig returns the stock schedule: 100ms doubling to a 30s
// cap over 5 attempts, with jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	}
}

// Backoff computes delays and drives retry loops for one configuration.
type Backoff struct {
	config BackoffConfig
}

// NewBackoff creates a Backoff from the given configuration.
func NewBackoff(config BackoffConfig) *Backoff {
	return &Backoff{config: config}
}

// Retry runs operation until it succeeds or MaxAttempts is exhausted,
// sleeping the scheduled delay between attempts. The last error is returned
// when every attempt fails.
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate is Retry with early exit: an error the predicate rejects
// is returned immediately without further attempts.
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func() error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err

		if attempt == b.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.delay(attempt)):
		}
	}

	return lastErr
}

// GetNextDelay exposes the schedule for callers that manage their own retry
// loop, such as the gateway reconnection supervisor.
func (b *Backoff) GetNextDelay(attempt int) time.Duration {
	return b.delay(attempt)
}

// delay computes initial * multiplier^(attempt-1), capped at MaxDelay, with
// up to ±25% jitter when enabled.
func (b *Backoff) delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(b.config.InitialDelay) * math.Pow(b.config.Multiplier, float64(attempt-1))
	if d > float64(b.config.MaxDelay) {
		d = float64(b.config.MaxDelay)
	}

	if b.config.Jitter {
		d += d * 0.25 * (rand.Float64()*2 - 1)
		if d < 0 {
			d = float64(b.config.InitialDelay)
		}
		if d > float64(b.config.MaxDelay) {
			d = float64(b.config.MaxDelay)
		}
	}

	return time.Duration(d)
}
