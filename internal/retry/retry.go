package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Default retry configuration constants.
const (
	// DefaultMaxAttempts is the default number of attempts, including the first.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the default delay before the first retry.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay is the default cap on a single backoff.
	DefaultMaxDelay = 30 * time.Second

	// DefaultJitterFactor is the default jitter factor (10%).
	DefaultJitterFactor = 0.1

	// MaxJitterFactor is the maximum allowed jitter factor.
	MaxJitterFactor = 1.0
)

// Config contains retry configuration parameters.
type Config struct {
	// MaxAttempts is the total number of attempts. Default is 3.
	MaxAttempts int

	// BaseDelay is the delay before the first retry. Zero disables sleeping.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff. Default is 30s.
	MaxDelay time.Duration

	// JitterFactor (0.0 to 1.0) scales the random extra delay. Zero disables jitter.
	JitterFactor float64
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  DefaultMaxAttempts,
		BaseDelay:    DefaultBaseDelay,
		MaxDelay:     DefaultMaxDelay,
		JitterFactor: DefaultJitterFactor,
	}
}

// GetMaxAttempts returns the effective attempt count.
func (c *Config) GetMaxAttempts() int {
	if c == nil || c.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

// GetMaxDelay returns the effective max delay.
func (c *Config) GetMaxDelay() time.Duration {
	if c == nil || c.MaxDelay <= 0 {
		return DefaultMaxDelay
	}
	return c.MaxDelay
}

// GetJitterFactor returns the effective jitter factor.
func (c *Config) GetJitterFactor() float64 {
	if c == nil || c.JitterFactor <= 0 {
		return 0
	}
	if c.JitterFactor > MaxJitterFactor {
		return MaxJitterFactor
	}
	return c.JitterFactor
}

// Backoff returns the delay to wait after the given failed attempt (1-based).
func (c *Config) Backoff(attempt int) time.Duration {
	if c == nil {
		c = DefaultConfig()
	}
	return CalculateBackoff(attempt, c.BaseDelay, c.GetMaxDelay(), c.GetJitterFactor())
}

// RetryableFunc is a function that can be retried. attempt starts at 1.
type RetryableFunc func(ctx context.Context, attempt int) error

// ShouldRetryFunc determines if an error should trigger a retry.
type ShouldRetryFunc func(error) bool

// OnRetryFunc is called before each backoff sleep.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Options contains optional retry behavior configuration.
type Options struct {
	// Operation labels the retry metrics. Empty disables them.
	Operation string

	// ShouldRetry determines if an error should trigger a retry.
	// If nil, all errors are retried.
	ShouldRetry ShouldRetryFunc

	// OnRetry is called before each backoff sleep.
	OnRetry OnRetryFunc
}

// Do executes fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. It returns the number of attempts made and the
// last error. A cancelled context yields ctx.Err().
func Do(ctx context.Context, cfg *Config, fn RetryableFunc, opts *Options) (int, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if opts == nil {
		opts = &Options{}
	}

	maxAttempts := cfg.GetMaxAttempts()
	start := time.Now()

	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		attempt++
		if opts.Operation != "" {
			RecordRetryAttempt(opts.Operation, attempt)
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			if opts.Operation != "" {
				if attempt > 1 {
					RecordRetrySuccess(opts.Operation)
				}
				RecordRetryDuration(opts.Operation, true, time.Since(start).Seconds())
			}
			return attempt, nil
		}

		if opts.ShouldRetry != nil && !opts.ShouldRetry(lastErr) {
			break
		}
		if attempt == maxAttempts {
			break
		}

		backoff := cfg.Backoff(attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, lastErr, backoff)
		}
		if opts.Operation != "" {
			RecordBackoffDuration(opts.Operation, attempt, backoff.Seconds())
		}
		if err := sleep(ctx, backoff); err != nil {
			return attempt, err
		}
	}

	if opts.Operation != "" {
		RecordRetryFailure(opts.Operation)
		RecordRetryDuration(opts.Operation, false, time.Since(start).Seconds())
	}
	return attempt, lastErr
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CalculateBackoff calculates the backoff duration after the given failed
// attempt (1-based): base * 2^(attempt-1) plus jitter, capped at maxBackoff.
func CalculateBackoff(attempt int, base, maxBackoff time.Duration, jitterFactor float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(base) * math.Pow(2, float64(attempt-1))

	//nolint:gosec // G404: jitter for retry timing is not security-sensitive
	backoff += backoff * jitterFactor * rand.Float64()

	if backoff >= float64(maxBackoff) {
		return maxBackoff
	}

	return time.Duration(backoff)
}
