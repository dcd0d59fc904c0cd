// Package retry provides exponential backoff retry functionality.
//
// The n-th backoff (1-based) is BaseDelay * 2^(n-1) plus a random jitter of
// up to JitterFactor of that value, capped at MaxDelay.
//
// # Usage
//
//	attempts, err := retry.Do(ctx, &retry.Config{
//	    MaxAttempts: 3,
//	    BaseDelay:   time.Second,
//	}, func(ctx context.Context, attempt int) error {
//	    return runQuery(ctx)
//	}, &retry.Options{
//	    ShouldRetry: util.IsRetryable,
//	})
//
// The context is checked before every attempt and aborts a pending backoff.
package retry
