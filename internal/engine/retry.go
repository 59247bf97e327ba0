package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/smithy-go"
)

// ThrottleBackoff is the fixed delay before retrying a throttled call.
const ThrottleBackoff = 5 * time.Second

// RetryPolicy defines retry behavior for transient cloud API errors.
type RetryPolicy struct {
	// MaxAttempts counts the first call; 2 means one retry.
	MaxAttempts int
	// Backoff returns the delay before the given retry (0-based).
	Backoff func(retry int) time.Duration
	// ShouldRetry decides whether err is worth another attempt.
	ShouldRetry func(err error) bool
}

// ThrottleRetryPolicy retries a throttled call once after a fixed backoff.
func ThrottleRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 2,
		Backoff:     FixedBackoff(ThrottleBackoff),
		ShouldRetry: IsThrottlingError,
	}
}

// FixedBackoff waits d before every retry.
func FixedBackoff(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Do executes fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p == nil {
		p = ThrottleRetryPolicy()
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.ShouldRetry == nil || !p.ShouldRetry(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}
		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

// Retry runs fn under policy and returns its result.
func Retry[T any](ctx context.Context, policy *RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// IsThrottlingError reports whether err is a provider throttling fault.
func IsThrottlingError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "TooManyRequestsException", "RequestLimitExceeded":
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "throttl") || strings.Contains(msg, "rate exceeded")
}
