package engine

import (
	"context"
	"time"
)

// WithTimeout wraps a context with an operation timeout. A non-positive
// timeout adds no deadline, leaving ctx as the only bound.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
