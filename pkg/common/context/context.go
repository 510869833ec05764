// Package context holds small context helpers shared by the store adapters.
package context

import (
	"context"
	"errors"
	"net"
	"time"
)

// WithStoreTimeout bounds a single store round trip. A non-positive timeout
// returns the parent unchanged with a no-op cancel.
func WithStoreTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return parent, func() {}
	}
	return context.WithTimeout(parent, timeout)
}

// IsTimeout reports whether err stems from an expired deadline, either the
// context's own or a network deadline derived from it.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
