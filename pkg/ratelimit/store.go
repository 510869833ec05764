package ratelimit

import (
	"context"
	"time"
)

// Store executes the counting algorithms against some backing state.
// Implementations must be safe for concurrent use. Any returned error means
// the store could not answer; the Limiter then consults its fallback.
type Store interface {
	// TokenBucket consumes one token for identifier.
	TokenBucket(ctx context.Context, identifier string, cfg Config, now time.Time) (Result, error)

	// SlidingWindow records one request in the trailing window.
	SlidingWindow(ctx context.Context, identifier string, cfg Config, now time.Time) (Result, error)

	// FixedWindow increments the counter of the window containing now.
	FixedWindow(ctx context.Context, identifier string, cfg Config, now time.Time) (Result, error)

	// Peek returns the remaining allowance without consuming any.
	Peek(ctx context.Context, identifier string, cfg Config, now time.Time) (int, error)

	// Block marks identifier as blocked in cfg's namespace for
	// cfg.BlockDuration starting at now.
	Block(ctx context.Context, identifier string, cfg Config, now time.Time) error

	// BlockedUntil returns the active block expiry, or the zero time.
	BlockedUntil(ctx context.Context, identifier string, cfg Config, now time.Time) (time.Time, error)

	// Reset removes every counter and block for identifier. Resetting an
	// identifier with no state is not an error.
	Reset(ctx context.Context, identifier string) error
}

// Sweeper is implemented by local stores that need periodic cleanup.
type Sweeper interface {
	Sweep(now time.Time) int
}
