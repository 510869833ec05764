package ratelimit

import "time"

// Result is the uniform outcome of a rate limit check.
type Result struct {
	// Success reports whether the request may proceed.
	Success bool

	// Limit is the configured MaxRequests.
	Limit int

	// Remaining is the allowance left after this request, never negative.
	Remaining int

	// Reset is when the window or bucket next has capacity.
	Reset time.Time

	// RetryAfter is zero when Success is true and at least one millisecond otherwise.
	RetryAfter time.Duration

	// Degraded is true when the answer came from the in-memory fallback.
	Degraded bool

	// Blocked is true when the request hit an active block marker.
	Blocked bool
}

func allowed(limit, remaining int, reset time.Time) Result {
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Success:   true,
		Limit:     limit,
		Remaining: remaining,
		Reset:     reset,
	}
}

func denied(limit int, reset, now time.Time) Result {
	return Result{
		Success:    false,
		Limit:      limit,
		Remaining:  0,
		Reset:      reset,
		RetryAfter: retryAfter(reset, now),
	}
}

func retryAfter(reset, now time.Time) time.Duration {
	d := reset.Sub(now)
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
