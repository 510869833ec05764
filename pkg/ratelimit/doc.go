// Package ratelimit decides whether a client may make another request.
//
// # Overview
//
// A Limiter applies a Config to a client identifier. Three algorithms are
// available:
//
//   - TokenBucket: a bucket of MaxRequests tokens refilled evenly over Window.
//     Allows bursts up to capacity.
//   - SlidingWindow: an exact count of requests in the trailing Window.
//   - FixedWindow: a counter per floor(now/Window) bucket. Cheapest, but a
//     client may pass up to 2×MaxRequests in a span straddling a boundary.
//
// The algorithms are pure functions (TakeToken, TakeSliding,
// FixedWindowResult) so every Store computes identical answers. Stores hold
// the state: MemoryStore in process, redisstore.Store shared across
// replicas.
//
// # Degradation
//
// When the Store returns an error the Limiter answers from a FallbackStore,
// a bounded per-process fixed window counter, and marks the Result as
// Degraded. Check never returns an error.
//
// # Quick Start
//
//	store := ratelimit.NewMemoryStore()
//	limiter, err := ratelimit.New(store, ratelimit.WithLogger(logger))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	cfg, _ := ratelimit.Preset(ratelimit.ClassAPI)
//	res := limiter.CheckRequest(ctx, ratelimit.NewRequest(r), cfg)
//	if !res.Success {
//		// reply 429, retry after res.RetryAfter
//	}
//
// # Identifiers
//
// Resolver picks the partition key by precedence: user id header, API key
// prefix, session cookie prefix, forwarded or connection IP, then "unknown".
package ratelimit
