// Package redisstore implements ratelimit.Store on Redis so that every
// replica of a service shares one set of counters.
//
// # Atomicity
//
// The token bucket read-compute-write runs as a single Lua script, so two
// concurrent requests can never both spend the last token. Fixed windows use
// a script around INCR and PEXPIRE. Sliding windows run as one script by
// default; SlidingPipelined instead issues two MULTI/EXEC transactions
// (trim and count, then add), which is cheaper on some deployments and may
// over-admit slightly under concurrent load for the same identifier.
//
// # Keys
//
// All keys for an identifier share a hash tag:
//
//	ratelimit:{user:42}:api:token_bucket
//	ratelimit:{user:42}:search:sliding_window
//	ratelimit:{user:42}:strict:fixed_window:28401537
//	ratelimit:{user:42}:strict:block
//
// so they live on one cluster slot and Reset can find them with a single
// pattern. Keys carry a TTL and disappear once idle.
//
// # Errors
//
// Every failure is returned as a *StoreError, which matches
// errors.ErrStoreUnavailable. The store never guesses an answer; callers
// such as ratelimit.Limiter decide how to degrade.
package redisstore
