package ratelimit

import (
	"math"
	"time"
)

// BucketState is the persisted token bucket entry for one identifier.
type BucketState struct {
	Tokens     int
	LastRefill time.Time
}

// refill returns the state after crediting whole tokens earned since
// LastRefill. LastRefill only advances when at least one token was added,
// so partial progress towards the next token is never lost.
func refill(state BucketState, found bool, cfg Config, now time.Time) BucketState {
	if !found {
		return BucketState{Tokens: cfg.MaxRequests, LastRefill: now}
	}

	elapsed := now.Sub(state.LastRefill)
	if elapsed <= 0 {
		return state
	}

	added := math.Floor(float64(elapsed) * float64(cfg.MaxRequests) / float64(cfg.Window))
	if added <= 0 {
		return state
	}

	tokens := float64(state.Tokens) + added
	if tokens > float64(cfg.MaxRequests) {
		tokens = float64(cfg.MaxRequests)
	}
	return BucketState{Tokens: int(tokens), LastRefill: now}
}

// tokenInterval is the time to earn a single token.
func tokenInterval(cfg Config) time.Duration {
	return cfg.Window / time.Duration(cfg.MaxRequests)
}

// TakeToken applies one request to a token bucket. found is false when no
// state exists yet, in which case the bucket starts full.
func TakeToken(state BucketState, found bool, cfg Config, now time.Time) (BucketState, Result) {
	next := refill(state, found, cfg, now)
	reset := next.LastRefill.Add(tokenInterval(cfg))

	if next.Tokens > 0 {
		next.Tokens--
		return next, allowed(cfg.MaxRequests, next.Tokens, reset)
	}
	return next, denied(cfg.MaxRequests, reset, now)
}

// PeekToken returns the tokens available at now without consuming any.
func PeekToken(state BucketState, found bool, cfg Config, now time.Time) int {
	return refill(state, found, cfg, now).Tokens
}

// TakeSliding applies one request to an ascending timestamp log and returns
// the trimmed log. Entries at or before now-Window fall out of the window.
func TakeSliding(log []time.Time, cfg Config, now time.Time) ([]time.Time, Result) {
	log = trimSliding(log, cfg, now)

	if len(log) < cfg.MaxRequests {
		remaining := cfg.MaxRequests - len(log) - 1
		log = append(log, now)
		return log, allowed(cfg.MaxRequests, remaining, log[0].Add(cfg.Window))
	}
	return log, denied(cfg.MaxRequests, log[0].Add(cfg.Window), now)
}

// PeekSliding returns the requests still available in the trailing window.
func PeekSliding(log []time.Time, cfg Config, now time.Time) int {
	n := cfg.MaxRequests - len(trimSliding(log, cfg, now))
	if n < 0 {
		return 0
	}
	return n
}

func trimSliding(log []time.Time, cfg Config, now time.Time) []time.Time {
	cutoff := now.Add(-cfg.Window)
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	return log[i:]
}

// FixedWindowIndex returns floor(now / Window).
func FixedWindowIndex(cfg Config, now time.Time) int64 {
	return now.UnixNano() / int64(cfg.Window)
}

// FixedWindowReset returns the first instant of the window after the one
// containing now.
func FixedWindowReset(cfg Config, now time.Time) time.Time {
	return time.Unix(0, (FixedWindowIndex(cfg, now)+1)*int64(cfg.Window))
}

// FixedWindowResult interprets a post-increment counter value.
func FixedWindowResult(count int64, cfg Config, now time.Time) Result {
	reset := FixedWindowReset(cfg, now)
	if count <= int64(cfg.MaxRequests) {
		return allowed(cfg.MaxRequests, cfg.MaxRequests-int(count), reset)
	}
	return denied(cfg.MaxRequests, reset, now)
}
