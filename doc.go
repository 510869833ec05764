/*
Package gatekeep is a rate limiting and abuse-mitigation engine for HTTP
services.

Rate limiting (pkg/ratelimit):
  - Limiter: token bucket, sliding window and fixed window policies per
    identifier, with optional blocks after a denial
  - MemoryStore: in-process counters for single instances and tests
  - FallbackStore: bounded local counters used while the shared store is down
  - redisstore: shared counters in Redis, one round trip per decision

Authentication protection (pkg/authguard):
  - Guard: per-client attempt windows, lockouts, progressive delays and
    escalating suspicion with a hard block at the top level

Maintenance (pkg/reclaim):
  - Reclaimer: scheduled sweeps of expired in-process state

Example usage:

	import (
		"github.com/vnykmshr/gatekeep/pkg/authguard"
		"github.com/vnykmshr/gatekeep/pkg/ratelimit"
	)

	limiter, _ := ratelimit.New(ratelimit.NewMemoryStore())
	cfg, _ := ratelimit.Preset(ratelimit.ClassAPI)

	if res := limiter.CheckRequest(ctx, ratelimit.NewRequest(r), cfg); !res.Success {
		// respond 429, retry after res.RetryAfter
	}

	guard := authguard.New()
	if check := guard.Check(ctx, ratelimit.NewRequest(r)); !check.Allowed {
		// refuse the login attempt
	}
*/
package gatekeep
