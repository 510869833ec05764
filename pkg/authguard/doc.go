// Package authguard protects authentication endpoints against brute force
// and credential stuffing.
//
// A Guard tracks two independent axes per client identifier:
//
//   - Attempts: each Check counts an attempt. Reaching MaxAttempts within
//     Window locks the client out for LockoutDuration.
//   - Suspicion: each failed Record raises a failure count. Every
//     SuspiciousThreshold failures raise the escalation level, up to 3. Level
//     3 blocks the client for BlockDuration. When the block expires the level
//     drops by one, not to zero, so a client that keeps failing is blocked
//     again on its next failure.
//
// A successful Record subtracts two failures and restarts the attempt window.
//
// Typical use in a login handler:
//
//	res := guard.Check(ctx, req)
//	if !res.Allowed {
//		// reply 429 with res.RetryAfter
//	}
//	if err := guard.ApplyProgressiveDelay(ctx, req); err != nil {
//		return
//	}
//	ok := verifyCredentials(...)
//	guard.Record(ctx, req, ok)
//
// Configuration is read through a source function on every call; the
// default, EnvConfig, consults APP_ENV and AUTH_GUARD_* each time.
package authguard
