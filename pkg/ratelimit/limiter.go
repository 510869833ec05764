package ratelimit

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	gkcontext "github.com/vnykmshr/gatekeep/pkg/common/context"
	"github.com/vnykmshr/gatekeep/pkg/common/errors"
	"github.com/vnykmshr/gatekeep/pkg/common/validation"
	"github.com/vnykmshr/gatekeep/pkg/metrics"
)

// DefaultTimeout bounds each shared store round trip.
const DefaultTimeout = 500 * time.Millisecond

// Clock provides the current time. It can be mocked for testing.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Limiter applies Configs against a Store and degrades to a local
// FallbackStore whenever the store fails. It never returns store errors from
// Check; rate limiting fails open to a best-effort local decision.
type Limiter struct {
	store    Store
	fallback *FallbackStore
	resolver Resolver
	timeout  time.Duration
	clock    Clock
	logger   *zap.Logger
	metrics  *metrics.Registry
	name     string
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithFallback replaces the default fallback store.
func WithFallback(f *FallbackStore) Option {
	return func(l *Limiter) {
		if f != nil {
			l.fallback = f
		}
	}
}

// WithTimeout sets the per-call store timeout. Zero disables it, leaving
// only the caller's context deadline.
func WithTimeout(d time.Duration) Option {
	return func(l *Limiter) {
		l.timeout = d
	}
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(l *Limiter) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(reg *metrics.Registry) Option {
	return func(l *Limiter) {
		l.metrics = reg
	}
}

// WithName labels logs and metrics for this limiter.
func WithName(name string) Option {
	return func(l *Limiter) {
		l.name = name
	}
}

// WithResolver sets the resolver used by CheckRequest.
func WithResolver(r Resolver) Option {
	return func(l *Limiter) {
		l.resolver = r
	}
}

// New creates a Limiter over store.
func New(store Store, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, validation.ValidateNotNil("ratelimit", "store", nil)
	}

	l := &Limiter{
		store:    store,
		resolver: DefaultResolver,
		timeout:  DefaultTimeout,
		clock:    SystemClock{},
		logger:   zap.NewNop(),
		name:     "default",
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.timeout < 0 {
		return nil, errors.NewValidationError("ratelimit", "timeout", l.timeout, "cannot be negative")
	}
	if l.fallback == nil {
		l.fallback = NewFallbackStore(DefaultFallbackCapacity, WithFallbackMetrics(l.metrics))
	}
	l.logger = l.logger.With(zap.String("limiter", l.name))

	return l, nil
}

// Fallback returns the local store used while the shared store is down.
func (l *Limiter) Fallback() *FallbackStore {
	return l.fallback
}

// Check counts one request from identifier against cfg.
func (l *Limiter) Check(ctx context.Context, identifier string, cfg Config) Result {
	now := l.clock.Now()

	if err := cfg.Validate(); err != nil {
		l.logger.Error("invalid rate limit config, allowing request",
			zap.String("identifier", identifier), zap.Error(err))
		return allowed(cfg.MaxRequests, cfg.MaxRequests, now)
	}

	res, err := l.checkStore(ctx, identifier, cfg, now)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, using local fallback",
			zap.String("identifier", identifier),
			zap.String("algorithm", string(cfg.Algorithm)),
			zap.Bool("timeout", stderrors.Is(err, errors.ErrTimeout)),
			zap.Error(err))
		l.countFallback(string(cfg.Algorithm))
		res = l.checkFallback(identifier, cfg, now)
	}

	l.countResult(cfg, res)
	return res
}

// CheckRequest resolves the request's identifier and checks it.
func (l *Limiter) CheckRequest(ctx context.Context, req Request, cfg Config) Result {
	return l.Check(ctx, l.resolver.Resolve(req), cfg)
}

// Remaining returns the allowance left for identifier without consuming it.
// An active block reports zero.
func (l *Limiter) Remaining(ctx context.Context, identifier string, cfg Config) int {
	now := l.clock.Now()

	if err := cfg.Validate(); err != nil {
		l.logger.Error("invalid rate limit config", zap.String("identifier", identifier), zap.Error(err))
		return max(0, cfg.MaxRequests)
	}

	n, err := l.peekStore(ctx, identifier, cfg, now)
	if err != nil {
		l.logger.Warn("rate limit store unavailable, using local fallback",
			zap.String("identifier", identifier),
			zap.String("operation", "peek"),
			zap.Bool("timeout", stderrors.Is(err, errors.ErrTimeout)),
			zap.Error(err))
		l.countFallback("peek")
		if !l.fallback.BlockedUntil(identifier, cfg, now).IsZero() {
			return 0
		}
		return l.fallback.Remaining(identifier, cfg, now)
	}
	return n
}

// Reset clears every counter and block for identifier, locally and in the
// store. Calling it again is harmless. Store errors are returned.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	l.fallback.Reset(identifier)

	err := l.call(ctx, "reset", func(ctx context.Context) error {
		return l.store.Reset(ctx, identifier)
	})
	if err != nil {
		l.logger.Warn("rate limit reset failed", zap.String("identifier", identifier), zap.Error(err))
		return errors.NewOperationError("ratelimit", "reset", err).WithContext(identifier)
	}
	return nil
}

func (l *Limiter) checkStore(ctx context.Context, identifier string, cfg Config, now time.Time) (Result, error) {
	if cfg.BlockDuration > 0 {
		var until time.Time
		err := l.call(ctx, "blocked_until", func(ctx context.Context) (err error) {
			until, err = l.store.BlockedUntil(ctx, identifier, cfg, now)
			return err
		})
		if err != nil {
			return Result{}, err
		}
		if until.After(now) {
			return blockedResult(cfg, until, now), nil
		}
	}

	var res Result
	err := l.call(ctx, string(cfg.Algorithm), func(ctx context.Context) (err error) {
		switch cfg.Algorithm {
		case TokenBucket:
			res, err = l.store.TokenBucket(ctx, identifier, cfg, now)
		case SlidingWindow:
			res, err = l.store.SlidingWindow(ctx, identifier, cfg, now)
		default:
			res, err = l.store.FixedWindow(ctx, identifier, cfg, now)
		}
		return err
	})
	if err != nil {
		return Result{}, err
	}

	if !res.Success && cfg.BlockDuration > 0 {
		err := l.call(ctx, "block", func(ctx context.Context) error {
			return l.store.Block(ctx, identifier, cfg, now)
		})
		if err != nil {
			// The denial stands; only the block marker is missing.
			l.logger.Warn("failed to set block marker", zap.String("identifier", identifier), zap.Error(err))
			return res, nil
		}
		until := now.Add(cfg.BlockDuration)
		res.Reset = until
		res.RetryAfter = retryAfter(until, now)
	}
	return res, nil
}

func (l *Limiter) peekStore(ctx context.Context, identifier string, cfg Config, now time.Time) (int, error) {
	if cfg.BlockDuration > 0 {
		var until time.Time
		err := l.call(ctx, "blocked_until", func(ctx context.Context) (err error) {
			until, err = l.store.BlockedUntil(ctx, identifier, cfg, now)
			return err
		})
		if err != nil {
			return 0, err
		}
		if until.After(now) {
			return 0, nil
		}
	}

	var n int
	err := l.call(ctx, "peek", func(ctx context.Context) (err error) {
		n, err = l.store.Peek(ctx, identifier, cfg, now)
		return err
	})
	return n, err
}

func (l *Limiter) checkFallback(identifier string, cfg Config, now time.Time) Result {
	res := l.fallback.Check(identifier, cfg, now)
	if !res.Success && !res.Blocked && cfg.BlockDuration > 0 {
		until := now.Add(cfg.BlockDuration)
		l.fallback.Block(identifier, cfg, until)
		res.Reset = until
		res.RetryAfter = retryAfter(until, now)
	}
	res.Degraded = true
	return res
}

// call runs one store round trip under the per-call timeout.
func (l *Limiter) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	ctx, cancel := gkcontext.WithStoreTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	if l.metrics != nil {
		l.metrics.RateLimitStoreLatency.WithLabelValues(operation, l.name).Observe(time.Since(start).Seconds())
	}
	if err != nil && gkcontext.IsTimeout(err) {
		err = errors.NewTimeoutError(operation, err)
	}
	return err
}

func (l *Limiter) countResult(cfg Config, res Result) {
	if l.metrics == nil {
		return
	}
	algorithm := string(cfg.Algorithm)
	l.metrics.RateLimitRequests.WithLabelValues(algorithm, l.name).Inc()
	if res.Success {
		l.metrics.RateLimitAllowed.WithLabelValues(algorithm, l.name).Inc()
	} else {
		l.metrics.RateLimitDenied.WithLabelValues(algorithm, l.name).Inc()
	}
}

func (l *Limiter) countFallback(operation string) {
	if l.metrics != nil {
		l.metrics.RateLimitFallbacks.WithLabelValues(operation, l.name).Inc()
	}
}

func blockedResult(cfg Config, until, now time.Time) Result {
	res := denied(cfg.MaxRequests, until, now)
	res.Blocked = true
	return res
}
