package authguard

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	gkcontext "github.com/vnykmshr/gatekeep/pkg/common/context"
	"github.com/vnykmshr/gatekeep/pkg/metrics"
	"github.com/vnykmshr/gatekeep/pkg/ratelimit"
)

// MaxEscalationLevel is the hard-blocked level.
const MaxEscalationLevel = 3

// CheckResult is the admission decision for one authentication attempt.
type CheckResult struct {
	Allowed           bool
	RemainingAttempts int
	RetryAfter        time.Duration
	EscalationLevel   int
	Identifier        string
}

// Snapshot is a copy of the state tracked for one identifier.
type Snapshot struct {
	Attempts     int
	FirstAttempt time.Time
	LastAttempt  time.Time
	LockedUntil  time.Time
	LastSuccess  time.Time

	FailedAttempts  int
	LastFailed      time.Time
	BlockedUntil    time.Time
	EscalationLevel int
}

type attemptState struct {
	attempts     int
	firstAttempt time.Time
	lastAttempt  time.Time
	lockedUntil  time.Time
	lastSuccess  time.Time
}

type suspicionState struct {
	failed       int
	lastFailed   time.Time
	blockedUntil time.Time
	level        int
}

// Guard tracks authentication attempts per client. The zero value is not
// usable; create one with New.
type Guard struct {
	mu        sync.Mutex
	attempts  map[string]*attemptState
	suspicion map[string]*suspicionState

	source   func() Config
	clock    ratelimit.Clock
	logger   *zap.Logger
	metrics  *metrics.Registry
	resolver ratelimit.Resolver
	sleep    func(context.Context, time.Duration) error
}

// Option configures a Guard.
type Option func(*Guard)

// WithConfigSource sets the function consulted for configuration on every
// call. The default is EnvConfig.
func WithConfigSource(source func() Config) Option {
	return func(g *Guard) {
		if source != nil {
			g.source = source
		}
	}
}

// WithConfig pins a fixed configuration.
func WithConfig(cfg Config) Option {
	return WithConfigSource(func() Config { return cfg })
}

// WithClock sets the time source.
func WithClock(c ratelimit.Clock) Option {
	return func(g *Guard) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(reg *metrics.Registry) Option {
	return func(g *Guard) {
		g.metrics = reg
	}
}

// WithResolver sets how requests map to identifiers.
func WithResolver(r ratelimit.Resolver) Option {
	return func(g *Guard) {
		g.resolver = r
	}
}

// WithSleeper replaces the context-aware sleep used by ApplyProgressiveDelay.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(g *Guard) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// New creates a Guard.
func New(opts ...Option) *Guard {
	g := &Guard{
		attempts:  make(map[string]*attemptState),
		suspicion: make(map[string]*suspicionState),
		source:    EnvConfig,
		clock:     ratelimit.SystemClock{},
		logger:    zap.NewNop(),
		resolver:  ratelimit.DefaultResolver,
		sleep:     gkcontext.Sleep,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// config reads the current configuration, replacing an invalid one with
// ProductionConfig.
func (g *Guard) config() Config {
	cfg := g.source()
	if !cfg.Enabled {
		return cfg
	}
	if err := cfg.Validate(); err != nil {
		g.logger.Error("invalid auth guard config, using production defaults", zap.Error(err))
		return ProductionConfig()
	}
	return cfg
}

// Check decides whether an authentication attempt may proceed and counts it.
// A hard block on the suspicion axis takes precedence over the attempt axis.
func (g *Guard) Check(_ context.Context, req ratelimit.Request) CheckResult {
	id := g.resolver.Resolve(req)
	cfg := g.config()
	now := g.clock.Now()

	if !cfg.Enabled {
		g.countCheck("disabled")
		return CheckResult{Allowed: true, RemainingAttempts: cfg.MaxAttempts, Identifier: id}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.evictLocked(cfg, now)

	level := 0
	if sus := g.suspicion[id]; sus != nil {
		if !sus.blockedUntil.IsZero() {
			if now.Before(sus.blockedUntil) {
				g.countCheck("blocked")
				return CheckResult{
					RetryAfter:      sus.blockedUntil.Sub(now),
					EscalationLevel: MaxEscalationLevel,
					Identifier:      id,
				}
			}
			sus.blockedUntil = time.Time{}
			sus.level = max(0, sus.level-1)
			g.countEscalation(sus.level)
			g.logger.Info("auth block expired, de-escalating",
				zap.String("identifier", id), zap.Int("level", sus.level))
		}
		level = sus.level
	}

	st := g.attempts[id]
	if st == nil {
		st = &attemptState{firstAttempt: now}
		g.attempts[id] = st
		g.reportTrackedLocked()
	}

	if !st.lockedUntil.IsZero() {
		if now.Before(st.lockedUntil) {
			g.countCheck("locked")
			return CheckResult{
				RetryAfter:      st.lockedUntil.Sub(now),
				EscalationLevel: level,
				Identifier:      id,
			}
		}
		*st = attemptState{firstAttempt: now, lastSuccess: st.lastSuccess}
	}

	if st.attempts == 0 || now.Sub(st.firstAttempt) >= cfg.Window {
		st.attempts = 0
		st.firstAttempt = now
	}

	if st.attempts >= cfg.MaxAttempts {
		st.lockedUntil = now.Add(cfg.LockoutDuration)
		st.lastAttempt = now
		if g.metrics != nil {
			g.metrics.AuthLockouts.Inc()
		}
		g.countCheck("locked")
		g.logger.Info("auth lockout started",
			zap.String("identifier", id),
			zap.Int("attempts", st.attempts),
			zap.Duration("lockout", cfg.LockoutDuration))
		return CheckResult{
			RetryAfter:      cfg.LockoutDuration,
			EscalationLevel: level,
			Identifier:      id,
		}
	}

	st.attempts++
	st.lastAttempt = now
	g.countCheck("allowed")
	return CheckResult{
		Allowed:           true,
		RemainingAttempts: cfg.MaxAttempts - st.attempts,
		EscalationLevel:   level,
		Identifier:        id,
	}
}

// Record updates both axes with the outcome of the credential check.
func (g *Guard) Record(_ context.Context, req ratelimit.Request, success bool) {
	id := g.resolver.Resolve(req)
	cfg := g.config()
	if !cfg.Enabled {
		return
	}
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if success {
		g.recordSuccessLocked(id, cfg, now)
		return
	}
	if _, ok := g.suspicion[id]; !ok {
		g.evictSuspicionLocked(cfg, now)
	}
	g.recordFailureLocked(id, cfg, now)
}

func (g *Guard) recordSuccessLocked(id string, cfg Config, now time.Time) {
	st := g.attempts[id]
	if st == nil {
		st = &attemptState{}
		g.attempts[id] = st
		g.reportTrackedLocked()
	}
	st.attempts = 0
	st.firstAttempt = now
	st.lastSuccess = now

	sus := g.suspicion[id]
	if sus == nil {
		return
	}
	sus.failed = max(0, sus.failed-2)

	level := min(sus.level, levelFor(sus.failed, cfg.SuspiciousThreshold))
	if level != sus.level {
		sus.level = level
		g.countEscalation(level)
		g.logger.Info("auth suspicion lowered", zap.String("identifier", id), zap.Int("level", level))
	}
	if sus.level < MaxEscalationLevel {
		sus.blockedUntil = time.Time{}
	}
}

func (g *Guard) recordFailureLocked(id string, cfg Config, now time.Time) {
	sus := g.suspicion[id]
	if sus == nil {
		sus = &suspicionState{}
		g.suspicion[id] = sus
	}
	sus.failed++
	sus.lastFailed = now

	if sus.failed < cfg.SuspiciousThreshold {
		return
	}

	level := levelFor(sus.failed, cfg.SuspiciousThreshold)
	if level != sus.level {
		sus.level = level
		g.countEscalation(level)
		g.logger.Info("auth suspicion raised",
			zap.String("identifier", id),
			zap.Int("level", level),
			zap.Int("failed_attempts", sus.failed))
	}
	if sus.level == MaxEscalationLevel && !now.Before(sus.blockedUntil) {
		sus.blockedUntil = now.Add(cfg.BlockDuration)
		g.logger.Warn("auth client blocked",
			zap.String("identifier", id),
			zap.Time("until", sus.blockedUntil))
	}
}

func levelFor(failed, threshold int) int {
	if threshold <= 0 || failed < threshold {
		return 0
	}
	return min(MaxEscalationLevel, failed/threshold)
}

// ProgressiveDelay returns the delay to impose before processing an attempt
// from identifier, scaled by attempts in the current window.
func (g *Guard) ProgressiveDelay(identifier string) time.Duration {
	cfg := g.config()
	if !cfg.Enabled {
		return 0
	}
	now := g.clock.Now()

	g.mu.Lock()
	st := g.attempts[identifier]
	attempts := 0
	if st != nil && now.Sub(st.firstAttempt) < cfg.Window {
		attempts = st.attempts
	}
	g.mu.Unlock()

	return delayFor(attempts)
}

func delayFor(attempts int) time.Duration {
	switch {
	case attempts <= 3:
		return 0
	case attempts <= 5:
		return 2 * time.Second
	case attempts <= 7:
		return 5 * time.Second
	case attempts <= 10:
		return 10 * time.Second
	default:
		return 30 * time.Second
	}
}

// ApplyProgressiveDelay sleeps for the request's progressive delay. It
// returns early with ctx.Err() if ctx ends first.
func (g *Guard) ApplyProgressiveDelay(ctx context.Context, req ratelimit.Request) error {
	d := g.ProgressiveDelay(g.resolver.Resolve(req))
	if d <= 0 {
		return nil
	}
	if g.metrics != nil {
		g.metrics.AuthProgressiveDelay.Observe(d.Seconds())
	}
	return g.sleep(ctx, d)
}

// Snapshot returns the state tracked for identifier.
func (g *Guard) Snapshot(identifier string) (Snapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, okA := g.attempts[identifier]
	sus, okS := g.suspicion[identifier]
	if !okA && !okS {
		return Snapshot{}, false
	}

	var s Snapshot
	if okA {
		s.Attempts = st.attempts
		s.FirstAttempt = st.firstAttempt
		s.LastAttempt = st.lastAttempt
		s.LockedUntil = st.lockedUntil
		s.LastSuccess = st.lastSuccess
	}
	if okS {
		s.FailedAttempts = sus.failed
		s.LastFailed = sus.lastFailed
		s.BlockedUntil = sus.blockedUntil
		s.EscalationLevel = sus.level
	}
	return s, true
}

// Reset forgets everything about identifier.
func (g *Guard) Reset(identifier string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.attempts, identifier)
	delete(g.suspicion, identifier)
	g.reportTrackedLocked()
}

// Sweep removes attempt entries whose window has elapsed without an active
// lockout, and suspicion entries with no active block and no failure for
// IdleExpiry. It returns the number of entries removed.
func (g *Guard) Sweep(now time.Time) int {
	cfg := g.config()

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for id, st := range g.attempts {
		if now.Before(st.lockedUntil) {
			continue
		}
		if now.Sub(st.firstAttempt) >= cfg.Window {
			delete(g.attempts, id)
			removed++
		}
	}
	for id, sus := range g.suspicion {
		if now.Before(sus.blockedUntil) {
			continue
		}
		if now.Sub(sus.lastFailed) >= cfg.IdleExpiry {
			delete(g.suspicion, id)
			removed++
		}
	}
	g.reportTrackedLocked()
	return removed
}

// Len returns the number of identifiers on the attempt axis.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.attempts)
}

// evictLocked caps both maps at MaxEntries.
func (g *Guard) evictLocked(cfg Config, now time.Time) {
	g.evictAttemptsLocked(cfg)
	g.evictSuspicionLocked(cfg, now)
}

// evictAttemptsLocked drops the oldest EvictFraction of attempt entries by
// last attempt.
func (g *Guard) evictAttemptsLocked(cfg Config) {
	n := evictOldest(g.attempts, cfg, func(st *attemptState) (time.Time, bool) {
		return st.lastAttempt, false
	})
	if n > 0 {
		g.reportEvicted("authguard", n, cfg)
		g.reportTrackedLocked()
	}
}

// evictSuspicionLocked drops the oldest EvictFraction of suspicion entries
// by last failure. Entries under an active block go last.
func (g *Guard) evictSuspicionLocked(cfg Config, now time.Time) {
	n := evictOldest(g.suspicion, cfg, func(sus *suspicionState) (time.Time, bool) {
		return sus.lastFailed, now.Before(sus.blockedUntil)
	})
	if n > 0 {
		g.reportEvicted("authguard_suspicion", n, cfg)
	}
}

func evictOldest[V any](m map[string]V, cfg Config, age func(V) (last time.Time, pinned bool)) int {
	if len(m) <= cfg.MaxEntries {
		return 0
	}

	type aged struct {
		id     string
		last   time.Time
		pinned bool
	}
	all := make([]aged, 0, len(m))
	for id, v := range m {
		last, pinned := age(v)
		all = append(all, aged{id: id, last: last, pinned: pinned})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].pinned != all[j].pinned {
			return !all[i].pinned
		}
		return all[i].last.Before(all[j].last)
	})

	n := max(1, int(float64(len(all))*cfg.EvictFraction))
	for _, a := range all[:n] {
		delete(m, a.id)
	}
	return n
}

func (g *Guard) reportEvicted(store string, n int, cfg Config) {
	if g.metrics != nil {
		g.metrics.EmergencyEvicted.WithLabelValues(store).Add(float64(n))
	}
	g.logger.Warn("auth guard over capacity, evicted oldest entries",
		zap.String("map", store), zap.Int("evicted", n), zap.Int("max_entries", cfg.MaxEntries))
}

func (g *Guard) countCheck(outcome string) {
	if g.metrics != nil {
		g.metrics.AuthChecks.WithLabelValues(outcome).Inc()
	}
}

func (g *Guard) countEscalation(level int) {
	if g.metrics != nil {
		g.metrics.AuthEscalations.WithLabelValues(strconv.Itoa(level)).Inc()
	}
}

func (g *Guard) reportTrackedLocked() {
	if g.metrics != nil {
		g.metrics.AuthTrackedClients.Set(float64(len(g.attempts)))
	}
}
