// Package reclaim runs periodic cleanup of in-process limiter state.
//
// The host owns the lifecycle: call Start once the service is serving and
// Stop during shutdown. Nothing runs until Start is called, so tests and
// tooling that construct engine components never spawn a background task.
package reclaim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/vnykmshr/gatekeep/pkg/common/validation"
	"github.com/vnykmshr/gatekeep/pkg/metrics"
	"github.com/vnykmshr/gatekeep/pkg/ratelimit"
)

// DefaultInterval is the sweep cadence when none is configured.
const DefaultInterval = 10 * time.Minute

// Sweeper removes stale entries as of now and reports how many it removed.
type Sweeper interface {
	Sweep(now time.Time) int
}

// SweeperFunc adapts a function to Sweeper.
type SweeperFunc func(now time.Time) int

// Sweep calls f(now).
func (f SweeperFunc) Sweep(now time.Time) int {
	return f(now)
}

type namedSweeper struct {
	name    string
	sweeper Sweeper
}

// Reclaimer invokes registered sweepers on a schedule.
type Reclaimer struct {
	mu       sync.Mutex
	schedule cron.Schedule
	runner   *cron.Cron
	sweepers []namedSweeper

	clock   ratelimit.Clock
	logger  *zap.Logger
	metrics *metrics.Registry
}

// Option configures a Reclaimer.
type Option func(*Reclaimer) error

// WithSchedule replaces the fixed interval with a cron expression such as
// "*/10 * * * *" or "@every 5m".
func WithSchedule(spec string) Option {
	return func(r *Reclaimer) error {
		schedule, err := cron.ParseStandard(spec)
		if err != nil {
			return fmt.Errorf("invalid reclaim schedule %q: %w", spec, err)
		}
		r.schedule = schedule
		return nil
	}
}

// WithClock sets the time passed to sweepers.
func WithClock(c ratelimit.Clock) Option {
	return func(r *Reclaimer) error {
		if c != nil {
			r.clock = c
		}
		return nil
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reclaimer) error {
		if logger != nil {
			r.logger = logger
		}
		return nil
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(reg *metrics.Registry) Option {
	return func(r *Reclaimer) error {
		r.metrics = reg
		return nil
	}
}

// New creates a Reclaimer that sweeps every interval. A zero interval
// selects DefaultInterval. Intervals below one second round up to one second.
func New(interval time.Duration, opts ...Option) (*Reclaimer, error) {
	if interval == 0 {
		interval = DefaultInterval
	}
	if err := validation.ValidatePositiveDuration("reclaim", "interval", interval); err != nil {
		return nil, err
	}

	r := &Reclaimer{
		schedule: cron.Every(interval),
		clock:    ratelimit.SystemClock{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a sweeper under a unique name.
func (r *Reclaimer) Register(name string, s Sweeper) error {
	if err := validation.ValidateNotEmpty("reclaim", "name", name); err != nil {
		return err
	}
	if s == nil {
		return validation.ValidateNotNil("reclaim", "sweeper", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ns := range r.sweepers {
		if ns.name == name {
			return fmt.Errorf("sweeper %q already registered", name)
		}
	}
	r.sweepers = append(r.sweepers, namedSweeper{name: name, sweeper: s})
	return nil
}

// Start begins running sweeps in the background. Overlapping runs are
// skipped and a panicking sweeper is logged without stopping the schedule.
// Calling Start on a running Reclaimer does nothing.
func (r *Reclaimer) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runner != nil {
		return
	}

	logger := cronLogger{r.logger.Sugar()}
	r.runner = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	r.runner.Schedule(r.schedule, cron.FuncJob(func() { r.RunOnce() }))
	r.runner.Start()

	r.logger.Info("reclaimer started", zap.Int("sweepers", len(r.sweepers)))
}

// Stop halts the schedule and waits for a running sweep to finish or for
// ctx to end, whichever comes first.
func (r *Reclaimer) Stop(ctx context.Context) error {
	r.mu.Lock()
	runner := r.runner
	r.runner = nil
	r.mu.Unlock()

	if runner == nil {
		return nil
	}

	done := runner.Stop()
	select {
	case <-done.Done():
		r.logger.Info("reclaimer stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce sweeps every registered sweeper immediately and returns the total
// number of entries removed.
func (r *Reclaimer) RunOnce() int {
	r.mu.Lock()
	sweepers := make([]namedSweeper, len(r.sweepers))
	copy(sweepers, r.sweepers)
	r.mu.Unlock()

	start := time.Now()
	now := r.clock.Now()

	total := 0
	for _, ns := range sweepers {
		n := ns.sweeper.Sweep(now)
		total += n
		if r.metrics != nil {
			r.metrics.ReclaimRemoved.WithLabelValues(ns.name).Add(float64(n))
		}
		r.logger.Debug("sweeper finished", zap.String("sweeper", ns.name), zap.Int("removed", n))
	}

	if r.metrics != nil {
		r.metrics.ReclaimRuns.Inc()
	}
	r.logger.Info("reclaim sweep finished",
		zap.Int("removed", total),
		zap.Duration("took", time.Since(start)))
	return total
}

// cronLogger routes cron's own logging into zap. Scheduler chatter goes to
// debug; recovered panics and other errors to error.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
