package reclaim

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vnykmshr/gatekeep/internal/testutil"
	"github.com/vnykmshr/gatekeep/pkg/authguard"
	"github.com/vnykmshr/gatekeep/pkg/metrics"
	"github.com/vnykmshr/gatekeep/pkg/ratelimit"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	r, err := New(0)
	testutil.AssertNoError(t, err)
	if next := r.schedule.Next(epoch); !next.Equal(epoch.Add(DefaultInterval)) {
		t.Errorf("default schedule next = %v, want %v", next, epoch.Add(DefaultInterval))
	}

	_, err = New(-time.Second)
	testutil.AssertError(t, err)

	r, err = New(time.Minute, WithSchedule("*/5 * * * *"))
	testutil.AssertNoError(t, err)
	if next := r.schedule.Next(epoch.Add(time.Minute)); !next.Equal(epoch.Add(5 * time.Minute)) {
		t.Errorf("cron schedule next = %v, want %v", next, epoch.Add(5*time.Minute))
	}

	_, err = New(time.Minute, WithSchedule("every now and then"))
	testutil.AssertError(t, err)
}

func TestRegister(t *testing.T) {
	r, _ := New(time.Minute)
	noop := SweeperFunc(func(time.Time) int { return 0 })

	testutil.AssertNoError(t, r.Register("fallback", noop))
	testutil.AssertError(t, r.Register("fallback", noop))
	testutil.AssertError(t, r.Register("", noop))
	testutil.AssertError(t, r.Register("nil", nil))
}

func TestRunOnce(t *testing.T) {
	clock := testutil.NewMockClock(epoch)
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	core, logs := observer.New(zapcore.InfoLevel)
	r, err := New(time.Minute, WithClock(clock), WithMetrics(reg), WithLogger(zap.New(core)))
	testutil.AssertNoError(t, err)

	var seen time.Time
	testutil.AssertNoError(t, r.Register("a", SweeperFunc(func(now time.Time) int {
		seen = now
		return 2
	})))
	testutil.AssertNoError(t, r.Register("b", SweeperFunc(func(time.Time) int { return 3 })))

	testutil.AssertEqual(t, r.RunOnce(), 5)
	testutil.AssertEqual(t, seen, epoch)
	testutil.AssertEqual(t, promtest.ToFloat64(reg.ReclaimRuns), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(reg.ReclaimRemoved.WithLabelValues("a")), 2.0)
	testutil.AssertEqual(t, promtest.ToFloat64(reg.ReclaimRemoved.WithLabelValues("b")), 3.0)
	testutil.AssertEqual(t, logs.FilterMessage("reclaim sweep finished").Len(), 1)
}

func TestRunOnceWithEngineStores(t *testing.T) {
	clock := testutil.NewMockClock(epoch)
	r, _ := New(time.Minute, WithClock(clock))

	fallback := ratelimit.NewFallbackStore(100)
	guard := authguard.New(authguard.WithConfig(authguard.ProductionConfig()), authguard.WithClock(clock))
	memory := ratelimit.NewMemoryStore()

	testutil.AssertNoError(t, r.Register("fallback", fallback))
	testutil.AssertNoError(t, r.Register("authguard", guard))
	testutil.AssertNoError(t, r.Register("memory", memory))

	cfg := ratelimit.Config{Algorithm: ratelimit.FixedWindow, MaxRequests: 5, Window: time.Minute}
	fallback.Check("ip:1", cfg, epoch)
	guard.Check(context.Background(), ratelimit.Request{ClientIP: "10.0.0.1"})

	testutil.AssertEqual(t, r.RunOnce(), 0)

	clock.Advance(authguard.ProductionConfig().Window)
	testutil.AssertEqual(t, r.RunOnce(), 2)
	testutil.AssertEqual(t, fallback.Len(), 0)
	testutil.AssertEqual(t, guard.Len(), 0)
}

func TestStartStop(t *testing.T) {
	r, err := New(time.Second)
	testutil.AssertNoError(t, err)

	var runs atomic.Int32
	testutil.AssertNoError(t, r.Register("count", SweeperFunc(func(time.Time) int {
		runs.Add(1)
		return 0
	})))

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	testutil.AssertNoError(t, r.Stop(ctx))

	r.Start()
	r.Start()
	testutil.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	testutil.AssertNoError(t, r.Stop(ctx))
	after := runs.Load()
	time.Sleep(1500 * time.Millisecond)
	testutil.AssertEqual(t, runs.Load(), after)
}

func TestPanickingSweeperIsRecovered(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r, _ := New(time.Second, WithLogger(zap.New(core)))

	var runs atomic.Int32
	testutil.AssertNoError(t, r.Register("boom", SweeperFunc(func(time.Time) int {
		runs.Add(1)
		panic("sweeper failed")
	})))

	r.Start()
	testutil.Eventually(t, func() bool { return runs.Load() >= 2 }, 4*time.Second, 50*time.Millisecond)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()
	testutil.AssertNoError(t, r.Stop(ctx))

	if logs.Len() == 0 {
		t.Error("recovered panic should be logged")
	}
}
