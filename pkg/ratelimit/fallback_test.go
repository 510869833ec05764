package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/gatekeep/internal/testutil"
	"github.com/vnykmshr/gatekeep/pkg/metrics"
)

func TestFallbackStoreWindow(t *testing.T) {
	f := NewFallbackStore(0)
	cfg := Config{Algorithm: TokenBucket, MaxRequests: 2, Window: time.Minute, Prefix: "api"}

	r1 := f.Check("ip:1", cfg, epoch)
	r2 := f.Check("ip:1", cfg, epoch.Add(time.Second))
	r3 := f.Check("ip:1", cfg, epoch.Add(2*time.Second))

	testutil.AssertEqual(t, r1.Remaining, 1)
	testutil.AssertEqual(t, r2.Remaining, 0)
	if !r1.Success || !r2.Success || r3.Success {
		t.Fatalf("got %v %v %v, want allow allow deny", r1.Success, r2.Success, r3.Success)
	}
	testutil.AssertEqual(t, r3.Reset, epoch.Add(time.Minute))
	testutil.AssertEqual(t, r3.RetryAfter, 58*time.Second)
	testutil.AssertEqual(t, f.Remaining("ip:1", cfg, epoch.Add(3*time.Second)), 0)

	r4 := f.Check("ip:1", cfg, epoch.Add(time.Minute))
	if !r4.Success {
		t.Fatal("window should restart after reset instant")
	}
	testutil.AssertEqual(t, r4.Reset, epoch.Add(2*time.Minute))
}

func TestFallbackStoreNamespaces(t *testing.T) {
	f := NewFallbackStore(10)
	auth := Config{Algorithm: FixedWindow, MaxRequests: 1, Window: time.Minute, Prefix: "auth"}
	api := Config{Algorithm: FixedWindow, MaxRequests: 1, Window: time.Minute, Prefix: "api"}

	f.Check("ip:1", auth, epoch)
	if !f.Check("ip:1", api, epoch).Success {
		t.Error("namespaces must not share budgets")
	}

	f.Reset("ip:1")
	testutil.AssertEqual(t, f.Len(), 0)
	f.Reset("ip:1")
	testutil.AssertEqual(t, f.Len(), 0)
}

func TestFallbackStoreBlock(t *testing.T) {
	f := NewFallbackStore(10)
	cfg := Config{Algorithm: FixedWindow, MaxRequests: 5, Window: time.Minute}

	f.Block("ip:1", cfg, epoch.Add(time.Hour))
	res := f.Check("ip:1", cfg, epoch)
	if res.Success || !res.Blocked {
		t.Fatalf("expected blocked denial, got %+v", res)
	}
	testutil.AssertEqual(t, res.RetryAfter, time.Hour)
	testutil.AssertEqual(t, f.BlockedUntil("ip:1", cfg, epoch), epoch.Add(time.Hour))
	if !f.BlockedUntil("ip:1", cfg, epoch.Add(time.Hour)).IsZero() {
		t.Error("block should have expired")
	}
}

func TestFallbackStoreEviction(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	f := NewFallbackStore(10, WithFallbackMetrics(reg))
	cfg := Config{Algorithm: FixedWindow, MaxRequests: 5, Window: time.Minute}

	for i := 0; i < 10; i++ {
		f.Check(fmt.Sprintf("ip:%d", i), cfg, epoch.Add(time.Duration(i)*time.Second))
	}
	testutil.AssertEqual(t, f.Len(), 10)

	f.Check("ip:new", cfg, epoch.Add(time.Hour))
	testutil.AssertEqual(t, f.Len(), 8)

	// oldest three by reset time are gone, the newcomer stays
	for i := 0; i < 3; i++ {
		testutil.AssertEqual(t, f.Remaining(fmt.Sprintf("ip:%d", i), cfg, epoch), 5)
	}
	testutil.AssertEqual(t, f.Remaining("ip:3", cfg, epoch.Add(3*time.Second)), 4)
	testutil.AssertEqual(t, f.Remaining("ip:new", cfg, epoch.Add(time.Hour)), 4)

	testutil.AssertEqual(t, promtest.ToFloat64(reg.EmergencyEvicted.WithLabelValues("fallback")), 3.0)
	testutil.AssertEqual(t, promtest.ToFloat64(reg.FallbackEntries), 8.0)
}

func TestFallbackStoreSweep(t *testing.T) {
	f := NewFallbackStore(10)
	cfg := Config{Algorithm: FixedWindow, MaxRequests: 1, Window: time.Minute}

	f.Check("ip:1", cfg, epoch)
	f.Check("ip:2", cfg, epoch.Add(30*time.Second))
	f.Block("ip:3", cfg, epoch.Add(time.Hour))

	testutil.AssertEqual(t, f.Sweep(epoch.Add(time.Minute)), 1)
	testutil.AssertEqual(t, f.Len(), 2)
	testutil.AssertEqual(t, f.Sweep(epoch.Add(2*time.Hour)), 2)
	testutil.AssertEqual(t, f.Len(), 0)
}
