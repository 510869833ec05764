package testutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventually(t *testing.T) {
	t.Run("condition met immediately", func(t *testing.T) {
		called := false
		Eventually(t, func() bool {
			called = true
			return true
		}, 100*time.Millisecond, 10*time.Millisecond)

		if !called {
			t.Error("condition function should be called")
		}
	})

	t.Run("condition met after delay", func(t *testing.T) {
		var counter int32
		go func() {
			time.Sleep(50 * time.Millisecond)
			atomic.StoreInt32(&counter, 1)
		}()

		Eventually(t, func() bool {
			return atomic.LoadInt32(&counter) == 1
		}, 2*time.Second, 10*time.Millisecond)
	})
}

func TestMockClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	AssertEqual(t, clock.Now(), start)

	clock.Advance(time.Minute)
	AssertEqual(t, clock.Now(), start.Add(time.Minute))

	clock.Set(start)
	AssertEqual(t, clock.Now(), start)
}

func TestRecordingSleeper(t *testing.T) {
	var s RecordingSleeper
	AssertNoError(t, s.Sleep(context.Background(), time.Second))
	AssertNoError(t, s.Sleep(context.Background(), 0))

	got := s.Sleeps()
	AssertEqual(t, len(got), 2)
	AssertEqual(t, got[0], time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	AssertError(t, s.Sleep(ctx, time.Second))
}

func TestAssertDurationNear(t *testing.T) {
	AssertDurationNear(t, 30*time.Minute, 30*time.Minute-time.Second, 2*time.Second)
}
