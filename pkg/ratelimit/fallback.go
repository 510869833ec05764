package ratelimit

import (
	"sort"
	"sync"
	"time"

	"github.com/vnykmshr/gatekeep/pkg/metrics"
)

const (
	// DefaultFallbackCapacity bounds the fallback map when no capacity is given.
	DefaultFallbackCapacity = 10000

	fallbackEvictFraction = 0.3
)

// FallbackStore approximates every algorithm with a per-process fixed window
// counter. The Limiter consults it while the shared store is unreachable.
type FallbackStore struct {
	mu       sync.Mutex
	entries  map[memoryKey]*fallbackEntry
	capacity int
	metrics  *metrics.Registry
}

type fallbackEntry struct {
	count        int
	resetAt      time.Time
	blockedUntil time.Time
}

// FallbackOption configures a FallbackStore.
type FallbackOption func(*FallbackStore)

// WithFallbackMetrics reports entry counts and evictions to reg.
func WithFallbackMetrics(reg *metrics.Registry) FallbackOption {
	return func(f *FallbackStore) {
		f.metrics = reg
	}
}

// NewFallbackStore returns a store holding at most capacity entries before
// evicting. A non-positive capacity selects DefaultFallbackCapacity.
func NewFallbackStore(capacity int, opts ...FallbackOption) *FallbackStore {
	if capacity <= 0 {
		capacity = DefaultFallbackCapacity
	}
	f := &FallbackStore{
		entries:  make(map[memoryKey]*fallbackEntry),
		capacity: capacity,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Check counts one request for identifier in cfg's namespace. The window
// starts at the first request after the previous one expired.
func (f *FallbackStore) Check(identifier string, cfg Config, now time.Time) Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := keyFor(identifier, cfg)
	e, ok := f.entries[k]
	if !ok {
		e = &fallbackEntry{resetAt: now.Add(cfg.Window)}
		f.entries[k] = e
		f.evictLocked(k)
	}

	if e.blockedUntil.After(now) {
		res := denied(cfg.MaxRequests, e.blockedUntil, now)
		res.Blocked = true
		return res
	}

	if !e.resetAt.After(now) {
		e.count = 0
		e.resetAt = now.Add(cfg.Window)
	}
	e.count++

	if e.count <= cfg.MaxRequests {
		return allowed(cfg.MaxRequests, cfg.MaxRequests-e.count, e.resetAt)
	}
	return denied(cfg.MaxRequests, e.resetAt, now)
}

// Remaining returns the allowance left without counting a request.
func (f *FallbackStore) Remaining(identifier string, cfg Config, now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[keyFor(identifier, cfg)]
	if !ok || !e.resetAt.After(now) {
		return cfg.MaxRequests
	}
	return max(0, cfg.MaxRequests-e.count)
}

// Block marks identifier as blocked in cfg's namespace until until.
func (f *FallbackStore) Block(identifier string, cfg Config, until time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := keyFor(identifier, cfg)
	e, ok := f.entries[k]
	if !ok {
		e = &fallbackEntry{resetAt: until}
		f.entries[k] = e
		f.evictLocked(k)
	}
	e.blockedUntil = until
}

// BlockedUntil returns the active block expiry, or the zero time.
func (f *FallbackStore) BlockedUntil(identifier string, cfg Config, now time.Time) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[keyFor(identifier, cfg)]
	if !ok || !e.blockedUntil.After(now) {
		return time.Time{}
	}
	return e.blockedUntil
}

// Reset forgets identifier in every namespace.
func (f *FallbackStore) Reset(identifier string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for k := range f.entries {
		if k.identifier == identifier {
			delete(f.entries, k)
		}
	}
	f.reportLocked()
}

// Sweep removes entries whose window and block have both expired.
func (f *FallbackStore) Sweep(now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for k, e := range f.entries {
		if !e.resetAt.After(now) && !e.blockedUntil.After(now) {
			delete(f.entries, k)
			removed++
		}
	}
	f.reportLocked()
	return removed
}

// Len returns the number of tracked entries.
func (f *FallbackStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

// evictLocked drops the oldest 30% of entries by reset time once the map
// grows beyond capacity. keep is the entry being inserted.
func (f *FallbackStore) evictLocked(keep memoryKey) {
	defer f.reportLocked()

	if len(f.entries) <= f.capacity {
		return
	}

	type aged struct {
		key     memoryKey
		resetAt time.Time
	}
	all := make([]aged, 0, len(f.entries))
	for k, e := range f.entries {
		if k != keep {
			all = append(all, aged{key: k, resetAt: e.resetAt})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].resetAt.Before(all[j].resetAt)
	})

	n := int(float64(len(all)) * fallbackEvictFraction)
	if n < 1 {
		n = 1
	}
	for _, a := range all[:n] {
		delete(f.entries, a.key)
	}

	if f.metrics != nil {
		f.metrics.EmergencyEvicted.WithLabelValues("fallback").Add(float64(n))
	}
}

func (f *FallbackStore) reportLocked() {
	if f.metrics != nil {
		f.metrics.FallbackEntries.Set(float64(len(f.entries)))
	}
}
