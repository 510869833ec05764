package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a full-fidelity Store kept in process memory. It suits
// single-instance deployments and tests; nothing is shared across processes.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[memoryKey]bucketEntry
	logs    map[memoryKey]logEntry
	fixed   map[memoryKey]fixedEntry
	blocks  map[memoryKey]time.Time
}

type memoryKey struct {
	identifier string
	namespace  string
}

type bucketEntry struct {
	state   BucketState
	expires time.Time
}

type logEntry struct {
	times  []time.Time
	window time.Duration
}

type fixedEntry struct {
	index int64
	count int64
	reset time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[memoryKey]bucketEntry),
		logs:    make(map[memoryKey]logEntry),
		fixed:   make(map[memoryKey]fixedEntry),
		blocks:  make(map[memoryKey]time.Time),
	}
}

func keyFor(identifier string, cfg Config) memoryKey {
	return memoryKey{identifier: identifier, namespace: cfg.Namespace()}
}

// TokenBucket implements Store.
func (m *MemoryStore) TokenBucket(_ context.Context, identifier string, cfg Config, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyFor(identifier, cfg)
	entry, found := m.buckets[k]
	state, res := TakeToken(entry.state, found, cfg, now)
	m.buckets[k] = bucketEntry{state: state, expires: now.Add(cfg.Window)}
	return res, nil
}

// SlidingWindow implements Store.
func (m *MemoryStore) SlidingWindow(_ context.Context, identifier string, cfg Config, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyFor(identifier, cfg)
	log, res := TakeSliding(m.logs[k].times, cfg, now)
	m.logs[k] = logEntry{times: log, window: cfg.Window}
	return res, nil
}

// FixedWindow implements Store.
func (m *MemoryStore) FixedWindow(_ context.Context, identifier string, cfg Config, now time.Time) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyFor(identifier, cfg)
	idx := FixedWindowIndex(cfg, now)
	entry := m.fixed[k]
	if entry.index != idx {
		entry = fixedEntry{index: idx, reset: FixedWindowReset(cfg, now)}
	}
	entry.count++
	m.fixed[k] = entry
	return FixedWindowResult(entry.count, cfg, now), nil
}

// Peek implements Store.
func (m *MemoryStore) Peek(_ context.Context, identifier string, cfg Config, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyFor(identifier, cfg)
	switch cfg.Algorithm {
	case TokenBucket:
		entry, found := m.buckets[k]
		return PeekToken(entry.state, found, cfg, now), nil
	case SlidingWindow:
		return PeekSliding(m.logs[k].times, cfg, now), nil
	default:
		entry, ok := m.fixed[k]
		if !ok || entry.index != FixedWindowIndex(cfg, now) {
			return cfg.MaxRequests, nil
		}
		return max(0, cfg.MaxRequests-int(entry.count)), nil
	}
}

// Block implements Store.
func (m *MemoryStore) Block(_ context.Context, identifier string, cfg Config, now time.Time) error {
	if cfg.BlockDuration <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[keyFor(identifier, cfg)] = now.Add(cfg.BlockDuration)
	return nil
}

// BlockedUntil implements Store.
func (m *MemoryStore) BlockedUntil(_ context.Context, identifier string, cfg Config, now time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyFor(identifier, cfg)
	until, ok := m.blocks[k]
	if !ok {
		return time.Time{}, nil
	}
	if !until.After(now) {
		delete(m.blocks, k)
		return time.Time{}, nil
	}
	return until, nil
}

// Reset implements Store.
func (m *MemoryStore) Reset(_ context.Context, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k := range m.buckets {
		if k.identifier == identifier {
			delete(m.buckets, k)
		}
	}
	for k := range m.logs {
		if k.identifier == identifier {
			delete(m.logs, k)
		}
	}
	for k := range m.fixed {
		if k.identifier == identifier {
			delete(m.fixed, k)
		}
	}
	for k := range m.blocks {
		if k.identifier == identifier {
			delete(m.blocks, k)
		}
	}
	return nil
}

// Sweep drops entries that can no longer affect a decision: buckets idle
// for a full window (they would refill to capacity anyway), empty logs,
// fixed counters of past windows and expired blocks.
func (m *MemoryStore) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.buckets {
		if !e.expires.After(now) {
			delete(m.buckets, k)
			removed++
		}
	}
	for k, e := range m.logs {
		if len(e.times) == 0 || !e.times[len(e.times)-1].After(now.Add(-e.window)) {
			delete(m.logs, k)
			removed++
		}
	}
	for k, e := range m.fixed {
		if !e.reset.After(now) {
			delete(m.fixed, k)
			removed++
		}
	}
	for k, until := range m.blocks {
		if !until.After(now) {
			delete(m.blocks, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked entries across all algorithms.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets) + len(m.logs) + len(m.fixed) + len(m.blocks)
}
