// Package cache provides small key/value stores with TTLs: Redis for shared
// deployments and an in-process map for single instances and tests.
package cache

import (
	"context"
	"sync"
	"time"
)

// Store is a byte-oriented cache. A miss is (nil, false, nil).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Incr atomically increments the integer at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
}

type entry struct {
	data      []byte
	counter   int64
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// sweepEvery is how many writes Memory takes between passes that drop
// expired entries.
const sweepEvery = 64

// Memory is a mutex-guarded Store. Expired entries miss on Get and are
// removed by a sweep every sweepEvery writes, so keys nobody reads again
// are still freed.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*entry
	writes  int
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*entry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.data, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e := &entry{data: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	m.entries[key] = e
	m.wrote(now)
	return nil
}

// wrote counts a write and sweeps once enough have accumulated. Callers hold mu.
func (m *Memory) wrote(now time.Time) {
	m.writes++
	if m.writes < sweepEvery {
		return
	}
	m.writes = 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}

// Len reports how many entries are held, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Incr keeps counters without expiry.
func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e, ok := m.entries[key]
	if !ok || e.expired(now) {
		e = &entry{}
		m.entries[key] = e
	}
	e.counter++
	e.data = []byte(formatInt(e.counter))
	m.wrote(now)
	return e.counter, nil
}
