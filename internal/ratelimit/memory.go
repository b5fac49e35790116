package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps timestamps in process memory. State is lost on restart
// and is not shared between instances, so it only fits single-instance
// deployments. Use RedisStore otherwise.
type MemoryStore struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hits: make(map[string][]time.Time)}
}

// Hit implements Store.
func (m *MemoryStore) Hit(_ context.Context, key string, p Policy, now time.Time) (Result, error) {
	if p.Limit <= 0 {
		return Result{Allowed: false, Limit: p.Limit, ResetAt: now.Add(p.Window)}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kept := prune(m.hits[key], now.Add(-p.Window))

	if len(kept) >= p.Limit {
		m.hits[key] = kept
		return Result{
			Allowed:   false,
			Limit:     p.Limit,
			Remaining: 0,
			ResetAt:   kept[0].Add(p.Window),
		}, nil
	}

	kept = append(kept, now)
	m.hits[key] = kept
	return Result{
		Allowed:   true,
		Limit:     p.Limit,
		Remaining: p.Limit - len(kept),
		ResetAt:   kept[0].Add(p.Window),
	}, nil
}

// Sweep drops keys with no attempts newer than window. Run it periodically
// to bound memory; Hit alone only prunes keys it touches.
func (m *MemoryStore) Sweep(now time.Time, window time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, ts := range m.hits {
		kept := prune(ts, now.Add(-window))
		if len(kept) == 0 {
			delete(m.hits, key)
			removed++
			continue
		}
		m.hits[key] = kept
	}
	return removed
}

// Len returns the number of tracked keys.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}

// prune keeps timestamps strictly after cutoff. ts is ordered oldest first.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[i:]...)
}
