package orchestrator

import (
	"sync"
	"time"
)

type dedupEntry struct {
	key string
	at  time.Time
}

// dedup is a bounded expiring key set for cross-protocol duplicate
// suppression. When the bound is hit the oldest key is evicted first.
type dedup struct {
	limit int
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	keys  map[string]time.Time
	order []dedupEntry
}

func newDedup(limit int, ttl time.Duration) *dedup {
	return &dedup{
		limit: limit,
		ttl:   ttl,
		now:   time.Now,
		keys:  make(map[string]time.Time, limit),
	}
}

// seen reports whether key was recorded within the TTL, recording it if
// not.
func (d *dedup) seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.keys[key]; ok {
		if now.Sub(at) <= d.ttl {
			return true
		}
		delete(d.keys, key)
	}

	d.evict(now)

	d.keys[key] = now
	d.order = append(d.order, dedupEntry{key: key, at: now})
	return false
}

// evict drops expired keys and, at the bound, the oldest live key.
// Callers hold d.mu.
func (d *dedup) evict(now time.Time) {
	for len(d.order) > 0 {
		head := d.order[0]
		at, held := d.keys[head.key]
		if !held || !at.Equal(head.at) {
			// Superseded by a later re-record of the same key.
			d.order = d.order[1:]
			continue
		}
		if now.Sub(at) > d.ttl {
			delete(d.keys, head.key)
			d.order = d.order[1:]
			continue
		}
		if len(d.keys) >= d.limit {
			delete(d.keys, head.key)
			d.order = d.order[1:]
			continue
		}
		return
	}
}

func (d *dedup) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.keys)
}
