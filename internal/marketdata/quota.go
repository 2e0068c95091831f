package marketdata

import (
	"sync"
	"time"
)

// Quota is a rolling-window read quota: at most limit hits per window for
// every key of a request.
type Quota struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	warned map[string]time.Time
	now    func() time.Time
}

// NewQuota creates a rolling-window quota.
func NewQuota(limit int, window time.Duration) *Quota {
	return &Quota{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		warned: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Allow records one hit against every key when all of them are under the
// limit, and reports whether it did. It never blocks.
func (q *Quota) Allow(keys ...string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for _, k := range keys {
		q.hits[k] = q.prune(q.hits[k], now)
		if len(q.hits[k]) >= q.limit {
			return false
		}
	}
	for _, k := range keys {
		q.hits[k] = append(q.hits[k], now)
	}
	return true
}

// ShouldWarn reports true at most once per window for key.
func (q *Quota) ShouldWarn(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if last, ok := q.warned[key]; ok && now.Sub(last) < q.window {
		return false
	}
	q.warned[key] = now
	return true
}

// Reset forgets every key.
func (q *Quota) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hits = make(map[string][]time.Time)
	q.warned = make(map[string]time.Time)
}

func (q *Quota) prune(hits []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-q.window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == len(hits) {
		return nil
	}
	return hits[i:]
}
