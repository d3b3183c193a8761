// Package ratelimit implements a fixed-window per-key limiter with a
// bounded entry table.
package ratelimit

import (
	"sort"
	"sync"
	"time"
)

type entry struct {
	count       int
	windowStart time.Time
	lastSeen    time.Time
}

// Limiter admits up to limit calls per key within each fixed window. The
// entry table is capped at maxEntries; when the cap is exceeded, expired
// windows are swept and, if still over, the stalest keys are evicted.
type Limiter struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	maxEntries int
	entries    map[string]*entry
	now        func() time.Time
}

// New constructs a limiter. A maxEntries of zero applies a default bound.
func New(limit int, window time.Duration, maxEntries int) *Limiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Limiter{
		limit:      limit,
		window:     window,
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
		now:        time.Now,
	}
}

// Allow reports whether a call for key is admitted in the current window.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok || now.Sub(e.windowStart) >= l.window {
		l.entries[key] = &entry{count: 1, windowStart: now, lastSeen: now}
		if len(l.entries) > l.maxEntries {
			l.evictLocked(now)
		}
		return true
	}

	e.lastSeen = now
	if e.count < l.limit {
		e.count++
		return true
	}
	return false
}

// Len reports the current entry count.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// evictLocked drops expired windows first, then the stalest keys until the
// table fits the bound again.
func (l *Limiter) evictLocked(now time.Time) {
	for key, e := range l.entries {
		if now.Sub(e.windowStart) >= l.window {
			delete(l.entries, key)
		}
	}
	if len(l.entries) <= l.maxEntries {
		return
	}

	type aged struct {
		key  string
		seen time.Time
	}
	all := make([]aged, 0, len(l.entries))
	for key, e := range l.entries {
		all = append(all, aged{key: key, seen: e.lastSeen})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seen.Before(all[j].seen) })
	for _, a := range all {
		if len(l.entries) <= l.maxEntries {
			break
		}
		delete(l.entries, a.key)
	}
}
