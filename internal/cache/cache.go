// Package cache implements the memoized-lookup wrapper applied to
// pure-keyed network reads (geocoding, weather). Within one key's
// validity window at most one upstream call is issued; every other
// caller reuses the cached value. Freshness windows are expressed in
// the key itself (e.g. an hour bucket), so entries never need timers.
package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Lookup memoizes a keyed fetch behind a capacity-bounded LRU.
// Concurrent misses on the same key are collapsed to a single upstream
// call via singleflight.
type Lookup[V any] struct {
	entries *lru.Cache[string, V]
	group   singleflight.Group
	fetch   func(ctx context.Context, key string) (V, error)
}

// New creates a lookup with the given capacity and fetch function.
// Fetch errors are never cached.
func New[V any](size int, fetch func(ctx context.Context, key string) (V, error)) (*Lookup[V], error) {
	entries, err := lru.New[string, V](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Lookup[V]{entries: entries, fetch: fetch}, nil
}

// Get returns the cached value for key, fetching it on a miss.
func (l *Lookup[V]) Get(ctx context.Context, key string) (V, error) {
	if v, ok := l.entries.Get(key); ok {
		return v, nil
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		// A concurrent caller may have populated the entry while we
		// waited on the flight group.
		if v, ok := l.entries.Get(key); ok {
			return v, nil
		}
		val, err := l.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		l.entries.Add(key, val)
		return val, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Contains reports whether key is currently cached, without touching
// recency order.
func (l *Lookup[V]) Contains(key string) bool {
	return l.entries.Contains(key)
}

// Len returns the number of cached entries.
func (l *Lookup[V]) Len() int {
	return l.entries.Len()
}

// HourBucket renders t as a UTC hour-granularity key component. Two
// timestamps in the same hour produce the same bucket, giving cache
// entries keyed on it an effective one-hour freshness window.
func HourBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}
