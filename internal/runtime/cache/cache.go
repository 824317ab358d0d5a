// Package cache implements the resolution cache: a concurrent, insert-only
// map that fills itself through a caller supplied loader.
package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Event classifies a GetOrLoad outcome for observers.
type Event string

const (
	EventHit       Event = "hit"
	EventMiss      Event = "miss"
	EventLoadError Event = "load_error"
	// EventDiscarded means a concurrent load won the race and this load's value was dropped.
	EventDiscarded Event = "discarded"
)

// Observer is notified of every cache outcome. It must not block.
type Observer func(key string, ev Event)

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Loads      int64 `json:"loads"`
	LoadErrors int64 `json:"loadErrors"`
	Discarded  int64 `json:"discarded"`
	Entries    int   `json:"entries"`
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	suppress bool
	observer Observer
}

// WithDuplicateSuppression makes concurrent misses on one key share a single
// load instead of racing.
func WithDuplicateSuppression() Option {
	return func(o *options) { o.suppress = true }
}

// WithObserver registers fn to receive every hit, miss and load outcome.
func WithObserver(fn Observer) Option {
	return func(o *options) { o.observer = fn }
}

// Cache maps K to V. Entries are never replaced or evicted: once a key holds a
// value every later GetOrLoad returns that same value. Failed loads are not
// cached, so the next request for the key loads again.
type Cache[K comparable, V any] struct {
	entries sync.Map
	group   *singleflight.Group
	observe Observer

	hits, misses, loads, loadErrors, discarded atomic.Int64
}

// New returns an empty cache.
func New[K comparable, V any](opts ...Option) *Cache[K, V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cache[K, V]{observe: o.observer}
	if o.suppress {
		c.group = &singleflight.Group{}
	}
	return c
}

// Get returns the value for key without loading.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// GetOrLoad returns the cached value for key, calling load on a miss. load runs
// without any lock held; if another caller installs a value for key first,
// the value returned by this load is discarded and the installed one returned.
func (c *Cache[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.entries.Load(key); ok {
		c.hits.Add(1)
		c.notify(key, EventHit)
		return v.(V), nil
	}
	c.misses.Add(1)
	c.notify(key, EventMiss)

	if c.group == nil {
		return c.loadAndStore(ctx, key, load)
	}

	// The shared load must not fail because the caller that started it gave
	// up; each caller waits on its own ctx instead.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(keyString(key), func() (any, error) {
		// A load that finished between our miss and joining the group has
		// already stored the value.
		if v, ok := c.entries.Load(key); ok {
			return v, nil
		}
		return c.loadAndStore(loadCtx, key, load)
	})
	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

func (c *Cache[K, V]) loadAndStore(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	c.loads.Add(1)
	v, err := load(ctx)
	if err != nil {
		c.loadErrors.Add(1)
		c.notify(key, EventLoadError)
		var zero V
		return zero, err
	}

	actual, loaded := c.entries.LoadOrStore(key, v)
	if loaded {
		c.discarded.Add(1)
		c.notify(key, EventDiscarded)
	}
	return actual.(V), nil
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Keys returns the cached keys rendered with %v, sorted.
func (c *Cache[K, V]) Keys() []string {
	keys := make([]string, 0)
	c.entries.Range(func(k, _ any) bool {
		keys = append(keys, keyString(k))
		return true
	})
	sort.Strings(keys)
	return keys
}

// Range calls fn for every entry until fn returns false.
func (c *Cache[K, V]) Range(fn func(K, V) bool) {
	c.entries.Range(func(k, v any) bool {
		return fn(k.(K), v.(V))
	})
}

func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Loads:      c.loads.Load(),
		LoadErrors: c.loadErrors.Load(),
		Discarded:  c.discarded.Load(),
		Entries:    c.Len(),
	}
}

func (c *Cache[K, V]) notify(key K, ev Event) {
	if c.observe != nil {
		c.observe(keyString(key), ev)
	}
}

func keyString(key any) string {
	if s, ok := key.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", key)
}
