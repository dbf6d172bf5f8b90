// Package statuscache memoizes expensive status queries with a per-key TTL.
//
// A miss refreshes synchronously. Concurrent callers missing on the same key
// share one in-flight refresh. Failed refreshes are never stored.
package statuscache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"bluecast/internal/clock"
)

var ErrCacheRefresh = errors.New("cache refresh failed")

type entry struct {
	value       any
	refreshedAt time.Time
	ttl         time.Duration
}

// Cache is owned by the process and shared by reference.
type Cache struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]entry

	group singleflight.Group

	hits      atomic.Uint64
	refreshes atomic.Uint64
	failures  atomic.Uint64
}

func New(clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.Real()
	}
	return &Cache{clock: clk, entries: map[string]entry{}}
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries   int
	Hits      uint64
	Refreshes uint64
	Failures  uint64
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Entries:   n,
		Hits:      c.hits.Load(),
		Refreshes: c.refreshes.Load(),
		Failures:  c.failures.Load(),
	}
}

// Invalidate drops key so the next Get refreshes.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache) lookup(key string, ttl time.Duration) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	// The TTL passed by the caller wins so a reload takes effect immediately.
	if ttl <= 0 || c.clock.Now().Sub(e.refreshedAt) >= ttl {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) store(key string, v any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry{value: v, refreshedAt: c.clock.Now(), ttl: ttl}
	c.mu.Unlock()
}

// Get returns the value cached under key if it is younger than ttl, and
// otherwise runs refresh and caches its result.
//
// refresh runs detached from ctx cancellation because other callers may be
// waiting on the same flight; bound it with its own timeout. A caller whose
// ctx ends stops waiting and gets ctx.Err().
func Get[V any](ctx context.Context, c *Cache, key string, ttl time.Duration, refresh func(ctx context.Context) (V, error)) (V, error) {
	var zero V
	if v, ok := c.lookup(key, ttl); ok {
		if tv, ok := v.(V); ok {
			c.hits.Add(1)
			return tv, nil
		}
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// Another flight may have stored a fresh value while we queued.
		if v, ok := c.lookup(key, ttl); ok {
			if _, ok := v.(V); ok {
				return v, nil
			}
		}
		c.refreshes.Add(1)
		v, err := refresh(context.WithoutCancel(ctx))
		if err != nil {
			c.failures.Add(1)
			return nil, err
		}
		c.store(key, v, ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, fmt.Errorf("%w: %s: %w", ErrCacheRefresh, key, res.Err)
		}
		tv, ok := res.Val.(V)
		if !ok {
			return zero, fmt.Errorf("%w: %s: cached %T is not %T", ErrCacheRefresh, key, res.Val, zero)
		}
		return tv, nil
	}
}
