// Package cache provides a bounded LRU that loads missing entries through a callback and
// coalesces concurrent loads of the same key.
package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultLoadTimeout bounds a shared load once it no longer follows any caller's cancellation.
const DefaultLoadTimeout = 30 * time.Second

// LoaderCache maps string keys to values loaded on demand. Failed loads are not cached.
type LoaderCache[V any] struct {
	lru         *lru.Cache[string, V]
	group       singleflight.Group
	loadTimeout time.Duration
}

// Option configures a LoaderCache.
type Option func(*options)

type options struct {
	loadTimeout time.Duration
}

// WithLoadTimeout sets the deadline of a shared load. Non-positive values keep the default.
func WithLoadTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.loadTimeout = d
		}
	}
}

// NewLoaderCache creates a cache holding at most maxEntries values.
func NewLoaderCache[V any](maxEntries int, opts ...Option) (*LoaderCache[V], error) {
	o := options{loadTimeout: DefaultLoadTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	entries, err := lru.New[string, V](maxEntries)
	if err != nil {
		return nil, err
	}

	return &LoaderCache[V]{lru: entries, loadTimeout: o.loadTimeout}, nil
}

// Get returns the value for key and whether it was served from the cache. On a miss, one load
// runs for all concurrent callers of the same key. It keeps the first caller's context values but
// not its cancellation, and is bounded by the load timeout. A caller whose context ends returns
// its context error without waiting further.
func (c *LoaderCache[V]) Get(ctx context.Context, key string, load func(context.Context) (V, error)) (V, bool, error) {
	var zero V

	if v, ok := c.lru.Get(key); ok {
		return v, true, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		loaded, err := load(loadCtx)
		if err != nil {
			return zero, err
		}

		c.lru.Add(key, loaded)

		return loaded, nil
	})

	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}

		v, _ := res.Val.(V)

		return v, false, nil
	}
}

// Remove drops the entry for key.
func (c *LoaderCache[V]) Remove(key string) {
	c.lru.Remove(key)
}

// Purge drops all entries.
func (c *LoaderCache[V]) Purge() {
	c.lru.Purge()
}

// Len returns the number of cached entries.
func (c *LoaderCache[V]) Len() int {
	return c.lru.Len()
}
