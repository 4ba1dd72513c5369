package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/govquery/explorer/internal/observability"
	"github.com/govquery/explorer/pkg/cache"
)

const queryEmbeddingCacheName = "query_embedding"

// DefaultCacheSize is the number of query vectors kept when no size is configured.
const DefaultCacheSize = 1000

// Cached memoizes single-text embeddings keyed by the trimmed, lowercased text. Batch calls pass
// through uncached.
type Cached struct {
	next    Provider
	cache   *cache.LoaderCache[[]float32]
	metrics observability.CacheMetrics
}

var _ Provider = (*Cached)(nil)

// NewCached wraps next with an LRU of size entries. metrics may be nil.
func NewCached(next Provider, size int, metrics observability.CacheMetrics) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}

	c, err := cache.NewLoaderCache[[]float32](size)
	if err != nil {
		return nil, fmt.Errorf("create query embedding cache: %w", err)
	}

	return &Cached{next: next, cache: c, metrics: metrics}, nil
}

func cacheKey(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// CreateEmbedding returns the cached vector for text, computing it once on a miss.
// The returned slice is shared; callers must not modify it.
func (c *Cached) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if key == "" {
		return nil, ErrEmptyText
	}

	vec, hit, err := c.cache.Get(ctx, key, func(ctx context.Context) ([]float32, error) {
		return c.next.CreateEmbedding(ctx, text)
	})
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		if hit {
			c.metrics.RecordHit(ctx, queryEmbeddingCacheName)
		} else {
			c.metrics.RecordMiss(ctx, queryEmbeddingCacheName)
		}
	}

	return vec, nil
}

// CreateEmbeddings delegates without caching.
func (c *Cached) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.CreateEmbeddings(ctx, texts)
}
