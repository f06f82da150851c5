package engine

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedEmbedder memoizes embeddings by exact text. A miss behaves exactly
// like calling the wrapped embedder; errors are never cached.
type CachedEmbedder struct {
	inner   Embedder
	cache   *expirable.LRU[string, []float64]
	metrics MetricsRecorder
}

// NewCachedEmbedder wraps inner with an LRU of size entries that expire
// after ttl (never when ttl <= 0).
func NewCachedEmbedder(inner Embedder, size int, ttl time.Duration, m MetricsRecorder) *CachedEmbedder {
	if m == nil {
		m = nopMetrics{}
	}
	return &CachedEmbedder{
		inner:   inner,
		cache:   expirable.NewLRU[string, []float64](size, nil, ttl),
		metrics: m,
	}
}

func (c *CachedEmbedder) Model() string   { return c.inner.Model() }
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Embed returns a cached copy when present, otherwise embeds and caches.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if vec, ok := c.cache.Get(text); ok {
		c.metrics.RecordEmbedCache(true)
		return slices.Clone(vec), nil
	}
	c.metrics.RecordEmbedCache(false)

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, slices.Clone(vec))
	return vec, nil
}

// Len returns the number of cached entries.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}
