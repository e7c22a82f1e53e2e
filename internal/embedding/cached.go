package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/deusflow/mynews/internal/cache"
	"github.com/deusflow/mynews/internal/metrics"
	"github.com/deusflow/mynews/internal/ratelimit"
)

// CachedEmbedder memoizes vectors by (model, text) so re-runs do not pay for the same text twice.
type CachedEmbedder struct {
	inner   Embedder
	store   *cache.Cache[[]float32]
	limiter *ratelimit.AIRateLimiter
}

func NewCachedEmbedder(inner Embedder, ttl time.Duration, limiter *ratelimit.AIRateLimiter) *CachedEmbedder {
	return &CachedEmbedder{
		inner:   inner,
		store:   cache.New[[]float32](ttl),
		limiter: limiter,
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text, model string) ([]float32, error) {
	key := cache.GenerateKey(model, text)

	if vec, ok := c.store.Get(key); ok {
		metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		c.limiter.RecordCacheHit()
		return append([]float32(nil), vec...), nil
	}
	metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()
	c.limiter.RecordCacheMiss()

	vec, err := c.inner.Embed(ctx, text, model)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	c.store.Set(key, append([]float32(nil), vec...))
	return vec, nil
}

// Cleanup drops expired vectors.
func (c *CachedEmbedder) Cleanup() int {
	return c.store.Cleanup()
}
