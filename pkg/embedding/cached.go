package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/Yinkun-Cheng/RAG/pkg/cache"
	"github.com/Yinkun-Cheng/RAG/pkg/index"
)

// Cached memoizes another embedder in a TTL LRU keyed by a hash of the
// text. Errors are not cached.
type Cached struct {
	next  index.EmbeddingService
	cache *cache.LRU[string, []float32]
}

// NewCached wraps next with a cache built from cfg. It returns next
// unchanged when caching is disabled.
func NewCached(next index.EmbeddingService, cfg *cache.CacheConfig) index.EmbeddingService {
	if cfg == nil || !cfg.Enabled {
		return next
	}
	return &Cached{
		next:  next,
		cache: cache.NewLRU[string, []float32](cfg.MaxSize, cfg.EmbeddingTTL),
	}
}

// Name implements index.Backend.
func (c *Cached) Name() string {
	if b, ok := c.next.(index.Backend); ok {
		return b.Name()
	}
	return "cached"
}

// Embed implements index.EmbeddingService.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	key := hex.EncodeToString(sum[:])
	if v, ok := c.cache.Get(key); ok {
		return slices.Clone(v), nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, slices.Clone(v))
	return v, nil
}

// Len returns the number of cached vectors.
func (c *Cached) Len() int { return c.cache.Size() }
