package hashing

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/custodia-labs/sercha-federation/internal/core/ports/driven"
)

// Ensure Cached implements the interface.
var _ driven.Embedder = (*Cached)(nil)

// DefaultCacheSize is the number of vectors kept when none is configured.
const DefaultCacheSize = 1000

// Cached memoises another embedder's vectors by text.
// Returned slices are shared; callers must not modify them.
type Cached struct {
	inner driven.Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached wraps inner with an LRU cache of size entries.
func NewCached(inner driven.Embedder, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &Cached{inner: inner, cache: cache}
}

// Embed returns the cached vector or computes and stores it.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.cache.Get(text); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, vec)
	return vec, nil
}

// Dimensions returns the inner embedder's vector length.
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Len returns the number of cached vectors.
func (c *Cached) Len() int { return c.cache.Len() }
