package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedProvider memoizes embeddings by content hash
type CachedProvider struct {
	inner  Provider
	cache  *lru.Cache[string, []float32]
	hits   atomic.Int64
	misses atomic.Int64

	// OnLookup, when set, is called after every cache lookup
	OnLookup func(hit bool)
}

// NewCachedProvider wraps inner with an LRU cache holding up to size vectors
func NewCachedProvider(inner Provider, size int) (*CachedProvider, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedProvider{inner: inner, cache: cache}, nil
}

func (c *CachedProvider) Dimension() int {
	return c.inner.Dimension()
}

func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := contentHash(text)
	if vec, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		c.observe(true)
		return clone(vec), nil
	}

	c.misses.Add(1)
	c.observe(false)
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, clone(vec))
	return vec, nil
}

// HitRate returns the fraction of lookups served from cache, or nil before
// the first lookup.
func (c *CachedProvider) HitRate() *float64 {
	hits := c.hits.Load()
	total := hits + c.misses.Load()
	if total == 0 {
		return nil
	}
	rate := float64(hits) / float64(total)
	return &rate
}

func (c *CachedProvider) observe(hit bool) {
	if c.OnLookup != nil {
		c.OnLookup(hit)
	}
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
