package embed

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached wraps an Embedder with an LRU over (task, text). Query texts
// repeat heavily in agent traffic; document embeddings pass through
// mostly uncached but cost nothing extra.
type Cached struct {
	inner Embedder
	cache *lru.Cache[cacheKey, []float32]
}

type cacheKey struct {
	task TaskType
	text string
}

// NewCached wraps inner with a cache of the given size.
func NewCached(inner Embedder, size int) (*Cached, error) {
	cache, err := lru.New[cacheKey, []float32](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: cache}, nil
}

var _ Embedder = (*Cached)(nil)

func (c *Cached) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	key := cacheKey{task: task, text: text}
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text, task)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

func (c *Cached) Model() string   { return c.inner.Model() }
func (c *Cached) Dimensions() int { return c.inner.Dimensions() }
