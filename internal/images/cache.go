package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"smmswarm/internal/llm"
	"smmswarm/internal/observability"
)

const defaultCacheSize = 128

// Generator produces background images. llm.ImageGateway satisfies it.
type Generator interface {
	Generate(ctx context.Context, req llm.ImageRequest) ([]byte, error)
	Model() string
	Quality() string
}

// CacheKey hashes everything that influences a generated background.
func CacheKey(model, quality, prompt, size, style string) string {
	sum := sha256.Sum256([]byte(model + "|" + quality + "|" + prompt + "|" + size + "|" + style))
	return hex.EncodeToString(sum[:])
}

// BackgroundCache memoises generated backgrounds in a bounded LRU and
// collapses concurrent identical requests into one backend call.
type BackgroundCache struct {
	gen     Generator
	cache   *lru.Cache[string, []byte]
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewBackgroundCache wraps gen with a cache of at most size entries.
func NewBackgroundCache(gen Generator, size int, metrics *observability.Metrics) *BackgroundCache {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		// lru.New only rejects non-positive sizes.
		panic(err)
	}
	return &BackgroundCache{gen: gen, cache: cache, metrics: metrics}
}

// Get returns the background for prompt at size, generating it on a miss.
func (c *BackgroundCache) Get(ctx context.Context, prompt, size, style, user string) ([]byte, error) {
	model, quality := c.gen.Model(), c.gen.Quality()
	key := CacheKey(model, quality, prompt, size, style)
	if data, ok := c.cache.Get(key); ok {
		c.metrics.IncCacheLookup(true)
		return data, nil
	}
	c.metrics.IncCacheLookup(false)

	v, err, _ := c.group.Do(key, func() (any, error) {
		if data, ok := c.cache.Get(key); ok {
			return data, nil
		}
		data, err := c.gen.Generate(ctx, llm.ImageRequest{
			Prompt:  prompt,
			Size:    size,
			Model:   model,
			Quality: quality,
			User:    user,
		})
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Len reports the number of cached backgrounds.
func (c *BackgroundCache) Len() int { return c.cache.Len() }
