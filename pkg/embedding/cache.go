package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"time"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]float64, bool, error)
	Set(ctx context.Context, key string, vec []float64, ttl time.Duration) error
}

type redisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) Cache {
	return &redisCache{client: client}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]float64, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var vec []float64
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, vec []float64, ttl time.Duration) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

type cachedEmbedder struct {
	next  Embedder
	cache Cache
	ttl   time.Duration
}

// NewCachedEmbedder serves repeated texts from cache. Cache failures only cost a service call.
func NewCachedEmbedder(next Embedder, cache Cache, ttl time.Duration) Embedder {
	return &cachedEmbedder{next: next, cache: cache, ttl: ttl}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embedding:" + hex.EncodeToString(sum[:])
}

func (e *cachedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	key := cacheKey(text)
	vec, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("embedding cache read failed")
	}
	if ok {
		return vec, nil
	}

	vec, err = e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Set(ctx, key, vec, e.ttl); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("embedding cache write failed")
	}
	return vec, nil
}
