// Package cache provides the optional shared embedding-vector cache.
//
// When a Redis URL is configured, vectors computed for a (model, chunk
// content hash) pair are shared across processes and projects, so a chunk
// whose bytes are identical anywhere never gets embedded twice. The cache
// is strictly optional: every caller treats a nil *RedisCache, a miss, or a
// Redis error as "not cached" and falls back to the SQLite store.
package cache

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultVectorTTL bounds how long a cached vector outlives its last use.
const DefaultVectorTTL = 14 * 24 * time.Hour

// RedisCache provides the embedding-vector cache via Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache, verifying connectivity once.
func NewRedisCache(url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis connection failed: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// GetVector retrieves a cached vector. ok is false on miss or decode failure.
func (c *RedisCache) GetVector(ctx context.Context, model, contentHash string) ([]float32, bool, error) {
	val, err := c.client.Get(ctx, EmbeddingCacheKey(model, contentHash)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	vec, err := decodeVector(val)
	if err != nil {
		return nil, false, nil
	}
	return vec, true, nil
}

// SetVector stores a vector with the default TTL.
func (c *RedisCache) SetVector(ctx context.Context, model, contentHash string, vector []float32) error {
	return c.client.Set(ctx, EmbeddingCacheKey(model, contentHash), encodeVector(vector), DefaultVectorTTL).Err()
}

// Delete removes a cached vector.
func (c *RedisCache) Delete(ctx context.Context, model, contentHash string) error {
	return c.client.Del(ctx, EmbeddingCacheKey(model, contentHash)).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// EmbeddingCacheKey generates a cache key for an embedding. Keyed by
// content hash, not chunk id, so identical text shares one entry.
func EmbeddingCacheKey(model, contentHash string) string {
	return fmt.Sprintf("embed:%s:%s", model, contentHash)
}

func encodeVector(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeVector(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}
