package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/folio/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)

	SetJob(ctx context.Context, job *models.Job, ttl time.Duration) error
	GetJob(ctx context.Context, jobID string) (*models.Job, bool, error)

	// BumpJobListVersion moves every cached report list to a new generation.
	BumpJobListVersion(ctx context.Context) (int64, error)
	JobListVersion(ctx context.Context) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) SetJob(ctx context.Context, job *models.Job, ttl time.Duration) error {
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job %s: %w", job.ID, err)
	}
	return c.client.Set(ctx, ReportJobKey(job.ID), b, ttl).Err()
}

func (c *RedisCache) GetJob(ctx context.Context, jobID string) (*models.Job, bool, error) {
	b, found, err := c.Get(ctx, ReportJobKey(jobID))
	if err != nil || !found {
		return nil, false, err
	}
	return decodeJob(jobID, b)
}

func (c *RedisCache) BumpJobListVersion(ctx context.Context) (int64, error) {
	return c.client.Incr(ctx, JobListVersionKey()).Result()
}

func (c *RedisCache) JobListVersion(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, JobListVersionKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func decodeJob(jobID string, b []byte) (*models.Job, bool, error) {
	var job models.Job
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, false, fmt.Errorf("decoding cached job %s: %w", jobID, err)
	}
	return &job, true, nil
}

var _ Cache = (*RedisCache)(nil)
