// Package cache holds a Redis read-through cache for model summaries.
package cache

import (
	"c4chat/internal/logger"
	"c4chat/internal/repository/db"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyModelSummaries = "c4chat:model_summaries"

// ModelSource is the authoritative store of model summaries
type ModelSource interface {
	ListModelSummaries(ctx context.Context) ([]db.ModelSummary, error)
}

// ModelCache serves model summaries from Redis, loading from the source on a
// miss. A nil client disables caching.
type ModelCache struct {
	client *redis.Client
	source ModelSource
	ttl    time.Duration
}

// NewModelCache wraps source with an optional Redis client
func NewModelCache(source ModelSource, client *redis.Client, ttl time.Duration) *ModelCache {
	return &ModelCache{client: client, source: source, ttl: ttl}
}

// NewModelCacheFromAddr connects to Redis at addr. An empty addr disables caching.
func NewModelCacheFromAddr(ctx context.Context, addr string, source ModelSource, ttl time.Duration) (*ModelCache, error) {
	if addr == "" {
		logger.Log.Info("REDIS_ADDR not set, model summary cache disabled")
		return NewModelCache(source, nil, ttl), nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Log.WithField("addr", addr).Info("Connected to Redis model summary cache")
	return NewModelCache(source, client, ttl), nil
}

// List returns every model summary
func (c *ModelCache) List(ctx context.Context) ([]db.ModelSummary, error) {
	if c.client != nil {
		raw, err := c.client.Get(ctx, keyModelSummaries).Bytes()
		switch {
		case err == nil:
			var summaries []db.ModelSummary
			if jsonErr := json.Unmarshal(raw, &summaries); jsonErr == nil {
				return summaries, nil
			}
			logger.Log.Warn("Discarding undecodable model summary cache entry")
		case errors.Is(err, redis.Nil):
		default:
			logger.Log.WithError(err).Warn("Model summary cache read failed")
		}
	}

	summaries, err := c.source.ListModelSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load model summaries: %w", err)
	}

	if c.client != nil {
		if raw, err := json.Marshal(summaries); err == nil {
			if err := c.client.Set(ctx, keyModelSummaries, raw, c.ttl).Err(); err != nil {
				logger.Log.WithError(err).Warn("Model summary cache write failed")
			}
		}
	}
	return summaries, nil
}

// Get returns the summary for one model id
func (c *ModelCache) Get(ctx context.Context, id string) (*db.ModelSummary, error) {
	summaries, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		if summaries[i].ID == id {
			return &summaries[i], nil
		}
	}
	return nil, db.ErrNotFound
}

// Invalidate drops the cached list so the next read reloads it
func (c *ModelCache) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, keyModelSummaries).Err()
}

// Close releases the Redis connection
func (c *ModelCache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
