// Package cache provides the Redis-backed run result cache. Completed run
// results are held for a bounded TTL so clients can poll a run by request id
// without a database round trip.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/clinical-pipeline-server/internal/domain"
)

const runKeyPrefix = "pipeline:run:"

// RunCache stores completed pipeline run results in Redis keyed by request id
type RunCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRunCache connects to Redis and verifies the connection
func NewRunCache(ctx context.Context, redisURL string, ttl time.Duration, logger *logrus.Logger) (*RunCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.WithField("addr", opts.Addr).Info("Run result cache connected")

	return &RunCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// StoreRun caches a run result under its request id for the configured TTL
func (c *RunCache) StoreRun(ctx context.Context, result *domain.PipelineRunResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode run result: %w", err)
	}

	if err := c.client.Set(ctx, runKeyPrefix+result.RequestID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache run result: %w", err)
	}
	return nil
}

// GetRun returns the cached run result for a request id.
// Returns domain.ErrNotFound when the run is unknown or its entry expired.
func (c *RunCache) GetRun(ctx context.Context, requestID string) (*domain.PipelineRunResult, error) {
	data, err := c.client.Get(ctx, runKeyPrefix+requestID).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached run: %w", err)
	}

	var result domain.PipelineRunResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached run: %w", err)
	}
	return &result, nil
}

// Close closes the Redis connection
func (c *RunCache) Close() error {
	return c.client.Close()
}
