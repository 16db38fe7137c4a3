// Package cache provides the shared manifest cache, a keyed byte store
// with TTL backed by Redis.
//
// Reads never block writes and a miss is silent. Because every writer
// of a given key computes the same value (the catalog invariants make
// manifests deterministic), last-write-wins is acceptable.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/frostline/updated/internal/logger"
)

// TTL bounds manifest staleness to eight hours.
const TTL = 8 * time.Hour

// Key builds the cache key for a computed manifest.
func Key(sourceVersion, targetVersion string, os, texture int) string {
	return fmt.Sprintf("update-%s-%s-%d-%d", sourceVersion, targetVersion, os, texture)
}

// ManifestCache memoizes serialized manifests in Redis.
type ManifestCache struct {
	rdb *redis.Client
}

// New creates a ManifestCache on an existing Redis client.
func New(rdb *redis.Client) *ManifestCache {
	return &ManifestCache{rdb: rdb}
}

// Get returns the cached bytes for key. A miss, or any backend error,
// returns (nil, false); the caller recomputes.
func (c *ManifestCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("manifest cache read failed", "component", "cache", "key", key, "error", err)
		}
		return nil, false
	}
	return val, true
}

// Set stores value under key with the manifest TTL.
func (c *ManifestCache) Set(ctx context.Context, key string, value []byte) error {
	if err := c.rdb.Set(ctx, key, value, TTL).Err(); err != nil {
		return fmt.Errorf("manifest cache write: %w", err)
	}
	return nil
}

// HealthCheck verifies the Redis backend is reachable.
func (c *ManifestCache) HealthCheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
