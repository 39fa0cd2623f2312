// Package cache provides a Redis-backed ephemeral cache for session
// snapshots; the HTTP surface does not read from it. Grounded directly on this
// codebase family's Redis cache layer: ping on construction,
// disable-on-error fallback rather than failing the caller, key-prefix +
// TTL scheme.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultSessionSnapshotTTL bounds how stale a served dashboard snapshot can
// be before Redis drops it on its own.
const DefaultSessionSnapshotTTL = 10 * time.Second

// KeySessionSnapshot is the key prefix for a guild's cached now-playing
// snapshot.
const KeySessionSnapshot = "vocalcore:cache:session:"

// Config configures a Cache.
type Config struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SnapshotTTL    time.Duration
	DisableOnError bool // if true, cache misses/errors are swallowed rather than surfaced
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotTTL:    DefaultSessionSnapshotTTL,
		DisableOnError: true,
	}
}

// Cache is a Redis-backed cache with a disabled-on-connect-failure fallback:
// construction never fails outright, it just runs with caching off.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New creates a Cache, probing the Redis connection once. A failed probe
// disables caching rather than returning an error, since the ephemeral
// dashboard snapshot is a convenience, not a correctness requirement.
func New(cfg Config, logger zerolog.Logger) *Cache {
	if cfg.SnapshotTTL == 0 {
		cfg.SnapshotTTL = DefaultSessionSnapshotTTL
	}
	l := logger.With().Str("component", "cache").Logger()

	if cfg.RedisAddr == "" {
		return &Cache{logger: l, config: cfg, disabled: true}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		l.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{logger: l, config: cfg, disabled: true}
	}

	l.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")
	return &Cache{client: client, logger: l, config: cfg}
}

// SetSnapshot caches v (typically a dashboard payload) under guildID.
// Errors are logged and swallowed when DisableOnError is set.
func (c *Cache) SetSnapshot(ctx context.Context, guildID string, v any) error {
	if c.isDisabled() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, KeySessionSnapshot+guildID, data, c.config.SnapshotTTL).Err(); err != nil {
		c.logger.Warn().Err(err).Str("guild", guildID).Msg("cache set failed")
		if c.config.DisableOnError {
			return nil
		}
		return err
	}
	return nil
}

// GetSnapshot retrieves guildID's cached payload into v, returning false if
// absent or caching is disabled.
func (c *Cache) GetSnapshot(ctx context.Context, guildID string, v any) (bool, error) {
	if c.isDisabled() {
		return false, nil
	}
	data, err := c.client.Get(ctx, KeySessionSnapshot+guildID).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("guild", guildID).Msg("cache get failed")
		if c.config.DisableOnError {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// Invalidate removes guildID's cached snapshot, e.g. on session teardown.
func (c *Cache) Invalidate(ctx context.Context, guildID string) {
	if c.isDisabled() {
		return
	}
	if err := c.client.Del(ctx, KeySessionSnapshot+guildID).Err(); err != nil {
		c.logger.Warn().Err(err).Str("guild", guildID).Msg("cache invalidate failed")
	}
}

func (c *Cache) isDisabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disabled || c.client == nil
}

// Close closes the underlying Redis connection, if any.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
