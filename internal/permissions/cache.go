package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "permissions:version"
	bumpChannel     = "permissions.bump"
)

// Cache keeps resolved grant lists in Redis. Every key embeds a global version;
// bumping the version invalidates all entries at once.
// Redis failures degrade to direct loads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl, logger: slog.Default()}
}

// WithLogger sets the logger used for degraded-cache warnings.
func (c *Cache) WithLogger(logger *slog.Logger) *Cache {
	if logger != nil {
		c.logger = logger
	}
	return c
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) key(ctx context.Context, kind ResourceKind, userID uuid.UUID) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("permissions:grants:%s:%s:%d", kind, userID, ver), nil
}

// Fetch returns cached grants for the user, calling loader on a miss. When
// Redis cannot be read or written the loaded grants are returned uncached.
func (c *Cache) Fetch(ctx context.Context, kind ResourceKind, userID uuid.UUID, loader func(context.Context) ([]Grant, error)) ([]Grant, error) {
	if !c.enabled() {
		return loader(ctx)
	}
	key, err := c.key(ctx, kind, userID)
	if err != nil {
		c.logger.Warn("permission cache unavailable", slog.Any("error", err))
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var grants []Grant
		if err := json.Unmarshal(payload, &grants); err == nil {
			return grants, nil
		}
		c.logger.Warn("permission cache entry unreadable", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("permission cache read", slog.Any("error", err))
		return loader(ctx)
	}
	grants, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(grants)
	if err != nil {
		return grants, nil
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("permission cache write", slog.Any("error", err))
	}
	return grants, nil
}

// Bump invalidates every cached entry and publishes the new version.
func (c *Cache) Bump(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}
