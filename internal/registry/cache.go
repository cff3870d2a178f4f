package registry

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/external-engine-broker/internal/apperrors"
	"github.com/r3e-network/external-engine-broker/internal/logging"
)

// defaultCacheTTL bounds how long a lookup is cached before it is re-fetched
// from Postgres, balancing the hot-path savings against staleness after a
// rotation or delete (SPEC_FULL §11.2).
const defaultCacheTTL = 30 * time.Second

// CachedRegistry wraps an AdminRegistry with a Redis read-through cache
// keyed by engine id. It is never consulted on the job-rendezvous path
// itself (the spec keeps that in-memory, single-broker); it only shortens
// repeated Lookup calls made by analyse and acquire.
type CachedRegistry struct {
	AdminRegistry
	rdb    *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedRegistry wraps backing with a Redis cache. rdb may be nil, in
// which case Lookup falls straight through to backing (operators may run
// without Redis).
func NewCachedRegistry(backing AdminRegistry, rdb *redis.Client, logger *logging.Logger) *CachedRegistry {
	return &CachedRegistry{AdminRegistry: backing, rdb: rdb, ttl: defaultCacheTTL, logger: logger}
}

func cacheKey(engineID string) string {
	return "engine-registration:" + engineID
}

// Lookup checks Redis before falling through to the wrapped store, and
// populates the cache on a miss.
func (c *CachedRegistry) Lookup(ctx context.Context, engineID string) (*EngineRegistration, error) {
	if c.rdb == nil {
		return c.AdminRegistry.Lookup(ctx, engineID)
	}

	if reg, err := c.readCache(ctx, engineID); err == nil {
		return reg, nil
	}

	reg, err := c.AdminRegistry.Lookup(ctx, engineID)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, reg)
	return reg, nil
}

func (c *CachedRegistry) readCache(ctx context.Context, engineID string) (*EngineRegistration, error) {
	data, err := c.rdb.Get(ctx, cacheKey(engineID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithContext(ctx).WithError(err).Warn("registry cache read failed")
		}
		return nil, apperrors.New(apperrors.CodeNotFound, "cache miss", 404)
	}
	var reg EngineRegistration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, apperrors.New(apperrors.CodeInternal, "cache decode failed", 500)
	}
	return &reg, nil
}

func (c *CachedRegistry) writeCache(ctx context.Context, reg *EngineRegistration) {
	data, err := json.Marshal(reg)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(reg.EngineID), data, c.ttl).Err(); err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("registry cache write failed")
	}
}

func (c *CachedRegistry) invalidate(ctx context.Context, engineID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, cacheKey(engineID)).Err(); err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("registry cache invalidate failed")
	}
}

// Create invalidates nothing (the engine id is new) but is overridden so the
// embedded method set stays explicit about cache interaction points.
func (c *CachedRegistry) Create(ctx context.Context, in NewRegistration) (*CreatedRegistration, error) {
	return c.AdminRegistry.Create(ctx, in)
}

func (c *CachedRegistry) RotateClientSecret(ctx context.Context, engineID string) (string, error) {
	secret, err := c.AdminRegistry.RotateClientSecret(ctx, engineID)
	if err == nil {
		c.invalidate(ctx, engineID)
	}
	return secret, err
}

func (c *CachedRegistry) RotateProviderSecret(ctx context.Context, engineID string) (string, error) {
	secret, err := c.AdminRegistry.RotateProviderSecret(ctx, engineID)
	if err == nil {
		c.invalidate(ctx, engineID)
	}
	return secret, err
}

func (c *CachedRegistry) Delete(ctx context.Context, engineID string) error {
	err := c.AdminRegistry.Delete(ctx, engineID)
	if err == nil {
		c.invalidate(ctx, engineID)
	}
	return err
}
