package store

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/rumor-ml/commons.systems/finimport/internal/parsers/custom"
)

// DefaultCacheExpiration is how long a resolved config stays cached.
const DefaultCacheExpiration = 15 * time.Minute

// CachedConfigs fronts a ConfigStore with an expiring cache for the name
// and signature lookups done on every upload. Writes go through to the
// underlying store and flush the cache.
type CachedConfigs struct {
	ConfigStore
	cache *cache.Cache
}

// NewCachedConfigs wraps next with a cache.
func NewCachedConfigs(next ConfigStore, expiration time.Duration) *CachedConfigs {
	return &CachedConfigs{
		ConfigStore: next,
		cache:       cache.New(expiration, 2*expiration),
	}
}

// GetConfig returns the named config, from cache when possible.
func (c *CachedConfigs) GetConfig(ctx context.Context, name string) (*custom.Config, error) {
	key := "name:" + name
	if cached, found := c.cache.Get(key); found {
		cp := *cached.(*custom.Config)
		return &cp, nil
	}
	cfg, err := c.ConfigStore.GetConfig(ctx, name)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, cfg, cache.DefaultExpiration)
	cp := *cfg
	return &cp, nil
}

// FindBySignature returns the config for a header signature, from cache
// when possible. Misses are not cached.
func (c *CachedConfigs) FindBySignature(ctx context.Context, signature string) (*custom.Config, error) {
	key := "sig:" + signature
	if cached, found := c.cache.Get(key); found {
		cp := *cached.(*custom.Config)
		return &cp, nil
	}
	cfg, err := c.ConfigStore.FindBySignature(ctx, signature)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, cfg, cache.DefaultExpiration)
	cp := *cfg
	return &cp, nil
}

// SaveConfig writes through and flushes the cache.
func (c *CachedConfigs) SaveConfig(ctx context.Context, cfg *custom.Config) error {
	defer c.cache.Flush()
	return c.ConfigStore.SaveConfig(ctx, cfg)
}

// RecordUse writes through and flushes the cache.
func (c *CachedConfigs) RecordUse(ctx context.Context, name string) error {
	defer c.cache.Flush()
	return c.ConfigStore.RecordUse(ctx, name)
}
