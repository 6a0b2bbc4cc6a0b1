package redis

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/school-gamification/internal/domain/shop"
	"github.com/alem-hub/school-gamification/pkg/logger"
)

// CatalogCache is a read-through cache in front of a shop.Catalog. The
// catalog changes rarely and only by staff, so a short TTL is the only
// invalidation sessions rely on. A Redis failure falls back to the source.
type CatalogCache struct {
	source shop.Catalog
	cache  *Cache
	ttl    time.Duration
	log    *logger.Logger
}

// NewCatalogCache wraps source. A ttl of zero uses TTLCatalog.
func NewCatalogCache(source shop.Catalog, cache *Cache, ttl time.Duration, log *logger.Logger) *CatalogCache {
	if ttl <= 0 {
		ttl = TTLCatalog
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CatalogCache{
		source: source,
		cache:  cache,
		ttl:    ttl,
		log:    log.With(logger.Component("catalog_cache")),
	}
}

// ListShopItems implements shop.Catalog.
func (c *CatalogCache) ListShopItems(ctx context.Context, activeOnly bool) ([]*shop.Item, error) {
	key := CatalogKey(activeOnly)

	var items []*shop.Item
	err := c.cache.Get(ctx, key, &items)
	switch {
	case err == nil:
		return items, nil
	case !errors.Is(err, ErrCacheMiss):
		c.log.Warn("catalog cache read failed, using source", logger.Err(err))
	}

	items, err = c.source.ListShopItems(ctx, activeOnly)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, items, c.ttl); err != nil {
		c.log.Warn("catalog cache write failed", logger.Err(err))
	}
	return items, nil
}

// Invalidate drops every cached listing.
func (c *CatalogCache) Invalidate(ctx context.Context) error {
	return c.cache.Delete(ctx, CatalogKey(true), CatalogKey(false))
}

var _ shop.Catalog = (*CatalogCache)(nil)
