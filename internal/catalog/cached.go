package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/storeops/stockledger/internal/platform/cache"
)

// CachedDirectory decorates a Directory with a Redis read-through cache.
type CachedDirectory struct {
	next   Directory
	cache  *cache.Versioned
	logger *slog.Logger
}

// NewCachedDirectory wraps next. A disabled cache passes every call through.
func NewCachedDirectory(next Directory, c *cache.Versioned, logger *slog.Logger) *CachedDirectory {
	return &CachedDirectory{next: next, cache: c, logger: logger}
}

// GetProduct resolves a product, consulting the cache first.
func (d *CachedDirectory) GetProduct(ctx context.Context, id int64) (Product, error) {
	key := fmt.Sprintf("catalog:product:%d", id)
	var p Product
	if found, err := d.cache.Get(ctx, key, &p); err != nil {
		d.logger.Warn("catalog cache read", slog.String("key", key), slog.Any("error", err))
	} else if found {
		return p, nil
	}
	p, err := d.next.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if err := d.cache.Set(ctx, key, p); err != nil {
		d.logger.Warn("catalog cache write", slog.String("key", key), slog.Any("error", err))
	}
	return p, nil
}

// GetStore resolves a store, consulting the cache first.
func (d *CachedDirectory) GetStore(ctx context.Context, id int64) (Store, error) {
	key := fmt.Sprintf("catalog:store:%d", id)
	var s Store
	if found, err := d.cache.Get(ctx, key, &s); err != nil {
		d.logger.Warn("catalog cache read", slog.String("key", key), slog.Any("error", err))
	} else if found {
		return s, nil
	}
	s, err := d.next.GetStore(ctx, id)
	if err != nil {
		return Store{}, err
	}
	if err := d.cache.Set(ctx, key, s); err != nil {
		d.logger.Warn("catalog cache write", slog.String("key", key), slog.Any("error", err))
	}
	return s, nil
}
