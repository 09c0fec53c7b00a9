package inventory

import (
	"context"
	"log/slog"

	"github.com/storeops/stockledger/internal/platform/cache"
	"github.com/storeops/stockledger/internal/shared"
)

// CacheInvalidator bumps the per-store projection version after movements commit, which retires
// every cached stats and opening-closing entry of that store.
type CacheInvalidator struct {
	cache  *cache.Versioned
	logger *slog.Logger
}

// NewCacheInvalidator builds the invalidator.
func NewCacheInvalidator(c *cache.Versioned, logger *slog.Logger) *CacheInvalidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheInvalidator{cache: c, logger: logger}
}

// MovementsCommitted implements MovementObserver.
func (i *CacheInvalidator) MovementsCommitted(ctx context.Context, moves []Movement) {
	seen := map[int64]struct{}{}
	for _, m := range moves {
		if _, ok := seen[m.StoreID]; ok {
			continue
		}
		seen[m.StoreID] = struct{}{}
		i.InvalidateStore(ctx, m.StoreID)
	}
}

// InvalidateStore implements StoreInvalidator.
func (i *CacheInvalidator) InvalidateStore(ctx context.Context, storeID int64) {
	if !i.cache.Enabled() {
		return
	}
	if err := i.cache.Bump(ctx, shared.StatsVersionKey(storeID)); err != nil {
		i.logger.Warn("stats cache invalidation", slog.Int64("store_id", storeID), slog.Any("error", err))
	}
}
