package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/storeops/stockledger/internal/catalog"
	"github.com/storeops/stockledger/internal/indent"
	"github.com/storeops/stockledger/internal/inventory"
	"github.com/storeops/stockledger/internal/observability"
	"github.com/storeops/stockledger/internal/platform/cache"
	"github.com/storeops/stockledger/internal/platform/db"
	"github.com/storeops/stockledger/internal/shared"
	"github.com/storeops/stockledger/internal/storage/memory"
	"github.com/storeops/stockledger/migrations"
)

// KeyCleaner prunes expired idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Services is the domain layer shared by the API server and the worker.
type Services struct {
	Inventory *inventory.Service
	Queries   *inventory.QueryService
	Indents   *indent.Service
	Keys      KeyCleaner

	// Memory is set when the memory driver is active.
	Memory *memory.Store

	pool  *pgxpool.Pool
	redis *redis.Client
}

// Close releases the connections opened by BuildServices.
func (s *Services) Close(logger *slog.Logger) {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// BuildServices assembles storage, caches and services for the configured driver.
func BuildServices(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*Services, error) {
	out := &Services{}
	if cfg.StorageDriver == DriverPostgres {
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, caching disabled", slog.Any("error", err))
		} else {
			out.redis = client
		}
	}

	stats := cache.NewVersioned(out.redis, cfg.CacheTTL)
	ledger := inventory.NewLedger(inventory.LedgerConfig{
		Location:           cfg.Location(),
		AllowNegativeStock: cfg.AllowNegativeStock,
		Metrics:            metrics.Stock(),
	})
	invalidator := inventory.NewCacheInvalidator(stats, logger)

	var (
		directory catalog.Directory
		invRepo   inventory.RepositoryPort
		indRepo   indent.RepositoryPort
		audit     inventory.AuditPort
		approvals indent.ApprovalPort
		keys      interface {
			inventory.IdempotencyPort
			KeyCleaner
		}
	)

	switch cfg.StorageDriver {
	case DriverMemory:
		store := memory.New()
		out.Memory = store
		directory = store.Catalog
		invRepo = store.Inventory()
		indRepo = store.Indents()
		audit = store.Audit
		approvals = store.Approvals
		keys = store.Idempotency
	case DriverPostgres:
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			out.Close(logger)
			return nil, err
		}
		out.pool = pool
		if cfg.PGAutoMigrate {
			if err := migrations.Apply(ctx, pool, logger); err != nil {
				out.Close(logger)
				return nil, err
			}
		}
		directory = catalog.NewCachedDirectory(catalog.NewRepository(pool), cache.NewVersioned(out.redis, cfg.CatalogCacheTTL), logger)
		invRepo = inventory.NewRepository(pool, cfg.LedgerLockTimeout)
		indRepo = indent.NewRepository(pool, cfg.LedgerLockTimeout)
		audit = shared.NewAuditLogger(pool)
		approvals = shared.NewApprovalRecorder(pool, logger)
		keys = shared.NewIdempotencyStore(pool)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	recorder := inventory.NewRecorder(directory, ledger, metrics.Stock(), logger)
	recorder.Observe(invalidator)

	out.Inventory = inventory.NewService(invRepo, recorder, inventory.ServiceConfig{
		Audit:       audit,
		Idempotency: keys,
		Invalidator: invalidator,
		Logger:      logger,
	})
	out.Queries = inventory.NewQueryService(invRepo, stats, cfg.Location(), logger)
	out.Indents = indent.NewService(indRepo, directory, recorder, indent.Config{
		Approvals: approvals,
		Audit:     audit,
		Metrics:   metrics.Stock(),
		Logger:    logger,
	})
	out.Keys = keys
	return out, nil
}
