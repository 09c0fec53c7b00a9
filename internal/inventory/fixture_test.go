package inventory_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/storeops/stockledger/internal/catalog"
	"github.com/storeops/stockledger/internal/inventory"
	"github.com/storeops/stockledger/internal/platform/cache"
	"github.com/storeops/stockledger/internal/shared"
	"github.com/storeops/stockledger/internal/storage/memory"
)

const (
	storeA   int64 = 1
	storeB   int64 = 2
	rice     int64 = 7
	soap     int64 = 8
	operator int64 = 501
	approver int64 = 900
)

var fixedNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	repo     *memory.InventoryRepository
	recorder *inventory.Recorder
	service  *inventory.Service
	queries  *inventory.QueryService
}

type fixtureOption func(*inventory.LedgerConfig)

func allowNegative(cfg *inventory.LedgerConfig) {
	cfg.AllowNegativeStock = true
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	return newFixtureWithCache(t, cache.NewVersioned(nil, 0), opts...)
}

func newFixtureWithCache(t *testing.T, c *cache.Versioned, opts ...fixtureOption) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	store.Catalog.PutStore(catalog.Store{ID: storeA, Code: "S-A", Name: "Store A", DivisionID: 10, Type: "retail"})
	store.Catalog.PutStore(catalog.Store{ID: storeB, Code: "S-B", Name: "Store B", DivisionID: 10, Type: "retail"})
	store.Catalog.PutProduct(catalog.Product{ID: rice, SKU: "RICE-5", Name: "Rice 5kg", Unit: "bag", DivisionID: 10, Active: true})
	store.Catalog.PutProduct(catalog.Product{ID: soap, SKU: "SOAP", Name: "Soap", Unit: "pcs", DivisionID: 10, Active: true})

	cfg := inventory.LedgerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	recorder := inventory.NewRecorder(store.Catalog, inventory.NewLedger(cfg), nil, logger)
	recorder.SetClock(func() time.Time { return fixedNow })
	invalidator := inventory.NewCacheInvalidator(c, logger)
	recorder.Observe(invalidator)

	repo := store.Inventory()
	return &fixture{
		store:    store,
		repo:     repo,
		recorder: recorder,
		service: inventory.NewService(repo, recorder, inventory.ServiceConfig{
			Audit:       store.Audit,
			Idempotency: store.Idempotency,
			Invalidator: invalidator,
			Logger:      logger,
		}),
		queries: inventory.NewQueryService(repo, c, cfg.Location, logger),
	}
}

func q(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func at(d, hour int) time.Time {
	return time.Date(2026, time.March, d, hour, 0, 0, 0, time.UTC)
}

func date(d int) time.Time {
	return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
}

func storeCtx(storeID int64) shared.StoreContext {
	return shared.StoreContext{StoreID: storeID, ActorID: operator, Role: shared.RoleStore}
}

func approverCtx(storeID int64) shared.StoreContext {
	return shared.StoreContext{StoreID: storeID, ActorID: approver, Role: shared.RoleApprover}
}

// record commits one movement the way the services do.
func (f *fixture) record(t *testing.T, m inventory.Movement) (inventory.Movement, error) {
	t.Helper()
	if m.ReferenceType == "" {
		m.ReferenceType = "test"
		m.ReferenceID = "t"
	}
	if m.CreatedBy == 0 {
		m.CreatedBy = operator
	}
	var saved inventory.Movement
	err := f.repo.WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		var err error
		saved, _, err = f.recorder.Record(ctx, tx, m)
		return err
	})
	if err == nil {
		f.recorder.Committed(context.Background(), []inventory.Movement{saved})
	}
	return saved, err
}

func (f *fixture) mustRecord(t *testing.T, m inventory.Movement) inventory.Movement {
	t.Helper()
	saved, err := f.record(t, m)
	require.NoError(t, err)
	return saved
}

func (f *fixture) rows(t *testing.T, storeID, productID int64) []inventory.StockSummary {
	t.Helper()
	rows, err := f.repo.SummariesForKey(context.Background(), inventory.LedgerKey{StoreID: storeID, ProductID: productID})
	require.NoError(t, err)
	return rows
}

func requireQty(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	require.Truef(t, q(want).Equal(got), "%s: want %s got %s", msg, want, got)
}
