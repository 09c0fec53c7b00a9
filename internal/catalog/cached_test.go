package catalog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/storeops/stockledger/internal/platform/cache"
)

type countingDirectory struct {
	products map[int64]Product
	stores   map[int64]Store
	calls    int
}

func (d *countingDirectory) GetProduct(ctx context.Context, id int64) (Product, error) {
	d.calls++
	p, ok := d.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (d *countingDirectory) GetStore(ctx context.Context, id int64) (Store, error) {
	d.calls++
	s, ok := d.stores[id]
	if !ok {
		return Store{}, ErrStoreNotFound
	}
	return s, nil
}

func TestCachedDirectoryReadsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	next := &countingDirectory{
		products: map[int64]Product{7: {ID: 7, SKU: "RICE-5KG", Unit: "bag", DivisionID: 1, Active: true}},
		stores:   map[int64]Store{1: {ID: 1, Code: "ST-001", DivisionID: 1}},
	}
	dir := NewCachedDirectory(next, cache.NewVersioned(client, time.Minute), slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := dir.GetProduct(ctx, 7)
		require.NoError(t, err)
		require.Equal(t, "RICE-5KG", p.SKU)
	}
	require.Equal(t, 1, next.calls)

	_, err := dir.GetProduct(ctx, 99)
	require.ErrorIs(t, err, ErrProductNotFound)

	s, err := dir.GetStore(ctx, 1)
	require.NoError(t, err)
	require.True(t, next.products[7].ServesStore(s))
}
