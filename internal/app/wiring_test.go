package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/storeops/stockledger/internal/observability"
)

func TestBuildServicesMemoryDriver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{StorageDriver: DriverMemory, CacheTTL: time.Minute, LedgerLockTimeout: time.Second}

	services, err := BuildServices(context.Background(), cfg, logger, observability.NewMetrics())
	require.NoError(t, err)
	defer services.Close(logger)

	require.NotNil(t, services.Memory)
	require.NotNil(t, services.Inventory)
	require.NotNil(t, services.Queries)
	require.NotNil(t, services.Indents)

	removed, err := services.Keys.Cleanup(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestBuildServicesUnknownDriver(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := BuildServices(context.Background(), &Config{StorageDriver: "sqlite"}, logger, nil)
	require.ErrorContains(t, err, "unknown storage driver")
}
