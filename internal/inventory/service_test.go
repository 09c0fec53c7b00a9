package inventory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storeops/stockledger/internal/inventory"
	"github.com/storeops/stockledger/internal/shared"
)

func TestReportDamageWritesOffStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("10"), OccurredAt: at(9, 8)})

	rec, err := f.service.ReportDamage(ctx, storeCtx(storeA), inventory.DamageReportInput{
		ProductID: rice,
		Quantity:  q("3"),
		Reason:    "water damage",
		ImageRef:  "blob://damage/1.jpg",
	})
	require.NoError(t, err)
	require.NotZero(t, rec.ID)
	require.NotZero(t, rec.MovementID)
	require.Equal(t, inventory.RefDamageReport, rec.ReferenceType)

	rows := f.rows(t, storeA, rice)
	require.Len(t, rows, 2)
	requireQty(t, "3", rows[1].OutwardStock, "outward")
	requireQty(t, "3", rows[1].DamagedStock, "damaged column")
	requireQty(t, "7", rows[1].ClosingStock, "closing")

	page, err := f.queries.ListDamagedGoods(ctx, storeCtx(storeA), inventory.DamageFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "water damage", page.Items[0].Reason)
	require.Len(t, f.store.Audit.Entries(), 1)
}

func TestReportDamageRequiresReason(t *testing.T) {
	f := newFixture(t)
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("10")})
	_, err := f.service.ReportDamage(context.Background(), storeCtx(storeA), inventory.DamageReportInput{ProductID: rice, Quantity: q("1"), Reason: "  "})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, 1, f.store.MovementCount())
}

func TestReportDamageRejectsForeignUnit(t *testing.T) {
	f := newFixture(t)
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("10")})
	_, err := f.service.ReportDamage(context.Background(), storeCtx(storeA), inventory.DamageReportInput{ProductID: rice, Quantity: q("1"), Unit: "kg", Reason: "torn"})
	require.ErrorIs(t, err, shared.ErrValidation)
	var de *shared.Error
	require.ErrorAs(t, err, &de)
	require.Contains(t, de.Fields, "unit")
	require.Equal(t, 1, f.store.MovementCount())
}

func TestReportDamageIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("10")})
	input := inventory.DamageReportInput{ProductID: rice, Quantity: q("1"), Reason: "torn bag", IdempotencyKey: "req-1"}

	_, err := f.service.ReportDamage(ctx, storeCtx(storeA), input)
	require.NoError(t, err)
	_, err = f.service.ReportDamage(ctx, storeCtx(storeA), input)
	require.ErrorIs(t, err, shared.ErrAlreadyProcessed)
	require.Equal(t, 2, f.store.MovementCount())

	// a failed request releases its key
	failing := inventory.DamageReportInput{ProductID: rice, Quantity: q("100"), Reason: "flood", IdempotencyKey: "req-2"}
	_, err = f.service.ReportDamage(ctx, storeCtx(storeA), failing)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	failing.Quantity = q("2")
	_, err = f.service.ReportDamage(ctx, storeCtx(storeA), failing)
	require.NoError(t, err)
}

func TestTransferMovesStockBetweenStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: soap, Type: inventory.MovementInward, Quantity: q("12"), OccurredAt: at(10, 8)})

	res, err := f.service.Transfer(ctx, storeCtx(storeA), inventory.TransferInput{ToStoreID: storeB, ProductID: soap, Quantity: q("5"), Remarks: "rebalance"})
	require.NoError(t, err)
	require.Equal(t, res.Reference, res.Out.ReferenceID)
	require.Equal(t, res.Reference, res.In.ReferenceID)
	require.Equal(t, inventory.MovementOutward, res.Out.Type)
	require.Equal(t, inventory.MovementInward, res.In.Type)

	requireQty(t, "7", f.rows(t, storeA, soap)[0].ClosingStock, "source")
	requireQty(t, "5", f.rows(t, storeB, soap)[0].ClosingStock, "destination")

	_, err = f.service.Transfer(ctx, storeCtx(storeA), inventory.TransferInput{ToStoreID: storeA, ProductID: soap, Quantity: q("1")})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.service.Transfer(ctx, storeCtx(storeA), inventory.TransferInput{ToStoreID: storeB, ProductID: soap, Quantity: q("50")})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	requireQty(t, "5", f.rows(t, storeB, soap)[0].ClosingStock, "destination untouched by failed transfer")
}

func TestAdjustRequiresApprover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := inventory.AdjustmentInput{ProductID: rice, Quantity: q("4"), Reason: "stock count"}

	_, err := f.service.Adjust(ctx, storeCtx(storeA), input)
	require.ErrorIs(t, err, shared.ErrForbidden)

	mv, err := f.service.Adjust(ctx, approverCtx(storeA), input)
	require.NoError(t, err)
	require.Equal(t, inventory.DirectionIn, mv.Direction)

	mv, err = f.service.Adjust(ctx, approverCtx(storeA), inventory.AdjustmentInput{ProductID: rice, Quantity: q("-1.5"), Reason: "shrinkage"})
	require.NoError(t, err)
	require.Equal(t, inventory.DirectionOut, mv.Direction)
	requireQty(t, "1.5", mv.Quantity, "stored quantity is positive")
	requireQty(t, "2.5", f.rows(t, storeA, rice)[0].ClosingStock, "closing")

	_, err = f.service.Adjust(ctx, approverCtx(storeA), inventory.AdjustmentInput{ProductID: rice, Quantity: q("0"), Reason: "noop"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRebuildMatchesIncrementalLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("40"), OccurredAt: at(1, 8)})
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementOutward, Quantity: q("15"), OccurredAt: at(4, 8)})
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("2.5"), OccurredAt: at(2, 8)})
	_, err := f.service.ReportDamage(ctx, storeCtx(storeA), inventory.DamageReportInput{ProductID: rice, Quantity: q("1"), Reason: "rats", OccurredAt: at(3, 9)})
	require.NoError(t, err)

	incremental := f.rows(t, storeA, rice)
	n, err := f.service.RebuildLedger(ctx, storeA, rice)
	require.NoError(t, err)
	require.Equal(t, len(incremental), n)

	rebuilt := f.rows(t, storeA, rice)
	require.Len(t, rebuilt, len(incremental))
	for i := range rebuilt {
		require.True(t, rebuilt[i].Date.Equal(incremental[i].Date))
		requireQty(t, incremental[i].OpeningStock.String(), rebuilt[i].OpeningStock, "opening")
		requireQty(t, incremental[i].ClosingStock.String(), rebuilt[i].ClosingStock, "closing")
		requireQty(t, incremental[i].DamagedStock.String(), rebuilt[i].DamagedStock, "damaged")
	}
}

func TestVerifyLedgerFindsTamperedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("9"), OccurredAt: at(1, 8)})
	f.mustRecord(t, inventory.Movement{StoreID: storeB, ProductID: soap, Type: inventory.MovementInward, Quantity: q("3"), OccurredAt: at(1, 8)})

	violations, err := f.service.VerifyLedger(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, violations)

	row := f.rows(t, storeA, rice)[0]
	row.ClosingStock = q("10")
	f.repo.CorruptSummary(row)

	violations, err = f.service.VerifyLedger(ctx, storeA)
	require.NoError(t, err)
	require.NotEmpty(t, violations)
	require.Equal(t, inventory.LedgerKey{StoreID: storeA, ProductID: rice}, violations[0].Key)

	_, err = f.service.RebuildLedger(ctx, storeA, rice)
	require.NoError(t, err)
	violations, err = f.service.VerifyLedger(ctx, storeA)
	require.NoError(t, err)
	require.Empty(t, violations)
}
