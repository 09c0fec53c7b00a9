package inventory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storeops/stockledger/internal/inventory"
	"github.com/storeops/stockledger/internal/shared"
)

func TestSameDayMovementsAggregateIntoOneRow(t *testing.T) {
	f := newFixture(t)
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("50"), OccurredAt: at(1, 8)})
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("20"), OccurredAt: at(1, 16)})

	rows := f.rows(t, storeA, rice)
	require.Len(t, rows, 1)
	requireQty(t, "0", rows[0].OpeningStock, "opening")
	requireQty(t, "70", rows[0].InwardStock, "inward")
	requireQty(t, "0", rows[0].OutwardStock, "outward")
	requireQty(t, "70", rows[0].ClosingStock, "closing")
}

func TestGapDayOpeningCarriesPreviousClosing(t *testing.T) {
	f := newFixture(t)
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("70"), OccurredAt: at(1, 8)})
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementOutward, Quantity: q("5"), OccurredAt: at(3, 10)})

	rows := f.rows(t, storeA, rice)
	require.Len(t, rows, 2, "no row is created for the quiet day")
	requireQty(t, "70", rows[1].OpeningStock, "day 3 opening")
	requireQty(t, "65", rows[1].ClosingStock, "day 3 closing")

	oc, err := f.queries.OpeningClosing(context.Background(), storeCtx(storeA), 0, date(2))
	require.NoError(t, err)
	require.Len(t, oc.Rows, 1)
	requireQty(t, "70", oc.Rows[0].OpeningStock, "day 2 opening")
	requireQty(t, "70", oc.Rows[0].ClosingStock, "day 2 closing")
}

func TestBackdatedMovementCascadesForward(t *testing.T) {
	f := newFixture(t)
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("10"), OccurredAt: at(1, 8)})
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementOutward, Quantity: q("4"), OccurredAt: at(3, 8)})
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("1"), OccurredAt: at(5, 8)})

	// day 2 did not exist yet
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("6"), OccurredAt: at(2, 8)})

	rows := f.rows(t, storeA, rice)
	require.Len(t, rows, 4)
	requireQty(t, "10", rows[1].OpeningStock, "day 2 opening")
	requireQty(t, "16", rows[1].ClosingStock, "day 2 closing")
	requireQty(t, "16", rows[2].OpeningStock, "day 3 opening")
	requireQty(t, "12", rows[2].ClosingStock, "day 3 closing")
	requireQty(t, "12", rows[3].OpeningStock, "day 5 opening")
	requireQty(t, "13", rows[3].ClosingStock, "day 5 closing")
	require.Empty(t, inventory.Verify(rows))
}

func TestNegativeStockGuard(t *testing.T) {
	f := newFixture(t)
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("5"), OccurredAt: at(1, 8)})

	_, err := f.record(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementOutward, Quantity: q("6"), OccurredAt: at(2, 8)})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, 1, f.store.MovementCount(), "rejected movement is rolled back")

	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementOutward, Quantity: q("5"), OccurredAt: at(3, 8)})
	// a backdated outward that would drive a later day negative is rejected too
	_, err = f.record(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementOutward, Quantity: q("1"), OccurredAt: at(2, 8)})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	allowed := newFixture(t, allowNegative)
	allowed.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementOutward, Quantity: q("2"), OccurredAt: at(1, 8)})
	requireQty(t, "-2", allowed.rows(t, storeA, rice)[0].ClosingStock, "closing")
}

func TestRecordValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name  string
		m     inventory.Movement
		field string
	}{
		{"zero quantity", inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("0")}, "quantity"},
		{"negative quantity", inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("-1")}, "quantity"},
		{"unknown type", inventory.Movement{StoreID: storeA, ProductID: rice, Type: "sale", Quantity: q("1")}, "type"},
		{"adjustment without direction", inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementAdjustment, Quantity: q("1")}, "direction"},
		{"future", inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("1"), OccurredAt: fixedNow.AddDate(0, 0, 1)}, "occurred_at"},
		{"unknown product", inventory.Movement{StoreID: storeA, ProductID: 999, Type: inventory.MovementInward, Quantity: q("1")}, "product_id"},
		{"four decimals", inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("0.0001")}, "quantity"},
		{"sixteen integer digits", inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("1000000000000000")}, "quantity"},
		{"unit mismatch", inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("1"), Unit: "kg"}, "unit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.record(t, tc.m)
			require.ErrorIs(t, err, shared.ErrValidation)
			var de *shared.Error
			require.ErrorAs(t, err, &de)
			require.Contains(t, de.Fields, tc.field)
		})
	}
	require.Zero(t, f.store.MovementCount())

	_, err := f.record(t, inventory.Movement{StoreID: 77, ProductID: rice, Type: inventory.MovementInward, Quantity: q("1")})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecordDefaultsUnitAndTime(t *testing.T) {
	f := newFixture(t)
	saved := f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("1")})
	require.Equal(t, "bag", saved.Unit)
	require.True(t, saved.OccurredAt.Equal(fixedNow))
	require.NotZero(t, saved.ID)

	saved = f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("1.125"), Unit: "BAG"})
	require.Equal(t, "bag", saved.Unit)
}

func TestCommittedNotifiesObservers(t *testing.T) {
	f := newFixture(t)
	var seen []inventory.Movement
	f.recorder.Observe(inventory.ObserverFunc(func(_ context.Context, moves []inventory.Movement) {
		seen = append(seen, moves...)
	}))
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("3")})
	_, err := f.record(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementOutward, Quantity: q("30")})
	require.Error(t, err)
	require.Len(t, seen, 1, "failed movements are never announced")
}
