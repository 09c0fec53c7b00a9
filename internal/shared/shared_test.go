package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrap: %w", NewError(KindUnknownLineItem, "indent.stock_in", "product %d not on indent", 9))
	require.ErrorIs(t, err, ErrUnknownLineItem)
	require.NotErrorIs(t, err, ErrNotFound)
	require.Equal(t, KindUnknownLineItem, KindOf(err))
	require.Equal(t, "product 9 not on indent", UserSafeMessage(err))
	require.Equal(t, "wrap: indent.stock_in: product 9 not on indent", err.Error())

	plain := errors.New("boom")
	require.Equal(t, KindInternal, KindOf(plain))
	require.Equal(t, "internal error", UserSafeMessage(plain))

	conflict := Conflict("ledger.apply", plain)
	require.True(t, IsRetryable(conflict))
	require.ErrorIs(t, conflict, plain)
	require.False(t, IsRetryable(Validation("x", map[string]string{"a": "b"})))
}

func TestRetryConflict(t *testing.T) {
	calls := 0
	err := RetryConflict(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return Conflict("op", nil)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = RetryConflict(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		return ErrNotFound
	})
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, calls)

	calls = 0
	err = RetryConflict(context.Background(), 2, time.Millisecond, func(context.Context) error {
		calls++
		return Conflict("op", nil)
	})
	require.True(t, IsRetryable(err))
	require.Equal(t, 2, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls = 0
	err = RetryConflict(ctx, 5, time.Hour, func(context.Context) error {
		calls++
		return Conflict("op", nil)
	})
	require.True(t, IsRetryable(err))
	require.Equal(t, 1, calls)
}

func TestNormalizePage(t *testing.T) {
	page, err := NormalizePage("list", 0, 0)
	require.NoError(t, err)
	require.Equal(t, PageRequest{Page: 1, Limit: DefaultPageLimit}, page)
	require.Equal(t, 0, page.Offset())

	page, err = NormalizePage("list", 3, 20)
	require.NoError(t, err)
	require.Equal(t, 40, page.Offset())

	_, err = NormalizePage("list", -1, 201)
	var de *Error
	require.ErrorAs(t, err, &de)
	require.Contains(t, de.Fields, "page")
	require.Contains(t, de.Fields, "limit")

	require.Equal(t, Pagination{Page: 2, PerPage: 20, Total: 41, TotalPages: 3}, NewPagination(2, 20, 41))
}

func TestBusinessDay(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	late := time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), BusinessDay(late, nil))
	require.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), BusinessDay(late, jakarta))

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	require.True(t, DayStart(day, jakarta).Equal(time.Date(2026, 3, 9, 17, 0, 0, 0, time.UTC)))
	require.True(t, DayEnd(day, jakarta).Equal(time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)))
	require.True(t, DayEnd(day, nil).Equal(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)))

	from, err := ParseDate("2026-01-01")
	require.NoError(t, err)
	to, err := ParseDate("2026-12-31")
	require.NoError(t, err)
	require.Equal(t, 364, DaysBetween(from, to))

	_, err = ParseDate("01/02/2026")
	require.Error(t, err)
}

func TestStoreContext(t *testing.T) {
	require.NoError(t, StoreContext{StoreID: 1, ActorID: 2, Role: RoleStore}.Validate("op"))

	err := StoreContext{Role: "admin"}.Validate("op")
	var de *Error
	require.ErrorAs(t, err, &de)
	require.Len(t, de.Fields, 3)

	store := StoreContext{StoreID: 1, ActorID: 2, Role: RoleStore}
	require.True(t, store.CanAccessStore(1))
	require.False(t, store.CanAccessStore(2))
	require.True(t, StoreContext{StoreID: 1, ActorID: 2, Role: RoleApprover}.CanAccessStore(2))

	ctx := ContextWithStore(context.Background(), store)
	got, ok := StoreFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, store, got)
	_, ok = StoreFromContext(context.Background())
	require.False(t, ok)

	require.Equal(t, "stock:ledger:1:7", LedgerLockKey(1, 7))
	require.Equal(t, "stock:stats:4:version", StatsVersionKey(4))
}

func TestQuantityProblem(t *testing.T) {
	cases := []struct {
		value string
		ok    bool
	}{
		{"1", true},
		{"0.125", true},
		{"2.5000", true},
		{"999999999999999.999", true},
		{"0.0001", false},
		{"1.2345", false},
		{"1000000000000000", false},
		{"-1000000000000000", false},
	}
	for _, tc := range cases {
		problem := QuantityProblem(decimal.RequireFromString(tc.value))
		require.Equalf(t, tc.ok, problem == "", "%s: %q", tc.value, problem)
	}
}
