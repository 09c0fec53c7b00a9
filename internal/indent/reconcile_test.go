package indent

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/storeops/stockledger/internal/shared"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestReconcile(t *testing.T) {
	items := []Item{
		{ProductID: 7, RequestedQuantity: dec("100"), Unit: "bag"},
		{ProductID: 8, RequestedQuantity: dec("12.5"), Unit: "pcs"},
	}
	line := func(product int64, received, damaged, reason string) ReceiptLine {
		return ReceiptLine{ProductID: product, ReceivedQuantity: dec(received), DamagedQuantity: dec(damaged), DamageReason: reason}
	}

	cases := []struct {
		name  string
		lines []ReceiptLine
		kind  shared.Kind
	}{
		{name: "empty receipt", kind: shared.KindValidation},
		{name: "unknown product", lines: []ReceiptLine{line(9, "1", "0", "")}, kind: shared.KindUnknownLineItem},
		{name: "duplicate product", lines: []ReceiptLine{line(7, "1", "0", ""), line(7, "2", "0", "")}, kind: shared.KindValidation},
		{name: "over requested", lines: []ReceiptLine{line(7, "120", "0", "")}, kind: shared.KindQuantityOutOfBounds},
		{name: "zero received", lines: []ReceiptLine{line(7, "0", "0", "")}, kind: shared.KindQuantityOutOfBounds},
		{name: "negative damaged", lines: []ReceiptLine{line(7, "5", "-1", "")}, kind: shared.KindQuantityOutOfBounds},
		{name: "damaged above received", lines: []ReceiptLine{line(7, "5", "6", "torn")}, kind: shared.KindDamagedExceedsReceived},
		{name: "damage without reason", lines: []ReceiptLine{line(7, "5", "1", " ")}, kind: shared.KindValidation},
		{name: "received beyond three decimals", lines: []ReceiptLine{line(7, "5.0001", "0", "")}, kind: shared.KindValidation},
		{name: "damaged beyond three decimals", lines: []ReceiptLine{line(7, "5", "0.0005", "wet")}, kind: shared.KindValidation},
		{name: "second line invalid", lines: []ReceiptLine{line(7, "5", "0", ""), line(8, "13", "0", "")}, kind: shared.KindQuantityOutOfBounds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Reconcile(items, Receipt{Lines: tc.lines})
			require.Error(t, err)
			require.Equal(t, tc.kind, shared.KindOf(err))
		})
	}

	t.Run("long image ref", func(t *testing.T) {
		l := line(7, "5", "1", "wet")
		l.DamageImageRef = strings.Repeat("x", 513)
		_, err := Reconcile(items, Receipt{Lines: []ReceiptLine{l}})
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("accepted excludes damage", func(t *testing.T) {
		lines, err := Reconcile(items, Receipt{Lines: []ReceiptLine{line(7, "90", "10", " crushed "), line(8, "12.5", "0", "")}})
		require.NoError(t, err)
		require.Len(t, lines, 2)
		require.True(t, dec("80").Equal(lines[0].Accepted))
		require.Equal(t, "crushed", lines[0].DamageReason)
		require.Equal(t, "bag", lines[0].Unit)
		require.True(t, dec("12.5").Equal(lines[1].Accepted))
	})

	t.Run("fully damaged line", func(t *testing.T) {
		lines, err := Reconcile(items, Receipt{Lines: []ReceiptLine{line(8, "3", "3", "broken")}})
		require.NoError(t, err)
		require.True(t, lines[0].Accepted.IsZero())
	})
}

func TestStatusTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusDraft:           {StatusPendingApproval},
		StatusPendingApproval: {StatusApproved, StatusRejected},
		StatusApproved:        {StatusProcessing},
		StatusProcessing:      {StatusCompleted, StatusApproved},
	}
	all := []Status{StatusDraft, StatusPendingApproval, StatusApproved, StatusRejected, StatusProcessing, StatusCompleted}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			require.Equalf(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusRejected.Terminal())
	require.False(t, StatusProcessing.Terminal())
	require.False(t, Status("pending").Valid())
}

func TestInvalidTransitionKinds(t *testing.T) {
	require.Equal(t, shared.KindAlreadyProcessed, shared.KindOf(invalidTransition("op", StatusCompleted, StatusProcessing)))
	require.Equal(t, shared.KindInvalidTransition, shared.KindOf(invalidTransition("op", StatusRejected, StatusApproved)))
}

func TestGenerateCode(t *testing.T) {
	code := generateCode(time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC))
	require.True(t, strings.HasPrefix(code, "IND-20260310-"), code)
	require.Len(t, code, len("IND-20260310-")+6)
}
