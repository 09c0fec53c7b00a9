package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storeops/stockledger/internal/observability"
	"github.com/storeops/stockledger/internal/shared"
)

// TxRepository is the transactional persistence surface of the ledger.
type TxRepository interface {
	LockLedgerKey(ctx context.Context, storeID, productID int64) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	InsertDamageRecord(ctx context.Context, d DamageRecord) (DamageRecord, error)
	GetSummaryForUpdate(ctx context.Context, storeID, productID int64, day time.Time) (StockSummary, error)
	GetPriorSummary(ctx context.Context, storeID, productID int64, day time.Time) (StockSummary, error)
	ListSummariesAfter(ctx context.Context, storeID, productID int64, day time.Time) ([]StockSummary, error)
	UpsertSummary(ctx context.Context, s StockSummary) error
	ListMovementsForKey(ctx context.Context, storeID, productID int64) ([]Movement, error)
	DeleteSummaries(ctx context.Context, storeID, productID int64) error
}

// LedgerConfig tunes the ledger.
type LedgerConfig struct {
	Location           *time.Location
	AllowNegativeStock bool
	Metrics            *observability.StockMetrics
}

// Ledger maintains the per (store, product, day) running balances.
type Ledger struct {
	loc      *time.Location
	allowNeg bool
	metrics  *observability.StockMetrics
}

// NewLedger builds a Ledger; a nil location means UTC business days.
func NewLedger(cfg LedgerConfig) *Ledger {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{loc: loc, allowNeg: cfg.AllowNegativeStock, metrics: cfg.Metrics}
}

// Day maps an instant to its business day.
func (l *Ledger) Day(t time.Time) time.Time {
	return shared.BusinessDay(t, l.loc)
}

// Location returns the business-day location.
func (l *Ledger) Location() *time.Location {
	return l.loc
}

// Apply folds m into its day row and carries the new closing into every later row of the key.
// The caller must hold the ledger key lock inside tx.
func (l *Ledger) Apply(ctx context.Context, tx TxRepository, m Movement) (StockSummary, error) {
	const op = "inventory.ledger.apply"
	day := l.Day(m.OccurredAt)

	row, err := tx.GetSummaryForUpdate(ctx, m.StoreID, m.ProductID, day)
	switch {
	case errors.Is(err, ErrSummaryNotFound):
		opening := decimal.Zero
		prior, err := tx.GetPriorSummary(ctx, m.StoreID, m.ProductID, day)
		if err == nil {
			opening = prior.ClosingStock
		} else if !errors.Is(err, ErrSummaryNotFound) {
			return StockSummary{}, fmt.Errorf("%s: prior summary: %w", op, err)
		}
		row = carried(m.StoreID, m.ProductID, day, opening)
	case err != nil:
		return StockSummary{}, fmt.Errorf("%s: load summary: %w", op, err)
	}

	inward, outward, damaged := m.Effect()
	row.InwardStock = row.InwardStock.Add(inward)
	row.OutwardStock = row.OutwardStock.Add(outward)
	row.DamagedStock = row.DamagedStock.Add(damaged)
	row.Recompute()
	decreases := outward.IsPositive()
	if err := l.guard(op, row, decreases); err != nil {
		return StockSummary{}, err
	}
	if err := tx.UpsertSummary(ctx, row); err != nil {
		return StockSummary{}, fmt.Errorf("%s: upsert summary: %w", op, err)
	}

	later, err := tx.ListSummariesAfter(ctx, m.StoreID, m.ProductID, day)
	if err != nil {
		return StockSummary{}, fmt.Errorf("%s: later summaries: %w", op, err)
	}
	running := row.ClosingStock
	cascaded := 0
	for _, next := range later {
		if next.OpeningStock.Equal(running) {
			// later rows already chain from this balance
			break
		}
		next.OpeningStock = running
		next.Recompute()
		if err := l.guard(op, next, decreases); err != nil {
			return StockSummary{}, err
		}
		if err := tx.UpsertSummary(ctx, next); err != nil {
			return StockSummary{}, fmt.Errorf("%s: cascade %s: %w", op, next.Date.Format(shared.DateLayout), err)
		}
		running = next.ClosingStock
		cascaded++
	}
	l.metrics.CascadeRows(cascaded)
	return row, nil
}

func (l *Ledger) guard(op string, row StockSummary, decreases bool) error {
	if l.allowNeg || !decreases || !row.ClosingStock.IsNegative() {
		return nil
	}
	return &shared.Error{
		Kind:    shared.KindInsufficientStock,
		Op:      op,
		Message: fmt.Sprintf("insufficient stock for product %d on %s", row.ProductID, row.Date.Format(shared.DateLayout)),
		Fields: map[string]string{
			"product_id": fmt.Sprint(row.ProductID),
			"closing":    row.ClosingStock.String(),
		},
	}
}

// Project replays movements of a single key into summary rows, one per day with movements.
func (l *Ledger) Project(moves []Movement) []StockSummary {
	if len(moves) == 0 {
		return nil
	}
	sorted := make([]Movement, len(moves))
	copy(sorted, moves)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].OccurredAt.Equal(sorted[j].OccurredAt) {
			return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var rows []StockSummary
	balance := decimal.Zero
	for _, m := range sorted {
		day := l.Day(m.OccurredAt)
		if len(rows) == 0 || !rows[len(rows)-1].Date.Equal(day) {
			rows = append(rows, carried(m.StoreID, m.ProductID, day, balance))
		}
		row := &rows[len(rows)-1]
		inward, outward, damaged := m.Effect()
		row.InwardStock = row.InwardStock.Add(inward)
		row.OutwardStock = row.OutwardStock.Add(outward)
		row.DamagedStock = row.DamagedStock.Add(damaged)
		row.Recompute()
		balance = row.ClosingStock
	}
	return rows
}

// Rebuild discards the summary rows of a key and replays its movements. The caller holds tx.
func (l *Ledger) Rebuild(ctx context.Context, tx TxRepository, storeID, productID int64) (int, error) {
	const op = "inventory.ledger.rebuild"
	if err := tx.LockLedgerKey(ctx, storeID, productID); err != nil {
		return 0, err
	}
	moves, err := tx.ListMovementsForKey(ctx, storeID, productID)
	if err != nil {
		return 0, fmt.Errorf("%s: movements: %w", op, err)
	}
	if err := tx.DeleteSummaries(ctx, storeID, productID); err != nil {
		return 0, fmt.Errorf("%s: delete summaries: %w", op, err)
	}
	rows := l.Project(moves)
	for _, row := range rows {
		if err := tx.UpsertSummary(ctx, row); err != nil {
			return 0, fmt.Errorf("%s: upsert: %w", op, err)
		}
	}
	return len(rows), nil
}

// Verify checks the balance identity of every row and the chaining between consecutive rows of
// one key. rows must belong to a single key.
func Verify(rows []StockSummary) []Violation {
	sorted := make([]StockSummary, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	var out []Violation
	for i, row := range sorted {
		key := LedgerKey{StoreID: row.StoreID, ProductID: row.ProductID}
		if !row.Balanced() {
			out = append(out, Violation{Key: key, Date: row.Date, Reason: fmt.Sprintf(
				"closing %s != opening %s + inward %s - outward %s",
				row.ClosingStock, row.OpeningStock, row.InwardStock, row.OutwardStock)})
		}
		if i > 0 && !row.OpeningStock.Equal(sorted[i-1].ClosingStock) {
			out = append(out, Violation{Key: key, Date: row.Date, Reason: fmt.Sprintf(
				"opening %s != previous closing %s", row.OpeningStock, sorted[i-1].ClosingStock)})
		}
	}
	if len(sorted) > 0 && !sorted[0].OpeningStock.IsZero() {
		first := sorted[0]
		out = append(out, Violation{Key: LedgerKey{StoreID: first.StoreID, ProductID: first.ProductID}, Date: first.Date,
			Reason: fmt.Sprintf("first opening %s != 0", first.OpeningStock)})
	}
	return out
}

// Diff compares stored rows with the projection of the key's movements.
func Diff(stored, projected []StockSummary) []Violation {
	index := make(map[string]StockSummary, len(stored))
	for _, row := range stored {
		index[row.Date.Format(shared.DateLayout)] = row
	}
	var out []Violation
	for _, want := range projected {
		key := LedgerKey{StoreID: want.StoreID, ProductID: want.ProductID}
		day := want.Date.Format(shared.DateLayout)
		got, ok := index[day]
		if !ok {
			out = append(out, Violation{Key: key, Date: want.Date, Reason: "summary row missing"})
			continue
		}
		delete(index, day)
		if !got.InwardStock.Equal(want.InwardStock) || !got.OutwardStock.Equal(want.OutwardStock) ||
			!got.ClosingStock.Equal(want.ClosingStock) {
			out = append(out, Violation{Key: key, Date: want.Date, Reason: fmt.Sprintf(
				"stored in/out/closing %s/%s/%s, movements give %s/%s/%s",
				got.InwardStock, got.OutwardStock, got.ClosingStock,
				want.InwardStock, want.OutwardStock, want.ClosingStock)})
		}
	}
	for _, extra := range index {
		if extra.InwardStock.IsZero() && extra.OutwardStock.IsZero() && extra.DamagedStock.IsZero() {
			continue
		}
		out = append(out, Violation{Key: LedgerKey{StoreID: extra.StoreID, ProductID: extra.ProductID}, Date: extra.Date,
			Reason: "summary row without movements"})
	}
	return out
}
