package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/storeops/stockledger/internal/platform/cache"
	"github.com/storeops/stockledger/internal/shared"
)

// MaxRangeDays bounds date-range queries.
const MaxRangeDays = 366

// QueryRepository is the read side used by QueryService.
type QueryRepository interface {
	ListMovements(ctx context.Context, filter MovementFilter, page shared.PageRequest) ([]Movement, int, error)
	ListSummaries(ctx context.Context, filter SummaryFilter, page shared.PageRequest) ([]StockSummary, int, error)
	SummariesInRange(ctx context.Context, storeID, productID int64, from, to time.Time) ([]StockSummary, error)
	SummariesOn(ctx context.Context, storeID int64, day time.Time) ([]StockSummary, error)
	LatestSummariesBefore(ctx context.Context, storeID int64, day time.Time) ([]StockSummary, error)
	ListDamageRecords(ctx context.Context, filter DamageFilter, page shared.PageRequest) ([]DamageRecord, int, error)
}

// MovementPage is a page of movements.
type MovementPage struct {
	Items      []Movement        `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// SummaryPage is a page of summary rows.
type SummaryPage struct {
	Items      []StockSummary    `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// DamagePage is a page of damage records.
type DamagePage struct {
	Items      []DamageRecord    `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

// QueryService answers audit and summary questions. It never mutates ledger state.
type QueryService struct {
	repo   QueryRepository
	cache  *cache.Versioned
	group  singleflight.Group
	loc    *time.Location
	logger *slog.Logger
}

// NewQueryService builds the query service; a nil or disabled cache computes every request.
// loc is the ledger's business-day location and bounds date filters on instants.
func NewQueryService(repo QueryRepository, c *cache.Versioned, loc *time.Location, logger *slog.Logger) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &QueryService{repo: repo, cache: c, loc: loc, logger: logger}
}

// ListMovements returns the audit trail ordered by occurredAt then insertion order.
func (q *QueryService) ListMovements(ctx context.Context, sc shared.StoreContext, filter MovementFilter) (MovementPage, error) {
	const op = "inventory.list_movements"
	storeID, err := scopeStore(op, sc, filter.StoreID)
	if err != nil {
		return MovementPage{}, err
	}
	filter.StoreID = storeID
	if filter.Type != "" && !filter.Type.Valid() {
		return MovementPage{}, shared.Validation(op, map[string]string{"type": "unknown movement type"})
	}
	if err := validateOptionalRange(op, filter.From, filter.To); err != nil {
		return MovementPage{}, err
	}
	page, err := shared.NormalizePage(op, filter.Page, filter.Limit)
	if err != nil {
		return MovementPage{}, err
	}
	filter.From, filter.To = q.instantRange(filter.From, filter.To)
	items, total, err := q.repo.ListMovements(ctx, filter, page)
	if err != nil {
		return MovementPage{}, fmt.Errorf("%s: %w", op, err)
	}
	return MovementPage{Items: nonNil(items), Pagination: shared.NewPagination(page.Page, page.Limit, total)}, nil
}

// Summary returns summary rows in a date range. Dense mode fills days without movements.
func (q *QueryService) Summary(ctx context.Context, sc shared.StoreContext, filter SummaryFilter) (SummaryPage, error) {
	const op = "inventory.summary"
	storeID, err := scopeStore(op, sc, filter.StoreID)
	if err != nil {
		return SummaryPage{}, err
	}
	filter.StoreID = storeID
	if err := validateRange(op, filter.From, filter.To); err != nil {
		return SummaryPage{}, err
	}
	page, err := shared.NormalizePage(op, filter.Page, filter.Limit)
	if err != nil {
		return SummaryPage{}, err
	}
	if !filter.Dense {
		items, total, err := q.repo.ListSummaries(ctx, filter, page)
		if err != nil {
			return SummaryPage{}, fmt.Errorf("%s: %w", op, err)
		}
		return SummaryPage{Items: nonNil(items), Pagination: shared.NewPagination(page.Page, page.Limit, total)}, nil
	}
	if filter.ProductID <= 0 {
		return SummaryPage{}, shared.Validation(op, map[string]string{"product_id": "dense summaries need a product"})
	}
	rows, err := q.denseRows(ctx, filter)
	if err != nil {
		return SummaryPage{}, fmt.Errorf("%s: %w", op, err)
	}
	start := page.Offset()
	if start > len(rows) {
		start = len(rows)
	}
	end := start + page.Limit
	if end > len(rows) {
		end = len(rows)
	}
	return SummaryPage{Items: rows[start:end], Pagination: shared.NewPagination(page.Page, page.Limit, len(rows))}, nil
}

func (q *QueryService) denseRows(ctx context.Context, filter SummaryFilter) ([]StockSummary, error) {
	from := shared.BusinessDay(filter.From, time.UTC)
	to := shared.BusinessDay(filter.To, time.UTC)
	stored, err := q.repo.SummariesInRange(ctx, filter.StoreID, filter.ProductID, from, to)
	if err != nil {
		return nil, err
	}
	prior, err := q.repo.LatestSummariesBefore(ctx, filter.StoreID, from)
	if err != nil {
		return nil, err
	}
	byDay := make(map[string]StockSummary, len(stored))
	for _, row := range stored {
		byDay[row.Date.Format(shared.DateLayout)] = row
	}
	var balance *decimal.Decimal
	for _, row := range prior {
		if row.ProductID == filter.ProductID {
			closing := row.ClosingStock
			balance = &closing
		}
	}
	rows := make([]StockSummary, 0, shared.DaysBetween(from, to)+1)
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if row, ok := byDay[day.Format(shared.DateLayout)]; ok {
			rows = append(rows, row)
			closing := row.ClosingStock
			balance = &closing
			continue
		}
		if balance == nil {
			// no history yet
			continue
		}
		rows = append(rows, carried(filter.StoreID, filter.ProductID, day, *balance))
	}
	return rows, nil
}

// OpeningClosing reports the per-product balances of a store on date. Products without a row on
// that date carry their latest prior closing as both opening and closing.
func (q *QueryService) OpeningClosing(ctx context.Context, sc shared.StoreContext, storeID int64, date time.Time) (OpeningClosing, error) {
	const op = "inventory.opening_closing"
	storeID, err := scopeStore(op, sc, storeID)
	if err != nil {
		return OpeningClosing{}, err
	}
	if date.IsZero() {
		return OpeningClosing{}, shared.Validation(op, map[string]string{"date": "date required"})
	}
	day := shared.BusinessDay(date, time.UTC)

	key := ""
	if q.cache.Enabled() {
		key, err = q.cache.BuildKey(ctx, shared.StatsVersionKey(storeID), "stock", "oc", strconv.FormatInt(storeID, 10), day.Format(shared.DateLayout))
		if err != nil {
			q.logger.Warn("opening-closing cache key", slog.Any("error", err))
			key = ""
		}
	}
	var out OpeningClosing
	if key != "" {
		if found, err := q.cache.Get(ctx, key, &out); err == nil && found {
			return out, nil
		}
	}

	var onDay, before []StockSummary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := q.repo.SummariesOn(gctx, storeID, day)
		onDay = rows
		return err
	})
	g.Go(func() error {
		rows, err := q.repo.LatestSummariesBefore(gctx, storeID, day)
		before = rows
		return err
	})
	if err := g.Wait(); err != nil {
		return OpeningClosing{}, fmt.Errorf("%s: %w", op, err)
	}

	byProduct := make(map[int64]StockSummary, len(onDay)+len(before))
	for _, row := range before {
		byProduct[row.ProductID] = carried(storeID, row.ProductID, day, row.ClosingStock)
	}
	for _, row := range onDay {
		byProduct[row.ProductID] = row
	}
	out = OpeningClosing{StoreID: storeID, Date: day, Rows: make([]StockSummary, 0, len(byProduct)), Totals: zeroTotals()}
	for _, row := range byProduct {
		out.Rows = append(out.Rows, row)
		out.Totals.Opening = out.Totals.Opening.Add(row.OpeningStock)
		out.Totals.Inward = out.Totals.Inward.Add(row.InwardStock)
		out.Totals.Outward = out.Totals.Outward.Add(row.OutwardStock)
		out.Totals.Closing = out.Totals.Closing.Add(row.ClosingStock)
	}
	sort.Slice(out.Rows, func(i, j int) bool { return out.Rows[i].ProductID < out.Rows[j].ProductID })

	if key != "" {
		if err := q.cache.Set(ctx, key, out); err != nil {
			q.logger.Warn("opening-closing cache write", slog.Any("error", err))
		}
	}
	return out, nil
}

// Stats aggregates the summary rows of a store inside [from, to]. Total closing sums, per product,
// the closing of its last row inside the range, or of its latest earlier row when it was idle.
func (q *QueryService) Stats(ctx context.Context, sc shared.StoreContext, storeID int64, from, to time.Time) (Stats, error) {
	const op = "inventory.stats"
	storeID, err := scopeStore(op, sc, storeID)
	if err != nil {
		return Stats{}, err
	}
	if err := validateRange(op, from, to); err != nil {
		return Stats{}, err
	}
	from = shared.BusinessDay(from, time.UTC)
	to = shared.BusinessDay(to, time.UTC)
	parts := []string{"stock", "stats", strconv.FormatInt(storeID, 10), from.Format(shared.DateLayout), to.Format(shared.DateLayout)}

	key, err := q.cache.BuildKey(ctx, shared.StatsVersionKey(storeID), parts...)
	if err != nil {
		q.logger.Warn("stats cache key", slog.Any("error", err))
		return q.computeStats(ctx, storeID, from, to)
	}
	v, err, _ := q.group.Do(key, func() (any, error) {
		var stats Stats
		err := q.cache.FetchJSON(ctx, key, &stats, func(ctx context.Context) (any, error) {
			return q.computeStats(ctx, storeID, from, to)
		})
		return stats, err
	})
	if err != nil {
		return Stats{}, err
	}
	return v.(Stats), nil
}

func (q *QueryService) computeStats(ctx context.Context, storeID int64, from, to time.Time) (Stats, error) {
	var rows, prior []StockSummary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = q.repo.SummariesInRange(gctx, storeID, 0, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		prior, err = q.repo.LatestSummariesBefore(gctx, storeID, from)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, fmt.Errorf("inventory.stats: %w", err)
	}
	return AggregateStats(storeID, from, to, prior, rows), nil
}

// AggregateStats folds summary rows into Stats. prior holds each product's latest row before
// from; it only contributes closing stock for products without a row inside the range.
func AggregateStats(storeID int64, from, to time.Time, prior, rows []StockSummary) Stats {
	stats := Stats{
		StoreID:      storeID,
		From:         from,
		To:           to,
		TotalInward:  decimal.Zero,
		TotalOutward: decimal.Zero,
		TotalClosing: decimal.Zero,
	}
	last := map[int64]StockSummary{}
	for _, row := range rows {
		stats.TotalInward = stats.TotalInward.Add(row.InwardStock)
		stats.TotalOutward = stats.TotalOutward.Add(row.OutwardStock)
		if cur, ok := last[row.ProductID]; !ok || row.Date.After(cur.Date) {
			last[row.ProductID] = row
		}
	}
	for _, row := range prior {
		if _, ok := last[row.ProductID]; !ok {
			last[row.ProductID] = row
		}
	}
	for _, row := range last {
		stats.TotalClosing = stats.TotalClosing.Add(row.ClosingStock)
	}
	stats.ProductCount = len(last)
	return stats
}

// ListDamagedGoods returns damage records of a store.
func (q *QueryService) ListDamagedGoods(ctx context.Context, sc shared.StoreContext, filter DamageFilter) (DamagePage, error) {
	const op = "inventory.list_damaged_goods"
	storeID, err := scopeStore(op, sc, filter.StoreID)
	if err != nil {
		return DamagePage{}, err
	}
	filter.StoreID = storeID
	if filter.ReferenceType != "" && filter.ReferenceType != RefIndent && filter.ReferenceType != RefDamageReport {
		return DamagePage{}, shared.Validation(op, map[string]string{"reference_type": "must be indent or damage-report"})
	}
	if err := validateOptionalRange(op, filter.From, filter.To); err != nil {
		return DamagePage{}, err
	}
	page, err := shared.NormalizePage(op, filter.Page, filter.Limit)
	if err != nil {
		return DamagePage{}, err
	}
	filter.From, filter.To = q.instantRange(filter.From, filter.To)
	items, total, err := q.repo.ListDamageRecords(ctx, filter, page)
	if err != nil {
		return DamagePage{}, fmt.Errorf("%s: %w", op, err)
	}
	return DamagePage{Items: nonNil(items), Pagination: shared.NewPagination(page.Page, page.Limit, total)}, nil
}

// scopeStore resolves the store a query targets. Callers without access get NotFound so store ids
// of other tenants are not disclosed.
func scopeStore(op string, sc shared.StoreContext, requested int64) (int64, error) {
	if err := sc.Validate(op); err != nil {
		return 0, err
	}
	if requested == 0 {
		return sc.StoreID, nil
	}
	if !sc.CanAccessStore(requested) {
		return 0, shared.NewError(shared.KindNotFound, op, "store %d not found", requested)
	}
	return requested, nil
}

func validateRange(op string, from, to time.Time) error {
	fields := map[string]string{}
	if from.IsZero() {
		fields["from"] = "from required"
	}
	if to.IsZero() {
		fields["to"] = "to required"
	}
	if len(fields) > 0 {
		return shared.Validation(op, fields)
	}
	return validateOptionalRange(op, from, to)
}

func validateOptionalRange(op string, from, to time.Time) error {
	if from.IsZero() || to.IsZero() {
		return nil
	}
	if from.After(to) {
		return shared.Validation(op, map[string]string{"from": "from must not be after to"})
	}
	if shared.DaysBetween(shared.BusinessDay(from, time.UTC), shared.BusinessDay(to, time.UTC)) >= MaxRangeDays {
		return shared.Validation(op, map[string]string{"to": fmt.Sprintf("range exceeds %d days", MaxRangeDays)})
	}
	return nil
}

// instantRange turns inclusive business dates into the half-open instant range [from, to).
func (q *QueryService) instantRange(from, to time.Time) (time.Time, time.Time) {
	if !from.IsZero() {
		from = shared.DayStart(from, q.loc)
	}
	if !to.IsZero() {
		to = shared.DayEnd(to, q.loc)
	}
	return from, to
}

func zeroTotals() Totals {
	return Totals{Opening: decimal.Zero, Inward: decimal.Zero, Outward: decimal.Zero, Closing: decimal.Zero}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
