package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storeops/stockledger/internal/platform/db"
	"github.com/storeops/stockledger/internal/shared"
)

// Querier is satisfied by both the pool and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists the ledger in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts db.TxOptions
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, txOpts: db.TxOptions{LockTimeout: lockTimeout}}
}

// WithTx runs fn inside a READ COMMITTED transaction with a lock timeout.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.txOpts, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// NewTxRepository exposes the ledger operations on an existing transaction so other modules can
// record movements atomically with their own writes.
func NewTxRepository(q Querier) TxRepository {
	return &txRepo{q: q}
}

type txRepo struct {
	q Querier
}

const movementColumns = `id, store_id, product_id, movement_type, COALESCE(direction, ''), quantity, unit, occurred_at,
reference_type, reference_id, COALESCE(remarks, ''), created_by, created_at`

const summaryColumns = `store_id, product_id, summary_date, opening_stock, inward_stock, outward_stock, closing_stock,
damaged_stock, updated_at`

const damageColumns = `id, store_id, product_id, quantity, unit, reason, COALESCE(image_ref, ''), reference_type,
reference_id, movement_id, reported_by, created_at`

func (t *txRepo) LockLedgerKey(ctx context.Context, storeID, productID int64) error {
	if _, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, shared.LedgerLockKey(storeID, productID)); err != nil {
		return db.Classify(fmt.Errorf("inventory: lock ledger key: %w", err))
	}
	return nil
}

func (t *txRepo) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	var direction any
	if m.Direction != "" {
		direction = string(m.Direction)
	}
	row := t.q.QueryRow(ctx, `INSERT INTO stock_movements (store_id, product_id, movement_type, direction, quantity, unit,
occurred_at, reference_type, reference_id, remarks, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11)
RETURNING id, created_at`, m.StoreID, m.ProductID, string(m.Type), direction, m.Quantity, m.Unit, m.OccurredAt,
		m.ReferenceType, m.ReferenceID, m.Remarks, m.CreatedBy)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return Movement{}, err
	}
	return m, nil
}

func (t *txRepo) InsertDamageRecord(ctx context.Context, d DamageRecord) (DamageRecord, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO damaged_goods (store_id, product_id, quantity, unit, reason, image_ref,
reference_type, reference_id, movement_id, reported_by)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)
RETURNING id, created_at`, d.StoreID, d.ProductID, d.Quantity, d.Unit, d.Reason, d.ImageRef, d.ReferenceType,
		d.ReferenceID, d.MovementID, d.ReportedBy)
	if err := row.Scan(&d.ID, &d.CreatedAt); err != nil {
		return DamageRecord{}, err
	}
	return d, nil
}

func (t *txRepo) GetSummaryForUpdate(ctx context.Context, storeID, productID int64, day time.Time) (StockSummary, error) {
	row := t.q.QueryRow(ctx, `SELECT `+summaryColumns+` FROM stock_summaries
WHERE store_id = $1 AND product_id = $2 AND summary_date = $3 FOR UPDATE`, storeID, productID, day)
	return scanSummaryRow(row)
}

func (t *txRepo) GetPriorSummary(ctx context.Context, storeID, productID int64, day time.Time) (StockSummary, error) {
	row := t.q.QueryRow(ctx, `SELECT `+summaryColumns+` FROM stock_summaries
WHERE store_id = $1 AND product_id = $2 AND summary_date < $3
ORDER BY summary_date DESC LIMIT 1`, storeID, productID, day)
	return scanSummaryRow(row)
}

func (t *txRepo) ListSummariesAfter(ctx context.Context, storeID, productID int64, day time.Time) ([]StockSummary, error) {
	rows, err := t.q.Query(ctx, `SELECT `+summaryColumns+` FROM stock_summaries
WHERE store_id = $1 AND product_id = $2 AND summary_date > $3
ORDER BY summary_date FOR UPDATE`, storeID, productID, day)
	if err != nil {
		return nil, err
	}
	return collectSummaries(rows)
}

func (t *txRepo) UpsertSummary(ctx context.Context, s StockSummary) error {
	_, err := t.q.Exec(ctx, `INSERT INTO stock_summaries (store_id, product_id, summary_date, opening_stock, inward_stock,
outward_stock, closing_stock, damaged_stock, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
ON CONFLICT (store_id, product_id, summary_date) DO UPDATE SET
opening_stock = EXCLUDED.opening_stock,
inward_stock = EXCLUDED.inward_stock,
outward_stock = EXCLUDED.outward_stock,
closing_stock = EXCLUDED.closing_stock,
damaged_stock = EXCLUDED.damaged_stock,
updated_at = NOW()`, s.StoreID, s.ProductID, s.Date, s.OpeningStock, s.InwardStock, s.OutwardStock, s.ClosingStock,
		s.DamagedStock)
	return err
}

func (t *txRepo) ListMovementsForKey(ctx context.Context, storeID, productID int64) ([]Movement, error) {
	return movementsForKey(ctx, t.q, storeID, productID)
}

func (t *txRepo) DeleteSummaries(ctx context.Context, storeID, productID int64) error {
	_, err := t.q.Exec(ctx, `DELETE FROM stock_summaries WHERE store_id = $1 AND product_id = $2`, storeID, productID)
	return err
}

// ListMovements lists movements matching filter; From and To are instants bounding [From, To).
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter, page shared.PageRequest) ([]Movement, int, error) {
	w := newWhere()
	w.add("store_id = ?", filter.StoreID)
	if filter.ProductID > 0 {
		w.add("product_id = ?", filter.ProductID)
	}
	if filter.Type != "" {
		w.add("movement_type = ?", string(filter.Type))
	}
	if filter.ReferenceType != "" {
		w.add("reference_type = ?", filter.ReferenceType)
	}
	if filter.ReferenceID != "" {
		w.add("reference_id = ?", filter.ReferenceID)
	}
	if !filter.From.IsZero() {
		w.add("occurred_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		w.add("occurred_at < ?", filter.To)
	}
	total, err := r.count(ctx, "stock_movements", w)
	if err != nil {
		return nil, 0, err
	}
	args := append(w.args, page.Limit, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM stock_movements %s ORDER BY occurred_at, id LIMIT $%d OFFSET $%d`,
		movementColumns, w.sql(), len(w.args)+1, len(w.args)+2), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectMovements(rows)
	return items, total, err
}

// ListSummaries lists stored summary rows.
func (r *Repository) ListSummaries(ctx context.Context, filter SummaryFilter, page shared.PageRequest) ([]StockSummary, int, error) {
	w := newWhere()
	w.add("store_id = ?", filter.StoreID)
	if filter.ProductID > 0 {
		w.add("product_id = ?", filter.ProductID)
	}
	w.add("summary_date >= ?", filter.From)
	w.add("summary_date <= ?", filter.To)
	total, err := r.count(ctx, "stock_summaries", w)
	if err != nil {
		return nil, 0, err
	}
	args := append(w.args, page.Limit, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM stock_summaries %s ORDER BY summary_date, product_id LIMIT $%d OFFSET $%d`,
		summaryColumns, w.sql(), len(w.args)+1, len(w.args)+2), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectSummaries(rows)
	return items, total, err
}

// SummariesInRange returns every row of a store (optionally one product) within [from, to].
func (r *Repository) SummariesInRange(ctx context.Context, storeID, productID int64, from, to time.Time) ([]StockSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+summaryColumns+` FROM stock_summaries
WHERE store_id = $1 AND ($2::bigint = 0 OR product_id = $2) AND summary_date BETWEEN $3 AND $4
ORDER BY product_id, summary_date`, storeID, productID, from, to)
	if err != nil {
		return nil, err
	}
	return collectSummaries(rows)
}

// SummariesOn returns the rows of a store on one day.
func (r *Repository) SummariesOn(ctx context.Context, storeID int64, day time.Time) ([]StockSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+summaryColumns+` FROM stock_summaries
WHERE store_id = $1 AND summary_date = $2 ORDER BY product_id`, storeID, day)
	if err != nil {
		return nil, err
	}
	return collectSummaries(rows)
}

// LatestSummariesBefore returns, per product, the latest row strictly before day.
func (r *Repository) LatestSummariesBefore(ctx context.Context, storeID int64, day time.Time) ([]StockSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ON (product_id) `+summaryColumns+` FROM stock_summaries
WHERE store_id = $1 AND summary_date < $2
ORDER BY product_id, summary_date DESC`, storeID, day)
	if err != nil {
		return nil, err
	}
	return collectSummaries(rows)
}

// ListDamageRecords lists damaged goods records created within [From, To).
func (r *Repository) ListDamageRecords(ctx context.Context, filter DamageFilter, page shared.PageRequest) ([]DamageRecord, int, error) {
	w := newWhere()
	w.add("store_id = ?", filter.StoreID)
	if filter.ProductID > 0 {
		w.add("product_id = ?", filter.ProductID)
	}
	if filter.ReferenceType != "" {
		w.add("reference_type = ?", filter.ReferenceType)
	}
	if !filter.From.IsZero() {
		w.add("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		w.add("created_at < ?", filter.To)
	}
	total, err := r.count(ctx, "damaged_goods", w)
	if err != nil {
		return nil, 0, err
	}
	args := append(w.args, page.Limit, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM damaged_goods %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		damageColumns, w.sql(), len(w.args)+1, len(w.args)+2), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []DamageRecord
	for rows.Next() {
		var d DamageRecord
		if err := rows.Scan(&d.ID, &d.StoreID, &d.ProductID, &d.Quantity, &d.Unit, &d.Reason, &d.ImageRef,
			&d.ReferenceType, &d.ReferenceID, &d.MovementID, &d.ReportedBy, &d.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// ListLedgerKeys returns the keys having movements, for one store or all stores when storeID is 0.
func (r *Repository) ListLedgerKeys(ctx context.Context, storeID int64) ([]LedgerKey, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT store_id, product_id FROM stock_movements
WHERE $1::bigint = 0 OR store_id = $1 ORDER BY store_id, product_id`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []LedgerKey
	for rows.Next() {
		var k LedgerKey
		if err := rows.Scan(&k.StoreID, &k.ProductID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// SummariesForKey returns all rows of a key ordered by date.
func (r *Repository) SummariesForKey(ctx context.Context, key LedgerKey) ([]StockSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+summaryColumns+` FROM stock_summaries
WHERE store_id = $1 AND product_id = $2 ORDER BY summary_date`, key.StoreID, key.ProductID)
	if err != nil {
		return nil, err
	}
	return collectSummaries(rows)
}

// MovementsForKey returns all movements of a key in ledger order.
func (r *Repository) MovementsForKey(ctx context.Context, key LedgerKey) ([]Movement, error) {
	return movementsForKey(ctx, r.pool, key.StoreID, key.ProductID)
}

func movementsForKey(ctx context.Context, q Querier, storeID, productID int64) ([]Movement, error) {
	rows, err := q.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE store_id = $1 AND product_id = $2 ORDER BY occurred_at, id`, storeID, productID)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

func (r *Repository) count(ctx context.Context, table string, w *where) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, table, w.sql()), w.args...).Scan(&total)
	return total, err
}

func scanSummaryRow(row pgx.Row) (StockSummary, error) {
	var s StockSummary
	err := row.Scan(&s.StoreID, &s.ProductID, &s.Date, &s.OpeningStock, &s.InwardStock, &s.OutwardStock,
		&s.ClosingStock, &s.DamagedStock, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockSummary{}, ErrSummaryNotFound
	}
	return s, err
}

func collectSummaries(rows pgx.Rows) ([]StockSummary, error) {
	defer rows.Close()
	var out []StockSummary
	for rows.Next() {
		s, err := scanSummaryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var (
			m         Movement
			mtype     string
			direction string
		)
		if err := rows.Scan(&m.ID, &m.StoreID, &m.ProductID, &mtype, &direction, &m.Quantity, &m.Unit, &m.OccurredAt,
			&m.ReferenceType, &m.ReferenceID, &m.Remarks, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = MovementType(mtype)
		m.Direction = Direction(direction)
		out = append(out, m)
	}
	return out, rows.Err()
}

// where accumulates AND-ed predicates written with ? placeholders.
type where struct {
	clauses []string
	args    []any
}

func newWhere() *where {
	return &where{}
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1))
}

func (w *where) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.clauses, " AND ")
}
