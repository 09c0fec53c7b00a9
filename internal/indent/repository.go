package indent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storeops/stockledger/internal/inventory"
	"github.com/storeops/stockledger/internal/platform/db"
	"github.com/storeops/stockledger/internal/shared"
)

// Repository persists indents in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts db.TxOptions
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, txOpts: db.TxOptions{LockTimeout: lockTimeout}}
}

// WithTx runs fn in one transaction shared by indent and ledger writes.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, r.txOpts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{q: tx, stock: inventory.NewTxRepository(tx)})
	})
}

type txRepo struct {
	q     inventory.Querier
	stock inventory.TxRepository
}

func (t *txRepo) Stock() inventory.TxRepository {
	return t.stock
}

const indentColumns = `id, code, store_id, status, COALESCE(notes, ''), COALESCE(decision_notes, ''), created_by, created_at,
submitted_at, approved_at, rejected_at, approver_id, processing_started_at, completed_at`

func (t *txRepo) CreateIndent(ctx context.Context, ind Indent) (Indent, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO indents (code, store_id, status, notes, created_by, created_at, submitted_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $6) RETURNING id`,
		ind.Code, ind.StoreID, string(ind.Status), ind.Notes, ind.CreatedBy, ind.CreatedAt, ind.SubmittedAt).Scan(&ind.ID)
	if err != nil {
		return Indent{}, fmt.Errorf("indent: insert: %w", err)
	}
	for i := range ind.Items {
		item := &ind.Items[i]
		err := t.q.QueryRow(ctx, `INSERT INTO indent_items (indent_id, product_id, requested_quantity, unit, unit_price_at_request)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, ind.ID, item.ProductID, item.RequestedQuantity, item.Unit, item.UnitPriceAtRequest).Scan(&item.ID)
		if err != nil {
			return Indent{}, fmt.Errorf("indent: insert item: %w", err)
		}
	}
	return ind, nil
}

func (t *txRepo) GetIndentForUpdate(ctx context.Context, id int64) (Indent, error) {
	ind, err := scanIndent(t.q.QueryRow(ctx, `SELECT `+indentColumns+` FROM indents WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Indent{}, err
	}
	ind.Items, err = loadItems(ctx, t.q, id)
	return ind, err
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, from, to Status, change StatusChange) (Indent, error) {
	set := ""
	args := []any{id, string(from), string(to), change.At}
	switch {
	case to == StatusPendingApproval:
		set = "submitted_at = $4"
	case to == StatusApproved && from == StatusPendingApproval,
		to == StatusRejected:
		column := "approved_at"
		if to == StatusRejected {
			column = "rejected_at"
		}
		set = column + " = $4, approver_id = $5, decision_notes = NULLIF($6, '')"
		args = append(args, change.ActorID, change.Notes)
	case to == StatusProcessing:
		set = "processing_started_at = $4"
	case to == StatusApproved && from == StatusProcessing:
		set = "processing_started_at = NULL"
	case to == StatusCompleted:
		set = "completed_at = $4"
	default:
		return Indent{}, fmt.Errorf("indent: unsupported transition %s -> %s", from, to)
	}
	sql := fmt.Sprintf(`UPDATE indents SET status = $3, updated_at = $4, %s WHERE id = $1 AND status = $2`, set)
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return Indent{}, fmt.Errorf("indent: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Indent{}, ErrStatusChanged
	}
	return getIndent(ctx, t.q, id)
}

func (t *txRepo) InsertReceiptLines(ctx context.Context, indentID int64, lines []ReconciledLine) error {
	for _, l := range lines {
		_, err := t.q.Exec(ctx, `INSERT INTO indent_receipt_lines (indent_id, product_id, unit, requested_quantity, received_quantity,
damaged_quantity, accepted_quantity, damage_reason, damage_image_ref)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''))`,
			indentID, l.ProductID, l.Unit, l.Requested, l.Received, l.Damaged, l.Accepted, l.DamageReason, l.DamageImageRef)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetIndent loads an indent with its items.
func (r *Repository) GetIndent(ctx context.Context, id int64) (Indent, error) {
	return getIndent(ctx, r.pool, id)
}

// ListIndents pages through indents, newest first.
func (r *Repository) ListIndents(ctx context.Context, filter ListFilter, page shared.PageRequest) ([]Indent, int, error) {
	const where = `WHERE ($1::bigint = 0 OR store_id = $1) AND ($2::text = '' OR status = $2)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM indents `+where, filter.StoreID, string(filter.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+indentColumns+` FROM indents `+where+`
ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`, filter.StoreID, string(filter.Status), page.Limit, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	out, err := collectIndents(rows)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		if out[i].Items, err = loadItems(ctx, r.pool, out[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

// ListStaleProcessing returns processing indents started before the cutoff.
func (r *Repository) ListStaleProcessing(ctx context.Context, startedBefore time.Time) ([]Indent, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+indentColumns+` FROM indents
WHERE status = 'processing' AND processing_started_at < $1 ORDER BY processing_started_at`, startedBefore)
	if err != nil {
		return nil, err
	}
	return collectIndents(rows)
}

// ReceiptLines returns the accepted receipt lines of a completed indent.
func (r *Repository) ReceiptLines(ctx context.Context, indentID int64) ([]ReconciledLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, unit, requested_quantity, received_quantity, damaged_quantity,
accepted_quantity, COALESCE(damage_reason, ''), COALESCE(damage_image_ref, '')
FROM indent_receipt_lines WHERE indent_id = $1 ORDER BY id`, indentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReconciledLine
	for rows.Next() {
		var l ReconciledLine
		if err := rows.Scan(&l.ProductID, &l.Unit, &l.Requested, &l.Received, &l.Damaged, &l.Accepted, &l.DamageReason, &l.DamageImageRef); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func getIndent(ctx context.Context, q inventory.Querier, id int64) (Indent, error) {
	ind, err := scanIndent(q.QueryRow(ctx, `SELECT `+indentColumns+` FROM indents WHERE id = $1`, id))
	if err != nil {
		return Indent{}, err
	}
	ind.Items, err = loadItems(ctx, q, id)
	return ind, err
}

func loadItems(ctx context.Context, q inventory.Querier, indentID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, product_id, requested_quantity, unit, unit_price_at_request
FROM indent_items WHERE indent_id = $1 ORDER BY id`, indentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ProductID, &item.RequestedQuantity, &item.Unit, &item.UnitPriceAtRequest); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanIndent(row pgx.Row) (Indent, error) {
	var (
		ind    Indent
		status string
	)
	err := row.Scan(&ind.ID, &ind.Code, &ind.StoreID, &status, &ind.Notes, &ind.DecisionNotes, &ind.CreatedBy, &ind.CreatedAt,
		&ind.SubmittedAt, &ind.ApprovedAt, &ind.RejectedAt, &ind.ApproverID, &ind.ProcessingStartedAt, &ind.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Indent{}, ErrIndentNotFound
	}
	if err != nil {
		return Indent{}, err
	}
	ind.Status = Status(status)
	return ind, nil
}

func collectIndents(rows pgx.Rows) ([]Indent, error) {
	defer rows.Close()
	var out []Indent
	for rows.Next() {
		ind, err := scanIndent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ind)
	}
	return out, rows.Err()
}
