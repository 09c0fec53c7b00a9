package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storeops/stockledger/internal/catalog"
	"github.com/storeops/stockledger/internal/observability"
	"github.com/storeops/stockledger/internal/shared"
)

const (
	// ClockSkew is how far in the future an occurredAt may lie before it is rejected.
	ClockSkew = 5 * time.Minute
	// MaxImageRefLength bounds opaque image references.
	MaxImageRefLength = 512
)

// MovementObserver is notified after movements have been committed.
type MovementObserver interface {
	MovementsCommitted(ctx context.Context, moves []Movement)
}

// ObserverFunc adapts a function to MovementObserver.
type ObserverFunc func(ctx context.Context, moves []Movement)

// MovementsCommitted implements MovementObserver.
func (f ObserverFunc) MovementsCommitted(ctx context.Context, moves []Movement) {
	f(ctx, moves)
}

// DamageInput describes damaged goods to record.
type DamageInput struct {
	StoreID       int64
	ProductID     int64
	Quantity      decimal.Decimal
	Unit          string
	Reason        string
	ImageRef      string
	ReferenceType string
	ReferenceID   string
	OccurredAt    time.Time
	ActorID       int64
}

// Recorder validates movements and applies them to the ledger inside the caller's transaction.
type Recorder struct {
	directory catalog.Directory
	ledger    *Ledger
	observers []MovementObserver
	metrics   *observability.StockMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewRecorder builds a Recorder.
func NewRecorder(directory catalog.Directory, ledger *Ledger, metrics *observability.StockMetrics, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{directory: directory, ledger: ledger, metrics: metrics, logger: logger, now: time.Now}
}

// Observe registers a post-commit observer.
func (r *Recorder) Observe(o MovementObserver) {
	r.observers = append(r.observers, o)
}

// SetClock overrides the clock used for future-date checks.
func (r *Recorder) SetClock(now func() time.Time) {
	r.now = now
}

// Now returns the recorder clock in UTC.
func (r *Recorder) Now() time.Time {
	return r.now().UTC()
}

// Ledger exposes the underlying ledger.
func (r *Recorder) Ledger() *Ledger {
	return r.ledger
}

// LockKeys acquires the ledger locks of keys in ascending order.
func (r *Recorder) LockKeys(ctx context.Context, tx TxRepository, keys []LedgerKey) error {
	sorted := make([]LedgerKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	for i, key := range sorted {
		if i > 0 && key == sorted[i-1] {
			continue
		}
		if err := tx.LockLedgerKey(ctx, key.StoreID, key.ProductID); err != nil {
			return err
		}
	}
	return nil
}

// Record validates m, appends it to the movement log and applies it to the ledger.
func (r *Recorder) Record(ctx context.Context, tx TxRepository, m Movement) (Movement, StockSummary, error) {
	const op = "inventory.record"
	m, err := r.prepare(ctx, op, m)
	if err != nil {
		return Movement{}, StockSummary{}, err
	}
	if err := tx.LockLedgerKey(ctx, m.StoreID, m.ProductID); err != nil {
		return Movement{}, StockSummary{}, err
	}
	saved, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, StockSummary{}, fmt.Errorf("%s: insert movement: %w", op, err)
	}
	row, err := r.ledger.Apply(ctx, tx, saved)
	if err != nil {
		return Movement{}, StockSummary{}, err
	}
	return saved, row, nil
}

// RecordDamage records a damaged movement together with its evidence record.
func (r *Recorder) RecordDamage(ctx context.Context, tx TxRepository, in DamageInput) (DamageRecord, Movement, error) {
	const op = "inventory.record_damage"
	fields := map[string]string{}
	in.Reason = strings.TrimSpace(in.Reason)
	if in.Reason == "" {
		fields["reason"] = "damage reason required"
	}
	if len(in.ImageRef) > MaxImageRefLength {
		fields["image_ref"] = fmt.Sprintf("image reference exceeds %d characters", MaxImageRefLength)
	}
	if in.ReferenceType != RefIndent && in.ReferenceType != RefDamageReport {
		fields["reference_type"] = "must be indent or damage-report"
	}
	if len(fields) > 0 {
		return DamageRecord{}, Movement{}, shared.Validation(op, fields)
	}
	mv, _, err := r.Record(ctx, tx, Movement{
		StoreID:       in.StoreID,
		ProductID:     in.ProductID,
		Type:          MovementDamaged,
		Quantity:      in.Quantity,
		Unit:          in.Unit,
		OccurredAt:    in.OccurredAt,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		Remarks:       in.Reason,
		CreatedBy:     in.ActorID,
	})
	if err != nil {
		return DamageRecord{}, Movement{}, err
	}
	rec, err := tx.InsertDamageRecord(ctx, DamageRecord{
		StoreID:       mv.StoreID,
		ProductID:     mv.ProductID,
		Quantity:      mv.Quantity,
		Unit:          mv.Unit,
		Reason:        in.Reason,
		ImageRef:      in.ImageRef,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		MovementID:    mv.ID,
		ReportedBy:    in.ActorID,
	})
	if err != nil {
		return DamageRecord{}, Movement{}, fmt.Errorf("%s: insert damage record: %w", op, err)
	}
	return rec, mv, nil
}

// Committed notifies observers and metrics. Call it only after the transaction committed.
func (r *Recorder) Committed(ctx context.Context, moves []Movement) {
	if len(moves) == 0 {
		return
	}
	for _, m := range moves {
		r.metrics.MovementRecorded(string(m.Type))
	}
	for _, o := range r.observers {
		o.MovementsCommitted(ctx, moves)
	}
}

func (r *Recorder) prepare(ctx context.Context, op string, m Movement) (Movement, error) {
	fields := map[string]string{}
	if m.StoreID <= 0 {
		fields["store_id"] = "store required"
	}
	if m.ProductID <= 0 {
		fields["product_id"] = "product required"
	}
	if !m.Type.Valid() {
		fields["type"] = fmt.Sprintf("unknown movement type %q", m.Type)
	}
	if !m.Quantity.IsPositive() {
		fields["quantity"] = "quantity must be positive"
	} else if problem := shared.QuantityProblem(m.Quantity); problem != "" {
		fields["quantity"] = problem
	}
	switch m.Type {
	case MovementAdjustment:
		if m.Direction != DirectionIn && m.Direction != DirectionOut {
			fields["direction"] = "adjustment direction must be in or out"
		}
	default:
		m.Direction = ""
	}
	if strings.TrimSpace(m.ReferenceType) == "" {
		fields["reference_type"] = "reference type required"
	}
	now := r.Now()
	if m.OccurredAt.IsZero() {
		m.OccurredAt = now
	}
	if m.OccurredAt.After(now.Add(ClockSkew)) {
		fields["occurred_at"] = "must not be in the future"
	}
	if len(fields) > 0 {
		return Movement{}, shared.Validation(op, fields)
	}

	if _, err := r.directory.GetStore(ctx, m.StoreID); err != nil {
		if errors.Is(err, catalog.ErrStoreNotFound) {
			return Movement{}, shared.NewError(shared.KindNotFound, op, "store %d not found", m.StoreID)
		}
		return Movement{}, fmt.Errorf("%s: store lookup: %w", op, err)
	}
	product, err := r.directory.GetProduct(ctx, m.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return Movement{}, shared.Validation(op, map[string]string{"product_id": fmt.Sprintf("unknown product %d", m.ProductID)})
		}
		return Movement{}, fmt.Errorf("%s: product lookup: %w", op, err)
	}
	if unit := strings.TrimSpace(m.Unit); unit != "" && !strings.EqualFold(unit, product.Unit) {
		return Movement{}, shared.Validation(op, map[string]string{"unit": fmt.Sprintf("unit must be %s", product.Unit)})
	}
	m.Unit = product.Unit
	m.OccurredAt = m.OccurredAt.UTC()
	return m, nil
}
