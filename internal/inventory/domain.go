package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementInward adds usable stock.
	MovementInward MovementType = "inward"
	// MovementOutward removes stock.
	MovementOutward MovementType = "outward"
	// MovementDamaged records unusable goods.
	MovementDamaged MovementType = "damaged"
	// MovementAdjustment corrects stock in either direction.
	MovementAdjustment MovementType = "adjustment"
)

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementInward, MovementOutward, MovementDamaged, MovementAdjustment:
		return true
	}
	return false
}

// Direction is the sign of an adjustment; quantities themselves are always positive.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Reference types linking a movement to its cause.
const (
	RefIndent       = "indent"
	RefTransfer     = "transfer"
	RefDamageReport = "damage-report"
	RefAdjustment   = "adjustment"
)

// Movement is an immutable record of one stock change.
type Movement struct {
	ID            int64           `json:"id"`
	StoreID       int64           `json:"store_id"`
	ProductID     int64           `json:"product_id"`
	Type          MovementType    `json:"type"`
	Direction     Direction       `json:"direction,omitempty"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit"`
	OccurredAt    time.Time       `json:"occurred_at"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	Remarks       string          `json:"remarks,omitempty"`
	CreatedBy     int64           `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Effect returns how the movement contributes to its day's summary row. Damaged goods reported
// against an indent never became inventory, so they only feed the informational damaged column.
func (m Movement) Effect() (inward, outward, damaged decimal.Decimal) {
	inward, outward, damaged = decimal.Zero, decimal.Zero, decimal.Zero
	switch m.Type {
	case MovementInward:
		inward = m.Quantity
	case MovementOutward:
		outward = m.Quantity
	case MovementAdjustment:
		if m.Direction == DirectionOut {
			outward = m.Quantity
		} else {
			inward = m.Quantity
		}
	case MovementDamaged:
		damaged = m.Quantity
		if m.ReferenceType != RefIndent {
			outward = m.Quantity
		}
	}
	return inward, outward, damaged
}

// StockSummary is the per (store, product, day) running balance row.
type StockSummary struct {
	StoreID      int64           `json:"store_id"`
	ProductID    int64           `json:"product_id"`
	Date         time.Time       `json:"date"`
	OpeningStock decimal.Decimal `json:"opening_stock"`
	InwardStock  decimal.Decimal `json:"inward_stock"`
	OutwardStock decimal.Decimal `json:"outward_stock"`
	ClosingStock decimal.Decimal `json:"closing_stock"`
	DamagedStock decimal.Decimal `json:"damaged_stock"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Recompute derives the closing balance from the other columns.
func (s *StockSummary) Recompute() {
	s.ClosingStock = s.OpeningStock.Add(s.InwardStock).Sub(s.OutwardStock)
}

// Balanced reports whether closing = opening + inward - outward.
func (s StockSummary) Balanced() bool {
	return s.ClosingStock.Equal(s.OpeningStock.Add(s.InwardStock).Sub(s.OutwardStock))
}

// carried synthesises the row of a day without movements.
func carried(storeID, productID int64, day time.Time, balance decimal.Decimal) StockSummary {
	return StockSummary{
		StoreID:      storeID,
		ProductID:    productID,
		Date:         day,
		OpeningStock: balance,
		InwardStock:  decimal.Zero,
		OutwardStock: decimal.Zero,
		ClosingStock: balance,
		DamagedStock: decimal.Zero,
	}
}

// DamageRecord keeps the audit context of damaged goods. It never affects quantities.
type DamageRecord struct {
	ID            int64           `json:"id"`
	StoreID       int64           `json:"store_id"`
	ProductID     int64           `json:"product_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Unit          string          `json:"unit"`
	Reason        string          `json:"reason"`
	ImageRef      string          `json:"image_ref,omitempty"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   string          `json:"reference_id"`
	MovementID    int64           `json:"movement_id"`
	ReportedBy    int64           `json:"reported_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

// LedgerKey identifies one running balance.
type LedgerKey struct {
	StoreID   int64 `json:"store_id"`
	ProductID int64 `json:"product_id"`
}

// Less orders keys for deadlock-free lock acquisition.
func (k LedgerKey) Less(o LedgerKey) bool {
	if k.StoreID != o.StoreID {
		return k.StoreID < o.StoreID
	}
	return k.ProductID < o.ProductID
}

// MovementFilter narrows the audit trail.
type MovementFilter struct {
	StoreID       int64
	ProductID     int64
	Type          MovementType
	ReferenceType string
	ReferenceID   string
	// From and To are inclusive business dates in the ledger location.
	From  time.Time
	To    time.Time
	Page  int
	Limit int
}

// SummaryFilter narrows stock summary rows.
type SummaryFilter struct {
	StoreID   int64
	ProductID int64
	From      time.Time
	To        time.Time
	Page      int
	Limit     int
	// Dense fills days without a stored row from the prior closing. Requires ProductID.
	Dense bool
}

// DamageFilter narrows damaged goods records.
type DamageFilter struct {
	StoreID       int64
	ProductID     int64
	ReferenceType string
	From          time.Time
	To            time.Time
	Page          int
	Limit         int
}

// Totals aggregates a set of summary rows.
type Totals struct {
	Opening decimal.Decimal `json:"opening"`
	Inward  decimal.Decimal `json:"inward"`
	Outward decimal.Decimal `json:"outward"`
	Closing decimal.Decimal `json:"closing"`
}

// OpeningClosing answers "what was the stock on date X" for a store.
type OpeningClosing struct {
	StoreID int64          `json:"store_id"`
	Date    time.Time      `json:"date"`
	Totals  Totals         `json:"totals"`
	Rows    []StockSummary `json:"rows"`
}

// Stats are range aggregates computed from summary rows.
type Stats struct {
	StoreID      int64           `json:"store_id"`
	From         time.Time       `json:"from"`
	To           time.Time       `json:"to"`
	TotalInward  decimal.Decimal `json:"total_inward"`
	TotalOutward decimal.Decimal `json:"total_outward"`
	TotalClosing decimal.Decimal `json:"total_closing"`
	ProductCount int             `json:"product_count"`
}

// Violation describes a broken ledger invariant.
type Violation struct {
	Key    LedgerKey `json:"key"`
	Date   time.Time `json:"date"`
	Reason string    `json:"reason"`
}

// ErrSummaryNotFound indicates a missing summary row.
var ErrSummaryNotFound = errors.New("inventory: stock summary not found")
