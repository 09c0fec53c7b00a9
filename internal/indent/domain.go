package indent

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storeops/stockledger/internal/inventory"
	"github.com/storeops/stockledger/internal/shared"
)

// Status is the indent lifecycle state.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusProcessing      Status = "processing"
	StatusCompleted       Status = "completed"
)

var transitions = map[Status][]Status{
	StatusDraft:           {StatusPendingApproval},
	StatusPendingApproval: {StatusApproved, StatusRejected},
	StatusApproved:        {StatusProcessing},
	// back to approved only through stock-in compensation or the stale sweeper
	StatusProcessing: {StatusCompleted, StatusApproved},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusRejected, StatusProcessing, StatusCompleted:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Decision is an approver's verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Indent is a store's request for stock.
type Indent struct {
	ID                  int64      `json:"id"`
	Code                string     `json:"code"`
	StoreID             int64      `json:"store_id"`
	Status              Status     `json:"status"`
	Items               []Item     `json:"items"`
	Notes               string     `json:"notes,omitempty"`
	DecisionNotes       string     `json:"decision_notes,omitempty"`
	CreatedBy           int64      `json:"created_by"`
	CreatedAt           time.Time  `json:"created_at"`
	SubmittedAt         *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt          *time.Time `json:"approved_at,omitempty"`
	RejectedAt          *time.Time `json:"rejected_at,omitempty"`
	ApproverID          *int64     `json:"approver_id,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

// Item is one requested product line.
type Item struct {
	ID                 int64               `json:"id"`
	ProductID          int64               `json:"product_id"`
	RequestedQuantity  decimal.Decimal     `json:"requested_quantity"`
	Unit               string              `json:"unit"`
	UnitPriceAtRequest decimal.NullDecimal `json:"unit_price_at_request"`
}

// Receipt is what actually arrived for an indent.
type Receipt struct {
	ReceivedAt time.Time     `json:"received_at"`
	Lines      []ReceiptLine `json:"lines"`
}

// ReceiptLine is the received and damaged quantity of one product.
type ReceiptLine struct {
	ProductID        int64           `json:"product_id"`
	ReceivedQuantity decimal.Decimal `json:"received_quantity"`
	DamagedQuantity  decimal.Decimal `json:"damaged_quantity"`
	DamageReason     string          `json:"damage_reason,omitempty"`
	DamageImageRef   string          `json:"damage_image_ref,omitempty"`
}

// ReconciledLine is a receipt line checked against its indent item.
type ReconciledLine struct {
	ProductID      int64           `json:"product_id"`
	Unit           string          `json:"unit"`
	Requested      decimal.Decimal `json:"requested"`
	Received       decimal.Decimal `json:"received"`
	Damaged        decimal.Decimal `json:"damaged"`
	Accepted       decimal.Decimal `json:"accepted"`
	DamageReason   string          `json:"damage_reason,omitempty"`
	DamageImageRef string          `json:"damage_image_ref,omitempty"`
}

// StockInResult summarises a completed stock-in.
type StockInResult struct {
	Indent        Indent                   `json:"indent"`
	Lines         []ReconciledLine         `json:"lines"`
	Movements     []inventory.Movement     `json:"movements"`
	DamageRecords []inventory.DamageRecord `json:"damage_records"`
}

// StatusChange carries who and when for a status write.
type StatusChange struct {
	At      time.Time
	ActorID int64
	Notes   string
}

// ListFilter narrows indent listings.
type ListFilter struct {
	StoreID int64
	Status  Status
	Page    int
	Limit   int
}

// Page is a page of indents.
type Page struct {
	Items      []Indent          `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

var (
	// ErrIndentNotFound indicates a missing indent row.
	ErrIndentNotFound = errors.New("indent: not found")
	// ErrStatusChanged indicates the guarded status update matched no row.
	ErrStatusChanged = errors.New("indent: status changed concurrently")
)
