package indent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storeops/stockledger/internal/catalog"
	"github.com/storeops/stockledger/internal/inventory"
	"github.com/storeops/stockledger/internal/observability"
	"github.com/storeops/stockledger/internal/shared"
)

// ApprovalModule names indent entries in the approval log.
const ApprovalModule = "indent"

// TxRepository exposes transactional indent operations.
type TxRepository interface {
	CreateIndent(ctx context.Context, ind Indent) (Indent, error)
	GetIndentForUpdate(ctx context.Context, id int64) (Indent, error)
	UpdateStatus(ctx context.Context, id int64, from, to Status, change StatusChange) (Indent, error)
	InsertReceiptLines(ctx context.Context, indentID int64, lines []ReconciledLine) error
	// Stock returns the ledger repository bound to the same transaction.
	Stock() inventory.TxRepository
}

// RepositoryPort abstracts indent persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetIndent(ctx context.Context, id int64) (Indent, error)
	ListIndents(ctx context.Context, filter ListFilter, page shared.PageRequest) ([]Indent, int, error)
	ListStaleProcessing(ctx context.Context, startedBefore time.Time) ([]Indent, error)
	ReceiptLines(ctx context.Context, indentID int64) ([]ReconciledLine, error)
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	History(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config groups optional collaborators of Service.
type Config struct {
	Approvals ApprovalPort
	Audit     AuditPort
	Metrics   *observability.StockMetrics
	Logger    *slog.Logger
}

// Service runs the indent lifecycle and stock-in reconciliation.
type Service struct {
	repo      RepositoryPort
	directory catalog.Directory
	recorder  *inventory.Recorder
	approvals ApprovalPort
	audit     AuditPort
	metrics   *observability.StockMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, directory catalog.Directory, recorder *inventory.Recorder, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		directory: directory,
		recorder:  recorder,
		approvals: cfg.Approvals,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the service clock.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateInput describes a new indent.
type CreateInput struct {
	Items []ItemInput
	Notes string
	// Draft keeps the indent editable until Submit is called.
	Draft bool
}

// ItemInput is one requested product.
type ItemInput struct {
	ProductID          int64
	Quantity           decimal.Decimal
	Unit               string
	UnitPriceAtRequest decimal.NullDecimal
}

// DecisionInput is an approver verdict.
type DecisionInput struct {
	Action Decision
	Notes  string
}

// Create validates and stores a new indent for the caller's store.
func (s *Service) Create(ctx context.Context, sc shared.StoreContext, input CreateInput) (Indent, error) {
	const op = "indent.create"
	if err := sc.Validate(op); err != nil {
		return Indent{}, err
	}
	store, err := s.directory.GetStore(ctx, sc.StoreID)
	if err != nil {
		if errors.Is(err, catalog.ErrStoreNotFound) {
			return Indent{}, shared.NewError(shared.KindNotFound, op, "store %d not found", sc.StoreID)
		}
		return Indent{}, fmt.Errorf("%s: store lookup: %w", op, err)
	}
	items, err := s.resolveItems(ctx, op, store, input.Items)
	if err != nil {
		return Indent{}, err
	}

	now := s.now().UTC()
	ind := Indent{
		Code:      generateCode(now),
		StoreID:   sc.StoreID,
		Status:    StatusPendingApproval,
		Items:     items,
		Notes:     strings.TrimSpace(input.Notes),
		CreatedBy: sc.ActorID,
		CreatedAt: now,
	}
	if input.Draft {
		ind.Status = StatusDraft
	} else {
		ind.SubmittedAt = &now
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ind, err = tx.CreateIndent(ctx, ind)
		return err
	})
	if err != nil {
		return Indent{}, err
	}
	if ind.Status == StatusPendingApproval {
		s.recordApproval(ctx, ind.ID, sc.ActorID, shared.ApprovalSubmit, ind.Notes)
	}
	s.recordAudit(ctx, sc, shared.AuditIndentCreated, ind, map[string]any{"code": ind.Code, "items": len(ind.Items), "status": string(ind.Status)})
	s.logger.Info("indent created", slog.Int64("indent_id", ind.ID), slog.Int64("store_id", ind.StoreID), slog.String("status", string(ind.Status)))
	return ind, nil
}

func (s *Service) resolveItems(ctx context.Context, op string, store catalog.Store, inputs []ItemInput) ([]Item, error) {
	if len(inputs) == 0 {
		return nil, shared.Validation(op, map[string]string{"items": "at least one item required"})
	}
	fields := map[string]string{}
	seen := make(map[int64]struct{}, len(inputs))
	items := make([]Item, 0, len(inputs))
	for i, in := range inputs {
		prefix := fmt.Sprintf("items[%d].", i)
		if in.ProductID <= 0 {
			fields[prefix+"product_id"] = "product required"
			continue
		}
		if _, dup := seen[in.ProductID]; dup {
			fields[prefix+"product_id"] = fmt.Sprintf("product %d listed twice", in.ProductID)
			continue
		}
		seen[in.ProductID] = struct{}{}
		if !in.Quantity.IsPositive() {
			fields[prefix+"quantity"] = "quantity must be positive"
		} else if problem := shared.QuantityProblem(in.Quantity); problem != "" {
			fields[prefix+"quantity"] = problem
		}
		if in.UnitPriceAtRequest.Valid && in.UnitPriceAtRequest.Decimal.IsNegative() {
			fields[prefix+"unit_price_at_request"] = "price must not be negative"
		}
		product, err := s.directory.GetProduct(ctx, in.ProductID)
		if errors.Is(err, catalog.ErrProductNotFound) {
			fields[prefix+"product_id"] = fmt.Sprintf("unknown product %d", in.ProductID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: product lookup: %w", op, err)
		}
		if !product.ServesStore(store) {
			fields[prefix+"product_id"] = fmt.Sprintf("product %d is not available to store %d", in.ProductID, store.ID)
			continue
		}
		if unit := strings.TrimSpace(in.Unit); unit != "" && !strings.EqualFold(unit, product.Unit) {
			fields[prefix+"unit"] = fmt.Sprintf("unit must be %s", product.Unit)
		}
		items = append(items, Item{
			ProductID:          in.ProductID,
			RequestedQuantity:  in.Quantity,
			Unit:               product.Unit,
			UnitPriceAtRequest: in.UnitPriceAtRequest,
		})
	}
	if len(fields) > 0 {
		return nil, shared.Validation(op, fields)
	}
	return items, nil
}

// Submit moves a draft indent to pending approval.
func (s *Service) Submit(ctx context.Context, sc shared.StoreContext, id int64) (Indent, error) {
	const op = "indent.submit"
	ind, err := s.transition(ctx, op, sc, id, StatusPendingApproval, StatusChange{ActorID: sc.ActorID})
	if err != nil {
		return Indent{}, err
	}
	s.recordApproval(ctx, ind.ID, sc.ActorID, shared.ApprovalSubmit, "")
	s.recordAudit(ctx, sc, shared.AuditIndentSubmitted, ind, nil)
	return ind, nil
}

// Decide approves or rejects a pending indent.
func (s *Service) Decide(ctx context.Context, sc shared.StoreContext, id int64, input DecisionInput) (Indent, error) {
	const op = "indent.decide"
	if err := sc.Validate(op); err != nil {
		return Indent{}, err
	}
	if !sc.IsApprover() {
		return Indent{}, shared.NewError(shared.KindForbidden, op, "only approvers may decide indents")
	}
	var (
		target Status
		action shared.ApprovalAction
		audit  shared.AuditAction
	)
	switch input.Action {
	case DecisionApprove:
		target, action, audit = StatusApproved, shared.ApprovalApprove, shared.AuditIndentApproved
	case DecisionReject:
		target, action, audit = StatusRejected, shared.ApprovalReject, shared.AuditIndentRejected
	default:
		return Indent{}, shared.Validation(op, map[string]string{"action": "must be approve or reject"})
	}
	notes := strings.TrimSpace(input.Notes)
	ind, err := s.transition(ctx, op, sc, id, target, StatusChange{ActorID: sc.ActorID, Notes: notes})
	if err != nil {
		return Indent{}, err
	}
	s.recordApproval(ctx, ind.ID, sc.ActorID, action, notes)
	s.recordAudit(ctx, sc, audit, ind, map[string]any{"notes": notes})
	s.logger.Info("indent decided", slog.Int64("indent_id", ind.ID), slog.String("status", string(ind.Status)), slog.Int64("approver_id", sc.ActorID))
	return ind, nil
}

// BeginStockIn moves an approved indent to processing and returns its items.
func (s *Service) BeginStockIn(ctx context.Context, sc shared.StoreContext, id int64) (Indent, error) {
	const op = "indent.begin_stock_in"
	return s.transition(ctx, op, sc, id, StatusProcessing, StatusChange{ActorID: sc.ActorID})
}

// transition locks the indent, checks access and the lifecycle table, then applies a guarded update.
func (s *Service) transition(ctx context.Context, op string, sc shared.StoreContext, id int64, to Status, change StatusChange) (Indent, error) {
	if err := sc.Validate(op); err != nil {
		return Indent{}, err
	}
	var out Indent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ind, err := s.lockIndent(ctx, op, tx, sc, id)
		if err != nil {
			return err
		}
		if !ind.Status.CanTransition(to) {
			return invalidTransition(op, ind.Status, to)
		}
		change.At = s.now().UTC()
		out, err = s.updateStatus(ctx, op, tx, ind.ID, ind.Status, to, change)
		return err
	})
	if err != nil {
		return Indent{}, err
	}
	return out, nil
}

func (s *Service) lockIndent(ctx context.Context, op string, tx TxRepository, sc shared.StoreContext, id int64) (Indent, error) {
	ind, err := tx.GetIndentForUpdate(ctx, id)
	if errors.Is(err, ErrIndentNotFound) {
		return Indent{}, shared.NewError(shared.KindNotFound, op, "indent %d not found", id)
	}
	if err != nil {
		return Indent{}, err
	}
	if !sc.CanAccessStore(ind.StoreID) {
		return Indent{}, shared.NewError(shared.KindNotFound, op, "indent %d not found", id)
	}
	return ind, nil
}

func (s *Service) updateStatus(ctx context.Context, op string, tx TxRepository, id int64, from, to Status, change StatusChange) (Indent, error) {
	ind, err := tx.UpdateStatus(ctx, id, from, to, change)
	if errors.Is(err, ErrStatusChanged) {
		return Indent{}, shared.Conflict(op, err)
	}
	return ind, err
}

func invalidTransition(op string, from, to Status) error {
	if from == StatusCompleted && to == StatusProcessing {
		return shared.NewError(shared.KindAlreadyProcessed, op, "indent already completed")
	}
	return shared.NewError(shared.KindInvalidTransition, op, "cannot move indent from %s to %s", from, to)
}

// Get returns one indent visible to the caller.
func (s *Service) Get(ctx context.Context, sc shared.StoreContext, id int64) (Indent, error) {
	const op = "indent.get"
	if err := sc.Validate(op); err != nil {
		return Indent{}, err
	}
	ind, err := s.repo.GetIndent(ctx, id)
	if errors.Is(err, ErrIndentNotFound) || (err == nil && !sc.CanAccessStore(ind.StoreID)) {
		return Indent{}, shared.NewError(shared.KindNotFound, op, "indent %d not found", id)
	}
	if err != nil {
		return Indent{}, fmt.Errorf("%s: %w", op, err)
	}
	return ind, nil
}

// Approvals returns the approval trail of an indent, oldest first.
func (s *Service) Approvals(ctx context.Context, sc shared.StoreContext, id int64) ([]shared.ApprovalLog, error) {
	const op = "indent.approvals"
	if _, err := s.Get(ctx, sc, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	trail, err := s.approvals.History(ctx, ApprovalModule, shared.ApprovalRef(ApprovalModule, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return trail, nil
}

// Receipt returns the reconciled receipt lines stored by a completed stock-in.
func (s *Service) Receipt(ctx context.Context, sc shared.StoreContext, id int64) ([]ReconciledLine, error) {
	const op = "indent.receipt"
	if _, err := s.Get(ctx, sc, id); err != nil {
		return nil, err
	}
	lines, err := s.repo.ReceiptLines(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if lines == nil {
		lines = []ReconciledLine{}
	}
	return lines, nil
}

// List pages through indents. Store operators only see their own store.
func (s *Service) List(ctx context.Context, sc shared.StoreContext, filter ListFilter) (Page, error) {
	const op = "indent.list"
	if err := sc.Validate(op); err != nil {
		return Page{}, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return Page{}, shared.Validation(op, map[string]string{"status": "unknown status"})
	}
	switch {
	case filter.StoreID == 0 && !sc.IsApprover():
		filter.StoreID = sc.StoreID
	case filter.StoreID != 0 && !sc.CanAccessStore(filter.StoreID):
		return Page{}, shared.NewError(shared.KindNotFound, op, "store %d not found", filter.StoreID)
	}
	page, err := shared.NormalizePage(op, filter.Page, filter.Limit)
	if err != nil {
		return Page{}, err
	}
	items, total, err := s.repo.ListIndents(ctx, filter, page)
	if err != nil {
		return Page{}, fmt.Errorf("%s: %w", op, err)
	}
	if items == nil {
		items = []Indent{}
	}
	return Page{Items: items, Pagination: shared.NewPagination(page.Page, page.Limit, total)}, nil
}

// ReleaseStaleProcessing returns indents stuck in processing longer than olderThan to approved.
func (s *Service) ReleaseStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	const op = "indent.release_stale"
	if olderThan <= 0 {
		return 0, shared.Validation(op, map[string]string{"older_than": "must be positive"})
	}
	cutoff := s.now().UTC().Add(-olderThan)
	stale, err := s.repo.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	released := 0
	for _, ind := range stale {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			cur, err := tx.GetIndentForUpdate(ctx, ind.ID)
			if err != nil {
				return err
			}
			// re-check under the row lock; a stock-in may have completed meanwhile
			if cur.Status != StatusProcessing || cur.ProcessingStartedAt == nil || !cur.ProcessingStartedAt.Before(cutoff) {
				return nil
			}
			if _, err := s.updateStatus(ctx, op, tx, cur.ID, StatusProcessing, StatusApproved, StatusChange{At: s.now().UTC()}); err != nil {
				return err
			}
			released++
			return nil
		})
		if err != nil {
			s.logger.Warn("release stale indent", slog.Int64("indent_id", ind.ID), slog.Any("error", err))
			continue
		}
	}
	return released, nil
}

func (s *Service) recordApproval(ctx context.Context, id, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  ApprovalModule,
		RefID:   shared.ApprovalRef(ApprovalModule, id),
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("approval log", slog.Int64("indent_id", id), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, sc shared.StoreContext, action shared.AuditAction, ind Indent, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  sc.ActorID,
		StoreID:  ind.StoreID,
		Action:   action,
		Entity:   "indent",
		EntityID: fmt.Sprint(ind.ID),
		Meta:     meta,
		At:       s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit log", slog.String("action", string(action)), slog.Any("error", err))
	}
}

func generateCode(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("IND-%s-%s", now.Format("20060102"), suffix)
}
