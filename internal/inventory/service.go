package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storeops/stockledger/internal/shared"
)

// RepositoryPort abstracts the persistence used by Service and QueryService.
type RepositoryPort interface {
	QueryRepository
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListLedgerKeys(ctx context.Context, storeID int64) ([]LedgerKey, error)
	SummariesForKey(ctx context.Context, key LedgerKey) ([]StockSummary, error)
	MovementsForKey(ctx context.Context, key LedgerKey) ([]Movement, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards replayable requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// StoreInvalidator drops cached projections of a store after its rows were rewritten.
type StoreInvalidator interface {
	InvalidateStore(ctx context.Context, storeID int64)
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Audit       AuditPort
	Idempotency IdempotencyPort
	Invalidator StoreInvalidator
	Logger      *slog.Logger
}

// Service coordinates the standalone stock flows and ledger maintenance.
type Service struct {
	repo        RepositoryPort
	recorder    *Recorder
	audit       AuditPort
	idempotency IdempotencyPort
	invalidator StoreInvalidator
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, recorder *Recorder, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		recorder:    recorder,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		invalidator: cfg.Invalidator,
		logger:      logger,
	}
}

// DamageReportInput is a standalone damaged goods report against existing stock.
type DamageReportInput struct {
	ProductID      int64
	Quantity       decimal.Decimal
	Unit           string
	Reason         string
	ImageRef       string
	OccurredAt     time.Time
	IdempotencyKey string
}

// TransferInput moves stock from the caller's store to another store.
type TransferInput struct {
	ToStoreID  int64
	ProductID  int64
	Quantity   decimal.Decimal
	Remarks    string
	OccurredAt time.Time
}

// TransferResult pairs both legs of a transfer.
type TransferResult struct {
	Reference string   `json:"reference"`
	Out       Movement `json:"out"`
	In        Movement `json:"in"`
}

// AdjustmentInput corrects stock; a negative quantity removes stock.
type AdjustmentInput struct {
	StoreID    int64
	ProductID  int64
	Quantity   decimal.Decimal
	Reason     string
	OccurredAt time.Time
}

const damageIdempotencyModule = "inventory.damage"

// ReportDamage writes off damaged goods held by the caller's store.
func (s *Service) ReportDamage(ctx context.Context, sc shared.StoreContext, input DamageReportInput) (DamageRecord, error) {
	const op = "inventory.report_damage"
	if err := sc.Validate(op); err != nil {
		return DamageRecord{}, err
	}
	idemKey := ""
	if input.IdempotencyKey != "" && s.idempotency != nil {
		idemKey = fmt.Sprintf("%d:%s", sc.StoreID, input.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, damageIdempotencyModule); err != nil {
			return DamageRecord{}, err
		}
	}

	var (
		rec DamageRecord
		mv  Movement
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rec, mv, err = s.recorder.RecordDamage(ctx, tx, DamageInput{
			StoreID:       sc.StoreID,
			ProductID:     input.ProductID,
			Quantity:      input.Quantity,
			Unit:          input.Unit,
			Reason:        input.Reason,
			ImageRef:      input.ImageRef,
			ReferenceType: RefDamageReport,
			ReferenceID:   uuid.NewString(),
			OccurredAt:    input.OccurredAt,
			ActorID:       sc.ActorID,
		})
		return err
	})
	if err != nil {
		if idemKey != "" {
			if delErr := s.idempotency.Delete(ctx, idemKey, damageIdempotencyModule); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", idemKey), slog.Any("error", delErr))
			}
		}
		return DamageRecord{}, err
	}
	s.recorder.Committed(ctx, []Movement{mv})
	s.record(ctx, sc, shared.AuditDamageReported, "damaged_goods", fmt.Sprint(rec.ID), map[string]any{
		"product_id": rec.ProductID,
		"quantity":   rec.Quantity.String(),
		"reason":     rec.Reason,
	})
	return rec, nil
}

// Transfer posts an outward movement at the source and an inward one at the destination.
func (s *Service) Transfer(ctx context.Context, sc shared.StoreContext, input TransferInput) (TransferResult, error) {
	const op = "inventory.transfer"
	if err := sc.Validate(op); err != nil {
		return TransferResult{}, err
	}
	if input.ToStoreID <= 0 || input.ToStoreID == sc.StoreID {
		return TransferResult{}, shared.Validation(op, map[string]string{"to_store_id": "destination must be another store"})
	}
	result := TransferResult{Reference: uuid.NewString()}
	keys := []LedgerKey{
		{StoreID: sc.StoreID, ProductID: input.ProductID},
		{StoreID: input.ToStoreID, ProductID: input.ProductID},
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.recorder.LockKeys(ctx, tx, keys); err != nil {
			return err
		}
		out, _, err := s.recorder.Record(ctx, tx, Movement{
			StoreID:       sc.StoreID,
			ProductID:     input.ProductID,
			Type:          MovementOutward,
			Quantity:      input.Quantity,
			OccurredAt:    input.OccurredAt,
			ReferenceType: RefTransfer,
			ReferenceID:   result.Reference,
			Remarks:       transferRemark("to", input.ToStoreID, input.Remarks),
			CreatedBy:     sc.ActorID,
		})
		if err != nil {
			return err
		}
		in, _, err := s.recorder.Record(ctx, tx, Movement{
			StoreID:       input.ToStoreID,
			ProductID:     input.ProductID,
			Type:          MovementInward,
			Quantity:      input.Quantity,
			Unit:          out.Unit,
			OccurredAt:    out.OccurredAt,
			ReferenceType: RefTransfer,
			ReferenceID:   result.Reference,
			Remarks:       transferRemark("from", sc.StoreID, input.Remarks),
			CreatedBy:     sc.ActorID,
		})
		if err != nil {
			return err
		}
		result.Out, result.In = out, in
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.recorder.Committed(ctx, []Movement{result.Out, result.In})
	s.record(ctx, sc, shared.AuditTransferPosted, "transfer", result.Reference, map[string]any{
		"product_id":  input.ProductID,
		"to_store_id": input.ToStoreID,
		"quantity":    input.Quantity.String(),
	})
	return result, nil
}

func transferRemark(dir string, storeID int64, note string) string {
	remark := fmt.Sprintf("Transfer %s store %d", dir, storeID)
	if note = strings.TrimSpace(note); note != "" {
		remark += ": " + note
	}
	return remark
}

// Adjust posts a stock correction. Only approvers may adjust.
func (s *Service) Adjust(ctx context.Context, sc shared.StoreContext, input AdjustmentInput) (Movement, error) {
	const op = "inventory.adjust"
	if err := sc.Validate(op); err != nil {
		return Movement{}, err
	}
	if !sc.IsApprover() {
		return Movement{}, shared.NewError(shared.KindForbidden, op, "adjustments require the approver role")
	}
	storeID := input.StoreID
	if storeID == 0 {
		storeID = sc.StoreID
	}
	fields := map[string]string{}
	if input.Quantity.IsZero() {
		fields["quantity"] = "quantity must not be zero"
	}
	if strings.TrimSpace(input.Reason) == "" {
		fields["reason"] = "reason required"
	}
	if len(fields) > 0 {
		return Movement{}, shared.Validation(op, fields)
	}
	direction := DirectionIn
	if input.Quantity.IsNegative() {
		direction = DirectionOut
	}

	var mv Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		mv, _, err = s.recorder.Record(ctx, tx, Movement{
			StoreID:       storeID,
			ProductID:     input.ProductID,
			Type:          MovementAdjustment,
			Direction:     direction,
			Quantity:      input.Quantity.Abs(),
			OccurredAt:    input.OccurredAt,
			ReferenceType: RefAdjustment,
			ReferenceID:   uuid.NewString(),
			Remarks:       strings.TrimSpace(input.Reason),
			CreatedBy:     sc.ActorID,
		})
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.recorder.Committed(ctx, []Movement{mv})
	s.record(ctx, sc, shared.AuditAdjustmentPosted, "stock_movement", fmt.Sprint(mv.ID), map[string]any{
		"store_id":   storeID,
		"product_id": mv.ProductID,
		"direction":  string(mv.Direction),
		"quantity":   mv.Quantity.String(),
	})
	return mv, nil
}

// RebuildLedger replays the movements of one key into fresh summary rows.
func (s *Service) RebuildLedger(ctx context.Context, storeID, productID int64) (int, error) {
	const op = "inventory.rebuild_ledger"
	if storeID <= 0 || productID <= 0 {
		return 0, shared.Validation(op, map[string]string{"key": "store and product required"})
	}
	var rows int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rows, err = s.recorder.Ledger().Rebuild(ctx, tx, storeID, productID)
		return err
	})
	if err != nil {
		return 0, err
	}
	if s.invalidator != nil {
		s.invalidator.InvalidateStore(ctx, storeID)
	}
	s.record(ctx, shared.StoreContext{StoreID: storeID}, shared.AuditLedgerRebuilt, "stock_ledger", fmt.Sprintf("%d:%d", storeID, productID), map[string]any{"rows": rows})
	s.logger.Info("ledger rebuilt", slog.Int64("store_id", storeID), slog.Int64("product_id", productID), slog.Int("rows", rows))
	return rows, nil
}

// VerifyLedger checks every key of a store (all stores when storeID is zero) against its movements.
func (s *Service) VerifyLedger(ctx context.Context, storeID int64) ([]Violation, error) {
	keys, err := s.repo.ListLedgerKeys(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("inventory.verify_ledger: keys: %w", err)
	}
	var out []Violation
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rows, err := s.repo.SummariesForKey(ctx, key)
		if err != nil {
			return out, fmt.Errorf("inventory.verify_ledger: summaries: %w", err)
		}
		moves, err := s.repo.MovementsForKey(ctx, key)
		if err != nil {
			return out, fmt.Errorf("inventory.verify_ledger: movements: %w", err)
		}
		out = append(out, Verify(rows)...)
		out = append(out, Diff(rows, s.recorder.Ledger().Project(moves))...)
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, sc shared.StoreContext, action shared.AuditAction, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  sc.ActorID,
		StoreID:  sc.StoreID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       time.Now().UTC(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit log", slog.String("action", string(action)), slog.Any("error", err))
	}
}
