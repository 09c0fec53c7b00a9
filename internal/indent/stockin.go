package indent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/storeops/stockledger/internal/inventory"
	"github.com/storeops/stockledger/internal/shared"
)

// Reconcile checks every receipt line against the indent items before anything is written.
// A line may leave some items unreceived; each received product must belong to the indent.
func Reconcile(items []Item, receipt Receipt) ([]ReconciledLine, error) {
	const op = "indent.reconcile"
	if len(receipt.Lines) == 0 {
		return nil, shared.Validation(op, map[string]string{"lines": "at least one receipt line required"})
	}
	byProduct := make(map[int64]Item, len(items))
	for _, item := range items {
		byProduct[item.ProductID] = item
	}
	seen := make(map[int64]struct{}, len(receipt.Lines))
	out := make([]ReconciledLine, 0, len(receipt.Lines))
	for i, line := range receipt.Lines {
		if _, dup := seen[line.ProductID]; dup {
			return nil, shared.Validation(op, map[string]string{
				fmt.Sprintf("lines[%d].product_id", i): fmt.Sprintf("product %d listed twice", line.ProductID),
			})
		}
		seen[line.ProductID] = struct{}{}

		precision := map[string]string{}
		if problem := shared.QuantityProblem(line.ReceivedQuantity); problem != "" {
			precision[fmt.Sprintf("lines[%d].received_quantity", i)] = problem
		}
		if problem := shared.QuantityProblem(line.DamagedQuantity); problem != "" {
			precision[fmt.Sprintf("lines[%d].damaged_quantity", i)] = problem
		}
		if len(precision) > 0 {
			return nil, shared.Validation(op, precision)
		}

		item, ok := byProduct[line.ProductID]
		if !ok {
			return nil, shared.NewError(shared.KindUnknownLineItem, op, "product %d is not part of the indent", line.ProductID)
		}
		if !line.ReceivedQuantity.IsPositive() || line.ReceivedQuantity.GreaterThan(item.RequestedQuantity) {
			return nil, shared.NewError(shared.KindQuantityOutOfBounds, op,
				"received %s of product %d must be within (0, %s]", line.ReceivedQuantity, line.ProductID, item.RequestedQuantity)
		}
		if line.DamagedQuantity.IsNegative() {
			return nil, shared.NewError(shared.KindQuantityOutOfBounds, op,
				"damaged %s of product %d must not be negative", line.DamagedQuantity, line.ProductID)
		}
		if line.DamagedQuantity.GreaterThan(line.ReceivedQuantity) {
			return nil, shared.NewError(shared.KindDamagedExceedsReceived, op,
				"damaged %s exceeds received %s for product %d", line.DamagedQuantity, line.ReceivedQuantity, line.ProductID)
		}
		reason := strings.TrimSpace(line.DamageReason)
		if line.DamagedQuantity.IsPositive() {
			fields := map[string]string{}
			if reason == "" {
				fields[fmt.Sprintf("lines[%d].damage_reason", i)] = "reason required when goods are damaged"
			}
			if len(line.DamageImageRef) > inventory.MaxImageRefLength {
				fields[fmt.Sprintf("lines[%d].damage_image_ref", i)] = fmt.Sprintf("exceeds %d characters", inventory.MaxImageRefLength)
			}
			if len(fields) > 0 {
				return nil, shared.Validation(op, fields)
			}
		}
		out = append(out, ReconciledLine{
			ProductID:      line.ProductID,
			Unit:           item.Unit,
			Requested:      item.RequestedQuantity,
			Received:       line.ReceivedQuantity,
			Damaged:        line.DamagedQuantity,
			Accepted:       line.ReceivedQuantity.Sub(line.DamagedQuantity),
			DamageReason:   reason,
			DamageImageRef: line.DamageImageRef,
		})
	}
	return out, nil
}

// SubmitStockIn applies a receipt to an approved or processing indent in one transaction and marks
// it completed. A completed indent fails with AlreadyProcessed so retries never double-apply.
func (s *Service) SubmitStockIn(ctx context.Context, sc shared.StoreContext, id int64, receipt Receipt) (result StockInResult, err error) {
	const op = "indent.submit_stock_in"
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(shared.KindOf(err))
		}
		s.metrics.StockIn(outcome)
	}()
	if err := sc.Validate(op); err != nil {
		return StockInResult{}, err
	}
	now := s.now().UTC()
	receivedAt := receipt.ReceivedAt.UTC()
	if receipt.ReceivedAt.IsZero() {
		receivedAt = now
	}
	if receivedAt.After(now.Add(inventory.ClockSkew)) {
		return StockInResult{}, shared.Validation(op, map[string]string{"received_at": "must not be in the future"})
	}

	began := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ind, err := s.lockIndent(ctx, op, tx, sc, id)
		if err != nil {
			return err
		}
		switch ind.Status {
		case StatusCompleted:
			return shared.NewError(shared.KindAlreadyProcessed, op, "indent %s already stocked in", ind.Code)
		case StatusApproved:
			if _, err := s.updateStatus(ctx, op, tx, ind.ID, StatusApproved, StatusProcessing, StatusChange{At: now, ActorID: sc.ActorID}); err != nil {
				return err
			}
		case StatusProcessing:
			began = true
		default:
			return invalidTransition(op, ind.Status, StatusCompleted)
		}

		lines, err := Reconcile(ind.Items, receipt)
		if err != nil {
			return err
		}
		stock := tx.Stock()
		keys := make([]inventory.LedgerKey, 0, len(lines))
		for _, line := range lines {
			keys = append(keys, inventory.LedgerKey{StoreID: ind.StoreID, ProductID: line.ProductID})
		}
		if err := s.recorder.LockKeys(ctx, stock, keys); err != nil {
			return err
		}

		ref := fmt.Sprint(ind.ID)
		var moves []inventory.Movement
		var damages []inventory.DamageRecord
		for _, line := range lines {
			if line.Accepted.IsPositive() {
				mv, _, err := s.recorder.Record(ctx, stock, inventory.Movement{
					StoreID:       ind.StoreID,
					ProductID:     line.ProductID,
					Type:          inventory.MovementInward,
					Quantity:      line.Accepted,
					Unit:          line.Unit,
					OccurredAt:    receivedAt,
					ReferenceType: inventory.RefIndent,
					ReferenceID:   ref,
					Remarks:       "Stock-in " + ind.Code,
					CreatedBy:     sc.ActorID,
				})
				if err != nil {
					return err
				}
				moves = append(moves, mv)
			}
			if line.Damaged.IsPositive() {
				rec, mv, err := s.recorder.RecordDamage(ctx, stock, inventory.DamageInput{
					StoreID:       ind.StoreID,
					ProductID:     line.ProductID,
					Quantity:      line.Damaged,
					Unit:          line.Unit,
					Reason:        line.DamageReason,
					ImageRef:      line.DamageImageRef,
					ReferenceType: inventory.RefIndent,
					ReferenceID:   ref,
					OccurredAt:    receivedAt,
					ActorID:       sc.ActorID,
				})
				if err != nil {
					return err
				}
				moves = append(moves, mv)
				damages = append(damages, rec)
			}
		}
		if err := tx.InsertReceiptLines(ctx, ind.ID, lines); err != nil {
			return fmt.Errorf("%s: receipt lines: %w", op, err)
		}
		done, err := s.updateStatus(ctx, op, tx, ind.ID, StatusProcessing, StatusCompleted, StatusChange{At: now, ActorID: sc.ActorID})
		if err != nil {
			return err
		}
		result = StockInResult{Indent: done, Lines: lines, Movements: moves, DamageRecords: damages}
		return nil
	})
	if err != nil {
		if began && compensable(err) {
			s.releaseProcessing(ctx, op, id)
		}
		s.logger.Warn("stock-in rejected", slog.Int64("indent_id", id), slog.String("kind", string(shared.KindOf(err))), slog.Any("error", err))
		return StockInResult{}, err
	}
	if result.DamageRecords == nil {
		result.DamageRecords = []inventory.DamageRecord{}
	}
	s.recorder.Committed(ctx, result.Movements)
	s.recordAudit(ctx, sc, shared.AuditIndentStockedIn, result.Indent, map[string]any{
		"lines":     len(result.Lines),
		"movements": len(result.Movements),
	})
	s.logger.Info("stock-in completed", slog.Int64("indent_id", result.Indent.ID), slog.Int("movements", len(result.Movements)))
	return result, nil
}

func compensable(err error) bool {
	switch shared.KindOf(err) {
	case shared.KindAlreadyProcessed, shared.KindNotFound, shared.KindForbidden:
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// releaseProcessing returns an indent left in processing by an earlier BeginStockIn to approved.
func (s *Service) releaseProcessing(ctx context.Context, op string, id int64) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetIndentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != StatusProcessing {
			return nil
		}
		_, err = s.updateStatus(ctx, op, tx, id, StatusProcessing, StatusApproved, StatusChange{At: s.now().UTC()})
		return err
	})
	if err != nil {
		s.logger.Error("release processing indent", slog.Int64("indent_id", id), slog.Any("error", err))
	}
}
