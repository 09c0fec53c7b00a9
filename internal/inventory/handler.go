package inventory

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/storeops/stockledger/internal/platform/httpx"
	"github.com/storeops/stockledger/internal/shared"
)

const (
	retryAttempts = 3
	retryBackoff  = 50 * time.Millisecond
)

// RebuildEnqueuer schedules asynchronous ledger rebuilds.
type RebuildEnqueuer interface {
	EnqueueLedgerRebuild(ctx context.Context, storeID, productID int64) (string, error)
}

// Handler wires the inventory HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	queries  *QueryService
	jobs     RebuildEnqueuer
	validate *httpx.Validator
}

// NewHandler constructs the inventory handler. jobs may be nil when no worker queue is configured.
func NewHandler(logger *slog.Logger, service *Service, queries *QueryService, jobs RebuildEnqueuer) *Handler {
	return &Handler{logger: logger, service: service, queries: queries, jobs: jobs, validate: httpx.NewValidator()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/damaged-goods", h.handleReportDamage)
	r.Get("/damaged-goods", h.handleListDamage)
	r.Post("/transfers", h.handleTransfer)
	r.Post("/adjustments", h.handleAdjust)
	r.Get("/summary", h.handleSummary)
	r.Get("/movements", h.handleMovements)
	r.Get("/opening-closing", h.handleOpeningClosing)
	r.Get("/stats", h.handleStats)
	r.Post("/ledger/rebuild", h.handleRebuild)
}

type damageRequest struct {
	ProductID  int64           `json:"product_id" validate:"required,gt=0"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       string          `json:"unit" validate:"omitempty,max=16"`
	Reason     string          `json:"reason" validate:"required,max=500"`
	ImageRef   string          `json:"image_ref" validate:"omitempty,max=512"`
	OccurredAt *time.Time      `json:"occurred_at"`
}

type transferRequest struct {
	ToStoreID  int64           `json:"to_store_id" validate:"required,gt=0"`
	ProductID  int64           `json:"product_id" validate:"required,gt=0"`
	Quantity   decimal.Decimal `json:"quantity"`
	Remarks    string          `json:"remarks" validate:"max=500"`
	OccurredAt *time.Time      `json:"occurred_at"`
}

type adjustmentRequest struct {
	StoreID    int64           `json:"store_id" validate:"gte=0"`
	ProductID  int64           `json:"product_id" validate:"required,gt=0"`
	Quantity   decimal.Decimal `json:"quantity"`
	Reason     string          `json:"reason" validate:"required,max=500"`
	OccurredAt *time.Time      `json:"occurred_at"`
}

type rebuildRequest struct {
	StoreID   int64 `json:"store_id" validate:"required,gt=0"`
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
}

func (h *Handler) handleReportDamage(w http.ResponseWriter, r *http.Request) {
	var req damageRequest
	if err := h.validate.Decode(r, "inventory.report_damage", &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := DamageReportInput{
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		Unit:           req.Unit,
		Reason:         req.Reason,
		ImageRef:       req.ImageRef,
		OccurredAt:     deref(req.OccurredAt),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	var rec DamageRecord
	err := shared.RetryConflict(r.Context(), retryAttempts, retryBackoff, func(ctx context.Context) error {
		var err error
		rec, err = h.service.ReportDamage(ctx, httpx.StoreContext(r), input)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]int64{"id": rec.ID, "movement_id": rec.MovementID})
}

func (h *Handler) handleListDamage(w http.ResponseWriter, r *http.Request) {
	q := httpx.NewQuery(r)
	filter := DamageFilter{
		StoreID:       q.Int64("store_id"),
		ProductID:     q.Int64("product_id"),
		ReferenceType: q.String("reference_type"),
		From:          q.Date("from"),
		To:            q.Date("to"),
		Page:          q.Int("page"),
		Limit:         q.Int("limit"),
	}
	if err := q.Err("inventory.list_damaged_goods"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.queries.ListDamagedGoods(r.Context(), httpx.StoreContext(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := h.validate.Decode(r, "inventory.transfer", &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var res TransferResult
	err := shared.RetryConflict(r.Context(), retryAttempts, retryBackoff, func(ctx context.Context) error {
		var err error
		res, err = h.service.Transfer(ctx, httpx.StoreContext(r), TransferInput{
			ToStoreID:  req.ToStoreID,
			ProductID:  req.ProductID,
			Quantity:   req.Quantity,
			Remarks:    req.Remarks,
			OccurredAt: deref(req.OccurredAt),
		})
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := h.validate.Decode(r, "inventory.adjust", &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var mv Movement
	err := shared.RetryConflict(r.Context(), retryAttempts, retryBackoff, func(ctx context.Context) error {
		var err error
		mv, err = h.service.Adjust(ctx, httpx.StoreContext(r), AdjustmentInput{
			StoreID:    req.StoreID,
			ProductID:  req.ProductID,
			Quantity:   req.Quantity,
			Reason:     req.Reason,
			OccurredAt: deref(req.OccurredAt),
		})
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	q := httpx.NewQuery(r)
	filter := SummaryFilter{
		StoreID:   q.Int64("store_id"),
		ProductID: q.Int64("product_id"),
		From:      q.Date("from"),
		To:        q.Date("to"),
		Page:      q.Int("page"),
		Limit:     q.Int("limit"),
		Dense:     q.Bool("dense"),
	}
	if err := q.Err("inventory.summary"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.queries.Summary(r.Context(), httpx.StoreContext(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	q := httpx.NewQuery(r)
	filter := MovementFilter{
		StoreID:       q.Int64("store_id"),
		ProductID:     q.Int64("product_id"),
		Type:          MovementType(q.String("type")),
		ReferenceType: q.String("reference_type"),
		ReferenceID:   q.String("reference_id"),
		From:          q.Date("from"),
		To:            q.Date("to"),
		Page:          q.Int("page"),
		Limit:         q.Int("limit"),
	}
	if err := q.Err("inventory.list_movements"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.queries.ListMovements(r.Context(), httpx.StoreContext(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleOpeningClosing(w http.ResponseWriter, r *http.Request) {
	q := httpx.NewQuery(r)
	storeID := q.Int64("store_id")
	date := q.Date("date")
	if err := q.Err("inventory.opening_closing"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.queries.OpeningClosing(r.Context(), httpx.StoreContext(r), storeID, date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	q := httpx.NewQuery(r)
	storeID := q.Int64("store_id")
	from, to := q.Date("from"), q.Date("to")
	if err := q.Err("inventory.stats"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	stats, err := h.queries.Stats(r.Context(), httpx.StoreContext(r), storeID, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	const op = "inventory.enqueue_rebuild"
	sc := httpx.StoreContext(r)
	if !sc.IsApprover() {
		httpx.RespondError(w, shared.NewError(shared.KindForbidden, op, "ledger rebuilds require the approver role"))
		return
	}
	var req rebuildRequest
	if err := h.validate.Decode(r, op, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.jobs == nil {
		rows, err := h.service.RebuildLedger(r.Context(), req.StoreID, req.ProductID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]int{"rows": rows})
		return
	}
	taskID, err := h.jobs.EnqueueLedgerRebuild(r.Context(), req.StoreID, req.ProductID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
