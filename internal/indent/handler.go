package indent

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

// Handler exposes the indent lifecycle over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *httpx.Validator
}

// NewHandler constructs the indent handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: httpx.NewValidator()}
}

// MountRoutes registers indent routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Post("/submit", h.handleSubmit)
		r.Post("/decision", h.handleDecision)
		r.Post("/stock-in/begin", h.handleBeginStockIn)
		r.Post("/stock-in", h.handleStockIn)
		r.Get("/receipt", h.handleReceipt)
		r.Get("/approvals", h.handleApprovals)
	})
}

type createRequest struct {
	Items []itemRequest `json:"items" validate:"required,min=1,max=200,dive"`
	Notes string        `json:"notes" validate:"max=1000"`
	Draft bool          `json:"draft"`
}

type itemRequest struct {
	ProductID          int64               `json:"product_id" validate:"required,gt=0"`
	Quantity           decimal.Decimal     `json:"quantity"`
	Unit               string              `json:"unit" validate:"omitempty,max=16"`
	UnitPriceAtRequest decimal.NullDecimal `json:"unit_price_at_request"`
}

type decisionRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject"`
	Notes  string `json:"notes" validate:"max=1000"`
}

type stockInRequest struct {
	ReceivedAt *time.Time           `json:"received_at"`
	Lines      []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type receiptLineRequest struct {
	ProductID        int64           `json:"product_id" validate:"required,gt=0"`
	ReceivedQuantity decimal.Decimal `json:"received_quantity"`
	DamagedQuantity  decimal.Decimal `json:"damaged_quantity"`
	DamageReason     string          `json:"damage_reason" validate:"max=500"`
	DamageImageRef   string          `json:"damage_image_ref" validate:"max=512"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := h.validate.Decode(r, "indent.create", &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateInput{Notes: req.Notes, Draft: req.Draft, Items: make([]ItemInput, 0, len(req.Items))}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput(item))
	}
	ind, err := h.service.Create(r.Context(), httpx.StoreContext(r), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ind)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := httpx.NewQuery(r)
	filter := ListFilter{
		StoreID: q.Int64("store_id"),
		Status:  Status(q.String("status")),
		Page:    q.Int("page"),
		Limit:   q.Int("limit"),
	}
	if err := q.Err("indent.list"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.List(r.Context(), httpx.StoreContext(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID("indent.get", chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ind, err := h.service.Get(r.Context(), httpx.StoreContext(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ind)
}

func (h *Handler) handleReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID("indent.receipt", chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lines, err := h.service.Receipt(r.Context(), httpx.StoreContext(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"indent_id": id, "lines": lines})
}

func (h *Handler) handleApprovals(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID("indent.approvals", chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	trail, err := h.service.Approvals(r.Context(), httpx.StoreContext(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"indent_id": id, "approvals": trail})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "indent.submit", func(ctx context.Context, sc shared.StoreContext, id int64) (Indent, error) {
		return h.service.Submit(ctx, sc, id)
	})
}

func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := h.validate.Decode(r, "indent.decide", &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.transition(w, r, "indent.decide", func(ctx context.Context, sc shared.StoreContext, id int64) (Indent, error) {
		return h.service.Decide(ctx, sc, id, DecisionInput{Action: Decision(req.Action), Notes: req.Notes})
	})
}

func (h *Handler) handleBeginStockIn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "indent.begin_stock_in", func(ctx context.Context, sc shared.StoreContext, id int64) (Indent, error) {
		return h.service.BeginStockIn(ctx, sc, id)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, shared.StoreContext, int64) (Indent, error)) {
	id, err := httpx.PathID(op, chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sc := httpx.StoreContext(r)
	var ind Indent
	err = shared.RetryConflict(r.Context(), retryAttempts, retryBackoff, func(ctx context.Context) error {
		var err error
		ind, err = fn(ctx, sc, id)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ind)
}

func (h *Handler) handleStockIn(w http.ResponseWriter, r *http.Request) {
	const op = "indent.submit_stock_in"
	id, err := httpx.PathID(op, chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req stockInRequest
	if err := h.validate.Decode(r, op, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	receipt := Receipt{Lines: make([]ReceiptLine, 0, len(req.Lines))}
	if req.ReceivedAt != nil {
		receipt.ReceivedAt = *req.ReceivedAt
	}
	for _, line := range req.Lines {
		receipt.Lines = append(receipt.Lines, ReceiptLine(line))
	}
	sc := httpx.StoreContext(r)
	var result StockInResult
	err = shared.RetryConflict(r.Context(), retryAttempts, retryBackoff, func(ctx context.Context) error {
		var err error
		result, err = h.service.SubmitStockIn(ctx, sc, id, receipt)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.KindOf(err) == shared.KindInternal {
		h.logger.Error("indent request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
