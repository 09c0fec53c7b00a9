package inventory_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/storeops/stockledger/internal/inventory"
	"github.com/storeops/stockledger/internal/platform/httpx"
)

type fakeEnqueuer struct {
	calls []inventory.LedgerKey
}

func (e *fakeEnqueuer) EnqueueLedgerRebuild(_ context.Context, storeID, productID int64) (string, error) {
	e.calls = append(e.calls, inventory.LedgerKey{StoreID: storeID, ProductID: productID})
	return "task-1", nil
}

func newRouter(f *fixture, jobs inventory.RebuildEnqueuer) http.Handler {
	h := inventory.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.service, f.queries, jobs)
	r := chi.NewRouter()
	r.Use(httpx.StoreContextMiddleware)
	r.Route("/inventory", h.MountRoutes)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string, storeID int64, role string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(httpx.HeaderStoreID, strconv.FormatInt(storeID, 10))
	req.Header.Set(httpx.HeaderActorID, "501")
	req.Header.Set(httpx.HeaderActorRole, role)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerDamageReportAndListing(t *testing.T) {
	f := newFixture(t)
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("10")})
	router := newRouter(f, nil)

	rr := do(t, router, http.MethodPost, "/inventory/damaged-goods",
		`{"product_id": 7, "quantity": "2", "reason": "crushed"}`, storeA, "store", "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created map[string]int64
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.NotZero(t, created["id"])
	require.NotZero(t, created["movement_id"])

	rr = do(t, router, http.MethodPost, "/inventory/damaged-goods",
		`{"product_id": 7, "quantity": "2", "reason": "crushed"}`, storeA, "store", "Idempotency-Key", "abc")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "already_processed")

	rr = do(t, router, http.MethodGet, "/inventory/damaged-goods", "", storeA, "store")
	require.Equal(t, http.StatusOK, rr.Code)
	var page inventory.DamagePage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
}

func TestHandlerValidationProblem(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f, nil)

	rr := do(t, router, http.MethodPost, "/inventory/damaged-goods", `{"quantity": "2"}`, storeA, "store")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "validation", problem.Kind)
	require.Contains(t, problem.Fields, "product_id")
	require.Contains(t, problem.Fields, "reason")

	rr = do(t, router, http.MethodGet, "/inventory/stats?from=2026-03-01&to=yesterday", "", storeA, "store")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodGet, "/inventory/movements", "", 0, "store")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerQueries(t *testing.T) {
	f := newFixture(t)
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementInward, Quantity: q("50"), OccurredAt: at(1, 8)})
	f.mustRecord(t, inventory.Movement{StoreID: storeA, ProductID: rice, Type: inventory.MovementOutward, Quantity: q("5"), OccurredAt: at(3, 8)})
	router := newRouter(f, nil)

	rr := do(t, router, http.MethodGet, "/inventory/summary?from=2026-03-01&to=2026-03-03&product_id=7&dense=true", "", storeA, "store")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var summary inventory.SummaryPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	require.Len(t, summary.Items, 3)

	rr = do(t, router, http.MethodGet, "/inventory/opening-closing?date=2026-03-02", "", storeA, "store")
	require.Equal(t, http.StatusOK, rr.Code)
	var oc inventory.OpeningClosing
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &oc))
	requireQty(t, "50", oc.Totals.Closing, "closing")

	rr = do(t, router, http.MethodGet, "/inventory/stats?from=2026-03-01&to=2026-03-03", "", storeA, "store")
	require.Equal(t, http.StatusOK, rr.Code)
	var stats inventory.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	requireQty(t, "45", stats.TotalClosing, "closing")

	rr = do(t, router, http.MethodGet, "/inventory/movements?type=outward", "", storeA, "store")
	require.Equal(t, http.StatusOK, rr.Code)
	var moves inventory.MovementPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &moves))
	require.Len(t, moves.Items, 1)
}

func TestHandlerAdjustmentAndRebuildNeedApprover(t *testing.T) {
	f := newFixture(t)
	jobs := &fakeEnqueuer{}
	router := newRouter(f, jobs)

	rr := do(t, router, http.MethodPost, "/inventory/adjustments", `{"product_id": 7, "quantity": "3", "reason": "count"}`, storeA, "store")
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, http.MethodPost, "/inventory/adjustments", `{"product_id": 7, "quantity": "3", "reason": "count"}`, storeA, "approver")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, router, http.MethodPost, "/inventory/ledger/rebuild", `{"store_id": 1, "product_id": 7}`, storeA, "store")
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, router, http.MethodPost, "/inventory/ledger/rebuild", `{"store_id": 1, "product_id": 7}`, storeA, "approver")
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []inventory.LedgerKey{{StoreID: storeA, ProductID: rice}}, jobs.calls)
}

func TestHandlerTransferInsufficientStock(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f, nil)
	rr := do(t, router, http.MethodPost, "/inventory/transfers", `{"to_store_id": 2, "product_id": 8, "quantity": 1}`, storeA, "store")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "insufficient_stock")
}
