package indent_test

import (
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

	"github.com/storeops/stockledger/internal/indent"
	"github.com/storeops/stockledger/internal/platform/httpx"
	"github.com/storeops/stockledger/internal/shared"
)

func newRouter(f *fixture) http.Handler {
	h := indent.NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.service)
	r := chi.NewRouter()
	r.Use(httpx.StoreContextMiddleware)
	r.Route("/indents", h.MountRoutes)
	return r
}

func call(t *testing.T, h http.Handler, method, path, body, role string, actor int64) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(httpx.HeaderStoreID, "1")
	req.Header.Set(httpx.HeaderActorID, strconv.FormatInt(actor, 10))
	req.Header.Set(httpx.HeaderActorRole, role)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerIndentFlow(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	rr := call(t, router, http.MethodPost, "/indents", `{"items":[{"product_id":7,"quantity":"100"}],"notes":"restock"}`, "store", operator)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created indent.Indent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, indent.StatusPendingApproval, created.Status)
	base := "/indents/" + strconv.FormatInt(created.ID, 10)

	rr = call(t, router, http.MethodPost, base+"/decision", `{"action":"approve"}`, "store", operator)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = call(t, router, http.MethodPost, base+"/decision", `{"action":"approve","notes":"ok"}`, "approver", approver)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = call(t, router, http.MethodPost, base+"/stock-in/begin", "", "store", operator)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	stockIn := `{"lines":[{"product_id":7,"received_quantity":"90","damaged_quantity":"10","damage_reason":"crushed"}]}`
	rr = call(t, router, http.MethodPost, base+"/stock-in", stockIn, "store", operator)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var result indent.StockInResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	require.Equal(t, indent.StatusCompleted, result.Indent.Status)
	require.Len(t, result.Movements, 2)

	rr = call(t, router, http.MethodPost, base+"/stock-in", stockIn, "store", operator)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "already_processed")

	rr = call(t, router, http.MethodGet, base+"/receipt", "", "store", operator)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"accepted":"80"`)

	rr = call(t, router, http.MethodGet, base+"/approvals", "", "store", operator)
	require.Equal(t, http.StatusOK, rr.Code)
	var trail struct {
		Approvals []shared.ApprovalLog `json:"approvals"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &trail))
	require.Len(t, trail.Approvals, 2)
	require.Equal(t, shared.ApprovalApprove, trail.Approvals[1].Action)

	rr = call(t, router, http.MethodGet, "/indents?status=completed", "", "store", operator)
	require.Equal(t, http.StatusOK, rr.Code)
	var page indent.Page
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
}

func TestHandlerIndentErrors(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	rr := call(t, router, http.MethodPost, "/indents", `{"items":[]}`, "store", operator)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(t, router, http.MethodPost, "/indents", `{"items":[{"product_id":7,"quantity":"1"}],"color":"red"}`, "store", operator)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(t, router, http.MethodGet, "/indents/abc", "", "store", operator)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = call(t, router, http.MethodGet, "/indents/42", "", "store", operator)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = call(t, router, http.MethodPost, "/indents/42/decision", `{"action":"maybe"}`, "approver", approver)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "action")

	ind := f.approved(t, indent.ItemInput{ProductID: rice, Quantity: q("100")})
	rr = call(t, router, http.MethodPost, "/indents/"+strconv.FormatInt(ind.ID, 10)+"/stock-in",
		`{"lines":[{"product_id":7,"received_quantity":"120","damaged_quantity":"0"}]}`, "store", operator)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "quantity_out_of_bounds")
}
