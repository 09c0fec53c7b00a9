package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/storeops/stockledger/internal/shared"
)

type lineInput struct {
	ProductID int64  `json:"product_id" validate:"required"`
	Unit      string `json:"unit" validate:"max=3"`
}

type bodyInput struct {
	Action string      `json:"action" validate:"required,oneof=approve reject"`
	Lines  []lineInput `json:"lines" validate:"required,min=1,dive"`
}

func TestValidatorDecode(t *testing.T) {
	v := NewValidator()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"approve","lines":[{"product_id":7,"unit":"bag"}]}`))
	var ok bodyInput
	require.NoError(t, v.Decode(req, "test", &ok))
	require.Equal(t, int64(7), ok.Lines[0].ProductID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"maybe","lines":[{"unit":"boxes"}]}`))
	var bad bodyInput
	err := v.Decode(req, "test", &bad)
	var de *shared.Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, shared.KindValidation, de.Kind)
	require.Equal(t, "must be one of approve reject", de.Fields["action"])
	require.Equal(t, "required", de.Fields["lines[0].product_id"])
	require.Equal(t, "must be at most 3", de.Fields["lines[0].unit"])

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":`))
	err = v.Decode(req, "test", &bad)
	require.ErrorAs(t, err, &de)
	require.Contains(t, de.Fields, "body")
}

func TestQueryParsing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=2&product_id=9&date=2026-03-01&dense=true", nil)
	q := NewQuery(req)
	require.Equal(t, 2, q.Int("page"))
	require.Equal(t, int64(9), q.Int64("product_id"))
	require.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), q.Date("date"))
	require.True(t, q.Bool("dense"))
	require.Zero(t, q.Int("limit"))
	require.NoError(t, q.Err("test"))

	req = httptest.NewRequest(http.MethodGet, "/?page=x&date=03-01-2026&dense=maybe", nil)
	q = NewQuery(req)
	q.Int("page")
	q.Date("date")
	q.Bool("dense")
	err := q.Err("test")
	var de *shared.Error
	require.ErrorAs(t, err, &de)
	require.Len(t, de.Fields, 3)
}

func TestPathID(t *testing.T) {
	id, err := PathID("test", "42")
	require.NoError(t, err)
	require.Equal(t, int64(42), id)

	for _, raw := range []string{"", "0", "-3", "abc"} {
		_, err := PathID("test", raw)
		require.ErrorIs(t, err, shared.ErrValidation, raw)
	}
}

func TestStoreContextMiddleware(t *testing.T) {
	var got shared.StoreContext
	h := StoreContextMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = StoreContext(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderStoreID, "3")
	req.Header.Set(HeaderActorID, "11")
	req.Header.Set(HeaderActorRole, " Approver ")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, shared.StoreContext{StoreID: 3, ActorID: 11, Role: shared.RoleApprover}, got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderStoreID, "3")
	req.Header.Set(HeaderActorID, "11")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, shared.RoleStore, got.Role)

	for _, headers := range []map[string]string{
		{HeaderActorID: "11"},
		{HeaderStoreID: "3", HeaderActorID: "11", HeaderActorRole: "admin"},
		{HeaderStoreID: "0", HeaderActorID: "11"},
	} {
		req = httptest.NewRequest(http.MethodGet, "/", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rr = httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code)
		require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	}
}
