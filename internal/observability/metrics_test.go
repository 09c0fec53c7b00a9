package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `stockledger_http_requests_total{code="418",method="GET",route="/test"} 1`)
	require.Contains(t, body, "stockledger_http_requests_in_flight 0")
	require.Contains(t, body, "go_goroutines")
	require.Contains(t, body, `stockledger_http_request_duration_seconds_bucket{route="/test"`)
}

func TestMetricsMiddlewareUnmatchedRoute(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.NotFoundHandler())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/nowhere", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, scrape(t, metrics), `stockledger_http_requests_total{code="404",method="POST",route="unmatched"} 1`)
}

func TestStockMetricsExposed(t *testing.T) {
	metrics := NewMetrics()
	metrics.Stock().MovementRecorded("inward")
	metrics.Stock().MovementRecorded("inward")
	metrics.Stock().StockIn("success")
	metrics.Stock().CascadeRows(3)

	body := scrape(t, metrics)
	require.Contains(t, body, `stockledger_movements_recorded_total{type="inward"} 2`)
	require.Contains(t, body, `stockledger_stockin_total{outcome="success"} 1`)
	require.Contains(t, body, "stockledger_ledger_cascade_rows_count 1")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Stock().MovementRecorded("outward")
	m.Stock().CascadeRows(1)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
