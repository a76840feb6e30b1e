package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/inventory-ledger/internal/inventory"
)

var _ inventory.PostingObserver = (*Metrics)(nil)

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
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/balances")
	req := httptest.NewRequest(http.MethodGet, "/balances", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `ledger_http_requests_total{code="418",route="/balances"} 1`)
	require.Contains(t, body, `ledger_http_request_duration_seconds_bucket{route="/balances"`)
}

func TestObservePosting(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObservePosting("issue", "success", 20*time.Millisecond)
	metrics.ObservePosting("issue", "insufficient_resource", time.Millisecond)

	body := scrape(t, metrics)
	require.Contains(t, body, `ledger_postings_total{kind="issue",outcome="success"} 1`)
	require.Contains(t, body, `ledger_postings_total{kind="issue",outcome="insufficient_resource"} 1`)
	require.Contains(t, body, `ledger_posting_duration_seconds_count{kind="issue"} 2`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObservePosting("issue", "success", time.Second)
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
