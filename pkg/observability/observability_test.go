package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerDisabled(t *testing.T) {
	m, err := NewManager(context.Background(), &Config{})
	require.NoError(t, err)
	assert.Nil(t, m.Metrics())
	assert.Nil(t, m.Tracer())

	rr := httptest.NewRecorder()
	m.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetricsExposition(t *testing.T) {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	m, err := NewManager(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = m.Shutdown(context.Background()) }()

	metrics := m.Metrics()
	require.NotNil(t, metrics)

	metrics.RecordToolCall("system.exec", "pending_approval", "high", 3*time.Millisecond)
	metrics.RecordToolCall("system.exec", "accepted", "high", time.Millisecond)
	metrics.RecordValidationError()
	metrics.SetApprovalsPending(2)
	metrics.RecordWebhookDelivery("gateway.alert", "ok")

	rr := httptest.NewRecorder()
	m.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "gateway_tool_calls_total")
	assert.Contains(t, body, "gateway_validation_errors_total 1")
	assert.Contains(t, body, "gateway_approvals_pending 2")
}

func TestToolStatsAggregation(t *testing.T) {
	metrics, err := NewMetrics(&MetricsConfig{Namespace: "gateway"})
	require.NoError(t, err)

	metrics.RecordToolCall("file.read", "accepted", "medium", 10*time.Millisecond)
	metrics.RecordToolCall("file.read", "capability_denied", "medium", 2*time.Millisecond)
	metrics.RecordToolCall("notes.append", "accepted", "low", time.Millisecond)

	stats := metrics.ToolStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "file.read", stats[0].Tool)
	assert.EqualValues(t, 2, stats[0].Calls)
	assert.EqualValues(t, 1, stats[0].Accepted)
	assert.EqualValues(t, 1, stats[0].Denied)
	assert.InDelta(t, 6.0, stats[0].AvgMs, 0.01)
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	m, err := NewManager(context.Background(), cfg)
	require.NoError(t, err)

	handler := m.Middleware(func(r *http.Request) string { return "/tools/call" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/tools/call", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	mr := httptest.NewRecorder()
	m.MetricsHandler().ServeHTTP(mr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, mr.Body.String(), `gateway_http_requests_total{code="403",method="POST",route="/tools/call"} 1`)
}
