package observability

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics provides Prometheus metrics collection for the gateway. An
// OpenTelemetry MeterProvider is bridged into the same registry so
// instruments created via Meter() land on the same /metrics endpoint.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	meterProvider *sdkmetric.MeterProvider

	// HTTP surface
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	rateLimitDenied *prometheus.CounterVec

	// Supervisor pipeline
	toolCalls        *prometheus.CounterVec
	validationErrors prometheus.Counter
	approvalsPending prometheus.Gauge
	approvalOutcomes *prometheus.CounterVec

	// Providers
	providerCalls *prometheus.CounterVec
	failovers     prometheus.Counter

	// Webhooks
	webhookDeliveries *prometheus.CounterVec

	// Per-tool stats readable back out for /admin/metrics/tools.
	statsMu   sync.Mutex
	toolStats map[string]*ToolStat
}

// ToolStat is the per-tool aggregate surfaced by /admin/metrics/tools.
type ToolStat struct {
	Tool     string  `json:"tool"`
	Calls    int64   `json:"calls"`
	Accepted int64   `json:"accepted"`
	Denied   int64   `json:"denied"`
	Pending  int64   `json:"pending_approval"`
	Errors   int64   `json:"errors"`
	AvgMs    float64 `json:"avg_ms"`
	totalMs  float64
}

// NewMetrics builds the registry and all gateway instrument families.
func NewMetrics(cfg *MetricsConfig) (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	ns := cfg.Namespace
	m := &Metrics{
		config:        cfg,
		registry:      registry,
		meterProvider: meterProvider,
		toolStats:     make(map[string]*ToolStat),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "http_requests_total",
			Help: "HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Name: "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "rate_limit_denied_total",
			Help: "Requests denied by the sliding-window rate limiter.",
		}, []string{"scope"}),

		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "tool_calls_total",
			Help: "Supervised tool calls by outcome and risk.",
		}, []string{"tool", "outcome", "risk"}),
		validationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "validation_errors_total",
			Help: "Schema validation failures in the supervisor pipeline.",
		}),
		approvalsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "approvals_pending",
			Help: "Approval requests currently awaiting a decision.",
		}),
		approvalOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "approval_outcomes_total",
			Help: "Terminal approval decisions by outcome and actor kind.",
		}, []string{"outcome", "actor"}),

		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "provider_calls_total",
			Help: "Chat completion calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "provider_failovers_total",
			Help: "Chat completions that fell through to a secondary provider.",
		}),

		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "webhook_deliveries_total",
			Help: "Webhook delivery attempts by final status.",
		}, []string{"event", "status"}),
	}

	registry.MustRegister(
		m.httpRequests, m.httpDuration, m.rateLimitDenied,
		m.toolCalls, m.validationErrors, m.approvalsPending, m.approvalOutcomes,
		m.providerCalls, m.failovers, m.webhookDeliveries,
	)

	return m, nil
}

// Meter returns an OpenTelemetry meter backed by the same registry.
func (m *Metrics) Meter(name string) metric.Meter {
	return m.meterProvider.Meter(name)
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordHTTPRequest(method, route, code string, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordRateLimitDenied(scope string) {
	m.rateLimitDenied.WithLabelValues(scope).Inc()
}

// RecordToolCall tracks one supervised call; outcome is the pipeline's
// status string.
func (m *Metrics) RecordToolCall(tool, outcome, risk string, elapsed time.Duration) {
	m.toolCalls.WithLabelValues(tool, outcome, risk).Inc()

	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	stat, ok := m.toolStats[tool]
	if !ok {
		stat = &ToolStat{Tool: tool}
		m.toolStats[tool] = stat
	}
	stat.Calls++
	stat.totalMs += float64(elapsed.Milliseconds())
	stat.AvgMs = stat.totalMs / float64(stat.Calls)
	switch outcome {
	case "accepted":
		stat.Accepted++
	case "capability_denied", "tool_not_permitted", "content_policy_violation":
		stat.Denied++
	case "pending_approval":
		stat.Pending++
	default:
		stat.Errors++
	}
}

func (m *Metrics) RecordValidationError() {
	m.validationErrors.Inc()
}

func (m *Metrics) SetApprovalsPending(n int) {
	m.approvalsPending.Set(float64(n))
}

func (m *Metrics) RecordApprovalOutcome(outcome, actor string) {
	m.approvalOutcomes.WithLabelValues(outcome, actor).Inc()
}

func (m *Metrics) RecordProviderCall(provider, outcome string) {
	m.providerCalls.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordFailover() {
	m.failovers.Inc()
}

func (m *Metrics) RecordWebhookDelivery(event, status string) {
	m.webhookDeliveries.WithLabelValues(event, status).Inc()
}

// ToolStats returns the per-tool aggregates sorted by call count,
// busiest first.
func (m *Metrics) ToolStats() []ToolStat {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	out := make([]ToolStat, 0, len(m.toolStats))
	for _, s := range m.toolStats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Calls != out[j].Calls {
			return out[i].Calls > out[j].Calls
		}
		return out[i].Tool < out[j].Tool
	})
	return out
}

// Shutdown flushes the meter provider.
func (m *Metrics) Shutdown() error {
	ctx, cancel := timeoutContext()
	defer cancel()
	return m.meterProvider.Shutdown(ctx)
}
