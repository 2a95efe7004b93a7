package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec
	balanceFallbacksTotal *prometheus.CounterVec
	balanceFetchesTotal   *prometheus.CounterVec

	// Session Metrics
	sessionTransitionsTotal *prometheus.CounterVec
	sessionStaleResults     *prometheus.CounterVec
	accountSwitchesTotal    *prometheus.CounterVec
	activeSessions          prometheus.Gauge

	// History Metrics
	historyOperationsTotal *prometheus.CounterVec

	// Storage Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	proxyRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		balanceFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_fallbacks_total",
				Help: "Total number of times the balance fetcher moved past a failed endpoint",
			},
			[]string{"endpoint"},
		),
		balanceFetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_fetches_total",
				Help: "Total number of balance fetches by outcome",
			},
			[]string{"status"},
		),

		// Session Metrics
		sessionTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_transitions_total",
				Help: "Total number of connection state transitions by target mode",
			},
			[]string{"wallet_kind", "mode"},
		),
		sessionStaleResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_stale_results_total",
				Help: "Total number of async results discarded because the session moved on",
			},
			[]string{"source"},
		),
		accountSwitchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_account_switches_total",
				Help: "Total number of external account switches detected",
			},
			[]string{"wallet_kind"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "session_active",
				Help: "1 while a wallet session is connected, 0 otherwise",
			},
		),

		// History Metrics
		historyOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "history_operations_total",
				Help: "Total number of transaction history operations",
			},
			[]string{"operation", "status"},
		),

		// Storage Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of key-value store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "backend"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of key-value store operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
		),
		proxyRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpc_proxy_requests_total",
				Help: "Total number of proxied JSON-RPC requests by method and outcome",
			},
			[]string{"method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordBalanceFallback records that an endpoint failed and the next one was tried.
func (m *Metrics) RecordBalanceFallback(endpoint string) {
	m.balanceFallbacksTotal.WithLabelValues(endpoint).Inc()
}

// RecordBalanceFetch records the final outcome of a balance fetch.
func (m *Metrics) RecordBalanceFetch(status string) {
	m.balanceFetchesTotal.WithLabelValues(status).Inc()
}

// Session metric helpers

// RecordTransition records a connection state transition.
func (m *Metrics) RecordTransition(walletKind, mode string) {
	m.sessionTransitionsTotal.WithLabelValues(walletKind, mode).Inc()
}

// RecordStaleResult records an async result that was discarded.
func (m *Metrics) RecordStaleResult(source string) {
	m.sessionStaleResults.WithLabelValues(source).Inc()
}

// RecordAccountSwitch records an external account switch.
func (m *Metrics) RecordAccountSwitch(walletKind string) {
	m.accountSwitchesTotal.WithLabelValues(walletKind).Inc()
}

// SetSessionActive flips the active session gauge.
func (m *Metrics) SetSessionActive(active bool) {
	if active {
		m.activeSessions.Set(1)
		return
	}
	m.activeSessions.Set(0)
}

// History metric helpers

// RecordHistoryOperation records a history recorder operation.
func (m *Metrics) RecordHistoryOperation(operation string, err error) {
	m.historyOperationsTotal.WithLabelValues(operation, errorStatus(err)).Inc()
}

// Storage metric helpers

// RecordDBQuery records a key-value store operation with duration.
func (m *Metrics) RecordDBQuery(operation, backend string, duration float64, err error) {
	m.dbQueryDuration.WithLabelValues(operation, backend).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, errorStatus(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	m.sseActiveConnections.Add(delta)
}

// RecordProxyRequest records a proxied JSON-RPC request.
func (m *Metrics) RecordProxyRequest(method, status string) {
	m.proxyRequestsTotal.WithLabelValues(method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func errorStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
