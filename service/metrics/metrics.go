package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Chain RPC metrics
	chainRPCCallsTotal   *prometheus.CounterVec
	chainRPCCallDuration *prometheus.HistogramVec

	// Settlement decoding metrics
	settlementsDecodedTotal *prometheus.CounterVec

	// Wager flow metrics
	flipsSubmittedTotal   *prometheus.CounterVec
	flipsSettledTotal     *prometheus.CounterVec
	flipFlowFailuresTotal *prometheus.CounterVec
	flipFlowDuration      *prometheus.HistogramVec

	// History metrics
	historyRefreshesTotal  *prometheus.CounterVec
	historyRefreshDuration *prometheus.HistogramVec

	// Workflow metrics
	activityDuration *prometheus.HistogramVec

	// Database metrics
	dbOperationsTotal *prometheus.CounterVec
	dbQueryDuration   *prometheus.HistogramVec

	// HTTP metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS metrics
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
		chainRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chain_rpc_calls_total",
				Help: "Total number of Ethereum RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		chainRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chain_rpc_call_duration_seconds",
				Help:    "Duration of Ethereum RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		settlementsDecodedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlements_decoded_total",
				Help: "Total number of GameSettled logs decoded",
			},
			[]string{"endpoint", "status"},
		),

		flipsSubmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flips_submitted_total",
				Help: "Total number of flip transactions submitted",
			},
			[]string{"side"},
		),
		flipsSettledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flips_settled_total",
				Help: "Total number of flips settled by outcome",
			},
			[]string{"outcome"},
		),
		flipFlowFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flip_flow_failures_total",
				Help: "Total number of wager flow failures by reason",
			},
			[]string{"reason"},
		),
		flipFlowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flip_flow_duration_seconds",
				Help:    "End-to-end duration of a wager attempt in seconds",
				Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),

		historyRefreshesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "history_refreshes_total",
				Help: "Total number of history refreshes by trigger source",
			},
			[]string{"source", "status"},
		),
		historyRefreshDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "history_refresh_duration_seconds",
				Help:    "Duration of a full history re-scan in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"source"},
		),

		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_activity_duration_seconds",
				Help:    "Duration of Temporal activity executions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity", "player"},
		),

		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"handler", "method"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by handler, method, and status",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE streaming connections",
			},
			[]string{"subject"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent to clients",
			},
			[]string{"subject"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of messages published to NATS by status",
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

// RecordRPCCall records an Ethereum RPC call.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, durationSeconds float64) {
	m.chainRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.chainRPCCallDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordSettlementDecoded records an attempt to decode a GameSettled log.
func (m *Metrics) RecordSettlementDecoded(endpoint, status string) {
	m.settlementsDecodedTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordFlipSubmitted records a submitted flip transaction.
func (m *Metrics) RecordFlipSubmitted(side string) {
	m.flipsSubmittedTotal.WithLabelValues(side).Inc()
}

// RecordFlipSettled records a settled flip with its outcome ("win" or "loss").
func (m *Metrics) RecordFlipSettled(outcome string, durationSeconds float64) {
	m.flipsSettledTotal.WithLabelValues(outcome).Inc()
	m.flipFlowDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// RecordFlowFailure records a wager flow failure by taxonomy reason.
func (m *Metrics) RecordFlowFailure(reason string) {
	m.flipFlowFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordHistoryRefresh records a history re-scan.
func (m *Metrics) RecordHistoryRefresh(source, status string, durationSeconds float64) {
	m.historyRefreshesTotal.WithLabelValues(source, status).Inc()
	m.historyRefreshDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordActivityDuration records a Temporal activity execution.
func (m *Metrics) RecordActivityDuration(activity, player string, durationSeconds float64) {
	m.activityDuration.WithLabelValues(activity, player).Observe(durationSeconds)
}

// RecordDBOperation records a database operation.
func (m *Metrics) RecordDBOperation(operation, status string, durationSeconds float64) {
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
	m.dbQueryDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, durationSeconds float64) {
	m.httpRequestsTotal.WithLabelValues(handler, method, statusClass(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(durationSeconds)
}

// SSEConnectionOpened increments the active SSE connection gauge.
func (m *Metrics) SSEConnectionOpened(subject string) {
	m.sseActiveConnections.WithLabelValues(subject).Inc()
}

// SSEConnectionClosed decrements the active SSE connection gauge.
func (m *Metrics) SSEConnectionClosed(subject string) {
	m.sseActiveConnections.WithLabelValues(subject).Dec()
}

// RecordSSEEventSent records an SSE event delivered to a client.
func (m *Metrics) RecordSSEEventSent(subject string) {
	m.sseEventsSent.WithLabelValues(subject).Inc()
}

// RecordNATSPublish records a NATS publish attempt.
func (m *Metrics) RecordNATSPublish(subject, status string, durationSeconds float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(durationSeconds)
}

// statusClass buckets HTTP status codes into class labels to bound cardinality.
func statusClass(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
