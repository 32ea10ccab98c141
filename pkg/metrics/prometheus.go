package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the call service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec

	// Call Metrics
	callsStartedTotal prometheus.Counter
	callsEndedTotal   prometheus.Counter
	callsDuration     prometheus.Histogram

	// Control Metrics
	controlRequestsTotal  prometheus.Counter
	controlTransfersTotal *prometheus.CounterVec
	controlDenialsTotal   prometheus.Counter

	// Browsing Metrics
	browseSyncsTotal *prometheus.CounterVec
	cartUpdatesTotal *prometheus.CounterVec

	// Sweeper Metrics
	sweepRunsTotal    prometheus.Counter
	sweepRevertsTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics on a private
// registry
func NewMetrics(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		registry: registry,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),

		websocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of open call WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages by type",
				ConstLabels: labels,
			},
			[]string{"type"},
		),

		callsStartedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "shopping_calls_started_total",
				Help:        "Total number of shopping calls started",
				ConstLabels: labels,
			},
		),
		callsEndedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "shopping_calls_ended_total",
				Help:        "Total number of shopping calls ended",
				ConstLabels: labels,
			},
		),
		callsDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "shopping_call_duration_seconds",
				Help:        "Duration of ended shopping calls in seconds",
				ConstLabels: labels,
				Buckets:     []float64{60, 300, 600, 1200, 1800, 3600, 7200},
			},
		),

		controlRequestsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "control_requests_total",
				Help:        "Total number of master-control requests filed",
				ConstLabels: labels,
			},
		),
		controlTransfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "control_transfers_total",
				Help:        "Total number of master-control transfers by reason",
				ConstLabels: labels,
			},
			[]string{"reason"},
		),
		controlDenialsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "control_denials_total",
				Help:        "Total number of denied control requests",
				ConstLabels: labels,
			},
		),

		browseSyncsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "browse_syncs_total",
				Help:        "Total number of browse sync operations",
				ConstLabels: labels,
			},
			[]string{"scope"},
		),
		cartUpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "cart_updates_total",
				Help:        "Total number of cart updates by action",
				ConstLabels: labels,
			},
			[]string{"action"},
		),

		sweepRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "expiry_sweep_runs_total",
				Help:        "Total number of expiry sweep passes",
				ConstLabels: labels,
			},
		),
		sweepRevertsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name:        "expiry_sweep_reverts_total",
				Help:        "Total number of control holds reverted by the sweeper",
				ConstLabels: labels,
			},
		),
	}
}

// GetRegistry returns the private registry for the metrics endpoint
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request with its outcome
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight request gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight request gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// RecordWebSocketConnect tracks a new WebSocket connection
func (m *Metrics) RecordWebSocketConnect() {
	m.websocketConnections.Inc()
}

// RecordWebSocketDisconnect tracks a closed WebSocket connection
func (m *Metrics) RecordWebSocketDisconnect() {
	m.websocketConnections.Dec()
}

// RecordWebSocketMessage counts an inbound WebSocket message
func (m *Metrics) RecordWebSocketMessage(messageType string) {
	m.websocketMessagesTotal.WithLabelValues(messageType).Inc()
}

// RecordCallStarted counts a started shopping call
func (m *Metrics) RecordCallStarted() {
	m.callsStartedTotal.Inc()
}

// RecordCallEnded counts an ended call and observes its duration
func (m *Metrics) RecordCallEnded(durationSeconds int) {
	m.callsEndedTotal.Inc()
	m.callsDuration.Observe(float64(durationSeconds))
}

// RecordControlRequest counts a filed control request
func (m *Metrics) RecordControlRequest() {
	m.controlRequestsTotal.Inc()
}

// RecordControlTransfer counts a control transfer by reason
// (approved, released, expired, disconnect, system)
func (m *Metrics) RecordControlTransfer(reason string) {
	m.controlTransfersTotal.WithLabelValues(reason).Inc()
}

// RecordControlDenial counts a denied control request
func (m *Metrics) RecordControlDenial() {
	m.controlDenialsTotal.Inc()
}

// RecordBrowseSync counts a browse sync, split by whether it moved the
// canonical state
func (m *Metrics) RecordBrowseSync(canonical bool) {
	scope := "personal"
	if canonical {
		scope = "canonical"
	}
	m.browseSyncsTotal.WithLabelValues(scope).Inc()
}

// RecordCartUpdate counts a cart update by action
func (m *Metrics) RecordCartUpdate(action string) {
	m.cartUpdatesTotal.WithLabelValues(action).Inc()
}

// RecordSweep records one sweep pass and how many holds it reverted
func (m *Metrics) RecordSweep(reverted int) {
	m.sweepRunsTotal.Inc()
	m.sweepRevertsTotal.Add(float64(reverted))
}
