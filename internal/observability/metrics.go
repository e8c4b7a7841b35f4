package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values shared by the client metrics.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// MetricsRecorder records client-side connection metrics.
type MetricsRecorder interface {
	RecordConfigBuild(path string, success bool)
	RecordConnection(transport string, success bool)
	RecordSigning(duration time.Duration, success bool)
}

// Metrics holds Prometheus metrics for configuration building, connection
// allocation and WebSocket request signing.
type Metrics struct {
	configBuilds    *prometheus.CounterVec
	connections     *prometheus.CounterVec
	signingRequests *prometheus.CounterVec
	signingDuration prometheus.Histogram

	registry *prometheus.Registry
}

// MetricsOption is a functional option for configuring Metrics.
type MetricsOption func(*Metrics)

// WithRegistry sets a custom Prometheus registry.
func WithRegistry(registry *prometheus.Registry) MetricsOption {
	return func(m *Metrics) {
		m.registry = registry
	}
}

// NewMetrics creates a new Metrics instance with the given namespace.
func NewMetrics(namespace string, opts ...MetricsOption) *Metrics {
	if namespace == "" {
		namespace = "iot"
	}

	m := &Metrics{}
	for _, opt := range opts {
		opt(m)
	}

	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.configBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "config",
			Name:      "builds_total",
			Help:      "Total number of connection configuration builds by auth path and result",
		},
		[]string{"path", "result"},
	)

	m.connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "connections_total",
			Help:      "Total number of connection allocations by transport and result",
		},
		[]string{"transport", "result"},
	)

	m.signingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "signing_requests_total",
			Help:      "Total number of WebSocket upgrade signing attempts by result",
		},
		[]string{"result"},
	)

	m.signingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "signing_duration_seconds",
			Help:      "WebSocket upgrade signing duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	m.registry.MustRegister(
		m.configBuilds,
		m.connections,
		m.signingRequests,
		m.signingDuration,
	)

	return m
}

// RecordConfigBuild records the outcome of a configuration build.
func (m *Metrics) RecordConfigBuild(path string, success bool) {
	m.configBuilds.WithLabelValues(path, resultLabel(success)).Inc()
}

// RecordConnection records the outcome of a connection allocation.
func (m *Metrics) RecordConnection(transport string, success bool) {
	m.connections.WithLabelValues(transport, resultLabel(success)).Inc()
}

// RecordSigning records a completed signing attempt.
func (m *Metrics) RecordSigning(duration time.Duration, success bool) {
	m.signingRequests.WithLabelValues(resultLabel(success)).Inc()
	m.signingDuration.Observe(duration.Seconds())
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func resultLabel(success bool) string {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}

// NopMetrics is a no-op implementation of MetricsRecorder.
type NopMetrics struct{}

// NewNopMetrics creates a new NopMetrics instance.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// RecordConfigBuild is a no-op.
func (m *NopMetrics) RecordConfigBuild(_ string, _ bool) {}

// RecordConnection is a no-op.
func (m *NopMetrics) RecordConnection(_ string, _ bool) {}

// RecordSigning is a no-op.
func (m *NopMetrics) RecordSigning(_ time.Duration, _ bool) {}

var (
	_ MetricsRecorder = (*Metrics)(nil)
	_ MetricsRecorder = (*NopMetrics)(nil)
)
