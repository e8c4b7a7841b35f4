package vault

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request status label values.
const (
	statusSuccess = "success"
	statusError   = "error"
)

// MetricsRecorder records Vault client metrics.
type MetricsRecorder interface {
	RecordRequest(operation, status string, duration time.Duration)
	RecordAuthentication(method string, success bool)
	SetCredentialsExpiry(role string, expires time.Time)
}

// Metrics holds Prometheus metrics for Vault requests.
type Metrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	authenticationTotal *prometheus.CounterVec
	credentialsExpiry   *prometheus.GaugeVec

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
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "requests_total",
			Help:      "Total number of Vault requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "request_duration_seconds",
			Help:      "Duration of Vault requests in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.authenticationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "authentications_total",
			Help:      "Total number of Vault authentication attempts by method and status",
		},
		[]string{"method", "status"},
	)

	m.credentialsExpiry = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vault",
			Name:      "aws_credentials_expiry_timestamp_seconds",
			Help:      "Unix timestamp when the current AWS credentials lease expires",
		},
		[]string{"role"},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.authenticationTotal,
		m.credentialsExpiry,
	)

	return m
}

// RecordRequest records a Vault request.
func (m *Metrics) RecordRequest(operation, status string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(operation, status).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAuthentication records a login attempt.
func (m *Metrics) RecordAuthentication(method string, success bool) {
	status := statusSuccess
	if !success {
		status = statusError
	}
	m.authenticationTotal.WithLabelValues(method, status).Inc()
}

// SetCredentialsExpiry records the lease expiry of AWS credentials for role.
func (m *Metrics) SetCredentialsExpiry(role string, expires time.Time) {
	m.credentialsExpiry.WithLabelValues(role).Set(float64(expires.Unix()))
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// NopMetrics discards all metrics.
type NopMetrics struct{}

// NewNopMetrics returns a MetricsRecorder that records nothing.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// RecordRequest implements MetricsRecorder.
func (m *NopMetrics) RecordRequest(_, _ string, _ time.Duration) {}

// RecordAuthentication implements MetricsRecorder.
func (m *NopMetrics) RecordAuthentication(_ string, _ bool) {}

// SetCredentialsExpiry implements MetricsRecorder.
func (m *NopMetrics) SetCredentialsExpiry(_ string, _ time.Time) {}

var (
	_ MetricsRecorder = (*Metrics)(nil)
	_ MetricsRecorder = (*NopMetrics)(nil)
)
