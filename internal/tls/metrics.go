package tls

import (
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for client TLS operations.
type Metrics struct {
	realizationsTotal *prometheus.CounterVec
	handshakeDuration *prometheus.HistogramVec
	handshakeErrors   *prometheus.CounterVec
	connectionsTotal  *prometheus.CounterVec
	certificateExpiry *prometheus.GaugeVec
	certificateReload *prometheus.CounterVec

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

	m.realizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "context_realizations_total",
			Help:      "Total number of TLS context realizations by certificate source and result",
		},
		[]string{"source", "result"},
	)

	m.handshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "handshake_duration_seconds",
			Help:      "TLS handshake duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"version"},
	)

	m.handshakeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "handshake_errors_total",
			Help:      "Total number of TLS handshake errors by reason",
		},
		[]string{"reason"},
	)

	m.connectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "connections_total",
			Help:      "Total number of TLS connections by version, cipher suite and negotiated protocol",
		},
		[]string{"version", "cipher", "protocol"},
	)

	m.certificateExpiry = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "certificate_expiry_seconds",
			Help:      "Time until client certificate expiry in seconds",
		},
		[]string{"subject"},
	)

	m.certificateReload = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "certificate_reload_total",
			Help:      "Total number of certificate file change notifications by status",
		},
		[]string{"status"},
	)

	m.registry.MustRegister(
		m.realizationsTotal,
		m.handshakeDuration,
		m.handshakeErrors,
		m.connectionsTotal,
		m.certificateExpiry,
		m.certificateReload,
	)

	return m
}

// RecordRealization records a TLS context realization attempt.
func (m *Metrics) RecordRealization(source CertificateSource, success bool) {
	m.realizationsTotal.WithLabelValues(source.String(), resultLabel(success)).Inc()
}

// RecordHandshake records a completed client handshake.
func (m *Metrics) RecordHandshake(duration time.Duration, state tls.ConnectionState) {
	version := TLSVersionName(state.Version)
	m.handshakeDuration.WithLabelValues(version).Observe(duration.Seconds())
	m.connectionsTotal.WithLabelValues(version, CipherSuiteName(state.CipherSuite), state.NegotiatedProtocol).Inc()
}

// RecordHandshakeError records a failed client handshake.
func (m *Metrics) RecordHandshakeError(reason string) {
	m.handshakeErrors.WithLabelValues(reason).Inc()
}

// UpdateCertificateExpiry updates the certificate expiry metric.
func (m *Metrics) UpdateCertificateExpiry(cert *x509.Certificate) {
	if cert == nil {
		return
	}

	subject := cert.Subject.CommonName
	if subject == "" {
		subject = cert.Subject.String()
	}
	m.certificateExpiry.WithLabelValues(subject).Set(time.Until(cert.NotAfter).Seconds())
}

// RecordCertificateReload records a certificate change notification.
func (m *Metrics) RecordCertificateReload(success bool) {
	m.certificateReload.WithLabelValues(resultLabel(success)).Inc()
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// NopMetrics is a no-op implementation of metrics for testing.
type NopMetrics struct{}

// NewNopMetrics creates a new NopMetrics instance.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

// RecordRealization is a no-op.
func (m *NopMetrics) RecordRealization(_ CertificateSource, _ bool) {}

// RecordHandshake is a no-op.
func (m *NopMetrics) RecordHandshake(_ time.Duration, _ tls.ConnectionState) {}

// RecordHandshakeError is a no-op.
func (m *NopMetrics) RecordHandshakeError(_ string) {}

// UpdateCertificateExpiry is a no-op.
func (m *NopMetrics) UpdateCertificateExpiry(_ *x509.Certificate) {}

// RecordCertificateReload is a no-op.
func (m *NopMetrics) RecordCertificateReload(_ bool) {}

// MetricsRecorder defines the interface for recording TLS metrics.
type MetricsRecorder interface {
	RecordRealization(source CertificateSource, success bool)
	RecordHandshake(duration time.Duration, state tls.ConnectionState)
	RecordHandshakeError(reason string)
	UpdateCertificateExpiry(cert *x509.Certificate)
	RecordCertificateReload(success bool)
}

var (
	_ MetricsRecorder = (*Metrics)(nil)
	_ MetricsRecorder = (*NopMetrics)(nil)
)
