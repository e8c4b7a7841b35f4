package main

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/avaiot/internal/config"
	"github.com/vyrodovalexey/avaiot/internal/iot"
	"github.com/vyrodovalexey/avaiot/internal/observability"
	"github.com/vyrodovalexey/avaiot/internal/testutil"
	iottls "github.com/vyrodovalexey/avaiot/internal/tls"
	"github.com/vyrodovalexey/avaiot/internal/transport"
)

// writeDeviceConfigWithCerts writes an mtls configuration and its key
// material into a temporary directory. A zero port leaves the port unset.
func writeDeviceConfigWithCerts(t *testing.T, endpoint string, port int) (string, *testutil.TestCertificates) {
	t.Helper()

	dir := t.TempDir()
	certs := testutil.GenerateTestCertificates(t)
	certs.WriteFiles(t, dir)

	content := fmt.Sprintf("endpoint: %q\nmode: mtls\ncertificate:\n  certFile: client.crt\n  keyFile: client.key\nca:\n  file: ca.crt\n",
		endpoint)
	if port != 0 {
		content += fmt.Sprintf("port: %d\n", port)
	}

	path := filepath.Join(dir, "device.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, certs
}

func writeDeviceConfig(t *testing.T, endpoint string, port int) string {
	t.Helper()

	path, _ := writeDeviceConfigWithCerts(t, endpoint, port)
	return path
}

func testFlags(configPath string) cliFlags {
	return cliFlags{
		configPath:  configPath,
		logLevel:    "debug",
		logFormat:   "json",
		dialTimeout: 5 * time.Second,
	}
}

func newObservedLogger() (observability.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return observability.NewLoggerFromZap(zap.New(core)), logs
}

func alpnPlatform() config.BuildOption {
	return config.WithBuilderOptions(iot.WithTLSOptions(
		iottls.WithPlatform(iottls.StaticPlatform{GOOS: "linux", ALPN: true}),
	))
}

// startBroker accepts TLS connections and completes the handshake.
func startBroker(t *testing.T, certs *testutil.TestCertificates) int {
	t.Helper()

	ln, err := cryptotls.Listen("tcp", "127.0.0.1:0", certs.ServerTLSConfig(t, iot.ALPNDirectMTLS))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_ = conn.(*cryptotls.Conn).Handshake()
				_, _ = io.Copy(io.Discard, conn)
			}()
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func TestApplication_DialsBroker(t *testing.T) {
	t.Parallel()

	path, certs := writeDeviceConfigWithCerts(t, "127.0.0.1", 0)
	port := startBroker(t, certs)
	appendPort(t, path, port)

	logger, logs := newObservedLogger()
	flags := testFlags(path)
	flags.dial = true

	app, err := newApplication(flags, logger)
	require.NoError(t, err)
	t.Cleanup(app.shutdown)
	app.buildOpts = []config.BuildOption{alpnPlatform()}

	require.NoError(t, app.loadConfig())
	require.NoError(t, app.apply(context.Background()))

	entries := logs.FilterMessage("broker handshake complete").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, transport.TransportMQTT, fields["transport"])
	assert.Equal(t, "TLS 1.3", fields["tls_version"])

	ready := logs.FilterMessage("connection configuration ready").All()
	require.Len(t, ready, 1)
	assert.Equal(t, "CN=test-thing,O=Test Client", ready[0].ContextMap()["certificate_subject"])
}

func TestApplication_DialFailureIsNotRetriedWithoutRetries(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	path := writeDeviceConfig(t, "127.0.0.1", port)
	flags := testFlags(path)
	flags.dial = true

	logger, logs := newObservedLogger()
	app, err := newApplication(flags, logger)
	require.NoError(t, err)
	t.Cleanup(app.shutdown)
	app.buildOpts = []config.BuildOption{alpnPlatform()}

	require.NoError(t, app.loadConfig())
	err = app.apply(context.Background())
	require.Error(t, err)

	var dialErr *transport.DialError
	assert.True(t, errors.As(err, &dialErr))
	assert.Zero(t, logs.FilterMessage("dial failed, retrying").Len())
}

func TestApplication_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	path := writeDeviceConfig(t, "example-ats.iot.us-east-1.amazonaws.com", 0)
	flags := testFlags(path)
	flags.metricsAddr = "127.0.0.1:0"

	app, err := newApplication(flags, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(app.shutdown)

	require.NoError(t, app.loadConfig())
	require.NoError(t, app.apply(context.Background()))

	resp, err := http.Get("http://" + app.metricsListener.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "iotconnect_config_builds_total")
	assert.Contains(t, string(body), "iotconnect_tls_context_realizations_total")
}

func TestApplication_MetricsListenError(t *testing.T) {
	t.Parallel()

	flags := testFlags("unused.yaml")
	flags.metricsAddr = "256.0.0.1:bad"

	_, err := newApplication(flags, observability.NopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen for metrics")
}

func TestApplication_RebuildsOnCertificateChange(t *testing.T) {
	t.Parallel()

	path, certs := writeDeviceConfigWithCerts(t, "example-ats.iot.us-east-1.amazonaws.com", 0)
	logger, logs := newObservedLogger()
	flags := testFlags(path)
	flags.watch = true

	app, err := newApplication(flags, logger)
	require.NoError(t, err)
	t.Cleanup(app.shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, app.loadConfig())
	require.NoError(t, app.apply(ctx))
	require.NoError(t, app.startWatchers(ctx))

	certFile := filepath.Join(filepath.Dir(path), "client.crt")
	require.NoError(t, os.WriteFile(certFile, certs.ClientCertPEM, 0o600))

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("certificate files changed, rebuilding").Len() > 0 &&
			logs.FilterMessage("connection configuration ready").Len() >= 2
	}, 5*time.Second, 20*time.Millisecond)
}

func TestApplication_RebuildFailureKeepsRunning(t *testing.T) {
	t.Parallel()

	path := writeDeviceConfig(t, "example-ats.iot.us-east-1.amazonaws.com", 0)
	logger, logs := newObservedLogger()

	app, err := newApplication(testFlags(path), logger)
	require.NoError(t, err)
	t.Cleanup(app.shutdown)
	require.NoError(t, app.loadConfig())

	certFile := filepath.Join(filepath.Dir(path), "client.crt")
	require.NoError(t, os.WriteFile(certFile, []byte("not a certificate"), 0o600))

	app.rebuild(context.Background(), "certificate")

	entries := logs.FilterMessage("rebuild failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "certificate", entries[0].ContextMap()["trigger"])
}

func TestIsRetryableDial(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "configuration error", err: iot.ErrConfig, want: false},
		{name: "network failure", err: &transport.DialError{Err: errors.New("connection refused")}, want: true},
		{name: "wrapped network failure", err: fmt.Errorf("attempt: %w", &transport.DialError{}), want: true},
		{name: "upgrade forbidden", err: &transport.DialError{StatusCode: http.StatusForbidden}, want: false},
		{name: "upgrade server error", err: &transport.DialError{StatusCode: http.StatusBadGateway}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isRetryableDial(tt.err))
		})
	}
}

func TestCertificatePaths(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  *config.Config
		want []string
	}{
		{name: "nil", cfg: nil, want: nil},
		{name: "websocket", cfg: &config.Config{Mode: config.ModeWebsocket}, want: nil},
		{
			name: "files and ca",
			cfg: &config.Config{
				Certificate: &config.CertificateConfig{CertFile: "/d/c.crt", KeyFile: "/d/c.key"},
				CA:          &config.CAConfig{File: "/d/ca.crt"},
			},
			want: []string{"/d/c.crt", "/d/c.key", "/d/ca.crt"},
		},
		{
			name: "inline data",
			cfg: &config.Config{
				Certificate: &config.CertificateConfig{CertData: "pem", KeyData: "pem"},
				CA:          &config.CAConfig{Data: "pem"},
			},
			want: nil,
		},
		{
			name: "pkcs11 certificate",
			cfg:  &config.Config{PKCS11: &config.PKCS11Config{CertFile: "/d/token.crt"}},
			want: []string{"/d/token.crt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, certificatePaths(tt.cfg))
		})
	}
}

// appendPort adds a port to an existing configuration file.
func appendPort(t *testing.T, path string, port int) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	defer f.Close()

	_, err = fmt.Fprintf(f, "port: %d\n", port)
	require.NoError(t, err)
}
