package main

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/vyrodovalexey/avaiot/internal/config"
	"github.com/vyrodovalexey/avaiot/internal/iot"
	"github.com/vyrodovalexey/avaiot/internal/observability"
	"github.com/vyrodovalexey/avaiot/internal/retry"
	iottls "github.com/vyrodovalexey/avaiot/internal/tls"
	"github.com/vyrodovalexey/avaiot/internal/transport"
	"github.com/vyrodovalexey/avaiot/internal/vault"
)

const (
	metricsNamespace = "iotconnect"
	shutdownTimeout  = 5 * time.Second
)

// application holds all application components.
type application struct {
	flags        cliFlags
	logger       observability.Logger
	metrics      *observability.Metrics
	tlsMetrics   *iottls.Metrics
	vaultMetrics *vault.Metrics
	tracer       *observability.Tracer
	client       *iot.Client

	// buildOpts are appended to the options passed to config.NewBuilder.
	buildOpts []config.BuildOption

	metricsServer   *http.Server
	metricsListener net.Listener

	mu            sync.Mutex
	cfg           *config.Config
	configWatcher *config.Watcher
	certWatcher   *iottls.CertificateWatcher
	certPaths     []string
	watchWG       sync.WaitGroup
}

// newApplication initializes metrics, tracing and the connection client.
// All metrics share one registry.
func newApplication(flags cliFlags, logger observability.Logger) (*application, error) {
	metrics := observability.NewMetrics(metricsNamespace)
	registry := metrics.Registry()

	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  metricsNamespace,
		Enabled:      flags.otlpEndpoint != "",
		OTLPEndpoint: flags.otlpEndpoint,
		SamplingRate: 1.0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	tlsMetrics := iottls.NewMetrics(metricsNamespace, iottls.WithRegistry(registry))
	app := &application{
		flags:        flags,
		logger:       logger,
		metrics:      metrics,
		tlsMetrics:   tlsMetrics,
		vaultMetrics: vault.NewMetrics(metricsNamespace, vault.WithRegistry(registry)),
		tracer:       tracer,
		client: iot.NewClient(
			transport.NewClient(
				transport.WithTransportLogger(logger),
				transport.WithTLSMetrics(tlsMetrics),
			),
			iot.WithClientLogger(logger),
			iot.WithClientMetrics(metrics),
		),
	}

	if flags.metricsAddr != "" {
		if err := app.startMetricsServer(flags.metricsAddr); err != nil {
			_ = tracer.Shutdown(context.Background())
			return nil, err
		}
	}

	return app, nil
}

// startMetricsServer serves the shared registry on addr.
func (a *application) startMetricsServer(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())

	a.metricsListener = ln
	a.metricsServer = &http.Server{
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	a.logger.Info("starting metrics server", observability.String("address", ln.Addr().String()))
	go func() {
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", observability.Error(err))
		}
	}()
	return nil
}

// loadConfig loads and validates the configuration file.
func (a *application) loadConfig() error {
	cfg, err := config.LoadConfig(a.flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.setConfig(cfg)
	a.logger.Info("configuration loaded",
		observability.String("mode", string(cfg.Mode)),
		observability.String("endpoint", cfg.Endpoint),
	)
	return nil
}

func (a *application) setConfig(cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

func (a *application) currentConfig() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// newBuilder assembles an iot.Builder from cfg with the application's
// logger, metrics and tracer wired in.
func (a *application) newBuilder(ctx context.Context, cfg *config.Config) (*iot.Builder, error) {
	opts := append([]config.BuildOption{
		config.WithLogger(a.logger),
		config.WithBuilderOptions(
			iot.WithBuilderLogger(a.logger),
			iot.WithBuilderMetrics(a.metrics),
			iot.WithBuilderTracer(a.tracer),
			iot.WithTLSOptions(iottls.WithMetrics(a.tlsMetrics)),
		),
		config.WithVaultOptions(vault.WithMetrics(a.vaultMetrics)),
	}, a.buildOpts...)

	return config.NewBuilder(ctx, cfg, opts...)
}

// apply builds the current configuration, logs the resolved connection
// settings and dials the broker when requested.
func (a *application) apply(ctx context.Context) error {
	b, err := a.newBuilder(ctx, a.currentConfig())
	if err != nil {
		return fmt.Errorf("failed to configure connection: %w", err)
	}

	conn := b.Build()
	if err := conn.Err(); err != nil {
		return fmt.Errorf("failed to build connection configuration: %w", err)
	}
	a.logConnection(conn)

	if !a.flags.dial {
		return nil
	}
	return a.dial(ctx, b)
}

func (a *application) logConnection(conn *iot.ConnectionConfig) {
	fields := []observability.Field{
		observability.String("endpoint", conn.Endpoint()),
		observability.Uint16("port", conn.Port()),
		observability.String("transport", conn.Transport()),
		observability.Strings("alpn", conn.TLSContext().NextProtos()),
		observability.String("certificate_source", string(conn.TLSContext().Source())),
		observability.Bool("proxy", conn.ProxyOptions() != nil),
	}
	if leaf := conn.TLSContext().Leaf(); leaf != nil {
		fields = append(fields,
			observability.String("certificate_subject", leaf.Subject),
			observability.String("certificate_not_after", leaf.NotAfter),
		)
	}
	a.logger.Info("connection configuration ready", fields...)
}

// dial connects to the broker, retrying network failures. Each attempt
// builds a fresh configuration because a configuration is consumed by the
// connection it creates.
func (a *application) dial(ctx context.Context, b *iot.Builder) error {
	retryCfg := retry.NoRetry()
	if a.flags.dialRetries > 0 {
		retryCfg = &retry.Config{
			MaxRetries:     a.flags.dialRetries,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			JitterFactor:   0.25,
		}
	}

	return retry.Do(ctx, retryCfg, func(ctx context.Context) error {
		return a.dialOnce(ctx, b)
	}, &retry.Options{
		ShouldRetry: isRetryableDial,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			a.logger.Warn("dial failed, retrying",
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err),
			)
		},
	})
}

func (a *application) dialOnce(ctx context.Context, b *iot.Builder) error {
	cfg := b.Build()
	if err := cfg.Err(); err != nil {
		return err
	}

	conn, err := a.client.NewConnection(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	dialCtx, cancel := context.WithTimeout(ctx, a.flags.dialTimeout)
	defer cancel()

	netConn, err := conn.Dial(dialCtx)
	if err != nil {
		return err
	}

	fields := []observability.Field{
		observability.String("connection_id", conn.ID()),
		observability.String("remote_address", netConn.RemoteAddr().String()),
		observability.String("transport", cfg.Transport()),
	}
	if tc, ok := netConn.(interface {
		ConnectionState() cryptotls.ConnectionState
	}); ok {
		state := tc.ConnectionState()
		fields = append(fields,
			observability.String("negotiated_protocol", state.NegotiatedProtocol),
			observability.String("tls_version", cryptotls.VersionName(state.Version)),
		)
	}
	a.logger.Info("broker handshake complete", fields...)
	return nil
}

// isRetryableDial retries network failures and server-side upgrade
// rejections. Configuration and authorization errors are final.
func isRetryableDial(err error) bool {
	var dialErr *transport.DialError
	if !errors.As(err, &dialErr) {
		return false
	}
	return dialErr.StatusCode == 0 || dialErr.StatusCode >= http.StatusInternalServerError
}

// startWatchers reloads on configuration and certificate file changes.
func (a *application) startWatchers(ctx context.Context) error {
	watcher, err := config.NewWatcher(a.flags.configPath,
		func(cfg *config.Config) {
			a.logger.Info("configuration changed, rebuilding")
			a.setConfig(cfg)
			a.watchCertificates(ctx, cfg)
			a.rebuild(ctx, "config")
		},
		config.WithWatcherLogger(a.logger),
		config.WithErrorCallback(func(err error) {
			a.logger.Warn("configuration reload failed", observability.Error(err))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		_ = watcher.Stop()
		return fmt.Errorf("failed to start config watcher: %w", err)
	}

	a.mu.Lock()
	a.configWatcher = watcher
	a.mu.Unlock()

	a.watchCertificates(ctx, a.currentConfig())
	return nil
}

// watchCertificates (re)starts the certificate watcher when the set of
// certificate files changes.
func (a *application) watchCertificates(ctx context.Context, cfg *config.Config) {
	paths := certificatePaths(cfg)

	a.mu.Lock()
	if slices.Equal(paths, a.certPaths) {
		a.mu.Unlock()
		return
	}
	old := a.certWatcher
	a.certWatcher = nil
	a.certPaths = paths
	a.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if len(paths) == 0 {
		return
	}

	w, err := iottls.NewCertificateWatcher(paths,
		iottls.WithWatcherLogger(a.logger),
		iottls.WithWatcherMetrics(a.tlsMetrics),
	)
	if err == nil {
		err = w.Start(ctx)
	}
	if err != nil {
		a.logger.Warn("failed to watch certificate files", observability.Error(err))
		return
	}

	a.mu.Lock()
	a.certWatcher = w
	a.mu.Unlock()

	a.watchWG.Add(1)
	go func() {
		defer a.watchWG.Done()
		for event := range w.Events() {
			switch event.Type {
			case iottls.CertificateEventChanged:
				a.logger.Info("certificate files changed, rebuilding",
					observability.Strings("paths", event.Paths),
				)
				a.rebuild(ctx, "certificate")
			case iottls.CertificateEventError:
				a.logger.Warn("certificate watcher error", observability.Error(event.Error))
			}
		}
	}()
}

// rebuild applies the current configuration after a change. Failures keep
// the process running so a later fix can be picked up.
func (a *application) rebuild(ctx context.Context, trigger string) {
	if err := a.apply(ctx); err != nil {
		a.logger.Error("rebuild failed",
			observability.String("trigger", trigger),
			observability.Error(err),
		)
	}
}

// certificatePaths lists the files a configuration reads key material from.
func certificatePaths(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}

	var paths []string
	if c := cfg.Certificate; c != nil && c.CertFile != "" {
		paths = append(paths, c.CertFile, c.KeyFile)
	}
	if p := cfg.PKCS11; p != nil && p.CertFile != "" {
		paths = append(paths, p.CertFile)
	}
	if ca := cfg.CA; ca != nil && ca.File != "" {
		paths = append(paths, ca.File)
	}
	return paths
}

// shutdown stops the watchers, the metrics server and the tracer.
func (a *application) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.mu.Lock()
	configWatcher, certWatcher := a.configWatcher, a.certWatcher
	a.configWatcher, a.certWatcher = nil, nil
	a.mu.Unlock()

	if configWatcher != nil {
		_ = configWatcher.Stop()
	}
	if certWatcher != nil {
		_ = certWatcher.Close()
	}
	a.watchWG.Wait()

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}

	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	a.logger.Info("iotconnect stopped")
}
