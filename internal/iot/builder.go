package iot

import (
	"time"

	"github.com/vyrodovalexey/avaiot/internal/observability"
	iottls "github.com/vyrodovalexey/avaiot/internal/tls"
	"github.com/vyrodovalexey/avaiot/internal/transport"
)

// Broker ports.
const (
	// PortALPN is used for WebSocket and ALPN-negotiated MQTT.
	PortALPN uint16 = 443

	// PortMQTT is the MQTT over TLS port for clients without ALPN.
	PortMQTT uint16 = 8883
)

// ALPN protocol tokens.
const (
	// ALPNDirectMTLS selects MQTT with mutual TLS on port 443.
	ALPNDirectMTLS = "x-amzn-mqtt-ca"

	// ALPNMQTT selects plain MQTT, used for custom authorizers.
	ALPNMQTT = "mqtt"
)

// Build path labels for metrics.
const (
	pathMTLS             = "mtls"
	pathCustomAuthorizer = "custom_authorizer"
	pathWebsocket        = "websocket"
)

// Builder accumulates connection settings until Build. A Builder is owned
// by a single goroutine. Setters return the Builder for chaining; a
// failing setter records a sticky error after which every setter is a
// no-op and Build returns an invalid config carrying that error.
type Builder struct {
	endpoint     string
	portOverride uint16
	socket       transport.SocketOptions
	tlsOptions   *iottls.ContextOptions
	websocket    *WebsocketConfig
	proxy        *transport.ProxyOptions

	username         string
	password         string
	customAuthorizer bool

	metricsEnabled bool
	sdkName        string
	sdkVersion     string

	err error

	tlsOpts []iottls.Option
	logger  observability.Logger
	metrics observability.MetricsRecorder
	tracer  *observability.Tracer
}

// BuilderOption is a functional option for configuring Builder.
type BuilderOption func(*Builder)

// WithBuilderLogger sets the logger for the builder and its TLS options.
func WithBuilderLogger(logger observability.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBuilderMetrics sets the metrics recorder for Build.
func WithBuilderMetrics(metrics observability.MetricsRecorder) BuilderOption {
	return func(b *Builder) {
		if metrics != nil {
			b.metrics = metrics
		}
	}
}

// WithBuilderTracer sets the tracer used by the signing interceptor.
func WithBuilderTracer(tracer *observability.Tracer) BuilderOption {
	return func(b *Builder) {
		if tracer != nil {
			b.tracer = tracer
		}
	}
}

// WithTLSOptions passes options to the TLS option set constructor, for
// example a platform override or a certificate store.
func WithTLSOptions(opts ...iottls.Option) BuilderOption {
	return func(b *Builder) {
		b.tlsOpts = append(b.tlsOpts, opts...)
	}
}

func newBuilder(opts []BuilderOption) *Builder {
	b := &Builder{
		socket:         transport.DefaultSocketOptions(),
		metricsEnabled: true,
		sdkName:        DefaultSDKName,
		sdkVersion:     DefaultSDKVersion,
		logger:         observability.NopLogger(),
		metrics:        observability.NewNopMetrics(),
		tracer:         observability.NopTracer(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// tlsOptionList returns the TLS constructor options with the builder logger
// applied first so callers can override it.
func (b *Builder) tlsOptionList() []iottls.Option {
	return append([]iottls.Option{iottls.WithLogger(b.logger)}, b.tlsOpts...)
}

func (b *Builder) setTLSOptions(opts *iottls.ContextOptions, err error) *Builder {
	if err != nil {
		b.err = err
		return b
	}
	b.tlsOptions = opts
	return b
}

// NewBuilderFromFiles creates a Builder for mutual TLS with a PEM
// certificate and private key read from disk.
func NewBuilderFromFiles(certPath, keyPath string, opts ...BuilderOption) *Builder {
	b := newBuilder(opts)
	return b.setTLSOptions(iottls.NewMTLSFromPath(certPath, keyPath, b.tlsOptionList()...))
}

// NewBuilderFromBuffers creates a Builder for mutual TLS with an in-memory
// PEM certificate and private key.
func NewBuilderFromBuffers(certPEM, keyPEM []byte, opts ...BuilderOption) *Builder {
	b := newBuilder(opts)
	return b.setTLSOptions(iottls.NewMTLSFromBuffers(certPEM, keyPEM, b.tlsOptionList()...))
}

// NewBuilderFromPKCS11 creates a Builder for mutual TLS with the private
// key held on a PKCS#11 token.
func NewBuilderFromPKCS11(pkcs11 *iottls.PKCS11Options, opts ...BuilderOption) *Builder {
	b := newBuilder(opts)
	return b.setTLSOptions(iottls.NewMTLSFromPKCS11(pkcs11, b.tlsOptionList()...))
}

// NewBuilderFromSystemStore creates a Builder for mutual TLS with a
// certificate from the platform certificate store.
func NewBuilderFromSystemStore(storePath string, opts ...BuilderOption) *Builder {
	b := newBuilder(opts)
	return b.setTLSOptions(iottls.NewMTLSFromSystemStore(storePath, b.tlsOptionList()...))
}

// NewWebsocketBuilder creates a Builder for a SigV4-signed WebSocket
// connection. No client certificate is presented.
func NewWebsocketBuilder(ws *WebsocketConfig, opts ...BuilderOption) *Builder {
	b := newBuilder(opts)
	if ws == nil {
		b.err = kindError(ErrConfig, ErrWebsocketConfigRequired)
		return b
	}
	b.websocket = ws
	b.tlsOptions = iottls.NewDefaultClient(b.tlsOptionList()...)
	return b
}

// NewDefaultBuilder creates a Builder that presents no client certificate,
// for use with a custom authorizer.
func NewDefaultBuilder(opts ...BuilderOption) *Builder {
	b := newBuilder(opts)
	b.tlsOptions = iottls.NewDefaultClient(b.tlsOptionList()...)
	return b
}

// initialized reports whether setters that touch the TLS options may run,
// recording a sticky error for a Builder not created by a constructor.
func (b *Builder) initialized() bool {
	if b.err != nil {
		return false
	}
	if b.tlsOptions == nil {
		b.err = kindError(ErrConfig, ErrBuilderNotInitialized)
		return false
	}
	return true
}

// Err returns the sticky error, or nil.
func (b *Builder) Err() error {
	return b.err
}

// WithEndpoint sets the broker host name.
func (b *Builder) WithEndpoint(endpoint string) *Builder {
	if b.err == nil {
		b.endpoint = endpoint
	}
	return b
}

// WithPortOverride sets the broker port. Zero restores automatic selection.
func (b *Builder) WithPortOverride(port uint16) *Builder {
	if b.err == nil {
		b.portOverride = port
	}
	return b
}

// WithCertificateAuthorityFile replaces the system roots with the CA bundle
// at caPath.
func (b *Builder) WithCertificateAuthorityFile(caPath string) *Builder {
	if b.initialized() {
		b.err = b.tlsOptions.OverrideDefaultTrustStoreFromPath(caPath)
	}
	return b
}

// WithCertificateAuthority replaces the system roots with a PEM CA bundle.
func (b *Builder) WithCertificateAuthority(caPEM []byte) *Builder {
	if b.initialized() {
		b.err = b.tlsOptions.OverrideDefaultTrustStore(caPEM)
	}
	return b
}

// WithTCPKeepAlive enables TCP keep-alive probes.
func (b *Builder) WithTCPKeepAlive() *Builder {
	if b.err == nil {
		b.socket.KeepAlive = true
	}
	return b
}

// WithTCPConnectTimeout sets the TCP connect timeout.
func (b *Builder) WithTCPConnectTimeout(timeout time.Duration) *Builder {
	if b.err == nil {
		b.socket.ConnectTimeout = timeout
	}
	return b
}

// WithTCPKeepAliveTimeout sets the idle time before the first probe.
func (b *Builder) WithTCPKeepAliveTimeout(timeout time.Duration) *Builder {
	if b.err == nil {
		b.socket.KeepAliveTimeout = timeout
	}
	return b
}

// WithTCPKeepAliveInterval sets the time between keep-alive probes.
func (b *Builder) WithTCPKeepAliveInterval(interval time.Duration) *Builder {
	if b.err == nil {
		b.socket.KeepAliveInterval = interval
	}
	return b
}

// WithTCPKeepAliveMaxProbes sets the number of unanswered probes before
// the connection is dropped.
func (b *Builder) WithTCPKeepAliveMaxProbes(probes int) *Builder {
	if b.err == nil {
		b.socket.KeepAliveMaxProbes = probes
	}
	return b
}

// WithMinimumTLSVersion sets the lowest TLS version offered.
func (b *Builder) WithMinimumTLSVersion(version iottls.TLSVersion) *Builder {
	if b.initialized() {
		b.err = b.tlsOptions.SetMinimumTLSVersion(version)
	}
	return b
}

// WithHTTPProxyOptions routes connections through a proxy. It takes
// precedence over proxy options on the WebSocket signing setup.
func (b *Builder) WithHTTPProxyOptions(opts *transport.ProxyOptions) *Builder {
	if b.err != nil {
		return b
	}
	if err := opts.Validate(); err != nil {
		b.err = kindError(ErrConfig, err)
		return b
	}
	b.proxy = opts.Clone()
	return b
}

// WithCustomAuthorizer configures a broker custom authorizer. An empty
// username keeps the current one; non-empty authorizer name and signature
// are appended as username query parameters. The ALPN list becomes "mqtt"
// and the port 443. Platforms without ALPN cannot reach custom authorizers.
func (b *Builder) WithCustomAuthorizer(username, authorizerName, authorizerSignature, password string) *Builder {
	if !b.initialized() {
		return b
	}
	if !b.tlsOptions.IsALPNSupported() {
		b.err = kindError(ErrConfig, ErrALPNRequired)
		return b
	}

	b.customAuthorizer = true

	composed := username
	if composed == "" {
		composed = b.username
	}
	if authorizerName != "" {
		composed = AddToUsernameParameter(composed, authorizerName, AuthorizerNameParameter)
	}
	if authorizerSignature != "" {
		composed = AddToUsernameParameter(composed, authorizerSignature, AuthorizerSignatureParameter)
	}

	b.username = composed
	b.password = password

	if err := b.tlsOptions.SetALPNList(ALPNMQTT); err != nil {
		b.err = err
		return b
	}
	b.portOverride = PortALPN
	return b
}

// WithUsername sets the MQTT username.
func (b *Builder) WithUsername(username string) *Builder {
	if b.err == nil {
		b.username = username
	}
	return b
}

// WithPassword sets the MQTT password.
func (b *Builder) WithPassword(password string) *Builder {
	if b.err == nil {
		b.password = password
	}
	return b
}

// WithMetricsCollection toggles the SDK name and version username
// parameters. Enabled by default.
func (b *Builder) WithMetricsCollection(enabled bool) *Builder {
	if b.err == nil {
		b.metricsEnabled = enabled
	}
	return b
}

// WithSDKName sets the SDK name reported in the username.
func (b *Builder) WithSDKName(name string) *Builder {
	if b.err == nil {
		b.sdkName = name
	}
	return b
}

// WithSDKVersion sets the SDK version reported in the username.
func (b *Builder) WithSDKVersion(version string) *Builder {
	if b.err == nil {
		b.sdkVersion = version
	}
	return b
}

// TLSOptions returns the underlying TLS option set, or nil after a
// constructor failure.
func (b *Builder) TLSOptions() *iottls.ContextOptions {
	return b.tlsOptions
}

// Build resolves the port, ALPN list, username and proxy options and
// realizes the TLS context. It never returns nil; check Err on the result.
// Build can run again and derives a new config from the current settings.
func (b *Builder) Build() *ConnectionConfig {
	if b.logger == nil || b.metrics == nil {
		return invalidConfig(kindError(ErrConfig, ErrBuilderNotInitialized))
	}
	path := b.buildPath()

	cfg, err := b.build()
	b.metrics.RecordConfigBuild(path, err == nil)
	if err != nil {
		b.logger.Warn("connection configuration invalid",
			observability.String("path", path),
			observability.Error(err),
		)
		return invalidConfig(err)
	}

	b.logger.Debug("connection configuration built",
		observability.String("path", path),
		observability.String("endpoint", cfg.endpoint),
		observability.Uint16("port", cfg.port),
		observability.Strings("alpn", cfg.tlsCtx.NextProtos()),
		observability.String("transport", cfg.Transport()),
		observability.Bool("proxy", cfg.proxy != nil),
	)
	return cfg
}

func (b *Builder) build() (*ConnectionConfig, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.tlsOptions == nil {
		return nil, kindError(ErrConfig, ErrBuilderNotInitialized)
	}

	port := b.resolvePort()
	customAuthorizer := b.usesCustomAuthorizer()
	alpnSupported := b.tlsOptions.IsALPNSupported()

	switch {
	case port == PortALPN && b.websocket == nil && alpnSupported && !customAuthorizer:
		if err := b.tlsOptions.SetALPNList(ALPNDirectMTLS); err != nil {
			return nil, err
		}
	case customAuthorizer:
		if port != PortALPN {
			b.logger.Warn("custom authorizer on unsupported port, expected 443",
				observability.Uint16("port", port),
			)
		}
		if err := b.tlsOptions.SetALPNList(ALPNMQTT); err != nil {
			return nil, err
		}
	}

	username := b.username
	if b.metricsEnabled {
		username = appendMetrics(username, b.sdkName, b.sdkVersion)
	}

	tlsCtx, err := iottls.NewContext(b.tlsOptions)
	if err != nil {
		return nil, err
	}

	cfg := &ConnectionConfig{
		endpoint: b.endpoint,
		port:     port,
		socket:   b.socket,
		tlsCtx:   tlsCtx,
		username: username,
		password: b.password,
		proxy:    b.proxy.Clone(),
	}

	if b.websocket == nil {
		return cfg, nil
	}

	cfg.interceptor = NewSigningInterceptor(b.websocket, b.tracer)
	if cfg.proxy == nil {
		cfg.proxy = b.websocket.ProxyOptions()
	}
	return cfg, nil
}

// resolvePort returns the override, else 443 for WebSocket or ALPN, else 8883.
func (b *Builder) resolvePort() uint16 {
	if b.portOverride != 0 {
		return b.portOverride
	}
	if b.websocket != nil || b.tlsOptions.IsALPNSupported() {
		return PortALPN
	}
	return PortMQTT
}

// usesCustomAuthorizer reports an explicit custom authorizer or one implied
// by the username.
func (b *Builder) usesCustomAuthorizer() bool {
	return b.customAuthorizer || usesCustomAuthorizer(b.username)
}

func (b *Builder) buildPath() string {
	switch {
	case b.websocket != nil:
		return pathWebsocket
	case b.tlsOptions != nil && b.usesCustomAuthorizer():
		return pathCustomAuthorizer
	default:
		return pathMTLS
	}
}
