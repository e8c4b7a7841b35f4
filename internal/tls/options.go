package tls

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"slices"

	"github.com/vyrodovalexey/avaiot/internal/observability"
)

// maxALPNProtocolLength is the protocol name limit imposed by RFC 7301.
const maxALPNProtocolLength = 255

// ContextOptions accumulates client TLS settings until NewContext realizes
// them. A ContextOptions value is owned by a single goroutine.
type ContextOptions struct {
	source CertificateSource

	certPath string
	keyPath  string
	certPEM  []byte
	keyPEM   []byte

	pkcs11   *PKCS11Options
	storeRef StoreReference
	store    CertificateStore

	caPath string
	caPEM  []byte

	minVersion TLSVersion
	alpn       []string

	platform Platform
	logger   observability.Logger
	metrics  MetricsRecorder
}

// Option is a functional option for configuring ContextOptions.
type Option func(*ContextOptions)

// WithPlatform overrides the host platform description.
func WithPlatform(platform Platform) Option {
	return func(o *ContextOptions) {
		if platform != nil {
			o.platform = platform
		}
	}
}

// WithCertificateStore sets the platform certificate store used by
// NewMTLSFromSystemStore.
func WithCertificateStore(store CertificateStore) Option {
	return func(o *ContextOptions) {
		o.store = store
	}
}

// WithLogger sets the logger used when realizing the context.
func WithLogger(logger observability.Logger) Option {
	return func(o *ContextOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder used when realizing the context.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(o *ContextOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

func newContextOptions(source CertificateSource, opts []Option) *ContextOptions {
	o := &ContextOptions{
		source:     source,
		minVersion: TLSVersion12,
		platform:   HostPlatform(),
		logger:     observability.NopLogger(),
		metrics:    NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewDefaultClient returns options that present no client certificate.
func NewDefaultClient(opts ...Option) *ContextOptions {
	return newContextOptions(CertificateSourceNone, opts)
}

// NewMTLSFromPath returns mTLS options reading a PEM certificate and private
// key from disk. The files are read immediately.
func NewMTLSFromPath(certPath, keyPath string, opts ...Option) (*ContextOptions, error) {
	if certPath == "" {
		return nil, kindError(ErrConfig, NewConfigurationError("certPath", "certificate file path required"))
	}
	if keyPath == "" {
		return nil, kindError(ErrConfig, NewConfigurationError("keyPath", "key file path required"))
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, kindError(ErrConfig, NewCertificateErrorWithCause(certPath, "failed to read certificate", err))
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, kindError(ErrConfig, NewCertificateErrorWithCause(keyPath, "failed to read private key", err))
	}

	if err := checkPEMPair(certPEM, keyPEM); err != nil {
		return nil, err
	}

	o := newContextOptions(CertificateSourceFile, opts)
	o.certPath = certPath
	o.keyPath = keyPath
	o.certPEM = certPEM
	o.keyPEM = keyPEM
	return o, nil
}

// NewMTLSFromBuffers returns mTLS options using in-memory PEM data.
func NewMTLSFromBuffers(certPEM, keyPEM []byte, opts ...Option) (*ContextOptions, error) {
	if err := checkPEMPair(certPEM, keyPEM); err != nil {
		return nil, err
	}

	o := newContextOptions(CertificateSourceBuffer, opts)
	o.certPEM = slices.Clone(certPEM)
	o.keyPEM = slices.Clone(keyPEM)
	return o, nil
}

// NewMTLSFromPKCS11 returns mTLS options whose private key stays on a
// PKCS#11 token. Only Unix-family platforms are supported.
func NewMTLSFromPKCS11(pkcs11 *PKCS11Options, opts ...Option) (*ContextOptions, error) {
	o := newContextOptions(CertificateSourcePKCS11, opts)

	if !IsUnixFamily(o.platform.OS()) {
		return nil, kindError(ErrUnsupportedPlatform,
			NewConfigurationError("pkcs11", "PKCS#11 is only supported on Unix platforms, not "+o.platform.OS()))
	}
	if err := pkcs11.validate(); err != nil {
		return nil, kindError(ErrConfig, err)
	}

	clone := *pkcs11
	clone.CertificateFileContents = slices.Clone(pkcs11.CertificateFileContents)
	o.pkcs11 = &clone
	return o, nil
}

// NewMTLSFromSystemStore returns mTLS options using a certificate from the
// platform certificate store, addressed as Location\Store\Thumbprint.
func NewMTLSFromSystemStore(storePath string, opts ...Option) (*ContextOptions, error) {
	o := newContextOptions(CertificateSourceSystemStore, opts)

	if !HasSystemCertificateStore(o.platform.OS()) {
		return nil, kindError(ErrUnsupportedPlatform,
			NewConfigurationError("systemStore", "certificate store is not available on "+o.platform.OS()))
	}

	ref, err := ParseStoreReference(storePath)
	if err != nil {
		return nil, kindError(ErrConfig, err)
	}
	if o.store == nil {
		return nil, kindError(ErrConfig, NewConfigurationError("systemStore", "certificate store required"))
	}

	o.storeRef = ref
	return o, nil
}

// checkPEMPair rejects inputs that are not PEM before any parsing happens.
func checkPEMPair(certPEM, keyPEM []byte) error {
	if block, _ := pem.Decode(certPEM); block == nil {
		return kindError(ErrConfig, NewCertificateErrorWithCause("", "certificate is not PEM encoded", ErrCertificateInvalid))
	}
	if block, _ := pem.Decode(keyPEM); block == nil {
		return kindError(ErrConfig, NewCertificateErrorWithCause("", "private key is not PEM encoded", ErrPrivateKeyInvalid))
	}
	return nil
}

// OverrideDefaultTrustStoreFromPath replaces the system roots with the CA
// bundle at caPath. The trust store can be overridden once.
func (o *ContextOptions) OverrideDefaultTrustStoreFromPath(caPath string) error {
	data, err := os.ReadFile(caPath)
	if err != nil {
		return kindError(ErrConfig, NewCertificateErrorWithCause(caPath, "failed to read CA bundle", err))
	}
	if err := o.setTrustStore(caPath, data); err != nil {
		return err
	}
	o.caPath = caPath
	return nil
}

// OverrideDefaultTrustStore replaces the system roots with a PEM CA bundle.
func (o *ContextOptions) OverrideDefaultTrustStore(caPEM []byte) error {
	return o.setTrustStore("", slices.Clone(caPEM))
}

func (o *ContextOptions) setTrustStore(caPath string, caPEM []byte) error {
	if o.caPEM != nil {
		return kindError(ErrConfig, NewConfigurationErrorWithCause("trustStore", "override rejected", ErrTrustStoreAlreadySet))
	}
	if !x509.NewCertPool().AppendCertsFromPEM(caPEM) {
		return kindError(ErrConfig, NewCertificateErrorWithCause(caPath, "no certificates found in CA bundle", ErrCAInvalid))
	}
	o.caPEM = caPEM
	return nil
}

// SetALPNList replaces the ALPN protocol list.
func (o *ContextOptions) SetALPNList(protocols ...string) error {
	if len(protocols) == 0 {
		return kindError(ErrTLS, NewConfigurationErrorWithCause("alpn", "protocol list is empty", ErrALPNInvalid))
	}
	for _, p := range protocols {
		if p == "" || len(p) > maxALPNProtocolLength {
			return kindError(ErrTLS, NewConfigurationErrorWithCause("alpn", "invalid protocol "+p, ErrALPNInvalid))
		}
	}
	o.alpn = slices.Clone(protocols)
	return nil
}

// ALPNList returns a copy of the configured ALPN protocols.
func (o *ContextOptions) ALPNList() []string {
	return slices.Clone(o.alpn)
}

// IsALPNSupported reports the platform's ALPN capability.
func (o *ContextOptions) IsALPNSupported() bool {
	return o.platform.ALPNSupported()
}

// Platform returns the platform description the options were created with.
func (o *ContextOptions) Platform() Platform {
	return o.platform
}

// SetMinimumTLSVersion sets the lowest protocol version offered.
func (o *ContextOptions) SetMinimumTLSVersion(version TLSVersion) error {
	if !version.IsValid() {
		return kindError(ErrConfig, NewConfigurationErrorWithCause("minVersion", string(version), ErrTLSVersionInvalid))
	}
	if version.IsLegacy() {
		o.logger.Warn("legacy TLS version enabled", observability.String("min_version", version.String()))
	}
	o.minVersion = version
	return nil
}

// MinimumTLSVersion returns the lowest protocol version offered.
func (o *ContextOptions) MinimumTLSVersion() TLSVersion {
	return o.minVersion
}

// Source returns the active certificate source.
func (o *ContextOptions) Source() CertificateSource {
	return o.source
}

// WatchPaths returns the files backing these options, for hot-reload watchers.
func (o *ContextOptions) WatchPaths() []string {
	var paths []string
	for _, p := range []string{o.certPath, o.keyPath, o.caPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	if o.pkcs11 != nil && o.pkcs11.CertificateFilePath != "" {
		paths = append(paths, o.pkcs11.CertificateFilePath)
	}
	return paths
}
