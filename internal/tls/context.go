package tls

import (
	"crypto/tls"
	"crypto/x509"
	"slices"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avaiot/internal/observability"
)

// Context is a realized client TLS configuration. It is owned by exactly one
// connection: Claim succeeds once.
type Context struct {
	config  *tls.Config
	source  CertificateSource
	leaf    *CertificateInfo
	claimed atomic.Bool
}

// NewContext realizes opts into a TLS context. Certificate material is
// parsed and checked here; no network I/O is performed.
func NewContext(opts *ContextOptions) (*Context, error) {
	if opts == nil {
		return nil, kindError(ErrConfig, NewConfigurationError("options", "TLS options are required"))
	}

	logger := opts.logger.With(observability.String("source", opts.source.String()))

	ctx, err := realize(opts)
	opts.metrics.RecordRealization(opts.source, err == nil)
	if err != nil {
		logger.Error("failed to realize TLS context", observability.Error(err))
		return nil, err
	}

	if ctx.leaf != nil {
		if cert := ctx.config.Certificates[0].Leaf; cert != nil {
			opts.metrics.UpdateCertificateExpiry(cert)
			if time.Now().After(cert.NotAfter) {
				logger.Warn("client certificate has expired",
					observability.String("subject", ctx.leaf.Subject),
					observability.String("not_after", ctx.leaf.NotAfter),
				)
			}
		}
	}

	logger.Debug("TLS context realized",
		observability.Strings("alpn", ctx.config.NextProtos),
		observability.String("min_version", TLSVersionName(ctx.config.MinVersion)),
	)

	return ctx, nil
}

func realize(opts *ContextOptions) (*Context, error) {
	config := &tls.Config{
		MinVersion: opts.minVersion.ToTLSVersion(),
		NextProtos: slices.Clone(opts.alpn),
	}

	if opts.caPEM != nil {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(opts.caPEM) {
			return nil, kindError(ErrTLS, NewCertificateErrorWithCause(opts.caPath, "failed to load CA bundle", ErrCAInvalid))
		}
		config.RootCAs = pool
	}

	cert, err := loadClientCertificate(opts)
	if err != nil {
		return nil, kindError(ErrTLS, err)
	}

	ctx := &Context{config: config, source: opts.source}
	if cert != nil {
		config.Certificates = []tls.Certificate{*cert}
		ctx.leaf = ExtractCertificateInfo(cert.Leaf)
	}

	return ctx, nil
}

// loadClientCertificate resolves the certificate for the active source, or
// nil when no client certificate is presented.
func loadClientCertificate(opts *ContextOptions) (*tls.Certificate, error) {
	var (
		cert tls.Certificate
		err  error
	)

	switch opts.source {
	case CertificateSourceNone:
		return nil, nil
	case CertificateSourceFile, CertificateSourceBuffer:
		cert, err = tls.X509KeyPair(opts.certPEM, opts.keyPEM)
		if err != nil {
			return nil, NewCertificateErrorWithCause(opts.certPath, "failed to load key pair", classifyKeyPairError(err))
		}
	case CertificateSourcePKCS11:
		cert, err = loadPKCS11Certificate(opts.pkcs11)
		if err != nil {
			return nil, err
		}
	case CertificateSourceSystemStore:
		cert, err = opts.store.FindCertificate(opts.storeRef)
		if err != nil {
			return nil, NewCertificateErrorWithCause(opts.storeRef.String(), "certificate store lookup failed", err)
		}
	default:
		return nil, NewConfigurationError("source", "unknown certificate source "+opts.source.String())
	}

	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, NewCertificateErrorWithCause(opts.certPath, "failed to parse leaf certificate", err)
		}
		cert.Leaf = leaf
	}

	return &cert, nil
}

// classifyKeyPairError maps crypto/tls key pair errors onto sentinels while
// keeping the original message.
func classifyKeyPairError(err error) error {
	msg := err.Error()
	switch {
	case containsAny(msg, "does not match"):
		return joinSentinel(ErrCertificateKeyMismatch, err)
	case containsAny(msg, "private key", "PRIVATE KEY"):
		return joinSentinel(ErrPrivateKeyInvalid, err)
	default:
		return joinSentinel(ErrCertificateInvalid, err)
	}
}

// Config returns a copy of the realized configuration for dialing serverName.
func (c *Context) Config(serverName string) *tls.Config {
	cfg := c.config.Clone()
	cfg.ServerName = serverName
	return cfg
}

// NextProtos returns the ALPN protocols offered by this context.
func (c *Context) NextProtos() []string {
	return slices.Clone(c.config.NextProtos)
}

// MinVersion returns the minimum protocol version as a crypto/tls constant.
func (c *Context) MinVersion() uint16 {
	return c.config.MinVersion
}

// Source returns the certificate source the context was realized from.
func (c *Context) Source() CertificateSource {
	return c.source
}

// Leaf describes the client certificate, or nil when none is presented.
func (c *Context) Leaf() *CertificateInfo {
	return c.leaf
}

// Claim transfers ownership to the caller. It returns false if the context
// was already claimed.
func (c *Context) Claim() bool {
	return c.claimed.CompareAndSwap(false, true)
}

// Release returns a claimed context when the connection it was claimed for
// could not be created.
func (c *Context) Release() {
	c.claimed.Store(false)
}

// Claimed reports whether the context has been handed to a connection.
func (c *Context) Claimed() bool {
	return c.claimed.Load()
}
