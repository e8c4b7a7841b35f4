package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/vyrodovalexey/avaiot/internal/iot"
	"github.com/vyrodovalexey/avaiot/internal/observability"
	"github.com/vyrodovalexey/avaiot/internal/sigv4"
	iottls "github.com/vyrodovalexey/avaiot/internal/tls"
	"github.com/vyrodovalexey/avaiot/internal/vault"
)

// BuildOption is a functional option for NewBuilder.
type BuildOption func(*buildOptions)

type buildOptions struct {
	logger       observability.Logger
	builderOpts  []iot.BuilderOption
	websocketOps []iot.WebsocketOption
	vaultOpts    []vault.Option
	keyOpener    iottls.KeyOpener
	store        iottls.CertificateStore
}

// WithLogger sets the logger used while assembling the builder.
func WithLogger(logger observability.Logger) BuildOption {
	return func(o *buildOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBuilderOptions passes options to the iot builder constructor.
func WithBuilderOptions(opts ...iot.BuilderOption) BuildOption {
	return func(o *buildOptions) {
		o.builderOpts = append(o.builderOpts, opts...)
	}
}

// WithWebsocketOptions passes options to the WebSocket signing setup.
func WithWebsocketOptions(opts ...iot.WebsocketOption) BuildOption {
	return func(o *buildOptions) {
		o.websocketOps = append(o.websocketOps, opts...)
	}
}

// WithVaultOptions passes options to the Vault client.
func WithVaultOptions(opts ...vault.Option) BuildOption {
	return func(o *buildOptions) {
		o.vaultOpts = append(o.vaultOpts, opts...)
	}
}

// WithKeyOpener supplies the PKCS#11 key opener for pkcs11 mode.
func WithKeyOpener(opener iottls.KeyOpener) BuildOption {
	return func(o *buildOptions) {
		o.keyOpener = opener
	}
}

// WithCertificateStore supplies the platform store for system_store mode.
func WithCertificateStore(store iottls.CertificateStore) BuildOption {
	return func(o *buildOptions) {
		o.store = store
	}
}

// NewBuilder validates cfg and returns an iot.Builder configured from it.
// Vault is contacted here when the configuration issues a certificate; AWS
// credentials from Vault are leased on first signing.
func NewBuilder(ctx context.Context, cfg *Config, opts ...BuildOption) (*iot.Builder, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	o := &buildOptions{logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(o)
	}

	b, err := newModeBuilder(ctx, cfg, o)
	if err != nil {
		return nil, err
	}

	applyCommon(b, cfg)
	if err := b.Err(); err != nil {
		return nil, err
	}

	o.logger.Debug("builder configured",
		observability.String("mode", string(cfg.Mode)),
		observability.String("endpoint", cfg.Endpoint),
	)
	return b, nil
}

// newModeBuilder picks the iot constructor for the configured mode.
func newModeBuilder(ctx context.Context, cfg *Config, o *buildOptions) (*iot.Builder, error) {
	switch cfg.Mode {
	case ModeMTLS:
		return newMTLSBuilder(ctx, cfg, o)

	case ModeWebsocket:
		ws, err := newWebsocketConfig(ctx, cfg, o)
		if err != nil {
			return nil, err
		}
		return iot.NewWebsocketBuilder(ws, o.builderOpts...), nil

	case ModePKCS11:
		p := cfg.PKCS11
		return iot.NewBuilderFromPKCS11(&iottls.PKCS11Options{
			LibraryPath:             p.LibraryPath,
			UserPIN:                 p.UserPIN,
			SlotID:                  p.SlotID,
			TokenLabel:              p.TokenLabel,
			PrivateKeyObjectLabel:   p.PrivateKeyLabel,
			CertificateFilePath:     p.CertFile,
			CertificateFileContents: bytesOrNil(p.CertData),
			Opener:                  o.keyOpener,
		}, o.builderOpts...), nil

	case ModeSystemStore:
		opts := append([]iot.BuilderOption{iot.WithTLSOptions(iottls.WithCertificateStore(o.store))}, o.builderOpts...)
		return iot.NewBuilderFromSystemStore(cfg.SystemStore.Path, opts...), nil

	default:
		return iot.NewDefaultBuilder(o.builderOpts...), nil
	}
}

func newMTLSBuilder(ctx context.Context, cfg *Config, o *buildOptions) (*iot.Builder, error) {
	c := cfg.Certificate
	switch {
	case c != nil && c.CertFile != "":
		return iot.NewBuilderFromFiles(c.CertFile, c.KeyFile, o.builderOpts...), nil
	case c != nil && c.CertData != "":
		return iot.NewBuilderFromBuffers([]byte(c.CertData), []byte(c.KeyData), o.builderOpts...), nil
	}

	client, err := vault.New(&cfg.Vault.Config, o.vaultOptions()...)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	defer func() { _ = client.Close() }()

	cert, err := client.IssueCertificate(ctx, cfg.Vault.PKI)
	if err != nil {
		return nil, fmt.Errorf("issue device certificate: %w", err)
	}

	o.logger.Info("using vault-issued client certificate",
		observability.String("serial", cert.SerialNumber),
		observability.String("common_name", cfg.Vault.PKI.CommonName),
	)
	return iot.NewBuilderFromBuffers(cert.CertificatePEMBytes(), cert.PrivateKeyPEMBytes(), o.builderOpts...), nil
}

func newWebsocketConfig(ctx context.Context, cfg *Config, o *buildOptions) (*iot.WebsocketConfig, error) {
	wsOpts := o.websocketOps
	if cfg.Websocket.Service != "" {
		wsOpts = append([]iot.WebsocketOption{iot.WithServiceName(cfg.Websocket.Service)}, wsOpts...)
	}
	region := cfg.Websocket.Region

	var provider aws.CredentialsProvider
	switch cfg.credentialsSource() {
	case CredentialsStatic:
		c := cfg.Websocket.Credentials
		provider = sigv4.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
	case CredentialsVault:
		client, err := vault.New(&cfg.Vault.Config, o.vaultOptions()...)
		if err != nil {
			return nil, fmt.Errorf("vault client: %w", err)
		}
		vp, err := client.AWSCredentials(cfg.Vault.AWS)
		if err != nil {
			return nil, fmt.Errorf("vault credentials: %w", err)
		}
		provider = vp
	default:
		return iot.NewWebsocketConfigWithDefaultChain(ctx, region, wsOpts...)
	}

	return iot.NewWebsocketConfig(region, provider, wsOpts...)
}

func (o *buildOptions) vaultOptions() []vault.Option {
	return append([]vault.Option{vault.WithLogger(o.logger)}, o.vaultOpts...)
}

// applyCommon applies the settings shared by every mode. The port override
// is applied after the custom authorizer so an explicit port wins.
func applyCommon(b *iot.Builder, cfg *Config) {
	b.WithEndpoint(cfg.Endpoint)

	if cfg.CA != nil {
		switch {
		case cfg.CA.File != "":
			b.WithCertificateAuthorityFile(cfg.CA.File)
		case cfg.CA.Data != "":
			b.WithCertificateAuthority([]byte(cfg.CA.Data))
		}
	}

	if cfg.MinTLSVersion != "" {
		b.WithMinimumTLSVersion(iottls.TLSVersion(cfg.MinTLSVersion))
	}

	if s := cfg.Socket; s != nil {
		if s.ConnectTimeout > 0 {
			b.WithTCPConnectTimeout(s.ConnectTimeout.Duration())
		}
		if s.KeepAlive {
			b.WithTCPKeepAlive()
			if s.KeepAliveTimeout > 0 {
				b.WithTCPKeepAliveTimeout(s.KeepAliveTimeout.Duration())
			}
			if s.KeepAliveInterval > 0 {
				b.WithTCPKeepAliveInterval(s.KeepAliveInterval.Duration())
			}
			if s.KeepAliveMaxProbes > 0 {
				b.WithTCPKeepAliveMaxProbes(s.KeepAliveMaxProbes)
			}
		}
	}

	if cfg.Proxy != nil {
		b.WithHTTPProxyOptions(cfg.Proxy.options())
	}

	if cfg.Username != "" {
		b.WithUsername(cfg.Username)
	}
	if cfg.Password != "" {
		b.WithPassword(cfg.Password)
	}
	if a := cfg.Authorizer; a != nil {
		b.WithCustomAuthorizer(a.Username, a.Name, a.Signature, a.Password)
	}

	if cfg.Port != 0 {
		b.WithPortOverride(cfg.Port)
	}

	b.WithMetricsCollection(cfg.MetricsEnabled())
	if cfg.SDK != nil {
		if cfg.SDK.Name != "" {
			b.WithSDKName(cfg.SDK.Name)
		}
		if cfg.SDK.Version != "" {
			b.WithSDKVersion(cfg.SDK.Version)
		}
	}
}

func bytesOrNil(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}
