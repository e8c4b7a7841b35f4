package vault

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/vyrodovalexey/avaiot/internal/observability"
	"github.com/vyrodovalexey/avaiot/internal/retry"
)

// Client reads device credentials from Vault. It is safe for concurrent use;
// logins are serialized.
type Client struct {
	config  *Config
	api     *vaultapi.Client
	auth    Authenticator
	logger  observability.Logger
	metrics MetricsRecorder

	mu            sync.Mutex
	authenticated bool
	closed        bool
}

// Option is a functional option for configuring Client.
type Option func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger observability.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder for the client.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(c *Client) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// New creates a Vault client. No request is made until the first
// Authenticate or secret read.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, NewConfigurationError("", "configuration is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	auth, err := newAuthenticator(cfg)
	if err != nil {
		return nil, err
	}

	apiCfg := vaultapi.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, NewVaultErrorWithCause("configure", "", "failed to read Vault environment", apiCfg.Error)
	}
	apiCfg.Address = cfg.Address
	apiCfg.MaxRetries = 0
	if cfg.Timeout > 0 {
		apiCfg.Timeout = cfg.Timeout
	}
	if cfg.TLS != nil {
		err := apiCfg.ConfigureTLS(&vaultapi.TLSConfig{
			CACert:        cfg.TLS.CACert,
			CAPath:        cfg.TLS.CAPath,
			ClientCert:    cfg.TLS.ClientCert,
			ClientKey:     cfg.TLS.ClientKey,
			TLSServerName: cfg.TLS.ServerName,
			Insecure:      cfg.TLS.SkipVerify,
		})
		if err != nil {
			return nil, NewVaultErrorWithCause("configure", "", "failed to configure TLS", err)
		}
	}

	api, err := vaultapi.NewClient(apiCfg)
	if err != nil {
		return nil, NewVaultErrorWithCause("configure", "", "failed to create Vault API client", err)
	}
	api.ClearToken()
	if cfg.Namespace != "" {
		api.SetNamespace(cfg.Namespace)
	}

	c := &Client{
		config:  cfg,
		api:     api,
		auth:    auth,
		logger:  observability.NopLogger(),
		metrics: NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(
		observability.String("vault_address", cfg.Address),
		observability.String("auth_method", auth.Name()),
	)

	return c, nil
}

// Authenticate logs in with the configured method, replacing any token the
// client holds.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	c.authenticated = false
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	var secret *vaultapi.Secret
	err := retry.Do(ctx, c.config.Retry.toRetryConfig(), func(ctx context.Context) error {
		s, err := c.auth.Authenticate(ctx, c.api)
		if err != nil {
			code, cause := classify(err)
			return &VaultError{
				Op:      "authenticate",
				Message: c.auth.Name() + " login failed",
				Code:    code,
				Err:     errors.Join(ErrAuthenticationFailed, cause),
			}
		}
		secret = s
		return nil
	}, &retry.Options{ShouldRetry: IsRetryable})
	if err == nil && (secret == nil || secret.Auth == nil || secret.Auth.ClientToken == "") {
		err = &VaultError{Op: "authenticate", Message: "login returned no token", Err: ErrAuthenticationFailed}
	}

	c.metrics.RecordAuthentication(c.auth.Name(), err == nil)
	if err != nil {
		c.logger.Error("vault authentication failed", observability.Error(err))
		return err
	}

	c.api.SetToken(secret.Auth.ClientToken)
	c.authenticated = true
	c.logger.Info("authenticated with vault",
		observability.Duration("token_ttl", time.Duration(secret.Auth.LeaseDuration)*time.Second),
		observability.Bool("renewable", secret.Auth.Renewable),
	)
	return nil
}

func (c *Client) ensureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	if c.authenticated {
		return nil
	}
	return c.authenticateLocked(ctx)
}

// read performs a logical read of path with optional query parameters.
func (c *Client) read(ctx context.Context, op, path string, query map[string][]string) (*vaultapi.Secret, error) {
	return c.do(ctx, op, path, func(ctx context.Context) (*vaultapi.Secret, error) {
		return c.api.Logical().ReadWithDataWithContext(ctx, path, query)
	})
}

// write performs a logical write of data to path.
func (c *Client) write(ctx context.Context, op, path string, data map[string]interface{}) (*vaultapi.Secret, error) {
	return c.do(ctx, op, path, func(ctx context.Context) (*vaultapi.Secret, error) {
		return c.api.Logical().WriteWithContext(ctx, path, data)
	})
}

// do runs call with retries. A rejected token is replaced by a fresh login
// once, unless the token was configured directly.
func (c *Client) do(
	ctx context.Context,
	op, path string,
	call func(ctx context.Context) (*vaultapi.Secret, error),
) (*vaultapi.Secret, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	secret, err := c.call(ctx, op, path, call)
	if errors.Is(err, ErrPermissionDenied) && c.config.AuthMethod != AuthMethodToken {
		c.logger.Info("vault token rejected, logging in again", observability.String("path", path))
		if authErr := c.Authenticate(ctx); authErr == nil {
			secret, err = c.call(ctx, op, path, call)
		}
	}
	if err == nil && secret == nil {
		err = &VaultError{Op: op, Path: path, Message: "no secret returned", Code: http.StatusNotFound, Err: ErrSecretNotFound}
	}

	status := statusSuccess
	if err != nil {
		status = statusError
	}
	c.metrics.RecordRequest(op, status, time.Since(start))

	if err != nil {
		return nil, err
	}
	return secret, nil
}

func (c *Client) call(
	ctx context.Context,
	op, path string,
	call func(ctx context.Context) (*vaultapi.Secret, error),
) (*vaultapi.Secret, error) {
	var secret *vaultapi.Secret
	err := retry.Do(ctx, c.config.Retry.toRetryConfig(), func(ctx context.Context) error {
		s, err := call(ctx)
		if err != nil {
			return NewVaultErrorWithCause(op, path, "request failed", err)
		}
		secret = s
		return nil
	}, &retry.Options{
		ShouldRetry: IsRetryable,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.logger.Debug("retrying vault request",
				observability.String("operation", op),
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err),
			)
		},
	})
	return secret, err
}

// Close discards the client token. Later calls fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.authenticated = false
	c.api.ClearToken()
	c.logger.Debug("vault client closed")
	return nil
}
