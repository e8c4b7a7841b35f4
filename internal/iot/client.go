package iot

import (
	"fmt"

	"github.com/vyrodovalexey/avaiot/internal/observability"
	"github.com/vyrodovalexey/avaiot/internal/transport"
)

// Client creates broker connections from connection configurations.
type Client struct {
	allocator transport.Allocator
	logger    observability.Logger
	metrics   observability.MetricsRecorder
}

// ClientOption is a functional option for configuring Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger observability.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClientMetrics sets the metrics recorder for the client.
func WithClientMetrics(metrics observability.MetricsRecorder) ClientOption {
	return func(c *Client) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// NewClient creates a Client that allocates connections from allocator. A
// nil allocator selects a transport.Client sharing the client logger.
func NewClient(allocator transport.Allocator, opts ...ClientOption) *Client {
	c := &Client{
		allocator: allocator,
		logger:    observability.NopLogger(),
		metrics:   observability.NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.allocator == nil {
		c.allocator = transport.NewClient(transport.WithTransportLogger(c.logger))
	}
	return c
}

// NewConnection creates a connection from cfg, applying login, the signing
// interceptor and proxy options. A configuration is consumed by the first
// NewConnection call that succeeds. On failure no connection is left open
// and the configuration stays usable.
func (c *Client) NewConnection(cfg *ConnectionConfig) (transport.Connection, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is nil", ErrInvalidConfig)
	}
	if cfg.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, cfg.err)
	}
	if !cfg.tlsCtx.Claim() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, ErrConfigConsumed)
	}

	conn, err := c.newConnection(cfg)
	c.metrics.RecordConnection(cfg.Transport(), err == nil)
	if err != nil {
		cfg.tlsCtx.Release()
		c.logger.Error("failed to create connection",
			observability.String("endpoint", cfg.endpoint),
			observability.Uint16("port", cfg.port),
			observability.String("transport", cfg.Transport()),
			observability.Error(err),
		)
		return nil, err
	}

	c.logger.Info("connection created",
		observability.String("connection_id", conn.ID()),
		observability.String("endpoint", cfg.endpoint),
		observability.Uint16("port", cfg.port),
		observability.String("transport", cfg.Transport()),
		observability.Bool("proxy", cfg.proxy != nil),
	)
	return conn, nil
}

func (c *Client) newConnection(cfg *ConnectionConfig) (transport.Connection, error) {
	useWebsocket := cfg.UsesWebsocket()

	conn, err := c.allocator.NewConnection(cfg.endpoint, cfg.port, cfg.socket, cfg.tlsCtx, useWebsocket)
	if err != nil {
		return nil, fmt.Errorf("%w: allocate connection: %w", ErrClient, err)
	}

	if cfg.username != "" || cfg.password != "" {
		if err := conn.SetLogin(cfg.username, cfg.password); err != nil {
			return nil, c.discard(conn, fmt.Errorf("%w: set login: %w", ErrClient, err))
		}
	}

	if useWebsocket {
		if err := conn.SetWebsocketInterceptor(cfg.interceptor); err != nil {
			return nil, c.discard(conn, fmt.Errorf("%w: set websocket interceptor: %w", ErrClient, err))
		}
	}

	if cfg.proxy != nil {
		if err := conn.SetHTTPProxyOptions(cfg.proxy.Clone()); err != nil {
			return nil, c.discard(conn, fmt.Errorf("%w: set proxy options: %w", ErrClient, err))
		}
	}

	return conn, nil
}

// discard closes a partially prepared connection and returns err.
func (c *Client) discard(conn transport.Connection, err error) error {
	if closeErr := conn.Close(); closeErr != nil {
		c.logger.Warn("failed to close discarded connection",
			observability.String("connection_id", conn.ID()),
			observability.Error(closeErr),
		)
	}
	return err
}
