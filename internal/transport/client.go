package transport

import (
	"github.com/google/uuid"

	"github.com/vyrodovalexey/avaiot/internal/observability"
	iottls "github.com/vyrodovalexey/avaiot/internal/tls"
)

// Client allocates broker connections.
type Client struct {
	logger     observability.Logger
	tlsMetrics iottls.MetricsRecorder
}

// ClientOption is a functional option for configuring Client.
type ClientOption func(*Client)

// WithTransportLogger sets the logger for the client and its connections.
func WithTransportLogger(logger observability.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTLSMetrics sets the recorder for handshake metrics.
func WithTLSMetrics(metrics iottls.MetricsRecorder) ClientOption {
	return func(c *Client) {
		if metrics != nil {
			c.tlsMetrics = metrics
		}
	}
}

// NewClient creates a new Client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		logger:     observability.NopLogger(),
		tlsMetrics: iottls.NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewConnection allocates a connection. No network I/O happens until Dial.
func (c *Client) NewConnection(
	endpoint string,
	port uint16,
	socket SocketOptions,
	tlsCtx *iottls.Context,
	useWebsocket bool,
) (Connection, error) {
	if endpoint == "" {
		return nil, ErrInvalidEndpoint
	}
	if port == 0 {
		return nil, ErrInvalidEndpoint
	}
	if tlsCtx == nil {
		return nil, ErrMissingTLSContext
	}

	conn := &Conn{
		id:           uuid.NewString(),
		endpoint:     endpoint,
		port:         port,
		socket:       socket,
		tlsCtx:       tlsCtx,
		useWebsocket: useWebsocket,
		logger:       c.logger,
		tlsMetrics:   c.tlsMetrics,
	}

	c.logger.Debug("connection allocated",
		observability.String("connection_id", conn.id),
		observability.String("address", conn.Address()),
		observability.String("transport", conn.Transport()),
	)

	return conn, nil
}

var _ Allocator = (*Client)(nil)
