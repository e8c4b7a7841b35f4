package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/vyrodovalexey/avaiot/internal/observability"
	iottls "github.com/vyrodovalexey/avaiot/internal/tls"
)

// maxLoginLength is the longest UTF-8 string an MQTT CONNECT packet carries.
const maxLoginLength = 65535

// Transport labels used in logs and metrics.
const (
	TransportMQTT      = "mqtt"
	TransportWebsocket = "websocket"
)

// Connection is a broker connection handle prepared by an Allocator.
type Connection interface {
	// ID returns the unique connection identifier.
	ID() string

	// SetLogin stores the credentials sent in the MQTT CONNECT packet.
	SetLogin(username, password string) error

	// SetWebsocketInterceptor installs the upgrade request transform.
	SetWebsocketInterceptor(interceptor HandshakeInterceptor) error

	// SetHTTPProxyOptions routes the connection through a proxy.
	SetHTTPProxyOptions(opts *ProxyOptions) error

	// Dial opens the network stream.
	Dial(ctx context.Context) (net.Conn, error)

	// Close releases the connection.
	Close() error
}

// Allocator creates connections. It mirrors the underlying protocol client.
type Allocator interface {
	NewConnection(
		endpoint string,
		port uint16,
		socket SocketOptions,
		tlsCtx *iottls.Context,
		useWebsocket bool,
	) (Connection, error)
}

// Conn is the Connection implementation returned by Client.
type Conn struct {
	id           string
	endpoint     string
	port         uint16
	socket       SocketOptions
	tlsCtx       *iottls.Context
	useWebsocket bool

	logger     observability.Logger
	tlsMetrics iottls.MetricsRecorder

	mu          sync.Mutex
	username    string
	password    string
	interceptor HandshakeInterceptor
	proxy       *ProxyOptions
	netConn     net.Conn
	dialed      bool
	closed      bool
}

// ID returns the unique connection identifier.
func (c *Conn) ID() string {
	return c.id
}

// Endpoint returns the broker host name.
func (c *Conn) Endpoint() string {
	return c.endpoint
}

// Port returns the broker port.
func (c *Conn) Port() uint16 {
	return c.port
}

// Address returns the host:port dial target.
func (c *Conn) Address() string {
	return net.JoinHostPort(c.endpoint, strconv.Itoa(int(c.port)))
}

// UsesWebsocket reports whether the connection tunnels over WebSocket.
func (c *Conn) UsesWebsocket() bool {
	return c.useWebsocket
}

// Transport returns the transport label.
func (c *Conn) Transport() string {
	if c.useWebsocket {
		return TransportWebsocket
	}
	return TransportMQTT
}

// SetLogin stores the credentials sent in the MQTT CONNECT packet.
func (c *Conn) SetLogin(username, password string) error {
	if len(username) > maxLoginLength || len(password) > maxLoginLength {
		return ErrInvalidLogin
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	c.username = username
	c.password = password
	return nil
}

// Login returns the stored credentials.
func (c *Conn) Login() (username, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username, c.password
}

// SetWebsocketInterceptor installs the upgrade request transform.
func (c *Conn) SetWebsocketInterceptor(interceptor HandshakeInterceptor) error {
	if !c.useWebsocket {
		return ErrNotWebsocket
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	c.interceptor = interceptor
	return nil
}

// SetHTTPProxyOptions routes the connection through a proxy.
func (c *Conn) SetHTTPProxyOptions(opts *ProxyOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	c.proxy = opts.Clone()
	return nil
}

// ProxyOptions returns the configured proxy, or nil.
func (c *Conn) ProxyOptions() *ProxyOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxy.Clone()
}

// Dial opens the network stream. A connection can be dialed once.
func (c *Conn) Dial(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if c.dialed {
		c.mu.Unlock()
		return nil, ErrAlreadyDialed
	}
	c.dialed = true
	interceptor := c.interceptor
	proxyOpts := c.proxy.Clone()
	c.mu.Unlock()

	logger := c.logger.WithContext(observability.ContextWithConnectionID(ctx, c.id))

	var (
		conn net.Conn
		err  error
	)
	if c.useWebsocket {
		conn, err = c.dialWebsocket(ctx, interceptor, proxyOpts)
	} else {
		conn, err = c.dialDirect(ctx, proxyOpts)
	}
	if err != nil {
		logger.Warn("dial failed",
			observability.String("address", c.Address()),
			observability.String("transport", c.Transport()),
			observability.Error(err),
		)
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrConnectionClosed
	}
	c.netConn = conn
	c.mu.Unlock()

	logger.Info("connection established",
		observability.String("address", c.Address()),
		observability.String("transport", c.Transport()),
	)
	return conn, nil
}

func (c *Conn) dialDirect(ctx context.Context, proxyOpts *ProxyOptions) (net.Conn, error) {
	raw, err := c.dialTCP(ctx, proxyOpts)
	if err != nil {
		return nil, c.dialError(err, 0)
	}

	tlsConn := tls.Client(raw, c.tlsCtx.Config(c.endpoint))
	start := time.Now()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		c.tlsMetrics.RecordHandshakeError(handshakeErrorReason(ctx, err))
		return nil, c.dialError(err, 0)
	}
	c.tlsMetrics.RecordHandshake(time.Since(start), tlsConn.ConnectionState())

	return tlsConn, nil
}

// dialTCP opens the TCP stream to the broker, through the proxy if one is set.
func (c *Conn) dialTCP(ctx context.Context, proxyOpts *ProxyOptions) (net.Conn, error) {
	dialer := c.socket.Dialer()
	if proxyOpts == nil {
		return dialer.DialContext(ctx, "tcp", c.Address())
	}

	pd, err := proxyDialer(proxyOpts, dialer)
	if err != nil {
		return nil, err
	}
	return pd.DialContext(ctx, "tcp", c.Address())
}

func handshakeErrorReason(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "timeout"
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return "certificate"
	}
	return "handshake"
}

func (c *Conn) dialError(err error, status int) error {
	return &DialError{
		ConnectionID: c.id,
		Address:      c.Address(),
		Transport:    c.Transport(),
		StatusCode:   status,
		Err:          err,
	}
}

// Close releases the connection and closes an established stream.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.netConn != nil {
		return c.netConn.Close()
	}
	return nil
}

// upgradeURL returns the WebSocket upgrade target for the connection.
func (c *Conn) upgradeURL() string {
	return "wss://" + c.Address() + "/mqtt"
}

func newUpgradeRequest(ctx context.Context, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Sec-WebSocket-Protocol", "mqtt")
	return req, nil
}

var _ Connection = (*Conn)(nil)
