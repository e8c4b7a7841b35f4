package iot

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaiot/internal/sigv4"
	"github.com/vyrodovalexey/avaiot/internal/testutil"
	iottls "github.com/vyrodovalexey/avaiot/internal/tls"
	"github.com/vyrodovalexey/avaiot/internal/transport"
)

const testEndpoint = "example-ats.iot.us-east-1.amazonaws.com"

// platform returns a TLS option that fixes the platform capabilities.
func platform(goos string, alpn bool) BuilderOption {
	return WithTLSOptions(iottls.WithPlatform(iottls.StaticPlatform{GOOS: goos, ALPN: alpn}))
}

func newMTLSBuilder(t *testing.T, alpn bool, opts ...BuilderOption) *Builder {
	t.Helper()

	certs := testutil.GenerateTestCertificates(t)
	opts = append([]BuilderOption{platform("linux", alpn)}, opts...)
	b := NewBuilderFromBuffers(certs.ClientCertPEM, certs.ClientKeyPEM, opts...).WithEndpoint(testEndpoint)
	require.NoError(t, b.Err())
	return b
}

func newTestWebsocketConfig(t *testing.T, opts ...WebsocketOption) *WebsocketConfig {
	t.Helper()

	ws, err := NewWebsocketConfig("us-east-1",
		sigv4.NewStaticCredentialsProvider("AKIDEXAMPLE", "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", ""),
		opts...)
	require.NoError(t, err)
	return ws
}

func newWebsocketBuilder(t *testing.T, alpn bool, wsOpts []WebsocketOption, opts ...BuilderOption) *Builder {
	t.Helper()

	opts = append([]BuilderOption{platform("linux", alpn)}, opts...)
	b := NewWebsocketBuilder(newTestWebsocketConfig(t, wsOpts...), opts...).WithEndpoint(testEndpoint)
	require.NoError(t, b.Err())
	return b
}

// stubConnection records the calls made by Client.
type stubConnection struct {
	mu          sync.Mutex
	id          string
	username    string
	password    string
	loginCalls  int
	interceptor transport.HandshakeInterceptor
	proxy       *transport.ProxyOptions
	closed      bool

	loginErr       error
	interceptorErr error
	proxyErr       error
}

func (c *stubConnection) ID() string { return c.id }

func (c *stubConnection) SetLogin(username, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loginCalls++
	if c.loginErr != nil {
		return c.loginErr
	}
	c.username, c.password = username, password
	return nil
}

func (c *stubConnection) SetWebsocketInterceptor(interceptor transport.HandshakeInterceptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interceptorErr != nil {
		return c.interceptorErr
	}
	c.interceptor = interceptor
	return nil
}

func (c *stubConnection) SetHTTPProxyOptions(opts *transport.ProxyOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proxyErr != nil {
		return c.proxyErr
	}
	c.proxy = opts
	return nil
}

func (c *stubConnection) Dial(_ context.Context) (net.Conn, error) {
	return nil, errors.New("stub connection cannot dial")
}

func (c *stubConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// stubAllocator hands out a prepared stubConnection.
type stubAllocator struct {
	conn *stubConnection
	err  error

	endpoint     string
	port         uint16
	socket       transport.SocketOptions
	tlsCtx       *iottls.Context
	useWebsocket bool
	calls        int
}

func (a *stubAllocator) NewConnection(
	endpoint string,
	port uint16,
	socket transport.SocketOptions,
	tlsCtx *iottls.Context,
	useWebsocket bool,
) (transport.Connection, error) {
	a.calls++
	a.endpoint, a.port, a.socket, a.tlsCtx, a.useWebsocket = endpoint, port, socket, tlsCtx, useWebsocket
	if a.err != nil {
		return nil, a.err
	}
	return a.conn, nil
}

// completionRecorder captures the arguments of a handshake completion.
type completionRecorder struct {
	req  *http.Request
	err  error
	done chan struct{}
}

func newCompletionRecorder() *completionRecorder {
	return &completionRecorder{done: make(chan struct{})}
}

func (r *completionRecorder) complete(req *http.Request, err error) {
	r.req, r.err = req, err
	close(r.done)
}

var (
	_ transport.Connection = (*stubConnection)(nil)
	_ transport.Allocator  = (*stubAllocator)(nil)
)
