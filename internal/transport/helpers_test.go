package transport

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	iottls "github.com/vyrodovalexey/avaiot/internal/tls"
	"github.com/vyrodovalexey/avaiot/internal/testutil"
)

// newTrustingContext returns a TLS context that trusts the test CA and
// presents the test client certificate.
func newTrustingContext(t *testing.T, certs *testutil.TestCertificates, alpn ...string) *iottls.Context {
	t.Helper()

	opts, err := iottls.NewMTLSFromBuffers(certs.ClientCertPEM, certs.ClientKeyPEM)
	require.NoError(t, err)
	require.NoError(t, opts.OverrideDefaultTrustStore(certs.CACertPEM))
	if len(alpn) > 0 {
		require.NoError(t, opts.SetALPNList(alpn...))
	}

	ctx, err := iottls.NewContext(opts)
	require.NoError(t, err)
	return ctx
}

// startTLSEchoServer accepts TLS connections and echoes what it reads.
func startTLSEchoServer(t *testing.T, cfg *tls.Config) (host string, port uint16) {
	t.Helper()

	listener, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()

	return splitAddr(t, listener.Addr().String())
}

// connectProxy is a minimal HTTP CONNECT proxy.
type connectProxy struct {
	mu       sync.Mutex
	targets  []string
	authz    []string
	listener net.Listener
}

func startConnectProxy(t *testing.T) *connectProxy {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	p := &connectProxy{listener: listener}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go p.handle(conn)
		}
	}()
	return p
}

func (p *connectProxy) handle(client net.Conn) {
	defer client.Close()

	br := bufio.NewReader(client)
	req, err := http.ReadRequest(br)
	if err != nil || req.Method != http.MethodConnect {
		return
	}

	p.mu.Lock()
	p.targets = append(p.targets, req.Host)
	p.authz = append(p.authz, req.Header.Get("Proxy-Authorization"))
	p.mu.Unlock()

	upstream, err := net.Dial("tcp", req.Host)
	if err != nil {
		_, _ = client.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
		return
	}
	defer upstream.Close()

	_, _ = client.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n"))

	go func() { _, _ = io.Copy(upstream, br) }()
	_, _ = io.Copy(client, upstream)
}

func (p *connectProxy) options(t *testing.T) *ProxyOptions {
	t.Helper()

	host, port := splitAddr(t, p.listener.Addr().String())
	return &ProxyOptions{Scheme: ProxySchemeHTTP, Host: host, Port: port}
}

func (p *connectProxy) seen() (targets, authz []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.targets...), append([]string(nil), p.authz...)
}

func splitAddr(t *testing.T, addr string) (string, uint16) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)
	return host, uint16(port)
}
