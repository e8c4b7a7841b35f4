package transport

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyScheme identifies the proxy protocol.
type ProxyScheme string

// Supported proxy schemes.
const (
	// ProxySchemeHTTP tunnels through an HTTP proxy with CONNECT.
	ProxySchemeHTTP ProxyScheme = "http"

	// ProxySchemeSOCKS5 tunnels through a SOCKS5 proxy.
	ProxySchemeSOCKS5 ProxyScheme = "socks5"
)

// ProxyAuthType selects proxy authentication.
type ProxyAuthType int

// Proxy authentication types.
const (
	// ProxyAuthNone sends no credentials.
	ProxyAuthNone ProxyAuthType = iota

	// ProxyAuthBasic sends a username and password.
	ProxyAuthBasic
)

// ProxyOptions configures a proxy between the client and the broker.
type ProxyOptions struct {
	// Scheme is the proxy protocol. Empty means HTTP.
	Scheme ProxyScheme

	// Host is the proxy host name or address.
	Host string

	// Port is the proxy port.
	Port uint16

	// AuthType selects proxy authentication.
	AuthType ProxyAuthType

	// Username is used with ProxyAuthBasic.
	Username string

	// Password is used with ProxyAuthBasic.
	Password string
}

// Validate checks the proxy options.
func (p *ProxyOptions) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: options are nil", ErrInvalidProxy)
	}
	if p.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidProxy)
	}
	if p.Port == 0 {
		return fmt.Errorf("%w: port required", ErrInvalidProxy)
	}
	switch p.scheme() {
	case ProxySchemeHTTP, ProxySchemeSOCKS5:
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, p.Scheme)
	}
	if p.AuthType == ProxyAuthBasic && p.Username == "" {
		return fmt.Errorf("%w: basic auth requires a username", ErrInvalidProxy)
	}
	return nil
}

func (p *ProxyOptions) scheme() ProxyScheme {
	if p.Scheme == "" {
		return ProxySchemeHTTP
	}
	return p.Scheme
}

// URL returns the proxy URL including credentials for basic auth.
func (p *ProxyOptions) URL() *url.URL {
	u := &url.URL{
		Scheme: string(p.scheme()),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port))),
	}
	if p.AuthType == ProxyAuthBasic {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// String returns the proxy address without credentials.
func (p *ProxyOptions) String() string {
	if p == nil {
		return ""
	}
	return string(p.scheme()) + "://" + net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))
}

// Clone returns a copy of the options.
func (p *ProxyOptions) Clone() *ProxyOptions {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// proxyDialer returns a dialer that reaches addresses through p. HTTP
// proxies are tunneled with CONNECT; other schemes go through x/net/proxy.
func proxyDialer(p *ProxyOptions, forward *net.Dialer) (proxy.ContextDialer, error) {
	if p.scheme() == ProxySchemeHTTP {
		return &httpConnectDialer{proxyURL: p.URL(), forward: forward}, nil
	}

	d, err := proxy.FromURL(p.URL(), forward)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProxy, err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("%w: dialer for %s does not support contexts", ErrInvalidProxy, p)
	}
	return cd, nil
}

// httpConnectDialer opens a tunnel with an HTTP CONNECT request.
type httpConnectDialer struct {
	proxyURL *url.URL
	forward  proxy.Dialer
}

func (d *httpConnectDialer) Dial(network, addr string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, addr)
}

func (d *httpConnectDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)
	if cd, ok := d.forward.(proxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, network, d.proxyURL.Host)
	} else {
		conn, err = d.forward.Dial(network, d.proxyURL.Host)
	}
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if user := d.proxyURL.User; user != nil {
		password, _ := user.Password()
		credential := base64.StdEncoding.EncodeToString([]byte(user.Username() + ":" + password))
		req.Header.Set("Proxy-Authorization", "Basic "+credential)
	}

	if err := req.Write(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy CONNECT %s: %s", addr, resp.Status)
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}
