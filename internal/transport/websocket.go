package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// mqttSubprotocol is the WebSocket subprotocol negotiated with the broker.
const mqttSubprotocol = "mqtt"

func (c *Conn) dialWebsocket(
	ctx context.Context,
	interceptor HandshakeInterceptor,
	proxyOpts *ProxyOptions,
) (net.Conn, error) {
	req, err := newUpgradeRequest(ctx, c.upgradeURL())
	if err != nil {
		return nil, c.dialError(err, 0)
	}

	if interceptor != nil {
		req, err = runInterceptor(ctx, interceptor, req)
		if err != nil {
			return nil, c.dialError(err, 0)
		}
	}

	dialer := &websocket.Dialer{
		NetDialContext:   c.socket.Dialer().DialContext,
		TLSClientConfig:  c.tlsCtx.Config(c.endpoint),
		HandshakeTimeout: c.socket.ConnectTimeout,
		Subprotocols:     []string{mqttSubprotocol},
	}
	if proxyOpts != nil {
		dialer.Proxy = http.ProxyURL(proxyOpts.URL())
	}

	start := time.Now()
	ws, resp, err := dialer.DialContext(ctx, req.URL.String(), upgradeHeaders(req.Header))
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			_ = resp.Body.Close()
		}
		c.tlsMetrics.RecordHandshakeError(handshakeErrorReason(ctx, err))
		return nil, c.dialError(err, status)
	}

	if tlsConn, ok := ws.NetConn().(*tls.Conn); ok {
		c.tlsMetrics.RecordHandshake(time.Since(start), tlsConn.ConnectionState())
	}

	return newWebsocketConn(ws), nil
}

// runInterceptor hands req to the interceptor and waits for its completion
// or for ctx. A completion arriving after ctx is done is dropped.
func runInterceptor(
	ctx context.Context,
	interceptor HandshakeInterceptor,
	req *http.Request,
) (*http.Request, error) {
	results := make(chan handshakeResult, 1)

	interceptor(req, func(r *http.Request, err error) {
		select {
		case results <- handshakeResult{req: r, err: err}:
		default:
		}
	})

	select {
	case res := <-results:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHandshakeRejected, res.err)
		}
		if res.req == nil {
			return req, nil
		}
		return res.req, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// upgradeHeaders drops the headers gorilla/websocket manages itself.
func upgradeHeaders(h http.Header) http.Header {
	header := http.Header{}
	for k, vv := range h {
		switch strings.ToLower(k) {
		case "upgrade", "connection", "sec-websocket-key",
			"sec-websocket-version", "sec-websocket-extensions",
			"sec-websocket-protocol":
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	return header
}

// websocketConn presents a WebSocket as a byte stream of binary messages.
type websocketConn struct {
	ws *websocket.Conn

	readMu sync.Mutex
	reader io.Reader

	writeMu sync.Mutex
}

func newWebsocketConn(ws *websocket.Conn) *websocketConn {
	return &websocketConn{ws: ws}
}

func (c *websocketConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.reader == nil {
			msgType, r, err := c.ws.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *websocketConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *websocketConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *websocketConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *websocketConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *websocketConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *websocketConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *websocketConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

var _ net.Conn = (*websocketConn)(nil)
