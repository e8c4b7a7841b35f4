package iot

import (
	iottls "github.com/vyrodovalexey/avaiot/internal/tls"
	"github.com/vyrodovalexey/avaiot/internal/transport"
)

// ConnectionConfig is the immutable result of Builder.Build. It is usable
// only if Err returns nil, and by a single connection: the TLS context is
// handed to the first connection created from it.
type ConnectionConfig struct {
	endpoint    string
	port        uint16
	socket      transport.SocketOptions
	tlsCtx      *iottls.Context
	interceptor transport.HandshakeInterceptor
	username    string
	password    string
	proxy       *transport.ProxyOptions
	err         error
}

func invalidConfig(err error) *ConnectionConfig {
	return &ConnectionConfig{err: err}
}

// Err returns the error that made the configuration invalid, or nil.
func (c *ConnectionConfig) Err() error {
	return c.err
}

// Valid reports whether the configuration can create a connection.
func (c *ConnectionConfig) Valid() bool {
	return c != nil && c.err == nil
}

// Endpoint returns the broker host name.
func (c *ConnectionConfig) Endpoint() string {
	return c.endpoint
}

// Port returns the resolved broker port.
func (c *ConnectionConfig) Port() uint16 {
	return c.port
}

// SocketOptions returns the TCP socket options.
func (c *ConnectionConfig) SocketOptions() transport.SocketOptions {
	return c.socket
}

// TLSContext returns the realized TLS context.
func (c *ConnectionConfig) TLSContext() *iottls.Context {
	return c.tlsCtx
}

// Interceptor returns the WebSocket signing interceptor, or nil on the
// direct path.
func (c *ConnectionConfig) Interceptor() transport.HandshakeInterceptor {
	return c.interceptor
}

// UsesWebsocket reports whether connections tunnel over a signed WebSocket.
func (c *ConnectionConfig) UsesWebsocket() bool {
	return c.interceptor != nil
}

// Username returns the MQTT username including query parameters.
func (c *ConnectionConfig) Username() string {
	return c.username
}

// Password returns the MQTT password.
func (c *ConnectionConfig) Password() string {
	return c.password
}

// ProxyOptions returns the resolved proxy options, or nil.
func (c *ConnectionConfig) ProxyOptions() *transport.ProxyOptions {
	return c.proxy.Clone()
}

// Transport returns the transport label for logs and metrics.
func (c *ConnectionConfig) Transport() string {
	if c.UsesWebsocket() {
		return transport.TransportWebsocket
	}
	return transport.TransportMQTT
}
