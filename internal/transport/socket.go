package transport

import (
	"net"
	"time"
)

// DefaultConnectTimeout is the TCP connect timeout used when none is set.
const DefaultConnectTimeout = 3 * time.Second

// SocketOptions configures the TCP socket under the broker connection.
type SocketOptions struct {
	// ConnectTimeout bounds TCP connection establishment.
	ConnectTimeout time.Duration

	// KeepAlive enables TCP keep-alive probes.
	KeepAlive bool

	// KeepAliveTimeout is the idle time before the first probe.
	KeepAliveTimeout time.Duration

	// KeepAliveInterval is the time between probes.
	KeepAliveInterval time.Duration

	// KeepAliveMaxProbes is the number of unanswered probes before the
	// connection is dropped.
	KeepAliveMaxProbes int
}

// DefaultSocketOptions returns the default socket options: 3s connect
// timeout, keep-alive off.
func DefaultSocketOptions() SocketOptions {
	return SocketOptions{ConnectTimeout: DefaultConnectTimeout}
}

// Dialer returns a net.Dialer configured from the options. Zero keep-alive
// values leave the operating system defaults in place.
func (o SocketOptions) Dialer() *net.Dialer {
	d := &net.Dialer{Timeout: o.ConnectTimeout}

	if !o.KeepAlive {
		d.KeepAlive = -1
		d.KeepAliveConfig = net.KeepAliveConfig{Enable: false}
		return d
	}

	d.KeepAliveConfig = net.KeepAliveConfig{
		Enable:   true,
		Idle:     o.KeepAliveTimeout,
		Interval: o.KeepAliveInterval,
		Count:    o.KeepAliveMaxProbes,
	}
	return d
}
