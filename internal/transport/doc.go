// Package transport allocates broker connections from a finalized
// connection configuration.
//
// A Client hands out Connection values for either a direct mTLS socket or a
// WebSocket tunnel. Login credentials, an HTTP or SOCKS5 proxy and a
// handshake interceptor are applied to the connection before Dial opens the
// network stream. The interceptor sees the WebSocket upgrade request before
// it is sent and completes asynchronously; an interceptor result that
// arrives after Dial gave up is discarded.
//
// The MQTT session itself runs on the net.Conn returned by Dial and is not
// part of this package.
package transport
