package transport

import "net/http"

// HandshakeCompletion receives the transformed upgrade request or the error
// that aborts the connection attempt.
type HandshakeCompletion func(req *http.Request, err error)

// HandshakeInterceptor transforms the WebSocket upgrade request before it is
// sent. It must return promptly and invoke done exactly once, possibly from
// another goroutine.
type HandshakeInterceptor func(req *http.Request, done HandshakeCompletion)

type handshakeResult struct {
	req *http.Request
	err error
}
