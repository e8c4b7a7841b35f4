package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for transport operations.
var (
	// ErrInvalidEndpoint indicates a missing endpoint or port.
	ErrInvalidEndpoint = errors.New("transport: invalid endpoint")

	// ErrMissingTLSContext indicates that no TLS context was supplied.
	ErrMissingTLSContext = errors.New("transport: TLS context required")

	// ErrInvalidLogin indicates a username or password the protocol cannot carry.
	ErrInvalidLogin = errors.New("transport: invalid login")

	// ErrInvalidProxy indicates malformed proxy options.
	ErrInvalidProxy = errors.New("transport: invalid proxy options")

	// ErrNotWebsocket indicates a WebSocket-only setting on a direct connection.
	ErrNotWebsocket = errors.New("transport: connection does not use websocket")

	// ErrConnectionClosed indicates an operation on a closed connection.
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrAlreadyDialed indicates a second Dial on the same connection.
	ErrAlreadyDialed = errors.New("transport: connection already dialed")

	// ErrHandshakeRejected indicates that the interceptor failed the upgrade request.
	ErrHandshakeRejected = errors.New("transport: handshake rejected by interceptor")
)

// DialError describes a failed Dial.
type DialError struct {
	ConnectionID string
	Address      string
	Transport    string
	StatusCode   int
	Err          error
}

// Error implements the error interface.
func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dial %s %s (connection %s): status %d: %v",
			e.Transport, e.Address, e.ConnectionID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("dial %s %s (connection %s): %v", e.Transport, e.Address, e.ConnectionID, e.Err)
}

// Unwrap returns the underlying error.
func (e *DialError) Unwrap() error {
	return e.Err
}
