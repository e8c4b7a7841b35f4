package iot

import (
	"errors"
	"fmt"

	"github.com/vyrodovalexey/avaiot/internal/sigv4"
	iottls "github.com/vyrodovalexey/avaiot/internal/tls"
)

// Error kinds. Every error returned by this package wraps one of them.
var (
	// ErrConfig indicates malformed input or a conflicting setting.
	ErrConfig = iottls.ErrConfig

	// ErrUnsupportedPlatform indicates a certificate source unavailable on this platform.
	ErrUnsupportedPlatform = iottls.ErrUnsupportedPlatform

	// ErrTLS indicates a TLS context realization or ALPN failure.
	ErrTLS = iottls.ErrTLS

	// ErrSigning indicates a failed WebSocket request signature.
	ErrSigning = sigv4.ErrSigning

	// ErrClient indicates a failure allocating or preparing a connection.
	ErrClient = errors.New("iot: client error")

	// ErrInvalidConfig indicates that a connection configuration cannot be used.
	ErrInvalidConfig = errors.New("iot: invalid connection configuration")
)

// Sentinel errors for specific failures.
var (
	// ErrBuilderNotInitialized indicates a Builder not created by a constructor.
	ErrBuilderNotInitialized = errors.New("builder not initialized")

	// ErrALPNRequired indicates a custom authorizer on a platform without ALPN.
	ErrALPNRequired = errors.New("custom authorizer requires ALPN support")

	// ErrWebsocketConfigRequired indicates a WebSocket builder without a signing setup.
	ErrWebsocketConfigRequired = errors.New("websocket signing configuration required")

	// ErrConfigConsumed indicates a configuration whose TLS context already
	// belongs to another connection.
	ErrConfigConsumed = errors.New("connection configuration already consumed")
)

// kindError wraps err with an error kind unless it already carries it.
func kindError(kind, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
