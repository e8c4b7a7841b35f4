package vault

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	vaultapi "github.com/hashicorp/vault/api"
)

// Sentinel errors for Vault operations.
var (
	// ErrInvalidConfig indicates invalid client configuration.
	ErrInvalidConfig = errors.New("vault: invalid configuration")

	// ErrNotAuthenticated indicates the client holds no token.
	ErrNotAuthenticated = errors.New("vault: client not authenticated")

	// ErrAuthenticationFailed indicates a login was rejected or returned no token.
	ErrAuthenticationFailed = errors.New("vault: authentication failed")

	// ErrSecretNotFound indicates the path returned no secret.
	ErrSecretNotFound = errors.New("vault: secret not found")

	// ErrPermissionDenied indicates the token lacks access to the path.
	ErrPermissionDenied = errors.New("vault: permission denied")

	// ErrConnectionFailed indicates Vault could not be reached.
	ErrConnectionFailed = errors.New("vault: connection failed")

	// ErrClientClosed indicates the client was closed.
	ErrClientClosed = errors.New("vault: client closed")

	// ErrCredentialsIncomplete indicates an AWS secrets engine response
	// without an access key pair.
	ErrCredentialsIncomplete = errors.New("vault: incomplete AWS credentials")

	// ErrCertificateIncomplete indicates a PKI response without a
	// certificate or private key.
	ErrCertificateIncomplete = errors.New("vault: incomplete certificate bundle")
)

// VaultError describes a failed Vault operation.
type VaultError struct {
	Op      string
	Path    string
	Message string
	Code    int
	Err     error
}

// Error implements the error interface.
func (e *VaultError) Error() string {
	msg := "vault " + e.Op
	if e.Path != "" {
		msg += " on path " + e.Path
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *VaultError) Unwrap() error {
	return e.Err
}

// NewVaultError creates a VaultError without a cause.
func NewVaultError(op, path, message string) *VaultError {
	return &VaultError{Op: op, Path: path, Message: message}
}

// NewVaultErrorWithCause creates a VaultError wrapping cause. Vault API
// response errors are classified onto the package sentinels.
func NewVaultErrorWithCause(op, path, message string, cause error) *VaultError {
	code, classified := classify(cause)
	return &VaultError{Op: op, Path: path, Message: message, Code: code, Err: classified}
}

// ConfigurationError reports an invalid configuration field.
type ConfigurationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "vault configuration: " + e.Message
	}
	return fmt.Sprintf("vault configuration %s: %s", e.Field, e.Message)
}

// Is matches ErrInvalidConfig.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

// classify returns the HTTP status of err, if any, and err joined with the
// matching sentinel.
func classify(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return respErr.StatusCode, errors.Join(ErrPermissionDenied, err)
		case http.StatusNotFound:
			return respErr.StatusCode, errors.Join(ErrSecretNotFound, err)
		default:
			return respErr.StatusCode, err
		}
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return 0, errors.Join(ErrConnectionFailed, err)
	}

	return 0, err
}

// IsRetryable reports whether err is worth retrying: server errors, rate
// limiting and connection failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var vaultErr *VaultError
	if errors.As(err, &vaultErr) && (vaultErr.Code >= http.StatusInternalServerError || vaultErr.Code == http.StatusTooManyRequests) {
		return true
	}

	return errors.Is(err, ErrConnectionFailed)
}

// IsAuthError reports whether err stems from a missing or rejected token.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, ErrPermissionDenied)
}
