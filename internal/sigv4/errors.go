package sigv4

import (
	"errors"
	"fmt"
)

// Sentinel errors for signing operations.
var (
	// ErrSigning indicates that a request could not be signed.
	ErrSigning = errors.New("sigv4: signing failed")

	// ErrInvalidSigningConfig indicates a missing or inconsistent signing configuration.
	ErrInvalidSigningConfig = errors.New("sigv4: invalid signing configuration")

	// ErrCredentials indicates that credentials could not be retrieved.
	ErrCredentials = errors.New("sigv4: credentials unavailable")
)

// SigningError describes a failed signing attempt.
type SigningError struct {
	Region  string
	Service string
	Err     error
}

// Error implements the error interface.
func (e *SigningError) Error() string {
	if e.Region != "" || e.Service != "" {
		return fmt.Sprintf("sigv4 signing for %s in %s: %v", e.Service, e.Region, e.Err)
	}
	return fmt.Sprintf("sigv4 signing: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *SigningError) Unwrap() error {
	return e.Err
}

// Is reports every SigningError as ErrSigning.
func (e *SigningError) Is(target error) bool {
	return target == ErrSigning
}

// NewSigningError creates a new SigningError.
func NewSigningError(cfg *SigningConfig, err error) *SigningError {
	se := &SigningError{Err: err}
	if cfg != nil {
		se.Region = cfg.Region
		se.Service = cfg.Service
	}
	return se
}

func errorf(sentinel error, msg string) error {
	return fmt.Errorf("%w: %s", sentinel, msg)
}
