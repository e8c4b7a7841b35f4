package sigv4

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// DefaultServiceName is the signing name of the IoT device gateway.
const DefaultServiceName = "iotdevicegateway"

// Algorithm identifies the signing algorithm.
type Algorithm string

// Supported algorithms.
const (
	// AlgorithmSigV4 is AWS Signature Version 4 (AWS4-HMAC-SHA256).
	AlgorithmSigV4 Algorithm = "SigV4"
)

// SignatureType selects where the signature is placed.
type SignatureType int

// Signature placements.
const (
	// SignatureTypeQueryParams presigns the request URL.
	SignatureTypeQueryParams SignatureType = iota

	// SignatureTypeHeaders adds the Authorization header.
	SignatureTypeHeaders
)

// String returns the string representation of the signature type.
func (t SignatureType) String() string {
	switch t {
	case SignatureTypeQueryParams:
		return "query_params"
	case SignatureTypeHeaders:
		return "headers"
	default:
		return "unknown"
	}
}

// SigningConfig carries the inputs of one signing attempt.
type SigningConfig struct {
	// Region is the signing region.
	Region string

	// Service is the signing name of the target service.
	Service string

	// Algorithm is the signing algorithm.
	Algorithm Algorithm

	// SignatureType selects query parameter or header placement.
	SignatureType SignatureType

	// OmitSessionToken excludes the session token from the canonical request
	// and appends it to the signed request afterwards.
	OmitSessionToken bool

	// Credentials supplies the signing credentials.
	Credentials aws.CredentialsProvider

	// SigningTime overrides the signing time. Zero means now.
	SigningTime time.Time

	// Expires sets X-Amz-Expires on presigned requests when positive.
	Expires time.Duration
}

func (c *SigningConfig) validate() error {
	switch {
	case c == nil:
		return NewSigningError(nil, ErrInvalidSigningConfig)
	case c.Region == "":
		return &SigningError{Service: c.Service, Err: errorf(ErrInvalidSigningConfig, "region required")}
	case c.Service == "":
		return &SigningError{Region: c.Region, Err: errorf(ErrInvalidSigningConfig, "service required")}
	case c.Algorithm != AlgorithmSigV4:
		return NewSigningError(c, errorf(ErrInvalidSigningConfig, "unsupported algorithm "+string(c.Algorithm)))
	case c.Credentials == nil:
		return NewSigningError(c, errorf(ErrInvalidSigningConfig, "credentials provider required"))
	}
	return nil
}
