package sigv4

import (
	"github.com/aws/aws-sdk-go-v2/aws"
)

// ConfigFactory produces a fresh SigningConfig per connection attempt.
type ConfigFactory interface {
	CreateSigningConfig() *SigningConfig
}

// ConfigFactoryFunc adapts a function to ConfigFactory.
type ConfigFactoryFunc func() *SigningConfig

// CreateSigningConfig implements ConfigFactory.
func (f ConfigFactoryFunc) CreateSigningConfig() *SigningConfig {
	return f()
}

// WebsocketConfigFactory is an immutable ConfigFactory for IoT WebSocket
// upgrades: SigV4, query parameter placement, session token omitted.
type WebsocketConfigFactory struct {
	credentials aws.CredentialsProvider
	region      string
	service     string
}

// NewWebsocketConfigFactory creates a factory bound to the given inputs. An
// empty service selects DefaultServiceName.
func NewWebsocketConfigFactory(credentials aws.CredentialsProvider, region, service string) WebsocketConfigFactory {
	if service == "" {
		service = DefaultServiceName
	}
	return WebsocketConfigFactory{
		credentials: credentials,
		region:      region,
		service:     service,
	}
}

// CreateSigningConfig implements ConfigFactory.
func (f WebsocketConfigFactory) CreateSigningConfig() *SigningConfig {
	return &SigningConfig{
		Region:           f.region,
		Service:          f.service,
		Algorithm:        AlgorithmSigV4,
		SignatureType:    SignatureTypeQueryParams,
		OmitSessionToken: true,
		Credentials:      f.credentials,
	}
}

// Region returns the signing region.
func (f WebsocketConfigFactory) Region() string {
	return f.region
}

// Service returns the signing name.
func (f WebsocketConfigFactory) Service() string {
	return f.service
}
