package iot

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/vyrodovalexey/avaiot/internal/sigv4"
	"github.com/vyrodovalexey/avaiot/internal/transport"
)

// WebsocketConfig is the signing setup for the WebSocket path. It is
// immutable after construction and may be shared by several builders.
type WebsocketConfig struct {
	credentials aws.CredentialsProvider
	signer      sigv4.Signer
	factory     sigv4.ConfigFactory
	proxy       *transport.ProxyOptions
	region      string
	service     string
}

// WebsocketOption is a functional option for configuring WebsocketConfig.
type WebsocketOption func(*WebsocketConfig)

// WithServiceName overrides the signing service name.
func WithServiceName(service string) WebsocketOption {
	return func(c *WebsocketConfig) {
		if service != "" {
			c.service = service
		}
	}
}

// WithWebsocketProxyOptions routes WebSocket connections through a proxy
// unless the Builder sets its own.
func WithWebsocketProxyOptions(opts *transport.ProxyOptions) WebsocketOption {
	return func(c *WebsocketConfig) {
		c.proxy = opts.Clone()
	}
}

// WithWebsocketSigner replaces the default HTTPRequestSigner.
func WithWebsocketSigner(signer sigv4.Signer) WebsocketOption {
	return func(c *WebsocketConfig) {
		if signer != nil {
			c.signer = signer
		}
	}
}

func newWebsocketConfig(region string, opts []WebsocketOption) (*WebsocketConfig, error) {
	if region == "" {
		return nil, kindError(ErrConfig, errors.New("signing region required"))
	}

	c := &WebsocketConfig{
		region:  region,
		service: sigv4.DefaultServiceName,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.proxy != nil {
		if err := c.proxy.Validate(); err != nil {
			return nil, kindError(ErrConfig, err)
		}
	}
	return c, nil
}

// NewWebsocketConfig creates a signing setup that signs with credentials
// from provider. The provider is wrapped in a credentials cache.
func NewWebsocketConfig(
	region string,
	provider aws.CredentialsProvider,
	opts ...WebsocketOption,
) (*WebsocketConfig, error) {
	if provider == nil {
		return nil, kindError(ErrConfig, errors.New("credentials provider required"))
	}

	c, err := newWebsocketConfig(region, opts)
	if err != nil {
		return nil, err
	}

	c.credentials = sigv4.NewCachedProvider(provider)
	c.factory = sigv4.NewWebsocketConfigFactory(c.credentials, c.region, c.service)
	if c.signer == nil {
		c.signer = sigv4.NewHTTPRequestSigner()
	}
	return c, nil
}

// NewWebsocketConfigWithSigner creates a signing setup around a caller
// supplied signer and signing config factory.
func NewWebsocketConfigWithSigner(
	region string,
	signer sigv4.Signer,
	factory sigv4.ConfigFactory,
	opts ...WebsocketOption,
) (*WebsocketConfig, error) {
	if signer == nil {
		return nil, kindError(ErrConfig, errors.New("signer required"))
	}
	if factory == nil {
		return nil, kindError(ErrConfig, errors.New("signing config factory required"))
	}

	c, err := newWebsocketConfig(region, opts)
	if err != nil {
		return nil, err
	}

	c.signer = signer
	c.factory = factory
	return c, nil
}

// NewWebsocketConfigWithDefaultChain creates a signing setup that resolves
// credentials from the AWS default chain.
func NewWebsocketConfigWithDefaultChain(
	ctx context.Context,
	region string,
	opts ...WebsocketOption,
) (*WebsocketConfig, error) {
	provider, err := sigv4.NewDefaultChainProvider(ctx, region)
	if err != nil {
		return nil, kindError(ErrConfig, err)
	}
	return NewWebsocketConfig(region, provider, opts...)
}

// Region returns the signing region.
func (c *WebsocketConfig) Region() string {
	return c.region
}

// Service returns the signing service name.
func (c *WebsocketConfig) Service() string {
	return c.service
}

// Credentials returns the credentials provider, or nil when the setup was
// created with a caller supplied factory.
func (c *WebsocketConfig) Credentials() aws.CredentialsProvider {
	return c.credentials
}

// Signer returns the request signer.
func (c *WebsocketConfig) Signer() sigv4.Signer {
	return c.signer
}

// ConfigFactory returns the signing config factory.
func (c *WebsocketConfig) ConfigFactory() sigv4.ConfigFactory {
	return c.factory
}

// ProxyOptions returns the setup level proxy options, or nil.
func (c *WebsocketConfig) ProxyOptions() *transport.ProxyOptions {
	return c.proxy.Clone()
}
