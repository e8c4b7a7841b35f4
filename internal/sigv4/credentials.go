package sigv4

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// NewStaticCredentialsProvider returns a provider for fixed credentials.
func NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken string) aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken)
}

// NewDefaultChainProvider resolves the default credentials chain for
// region: environment, shared config files, then container and instance
// roles. The result is cached and safe for concurrent use.
func NewDefaultChainProvider(
	ctx context.Context,
	region string,
	optFns ...func(*config.LoadOptions) error,
) (aws.CredentialsProvider, error) {
	opts := make([]func(*config.LoadOptions) error, 0, len(optFns)+1)
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	opts = append(opts, optFns...)

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load default credentials chain: %w", ErrCredentials, err)
	}
	if cfg.Credentials == nil {
		return nil, errorf(ErrCredentials, "default credentials chain resolved no provider")
	}

	return NewCachedProvider(cfg.Credentials), nil
}

// NewCachedProvider wraps provider in an aws.CredentialsCache unless it
// already is one.
func NewCachedProvider(provider aws.CredentialsProvider) aws.CredentialsProvider {
	if provider == nil {
		return nil
	}
	if cache, ok := provider.(*aws.CredentialsCache); ok {
		return cache
	}
	return aws.NewCredentialsCache(provider)
}
