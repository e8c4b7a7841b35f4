package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/vyrodovalexey/avaiot/internal/observability"
)

// DefaultAWSMountPath is the default mount of the AWS secrets engine.
const DefaultAWSMountPath = "aws"

// AWSCredentialsSource is the name reported in aws.Credentials.Source.
const AWSCredentialsSource = "VaultAWSSecretsEngine"

// AWSCredentialEndpoint selects the AWS secrets engine endpoint.
type AWSCredentialEndpoint string

// AWS secrets engine endpoints.
const (
	// AWSEndpointCreds reads <mount>/creds/<role>: IAM user keys or an
	// assumed role, depending on the role's credential type.
	AWSEndpointCreds AWSCredentialEndpoint = "creds"

	// AWSEndpointSTS reads <mount>/sts/<role>: STS federation or assumed
	// role credentials with a session token.
	AWSEndpointSTS AWSCredentialEndpoint = "sts"
)

// AWSCredentialsConfig selects an AWS secrets engine role.
type AWSCredentialsConfig struct {
	// MountPath is the secrets engine mount. Defaults to "aws".
	MountPath string `yaml:"mountPath,omitempty" json:"mountPath,omitempty"`

	// Role is the Vault role to generate credentials for.
	Role string `yaml:"role" json:"role"`

	// Endpoint is "creds" (default) or "sts".
	Endpoint AWSCredentialEndpoint `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// TTL requests a lease duration; zero uses the role default.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// RoleARN picks one of several ARNs configured on the role.
	RoleARN string `yaml:"roleArn,omitempty" json:"roleArn,omitempty"`
}

// Validate checks the configuration for required fields.
func (c *AWSCredentialsConfig) Validate() error {
	if c.Role == "" {
		return NewConfigurationError("aws.role", "role is required")
	}
	switch c.Endpoint {
	case "", AWSEndpointCreds, AWSEndpointSTS:
	default:
		return NewConfigurationError("aws.endpoint", "endpoint must be creds or sts, got "+string(c.Endpoint))
	}
	if c.TTL < 0 {
		return NewConfigurationError("aws.ttl", "ttl must not be negative")
	}
	return nil
}

func (c *AWSCredentialsConfig) path() string {
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = AWSEndpointCreds
	}
	return fmt.Sprintf("%s/%s/%s", mountOrDefault(c.MountPath, DefaultAWSMountPath), endpoint, c.Role)
}

// AWSCredentialsProvider is an aws.CredentialsProvider that leases
// credentials from the AWS secrets engine. Each Retrieve creates a new lease;
// wrap it in aws.CredentialsCache to reuse credentials until they expire.
type AWSCredentialsProvider struct {
	client *Client
	config AWSCredentialsConfig
	now    func() time.Time
}

// AWSCredentials returns a credentials provider for the given role.
func (c *Client) AWSCredentials(cfg *AWSCredentialsConfig) (*AWSCredentialsProvider, error) {
	if cfg == nil {
		return nil, NewConfigurationError("aws", "configuration is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &AWSCredentialsProvider{client: c, config: *cfg, now: time.Now}, nil
}

// Retrieve implements aws.CredentialsProvider.
func (p *AWSCredentialsProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	path := p.config.path()

	query := map[string][]string{}
	if p.config.TTL > 0 {
		query["ttl"] = []string{p.config.TTL.String()}
	}
	if p.config.RoleARN != "" {
		query["role_arn"] = []string{p.config.RoleARN}
	}

	issued := p.now()
	secret, err := p.client.read(ctx, "aws_credentials", path, query)
	if err != nil {
		return aws.Credentials{}, err
	}

	accessKey := stringField(secret.Data, "access_key")
	secretKey := stringField(secret.Data, "secret_key")
	if accessKey == "" || secretKey == "" {
		return aws.Credentials{}, &VaultError{
			Op:      "aws_credentials",
			Path:    path,
			Message: "response is missing access_key or secret_key",
			Err:     ErrCredentialsIncomplete,
		}
	}

	creds := aws.Credentials{
		AccessKeyID:     accessKey,
		SecretAccessKey: secretKey,
		SessionToken:    stringField(secret.Data, "security_token"),
		Source:          AWSCredentialsSource,
	}
	if secret.LeaseDuration > 0 {
		creds.CanExpire = true
		creds.Expires = issued.Add(time.Duration(secret.LeaseDuration) * time.Second)
		p.client.metrics.SetCredentialsExpiry(p.config.Role, creds.Expires)
	}

	p.client.logger.Debug("leased AWS credentials",
		observability.String("role", p.config.Role),
		observability.String("lease_id", secret.LeaseID),
		observability.Duration("lease_duration", time.Duration(secret.LeaseDuration)*time.Second),
		observability.Bool("session_token", creds.SessionToken != ""),
	)

	return creds, nil
}

// Role returns the Vault role the provider leases credentials for.
func (p *AWSCredentialsProvider) Role() string {
	return p.config.Role
}

// stringField returns data[key] when it is a non-blank string.
func stringField(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}

var _ aws.CredentialsProvider = (*AWSCredentialsProvider)(nil)
