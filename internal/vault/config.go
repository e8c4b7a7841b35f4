package vault

import (
	"time"

	"github.com/vyrodovalexey/avaiot/internal/retry"
)

// AuthMethod specifies the Vault authentication method.
type AuthMethod string

// Authentication methods.
const (
	// AuthMethodToken uses a pre-issued token.
	AuthMethodToken AuthMethod = "token"

	// AuthMethodAppRole logs in with a role ID and secret ID.
	AuthMethodAppRole AuthMethod = "approle"

	// AuthMethodKubernetes logs in with the pod's service account token.
	AuthMethodKubernetes AuthMethod = "kubernetes"
)

// String returns the string representation of the auth method.
func (m AuthMethod) String() string {
	return string(m)
}

// IsValid reports whether m is a supported auth method.
func (m AuthMethod) IsValid() bool {
	switch m {
	case AuthMethodToken, AuthMethodAppRole, AuthMethodKubernetes:
		return true
	default:
		return false
	}
}

// Config represents Vault client configuration.
type Config struct {
	// Address is the Vault server address.
	Address string `yaml:"address" json:"address"`

	// Namespace is the Vault Enterprise namespace.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`

	// AuthMethod selects how the client obtains its token.
	AuthMethod AuthMethod `yaml:"authMethod" json:"authMethod"`

	// Token for token authentication.
	Token string `yaml:"token,omitempty" json:"token,omitempty"`

	// AppRole auth configuration.
	AppRole *AppRoleAuthConfig `yaml:"appRole,omitempty" json:"appRole,omitempty"`

	// Kubernetes auth configuration.
	Kubernetes *KubernetesAuthConfig `yaml:"kubernetes,omitempty" json:"kubernetes,omitempty"`

	// TLS configures the connection to Vault.
	TLS *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`

	// Timeout bounds each HTTP request to Vault.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Retry configures retries of failed requests.
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// AppRoleAuthConfig configures AppRole authentication.
type AppRoleAuthConfig struct {
	RoleID    string `yaml:"roleId" json:"roleId"`
	SecretID  string `yaml:"secretId" json:"secretId"`
	MountPath string `yaml:"mountPath,omitempty" json:"mountPath,omitempty"`
}

// KubernetesAuthConfig configures Kubernetes authentication.
type KubernetesAuthConfig struct {
	Role      string `yaml:"role" json:"role"`
	MountPath string `yaml:"mountPath,omitempty" json:"mountPath,omitempty"`
	TokenPath string `yaml:"tokenPath,omitempty" json:"tokenPath,omitempty"`
}

// TLSConfig configures TLS for the Vault connection. Paths are read by the
// Vault API client.
type TLSConfig struct {
	CACert     string `yaml:"caCert,omitempty" json:"caCert,omitempty"`
	CAPath     string `yaml:"caPath,omitempty" json:"caPath,omitempty"`
	ClientCert string `yaml:"clientCert,omitempty" json:"clientCert,omitempty"`
	ClientKey  string `yaml:"clientKey,omitempty" json:"clientKey,omitempty"`
	ServerName string `yaml:"serverName,omitempty" json:"serverName,omitempty"`
	SkipVerify bool   `yaml:"skipVerify,omitempty" json:"skipVerify,omitempty"`
}

// RetryConfig configures retries of failed Vault requests.
type RetryConfig struct {
	MaxRetries  int           `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	BackoffBase time.Duration `yaml:"backoffBase,omitempty" json:"backoffBase,omitempty"`
	BackoffMax  time.Duration `yaml:"backoffMax,omitempty" json:"backoffMax,omitempty"`
}

// toRetryConfig converts the Vault retry settings for the retry package.
func (c *RetryConfig) toRetryConfig() *retry.Config {
	if c == nil {
		return retry.DefaultConfig()
	}
	return &retry.Config{
		MaxRetries:     c.MaxRetries,
		InitialBackoff: c.BackoffBase,
		MaxBackoff:     c.BackoffMax,
		JitterFactor:   retry.DefaultJitterFactor,
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.Address == "" {
		return NewConfigurationError("address", "address is required")
	}
	if !c.AuthMethod.IsValid() {
		return NewConfigurationError("authMethod", "unsupported auth method: "+c.AuthMethod.String())
	}

	switch c.AuthMethod {
	case AuthMethodToken:
		if c.Token == "" {
			return NewConfigurationError("token", "token is required for token authentication")
		}
	case AuthMethodAppRole:
		if c.AppRole == nil {
			return NewConfigurationError("appRole", "appRole configuration is required")
		}
		if c.AppRole.RoleID == "" {
			return NewConfigurationError("appRole.roleId", "role ID is required")
		}
		if c.AppRole.SecretID == "" {
			return NewConfigurationError("appRole.secretId", "secret ID is required")
		}
	case AuthMethodKubernetes:
		if c.Kubernetes == nil || c.Kubernetes.Role == "" {
			return NewConfigurationError("kubernetes.role", "role is required for kubernetes authentication")
		}
	}

	if c.TLS != nil && (c.TLS.ClientCert == "") != (c.TLS.ClientKey == "") {
		return NewConfigurationError("tls", "clientCert and clientKey must be set together")
	}
	if c.Timeout < 0 {
		return NewConfigurationError("timeout", "timeout must not be negative")
	}

	return nil
}
