package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	vaultapi "github.com/hashicorp/vault/api"
)

// Default auth mount paths.
const (
	DefaultAppRoleMountPath    = "approle"
	DefaultKubernetesMountPath = "kubernetes"

	//nolint:gosec // G101: standard Kubernetes path, not a credential
	DefaultServiceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"
)

// Authenticator obtains a Vault token.
type Authenticator interface {
	// Authenticate logs in and returns the auth secret carrying the token.
	Authenticate(ctx context.Context, client *vaultapi.Client) (*vaultapi.Secret, error)

	// Name returns the auth method name.
	Name() string
}

// newAuthenticator returns the authenticator for a validated configuration.
func newAuthenticator(cfg *Config) (Authenticator, error) {
	switch cfg.AuthMethod {
	case AuthMethodToken:
		return &TokenAuth{token: cfg.Token}, nil
	case AuthMethodAppRole:
		return &AppRoleAuth{
			roleID:    cfg.AppRole.RoleID,
			secretID:  cfg.AppRole.SecretID,
			mountPath: mountOrDefault(cfg.AppRole.MountPath, DefaultAppRoleMountPath),
		}, nil
	case AuthMethodKubernetes:
		tokenPath := cfg.Kubernetes.TokenPath
		if tokenPath == "" {
			tokenPath = DefaultServiceAccountTokenPath
		}
		return &KubernetesAuth{
			role:      cfg.Kubernetes.Role,
			tokenPath: tokenPath,
			mountPath: mountOrDefault(cfg.Kubernetes.MountPath, DefaultKubernetesMountPath),
		}, nil
	default:
		return nil, NewConfigurationError("authMethod", "unsupported auth method: "+cfg.AuthMethod.String())
	}
}

func mountOrDefault(mount, def string) string {
	mount = strings.Trim(mount, "/")
	if mount == "" {
		return def
	}
	return mount
}

// TokenAuth uses a pre-issued token and verifies it with a self lookup.
type TokenAuth struct {
	token string
}

// Authenticate implements Authenticator.
func (a *TokenAuth) Authenticate(ctx context.Context, client *vaultapi.Client) (*vaultapi.Secret, error) {
	client.SetToken(a.token)

	secret, err := client.Auth().Token().LookupSelfWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("token lookup failed: %w", err)
	}

	auth := &vaultapi.Secret{Auth: &vaultapi.SecretAuth{ClientToken: a.token}}
	if secret != nil && secret.Data != nil {
		switch ttl := secret.Data["ttl"].(type) {
		case float64:
			auth.Auth.LeaseDuration = int(ttl)
		case json.Number:
			if v, err := ttl.Int64(); err == nil {
				auth.Auth.LeaseDuration = int(v)
			}
		}
		if renewable, ok := secret.Data["renewable"].(bool); ok {
			auth.Auth.Renewable = renewable
		}
	}

	return auth, nil
}

// Name implements Authenticator.
func (a *TokenAuth) Name() string {
	return AuthMethodToken.String()
}

// AppRoleAuth logs in with a role ID and secret ID.
type AppRoleAuth struct {
	roleID    string
	secretID  string
	mountPath string
}

// Authenticate implements Authenticator.
func (a *AppRoleAuth) Authenticate(ctx context.Context, client *vaultapi.Client) (*vaultapi.Secret, error) {
	path := fmt.Sprintf("auth/%s/login", a.mountPath)
	secret, err := client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"role_id":   a.roleID,
		"secret_id": a.secretID,
	})
	if err != nil {
		return nil, fmt.Errorf("approle login failed: %w", err)
	}
	return secret, nil
}

// Name implements Authenticator.
func (a *AppRoleAuth) Name() string {
	return AuthMethodAppRole.String()
}

// KubernetesAuth logs in with a service account JWT read from disk.
type KubernetesAuth struct {
	role      string
	tokenPath string
	mountPath string
}

// Authenticate implements Authenticator.
func (a *KubernetesAuth) Authenticate(ctx context.Context, client *vaultapi.Client) (*vaultapi.Secret, error) {
	jwt, err := os.ReadFile(a.tokenPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read service account token: %w", err)
	}

	path := fmt.Sprintf("auth/%s/login", a.mountPath)
	secret, err := client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"role": a.role,
		"jwt":  strings.TrimSpace(string(jwt)),
	})
	if err != nil {
		return nil, fmt.Errorf("kubernetes login failed: %w", err)
	}
	return secret, nil
}

// Name implements Authenticator.
func (a *KubernetesAuth) Name() string {
	return AuthMethodKubernetes.String()
}

var (
	_ Authenticator = (*TokenAuth)(nil)
	_ Authenticator = (*AppRoleAuth)(nil)
	_ Authenticator = (*KubernetesAuth)(nil)
)
