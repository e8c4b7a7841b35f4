package config

import (
	"github.com/vyrodovalexey/avaiot/internal/vault"
)

// Mode selects how the device authenticates to the broker.
type Mode string

// Connection modes.
const (
	// ModeMTLS presents a client certificate from files, inline PEM or Vault PKI.
	ModeMTLS Mode = "mtls"

	// ModeWebsocket signs the WebSocket upgrade with SigV4.
	ModeWebsocket Mode = "websocket"

	// ModePKCS11 presents a client certificate whose key stays on a token.
	ModePKCS11 Mode = "pkcs11"

	// ModeSystemStore presents a certificate from the platform store.
	ModeSystemStore Mode = "system_store"

	// ModeDefault presents no client certificate; used with custom authorizers.
	ModeDefault Mode = "default"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeMTLS, ModeWebsocket, ModePKCS11, ModeSystemStore, ModeDefault:
		return true
	default:
		return false
	}
}

// CredentialsSource selects where WebSocket signing credentials come from.
type CredentialsSource string

// Credentials sources.
const (
	// CredentialsDefault resolves the AWS default credentials chain.
	CredentialsDefault CredentialsSource = "default"

	// CredentialsStatic uses keys from the configuration file.
	CredentialsStatic CredentialsSource = "static"

	// CredentialsVault leases keys from the Vault AWS secrets engine.
	CredentialsVault CredentialsSource = "vault"
)

// Config is the device connection configuration file.
type Config struct {
	// Endpoint is the account-specific broker host name.
	Endpoint string `yaml:"endpoint"`

	// Port overrides the port derived from the mode.
	Port uint16 `yaml:"port,omitempty"`

	// Mode selects the authentication path.
	Mode Mode `yaml:"mode"`

	Certificate *CertificateConfig `yaml:"certificate,omitempty"`
	PKCS11      *PKCS11Config      `yaml:"pkcs11,omitempty"`
	SystemStore *SystemStoreConfig `yaml:"systemStore,omitempty"`
	CA          *CAConfig          `yaml:"ca,omitempty"`
	Websocket   *WebsocketConfig   `yaml:"websocket,omitempty"`
	Vault       *VaultConfig       `yaml:"vault,omitempty"`
	Socket      *SocketConfig      `yaml:"socket,omitempty"`
	Proxy       *ProxyConfig       `yaml:"proxy,omitempty"`
	Authorizer  *CustomAuthorizer  `yaml:"customAuthorizer,omitempty"`
	SDK         *SDKConfig         `yaml:"sdk,omitempty"`

	// MinTLSVersion is AUTO, TLS10, TLS11, TLS12 or TLS13.
	MinTLSVersion string `yaml:"minTLSVersion,omitempty"`

	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// Metrics toggles the SDK metrics username parameters. Defaults to on.
	Metrics *bool `yaml:"metrics,omitempty"`
}

// CertificateConfig locates a PEM client certificate and private key,
// either as files or inline.
type CertificateConfig struct {
	CertFile string `yaml:"certFile,omitempty"`
	KeyFile  string `yaml:"keyFile,omitempty"`
	CertData string `yaml:"certData,omitempty"`
	KeyData  string `yaml:"keyData,omitempty"`
}

// PKCS11Config selects a key on a PKCS#11 token.
type PKCS11Config struct {
	LibraryPath     string  `yaml:"libraryPath"`
	UserPIN         string  `yaml:"userPin,omitempty"`
	SlotID          *uint64 `yaml:"slotId,omitempty"`
	TokenLabel      string  `yaml:"tokenLabel,omitempty"`
	PrivateKeyLabel string  `yaml:"privateKeyLabel,omitempty"`
	CertFile        string  `yaml:"certFile,omitempty"`
	CertData        string  `yaml:"certData,omitempty"`
}

// SystemStoreConfig addresses a platform store certificate.
type SystemStoreConfig struct {
	// Path has the form Location\Store\Thumbprint.
	Path string `yaml:"path"`
}

// CAConfig overrides the default trust store.
type CAConfig struct {
	File string `yaml:"file,omitempty"`
	Data string `yaml:"data,omitempty"`
}

// WebsocketConfig configures SigV4 signing of the WebSocket upgrade.
type WebsocketConfig struct {
	Region      string             `yaml:"region"`
	Service     string             `yaml:"service,omitempty"`
	Credentials *CredentialsConfig `yaml:"credentials,omitempty"`
}

// CredentialsConfig selects the signing credentials.
type CredentialsConfig struct {
	// Source is default, static or vault. Defaults to default.
	Source          CredentialsSource `yaml:"source,omitempty"`
	AccessKeyID     string            `yaml:"accessKeyId,omitempty"`
	SecretAccessKey string            `yaml:"secretAccessKey,omitempty"`
	SessionToken    string            `yaml:"sessionToken,omitempty"`
}

// VaultConfig connects to Vault and selects the secrets used by the device.
type VaultConfig struct {
	vault.Config `yaml:",inline"`

	// AWS leases WebSocket signing credentials.
	AWS *vault.AWSCredentialsConfig `yaml:"aws,omitempty"`

	// PKI issues the mTLS client certificate.
	PKI *vault.PKIIssueOptions `yaml:"pki,omitempty"`
}

// SocketConfig configures the TCP socket.
type SocketConfig struct {
	ConnectTimeout     Duration `yaml:"connectTimeout,omitempty"`
	KeepAlive          bool     `yaml:"keepAlive,omitempty"`
	KeepAliveTimeout   Duration `yaml:"keepAliveTimeout,omitempty"`
	KeepAliveInterval  Duration `yaml:"keepAliveInterval,omitempty"`
	KeepAliveMaxProbes int      `yaml:"keepAliveMaxProbes,omitempty"`
}

// ProxyConfig routes the connection through a proxy.
type ProxyConfig struct {
	// Scheme is http (default) or socks5.
	Scheme   string `yaml:"scheme,omitempty"`
	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// CustomAuthorizer configures a broker custom authorizer.
type CustomAuthorizer struct {
	Name      string `yaml:"name"`
	Signature string `yaml:"signature,omitempty"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"`
}

// SDKConfig overrides the SDK name and version reported in the username.
type SDKConfig struct {
	Name    string `yaml:"name,omitempty"`
	Version string `yaml:"version,omitempty"`
}

// MetricsEnabled reports whether SDK metrics username parameters are on.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics == nil || *c.Metrics
}

// credentialsSource returns the configured WebSocket credentials source.
func (c *Config) credentialsSource() CredentialsSource {
	if c.Websocket == nil || c.Websocket.Credentials == nil || c.Websocket.Credentials.Source == "" {
		return CredentialsDefault
	}
	return c.Websocket.Credentials.Source
}
