package config

import (
	"errors"
	"fmt"
	"strings"

	iottls "github.com/vyrodovalexey/avaiot/internal/tls"
	"github.com/vyrodovalexey/avaiot/internal/transport"
	"github.com/vyrodovalexey/avaiot/internal/vault"
)

// ErrInvalidConfig matches every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Is matches ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Paths returns the field paths that failed validation.
func (e ValidationErrors) Paths() []string {
	paths := make([]string, 0, len(e))
	for _, err := range e {
		paths = append(paths, err.Path)
	}
	return paths
}

// Validator validates connection configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// ValidateConfig validates a connection configuration.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate validates the configuration and returns ValidationErrors listing
// every problem found, or nil.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateRoot(cfg)
	v.validateMode(cfg)
	v.validateCA(cfg.CA)
	v.validateSocket(cfg.Socket)
	v.validateProxy(cfg.Proxy)
	v.validateAuthorizer(cfg.Authorizer)
	v.validateVault(cfg.Vault)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateRoot(cfg *Config) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		v.addError("endpoint", "endpoint is required")
	} else if strings.Contains(cfg.Endpoint, "://") || strings.ContainsAny(cfg.Endpoint, "/ ") {
		v.addError("endpoint", "endpoint must be a host name without scheme or path")
	}

	if cfg.MinTLSVersion != "" && !iottls.TLSVersion(cfg.MinTLSVersion).IsValid() {
		v.addError("minTLSVersion", "must be one of AUTO, TLS10, TLS11, TLS12, TLS13")
	}
}

func (v *Validator) validateMode(cfg *Config) {
	switch cfg.Mode {
	case ModeMTLS:
		v.validateMTLS(cfg)
	case ModeWebsocket:
		v.validateWebsocket(cfg)
	case ModePKCS11:
		v.validatePKCS11(cfg.PKCS11)
	case ModeSystemStore:
		if cfg.SystemStore == nil || cfg.SystemStore.Path == "" {
			v.addError("systemStore.path", "store path is required for system_store mode")
		}
	case ModeDefault:
	case "":
		v.addError("mode", "mode is required")
	default:
		v.addError("mode", "unknown mode "+string(cfg.Mode))
	}
}

func (v *Validator) validateMTLS(cfg *Config) {
	sources := 0
	if c := cfg.Certificate; c != nil {
		if c.CertFile != "" || c.KeyFile != "" {
			sources++
			if c.CertFile == "" || c.KeyFile == "" {
				v.addError("certificate", "certFile and keyFile must be set together")
			}
		}
		if c.CertData != "" || c.KeyData != "" {
			sources++
			if c.CertData == "" || c.KeyData == "" {
				v.addError("certificate", "certData and keyData must be set together")
			}
		}
	}
	if cfg.Vault != nil && cfg.Vault.PKI != nil {
		sources++
	}

	switch {
	case sources == 0:
		v.addError("certificate", "mtls mode requires certificate files, inline data or vault.pki")
	case sources > 1:
		v.addError("certificate", "only one of certificate files, inline data or vault.pki may be set")
	}
}

func (v *Validator) validateWebsocket(cfg *Config) {
	if cfg.Websocket == nil {
		v.addError("websocket", "websocket block is required for websocket mode")
		return
	}
	if cfg.Websocket.Region == "" {
		v.addError("websocket.region", "region is required")
	}

	switch cfg.credentialsSource() {
	case CredentialsDefault:
	case CredentialsStatic:
		c := cfg.Websocket.Credentials
		if c.AccessKeyID == "" || c.SecretAccessKey == "" {
			v.addError("websocket.credentials", "static credentials require accessKeyId and secretAccessKey")
		}
	case CredentialsVault:
		if cfg.Vault == nil || cfg.Vault.AWS == nil {
			v.addError("vault.aws", "vault credentials source requires vault.aws")
		}
	default:
		v.addError("websocket.credentials.source", "source must be default, static or vault")
	}
}

func (v *Validator) validatePKCS11(p *PKCS11Config) {
	if p == nil {
		v.addError("pkcs11", "pkcs11 block is required for pkcs11 mode")
		return
	}
	if p.LibraryPath == "" {
		v.addError("pkcs11.libraryPath", "library path is required")
	}
	if (p.CertFile == "") == (p.CertData == "") {
		v.addError("pkcs11", "exactly one of certFile or certData is required")
	}
}

func (v *Validator) validateCA(ca *CAConfig) {
	if ca != nil && ca.File != "" && ca.Data != "" {
		v.addError("ca", "only one of file or data may be set")
	}
}

func (v *Validator) validateSocket(s *SocketConfig) {
	if s == nil {
		return
	}
	if s.ConnectTimeout < 0 {
		v.addError("socket.connectTimeout", "must not be negative")
	}
	if s.KeepAliveTimeout < 0 || s.KeepAliveInterval < 0 {
		v.addError("socket", "keep-alive durations must not be negative")
	}
	if s.KeepAliveMaxProbes < 0 {
		v.addError("socket.keepAliveMaxProbes", "must not be negative")
	}
}

func (v *Validator) validateProxy(p *ProxyConfig) {
	if p == nil {
		return
	}
	if err := p.options().Validate(); err != nil {
		v.addError("proxy", err.Error())
	}
}

func (v *Validator) validateAuthorizer(a *CustomAuthorizer) {
	if a != nil && a.Name == "" && a.Signature != "" {
		v.addError("customAuthorizer.name", "name is required when a signature is set")
	}
}

func (v *Validator) validateVault(c *VaultConfig) {
	if c == nil {
		return
	}
	v.addVaultError(c.Config.Validate())
	if c.AWS != nil {
		v.addVaultError(c.AWS.Validate())
	}
	if c.PKI != nil {
		v.addVaultError(c.PKI.Validate())
	}
}

func (v *Validator) addVaultError(err error) {
	if err == nil {
		return
	}
	var cfgErr *vault.ConfigurationError
	if errors.As(err, &cfgErr) {
		v.addError("vault."+cfgErr.Field, cfgErr.Message)
		return
	}
	v.addError("vault", err.Error())
}

// addError adds a validation error.
func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

// options converts the proxy block for the transport layer.
func (p *ProxyConfig) options() *transport.ProxyOptions {
	opts := &transport.ProxyOptions{
		Scheme:   transport.ProxyScheme(strings.ToLower(p.Scheme)),
		Host:     p.Host,
		Port:     p.Port,
		Username: p.Username,
		Password: p.Password,
	}
	if p.Username != "" {
		opts.AuthType = transport.ProxyAuthBasic
	}
	return opts
}
