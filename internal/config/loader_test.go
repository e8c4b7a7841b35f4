package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaiot/internal/vault"
)

const fullConfigYAML = `
endpoint: example-ats.iot.eu-west-1.amazonaws.com
port: 8883
mode: websocket
minTLSVersion: TLS13
websocket:
  region: eu-west-1
  service: iotdevicegateway
  credentials:
    source: vault
vault:
  address: https://vault.example.com:8200
  namespace: fleet
  authMethod: approle
  appRole:
    roleId: role
    secretId: secret
  timeout: 10s
  retry:
    maxRetries: 2
    backoffBase: 200ms
  aws:
    role: device
    endpoint: sts
    ttl: 1h
socket:
  connectTimeout: 5s
  keepAlive: true
  keepAliveInterval: 30s
  keepAliveMaxProbes: 4
proxy:
  scheme: socks5
  host: proxy.local
  port: 1080
customAuthorizer:
  name: my-authorizer
  signature: c2lnbmF0dXJl
  username: device-1
  password: token
sdk:
  name: fleet-agent
  version: 2.1.0
metrics: false
`

func TestLoadConfigFromReader_FullDocument(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(fullConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "example-ats.iot.eu-west-1.amazonaws.com", cfg.Endpoint)
	assert.Equal(t, uint16(8883), cfg.Port)
	assert.Equal(t, ModeWebsocket, cfg.Mode)
	assert.Equal(t, "TLS13", cfg.MinTLSVersion)

	require.NotNil(t, cfg.Websocket)
	assert.Equal(t, "eu-west-1", cfg.Websocket.Region)
	assert.Equal(t, "iotdevicegateway", cfg.Websocket.Service)
	assert.Equal(t, CredentialsVault, cfg.credentialsSource())

	require.NotNil(t, cfg.Vault)
	assert.Equal(t, "https://vault.example.com:8200", cfg.Vault.Address)
	assert.Equal(t, "fleet", cfg.Vault.Namespace)
	assert.Equal(t, vault.AuthMethodAppRole, cfg.Vault.AuthMethod)
	assert.Equal(t, 10*time.Second, cfg.Vault.Timeout)
	require.NotNil(t, cfg.Vault.Retry)
	assert.Equal(t, 200*time.Millisecond, cfg.Vault.Retry.BackoffBase)
	require.NotNil(t, cfg.Vault.AWS)
	assert.Equal(t, vault.AWSEndpointSTS, cfg.Vault.AWS.Endpoint)
	assert.Equal(t, time.Hour, cfg.Vault.AWS.TTL)

	require.NotNil(t, cfg.Socket)
	assert.Equal(t, 5*time.Second, cfg.Socket.ConnectTimeout.Duration())
	assert.True(t, cfg.Socket.KeepAlive)
	assert.Equal(t, 4, cfg.Socket.KeepAliveMaxProbes)

	require.NotNil(t, cfg.Proxy)
	assert.Equal(t, "socks5", cfg.Proxy.Scheme)

	require.NotNil(t, cfg.Authorizer)
	assert.Equal(t, "my-authorizer", cfg.Authorizer.Name)

	assert.False(t, cfg.MetricsEnabled())
	assert.NoError(t, ValidateConfig(cfg))
}

func TestLoadConfigFromReader_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "empty document", input: "", wantErr: "document is empty"},
		{name: "unknown field", input: "endpoint: x\nmodes: mtls\n", wantErr: "field modes not found"},
		{name: "bad duration", input: "socket:\n  connectTimeout: soon\n", wantErr: "failed to parse YAML"},
		{name: "malformed", input: "endpoint: [\n", wantErr: "failed to parse YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadConfigFromReader(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("AVAIOT_TEST_ENDPOINT", "abc-ats.iot.us-east-1.amazonaws.com")
	t.Setenv("AVAIOT_TEST_EMPTY", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "set variable", input: "endpoint: ${AVAIOT_TEST_ENDPOINT}", want: "endpoint: abc-ats.iot.us-east-1.amazonaws.com"},
		{name: "default unused", input: "${AVAIOT_TEST_ENDPOINT:-fallback}", want: "abc-ats.iot.us-east-1.amazonaws.com"},
		{name: "default used", input: "${AVAIOT_TEST_UNSET:-fallback}", want: "fallback"},
		{name: "unset without default", input: "[${AVAIOT_TEST_UNSET}]", want: "[]"},
		{name: "set but empty wins over default", input: "[${AVAIOT_TEST_EMPTY:-fallback}]", want: "[]"},
		{name: "escaped dollar", input: "password: $${AVAIOT_TEST_ENDPOINT}", want: "password: ${AVAIOT_TEST_ENDPOINT}"},
		{name: "no variables", input: "mode: mtls", want: "mode: mtls"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, substituteEnvVars(tt.input))
		})
	}
}

func TestLoadConfig_ResolvesRelativePaths(t *testing.T) {
	t.Setenv("AVAIOT_TEST_MODE", "mtls")

	dir := t.TempDir()
	path := filepath.Join(dir, "device.yaml")
	content := `
endpoint: example-ats.iot.us-east-1.amazonaws.com
mode: ${AVAIOT_TEST_MODE}
certificate:
  certFile: certs/device.pem.crt
  keyFile: /etc/device/device.pem.key
ca:
  file: AmazonRootCA1.pem
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ModeMTLS, cfg.Mode)
	assert.Equal(t, filepath.Join(dir, "certs", "device.pem.crt"), cfg.Certificate.CertFile)
	assert.Equal(t, "/etc/device/device.pem.key", cfg.Certificate.KeyFile)
	assert.Equal(t, filepath.Join(dir, "AmazonRootCA1.pem"), cfg.CA.File)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
