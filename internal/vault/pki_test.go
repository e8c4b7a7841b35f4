package vault

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avaiot/internal/testutil"
)

func TestClient_IssueCertificate(t *testing.T) {
	t.Parallel()

	certs := testutil.GenerateTestCertificates(t)
	expiration := time.Now().Add(24 * time.Hour).Truncate(time.Second)

	fv := newFakeVault(t)
	fv.handle("/v1/pki-devices/issue/device", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		body := decodeBody(t, r)
		assert.Equal(t, "test-thing", body["common_name"])
		assert.Equal(t, "a.example.com,b.example.com", body["alt_names"])
		assert.Equal(t, "24h0m0s", body["ttl"])

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{
				"certificate":   string(certs.ClientCertPEM),
				"private_key":   string(certs.ClientKeyPEM),
				"ca_chain":      []string{string(certs.CACertPEM)},
				"serial_number": "03",
				"expiration":    expiration.Unix(),
			},
		})
	})

	client := fv.newClient(t, nil)
	cert, err := client.IssueCertificate(context.Background(), &PKIIssueOptions{
		Mount:      "pki-devices",
		Role:       "device",
		CommonName: "test-thing",
		AltNames:   []string{"a.example.com", "b.example.com"},
		TTL:        24 * time.Hour,
	})
	require.NoError(t, err)

	require.NotNil(t, cert.Certificate)
	assert.Equal(t, "test-thing", cert.Certificate.Subject.CommonName)
	assert.Equal(t, "03", cert.SerialNumber)
	assert.True(t, expiration.Equal(cert.Expiration))
	assert.Contains(t, cert.CAChainPEM, "BEGIN CERTIFICATE")

	_, err = tls.X509KeyPair(cert.CertificatePEMBytes(), cert.PrivateKeyPEMBytes())
	assert.NoError(t, err)
	assert.NotEmpty(t, cert.CAChainPEMBytes())
}

func TestClient_IssueCertificateIncomplete(t *testing.T) {
	t.Parallel()

	certs := testutil.GenerateTestCertificates(t)

	fv := newFakeVault(t)
	fv.handle("/v1/pki/issue/device", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{"certificate": string(certs.ClientCertPEM)},
		})
	})

	client := fv.newClient(t, nil)
	_, err := client.IssueCertificate(context.Background(), &PKIIssueOptions{Role: "device", CommonName: "thing"})

	assert.ErrorIs(t, err, ErrCertificateIncomplete)
}

func TestClient_IssueCertificateValidation(t *testing.T) {
	t.Parallel()

	fv := newFakeVault(t)
	client := fv.newClient(t, nil)

	tests := []struct {
		name      string
		opts      *PKIIssueOptions
		wantField string
	}{
		{name: "nil options", opts: nil, wantField: "pki"},
		{name: "missing role", opts: &PKIIssueOptions{CommonName: "thing"}, wantField: "pki.role"},
		{name: "missing common name", opts: &PKIIssueOptions{Role: "device"}, wantField: "pki.commonName"},
		{name: "negative ttl", opts: &PKIIssueOptions{Role: "device", CommonName: "thing", TTL: -time.Minute}, wantField: "pki.ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := client.IssueCertificate(context.Background(), tt.opts)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}

	assert.Zero(t, fv.hitCount("/v1/auth/token/lookup-self"))
}

func TestParseCertificateResponse_IssuingCAFallback(t *testing.T) {
	t.Parallel()

	cert := parseCertificateResponse(map[string]interface{}{
		"certificate": "not pem",
		"private_key": "key",
		"issuing_ca":  "ca",
		"expiration":  json.Number("1700000000"),
	})

	assert.Nil(t, cert.Certificate)
	assert.Equal(t, "ca", cert.CAChainPEM)
	assert.Equal(t, int64(1700000000), cert.Expiration.Unix())

	assert.Nil(t, (&Certificate{}).CAChainPEMBytes())
}
