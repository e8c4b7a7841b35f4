// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestCertificates holds a CA with a server and a client certificate.
type TestCertificates struct {
	CAKey     *ecdsa.PrivateKey
	CACert    *x509.Certificate
	CACertPEM []byte

	ServerKey     *ecdsa.PrivateKey
	ServerCert    *x509.Certificate
	ServerCertPEM []byte
	ServerKeyPEM  []byte

	ClientKey     *ecdsa.PrivateKey
	ClientCert    *x509.Certificate
	ClientCertPEM []byte
	ClientKeyPEM  []byte
}

// CertificateOption adjusts a certificate template before signing.
type CertificateOption func(*x509.Certificate)

// WithNotAfter sets the expiry of the client certificate.
func WithNotAfter(notAfter time.Time) CertificateOption {
	return func(c *x509.Certificate) {
		c.NotAfter = notAfter
	}
}

// GenerateTestCertificates generates a CA, a localhost server certificate
// and a client certificate. Options apply to the client certificate.
func GenerateTestCertificates(t testing.TB, opts ...CertificateOption) *TestCertificates {
	t.Helper()

	tc := &TestCertificates{}

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tc.CAKey = caKey

	caTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   "Test Root CA",
			Organization: []string{"Test CA"},
		},
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	tc.CACert, err = x509.ParseCertificate(caDER)
	require.NoError(t, err)
	tc.CACertPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER})

	serverTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject: pkix.Name{
			CommonName:   "localhost",
			Organization: []string{"Test Server"},
		},
		NotBefore:   time.Now().Add(-1 * time.Hour),
		NotAfter:    time.Now().Add(24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:    []string{"localhost"},
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}
	tc.ServerKey, tc.ServerCert, tc.ServerCertPEM, tc.ServerKeyPEM = tc.sign(t, serverTemplate)

	clientTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject: pkix.Name{
			CommonName:   "test-thing",
			Organization: []string{"Test Client"},
		},
		NotBefore:   time.Now().Add(-1 * time.Hour),
		NotAfter:    time.Now().Add(24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	for _, opt := range opts {
		opt(clientTemplate)
	}
	tc.ClientKey, tc.ClientCert, tc.ClientCertPEM, tc.ClientKeyPEM = tc.sign(t, clientTemplate)

	return tc
}

func (tc *TestCertificates) sign(
	t testing.TB,
	template *x509.Certificate,
) (*ecdsa.PrivateKey, *x509.Certificate, []byte, []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	der, err := x509.CreateCertificate(rand.Reader, template, tc.CACert, &key.PublicKey, tc.CAKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return key, cert, certPEM, keyPEM
}

// WriteFiles writes the client pair and CA bundle into dir.
func (tc *TestCertificates) WriteFiles(t testing.TB, dir string) (certFile, keyFile, caFile string) {
	t.Helper()

	certFile = filepath.Join(dir, "client.crt")
	keyFile = filepath.Join(dir, "client.key")
	caFile = filepath.Join(dir, "ca.crt")

	require.NoError(t, os.WriteFile(certFile, tc.ClientCertPEM, 0o600))
	require.NoError(t, os.WriteFile(keyFile, tc.ClientKeyPEM, 0o600))
	require.NoError(t, os.WriteFile(caFile, tc.CACertPEM, 0o600))

	return certFile, keyFile, caFile
}

// ServerTLSConfig returns a server configuration that requires a client
// certificate issued by the test CA.
func (tc *TestCertificates) ServerTLSConfig(t testing.TB, nextProtos ...string) *tls.Config {
	t.Helper()

	cert, err := tls.X509KeyPair(tc.ServerCertPEM, tc.ServerKeyPEM)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(tc.CACert)

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		NextProtos:   nextProtos,
		MinVersion:   tls.VersionTLS12,
	}
}
