package tls

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

// KeyOpener opens a private key held on a hardware token. Implementations
// wrap a PKCS#11 module session; the returned signer must be safe for
// concurrent use by TLS handshakes.
type KeyOpener interface {
	OpenKey(opts *PKCS11Options) (crypto.Signer, error)
}

// KeyOpenerFunc adapts a function to KeyOpener.
type KeyOpenerFunc func(opts *PKCS11Options) (crypto.Signer, error)

// OpenKey implements KeyOpener.
func (f KeyOpenerFunc) OpenKey(opts *PKCS11Options) (crypto.Signer, error) {
	return f(opts)
}

// PKCS11Options configures mTLS with a private key on a PKCS#11 token.
type PKCS11Options struct {
	// LibraryPath is the PKCS#11 module to load.
	LibraryPath string

	// UserPIN logs the session in. Empty means the token needs no login.
	UserPIN string

	// SlotID selects the slot. Nil selects by TokenLabel or the only slot.
	SlotID *uint64

	// TokenLabel selects the token by label.
	TokenLabel string

	// PrivateKeyObjectLabel selects the key object by label.
	PrivateKeyObjectLabel string

	// CertificateFilePath is a PEM certificate chain on disk.
	CertificateFilePath string

	// CertificateFileContents is a PEM certificate chain in memory.
	CertificateFileContents []byte

	// Opener opens the private key on the token.
	Opener KeyOpener
}

// validate checks the option fields. Platform checks happen in the constructor.
func (o *PKCS11Options) validate() error {
	if o == nil {
		return NewConfigurationError("pkcs11", "options are required")
	}
	if strings.TrimSpace(o.LibraryPath) == "" {
		return NewConfigurationError("pkcs11.libraryPath", "PKCS#11 library path required")
	}
	if o.CertificateFilePath == "" && len(o.CertificateFileContents) == 0 {
		return NewConfigurationError("pkcs11.certificate", "certificate file path or contents required")
	}
	if o.CertificateFilePath != "" && len(o.CertificateFileContents) > 0 {
		return NewConfigurationError("pkcs11.certificate", "certificate file path and contents are mutually exclusive")
	}
	if o.Opener == nil {
		return NewConfigurationError("pkcs11.opener", "hardware key opener required")
	}
	return nil
}

// certificatePEM returns the configured certificate chain.
func (o *PKCS11Options) certificatePEM() ([]byte, error) {
	if len(o.CertificateFileContents) > 0 {
		return o.CertificateFileContents, nil
	}
	data, err := os.ReadFile(o.CertificateFilePath)
	if err != nil {
		return nil, NewCertificateErrorWithCause(o.CertificateFilePath, "failed to read certificate", err)
	}
	return data, nil
}

// loadPKCS11Certificate pairs the certificate chain with the token-held key.
func loadPKCS11Certificate(o *PKCS11Options) (tls.Certificate, error) {
	chainPEM, err := o.certificatePEM()
	if err != nil {
		return tls.Certificate{}, err
	}

	chain, leaf, err := parseCertificateChain(chainPEM)
	if err != nil {
		return tls.Certificate{}, NewCertificateErrorWithCause(o.CertificateFilePath, "failed to parse certificate", err)
	}

	signer, err := o.Opener.OpenKey(o)
	if err != nil {
		return tls.Certificate{}, NewCertificateErrorWithCause(o.LibraryPath, "failed to open token key", err)
	}

	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(leaf.PublicKey) {
		return tls.Certificate{}, NewCertificateErrorWithCause(o.LibraryPath,
			"token key does not match certificate", ErrCertificateKeyMismatch)
	}

	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  signer,
		Leaf:        leaf,
	}, nil
}

// parseCertificateChain decodes all CERTIFICATE blocks from PEM data.
func parseCertificateChain(data []byte) ([][]byte, *x509.Certificate, error) {
	var chain [][]byte
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			chain = append(chain, block.Bytes)
		}
	}

	if len(chain) == 0 {
		return nil, nil, ErrCertificateInvalid
	}

	leaf, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCertificateInvalid, err)
	}

	return chain, leaf, nil
}
