package tls

import (
	"crypto/tls"
	"encoding/hex"
	"strconv"
	"strings"
)

// CertificateStore resolves a certificate and its private key from the
// platform certificate store.
type CertificateStore interface {
	FindCertificate(ref StoreReference) (tls.Certificate, error)
}

// CertificateStoreFunc adapts a function to CertificateStore.
type CertificateStoreFunc func(ref StoreReference) (tls.Certificate, error)

// FindCertificate implements CertificateStore.
func (f CertificateStoreFunc) FindCertificate(ref StoreReference) (tls.Certificate, error) {
	return f(ref)
}

// StoreReference addresses a certificate as Location\Store\Thumbprint,
// for example CurrentUser\MY\A11F8A9B5DF5B98BA3508FBCA575D09570E0D2C6.
type StoreReference struct {
	Location   string
	Store      string
	Thumbprint string
}

// String returns the store path form of the reference.
func (r StoreReference) String() string {
	return r.Location + `\` + r.Store + `\` + r.Thumbprint
}

// ParseStoreReference parses a Location\Store\Thumbprint path.
func ParseStoreReference(path string) (StoreReference, error) {
	parts := strings.Split(strings.TrimSpace(path), `\`)
	if len(parts) != 3 {
		return StoreReference{}, NewConfigurationError("systemStore.path",
			`store path must have the form Location\Store\Thumbprint`)
	}

	for i, part := range parts {
		if part == "" {
			return StoreReference{}, NewConfigurationError("systemStore.path",
				"store path has an empty component at position "+strconv.Itoa(i+1))
		}
	}

	thumbprint := strings.ToUpper(parts[2])
	raw, err := hex.DecodeString(thumbprint)
	if err != nil || len(raw) != 20 {
		return StoreReference{}, NewConfigurationError("systemStore.thumbprint",
			"thumbprint must be a 40 character SHA-1 hex string")
	}

	return StoreReference{Location: parts[0], Store: parts[1], Thumbprint: thumbprint}, nil
}
