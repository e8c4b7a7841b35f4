package tls

import (
	"crypto/tls"
	"strings"
)

// TLSVersion represents TLS protocol version.
type TLSVersion string

// TLS version constants.
const (
	// TLSVersionAuto lets the TLS stack choose the minimum version.
	TLSVersionAuto TLSVersion = "AUTO"

	// TLSVersion10 represents TLS 1.0 (legacy).
	TLSVersion10 TLSVersion = "TLS10"

	// TLSVersion11 represents TLS 1.1 (legacy).
	TLSVersion11 TLSVersion = "TLS11"

	// TLSVersion12 represents TLS 1.2 (minimum default).
	TLSVersion12 TLSVersion = "TLS12"

	// TLSVersion13 represents TLS 1.3.
	TLSVersion13 TLSVersion = "TLS13"
)

// String returns the string representation of the TLS version.
func (v TLSVersion) String() string {
	return string(v)
}

// IsValid returns true if the TLS version is valid.
func (v TLSVersion) IsValid() bool {
	switch v {
	case TLSVersionAuto, TLSVersion10, TLSVersion11, TLSVersion12, TLSVersion13:
		return true
	default:
		return false
	}
}

// ToTLSVersion converts to crypto/tls version constant.
func (v TLSVersion) ToTLSVersion() uint16 {
	switch v {
	case TLSVersion10:
		return tls.VersionTLS10
	case TLSVersion11:
		return tls.VersionTLS11
	case TLSVersion12:
		return tls.VersionTLS12
	case TLSVersion13:
		return tls.VersionTLS13
	case TLSVersionAuto:
		return 0
	default:
		return tls.VersionTLS12
	}
}

// IsLegacy returns true if this is a legacy TLS version (1.0 or 1.1).
func (v TLSVersion) IsLegacy() bool {
	return v == TLSVersion10 || v == TLSVersion11
}

// ParseTLSVersion parses a version name such as "TLS12" or "1.2".
func ParseTLSVersion(s string) (TLSVersion, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AUTO":
		return TLSVersionAuto, nil
	case "TLS10", "1.0":
		return TLSVersion10, nil
	case "TLS11", "1.1":
		return TLSVersion11, nil
	case "TLS12", "1.2":
		return TLSVersion12, nil
	case "TLS13", "1.3":
		return TLSVersion13, nil
	default:
		return "", kindError(ErrConfig, NewConfigurationErrorWithCause("minVersion", s, ErrTLSVersionInvalid))
	}
}

// CertificateSource identifies where the client certificate comes from.
// Exactly one source is active for a ContextOptions value.
type CertificateSource string

// Certificate source constants.
const (
	// CertificateSourceNone presents no client certificate.
	CertificateSourceNone CertificateSource = "none"

	// CertificateSourceFile loads a PEM certificate and key from files.
	CertificateSourceFile CertificateSource = "file"

	// CertificateSourceBuffer uses in-memory PEM certificate and key.
	CertificateSourceBuffer CertificateSource = "buffer"

	// CertificateSourcePKCS11 keeps the private key on a PKCS#11 token.
	CertificateSourcePKCS11 CertificateSource = "pkcs11"

	// CertificateSourceSystemStore reads the certificate from the platform certificate store.
	CertificateSourceSystemStore CertificateSource = "system_store"
)

// String returns the string representation of the certificate source.
func (s CertificateSource) String() string {
	return string(s)
}

// IsValid returns true if the certificate source is valid.
func (s CertificateSource) IsValid() bool {
	switch s {
	case CertificateSourceNone, CertificateSourceFile, CertificateSourceBuffer,
		CertificateSourcePKCS11, CertificateSourceSystemStore:
		return true
	default:
		return false
	}
}

// PresentsClientCertificate returns true for the mTLS sources.
func (s CertificateSource) PresentsClientCertificate() bool {
	return s.IsValid() && s != CertificateSourceNone
}
