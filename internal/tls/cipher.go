package tls

import (
	"crypto/tls"
	"fmt"
)

// TLSVersionName returns the human-readable name of a TLS version.
func TLSVersionName(version uint16) string {
	switch version {
	case 0:
		return "auto"
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("0x%04X", version)
	}
}

// CipherSuiteName returns the IANA name of a negotiated cipher suite.
func CipherSuiteName(id uint16) string {
	return tls.CipherSuiteName(id)
}
