package tls

import (
	"crypto/x509"
	"strings"
)

// CertificateInfo contains metadata about a certificate.
type CertificateInfo struct {
	// Subject is the certificate subject.
	Subject string

	// Issuer is the certificate issuer.
	Issuer string

	// SerialNumber is the certificate serial number.
	SerialNumber string

	// NotBefore is when the certificate becomes valid.
	NotBefore string

	// NotAfter is when the certificate expires.
	NotAfter string

	// DNSNames are the DNS names in the certificate.
	DNSNames []string
}

// ExtractCertificateInfo extracts metadata from a certificate.
func ExtractCertificateInfo(cert *x509.Certificate) *CertificateInfo {
	if cert == nil {
		return nil
	}

	info := &CertificateInfo{
		Subject:      cert.Subject.String(),
		Issuer:       cert.Issuer.String(),
		SerialNumber: cert.SerialNumber.String(),
		NotBefore:    cert.NotBefore.UTC().Format("2006-01-02T15:04:05Z"),
		NotAfter:     cert.NotAfter.UTC().Format("2006-01-02T15:04:05Z"),
	}

	if len(cert.DNSNames) > 0 {
		info.DNSNames = make([]string, len(cert.DNSNames))
		copy(info.DNSNames, cert.DNSNames)
	}

	return info
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// joinSentinel keeps err's message while making errors.Is match sentinel.
func joinSentinel(sentinel, err error) error {
	return &sentinelError{sentinel: sentinel, err: err}
}

type sentinelError struct {
	sentinel error
	err      error
}

func (e *sentinelError) Error() string {
	return e.err.Error()
}

func (e *sentinelError) Unwrap() []error {
	return []error{e.sentinel, e.err}
}
