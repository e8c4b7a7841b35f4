package vault

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
	"time"

	"github.com/vyrodovalexey/avaiot/internal/observability"
)

// DefaultPKIMountPath is the default mount of the PKI secrets engine.
const DefaultPKIMountPath = "pki"

// PKIIssueOptions describes a device certificate request.
type PKIIssueOptions struct {
	// Mount is the PKI secrets engine mount. Defaults to "pki".
	Mount string `yaml:"mount,omitempty" json:"mount,omitempty"`

	// Role is the PKI role to issue against.
	Role string `yaml:"role" json:"role"`

	// CommonName is the certificate common name, usually the thing name.
	CommonName string `yaml:"commonName" json:"commonName"`

	// AltNames are DNS subject alternative names.
	AltNames []string `yaml:"altNames,omitempty" json:"altNames,omitempty"`

	// TTL requests a validity period; zero uses the role default.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// Validate checks the options for required fields.
func (o *PKIIssueOptions) Validate() error {
	if o.Role == "" {
		return NewConfigurationError("pki.role", "role is required")
	}
	if o.CommonName == "" {
		return NewConfigurationError("pki.commonName", "common name is required")
	}
	if o.TTL < 0 {
		return NewConfigurationError("pki.ttl", "ttl must not be negative")
	}
	return nil
}

// Certificate is a PEM bundle issued by the PKI secrets engine.
type Certificate struct {
	CertificatePEM string
	PrivateKeyPEM  string
	CAChainPEM     string
	SerialNumber   string
	Expiration     time.Time

	// Certificate is the parsed leaf, when it parses.
	Certificate *x509.Certificate
}

// IssueCertificate issues a client certificate and private key.
func (c *Client) IssueCertificate(ctx context.Context, opts *PKIIssueOptions) (*Certificate, error) {
	if opts == nil {
		return nil, NewConfigurationError("pki", "options are nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("%s/issue/%s", mountOrDefault(opts.Mount, DefaultPKIMountPath), opts.Role)
	data := map[string]interface{}{
		"common_name": opts.CommonName,
	}
	if len(opts.AltNames) > 0 {
		data["alt_names"] = strings.Join(opts.AltNames, ",")
	}
	if opts.TTL > 0 {
		data["ttl"] = opts.TTL.String()
	}

	secret, err := c.write(ctx, "pki_issue", path, data)
	if err != nil {
		return nil, err
	}

	cert := parseCertificateResponse(secret.Data)
	if cert.CertificatePEM == "" || cert.PrivateKeyPEM == "" {
		return nil, &VaultError{
			Op:      "pki_issue",
			Path:    path,
			Message: "response is missing certificate or private_key",
			Err:     ErrCertificateIncomplete,
		}
	}

	c.logger.Info("certificate issued",
		observability.String("common_name", opts.CommonName),
		observability.String("serial", cert.SerialNumber),
		observability.String("expiration", cert.Expiration.UTC().Format(time.RFC3339)),
	)

	return cert, nil
}

func parseCertificateResponse(data map[string]interface{}) *Certificate {
	cert := &Certificate{
		CertificatePEM: stringField(data, "certificate"),
		PrivateKeyPEM:  stringField(data, "private_key"),
		SerialNumber:   stringField(data, "serial_number"),
	}

	if block, _ := pem.Decode([]byte(cert.CertificatePEM)); block != nil {
		if leaf, err := x509.ParseCertificate(block.Bytes); err == nil {
			cert.Certificate = leaf
			cert.Expiration = leaf.NotAfter
		}
	}

	if chain, ok := data["ca_chain"].([]interface{}); ok && len(chain) > 0 {
		pems := make([]string, 0, len(chain))
		for _, ca := range chain {
			if s, ok := ca.(string); ok {
				pems = append(pems, strings.TrimSpace(s))
			}
		}
		cert.CAChainPEM = strings.Join(pems, "\n")
	} else {
		cert.CAChainPEM = stringField(data, "issuing_ca")
	}

	switch exp := data["expiration"].(type) {
	case json.Number:
		if v, err := exp.Int64(); err == nil {
			cert.Expiration = time.Unix(v, 0)
		}
	case float64:
		cert.Expiration = time.Unix(int64(exp), 0)
	}

	return cert
}

// CertificatePEMBytes returns the leaf certificate PEM.
func (c *Certificate) CertificatePEMBytes() []byte {
	return []byte(c.CertificatePEM + "\n")
}

// PrivateKeyPEMBytes returns the private key PEM.
func (c *Certificate) PrivateKeyPEMBytes() []byte {
	return []byte(c.PrivateKeyPEM + "\n")
}

// CAChainPEMBytes returns the CA chain PEM, or nil when Vault returned none.
func (c *Certificate) CAChainPEMBytes() []byte {
	if c.CAChainPEM == "" {
		return nil
	}
	return []byte(c.CAChainPEM + "\n")
}
