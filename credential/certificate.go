package credential

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"

	"github.com/pkg/errors"
)

// pemCertMarker is the canonical marker that routes input through the
// armored decoding path. Input without it is treated as raw DER.
const pemCertMarker = "-----BEGIN CERTIFICATE-----"

// Attribute is a single name=value pair of a certificate subject.
type Attribute struct {
	Name  string
	Value string
}

// Certificate is an immutable parsed certificate: the DER bytes it was
// decoded from, the ordered subject attributes and the public key.
type Certificate struct {
	cert    *x509.Certificate
	der     []byte
	subject []Attribute
}

// ParseCertificate decodes a certificate from PEM or raw DER bytes.
// If the input contains the PEM certificate marker it is decoded as
// base64-armored DER, otherwise the bytes are decoded directly. There
// is no further fallback: certificates are never password protected,
// so a decoding failure is always ErrFormat.
func ParseCertificate(data []byte) (*Certificate, error) {
	der := data
	if bytes.Contains(data, []byte(pemCertMarker)) {
		block, _ := pem.Decode(data)
		if block == nil || block.Type != "CERTIFICATE" {
			return nil, errors.Wrap(ErrFormat, "credential: failed to decode certificate PEM block")
		}
		der = block.Bytes
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "credential: could not parse X.509 certificate: %v", err)
	}
	return &Certificate{
		cert:    cert,
		der:     cert.Raw,
		subject: subjectAttributes(cert),
	}, nil
}

// X509 returns the underlying parsed certificate.
func (c *Certificate) X509() *x509.Certificate {
	return c.cert
}

// DER returns a copy of the raw DER encoding.
func (c *Certificate) DER() []byte {
	return append([]byte(nil), c.der...)
}

// Subject returns the ordered subject attributes as name=value pairs.
func (c *Certificate) Subject() []Attribute {
	return append([]Attribute(nil), c.subject...)
}

// PublicKey returns the certificate public key.
func (c *Certificate) PublicKey() crypto.PublicKey {
	return c.cert.PublicKey
}

// subjectAttributes flattens the subject RDN sequence preserving the
// order in which the attributes appear in the certificate.
func subjectAttributes(cert *x509.Certificate) []Attribute {
	var attrs []Attribute
	for _, name := range cert.Subject.Names {
		attrs = append(attrs, Attribute{
			Name:  attributeName(name),
			Value: fmt.Sprintf("%v", name.Value),
		})
	}
	return attrs
}

func attributeName(atv pkix.AttributeTypeAndValue) string {
	type oidName struct {
		oid  string
		name string
	}
	known := []oidName{
		{"2.5.4.3", "CN"},
		{"2.5.4.5", "SERIALNUMBER"},
		{"2.5.4.6", "C"},
		{"2.5.4.7", "L"},
		{"2.5.4.8", "ST"},
		{"2.5.4.9", "STREET"},
		{"2.5.4.10", "O"},
		{"2.5.4.11", "OU"},
		{"2.5.4.17", "POSTALCODE"},
		{"1.2.840.113549.1.9.1", "EMAILADDRESS"},
		{"2.5.4.45", "UID"},
	}
	oid := atv.Type.String()
	for _, kn := range known {
		if kn.oid == oid {
			return kn.name
		}
	}
	return oid
}
