package credential

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestParseCertificateDER(t *testing.T) {
	t.Parallel()

	_, der := makeTestKeyAndCertDER(t)
	cert, err := ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse DER certificate: %v", err)
	}
	if cert.X509().Subject.CommonName != testCertCN {
		t.Fatalf("parsed CN %q does not match %q", cert.X509().Subject.CommonName, testCertCN)
	}
}

func TestParseCertificatePEM(t *testing.T) {
	t.Parallel()

	_, der := makeTestKeyAndCertDER(t)
	pemData := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	cert, err := ParseCertificate(pemData)
	if err != nil {
		t.Fatalf("failed to parse PEM certificate: %v", err)
	}
	if cert.X509().Subject.CommonName != testCertCN {
		t.Fatalf("parsed CN %q does not match %q", cert.X509().Subject.CommonName, testCertCN)
	}
}

func TestParseCertificatePEMMarkerNeverFallsBackToDER(t *testing.T) {
	t.Parallel()

	// input carrying the PEM marker but an undecodable body must fail
	// in the armored path, never get retried as raw DER
	_, der := makeTestKeyAndCertDER(t)
	corrupted := []byte("-----BEGIN CERTIFICATE-----\nnot base64 at all\n-----END CERTIFICATE-----\n")
	corrupted = append(corrupted, der...)
	_, err := ParseCertificate(corrupted)
	if err == nil {
		t.Fatal("expected parse of corrupted PEM input to fail")
	}
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestParseCertificateGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseCertificate([]byte("definitely not a certificate"))
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("expected ErrFormat, got %v", err)
	}
}

func TestSubjectAttributeOrder(t *testing.T) {
	t.Parallel()

	_, der := makeTestKeyAndCertDER(t)
	cert, err := ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	attrs := cert.Subject()
	expected := []Attribute{
		{Name: "O", Value: "Servicio de Pruebas"},
		{Name: "CN", Value: testCertCN},
		{Name: "SERIALNUMBER", Value: "PRBA800101AAA"},
	}
	if len(attrs) != len(expected) {
		t.Fatalf("expected %d subject attributes, got %d: %+v", len(expected), len(attrs), attrs)
	}
	for i := range expected {
		if attrs[i] != expected[i] {
			t.Fatalf("attribute %d is %+v, expected %+v", i, attrs[i], expected[i])
		}
	}
}

func TestCertificateImmutability(t *testing.T) {
	t.Parallel()

	_, der := makeTestKeyAndCertDER(t)
	cert, err := ParseCertificate(der)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}
	raw := cert.DER()
	raw[0] ^= 0xff
	if cert.DER()[0] == raw[0] {
		t.Fatal("mutating the returned DER slice changed the certificate")
	}
	attrs := cert.Subject()
	attrs[0].Value = "mutated"
	if cert.Subject()[0].Value == "mutated" {
		t.Fatal("mutating the returned subject slice changed the certificate")
	}
}

const testCertCN = "prueba.vucem.gob.mx"

// makeTestKeyAndCertDER generates a fresh RSA key and a self-signed
// certificate for it.
func makeTestKeyAndCertDER(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   testCertCN,
			Organization: []string{"Servicio de Pruebas"},
			SerialNumber: "PRBA800101AAA",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	return key, der
}
