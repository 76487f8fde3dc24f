// Package container builds and opens the password-protected PKCS#12
// containers the portal expects clients to sign with. A container
// always bundles exactly one RSA private key and one certificate.
package container

import (
	"crypto/rsa"

	"github.com/pkg/errors"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/vucemtools/firmador/credential"
)

// Cipher selects the encryption scheme of a built container.
type Cipher string

const (
	// CipherTripleDES is the legacy SHA1/3DES scheme. It is the
	// default because the portal's upload parser predates PBES2.
	CipherTripleDES Cipher = "tripledes"

	// CipherAES256 is the modern PBES2/AES-256-CBC scheme.
	CipherAES256 Cipher = "aes256"
)

// Build serializes a key and certificate into an encrypted PKCS#12
// blob. Output carries a fresh random salt and IV on every call, so
// two builds of the same material differ byte-wise but both open with
// the same password.
func Build(key *rsa.PrivateKey, cert *credential.Certificate, password string, cipher Cipher) ([]byte, error) {
	if key == nil {
		return nil, errors.New("container: missing private key")
	}
	if cert == nil {
		return nil, errors.New("container: missing certificate")
	}
	var encoder *pkcs12.Encoder
	switch cipher {
	case CipherTripleDES, "":
		encoder = pkcs12.LegacyDES
	case CipherAES256:
		encoder = pkcs12.Modern
	default:
		return nil, errors.Errorf("container: unknown cipher %q, must be %q or %q", cipher, CipherTripleDES, CipherAES256)
	}
	data, err := encoder.Encode(key, cert.X509(), nil, password)
	if err != nil {
		return nil, errors.Wrap(err, "container: failed to encode PKCS#12 structure")
	}
	return data, nil
}

// Open decrypts a container and returns its key and certificate. A MAC
// or shrouded-bag integrity failure maps to ErrWrongPassword, any
// structural problem, including a missing key or certificate bag, maps
// to ErrFormat.
func Open(data []byte, password string) (*rsa.PrivateKey, *credential.Certificate, error) {
	keyInterface, x509Cert, err := pkcs12.Decode(data, password)
	if err != nil {
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, nil, errors.Wrap(credential.ErrWrongPassword, "container: integrity check failed")
		}
		return nil, nil, errors.Wrapf(credential.ErrFormat, "container: could not decode PKCS#12 structure: %v", err)
	}
	key, ok := keyInterface.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, errors.Wrapf(credential.ErrFormat, "container: unsupported key type %T, use RSA keys", keyInterface)
	}
	if x509Cert == nil {
		return nil, nil, errors.Wrap(credential.ErrFormat, "container: no certificate bag found")
	}
	cert, err := credential.ParseCertificate(x509Cert.Raw)
	if err != nil {
		return nil, nil, errors.Wrap(err, "container: embedded certificate did not reparse")
	}
	return key, cert, nil
}

// Validate reports whether a container opens with the password and
// holds both a key and a certificate. It never returns an error: every
// failure collapses to false.
func Validate(data []byte, password string) bool {
	key, cert, err := Open(data, password)
	return err == nil && key != nil && cert != nil
}
