// Package firma produces the signed message the portal's login parser
// consumes: an attached PKCS#7 SignedData over the server challenge,
// signed with the key of a PKCS#12 container and carrying its
// certificate.
package firma

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"strings"

	"github.com/pkg/errors"
	"go.mozilla.org/pkcs7"

	"github.com/vucemtools/firmador/container"
	"github.com/vucemtools/firmador/credential"
)

var (
	// ErrSigning flags an internal inconsistency that produced an
	// empty or unusable signed message. Not recoverable.
	ErrSigning = errors.New("firma: signing produced no output")

	// ErrContainerPassword is the portal-facing category for a
	// container that failed its integrity check.
	ErrContainerPassword = errors.New("firma: incorrect container password")

	// ErrContainerCorrupt is the portal-facing category for a
	// container that did not decode structurally.
	ErrContainerCorrupt = errors.New("firma: invalid or corrupt container")
)

// pemType is the block type of the armored output.
const pemType = "PKCS7"

// portalEndMarker is the closing marker rewrite the portal's
// server-side parser demands. Undocumented server quirk, reproduce it
// byte for byte and do not generalize.
const (
	standardEndMarker = "-----END PKCS7-----"
	portalEndMarker   = "-----END+PKCS7-----"
)

// Signature is an attached PKCS#7 SignedData over a payload, ready to
// be serialized for the portal.
type Signature struct {
	der  []byte
	cert *credential.Certificate
}

// Sign opens the container with the password and produces an attached
// SHA-256 SignedData embedding the payload and the container's
// certificate as the single signer. Container errors are mapped to the
// portal-facing categories before any signing is attempted.
func Sign(containerData []byte, password string, payload []byte) (*Signature, error) {
	key, cert, err := container.Open(containerData, password)
	if err != nil {
		switch {
		case errors.Is(err, credential.ErrWrongPassword):
			return nil, errors.Wrapf(ErrContainerPassword, "%v", err)
		default:
			return nil, errors.Wrapf(ErrContainerCorrupt, "%v", err)
		}
	}

	toBeSigned, err := pkcs7.NewSignedData(payload)
	if err != nil {
		return nil, errors.Wrapf(ErrSigning, "cannot initialize signed data: %v", err)
	}
	toBeSigned.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	err = toBeSigned.AddSigner(cert.X509(), key, pkcs7.SignerInfoConfig{})
	if err != nil {
		return nil, errors.Wrapf(ErrSigning, "cannot add signer: %v", err)
	}
	der, err := toBeSigned.Finish()
	if err != nil {
		return nil, errors.Wrapf(ErrSigning, "cannot finish signed data: %v", err)
	}
	if len(der) == 0 {
		return nil, errors.Wrap(ErrSigning, "finished signed data is empty")
	}
	return &Signature{der: der, cert: cert}, nil
}

// DER returns the raw SignedData encoding.
func (sig *Signature) DER() []byte {
	return append([]byte(nil), sig.der...)
}

// Certificate returns the signer certificate embedded in the message.
func (sig *Signature) Certificate() *credential.Certificate {
	return sig.cert
}

// PEM returns the armored text encoding of the signed message.
func (sig *Signature) PEM() string {
	var buf bytes.Buffer
	pem.Encode(&buf, &pem.Block{Type: pemType, Bytes: sig.der})
	return buf.String()
}

// PortalString returns the exact text form the portal's parser
// expects: the PEM output with every line break removed and the
// closing marker rewritten to the concatenated form.
func (sig *Signature) PortalString() string {
	text := sig.PEM()
	text = strings.Replace(text, "\r", "", -1)
	text = strings.Replace(text, "\n", "", -1)
	return strings.Replace(text, standardEndMarker, portalEndMarker, 1)
}

// Verify parses a SignedData encoding, checks its signature against
// the embedded content and certificate, and returns the sole signer
// certificate. Used by callers and tests to validate output
// independently of the builder.
func Verify(der []byte) (*x509.Certificate, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, errors.Wrap(err, "firma: failed to parse signed data")
	}
	if err := p7.Verify(); err != nil {
		return nil, errors.Wrap(err, "firma: signature verification failed")
	}
	signer := p7.GetOnlySigner()
	if signer == nil {
		return nil, errors.New("firma: signed data does not have exactly one signer")
	}
	return signer, nil
}
