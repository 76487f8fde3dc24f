package credential

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"

	"github.com/pkg/errors"
	"github.com/youmark/pkcs8"
)

// errNotApplicable flags a strategy that cannot even begin decoding its
// input. The fallback chain moves on without recording its error.
var errNotApplicable = errors.New("credential: strategy not applicable")

// keyStrategy is one entry of the private key fallback chain: a pure
// function from bytes and password to a key or an error.
type keyStrategy struct {
	name  string
	parse func(data []byte, password string) (*rsa.PrivateKey, error)
}

// keyStrategies is the fixed priority order in which key encodings are
// attempted. Legacy PBE is kept last on purpose.
var keyStrategies = []keyStrategy{
	{"pem-plain", parseKeyPEMPlain},
	{"pem-encrypted", parseKeyPEMEncrypted},
	{"der-pkcs8", parseKeyDERPlain},
	{"der-pkcs8-encrypted", parseKeyDEREncrypted},
	{"der-legacy-pbe", parseKeyDERLegacyPBE},
}

// ParsePrivateKey parses an RSA private key from any supported
// encoding, trying each strategy of keyStrategies in order. A strategy
// that does not apply to the input is skipped silently; of the
// strategies that do apply, only the last failure is surfaced. When no
// strategy applied at all the result is ErrUnsupportedEncoding.
//
// The password is only consulted by the encrypted strategies, so a
// bogus password does not affect unencrypted inputs.
func ParsePrivateKey(data []byte, password string) (*rsa.PrivateKey, error) {
	var lastErr error
	for _, strat := range keyStrategies {
		key, err := strat.parse(data, password)
		if err == nil {
			if verr := key.Validate(); verr != nil {
				// the cipher ran to completion but produced garbage
				return nil, errors.Wrapf(ErrWrongPassword, "credential: strategy %s produced invalid key material", strat.name)
			}
			return key, nil
		}
		if errors.Is(err, errNotApplicable) {
			continue
		}
		lastErr = errors.Wrapf(err, "credential: strategy %s failed", strat.name)
	}
	if lastErr == nil {
		return nil, ErrUnsupportedEncoding
	}
	if errors.Is(lastErr, ErrWrongPassword) {
		return nil, lastErr
	}
	return nil, errors.Wrapf(ErrUnsupportedEncoding, "%v", lastErr)
}

// parseKeyPEMPlain handles unencrypted PEM blocks of any PRIVATE KEY
// type.
func parseKeyPEMPlain(data []byte, _ string) (*rsa.PrivateKey, error) {
	block := decodeKeyPEM(data)
	if block == nil {
		return nil, errNotApplicable
	}
	if x509.IsEncryptedPEMBlock(block) {
		return nil, errNotApplicable
	}
	return parseRSAKeyDER(block.Bytes)
}

// parseKeyPEMEncrypted handles PEM blocks carrying RFC 1423 encryption
// headers. A decryption integrity failure is a wrong password, never a
// generic error.
func parseKeyPEMEncrypted(data []byte, password string) (*rsa.PrivateKey, error) {
	block := decodeKeyPEM(data)
	if block == nil || !x509.IsEncryptedPEMBlock(block) {
		return nil, errNotApplicable
	}
	der, err := x509.DecryptPEMBlock(block, []byte(password))
	if err != nil {
		return nil, errors.Wrapf(ErrWrongPassword, "credential: PEM decryption failed: %v", err)
	}
	key, err := parseRSAKeyDER(der)
	if err != nil {
		// structurally successful decrypt that yields undecodable
		// bytes means the password was wrong
		return nil, errors.Wrap(ErrWrongPassword, "credential: decrypted PEM block is not a valid key")
	}
	return key, nil
}

// parseKeyDERPlain handles raw unencrypted DER, PKCS#8 or PKCS#1.
func parseKeyDERPlain(data []byte, _ string) (*rsa.PrivateKey, error) {
	if looksLikePEM(data) {
		return nil, errNotApplicable
	}
	return parseRSAKeyDER(data)
}

// parseKeyDEREncrypted handles raw DER encrypted PKCS#8 using the
// PBES2 parameters embedded in the structure.
func parseKeyDEREncrypted(data []byte, password string) (*rsa.PrivateKey, error) {
	if looksLikePEM(data) {
		return nil, errNotApplicable
	}
	algo, _, err := parseEncryptedPrivateKeyInfo(data)
	if err != nil || !algo.Algorithm.Equal(oidPBES2) {
		return nil, errNotApplicable
	}
	key, err := pkcs8.ParsePKCS8PrivateKeyRSA(data, []byte(password))
	if err != nil {
		return nil, errors.Wrapf(ErrWrongPassword, "credential: PKCS#8 decryption failed: %v", err)
	}
	return key, nil
}

// parseKeyDERLegacyPBE handles raw DER keys shrouded with the legacy
// PKCS#5/PKCS#12 PBES1 schemes. Last resort.
func parseKeyDERLegacyPBE(data []byte, password string) (*rsa.PrivateKey, error) {
	if looksLikePEM(data) {
		return nil, errNotApplicable
	}
	algo, enc, err := parseEncryptedPrivateKeyInfo(data)
	if err != nil || !isLegacyPBEAlgorithm(algo.Algorithm) {
		return nil, errNotApplicable
	}
	der, err := decryptLegacyPBE(algo, enc, password)
	if err != nil {
		return nil, err
	}
	key, err := parseRSAKeyDER(der)
	if err != nil {
		return nil, errors.Wrap(ErrWrongPassword, "credential: decrypted key bytes are not a valid key")
	}
	return key, nil
}

// parseRSAKeyDER decodes a DER key as PKCS#1 then PKCS#8, requiring an
// RSA key either way.
func parseRSAKeyDER(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	keyInterface, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "credential: could not parse key DER: %v", err)
	}
	key, ok := keyInterface.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.Wrapf(ErrFormat, "credential: unsupported key type %T, use RSA keys", keyInterface)
	}
	return key, nil
}

// decodeKeyPEM returns the first PEM block whose type ends in
// "PRIVATE KEY", skipping certificates and other block types.
func decodeKeyPEM(data []byte) *pem.Block {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil
		}
		if strings.HasSuffix(block.Type, "PRIVATE KEY") {
			return block
		}
	}
}

func looksLikePEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN"))
}
