package credential

import (
	"crypto/cipher"
	"crypto/des"
	"crypto/md5"
	"crypto/sha1"
	"crypto/x509/pkix"
	"encoding/asn1"
	"hash"
	"math/big"

	"github.com/pkg/errors"
)

// PBES1 and PBES2 object identifiers, RFC 8018 and RFC 7292.
var (
	oidPBES2                      = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 13}
	oidPBEWithMD5AndDES           = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 3}
	oidPBEWithSHA1AndDES          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 5, 10}
	oidPBEWithSHAAnd3KeyTripleDES = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 12, 1, 3}
)

// encryptedPrivateKeyInfo is the outer shape of an encrypted PKCS#8
// key, RFC 5208 section 6.
type encryptedPrivateKeyInfo struct {
	Algorithm     pkix.AlgorithmIdentifier
	EncryptedData []byte
}

// pbeParameter holds the salt and iteration count of a PBES1 scheme,
// RFC 8018 appendix A.3.
type pbeParameter struct {
	Salt       []byte
	Iterations int
}

// parseEncryptedPrivateKeyInfo decodes the envelope without touching
// the ciphertext, so strategies can test applicability cheaply.
func parseEncryptedPrivateKeyInfo(der []byte) (pkix.AlgorithmIdentifier, []byte, error) {
	var info encryptedPrivateKeyInfo
	rest, err := asn1.Unmarshal(der, &info)
	if err != nil {
		return pkix.AlgorithmIdentifier{}, nil, errors.Wrapf(ErrFormat, "credential: not an EncryptedPrivateKeyInfo: %v", err)
	}
	if len(rest) > 0 {
		return pkix.AlgorithmIdentifier{}, nil, errors.Wrap(ErrFormat, "credential: trailing garbage after EncryptedPrivateKeyInfo")
	}
	return info.Algorithm, info.EncryptedData, nil
}

func isLegacyPBEAlgorithm(oid asn1.ObjectIdentifier) bool {
	return oid.Equal(oidPBEWithMD5AndDES) ||
		oid.Equal(oidPBEWithSHA1AndDES) ||
		oid.Equal(oidPBEWithSHAAnd3KeyTripleDES)
}

// decryptLegacyPBE decrypts a PBES1-shrouded key. The key and IV are
// derived from the password with the KDF the algorithm OID dictates:
// PBKDF1 for the PKCS#5 schemes, the RFC 7292 appendix B derivation
// for the PKCS#12 scheme.
func decryptLegacyPBE(algo pkix.AlgorithmIdentifier, ciphertext []byte, password string) ([]byte, error) {
	var params pbeParameter
	if _, err := asn1.Unmarshal(algo.Parameters.FullBytes, &params); err != nil {
		return nil, errors.Wrapf(ErrFormat, "credential: bad PBE parameters: %v", err)
	}

	var (
		block cipher.Block
		iv    []byte
		err   error
	)
	switch {
	case algo.Algorithm.Equal(oidPBEWithMD5AndDES):
		derived := pbkdf1(md5.New, []byte(password), params.Salt, params.Iterations, 16)
		block, err = des.NewCipher(derived[:8])
		iv = derived[8:16]
	case algo.Algorithm.Equal(oidPBEWithSHA1AndDES):
		derived := pbkdf1(sha1.New, []byte(password), params.Salt, params.Iterations, 16)
		block, err = des.NewCipher(derived[:8])
		iv = derived[8:16]
	case algo.Algorithm.Equal(oidPBEWithSHAAnd3KeyTripleDES):
		key := derivePKCS12Key(sha1.New, 20, 64, []byte(password), params.Salt, params.Iterations, 1, 24)
		iv = derivePKCS12Key(sha1.New, 20, 64, []byte(password), params.Salt, params.Iterations, 2, 8)
		block, err = des.NewTripleDESCipher(key)
	default:
		return nil, errors.Wrapf(ErrFormat, "credential: unsupported PBE algorithm %v", algo.Algorithm)
	}
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "credential: could not initialize PBE cipher: %v", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.Wrap(ErrFormat, "credential: PBE ciphertext is not block aligned")
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	plaintext, err = stripPKCS7Padding(plaintext, block.BlockSize())
	if err != nil {
		// bad padding after a structurally valid decrypt: the
		// password did not derive the right key
		return nil, errors.Wrap(ErrWrongPassword, "credential: PBE padding check failed")
	}
	return plaintext, nil
}

// pbkdf1 is the RFC 8018 section 5.1 derivation used by the PKCS#5
// PBES1 schemes.
func pbkdf1(newHash func() hash.Hash, password, salt []byte, iterations, keyLen int) []byte {
	h := newHash()
	h.Write(password)
	h.Write(salt)
	t := h.Sum(nil)
	for i := 1; i < iterations; i++ {
		h.Reset()
		h.Write(t)
		t = h.Sum(nil)
	}
	return t[:keyLen]
}

// derivePKCS12Key implements the RFC 7292 appendix B key derivation.
// id selects the purpose: 1 for the cipher key, 2 for the IV.
func derivePKCS12Key(newHash func() hash.Hash, u, v int, password, salt []byte, iterations, id, keyLen int) []byte {
	pass := bmpString(password)

	diversifier := make([]byte, v)
	for i := range diversifier {
		diversifier[i] = byte(id)
	}

	input := append(repeatToMultiple(salt, v), repeatToMultiple(pass, v)...)

	rounds := (keyLen + u - 1) / u
	out := make([]byte, 0, rounds*u)
	for i := 0; i < rounds; i++ {
		h := newHash()
		h.Write(diversifier)
		h.Write(input)
		ai := h.Sum(nil)
		for j := 1; j < iterations; j++ {
			h.Reset()
			h.Write(ai)
			ai = h.Sum(nil)
		}
		out = append(out, ai...)

		if i == rounds-1 {
			break
		}
		// I_j = (I_j + B + 1) mod 2^(v*8) for each v-byte block
		b := new(big.Int).SetBytes(repeatToMultiple(ai, v))
		b.Add(b, big.NewInt(1))
		for j := 0; j < len(input)/v; j++ {
			chunk := new(big.Int).SetBytes(input[j*v : (j+1)*v])
			chunk.Add(chunk, b)
			raw := chunk.Bytes()
			if len(raw) > v {
				raw = raw[len(raw)-v:]
			}
			for k := range input[j*v : (j+1)*v] {
				input[j*v+k] = 0
			}
			copy(input[(j+1)*v-len(raw):], raw)
		}
	}
	return out[:keyLen]
}

// bmpString encodes a password as UTF-16BE with a trailing null pair,
// as PKCS#12 requires.
func bmpString(password []byte) []byte {
	out := make([]byte, 0, 2*len(password)+2)
	for _, r := range string(password) {
		out = append(out, byte(r>>8), byte(r))
	}
	return append(out, 0, 0)
}

func repeatToMultiple(pattern []byte, v int) []byte {
	if len(pattern) == 0 {
		return nil
	}
	outLen := v * ((len(pattern) + v - 1) / v)
	out := make([]byte, outLen)
	for i := range out {
		out[i] = pattern[i%len(pattern)]
	}
	return out
}

func stripPKCS7Padding(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("invalid padding length")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("inconsistent padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}
