package credential

import "github.com/pkg/errors"

var (
	// ErrFormat is returned when an input is not a decodable ASN.1
	// structure in any of the encodings a parser accepts.
	ErrFormat = errors.New("credential: malformed or unsupported structure")

	// ErrWrongPassword is returned when a decryption step completes
	// structurally but the integrity check fails or the decrypted bytes
	// are not valid key material.
	ErrWrongPassword = errors.New("credential: decryption password incorrect")

	// ErrUnsupportedEncoding is returned when every private key parsing
	// strategy has been exhausted without success.
	ErrUnsupportedEncoding = errors.New("credential: no parsing strategy matched input")
)
