// Package formats holds the record structures shared between the
// batch runner, the configuration file and the database layer.
package formats

import "time"

// Client is one credential set registered for portal logins. Cert,
// Key and PFX reference material by local path or URL; parsed key
// bytes never appear here.
type Client struct {
	// Usuario is the portal account identifier.
	Usuario string

	// Password is the portal account password.
	Password string

	// Cert references the client certificate (PEM or DER).
	Cert string

	// Key references the private key in any supported encoding.
	Key string

	// KeyPassword decrypts the key when it is encrypted and
	// protects the container built from it.
	KeyPassword string

	// PFX optionally references a prebuilt container. When set,
	// Cert and Key are ignored.
	PFX string
}

// LoginReport is the outcome of one login attempt.
type LoginReport struct {
	Usuario  string
	State    string
	Failure  string
	Duration time.Duration
	Err      string
}

// Succeeded reports whether the attempt reached the authenticated
// state.
func (r LoginReport) Succeeded() bool {
	return r.State == "authenticated"
}
