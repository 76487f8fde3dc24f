package session

// Token is the opaque session token the portal hands back in the
// Set-Cookie header of a successful login. It is passed as-is on
// further authenticated requests.
type Token string

// Cookie returns the raw cookie string.
func (t Token) Cookie() string {
	return string(t)
}

// FailureCategory is the closed set of user-facing categories a failed
// login collapses to.
type FailureCategory string

const (
	// FailureNone means the session has not failed.
	FailureNone FailureCategory = ""

	// FailureNetwork covers transport errors, timeouts and empty
	// challenge responses.
	FailureNetwork FailureCategory = "network-error"

	// FailureWrongPassword means the container did not open with
	// the configured password.
	FailureWrongPassword FailureCategory = "wrong-password"

	// FailureCorruptContainer means the container or key material
	// did not decode.
	FailureCorruptContainer FailureCategory = "corrupt-container"

	// FailureSigning means the signer hit an internal inconsistency.
	FailureSigning FailureCategory = "signing-error"

	// FailureRejected means the handshake completed but the portal
	// granted no session.
	FailureRejected FailureCategory = "authentication-rejected"
)
