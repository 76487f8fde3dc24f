// Package session drives the certificate login handshake against the
// portal: fetch a challenge, sign it, submit credentials, keep the
// session cookie. One Session is one login attempt; it is never reused
// or shared between attempts.
package session

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/vucemtools/firmador/credential"
	"github.com/vucemtools/firmador/firma"
)

// State is the position of a session in the handshake.
type State string

const (
	// StateUnauthenticated is the initial state of every session.
	StateUnauthenticated State = "unauthenticated"

	// StateChallengeFetched means the challenge endpoint returned a
	// non-empty body to sign.
	StateChallengeFetched State = "challenge_fetched"

	// StateSigned means a signed message over the challenge exists.
	StateSigned State = "signed"

	// StateAuthenticated is the terminal success state.
	StateAuthenticated State = "authenticated"

	// StateFailed is the terminal failure state.
	StateFailed State = "failed"
)

var (
	// ErrNetwork covers transport failures, timeouts and empty
	// challenge responses.
	ErrNetwork = errors.New("session: network failure or empty response")

	// ErrAuthRejected means the login request went through but the
	// portal set no session cookie.
	ErrAuthRejected = errors.New("session: portal granted no session")
)

// defaultTimeout bounds each network call of the handshake.
const defaultTimeout = 30 * time.Second

// The portal requires these literal file names in the login form
// regardless of how the container was actually named.
const portalContainerName = "CERT.pfx"

// Config holds everything one login attempt needs.
type Config struct {
	// ChallengeURL is the endpoint that returns the bytes to sign.
	ChallengeURL string

	// LoginURL is the endpoint the signed challenge is submitted to.
	LoginURL string

	// SiteID and Location are the portal site parameters sent on
	// the challenge request.
	SiteID   string
	Location string

	// Usuario and Password are the portal account credentials.
	Usuario  string
	Password string

	// Container provides the PKCS#12 bytes, from a file or from an
	// ephemeral host URL.
	Container credential.Source

	// ContainerPassword opens the container.
	ContainerPassword string

	// Timeout bounds each network call. Zero means defaultTimeout.
	Timeout time.Duration

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client

	// Stats is an optional statsd client for login metrics.
	Stats *statsd.Client
}

// Session is a single login attempt. States only ever move forward;
// a failed or authenticated session is discarded, never restarted.
type Session struct {
	cfg     Config
	client  *http.Client
	attempt string

	state     State
	failure   FailureCategory
	err       error
	token     Token
	challenge []byte
	signed    *firma.Signature
}

// New validates the configuration and returns a fresh session in
// StateUnauthenticated.
func New(cfg Config) (*Session, error) {
	if cfg.ChallengeURL == "" {
		return nil, errors.New("session: missing challenge URL in configuration")
	}
	if cfg.LoginURL == "" {
		return nil, errors.New("session: missing login URL in configuration")
	}
	if cfg.Usuario == "" {
		return nil, errors.New("session: missing usuario in configuration")
	}
	if cfg.Container == nil {
		return nil, errors.New("session: missing container source in configuration")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Session{
		cfg:     cfg,
		client:  client,
		attempt: uuid.New().String(),
		state:   StateUnauthenticated,
	}, nil
}

// Login runs the three handshake steps strictly in order: challenge,
// sign, submit. It returns nil and leaves the session authenticated,
// or returns the categorized error that moved it to StateFailed. A
// session that already ran cannot run again.
func (s *Session) Login(ctx context.Context) error {
	if s.state != StateUnauthenticated {
		return errors.Errorf("session: login already attempted (state %q), create a new session", s.state)
	}
	start := time.Now()
	if err := s.fetchChallenge(ctx); err != nil {
		return err
	}
	if err := s.signChallenge(ctx); err != nil {
		return err
	}
	if err := s.submit(ctx); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"attempt": s.attempt,
		"usuario": s.cfg.Usuario,
		"t":       time.Since(start) / time.Millisecond,
	}).Info("login succeeded")
	s.count("firmador.login.success", "")
	return nil
}

// IsAuthenticated is true iff a token is held and the session reached
// the terminal success state.
func (s *Session) IsAuthenticated() bool {
	return s.token != "" && s.state == StateAuthenticated
}

// State returns the current handshake state.
func (s *Session) State() State {
	return s.state
}

// Token returns the session token. Only meaningful when
// IsAuthenticated is true.
func (s *Session) Token() Token {
	return s.token
}

// Failure returns the terminal failure category, or FailureNone.
func (s *Session) Failure() FailureCategory {
	return s.failure
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	return s.err
}

// fetchChallenge posts the site parameters to the challenge endpoint.
// The response body, whatever its content type, is the exact byte
// sequence to sign. An empty body short-circuits to failure before the
// signer is ever invoked.
func (s *Session) fetchChallenge(ctx context.Context) error {
	form := url.Values{
		"siteId":   {s.cfg.SiteID},
		"location": {s.cfg.Location},
	}
	body, _, err := s.postForm(ctx, s.cfg.ChallengeURL, form)
	if err != nil {
		return s.fail(FailureNetwork, errors.Wrapf(ErrNetwork, "challenge request failed: %v", err))
	}
	if len(body) == 0 {
		return s.fail(FailureNetwork, errors.Wrap(ErrNetwork, "challenge endpoint returned an empty body"))
	}
	s.challenge = body
	s.state = StateChallengeFetched
	return nil
}

// signChallenge signs the challenge bytes with the session container.
// Signing-layer errors are normalized into the closed credential
// failure categories.
func (s *Session) signChallenge(ctx context.Context) error {
	containerData, err := s.cfg.Container.Bytes(ctx)
	if err != nil {
		return s.fail(FailureNetwork, errors.Wrapf(ErrNetwork, "could not fetch container: %v", err))
	}
	sig, err := firma.Sign(containerData, s.cfg.ContainerPassword, s.challenge)
	if err != nil {
		switch {
		case errors.Is(err, firma.ErrContainerPassword):
			return s.fail(FailureWrongPassword, err)
		case errors.Is(err, firma.ErrSigning):
			return s.fail(FailureSigning, err)
		default:
			return s.fail(FailureCorruptContainer, err)
		}
	}
	s.signed = sig
	s.state = StateSigned
	return nil
}

// submit posts the signed challenge and account credentials to the
// login endpoint. Success is indicated only by the presence of a
// Set-Cookie header; an HTTP 200 without one is a rejection.
func (s *Session) submit(ctx context.Context) error {
	form := url.Values{
		"siteId":      {s.cfg.SiteID},
		"pkcs7":       {s.signed.PortalString()},
		"certificado": {portalContainerName},
		"llave":       {portalContainerName},
		"idUsuario":   {s.cfg.Usuario},
		"password":    {s.cfg.Password},
	}
	_, header, err := s.postForm(ctx, s.cfg.LoginURL, form)
	if err != nil {
		return s.fail(FailureNetwork, errors.Wrapf(ErrNetwork, "login request failed: %v", err))
	}
	cookie := header.Get("Set-Cookie")
	if cookie == "" {
		return s.fail(FailureRejected, errors.Wrap(ErrAuthRejected, "login response carried no Set-Cookie header"))
	}
	s.token = Token(cookie)
	s.state = StateAuthenticated
	return nil
}

// postForm issues one bounded form-encoded POST and returns the body
// bytes and response headers. No retries: transient-network policy
// belongs to the caller.
func (s *Session) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, nil, errors.Errorf("endpoint %q returned status %d", endpoint, resp.StatusCode)
	}
	return body, resp.Header, nil
}

// fail moves the session to its terminal failure state and records the
// category for callers and metrics. The error never carries passwords.
func (s *Session) fail(category FailureCategory, err error) error {
	s.state = StateFailed
	s.failure = category
	s.err = err
	log.WithFields(log.Fields{
		"attempt":  s.attempt,
		"usuario":  s.cfg.Usuario,
		"category": string(category),
	}).Warnf("login failed: %v", err)
	s.count("firmador.login.failure", category)
	return err
}

// count sends a statsd counter when a stats client is configured.
func (s *Session) count(name string, category FailureCategory) {
	if s.cfg.Stats == nil {
		return
	}
	var tags []string
	if category != FailureNone {
		tags = append(tags, "category:"+string(category))
	}
	if err := s.cfg.Stats.Incr(name, tags, 1); err != nil {
		log.Warnf("session: error sending counter %s: %s", name, err)
	}
}
