package credential

import (
	"context"
	"io/ioutil"
	"net/http"

	"github.com/pkg/errors"
)

// Source provides the raw bytes of a certificate, key or container.
// The parsers only ever see bytes; where they come from is the
// caller's concern.
type Source interface {
	Bytes(ctx context.Context) ([]byte, error)
}

// FileSource reads the material from a local file.
type FileSource string

// Bytes reads the whole file.
func (s FileSource) Bytes(_ context.Context) ([]byte, error) {
	data, err := ioutil.ReadFile(string(s))
	if err != nil {
		return nil, errors.Wrapf(err, "credential: failed to read %q", string(s))
	}
	return data, nil
}

// HTTPSource fetches the material from a URL, typically one issued by
// an ephemeral container host.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Bytes performs a GET for the source URL.
func (s HTTPSource) Bytes(ctx context.Context) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "credential: bad source url %q", s.URL)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "credential: failed to fetch %q", s.URL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("credential: fetching %q returned status %d", s.URL, resp.StatusCode)
	}
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "credential: failed to read body of %q", s.URL)
	}
	return body, nil
}

// StaticSource serves bytes already held in memory.
type StaticSource []byte

// Bytes returns the wrapped bytes.
func (s StaticSource) Bytes(_ context.Context) ([]byte, error) {
	if len(s) == 0 {
		return nil, errors.New("credential: static source is empty")
	}
	return []byte(s), nil
}
