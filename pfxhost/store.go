// Package pfxhost serves built PKCS#12 containers at ephemeral URLs
// for the short window between building and login. The store is an
// explicit object handed to whoever needs it; its lifecycle, store
// then read then clear, is owned by the caller.
package pfxhost

import (
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when no blob is hosted under an identifier.
var ErrNotFound = errors.New("pfxhost: no container hosted under this identifier")

// Store holds hosted containers in memory, write-once per identifier.
type Store struct {
	sync.Mutex
	baseURL string
	blobs   map[string][]byte
}

// NewStore returns an empty store whose URLs are rooted at baseURL,
// e.g. "http://127.0.0.1:8913".
func NewStore(baseURL string) *Store {
	return &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		blobs:   make(map[string][]byte),
	}
}

// Put hosts a blob under an identifier and returns its URL. An empty
// id gets a random one. Identifiers are write-once: hosting a second
// blob under the same id is an error, not an overwrite.
func (s *Store) Put(id string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("pfxhost: refusing to host an empty container")
	}
	if id == "" {
		id = uuid.New().String()
	}
	s.Lock()
	defer s.Unlock()
	if _, ok := s.blobs[id]; ok {
		return "", errors.Errorf("pfxhost: identifier %q is already hosted, identifiers are write-once", id)
	}
	s.blobs[id] = append([]byte(nil), data...)
	return s.baseURL + "/pfx/" + id, nil
}

// Get resolves a URL previously returned by Put back to its bytes.
func (s *Store) Get(rawurl string) ([]byte, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, errors.Wrapf(err, "pfxhost: bad container url %q", rawurl)
	}
	id := path.Base(u.Path)
	s.Lock()
	defer s.Unlock()
	data, ok := s.blobs[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "pfxhost: %q", id)
	}
	return append([]byte(nil), data...), nil
}

// Clear drops every hosted blob.
func (s *Store) Clear() {
	s.Lock()
	defer s.Unlock()
	s.blobs = make(map[string][]byte)
}

// Handler returns the HTTP surface of the store: GET /pfx/{id} serves
// the hosted bytes.
func (s *Store) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/pfx/{id}", s.serve).Methods("GET")
	return handleMiddlewares(router, setRequestID(), logRequest())
}

func (s *Store) serve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.Lock()
	data, ok := s.blobs[id]
	s.Unlock()
	if !ok {
		http.Error(w, "no container hosted under this identifier", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/x-pkcs12")
	w.Write(data)
}
