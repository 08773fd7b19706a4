package blob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidKey       = errors.New("invalid blob key")
	ErrInvalidSignature = errors.New("invalid or expired signature")
)

// LocalStore keeps blobs as files under a root directory and issues HMAC-signed,
// time-limited read URLs that it serves itself through ServeHTTP.
type LocalStore struct {
	root    string
	baseURL string
	secret  []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewLocalStore creates the root directory if needed. baseURL is the externally
// reachable address of the HTTP server, without the /blobs suffix.
func NewLocalStore(root, baseURL string, secret []byte, ttl time.Duration) (*LocalStore, error) {
	const op = "blob.NewLocalStore"

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return &LocalStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || key == "." || key == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, key), nil
}

func (s *LocalStore) Put(_ context.Context, key string, data []byte) error {
	const op = "blob.LocalStore.Put"

	path, err := s.path(key)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%s: %v", op, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

func (s *LocalStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignedURL returns a read URL for key that expires after the configured TTL.
func (s *LocalStore) SignedURL(_ context.Context, key string) (string, error) {
	const op = "blob.LocalStore.SignedURL"

	if _, err := s.path(key); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	expires := s.now().Add(s.ttl).Unix()
	q := url.Values{}
	q.Set("se", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(key, expires))
	return s.baseURL + "/blobs/" + url.PathEscape(key) + "?" + q.Encode(), nil
}

// Verify checks the se/sig query parameters of a signed URL for key.
func (s *LocalStore) Verify(key string, query url.Values) error {
	expires, err := strconv.ParseInt(query.Get("se"), 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if s.now().Unix() > expires {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(query.Get("sig"))
	if err != nil {
		return ErrInvalidSignature
	}
	want, _ := hex.DecodeString(s.sign(key, expires))
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}

// ServeHTTP serves the blob named by the request path when the URL carries a
// valid signature. Mount it with the /blobs prefix stripped.
func (s *LocalStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")

	path, err := s.path(key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Verify(key, r.URL.Query()); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "failed to open blob", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "failed to stat blob", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, key, info.ModTime(), f)
}
