package blob

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps blobs in a Cloud Storage bucket and issues V4 signed read URLs.
type GCSStore struct {
	client     *storage.Client
	bucket     string
	accessID   string
	privateKey []byte
	ttl        time.Duration
}

// NewGCSStore connects to Cloud Storage. accessID is the service account email
// and privateKey its PEM encoded key, both used for URL signing.
func NewGCSStore(ctx context.Context, bucket, accessID string, privateKey []byte, credentialsFile string, ttl time.Duration) (*GCSStore, error) {
	const op = "blob.NewGCSStore"

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	return &GCSStore{
		client:     client,
		bucket:     bucket,
		accessID:   accessID,
		privateKey: privateKey,
		ttl:        ttl,
	}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	const op = "blob.GCSStore.Put"

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = http.DetectContentType(data)

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("%s: %v", op, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

func (s *GCSStore) SignedURL(_ context.Context, key string) (string, error) {
	const op = "blob.GCSStore.SignedURL"

	u, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		GoogleAccessID: s.accessID,
		PrivateKey:     s.privateKey,
		Method:         http.MethodGet,
		Expires:        time.Now().Add(s.ttl),
		Scheme:         storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %v", op, err)
	}
	return u, nil
}
