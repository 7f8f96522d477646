package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"video-insights-go/internal/logger"
)

// ObjectStore is the storage collaborator the ingestion path consumes:
// idempotent upload of video bytes plus time-limited read URLs the video
// intelligence service can fetch from.
type ObjectStore interface {
	Exists(ctx context.Context, name string) (bool, error)
	Upload(ctx context.Context, name string, data []byte) error
	GetReadURL(ctx context.Context, name string, ttl time.Duration) (string, error)
}

type gcsStore struct {
	log    *logrus.Entry
	client *storage.Client
	bucket string
}

// NewGCS builds a bucket-backed ObjectStore. Credentials come from the
// ambient service account (or GOOGLE_APPLICATION_CREDENTIALS).
func NewGCS(ctx context.Context, log *logger.Logger) (ObjectStore, error) {
	bucket := strings.TrimSpace(os.Getenv("VIDEO_GCS_BUCKET_NAME"))
	if bucket == "" {
		return nil, errors.New("VIDEO_GCS_BUCKET_NAME not set")
	}

	var opts []option.ClientOption
	if creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &gcsStore{
		log:    log.WithComponent("blobstore"),
		client: client,
		bucket: bucket,
	}, nil
}

func (s *gcsStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object %q: %w", name, err)
	}
	return true, nil
}

// Upload writes the bytes under name. Uploading a name that already exists
// is a no-op, which is what makes feed re-ingestion idempotent.
func (s *gcsStore) Upload(ctx context.Context, name string, data []byte) error {
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		s.log.WithField("object", name).Debug("object already stored, skipping upload")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "video/mp4"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %q: %w", name, err)
	}
	return nil
}

// GetReadURL returns a signed, read-only URL for the object, or "" when the
// object is absent.
func (s *gcsStore) GetReadURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	exists, err := s.Exists(ctx, name)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", nil
	}

	url, err := s.client.Bucket(s.bucket).SignedURL(name, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("sign read url for %q: %w", name, err)
	}
	return url, nil
}
