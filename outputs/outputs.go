// Package outputs publishes materialized translations beyond the local
// downloads area.
package outputs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/googleapi"
)

// Sink receives every materialized output file.
type Sink interface {
	// Publish makes the file at localPath available and returns where.
	Publish(ctx context.Context, localPath string) (string, error)
	Close() error
}

// LocalSink leaves outputs in the downloads area.
type LocalSink struct{}

// Publish returns localPath unchanged.
func (LocalSink) Publish(_ context.Context, localPath string) (string, error) {
	return localPath, nil
}

// Close does nothing.
func (LocalSink) Close() error { return nil }

// GCSSink mirrors outputs into a Cloud Storage bucket. Objects are created
// only if absent, so re-publishing the same output is a no-op.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink connects to Cloud Storage with application default
// credentials (or STORAGE_EMULATOR_HOST when set).
func NewGCSSink(ctx context.Context, bucket, prefix string) (*GCSSink, error) {
	if bucket == "" {
		return nil, errors.New("gcs sink: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// ObjectName returns the object an output file is stored under.
func (s *GCSSink) ObjectName(localPath string) string {
	return path.Join(s.prefix, filepath.Base(localPath))
}

// Publish uploads the file and returns its gs:// URL.
func (s *GCSSink) Publish(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening output: %w", err)
	}
	defer f.Close()

	object := s.ObjectName(localPath)
	url := "gs://" + s.bucket + "/" + object

	w := s.client.Bucket(s.bucket).Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ChunkSize = 0

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		if alreadyExists(err) {
			log.WithField("object", url).Info("Output already published, skipping")
			return url, nil
		}
		return "", fmt.Errorf("uploading %s: %w", url, err)
	}
	if err := w.Close(); err != nil {
		if alreadyExists(err) {
			log.WithField("object", url).Info("Output already published, skipping")
			return url, nil
		}
		return "", fmt.Errorf("finalizing %s: %w", url, err)
	}

	log.WithField("object", url).Info("Published output")
	return url, nil
}

// Close releases the storage client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}

func alreadyExists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
