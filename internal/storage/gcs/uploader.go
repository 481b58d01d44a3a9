// Package gcs uploads archive batches to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the destination bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

type writerFunc func(ctx context.Context, bucket, object string) io.WriteCloser

// Uploader copies archives into a GCS bucket.
type Uploader struct {
	bucket    string
	prefix    string
	newWriter writerFunc
}

// New creates a GCS-backed uploader.
func New(client *storage.Client, cfg Config) (*Uploader, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	return newUploader(cfg, func(ctx context.Context, bucket, object string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = "application/gzip"
		return w
	})
}

func newUploader(cfg Config, fn writerFunc) (*Uploader, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Uploader{
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		newWriter: fn,
	}, nil
}

// ObjectName returns the object an archive is stored under.
func (u *Uploader) ObjectName(archivePath string) string {
	name := filepath.Base(archivePath)
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

// Upload implements compactor.Uploader.
func (u *Uploader) Upload(ctx context.Context, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	object := u.ObjectName(archivePath)
	writer := u.newWriter(ctx, u.bucket, object)
	if _, err := io.Copy(writer, f); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for gs://%s/%s: %w", u.bucket, object, err)
	}
	return nil
}
