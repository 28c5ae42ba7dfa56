// Package gcs mirrors archives into a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to mirror into GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Mirror uploads archives to a configured bucket.
type Mirror struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed mirror.
func New(client *storage.Client, cfg Config) (*Mirror, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName joins the configured prefix and p.
func (m *Mirror) ObjectName(p string) string {
	if m.prefix == "" {
		return p
	}
	return path.Join(m.prefix, p)
}

// PutObject uploads r and returns a gs:// URI.
func (m *Mirror) PutObject(ctx context.Context, p string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	name := m.ObjectName(p)
	writer := m.client.Bucket(m.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", m.bucket, name), nil
}
