// Package storage adapts the Supabase storage API to the object store port.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	storage_go "github.com/supabase-community/storage-go"
)

// Options configure the Supabase-backed object store.
type Options struct {
	// URL is the storage endpoint, e.g. https://<project>.supabase.co/storage/v1.
	URL string
	// ServiceKey is the service-role API key.
	ServiceKey string
	// Bucket holds both source uploads and finished outputs.
	Bucket string
}

// Supabase implements the object store port on a Supabase storage bucket.
type Supabase struct {
	client *storage_go.Client
	bucket string
}

// New creates a Supabase object store client.
func New(opts Options) (*Supabase, error) {
	if opts.URL == "" {
		return nil, errors.New("storage URL is required")
	}
	if opts.ServiceKey == "" {
		return nil, errors.New("storage service key is required")
	}
	if opts.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	return &Supabase{
		client: storage_go.NewClient(opts.URL, opts.ServiceKey, nil),
		bucket: opts.Bucket,
	}, nil
}

// Download fetches the object at key. The underlying client buffers the whole
// object; the ReadCloser wraps that buffer.
func (s *Supabase) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	_ = ctx // the storage client does not accept a context
	data, err := s.client.DownloadFile(s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Upload stores the reader's contents at key, replacing any existing object.
func (s *Supabase) Upload(ctx context.Context, key string, r io.Reader, contentType string) error {
	_ = ctx
	upsert := true
	opts := storage_go.FileOptions{Upsert: &upsert}
	if contentType != "" {
		opts.ContentType = &contentType
	}
	if _, err := s.client.UploadFile(s.bucket, key, r, opts); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// SignedURL returns a time-limited download link for key.
func (s *Supabase) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	_ = ctx
	seconds := int(ttl / time.Second)
	if seconds <= 0 {
		return "", errors.New("signed URL ttl must be at least one second")
	}
	resp, err := s.client.CreateSignedUrl(s.bucket, key, seconds)
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", key, err)
	}
	return resp.SignedURL, nil
}
