// Package gcsstore is an object store backed by Google Cloud Storage.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const publicHost = "https://storage.googleapis.com"

// Config selects the project bucket and credentials
type Config struct {
	// Bucket replaces the logical bucket name when set
	Bucket          string
	CredentialsFile string
}

type Store struct {
	client *storage.Client
	bucket string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	opts := []option.ClientOption{}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) bucketName(bucket string) string {
	if s.bucket != "" {
		return s.bucket
	}
	return bucket
}

func (s *Store) Upload(ctx context.Context, bucket, name string, data []byte, contentType string) (string, error) {
	bucket = s.bucketName(bucket)
	w := s.client.Bucket(bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("write object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", name, err)
	}
	return PublicURL(bucket, name), nil
}

func (s *Store) Remove(ctx context.Context, bucket string, names []string) error {
	b := s.client.Bucket(s.bucketName(bucket))
	var errs []error
	for _, name := range names {
		err := b.Object(name).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	dir := strings.TrimSuffix(prefix, "/") + "/"
	it := s.client.Bucket(s.bucketName(bucket)).Objects(ctx, &storage.Query{Prefix: dir, Delimiter: "/"})

	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		// synthetic directory entries only carry a Prefix
		if attrs.Name == "" {
			continue
		}
		names = append(names, strings.TrimPrefix(attrs.Name, dir))
	}
	return names, nil
}

// PublicURL is the anonymous download address of an object
func PublicURL(bucket, name string) string {
	return publicHost + "/" + bucket + "/" + name
}
