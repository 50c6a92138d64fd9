// Package diskstore is an object store on the local filesystem. Objects are
// served back through Handler under the configured public base URL.
package diskstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type Store struct {
	baseDir string
	baseURL string
}

// New creates baseDir when missing. baseURL is the public address that
// Handler is mounted at.
func New(baseDir, baseURL string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	return &Store{baseDir: baseDir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (s *Store) buildPath(bucket, name string) (string, error) {
	clean := path.Clean("/" + bucket + "/" + name)
	if strings.Contains(name, "..") || clean == "/" {
		return "", fmt.Errorf("invalid object path %q", name)
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}

func (s *Store) Upload(ctx context.Context, bucket, name string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst, err := s.buildPath(bucket, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	// write then rename so readers never see a partial image
	tmp := dst + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return s.baseURL + "/" + bucket + "/" + name, nil
}

func (s *Store) Remove(ctx context.Context, bucket string, names []string) error {
	var errs []error
	for _, name := range names {
		p, err := s.buildPath(bucket, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	dir, err := s.buildPath(bucket, prefix)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".part") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Handler serves stored objects by bucket and path
func (s *Store) Handler() http.Handler {
	return http.FileServer(http.Dir(s.baseDir))
}
