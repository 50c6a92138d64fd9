// Package photo reads captured images and prepares them for upload.
package photo

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/disintegration/imaging"
)

// JPEGQuality is used when re-encoding a transformed image
const JPEGQuality = 80

// maxImageBytes caps downloads of remote images
const maxImageBytes = 20 << 20

var (
	ErrUnsupportedURI = errors.New("unsupported image uri")
	// ErrImageTooLarge is returned instead of a partial download
	ErrImageTooLarge = errors.New("image too large")
)

// Loader resolves image URIs to bytes
type Loader struct {
	client *http.Client
}

func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client}
}

// Load reads file:// URIs, bare paths, base64 data: URIs and http(s) URLs.
func (l *Loader) Load(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "data:"):
		return decodeDataURI(uri)
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return l.fetch(ctx, uri)
	case strings.HasPrefix(uri, "file://"):
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", uri, err)
		}
		return os.ReadFile(u.Path)
	case strings.HasPrefix(uri, "/"), strings.HasPrefix(uri, "."):
		return os.ReadFile(uri)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
}

func (l *Loader) fetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", uri, resp.StatusCode)
	}
	if resp.ContentLength > maxImageBytes {
		return nil, fmt.Errorf("fetch %s: %w: %d bytes exceeds %d", uri, ErrImageTooLarge, resp.ContentLength, maxImageBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("fetch %s: %w: exceeds %d bytes", uri, ErrImageTooLarge, maxImageBytes)
	}
	return data, nil
}

func decodeDataURI(uri string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data uri", ErrUnsupportedURI)
	}
	if !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("%w: data uri is not base64", ErrUnsupportedURI)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data uri: %w", err)
	}
	return data, nil
}

// MirrorJPEG flips an image horizontally and encodes it as JPEG.
func MirrorJPEG(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.FlipH(img), imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode mirrored image: %w", err)
	}
	return buf.Bytes(), nil
}
