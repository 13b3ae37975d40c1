// ABOUTME: Blob store for uploaded originals and their markdown copies.
// ABOUTME: Backed by viant/afs so file://, mem:// and cloud URLs share one implementation.

package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store reads and writes blobs by key. Keys are slash-separated and start
// with the owning conversation id.
type Store interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// AFS is a Store rooted at an afs base URL.
type AFS struct {
	fs      afs.Service
	baseURL string
	logger  *slog.Logger
}

var _ Store = (*AFS)(nil)

// NewAFS creates a store rooted at baseURL, for example file:///var/lib/parley/blobs.
func NewAFS(baseURL string, logger *slog.Logger) *AFS {
	if logger == nil {
		logger = slog.Default()
	}
	return &AFS{
		fs:      afs.New(),
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("component", "blob"),
	}
}

// URL returns the absolute afs URL of key.
func (s *AFS) URL(key string) string {
	return url.Join(s.baseURL, key)
}

func (s *AFS) Read(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	u := s.URL(key)
	ok, err := s.fs.Exists(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", key, err)
	}
	return data, nil
}

func (s *AFS) Write(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.fs.Upload(ctx, s.URL(key), 0644, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	s.logger.Debug("wrote blob", "key", key, "bytes", len(data))
	return nil
}

func (s *AFS) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	u := s.URL(key)
	ok, err := s.fs.Exists(ctx, u)
	if err != nil {
		return fmt.Errorf("checking %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	if err := s.fs.Delete(ctx, u); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	s.logger.Debug("deleted blob", "key", key)
	return nil
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
