package evidence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"agentsync/internal/domain"
)

// FileStore keeps blobs on local disk, one file per digest. Store returns a
// self-certifying locator, so the content hash it reports is empty.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("evidence dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Store(ctx context.Context, payload []byte) (string, string, error) {
	digest := Digest(payload)
	path := filepath.Join(s.dir, digest)
	if _, err := os.Stat(path); err == nil {
		return Scheme + digest, "", nil
	}
	tmp, err := os.CreateTemp(s.dir, "blob-*")
	if err != nil {
		return "", "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return "", "", err
	}
	if err := tmp.Close(); err != nil {
		return "", "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", "", err
	}
	return Scheme + digest, "", nil
}

func (s *FileStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	digest := AddressedDigest(uri)
	if digest == "" {
		return nil, fmt.Errorf("%w: unsupported locator %s", domain.ErrNotFound, uri)
	}
	payload, err := os.ReadFile(filepath.Join(s.dir, digest))
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := Verify(uri, "", payload); err != nil {
		return nil, err
	}
	return payload, nil
}
