package objects

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/docchat/internal/domain"
)

// Compile-time check that LocalStore implements Store.
var _ Store = (*LocalStore)(nil)

// LocalStore keeps objects as files in one directory.
type LocalStore struct {
	dir     string
	baseURL string
}

// NewLocal creates dir if needed. URLs are baseURL + "/" + name.
func NewLocal(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, domain.StorageErr("creating object directory", err)
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) path(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

// Save writes to a temporary file and renames it into place.
func (s *LocalStore) Save(ctx context.Context, original string, r io.Reader) (string, error) {
	name := NewName(original)
	dst, err := s.path(name)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", domain.StorageErr("creating temp file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", domain.StorageErr("writing "+name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", domain.StorageErr("closing "+name, err)
	}
	if err := ctx.Err(); err != nil {
		return "", domain.StorageErr("saving "+name, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", domain.StorageErr("renaming "+name, err)
	}
	return name, nil
}

func (s *LocalStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.StorageErr("opening "+name, fmt.Errorf("%w: object %s", domain.ErrNotFound, name))
	}
	if err != nil {
		return nil, domain.StorageErr("opening "+name, err)
	}
	return f, nil
}

func (s *LocalStore) Exists(ctx context.Context, name string) (bool, error) {
	n, err := s.stat(name)
	return n >= 0, err
}

func (s *LocalStore) URL(name string) string {
	return s.baseURL + "/" + name
}

func (s *LocalStore) Delete(ctx context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.StorageErr("deleting "+name, err)
	}
	return nil
}

func (s *LocalStore) Size(ctx context.Context, name string) (int64, error) {
	n, err := s.stat(name)
	if n < 0 {
		return 0, err
	}
	return n, err
}

// stat returns the file size, or -1 if the file does not exist.
func (s *LocalStore) stat(name string) (int64, error) {
	p, err := s.path(name)
	if err != nil {
		return -1, err
	}
	fi, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return -1, nil
	}
	if err != nil {
		return -1, domain.StorageErr("stat "+name, err)
	}
	return fi.Size(), nil
}
