// Package objects stores uploaded document blobs on local disk or in a
// Google Cloud Storage bucket.
package objects

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/docchat/internal/domain"
)

// Store is a flat namespace of blobs. Every error wraps domain.ErrStorage.
type Store interface {
	// Save writes r under a fresh name that keeps the extension of
	// original, and returns that name.
	Save(ctx context.Context, original string, r io.Reader) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Exists(ctx context.Context, name string) (bool, error)
	// URL is where clients can fetch the object.
	URL(name string) string
	// Delete removes the object. A missing object is not an error.
	Delete(ctx context.Context, name string) error
	// Size returns the object size in bytes, or 0 if it does not exist.
	Size(ctx context.Context, name string) (int64, error)
}

// NewName returns a unique object name with original's lowercased extension.
func NewName(original string) string {
	return uuid.New().String() + strings.ToLower(filepath.Ext(original))
}

// ContentType guesses the MIME type from the name's extension.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	return "application/octet-stream"
}

// checkName rejects names that would escape the flat namespace.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return domain.StorageErr("object name", fmt.Errorf("%w: invalid object name %q", domain.ErrNotFound, name))
	}
	return nil
}
