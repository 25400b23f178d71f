// Package domain holds the error taxonomy and shared value types used across
// docchat's ingestion and conversation layers.
package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Call sites wrap these with fmt.Errorf("...: %w", err) and
// callers classify with errors.Is.
var (
	// ErrValidation marks bad caller input: wrong file type, oversized file,
	// missing required field.
	ErrValidation = errors.New("validation error")

	// ErrExtraction marks a document whose text could not be extracted.
	ErrExtraction = errors.New("extraction error")

	// ErrUnsupportedFormat is an ErrExtraction for unknown declared formats.
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrExtraction)

	// ErrCorruptFile is an ErrExtraction for blobs that do not parse as their format.
	ErrCorruptFile = fmt.Errorf("%w: corrupt file", ErrExtraction)

	// ErrEmptyContent is an ErrExtraction for documents with no text after trimming.
	ErrEmptyContent = fmt.Errorf("%w: empty content", ErrExtraction)

	// ErrEmbeddingService marks a transport or quota failure of the embedding provider.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrStorage marks an object storage or persistence failure.
	ErrStorage = errors.New("storage error")

	// ErrNotFound marks an unknown user, conversation or document.
	ErrNotFound = errors.New("not found")

	// ErrIngestionInProgress is returned when another run holds the document's ingestion lock.
	ErrIngestionInProgress = errors.New("ingestion already in progress")
)

// Validationf returns an ErrValidation carrying a human-readable message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns an ErrNotFound naming the missing entity.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// StorageErr wraps err as an ErrStorage for operation op. A nil err stays nil.
func StorageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// EmbeddingErr wraps err as an ErrEmbeddingService. A nil err stays nil.
func EmbeddingErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrEmbeddingService) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEmbeddingService, err)
}
