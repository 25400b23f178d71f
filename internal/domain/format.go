package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format is the declared format of an uploaded document.
type Format string

const (
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
)

var extFormats = map[string]Format{
	".pdf":  FormatPDF,
	".docx": FormatDOCX,
	".txt":  FormatText,
	".md":   FormatMarkdown,
}

// AllowedExtensions lists the upload extensions in display order.
var AllowedExtensions = []string{".pdf", ".txt", ".docx", ".md"}

// FormatFromFilename maps a filename's extension (case-insensitive) to a Format.
func FormatFromFilename(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if f, ok := extFormats[ext]; ok {
		return f, nil
	}
	if ext == "" {
		return "", ErrUnsupportedFormat
	}
	return "", fmt.Errorf("%w %q", ErrUnsupportedFormat, ext)
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	switch f {
	case FormatPDF, FormatDOCX, FormatText, FormatMarkdown:
		return true
	}
	return false
}

// Stem returns the filename without directory and extension.
func Stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
