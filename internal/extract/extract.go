// Package extract converts raw document bytes into plain text.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kalambet/docchat/internal/domain"
)

// Extractor turns a document byte stream of a declared format into trimmed
// plain text. It does not care where the bytes come from.
type Extractor struct {
	logger *slog.Logger
}

// New creates an Extractor that logs through slog.Default.
func New() *Extractor {
	return &Extractor{logger: slog.Default()}
}

// Extract reads r to EOF and returns its text. Format failures wrap
// domain.ErrExtraction; a failing reader wraps domain.ErrStorage.
func (e *Extractor) Extract(r io.Reader, format domain.Format) (string, error) {
	if !format.Valid() {
		return "", fmt.Errorf("%w %q", domain.ErrUnsupportedFormat, string(format))
	}

	blob, err := io.ReadAll(r)
	if err != nil {
		return "", domain.StorageErr("reading document", err)
	}

	var text string
	switch format {
	case domain.FormatPDF:
		text, err = extractPDF(bytes.NewReader(blob), int64(len(blob)))
	case domain.FormatDOCX:
		text, err = extractDOCX(bytes.NewReader(blob), int64(len(blob)))
	case domain.FormatText, domain.FormatMarkdown:
		var enc string
		text, enc = decodeText(blob)
		if enc != "utf-8" {
			e.logger.Warn("document is not valid UTF-8, decoded with detected encoding", "encoding", enc)
		}
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.ErrEmptyContent
	}
	return text, nil
}
