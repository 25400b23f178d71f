package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/docchat/internal/domain"
)

// extractPDF concatenates the plain text of every page in page order.
// Pages that fail or have no text contribute an empty string.
func extractPDF(ra io.ReaderAt, size int64) (text string, err error) {
	defer func() {
		// The pdf package panics on some malformed cross-reference tables.
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: pdf: %v", domain.ErrCorruptFile, r)
		}
	}()

	reader, err := pdf.NewReader(ra, size)
	if err != nil {
		return "", fmt.Errorf("%w: pdf: %w", domain.ErrCorruptFile, err)
	}

	n := reader.NumPage()
	pages := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		pages = append(pages, pageText(reader.Page(i)))
	}
	return strings.Join(pages, "\n"), nil
}

func pageText(p pdf.Page) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()
	if p.V.IsNull() {
		return ""
	}
	s, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return s
}
