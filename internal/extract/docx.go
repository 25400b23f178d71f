package extract

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kalambet/docchat/internal/domain"
)

const docxBodyPart = "word/document.xml"

// extractDOCX returns paragraph texts from word/document.xml in document
// order, one paragraph per line. Paragraphs inside tables are included.
func extractDOCX(ra io.ReaderAt, size int64) (string, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return "", fmt.Errorf("%w: docx: %w", domain.ErrCorruptFile, err)
	}

	for _, f := range zr.File {
		if f.Name != docxBodyPart {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("%w: docx: opening %s: %w", domain.ErrCorruptFile, docxBodyPart, err)
		}
		defer rc.Close()

		paras, err := parseParagraphs(rc)
		if err != nil {
			return "", fmt.Errorf("%w: docx: %w", domain.ErrCorruptFile, err)
		}
		return strings.Join(paras, "\n"), nil
	}
	return "", fmt.Errorf("%w: docx: missing %s", domain.ErrCorruptFile, docxBodyPart)
}

// parseParagraphs walks the WordprocessingML token stream. Text runs (w:t)
// are appended to the current paragraph; w:tab and w:br map to tab and newline.
func parseParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)

	var (
		paras  []string
		cur    strings.Builder
		inPara int
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				if inPara == 0 {
					cur.Reset()
				}
				inPara++
			case "t":
				inText = true
			case "tab":
				if inPara > 0 {
					cur.WriteByte('\t')
				}
			case "br", "cr":
				if inPara > 0 {
					cur.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				inPara--
				if inPara == 0 {
					paras = append(paras, cur.String())
				}
			}
		case xml.CharData:
			if inText && inPara > 0 {
				cur.Write(t)
			}
		}
	}
	return paras, nil
}
