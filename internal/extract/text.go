package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
)

// detectSampleSize bounds how many leading bytes feed encoding detection.
const detectSampleSize = 10000

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText returns b as a UTF-8 string along with the encoding name used.
// Valid UTF-8 passes through. Anything else is decoded with the encoding
// detected from a leading sample, and leftover invalid sequences become U+FFFD.
// It never fails.
func decodeText(b []byte) (string, string) {
	if utf8.Valid(b) {
		return string(bytes.TrimPrefix(b, utf8BOM)), "utf-8"
	}

	sample := b
	if len(sample) > detectSampleSize {
		sample = sample[:detectSampleSize]
	}
	enc, name, _ := charset.DetermineEncoding(sample, "text/plain")

	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�"), name
	}
	return strings.ToValidUTF8(string(out), "�"), name
}
