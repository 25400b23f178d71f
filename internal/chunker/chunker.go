// Package chunker splits extracted document text into overlapping windows.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the default target length of a chunk, in characters.
const DefaultChunkSize = 10000

// DefaultOverlap is the default number of characters repeated between
// consecutive chunks.
const DefaultOverlap = 2000

// defaultSeparators are tried in order, from paragraph breaks down to
// single characters.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter is a recursive character splitter. It prefers to cut at
// paragraph, line and word boundaries and falls back to hard character cuts
// for units longer than the chunk size. Output is deterministic.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

// WithSeparators replaces the separator hierarchy. The empty separator is
// always appended so that oversized units can still be cut.
func WithSeparators(seps ...string) Option {
	return func(s *Splitter) {
		out := make([]string, 0, len(seps)+1)
		for _, sep := range seps {
			if sep != "" {
				out = append(out, sep)
			}
		}
		s.separators = append(out, "")
	}
}

// New creates a Splitter. An overlap that is not smaller than the chunk size
// is reset to a quarter of the chunk size.
func New(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultOverlap,
		separators: defaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}
	return s
}

// ChunkSize returns the configured chunk size.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap returns the effective overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the ordered, non-empty chunks of text.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var next []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = ""
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			next = separators[i+1:]
			break
		}
	}

	var (
		out  []string
		good []string
	)
	for _, piece := range splitKeep(text, sep) {
		if runeLen(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(next) == 0 {
			if c := strings.TrimSpace(piece); c != "" {
				out = append(out, c)
			}
			continue
		}
		out = append(out, s.split(piece, next)...)
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge packs pieces into windows of at most chunkSize characters. After a
// window is emitted, pieces are dropped from its front until no more than
// overlap characters remain; those seed the next window.
func (s *Splitter) merge(pieces []string) []string {
	var (
		out   []string
		cur   []string
		total int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.chunkSize && len(cur) > 0 {
			if c := strings.TrimSpace(strings.Join(cur, "")); c != "" {
				out = append(out, c)
			}
			for total > s.overlap || (total+n > s.chunkSize && total > 0) {
				total -= runeLen(cur[0])
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		total += n
	}
	if c := strings.TrimSpace(strings.Join(cur, "")); c != "" {
		out = append(out, c)
	}
	return out
}

// splitKeep cuts text at every occurrence of sep, keeping the separator at
// the start of the following piece. An empty sep yields single characters.
// Empty pieces are dropped.
func splitKeep(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	raw := strings.Split(text, sep)
	out := make([]string, 0, len(raw))
	for i, p := range raw {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
