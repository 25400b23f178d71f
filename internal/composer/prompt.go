// Package composer renders retrieved chunks and a user query into the
// grounded prompt sent to the LLM.
package composer

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/docchat/internal/retrieval"
)

// SystemPrompt is sent as the system message of every turn.
const SystemPrompt = "You are an AI assistant that provides helpful responses."

// NoContext is the context text used when nothing was retrieved.
const NoContext = "No context available."

// Composer assembles prompts from retrieved matches and the user query.
type Composer struct {
	// MaxContextChars caps the rendered context. Lowest-scoring matches are
	// dropped first. Zero means no cap.
	MaxContextChars int
}

// New creates a Composer. A non-positive maxContextChars disables the cap.
func New(maxContextChars int) *Composer {
	if maxContextChars < 0 {
		maxContextChars = 0
	}
	return &Composer{MaxContextChars: maxContextChars}
}

// Prompt returns the user prompt for query grounded on matches.
func (c *Composer) Prompt(query string, matches []retrieval.Match) string {
	return "Context:\n" + c.Context(matches) + "\n\nUser Query: " + query
}

// Context renders matches in the given order, one entry per match, joined
// by a blank line.
func (c *Composer) Context(matches []retrieval.Match) string {
	kept := c.fit(matches)
	if len(kept) == 0 {
		return NoContext
	}
	entries := make([]string, len(kept))
	for i, m := range kept {
		entries[i] = entry(m)
	}
	return strings.Join(entries, "\n\n")
}

func entry(m retrieval.Match) string {
	return fmt.Sprintf("Document: %s\nChunk %d:\n%s", m.DocumentTitle, m.ChunkID, m.Content)
}

// fit drops the lowest-scoring matches until the rendered context fits
// MaxContextChars. Surviving matches keep their original order.
func (c *Composer) fit(matches []retrieval.Match) []retrieval.Match {
	if c.MaxContextChars == 0 || len(matches) == 0 {
		return matches
	}

	total := 0
	for i, m := range matches {
		total += utf8.RuneCountInString(entry(m))
		if i > 0 {
			total += 2
		}
	}
	if total <= c.MaxContextChars {
		return matches
	}

	order := make([]int, len(matches))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return matches[order[a]].Score < matches[order[b]].Score
	})

	dropped := make(map[int]bool)
	for _, idx := range order {
		if total <= c.MaxContextChars {
			break
		}
		dropped[idx] = true
		total -= utf8.RuneCountInString(entry(matches[idx])) + 2
	}

	var kept []retrieval.Match
	for i, m := range matches {
		if !dropped[i] {
			kept = append(kept, m)
		}
	}
	return kept
}
