package composer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kalambet/docchat/internal/retrieval"
)

func TestPrompt_NoMatches(t *testing.T) {
	c := New(0)
	got := c.Prompt("What is in the report?", nil)
	assert.Equal(t, "Context:\nNo context available.\n\nUser Query: What is in the report?", got)
}

func TestContext_Format(t *testing.T) {
	c := New(0)
	matches := []retrieval.Match{
		{ChunkID: 7, DocumentTitle: "report", Content: "Revenue grew.", Score: 0.9},
		{ChunkID: 3, DocumentTitle: "notes", Content: "Costs fell.", Score: 0.5},
	}

	want := "Document: report\nChunk 7:\nRevenue grew.\n\nDocument: notes\nChunk 3:\nCosts fell."
	assert.Equal(t, want, c.Context(matches))
	assert.Equal(t, "Context:\n"+want+"\n\nUser Query: q", c.Prompt("q", matches))
}

func TestContext_BudgetDropsLowestScoreFirst(t *testing.T) {
	matches := []retrieval.Match{
		{ChunkID: 1, DocumentTitle: "a", Content: strings.Repeat("x", 50), Score: 0.9},
		{ChunkID: 2, DocumentTitle: "a", Content: strings.Repeat("y", 50), Score: 0.2},
		{ChunkID: 3, DocumentTitle: "a", Content: strings.Repeat("z", 50), Score: 0.6},
	}
	one := len(entry(matches[0]))

	c := New(2*one + 2)
	got := c.Context(matches)
	assert.Contains(t, got, "Chunk 1:")
	assert.Contains(t, got, "Chunk 3:")
	assert.NotContains(t, got, "Chunk 2:")
	assert.Less(t, strings.Index(got, "Chunk 1:"), strings.Index(got, "Chunk 3:"), "original order kept")
}

func TestContext_BudgetTooSmallFallsBack(t *testing.T) {
	c := New(5)
	got := c.Context([]retrieval.Match{{ChunkID: 1, DocumentTitle: "a", Content: "long enough", Score: 1}})
	assert.Equal(t, NoContext, got)
}

func TestNew_NegativeMeansUnlimited(t *testing.T) {
	assert.Equal(t, 0, New(-10).MaxContextChars)
}
