// Package retrieval stores embedded chunks and ranks them against a query
// by cosine similarity.
package retrieval

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/kalambet/docchat/internal/domain"
	"github.com/kalambet/docchat/internal/embedding"
)

// Match is a retrieved chunk with its similarity to the query.
type Match struct {
	ChunkID       int64
	DocumentID    string
	DocumentTitle string
	Position      int
	Content       string
	Score         float64
}

// TitleResolver maps document ids to titles.
type TitleResolver interface {
	DocumentTitles(ctx context.Context, ids []string) (map[string]string, error)
}

// Retriever combines embedding and chunk scans to find relevant context.
// It only reads, so it is safe for concurrent use.
type Retriever struct {
	embedder embedding.Client
	store    ChunkStore
	titles   TitleResolver
}

// NewRetriever creates a Retriever. titles may be nil, in which case
// matches carry no document title.
func NewRetriever(embedder embedding.Client, store ChunkStore, titles TitleResolver) *Retriever {
	return &Retriever{embedder: embedder, store: store, titles: titles}
}

// Retrieve embeds the query and returns the topK chunks of the scoped
// documents, best first. Equal scores are ordered by ascending chunk ID.
func (r *Retriever) Retrieve(ctx context.Context, query string, scope []string, topK int) ([]Match, error) {
	if len(scope) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		return nil, domain.Validationf("top_k must be positive, got %d", topK)
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	chunks, err := r.store.ScopeChunks(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("loading scoped chunks: %w", err)
	}

	top := rank(vec, chunks, topK)
	if len(top) == 0 {
		return nil, nil
	}

	titles, err := r.resolveTitles(ctx, top)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(top))
	for i, s := range top {
		c := chunks[s.idx]
		matches[i] = Match{
			ChunkID:       c.ID,
			DocumentID:    c.DocumentID,
			DocumentTitle: titles[c.DocumentID],
			Position:      c.Position,
			Content:       c.Content,
			Score:         s.score,
		}
	}
	return matches, nil
}

func (r *Retriever) resolveTitles(ctx context.Context, top []scored) (map[string]string, error) {
	if r.titles == nil {
		return nil, nil
	}
	seen := make(map[string]bool)
	var ids []string
	for _, s := range top {
		if !seen[s.documentID] {
			seen[s.documentID] = true
			ids = append(ids, s.documentID)
		}
	}
	titles, err := r.titles.DocumentTitles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolving document titles: %w", err)
	}
	return titles, nil
}

// scored points at a chunk by index during the scan.
type scored struct {
	idx        int
	id         int64
	documentID string
	score      float64
}

// better reports whether a ranks above b.
func better(a, b scored) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	return a.id < b.id
}

// rank returns the topK chunks ordered best first.
func rank(query []float32, chunks []StoredChunk, topK int) []scored {
	queryNorm := norm(query)

	h := &scoredHeap{}
	for i, c := range chunks {
		s := scored{idx: i, id: c.ID, documentID: c.DocumentID, score: cosine(query, c.Embedding, queryNorm)}
		if h.Len() < topK {
			heap.Push(h, s)
		} else if better(s, (*h)[0]) {
			(*h)[0] = s
			heap.Fix(h, 0)
		}
	}

	out := make([]scored, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(scored)
	}
	return out
}

// scoredHeap is a min-heap with the worst candidate at the root.
type scoredHeap []scored

func (h scoredHeap) Len() int           { return len(h) }
func (h scoredHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h scoredHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoredHeap) Push(x any)        { *h = append(*h, x.(scored)) }
func (h *scoredHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
