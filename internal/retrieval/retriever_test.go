package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/docchat/internal/domain"
)

type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
	calls   int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	return m.embedFn(ctx, text)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type mockChunkStore struct {
	scopeFn func(ctx context.Context, ids []string) ([]StoredChunk, error)
}

func (m *mockChunkStore) BulkInsert(ctx context.Context, documentID string, chunks []NewChunk) (int, error) {
	return len(chunks), nil
}
func (m *mockChunkStore) ScopeChunks(ctx context.Context, ids []string) ([]StoredChunk, error) {
	return m.scopeFn(ctx, ids)
}
func (m *mockChunkStore) DeleteDocumentChunks(ctx context.Context, documentID string) (int, error) {
	return 0, nil
}
func (m *mockChunkStore) CountDocumentChunks(ctx context.Context, documentID string) (int, error) {
	return 0, nil
}

type mapTitles map[string]string

func (m mapTitles) DocumentTitles(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if t, ok := m[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func fixedEmbedder(v []float32) *mockEmbedder {
	return &mockEmbedder{embedFn: func(ctx context.Context, text string) ([]float32, error) { return v, nil }}
}

func staticStore(chunks []StoredChunk) *mockChunkStore {
	return &mockChunkStore{scopeFn: func(ctx context.Context, ids []string) ([]StoredChunk, error) { return chunks, nil }}
}

func TestRetrieve_EmptyScope(t *testing.T) {
	emb := fixedEmbedder([]float32{1, 0})
	r := NewRetriever(emb, staticStore(nil), nil)

	got, err := r.Retrieve(context.Background(), "q", nil, 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times, want 0", emb.calls)
	}
}

func TestRetrieve_InvalidTopK(t *testing.T) {
	r := NewRetriever(fixedEmbedder([]float32{1}), staticStore(nil), nil)

	for _, k := range []int{0, -1} {
		if _, err := r.Retrieve(context.Background(), "q", []string{"d1"}, k); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("topK=%d: err = %v, want ErrValidation", k, err)
		}
	}
}

func TestRetrieve_RanksByCosine(t *testing.T) {
	chunks := []StoredChunk{
		{ID: 1, DocumentID: "d1", Position: 0, Content: "far", Embedding: []float32{0, 1}},
		{ID: 2, DocumentID: "d1", Position: 1, Content: "close", Embedding: []float32{0.9, 0.1}},
		{ID: 3, DocumentID: "d2", Position: 0, Content: "exact", Embedding: []float32{1, 0}},
		{ID: 4, DocumentID: "d2", Position: 1, Content: "opposite", Embedding: []float32{-1, 0}},
	}
	r := NewRetriever(fixedEmbedder([]float32{1, 0}), staticStore(chunks), mapTitles{"d1": "Alpha", "d2": "Beta"})

	got, err := r.Retrieve(context.Background(), "q", []string{"d1", "d2"}, 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2", len(got))
	}
	if got[0].ChunkID != 3 || got[1].ChunkID != 2 {
		t.Errorf("order = [%d %d], want [3 2]", got[0].ChunkID, got[1].ChunkID)
	}
	if got[0].DocumentTitle != "Beta" || got[1].DocumentTitle != "Alpha" {
		t.Errorf("titles = [%q %q], want [Beta Alpha]", got[0].DocumentTitle, got[1].DocumentTitle)
	}
	if got[0].Score < 0.999 {
		t.Errorf("top score = %f, want ~1", got[0].Score)
	}
	if got[0].Content != "exact" || got[0].Position != 0 {
		t.Errorf("top match = %+v", got[0])
	}
}

func TestRetrieve_TieBreakByChunkID(t *testing.T) {
	// Every chunk scores the same; lower ids must win regardless of scan order.
	chunks := []StoredChunk{
		{ID: 9, DocumentID: "d", Embedding: []float32{1, 1}},
		{ID: 4, DocumentID: "d", Embedding: []float32{1, 1}},
		{ID: 7, DocumentID: "d", Embedding: []float32{1, 1}},
		{ID: 1, DocumentID: "d", Embedding: []float32{1, 1}},
	}
	r := NewRetriever(fixedEmbedder([]float32{1, 1}), staticStore(chunks), nil)

	for run := 0; run < 3; run++ {
		got, err := r.Retrieve(context.Background(), "q", []string{"d"}, 3)
		if err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
		want := []int64{1, 4, 7}
		if len(got) != len(want) {
			t.Fatalf("got %d matches, want %d", len(got), len(want))
		}
		for i, id := range want {
			if got[i].ChunkID != id {
				t.Errorf("run %d: got[%d] = %d, want %d", run, i, got[i].ChunkID, id)
			}
		}
	}
}

func TestRetrieve_TopKLargerThanCandidates(t *testing.T) {
	chunks := []StoredChunk{{ID: 1, DocumentID: "d", Embedding: []float32{1}}}
	r := NewRetriever(fixedEmbedder([]float32{1}), staticStore(chunks), nil)

	got, err := r.Retrieve(context.Background(), "q", []string{"d"}, 10)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d matches, want 1", len(got))
	}
}

func TestRetrieve_NoChunksInScope(t *testing.T) {
	r := NewRetriever(fixedEmbedder([]float32{1}), staticStore(nil), mapTitles{})

	got, err := r.Retrieve(context.Background(), "q", []string{"d"}, 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d matches, want 0", len(got))
	}
}

func TestRetrieve_PropagatesErrors(t *testing.T) {
	embedErr := domain.EmbeddingErr(errors.New("down"))
	r := NewRetriever(&mockEmbedder{embedFn: func(ctx context.Context, text string) ([]float32, error) {
		return nil, embedErr
	}}, staticStore(nil), nil)
	if _, err := r.Retrieve(context.Background(), "q", []string{"d"}, 3); !errors.Is(err, domain.ErrEmbeddingService) {
		t.Errorf("err = %v, want ErrEmbeddingService", err)
	}

	storeErr := domain.StorageErr("scan", errors.New("disk"))
	r = NewRetriever(fixedEmbedder([]float32{1}), &mockChunkStore{scopeFn: func(ctx context.Context, ids []string) ([]StoredChunk, error) {
		return nil, storeErr
	}}, nil)
	if _, err := r.Retrieve(context.Background(), "q", []string{"d"}, 3); !errors.Is(err, domain.ErrStorage) {
		t.Errorf("err = %v, want ErrStorage", err)
	}
}

func TestRetrieve_AgainstSQLite(t *testing.T) {
	s, db := openTestStore(t, "d1")
	ctx := context.Background()

	if _, err := s.BulkInsert(ctx, "d1", testChunks(4, 4)); err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}
	if err := db.MarkProcessed(ctx, "d1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	r := NewRetriever(fixedEmbedder([]float32{0, 0, 1, 0}), s, db)
	got, err := r.Retrieve(ctx, "q", []string{"d1"}, 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].Position != 2 {
		t.Fatalf("got %+v, want position 2", got)
	}
	if got[0].DocumentTitle != "title d1" {
		t.Errorf("DocumentTitle = %q, want %q", got[0].DocumentTitle, "title d1")
	}
}
