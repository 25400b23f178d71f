package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kalambet/docchat/internal/domain"
	"github.com/kalambet/docchat/internal/ollama"
	"github.com/kalambet/docchat/internal/openai"
)

// vectorFor returns a deterministic vector derived from the text length.
func vectorFor(text string, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(len(text)+i) * 0.01
	}
	return v
}

func newOpenAIServer(t *testing.T, dim func(i int) int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		var data []item
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, item{Index: i, Embedding: vectorFor(req.Input[i], dim(i))})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newOllamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != DefaultOllamaModel {
			t.Errorf("model = %q, want %q", req.Model, DefaultOllamaModel)
		}
		var out [][]float32
		for _, in := range req.Input {
			out = append(out, vectorFor(in, 4))
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAI_EmbedBatchPreservesOrder(t *testing.T) {
	srv := newOpenAIServer(t, func(int) int { return 8 })
	e := NewOpenAI(openai.NewClient("k", srv.URL), "")

	texts := []string{"a", "bbb", "cc"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	for i, text := range texts {
		if want := vectorFor(text, 8)[0]; vecs[i][0] != want {
			t.Errorf("vecs[%d][0] = %v, want %v", i, vecs[i][0], want)
		}
	}
	if e.Dimension() != 8 {
		t.Errorf("Dimension() = %d, want 8", e.Dimension())
	}
}

func TestEmbed_MatchesSingleBatch(t *testing.T) {
	e := NewOllama(ollama.New(newOllamaServer(t).URL), "")
	ctx := context.Background()

	single, err := e.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	batch, err := e.EmbedBatch(ctx, []string{"hello"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(batch) != 1 || len(batch[0]) != len(single) {
		t.Fatalf("batch = %v, want one vector of len %d", batch, len(single))
	}
	for i := range single {
		if single[i] != batch[0][i] {
			t.Errorf("component %d: Embed = %v, EmbedBatch = %v", i, single[i], batch[0][i])
		}
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	e := NewOllama(ollama.New("http://127.0.0.1:1"), "")
	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", vecs, err)
	}
}

func TestEmbedBatch_DimensionMismatchInBatch(t *testing.T) {
	srv := newOpenAIServer(t, func(i int) int { return 4 + i })
	e := NewOpenAI(openai.NewClient("k", srv.URL), "")

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrEmbeddingService) {
		t.Fatalf("err = %v, want ErrEmbeddingService", err)
	}
}

func TestEmbedBatch_DimensionFixedAcrossCalls(t *testing.T) {
	var dim atomic.Int32
	dim.Store(4)
	srv := newOpenAIServer(t, func(int) int { return int(dim.Load()) })
	e := NewOpenAI(openai.NewClient("k", srv.URL), "")
	ctx := context.Background()

	if _, err := e.Embed(ctx, "first"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	dim.Store(6)
	if _, err := e.Embed(ctx, "second"); !errors.Is(err, domain.ErrEmbeddingService) {
		t.Fatalf("err = %v, want ErrEmbeddingService after dimension change", err)
	}
}

func TestEmbed_TransportErrorIsEmbeddingService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	for name, c := range map[string]Client{
		"openai": NewOpenAI(openai.NewClient("k", srv.URL), ""),
		"ollama": NewOllama(ollama.New(srv.URL), ""),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.Embed(context.Background(), "x")
			if !errors.Is(err, domain.ErrEmbeddingService) {
				t.Errorf("err = %v, want ErrEmbeddingService", err)
			}
		})
	}
}

func TestEmbed_EmptyVectorRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"embeddings":[[]]}`)
	}))
	defer srv.Close()

	_, err := NewOllama(ollama.New(srv.URL), "").Embed(context.Background(), "x")
	if !errors.Is(err, domain.ErrEmbeddingService) {
		t.Errorf("err = %v, want ErrEmbeddingService", err)
	}
}
