// Package embedding turns text into fixed-dimension vectors through a
// remote provider.
package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kalambet/docchat/internal/domain"
	"github.com/kalambet/docchat/internal/ollama"
	"github.com/kalambet/docchat/internal/openai"
)

const (
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "nomic-embed-text"
)

// Client embeds text. EmbedBatch returns one vector per input, in input
// order. Batch sizing is the caller's job. Every error wraps
// domain.ErrEmbeddingService.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// batchFunc is the provider call shared by both clients.
type batchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// provider checks every response against the input and against the
// dimension seen on the first successful call.
type provider struct {
	name string
	call batchFunc
	dim  atomic.Int64
}

func (p *provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.call(ctx, texts)
	if err != nil {
		return nil, domain.EmbeddingErr(fmt.Errorf("%s: %w", p.name, err))
	}
	if err := p.check(texts, vecs); err != nil {
		return nil, domain.EmbeddingErr(fmt.Errorf("%s: %w", p.name, err))
	}
	return vecs, nil
}

func (p *provider) check(texts []string, vecs [][]float32) error {
	if len(vecs) != len(texts) {
		return fmt.Errorf("got %d vectors for %d inputs", len(vecs), len(texts))
	}
	want := int(p.dim.Load())
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("empty vector at index %d", i)
		}
		if want == 0 {
			want = len(v)
			continue
		}
		if len(v) != want {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), want)
		}
	}
	p.dim.CompareAndSwap(0, int64(want))
	return nil
}

// Dimension reports the vector size observed so far, or 0 before the first call.
func (p *provider) Dimension() int { return int(p.dim.Load()) }

// OpenAI embeds through an OpenAI-compatible /embeddings endpoint.
type OpenAI struct {
	provider
}

// NewOpenAI returns a Client using model on c. An empty model means
// DefaultOpenAIModel.
func NewOpenAI(c *openai.Client, model string) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	e := &OpenAI{}
	e.name = "openai"
	e.call = func(ctx context.Context, texts []string) ([][]float32, error) {
		return c.Embeddings(ctx, model, texts)
	}
	return e
}

// Ollama embeds through Ollama's /api/embed endpoint.
type Ollama struct {
	provider
	model string
}

// NewOllama returns a Client using model on c. An empty model means
// DefaultOllamaModel.
func NewOllama(c *ollama.Client, model string) *Ollama {
	if model == "" {
		model = DefaultOllamaModel
	}
	e := &Ollama{model: model}
	e.name = "ollama"
	e.call = func(ctx context.Context, texts []string) ([][]float32, error) {
		return c.EmbedBatch(ctx, model, texts)
	}
	return e
}

// Model returns the embedding model name.
func (e *Ollama) Model() string { return e.model }
