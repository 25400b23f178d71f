// Package engine builds the embedding and completion providers named in the
// configuration and checks that local inference backends are ready.
package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/kalambet/docchat/internal/config"
	"github.com/kalambet/docchat/internal/embedding"
	"github.com/kalambet/docchat/internal/llm"
	"github.com/kalambet/docchat/internal/ollama"
	"github.com/kalambet/docchat/internal/openai"
)

// Engine is an inference backend that serves local models. Ollama is the
// only implementation; hosted OpenAI-compatible APIs need no readiness check.
type Engine interface {
	IsRunning(ctx context.Context) bool
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(ollama.PullProgress)) error
}

// Providers holds the configured embedding client and completer.
type Providers struct {
	Embedder  embedding.Client
	Completer llm.Completer

	// EmbeddingModel and LLMModel are the resolved model names, for display.
	EmbeddingModel string
	LLMModel       string

	local []localBackend
}

type localBackend struct {
	name   string
	engine Engine
	models []string
}

// Build constructs providers from cfg. Ollama clients pointing at the same
// base URL are shared so they are checked once.
func Build(cfg config.Config) (*Providers, error) {
	p := &Providers{}
	clients := map[string]*ollama.Client{}
	ollamaFor := func(baseURL, model string) *ollama.Client {
		c := ollama.New(baseURL)
		if shared, ok := clients[c.BaseURL()]; ok {
			for i := range p.local {
				if p.local[i].engine == shared {
					p.local[i].models = append(p.local[i].models, model)
				}
			}
			return shared
		}
		clients[c.BaseURL()] = c
		p.local = append(p.local, localBackend{name: "ollama at " + c.BaseURL(), engine: c, models: []string{model}})
		return c
	}

	switch cfg.Embedding.Provider {
	case "openai":
		c := openai.NewClient(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, openai.WithRateLimit(cfg.Embedding.RequestsPerSecond))
		p.EmbeddingModel = orDefault(cfg.Embedding.Model, embedding.DefaultOpenAIModel)
		p.Embedder = embedding.NewOpenAI(c, p.EmbeddingModel)
	case "ollama":
		p.EmbeddingModel = orDefault(cfg.Embedding.Model, embedding.DefaultOllamaModel)
		p.Embedder = embedding.NewOllama(ollamaFor(cfg.Embedding.BaseURL, p.EmbeddingModel), p.EmbeddingModel)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}

	switch cfg.LLM.Provider {
	case "openai":
		c := openai.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)
		p.LLMModel = orDefault(cfg.LLM.Model, llm.DefaultOpenAIModel)
		p.Completer = llm.NewOpenAI(c, p.LLMModel, cfg.LLM.Temperature)
	case "ollama":
		p.LLMModel = orDefault(cfg.LLM.Model, llm.DefaultOllamaModel)
		p.Completer = llm.NewOllama(ollamaFor(cfg.LLM.BaseURL, p.LLMModel), p.LLMModel, cfg.LLM.Temperature)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}

	return p, nil
}

// EnsureReady runs EnsureReady on every local backend the providers use.
func (p *Providers) EnsureReady(ctx context.Context, w io.Writer) error {
	for _, lb := range p.local {
		if err := EnsureReady(ctx, lb.engine, lb.models, w); err != nil {
			return fmt.Errorf("%s: %w", lb.name, err)
		}
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
