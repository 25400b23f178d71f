// Package llm sends a grounded prompt to a chat model and returns its reply.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/docchat/internal/ollama"
	"github.com/kalambet/docchat/internal/openai"
)

const (
	DefaultOpenAIModel = "gpt-4o-mini"
	DefaultOllamaModel = "llama3.2"
	DefaultTemperature = 0.7
)

// Completer produces a reply for a system prompt and a user prompt.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// OpenAI completes through /chat/completions.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float64
}

// NewOpenAI returns a Completer for model. An empty model means DefaultOpenAIModel.
func NewOpenAI(c *openai.Client, model string, temperature float64) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{client: c, model: model, temperature: temperature}
}

func (o *OpenAI) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	temp := o.temperature
	reply, err := o.client.ChatCompletion(ctx, openai.ChatRequest{
		Model: o.model,
		Messages: []openai.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: &temp,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// Ollama completes through /api/chat.
type Ollama struct {
	client      *ollama.Client
	model       string
	temperature float64
}

// NewOllama returns a Completer for model. An empty model means DefaultOllamaModel.
func NewOllama(c *ollama.Client, model string, temperature float64) *Ollama {
	if model == "" {
		model = DefaultOllamaModel
	}
	return &Ollama{client: c, model: model, temperature: temperature}
}

// Model returns the chat model name.
func (o *Ollama) Model() string { return o.model }

func (o *Ollama) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	temp := o.temperature
	reply, err := o.client.Chat(ctx, o.model, []ollama.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}, &ollama.ChatOptions{Temperature: &temp})
	if err != nil {
		return "", fmt.Errorf("ollama completion: %w", err)
	}
	return strings.TrimSpace(reply), nil
}
