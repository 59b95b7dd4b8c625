package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// EmbeddingConfig configures the embedding client.
type EmbeddingConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

type embedder struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewEmbedder creates an Embedder over any OpenAI-compatible embeddings API.
func NewEmbedder(cfg *EmbeddingConfig) (Embedder, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: embedding api key required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: embedding model required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 1024
	}
	return &embedder{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: dims,
	}, nil
}

// Embed generates the vector for a single text.
func (e *embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("llm: cannot embed empty text")
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("llm: empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

// Dimensions returns the configured vector dimension.
func (e *embedder) Dimensions() int {
	return e.dimensions
}
