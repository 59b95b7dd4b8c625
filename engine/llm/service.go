// Package llm provides the optional text-completion and embedding
// collaborators over any OpenAI-compatible provider.
package llm

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// CompletionService is the text-completion collaborator contract. Callers
// must degrade gracefully when no service is configured.
type CompletionService interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Embedder generates vectors for semantic similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Config configures the OpenAI-compatible client.
type Config struct {
	Provider    string  // openai, deepseek, siliconflow, dashscope, ollama...
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int     // default 1024
	Temperature float32 // default 0.2
	Timeout     int     // request timeout in seconds, default 60
	// RequestsPerSecond rate-limits outgoing calls; 0 disables limiting.
	RequestsPerSecond float64
}

type service struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	limiter     *rate.Limiter
}

// NewService creates a completion service. An empty API key is an error;
// callers that want the degraded path pass a nil service instead.
func NewService(cfg *Config) (CompletionService, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: api key required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 0.2
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &service{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: temperature,
		timeout:     timeout,
		limiter:     limiter,
	}, nil
}

// Complete performs a single-turn chat completion.
func (s *service) Complete(ctx context.Context, prompt string) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("llm: rate limit wait: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty completion response")
	}
	return resp.Choices[0].Message.Content, nil
}

// newHTTPClient builds an HTTP client with connection pooling tuned for
// long-lived completion calls.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
