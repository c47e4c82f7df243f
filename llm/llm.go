// Package llm abstracts text generation and embedding behind small provider
// interfaces, with a factory keyed on the configured provider type.
package llm

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrGenerate wraps completion failures.
	ErrGenerate = errors.New("llm: generation failed")

	// ErrEmbedding wraps embedding failures.
	ErrEmbedding = errors.New("llm: embedding failed")
)

// GenerateRequest carries one completion call. Context, when present, is
// prepended to the prompt as grounding material.
type GenerateRequest struct {
	Prompt       string
	Context      string
	SystemPrompt string
	Temperature  float64
}

// Provider generates text.
type Provider interface {
	Provider() string
	Model() string
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Embedder converts text into vectors of a fixed dimensionality.
type Embedder interface {
	Provider() string
	Model() string
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config selects and parameterizes a provider or embedder.
type Config struct {
	Type        string  `json:"type" yaml:"type"`
	APIKey      string  `json:"apiKey" yaml:"apiKey"`
	Model       string  `json:"model" yaml:"model"`
	BaseURL     string  `json:"baseUrl" yaml:"baseUrl"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	Dimensions  int     `json:"dimensions" yaml:"dimensions"`
}

const deepseekBaseURL = "https://api.deepseek.com"

// NewProvider builds a generation provider from config.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return newOpenAI(cfg), nil
	case "deepseek":
		if cfg.BaseURL == "" {
			cfg.BaseURL = deepseekBaseURL
		}
		if cfg.Model == "" {
			cfg.Model = "deepseek-chat"
		}
		return newOpenAI(cfg), nil
	case "custom":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm: custom provider requires a base URL")
		}
		return newOpenAI(cfg), nil
	case "anthropic":
		return newAnthropic(cfg), nil
	case "mock":
		return NewMockProvider(cfg.Model), nil
	case "":
		return nil, fmt.Errorf("llm: provider type is required")
	default:
		return nil, fmt.Errorf("llm: unknown provider type %q", cfg.Type)
	}
}

// NewEmbedder builds an embedder from config. Anthropic exposes no embedding
// endpoint, so embedding configs are limited to OpenAI-compatible backends.
func NewEmbedder(cfg Config) (Embedder, error) {
	switch cfg.Type {
	case "openai":
		return newOpenAIEmbedder(cfg), nil
	case "custom":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm: custom embedder requires a base URL")
		}
		return newOpenAIEmbedder(cfg), nil
	case "mock":
		return NewMockEmbedder(cfg.Dimensions), nil
	case "":
		return nil, fmt.Errorf("llm: embedder type is required")
	default:
		return nil, fmt.Errorf("llm: unknown embedder type %q", cfg.Type)
	}
}
