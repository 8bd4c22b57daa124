package embedding

import (
	"context"
	"fmt"

	"github.com/adsamcik/riposte-index/internal/config"
)

// NewProviderFromConfig builds the configured embedding provider.
// An empty provider name means the semantic path is disabled; the caller gets
// (nil, nil) and search degrades to lexical-only results.
func NewProviderFromConfig(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.Embedding.Provider {
	case "":
		return nil, nil
	case "ollama":
		return NewOllamaProvider(
			WithOllamaURL(cfg.Ollama.URL),
			WithOllamaModel(cfg.Ollama.Model),
			WithOllamaDimensions(cfg.Embedding.Dim),
		), nil
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI.Token, cfg.OpenAI.Model, cfg.Embedding.Dim, cfg.Embedding.RateLimit)
	case "gemini":
		return NewGeminiProvider(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Embedding.Dim, cfg.Embedding.RateLimit)
	case "mock":
		return NewMockProvider(cfg.Embedding.Dim), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}
