// Package resolve maps provider names from configuration to concrete
// completion and embedding clients.
package resolve

import (
	"fmt"

	"github.com/corpusworks/stratum"
	"github.com/corpusworks/stratum/provider/gemini"
	"github.com/corpusworks/stratum/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a Completer.
type Config struct {
	Provider string // "gemini", "openai", "groq", "deepseek", "together", "mistral", "ollama"
	APIKey   string
	Model    string
	BaseURL  string // optional; auto-filled for known OpenAI-compatible providers
}

// EmbeddingConfig holds provider-agnostic configuration for creating an
// EmbeddingProvider.
type EmbeddingConfig struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// Completer creates a completion client from a provider-agnostic Config.
func Completer(cfg Config) (stratum.Completer, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.New(cfg.APIKey, cfg.Model), nil
	case "openai", "groq", "deepseek", "together", "mistral", "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL(cfg.Provider)
		}
		return openaicompat.New(cfg.APIKey, cfg.Model, baseURL,
			openaicompat.WithName(cfg.Provider)), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

// Embedding creates an embedding client from a provider-agnostic
// EmbeddingConfig.
func Embedding(cfg EmbeddingConfig) (stratum.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.NewEmbedding(cfg.APIKey, cfg.Model, cfg.Dimensions), nil
	case "openai", "groq", "deepseek", "together", "mistral", "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL(cfg.Provider)
		}
		return openaicompat.NewEmbedding(cfg.APIKey, cfg.Model, baseURL, cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("resolve: unknown embedding provider %q", cfg.Provider)
	}
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
