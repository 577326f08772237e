package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM        LLMConfig        `toml:"llm"`
	Embedding  EmbeddingConfig  `toml:"embedding"`
	Summary    SummaryConfig    `toml:"summary"`
	Database   DatabaseConfig   `toml:"database"`
	Extraction ExtractionConfig `toml:"extraction"`
	Retrieval  RetrievalConfig  `toml:"retrieval"`
	Observer   ObserverConfig   `toml:"observer"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
}

type SummaryConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"`
}

type DatabaseConfig struct {
	Driver      string `toml:"driver"`
	Path        string `toml:"path"`
	PostgresURL string `toml:"postgres_url"`
}

type ExtractionConfig struct {
	Workers           int `toml:"workers"`
	MaxAttempts       int `toml:"max_attempts"`
	RequestsPerMinute int `toml:"requests_per_minute"`
	TokensPerMinute   int `toml:"tokens_per_minute"`
}

type RetrievalConfig struct {
	TopK int `toml:"top_k"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM:       LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash"},
		Embedding: EmbeddingConfig{Provider: "gemini", Model: "gemini-embedding-001", Dimensions: 1536},
		Summary:   SummaryConfig{Provider: "gemini", Model: "gemini-2.5-flash-lite"},
		Database:  DatabaseConfig{Driver: "sqlite", Path: "stratum.db"},
		Extraction: ExtractionConfig{
			Workers:     4,
			MaxAttempts: 4,
		},
		Retrieval: RetrievalConfig{TopK: 10},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "stratum.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("STRATUM_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("STRATUM_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("STRATUM_SUMMARY_API_KEY"); v != "" {
		cfg.Summary.APIKey = v
	}
	if v := os.Getenv("STRATUM_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("STRATUM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STRATUM_POSTGRES_URL"); v != "" {
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("STRATUM_EXTRACTION_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Extraction.Workers = n
		}
	}
	if os.Getenv("STRATUM_OBSERVER_ENABLED") == "true" || os.Getenv("STRATUM_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	if cfg.Summary.Provider == "" {
		cfg.Summary.Provider = cfg.LLM.Provider
		cfg.Summary.Model = cfg.LLM.Model
	}
	if cfg.Summary.APIKey == "" {
		cfg.Summary.APIKey = cfg.LLM.APIKey
	}

	return cfg
}
