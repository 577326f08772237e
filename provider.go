package stratum

import "context"

// Completer abstracts the external extraction service: a natural-language
// model that turns an instruction plus document content into raw text.
// Implementations return *ErrHTTP for transport failures; the orchestrator
// owns retry and validation.
type Completer interface {
	// Complete sends a prompt and document content, returning the raw
	// model output.
	Complete(ctx context.Context, prompt, content string) (string, error)
	// Name returns the provider name (e.g. "gemini").
	Name() string
}

// EmbeddingProvider abstracts text embedding. Embed must be deterministic
// for identical input; Dimensions lets stores validate vector writes.
// A changed embedding model invalidates all stored vectors and requires an
// operator-triggered re-extraction.
type EmbeddingProvider interface {
	// Embed returns embedding vectors for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}

// Summarizer compresses text to fit within a token budget. The context
// assembler uses it for the summarize-if-exceeded overflow policy; when it
// is unavailable or fails, assembly falls back to truncation.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxTokens int) (string, error)
}
