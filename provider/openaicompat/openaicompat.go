// Package openaicompat implements completion and embedding providers for any
// API speaking the OpenAI chat completions dialect.
//
// Works with OpenAI, Groq, Together, DeepSeek, Mistral, Ollama, vLLM, and any
// other service that implements /chat/completions and /embeddings.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/corpusworks/stratum"
)

// Client is an OpenAI-compatible chat completion provider.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	name        string
	httpClient  *http.Client
	temperature float64
	topP        float64
}

var _ stratum.Completer = (*Client)(nil)

// New creates an OpenAI-compatible completion client.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1"). The
// /chat/completions path is appended automatically.
func New(apiKey, model, baseURL string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		model:       model,
		baseURL:     baseURL,
		name:        "openai",
		httpClient:  &http.Client{},
		temperature: 0.1,
		topP:        0.9,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider name (default "openai", configurable via WithName).
func (c *Client) Name() string { return c.name }

// Complete sends prompt as the system message and content as the user message
// and returns the assistant text.
func (c *Client) Complete(ctx context.Context, prompt, content string) (string, error) {
	var messages []chatMessage
	if prompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: prompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: content})

	body := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		TopP:        c.topP,
	}
	data, err := c.doPost(ctx, c.baseURL+"/chat/completions", body)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: response has no choices", c.name)
	}
	return resp.Choices[0].Message.Content, nil
}

// Embedding is an OpenAI-compatible embedding provider.
type Embedding struct {
	apiKey     string
	model      string
	baseURL    string
	name       string
	dims       int
	httpClient *http.Client
}

var _ stratum.EmbeddingProvider = (*Embedding)(nil)

// NewEmbedding creates an OpenAI-compatible embedding provider. dims is the
// requested output dimensionality; pass 0 to use the model default, in which
// case Dimensions reports 0.
func NewEmbedding(apiKey, model, baseURL string, dims int) *Embedding {
	return &Embedding{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		name:       "openai",
		dims:       dims,
		httpClient: &http.Client{},
	}
}

func (e *Embedding) Name() string { return e.name }

// Dimensions returns the configured embedding dimensionality.
func (e *Embedding) Dimensions() int { return e.dims }

// Embed returns one vector per input text, in input order.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := embedRequest{Model: e.model, Input: texts}
	if e.dims > 0 {
		body.Dimensions = e.dims
	}
	data, err := doPost(ctx, e.httpClient, e.apiKey, e.baseURL+"/embeddings", body)
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", e.name, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%s: got %d embeddings for %d texts", e.name, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%s: embedding index %d out of range", e.name, d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		vectors[d.Index] = vec
	}
	return vectors, nil
}

func (c *Client) doPost(ctx context.Context, url string, body any) ([]byte, error) {
	return doPost(ctx, c.httpClient, c.apiKey, url, body)
}

// doPost sends a JSON request with bearer auth and returns the response body.
// Non-2xx responses become *stratum.ErrHTTP so retry middleware can inspect
// the status and Retry-After header.
func doPost(ctx context.Context, client *http.Client, apiKey, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &stratum.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(data),
			RetryAfter: stratum.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return data, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type embedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}
