package openaicompat

import "net/http"

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithName overrides the provider name reported by Name. Useful when the same
// dialect is served by Groq, Together, or a local runtime.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithTemperature sets the sampling temperature (default 0.1).
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithTopP sets the nucleus sampling parameter (default 0.9).
func WithTopP(p float64) Option {
	return func(c *Client) { c.topP = p }
}
