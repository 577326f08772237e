package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/corpusworks/stratum"
)

// useTestServer points baseURL at a local httptest server for the duration
// of the test.
func useTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	old := baseURL
	baseURL = srv.URL
	t.Cleanup(func() {
		baseURL = old
		srv.Close()
	})
	return srv
}

func textPtr(s string) *string { return &s }

func TestComplete(t *testing.T) {
	var gotPath string
	var gotBody map[string]any

	useTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		resp := generateResponse{
			Candidates: []candidate{
				{Content: candidateContent{Parts: []contentPart{
					{Text: textPtr("thinking"), Thought: true},
					{Text: textPtr(`[{"statement`)},
					{Text: textPtr(`":"x"}]`)},
				}}},
			},
		}
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))

	c := New("test-key", "test-model")
	out, err := c.Complete(context.Background(), "Extract decisions.", "Chapter text.")
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if out != `[{"statement":"x"}]` {
		t.Errorf("unexpected output: %q", out)
	}
	if gotPath != "/models/test-model:generateContent" {
		t.Errorf("unexpected path: %q", gotPath)
	}

	si, ok := gotBody["systemInstruction"].(map[string]any)
	if !ok {
		t.Fatal("expected systemInstruction in request body")
	}
	parts := si["parts"].([]any)
	if text := parts[0].(map[string]any)["text"]; text != "Extract decisions." {
		t.Errorf("unexpected system instruction text: %v", text)
	}

	contents := gotBody["contents"].([]any)
	if len(contents) != 1 {
		t.Fatalf("expected 1 content entry, got %d", len(contents))
	}
	entry := contents[0].(map[string]any)
	if entry["role"] != "user" {
		t.Errorf("expected role 'user', got %v", entry["role"])
	}
}

func TestComplete_EmptyPromptOmitsSystemInstruction(t *testing.T) {
	var gotBody map[string]any
	useTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody) //nolint:errcheck
		resp := generateResponse{Candidates: []candidate{
			{Content: candidateContent{Parts: []contentPart{{Text: textPtr("ok")}}}},
		}}
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))

	c := New("test-key", "test-model")
	if _, err := c.Complete(context.Background(), "", "content"); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if _, ok := gotBody["systemInstruction"]; ok {
		t.Error("expected no systemInstruction for empty prompt")
	}
}

func TestComplete_RateLimitedWithHeader(t *testing.T) {
	useTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"quota exceeded"}}`)) //nolint:errcheck
	}))

	c := New("test-key", "test-model")
	_, err := c.Complete(context.Background(), "p", "c")

	var httpErr *stratum.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *stratum.ErrHTTP, got %v", err)
	}
	if httpErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", httpErr.Status)
	}
	if httpErr.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", httpErr.RetryAfter)
	}
}

func TestComplete_RetryInfoDetail(t *testing.T) {
	body := `{"error":{"code":429,"details":[` +
		`{"@type":"type.googleapis.com/google.rpc.ErrorInfo","reason":"RATE_LIMIT_EXCEEDED"},` +
		`{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"30s"}]}}`
	useTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(body)) //nolint:errcheck
	}))

	c := New("test-key", "test-model")
	_, err := c.Complete(context.Background(), "p", "c")

	var httpErr *stratum.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected *stratum.ErrHTTP, got %v", err)
	}
	if httpErr.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", httpErr.RetryAfter)
	}
}

func TestComplete_NoCandidates(t *testing.T) {
	useTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[]}`)) //nolint:errcheck
	}))

	c := New("test-key", "test-model")
	_, err := c.Complete(context.Background(), "p", "c")
	if err == nil || !strings.Contains(err.Error(), "no candidates") {
		t.Errorf("expected no-candidates error, got %v", err)
	}
}

func TestParseRetryInfo_Unparseable(t *testing.T) {
	cases := []string{
		"",
		"not json",
		`{"error":{"details":[]}}`,
		`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"soon"}]}}`,
	}
	for _, body := range cases {
		if d := parseRetryInfo(body); d != 0 {
			t.Errorf("parseRetryInfo(%q) = %v, want 0", body, d)
		}
	}
}

func TestEmbed(t *testing.T) {
	var requests []map[string]any
	useTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		requests = append(requests, body)
		resp := embedResponse{Embedding: &embedValues{Values: []float64{0.1, 0.2, 0.3}}}
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))

	e := NewEmbedding("test-key", "embed-model", 3)
	if e.Dimensions() != 3 {
		t.Errorf("Dimensions() = %d, want 3", e.Dimensions())
	}

	vecs, err := e.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if len(requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(requests))
	}
	for _, v := range vecs {
		if len(v) != 3 {
			t.Errorf("vector length = %d, want 3", len(v))
		}
	}
	if dims := requests[0]["outputDimensionality"]; dims != float64(3) {
		t.Errorf("outputDimensionality = %v, want 3", dims)
	}
}

func TestEmbed_MissingEmbedding(t *testing.T) {
	useTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`)) //nolint:errcheck
	}))

	e := NewEmbedding("test-key", "embed-model", 3)
	_, err := e.Embed(context.Background(), []string{"alpha"})
	if err == nil || !strings.Contains(err.Error(), "missing embedding") {
		t.Errorf("expected missing-embedding error, got %v", err)
	}
}
