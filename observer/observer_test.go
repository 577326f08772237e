package observer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/corpusworks/stratum"
)

// ---------------------------------------------------------------------------
// Mock implementations
// ---------------------------------------------------------------------------

type mockCompleter struct {
	name string
	out  string
	err  error
}

func (m *mockCompleter) Name() string { return m.name }
func (m *mockCompleter) Complete(_ context.Context, _, _ string) (string, error) {
	return m.out, m.err
}

type mockEmbedding struct {
	name string
	dims int
	vecs [][]float32
	err  error
}

func (m *mockEmbedding) Name() string    { return m.name }
func (m *mockEmbedding) Dimensions() int { return m.dims }
func (m *mockEmbedding) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return m.vecs, m.err
}

type mockExtractor struct {
	payloads []stratum.Payload
	err      error
}

func (m *mockExtractor) Extract(_ context.Context, _ string) ([]stratum.Payload, error) {
	return m.payloads, m.err
}

// testInstruments creates a no-op Instruments using the global OTEL providers
// (which are no-ops by default). This is safe for testing delegation behavior
// without any real OTEL backend.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments(nil)
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

// ---------------------------------------------------------------------------
// ObservedCompleter tests
// ---------------------------------------------------------------------------

func TestObservedCompleterName(t *testing.T) {
	inner := &mockCompleter{name: "test-provider"}
	oc := WrapCompleter(inner, "test-model", testInstruments(t))

	got := oc.Name()
	if got != "test-provider" {
		t.Errorf("Name() = %q, want %q", got, "test-provider")
	}
}

func TestObservedCompleterComplete(t *testing.T) {
	inner := &mockCompleter{name: "p", out: `[{"statement":"x"}]`}
	oc := WrapCompleter(inner, "m", testInstruments(t))

	got, err := oc.Complete(context.Background(), "extract decisions", "chapter text")
	if err != nil {
		t.Fatalf("Complete returned unexpected error: %v", err)
	}
	if got != inner.out {
		t.Errorf("Complete = %q, want %q", got, inner.out)
	}
}

func TestObservedCompleterCompleteError(t *testing.T) {
	wantErr := errors.New("provider unavailable")
	inner := &mockCompleter{name: "p", err: wantErr}
	oc := WrapCompleter(inner, "m", testInstruments(t))

	_, err := oc.Complete(context.Background(), "prompt", "content")
	if !errors.Is(err, wantErr) {
		t.Errorf("Complete error = %v, want %v", err, wantErr)
	}
}

// ---------------------------------------------------------------------------
// ObservedEmbedding tests
// ---------------------------------------------------------------------------

func TestObservedEmbeddingName(t *testing.T) {
	inner := &mockEmbedding{name: "embed-provider"}
	oe := WrapEmbedding(inner, "embed-model", testInstruments(t))

	got := oe.Name()
	if got != "embed-provider" {
		t.Errorf("Name() = %q, want %q", got, "embed-provider")
	}
}

func TestObservedEmbeddingDimensions(t *testing.T) {
	inner := &mockEmbedding{dims: 768}
	oe := WrapEmbedding(inner, "embed-model", testInstruments(t))

	got := oe.Dimensions()
	if got != 768 {
		t.Errorf("Dimensions() = %d, want %d", got, 768)
	}
}

func TestObservedEmbeddingEmbed(t *testing.T) {
	want := [][]float32{
		{0.1, 0.2, 0.3},
		{0.4, 0.5, 0.6},
	}
	inner := &mockEmbedding{name: "e", dims: 3, vecs: want}
	oe := WrapEmbedding(inner, "embed-model", testInstruments(t))

	got, err := oe.Embed(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("Embed returned unexpected error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Embed returned %d vectors, want %d", len(got), len(want))
	}
	for i := range got {
		for j := range got[i] {
			if got[i][j] != want[i][j] {
				t.Errorf("vector[%d][%d] = %f, want %f", i, j, got[i][j], want[i][j])
			}
		}
	}
}

func TestObservedEmbeddingEmbedError(t *testing.T) {
	wantErr := errors.New("embedding service down")
	inner := &mockEmbedding{name: "e", dims: 3, err: wantErr}
	oe := WrapEmbedding(inner, "embed-model", testInstruments(t))

	_, err := oe.Embed(context.Background(), []string{"test"})
	if !errors.Is(err, wantErr) {
		t.Errorf("Embed error = %v, want %v", err, wantErr)
	}
}

// ---------------------------------------------------------------------------
// ObservedExtractor tests
// ---------------------------------------------------------------------------

func TestObservedExtractorExtract(t *testing.T) {
	want := []stratum.Payload{
		{Data: json.RawMessage(`{"statement":"a"}`), Confidence: 0.9},
		{Data: json.RawMessage(`{"statement":"b"}`), Confidence: 0.7},
	}
	inner := &mockExtractor{payloads: want}
	oe := WrapExtractor(inner, "decision", testInstruments(t))

	got, err := oe.Extract(context.Background(), "chapter text")
	if err != nil {
		t.Fatalf("Extract returned unexpected error: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Extract returned %d payloads, want %d", len(got), len(want))
	}
	if string(got[0].Data) != string(want[0].Data) {
		t.Errorf("payload[0].Data = %s, want %s", got[0].Data, want[0].Data)
	}
}

func TestObservedExtractorExtractError(t *testing.T) {
	wantErr := errors.New("extraction failed")
	inner := &mockExtractor{err: wantErr}
	oe := WrapExtractor(inner, "decision", testInstruments(t))

	_, err := oe.Extract(context.Background(), "text")
	if !errors.Is(err, wantErr) {
		t.Errorf("Extract error = %v, want %v", err, wantErr)
	}
}

// ---------------------------------------------------------------------------
// RunSource tests
// ---------------------------------------------------------------------------

func TestRunSource(t *testing.T) {
	inst := testInstruments(t)
	want := stratum.Outcome{
		SourceID: "doc-1",
		Records:  []stratum.ExtractionRecord{{ID: "r1"}, {ID: "r2"}},
	}

	got, err := inst.RunSource(context.Background(), "proj", "doc-1", func(ctx context.Context) (stratum.Outcome, error) {
		return want, nil
	})
	if err != nil {
		t.Fatalf("RunSource returned unexpected error: %v", err)
	}
	if len(got.Records) != 2 {
		t.Errorf("Records length = %d, want 2", len(got.Records))
	}
}

func TestRunSourceError(t *testing.T) {
	inst := testInstruments(t)
	wantErr := errors.New("run failed")

	_, err := inst.RunSource(context.Background(), "proj", "doc-1", func(ctx context.Context) (stratum.Outcome, error) {
		return stratum.Outcome{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("RunSource error = %v, want %v", err, wantErr)
	}
}
