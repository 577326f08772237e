package stratum

import (
	"context"
	"errors"
	"testing"
)

func TestExtractParsesPlainArray(t *testing.T) {
	c := &stubCompleter{results: []stubResult{
		{out: `[{"payload": {"warning": "w1"}, "topics": ["ops"], "confidence": 0.7}]`},
	}}
	e := NewLLMExtractor(c, "warning", "prompt")
	got, err := e.Extract(context.Background(), "some passage")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d payloads, want 1", len(got))
	}
	if got[0].Confidence != 0.7 {
		t.Errorf("Confidence = %v, want 0.7", got[0].Confidence)
	}
	if len(got[0].Topics) != 1 || got[0].Topics[0] != "ops" {
		t.Errorf("Topics = %v, want [ops]", got[0].Topics)
	}
}

func TestExtractStripsCodeFences(t *testing.T) {
	c := &stubCompleter{results: []stubResult{
		{out: "```json\n[{\"payload\": {\"v\": 1}, \"confidence\": 0.5}]\n```"},
	}}
	e := NewLLMExtractor(c, "decision", "prompt")
	got, err := e.Extract(context.Background(), "passage")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d payloads, want 1", len(got))
	}
}

func TestExtractProseAroundArray(t *testing.T) {
	c := &stubCompleter{results: []stubResult{
		{out: `Here are the items: [{"payload": {"v": 1}, "confidence": 1}] as requested.`},
	}}
	e := NewLLMExtractor(c, "decision", "prompt")
	got, err := e.Extract(context.Background(), "passage")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d payloads, want 1", len(got))
	}
}

func TestExtractEmptyArray(t *testing.T) {
	c := &stubCompleter{results: []stubResult{{out: "[]"}}}
	e := NewLLMExtractor(c, "pattern", "prompt")
	got, err := e.Extract(context.Background(), "passage")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d payloads, want 0", len(got))
	}
}

func TestExtractSchemaErrorKeepsRawOutput(t *testing.T) {
	c := &stubCompleter{results: []stubResult{{out: "no json here at all"}}}
	e := NewLLMExtractor(c, "pattern", "prompt")
	_, err := e.Extract(context.Background(), "passage")
	var schemaErr *ErrSchema
	if !errors.As(err, &schemaErr) {
		t.Fatalf("Extract() error = %v, want *ErrSchema", err)
	}
	if schemaErr.Raw != "no json here at all" {
		t.Errorf("Raw = %q, want the original output", schemaErr.Raw)
	}
	if schemaErr.KnowledgeType != "pattern" {
		t.Errorf("KnowledgeType = %q, want %q", schemaErr.KnowledgeType, "pattern")
	}
}

func TestExtractMissingPayloadIsSchemaError(t *testing.T) {
	c := &stubCompleter{results: []stubResult{
		{out: `[{"topics": ["t"], "confidence": 0.5}]`},
	}}
	e := NewLLMExtractor(c, "checklist", "prompt")
	_, err := e.Extract(context.Background(), "passage")
	var schemaErr *ErrSchema
	if !errors.As(err, &schemaErr) {
		t.Fatalf("Extract() error = %v, want *ErrSchema", err)
	}
}

func TestExtractClampsConfidence(t *testing.T) {
	c := &stubCompleter{results: []stubResult{
		{out: `[{"payload": {"v": 1}, "confidence": 1.7}, {"payload": {"v": 2}, "confidence": -0.2}]`},
	}}
	e := NewLLMExtractor(c, "decision", "prompt")
	got, err := e.Extract(context.Background(), "passage")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got[0].Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped to 1", got[0].Confidence)
	}
	if got[1].Confidence != 0 {
		t.Errorf("Confidence = %v, want clamped to 0", got[1].Confidence)
	}
}

func TestExtractPropagatesCompleterError(t *testing.T) {
	wantErr := errors.New("backend down")
	c := &stubCompleter{results: []stubResult{{err: wantErr}}}
	e := NewLLMExtractor(c, "decision", "prompt")
	_, err := e.Extract(context.Background(), "passage")
	if !errors.Is(err, wantErr) {
		t.Errorf("Extract() error = %v, want wrapped %v", err, wantErr)
	}
}

func TestRegisterDefaults(t *testing.T) {
	r := NewRegistry()
	if err := RegisterDefaults(r, &stubCompleter{}); err != nil {
		t.Fatalf("RegisterDefaults() error = %v", err)
	}
	types := r.Types()
	if len(types) != 5 {
		t.Fatalf("got %d types, want 5", len(types))
	}
	spec, ok := r.Spec("methodology")
	if !ok {
		t.Fatal("methodology not registered")
	}
	if spec.Level != LevelChapter {
		t.Errorf("methodology level = %q, want %q", spec.Level, LevelChapter)
	}
	spec, ok = r.Spec("warning")
	if !ok {
		t.Fatal("warning not registered")
	}
	if spec.Level != LevelFragment {
		t.Errorf("warning level = %q, want %q", spec.Level, LevelFragment)
	}
}
