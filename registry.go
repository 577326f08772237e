package stratum

import (
	"context"
	"encoding/json"
	"fmt"
)

// Payload is one typed knowledge unit produced by an extractor, before
// provenance wrapping.
type Payload struct {
	Data       json.RawMessage
	Topics     []string
	Confidence float64
}

// Extractor turns assembled context text into typed payloads. Implementations
// call the external extraction service and own output parsing; transport
// retry is layered on the Completer, not here.
type Extractor interface {
	Extract(ctx context.Context, contextText string) ([]Payload, error)
}

// TypeSpec configures one knowledge type: the document granularity its
// extractor reasons at, the token budget for assembling that context, and
// the extractor itself.
type TypeSpec struct {
	Level     Level
	MaxTokens int
	Extractor Extractor
}

// Registry maps knowledge types to their specs. Adding a knowledge type
// means one Register call and one Extractor implementation.
// Registration order is preserved so extraction runs are
// deterministic. Not safe for concurrent mutation; register everything
// before extracting.
type Registry struct {
	order []string
	specs map[string]TypeSpec
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]TypeSpec)}
}

// Register adds a knowledge type. It rejects duplicate types, unknown
// levels, non-positive budgets on assembled levels, and nil extractors.
func (r *Registry) Register(knowledgeType string, spec TypeSpec) error {
	if knowledgeType == "" {
		return fmt.Errorf("register: empty knowledge type")
	}
	if _, dup := r.specs[knowledgeType]; dup {
		return fmt.Errorf("register %s: already registered", knowledgeType)
	}
	switch spec.Level {
	case LevelChapter, LevelSection, LevelFragment:
	default:
		return fmt.Errorf("register %s: unknown context level %q", knowledgeType, spec.Level)
	}
	if spec.Level != LevelFragment && spec.MaxTokens <= 0 {
		return fmt.Errorf("register %s: max tokens must be positive for %s level", knowledgeType, spec.Level)
	}
	if spec.Extractor == nil {
		return fmt.Errorf("register %s: nil extractor", knowledgeType)
	}
	r.order = append(r.order, knowledgeType)
	r.specs[knowledgeType] = spec
	return nil
}

// Types returns the registered knowledge types in registration order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Spec returns the spec for a knowledge type.
func (r *Registry) Spec(knowledgeType string) (TypeSpec, bool) {
	s, ok := r.specs[knowledgeType]
	return s, ok
}
