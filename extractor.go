package stratum

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// extractedItem is the wire shape every LLM extractor expects back:
// a JSON array of these objects.
type extractedItem struct {
	Payload    json.RawMessage `json:"payload"`
	Topics     []string        `json:"topics,omitempty"`
	Confidence float64         `json:"confidence"`
}

// LLMExtractor is an Extractor that prompts a Completer and parses its
// JSON response. One instance serves one knowledge type.
type LLMExtractor struct {
	completer     Completer
	knowledgeType string
	prompt        string
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor creates an extractor for the given knowledge type.
// The prompt must instruct the model to answer with a JSON array of
// {"payload": {...}, "topics": [...], "confidence": 0-1} objects and
// nothing else.
func NewLLMExtractor(c Completer, knowledgeType, prompt string) *LLMExtractor {
	return &LLMExtractor{completer: c, knowledgeType: knowledgeType, prompt: prompt}
}

// Extract calls the extraction service and parses the response.
// A response that cannot be parsed is returned as *ErrSchema with the raw
// output attached for operator inspection.
func (e *LLMExtractor) Extract(ctx context.Context, contextText string) ([]Payload, error) {
	raw, err := e.completer.Complete(ctx, e.prompt, contextText)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.knowledgeType, err)
	}
	return parseExtraction(e.knowledgeType, raw)
}

// parseExtraction parses the model's JSON array response into payloads.
// Markdown code fences are tolerated; anything outside the outermost
// brackets is ignored.
func parseExtraction(knowledgeType, raw string) ([]Payload, error) {
	trimmed := strings.TrimSpace(raw)

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "[")
	end := strings.LastIndex(trimmed, "]")
	if start == -1 || end == -1 || end < start {
		return nil, &ErrSchema{KnowledgeType: knowledgeType, Raw: raw, Reason: "no JSON array found"}
	}

	var items []extractedItem
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &items); err != nil {
		return nil, &ErrSchema{KnowledgeType: knowledgeType, Raw: raw, Reason: err.Error()}
	}

	payloads := make([]Payload, 0, len(items))
	for i, it := range items {
		if len(it.Payload) == 0 || string(it.Payload) == "null" {
			return nil, &ErrSchema{
				KnowledgeType: knowledgeType,
				Raw:           raw,
				Reason:        fmt.Sprintf("item %d has no payload", i),
			}
		}
		conf := it.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		payloads = append(payloads, Payload{Data: it.Payload, Topics: it.Topics, Confidence: conf})
	}
	return payloads, nil
}

// --- Built-in knowledge types ---

const extractionPromptHeader = `You are a knowledge extraction system. Given a passage from a long-form document, extract every %s it contains.

%s

Rules:
- Extract only what the passage states or strongly implies; never invent.
- Tag each item with short lowercase topics.
- Set confidence between 0 and 1.
- Answer ONLY with a JSON array, one object per item:
  [{"payload": %s, "topics": ["..."], "confidence": 0.9}]
- Return [] if the passage contains none.`

func typePrompt(noun, guidance, payloadShape string) string {
	return fmt.Sprintf(extractionPromptHeader, noun, guidance, payloadShape)
}

// RegisterDefaults fills a registry with the built-in knowledge types, all
// backed by LLM extractors over c. Callers can register additional types
// afterwards.
func RegisterDefaults(r *Registry, c Completer) error {
	defaults := []struct {
		name      string
		level     Level
		maxTokens int
		prompt    string
	}{
		{
			name: "methodology", level: LevelChapter, maxTokens: 12000,
			prompt: typePrompt("methodology",
				"A methodology is a named, repeatable way of working described across the passage: its goal, its steps, and when to apply it.",
				`{"name": "...", "goal": "...", "steps": ["..."], "when": "..."}`),
		},
		{
			name: "decision", level: LevelSection, maxTokens: 4000,
			prompt: typePrompt("decision",
				"A decision is a choice the text recommends or records, with the alternatives considered and the rationale.",
				`{"decision": "...", "alternatives": ["..."], "rationale": "..."}`),
		},
		{
			name: "pattern", level: LevelSection, maxTokens: 4000,
			prompt: typePrompt("pattern",
				"A pattern is a recurring solution shape: the problem it addresses, the solution, and its trade-offs.",
				`{"name": "...", "problem": "...", "solution": "...", "tradeoffs": "..."}`),
		},
		{
			name: "checklist", level: LevelSection, maxTokens: 4000,
			prompt: typePrompt("checklist",
				"A checklist is an ordered or unordered list of concrete checks or steps the reader is told to perform.",
				`{"title": "...", "items": ["..."]}`),
		},
		{
			name: "warning", level: LevelFragment, maxTokens: 0,
			prompt: typePrompt("warning",
				"A warning is a caution, pitfall, or anti-pattern the text tells the reader to avoid, with the consequence of ignoring it.",
				`{"warning": "...", "consequence": "..."}`),
		},
	}

	for _, d := range defaults {
		err := r.Register(d.name, TypeSpec{
			Level:     d.level,
			MaxTokens: d.maxTokens,
			Extractor: NewLLMExtractor(c, d.name, d.prompt),
		})
		if err != nil {
			return err
		}
	}
	return nil
}
