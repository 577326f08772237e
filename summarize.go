package stratum

import (
	"context"
	"fmt"
)

const summarizePrompt = `Summarize the following text in at most %d tokens (roughly %d words). Preserve concrete facts, decisions, and terminology; drop examples and repetition. Answer with the summary only.`

// LLMSummarizer implements Summarizer over a Completer.
type LLMSummarizer struct {
	completer Completer
}

var _ Summarizer = (*LLMSummarizer)(nil)

// NewLLMSummarizer creates a Summarizer backed by the given Completer.
func NewLLMSummarizer(c Completer) *LLMSummarizer {
	return &LLMSummarizer{completer: c}
}

// Summarize compresses text to roughly maxTokens tokens.
func (s *LLMSummarizer) Summarize(ctx context.Context, text string, maxTokens int) (string, error) {
	words := maxTokens * 3 / 4
	if words < 1 {
		words = 1
	}
	out, err := s.completer.Complete(ctx, fmt.Sprintf(summarizePrompt, maxTokens, words), text)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return out, nil
}
