package stratum

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// OverflowPolicy controls what happens when fragments do not fit the
// token budget during context assembly.
type OverflowPolicy string

const (
	// OverflowTruncate stops including fragments once the next one would
	// exceed the budget. Omitted fragments are not part of the result.
	OverflowTruncate OverflowPolicy = "truncate"
	// OverflowSummarize replaces the fragments that would overflow with a
	// single summarization pass, so content is compressed instead of
	// dropped. Falls back to truncation when no Summarizer is available.
	OverflowSummarize OverflowPolicy = "summarize_if_exceeded"
)

// Assembled is the outcome of a context assembly. FragmentIDs lists exactly
// the fragments whose content (verbatim or summarized) appears in Text.
// This becomes the provenance of any record extracted from the context.
type Assembled struct {
	Text        string
	FragmentIDs []string
	Partial     bool // true when summarization was requested but unavailable
}

// fragmentSeparator joins fragment texts. Its token cost is charged per
// joined fragment so the assembled text stays within budget.
const fragmentSeparator = "\n\n"

// Assembler merges ordered fragments into a single context string within a
// token budget. It is pure except for the optional Summarizer call and is
// safe for concurrent use.
type Assembler struct {
	summarizer Summarizer
	logger     *slog.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithSummarizer enables the summarize-if-exceeded overflow policy.
func WithSummarizer(s Summarizer) AssemblerOption {
	return func(a *Assembler) { a.summarizer = s }
}

// WithAssemblerLogger sets a structured logger for fallback warnings.
func WithAssemblerLogger(l *slog.Logger) AssemblerOption {
	return func(a *Assembler) { a.logger = l }
}

// NewAssembler creates an Assembler.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{logger: nopLogger}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble concatenates fragment texts in their stored order (never
// reordering) until maxTokens is reached, then applies the overflow policy.
func (a *Assembler) Assemble(ctx context.Context, fragments []Fragment, maxTokens int, policy OverflowPolicy) (Assembled, error) {
	if policy != OverflowTruncate && policy != OverflowSummarize {
		return Assembled{}, fmt.Errorf("assemble: unknown overflow policy %q", policy)
	}

	var b strings.Builder
	var used []string
	budget := maxTokens
	cut := len(fragments) // index of the first fragment that did not fit

	for i, f := range fragments {
		cost := fragmentTokens(f)
		if b.Len() > 0 {
			cost++ // separator
		}
		if cost > budget {
			cut = i
			break
		}
		if b.Len() > 0 {
			b.WriteString(fragmentSeparator)
		}
		b.WriteString(f.Text)
		used = append(used, f.ID)
		budget -= cost
	}

	if cut == len(fragments) {
		return Assembled{Text: b.String(), FragmentIDs: used}, nil
	}

	if policy == OverflowTruncate {
		return Assembled{Text: b.String(), FragmentIDs: used}, nil
	}

	// Summarize the remainder into whatever budget is left.
	rest := fragments[cut:]
	if a.summarizer == nil {
		a.logger.Warn("no summarizer configured, falling back to truncation",
			"omitted_fragments", len(rest))
		return Assembled{Text: b.String(), FragmentIDs: used, Partial: true}, nil
	}

	var restText strings.Builder
	for i, f := range rest {
		if i > 0 {
			restText.WriteString(fragmentSeparator)
		}
		restText.WriteString(f.Text)
	}

	summaryBudget := budget
	if summaryBudget < 1 {
		summaryBudget = 1
	}
	summary, err := a.summarizer.Summarize(ctx, restText.String(), summaryBudget)
	if err != nil {
		a.logger.Warn("summarization failed, falling back to truncation",
			"omitted_fragments", len(rest),
			"error", err)
		return Assembled{Text: b.String(), FragmentIDs: used, Partial: true}, nil
	}

	if b.Len() > 0 {
		b.WriteString(fragmentSeparator)
	}
	b.WriteString(summary)
	for _, f := range rest {
		used = append(used, f.ID)
	}
	return Assembled{Text: b.String(), FragmentIDs: used}, nil
}

// fragmentTokens returns the fragment's stored token count, estimating it
// when the ingestion adapter did not supply one.
func fragmentTokens(f Fragment) int {
	if f.TokenCount > 0 {
		return f.TokenCount
	}
	return EstimateTokens(f.Text)
}
