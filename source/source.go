// Package source turns raw document bytes into ordered fragments with
// position metadata. Each adapter owns one input format; all of them emit
// fragments the same way so downstream hierarchy building never cares where
// a document came from.
package source

import (
	"strings"

	"github.com/corpusworks/stratum"
)

// Adapter parses one document format into fragments.
// Fragments come back in document order with Position metadata filled in as
// far as the format allows; missing chapter/section titles are left empty
// and grouped under sentinels by the hierarchy builder.
type Adapter interface {
	Name() string
	Fragments(content []byte, projectID, sourceID string) ([]stratum.Fragment, error)
}

// Option configures an adapter.
type Option func(*config)

type config struct {
	maxFragmentTokens int
}

func defaultConfig() config {
	return config{maxFragmentTokens: 512}
}

// WithMaxFragmentTokens caps the estimated token size of emitted fragments.
// Blocks larger than the cap are split at paragraph and sentence boundaries
// (default: 512).
func WithMaxFragmentTokens(n int) Option {
	return func(c *config) { c.maxFragmentTokens = n }
}

// builder accumulates fragments for one document, tracking the current
// chapter/section titles and the running sequence index.
type builder struct {
	projectID string
	sourceID  string
	maxTokens int

	chapter   string
	section   string
	page      int
	index     int
	fragments []stratum.Fragment
}

func newBuilder(projectID, sourceID string, cfg config) *builder {
	return &builder{projectID: projectID, sourceID: sourceID, maxTokens: cfg.maxFragmentTokens}
}

// setChapter starts a new chapter; the section resets with it.
func (b *builder) setChapter(title string) {
	b.chapter = strings.TrimSpace(title)
	b.section = ""
}

func (b *builder) setSection(title string) {
	b.section = strings.TrimSpace(title)
}

func (b *builder) setPage(n int) {
	b.page = n
}

// add emits one or more fragments for a text block, splitting it when it
// exceeds the token cap.
func (b *builder) add(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	for _, part := range splitBlock(text, b.maxTokens) {
		pos := stratum.Position{
			Chapter: b.chapter,
			Section: b.section,
			Index:   b.index,
			Page:    b.page,
		}
		b.fragments = append(b.fragments, stratum.Fragment{
			ID:         stratum.FragmentID(b.sourceID, pos, part),
			SourceID:   b.sourceID,
			ProjectID:  b.projectID,
			Text:       part,
			TokenCount: stratum.EstimateTokens(part),
			Position:   pos,
		})
		b.index++
	}
}

// splitBlock splits text into pieces of at most maxTokens estimated tokens,
// preferring paragraph boundaries, then sentence boundaries, then a hard
// byte cut for pathological unbroken text.
func splitBlock(text string, maxTokens int) []string {
	if maxTokens <= 0 || stratum.EstimateTokens(text) <= maxTokens {
		return []string{text}
	}

	var parts []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if cur.Len() > 0 && stratum.EstimateTokens(cur.String())+stratum.EstimateTokens(para) > maxTokens {
			flush()
		}
		if stratum.EstimateTokens(para) > maxTokens {
			flush()
			parts = append(parts, splitSentences(para, maxTokens)...)
			continue
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(para)
	}
	flush()
	return parts
}

// splitSentences splits a paragraph at sentence-ending punctuation, falling
// back to a hard cut when a single sentence still exceeds the cap.
func splitSentences(para string, maxTokens int) []string {
	maxBytes := maxTokens * 4
	var parts []string
	var cur strings.Builder

	start := 0
	for i, r := range para {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		sentence := para[start : i+1]
		if cur.Len() > 0 && cur.Len()+len(sentence) > maxBytes {
			parts = append(parts, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		cur.WriteString(sentence)
		start = i + 1
	}
	if start < len(para) {
		rest := para[start:]
		if cur.Len() > 0 && cur.Len()+len(rest) > maxBytes {
			parts = append(parts, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		cur.WriteString(rest)
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		parts = append(parts, s)
	}

	// Hard cut anything still over the cap (unbroken text without
	// sentence punctuation).
	var out []string
	for _, p := range parts {
		for len(p) > maxBytes {
			out = append(out, p[:maxBytes])
			p = p[maxBytes:]
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
