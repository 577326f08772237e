package source

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/corpusworks/stratum"
)

// Markdown parses markdown documents by walking the goldmark AST.
// H1 headings become chapters, H2 headings become sections; deeper headings
// are kept as body text inside the current section. Paragraphs, code blocks,
// lists, and blockquotes become fragments in document order.
type Markdown struct {
	cfg config
}

var _ Adapter = (*Markdown)(nil)

// NewMarkdown creates a markdown adapter.
func NewMarkdown(opts ...Option) *Markdown {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Markdown{cfg: cfg}
}

func (m *Markdown) Name() string { return "markdown" }

// Fragments parses content and emits fragments with heading-derived
// positions.
func (m *Markdown) Fragments(content []byte, projectID, sourceID string) ([]stratum.Fragment, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("markdown: empty document")
	}

	doc := goldmark.New().Parser().Parse(text.NewReader(content))
	b := newBuilder(projectID, sourceID, m.cfg)

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			title := nodeText(n, content)
			switch n.Level {
			case 1:
				b.setChapter(title)
			case 2:
				b.setSection(title)
			default:
				// Deeper headings stay inside the current section as
				// emphasized body text.
				b.add(title)
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			b.add(linesText(node, content))
		default:
			b.add(nodeText(node, content))
		}
	}
	return b.fragments, nil
}

// nodeText collects the plain text of a node and its descendants.
func nodeText(node ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.String:
			sb.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

// linesText reads a block node's raw lines, used for code blocks whose
// content is not held in inline text nodes.
func linesText(node ast.Node, src []byte) string {
	var sb strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(src))
	}
	return sb.String()
}
