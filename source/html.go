package source

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/go-shiori/go-readability"

	"github.com/corpusworks/stratum"
)

// HTML parses web pages through readability extraction: navigation, ads,
// and boilerplate are stripped and only the article body remains. The
// article title becomes the chapter; the page has no reliable section
// structure, so sections stay empty.
type HTML struct {
	cfg config
}

var _ Adapter = (*HTML)(nil)

// NewHTML creates an HTML adapter.
func NewHTML(opts ...Option) *HTML {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &HTML{cfg: cfg}
}

func (h *HTML) Name() string { return "html" }

// Fragments extracts the readable article and emits paragraph fragments.
func (h *HTML) Fragments(content []byte, projectID, sourceID string) ([]stratum.Fragment, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("html: empty document")
	}

	pageURL, _ := url.Parse("https://" + sourceID)
	article, err := readability.FromReader(bytes.NewReader(content), pageURL)
	if err != nil {
		return nil, fmt.Errorf("html: readability: %w", err)
	}
	if article.TextContent == "" {
		return nil, fmt.Errorf("html: no readable content")
	}

	b := newBuilder(projectID, sourceID, h.cfg)
	b.setChapter(article.Title)
	b.add(article.TextContent)

	if len(b.fragments) == 0 {
		return nil, fmt.Errorf("html: no readable content")
	}
	return b.fragments, nil
}
