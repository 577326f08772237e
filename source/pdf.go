package source

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/corpusworks/stratum"
)

// PDF parses PDF documents page by page. PDFs carry no reliable heading
// structure, so chapter and section titles are left empty (the hierarchy
// builder groups them under its sentinels) and the page number is recorded
// on every fragment instead.
type PDF struct {
	cfg config
}

var _ Adapter = (*PDF)(nil)

// NewPDF creates a PDF adapter.
func NewPDF(opts ...Option) *PDF {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &PDF{cfg: cfg}
}

func (p *PDF) Name() string { return "pdf" }

// Fragments extracts plain text per page and emits page-ordered fragments.
// Pages that fail text extraction are skipped rather than failing the whole
// document.
func (p *PDF) Fragments(content []byte, projectID, sourceID string) ([]stratum.Fragment, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("pdf: empty document")
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("pdf: open: %w", err)
	}

	b := newBuilder(projectID, sourceID, p.cfg)
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.setPage(i)
		b.add(pageText)
	}

	if len(b.fragments) == 0 {
		return nil, fmt.Errorf("pdf: no extractable text")
	}
	return b.fragments, nil
}
