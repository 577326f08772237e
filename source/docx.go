package source

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/corpusworks/stratum"
)

// DOCX parses Word documents in the ZIP-based OOXML format. Pure Go, no CGO.
// Heading 1 paragraphs become chapters, deeper heading levels become
// sections, and table rows are flattened into "Header: Value" labeled text.
type DOCX struct {
	cfg config
}

var _ Adapter = (*DOCX)(nil)

// NewDOCX creates a DOCX adapter.
func NewDOCX(opts ...Option) *DOCX {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &DOCX{cfg: cfg}
}

func (d *DOCX) Name() string { return "docx" }

// Fragments streams through the OOXML tokens in word/document.xml and emits
// paragraph and table-row fragments without loading a DOM tree into memory.
func (d *DOCX) Fragments(content []byte, projectID, sourceID string) ([]stratum.Fragment, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("docx: empty document")
	}

	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("docx: open zip: %w", err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("docx: missing word/document.xml")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("docx: read document.xml: %w", err)
	}
	defer rc.Close() //nolint:errcheck

	b := newBuilder(projectID, sourceID, d.cfg)
	s := &docxState{builder: b, decoder: xml.NewDecoder(rc)}
	if err := s.run(); err != nil {
		return nil, err
	}

	if len(b.fragments) == 0 {
		return nil, fmt.Errorf("docx: no text content")
	}
	return b.fragments, nil
}

// docxState tracks the streaming XML decoder state for one document.
type docxState struct {
	builder *builder
	decoder *xml.Decoder

	inParagraph    bool
	inRun          bool
	currentStyle   string
	paragraphTexts []string

	inTable      bool
	inTableRow   bool
	tableHeaders []string
	tableRowIdx  int
	cellTexts    []string
	currentCell  strings.Builder
}

func (s *docxState) run() error {
	for {
		tok, err := s.decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("docx: parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			s.handleStart(t)
		case xml.EndElement:
			s.handleEnd(t)
		case xml.CharData:
			s.handleCharData(t)
		}
	}
}

func (s *docxState) handleStart(t xml.StartElement) {
	switch t.Name.Local {
	case "p":
		s.inParagraph = true
		s.currentStyle = ""
		s.paragraphTexts = nil
	case "pStyle":
		for _, attr := range t.Attr {
			if attr.Name.Local == "val" {
				s.currentStyle = attr.Value
			}
		}
	case "r":
		s.inRun = true
	case "tbl":
		s.inTable = true
		s.tableHeaders = nil
		s.tableRowIdx = 0
	case "tr":
		s.inTableRow = true
		s.cellTexts = nil
	case "tc":
		s.currentCell.Reset()
	}
}

func (s *docxState) handleEnd(t xml.EndElement) {
	switch t.Name.Local {
	case "r":
		s.inRun = false
	case "tc":
		s.cellTexts = append(s.cellTexts, strings.TrimSpace(s.currentCell.String()))
	case "tr":
		s.inTableRow = false
		if !s.inTable {
			return
		}
		if s.tableRowIdx == 0 {
			s.tableHeaders = make([]string, len(s.cellTexts))
			copy(s.tableHeaders, s.cellTexts)
		} else {
			s.emitTableRow()
		}
		s.tableRowIdx++
	case "tbl":
		s.inTable = false
	case "p":
		s.endParagraph()
	}
}

func (s *docxState) handleCharData(data xml.CharData) {
	content := string(data)
	if s.inTable && s.inTableRow {
		s.currentCell.WriteString(content)
		return
	}
	if s.inParagraph && s.inRun {
		s.paragraphTexts = append(s.paragraphTexts, content)
	}
}

// emitTableRow emits a data row in "Header: Value" labeled format.
func (s *docxState) emitTableRow() {
	var fields []string
	for i, val := range s.cellTexts {
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}
		header := ""
		if i < len(s.tableHeaders) {
			header = s.tableHeaders[i]
		}
		if header != "" {
			fields = append(fields, fmt.Sprintf("%s: %s", header, val))
		} else {
			fields = append(fields, val)
		}
	}
	if len(fields) == 0 {
		return
	}
	s.builder.add(strings.Join(fields, ", "))
}

// endParagraph finalizes a paragraph, routing headings to the builder's
// chapter/section tracking and body text to fragment emission.
func (s *docxState) endParagraph() {
	s.inParagraph = false

	// Table cell paragraphs are handled by the table logic.
	if s.inTable {
		return
	}
	if len(s.paragraphTexts) == 0 {
		return
	}

	paraText := strings.TrimSpace(strings.Join(s.paragraphTexts, ""))
	if paraText == "" {
		return
	}

	if level, ok := headingLevel(s.currentStyle); ok {
		if level <= 1 {
			s.builder.setChapter(paraText)
		} else {
			s.builder.setSection(paraText)
		}
		return
	}

	s.builder.add(paraText)
}

// headingLevel parses Word heading style names such as "Heading1" or
// "Heading 2". Returns the level and whether the style is a heading at all.
func headingLevel(style string) (int, bool) {
	rest, ok := strings.CutPrefix(style, "Heading")
	if !ok {
		return 0, false
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return 1, true
	}
	level := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 1, true
		}
		level = level*10 + int(r-'0')
	}
	if level < 1 {
		level = 1
	}
	return level, true
}
