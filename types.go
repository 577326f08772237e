package stratum

import "encoding/json"

// --- Domain types (database records) ---

// Position locates a fragment inside its source document.
// Chapter and Section are heading titles; Index is the fragment's
// sequence number within the source; Page is optional (0 = unknown).
type Position struct {
	Chapter string `json:"chapter"`
	Section string `json:"section"`
	Index   int    `json:"index"`
	Page    int    `json:"page,omitempty"`
}

// Fragment is an atomic ordered unit of source text. Fragments are
// immutable once stored and are removed only by whole-source deletion.
type Fragment struct {
	ID         string    `json:"id"`
	SourceID   string    `json:"source_id"`
	ProjectID  string    `json:"project_id"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Position   Position  `json:"position"`
	Embedding  []float32 `json:"-"`
}

// Level is the document granularity at which a knowledge type is extracted.
type Level string

const (
	LevelChapter  Level = "chapter"
	LevelSection  Level = "section"
	LevelFragment Level = "fragment"
)

// ExtractionRecord is a structured knowledge unit derived from a context,
// with full provenance back to its source fragments. Records are immutable
// once persisted; corrections are new records with a higher SchemaVersion.
type ExtractionRecord struct {
	ID            string          `json:"id"`
	KnowledgeType string          `json:"knowledge_type"`
	SourceID      string          `json:"source_id"`
	ProjectID     string          `json:"project_id"`
	ContextLevel  Level           `json:"context_level"`
	ContextNodeID string          `json:"context_node_id"`
	FragmentIDs   []string        `json:"fragment_ids"`
	Payload       json.RawMessage `json:"payload"`
	Topics        []string        `json:"topics,omitempty"`
	Confidence    float64         `json:"confidence"`
	SchemaVersion string          `json:"schema_version"`
	ExtractedAt   int64           `json:"extracted_at"`
	Embedding     []float32       `json:"-"`
}

// SchemaVersion is stamped on every record written by this version of the
// pipeline so readers can migrate older payload shapes safely.
const SchemaVersion = "1"

// ContentType distinguishes fragment vectors from extraction vectors in the
// shared index.
type ContentType string

const (
	ContentFragment   ContentType = "fragment"
	ContentExtraction ContentType = "extraction"
)

// Scope is the tenant partition applied to every read. The zero value is
// invalid for normal reads; cross-tenant reads require the explicit
// CrossTenant flag and are logged by the retrieval service.
type Scope struct {
	ProjectID   string
	CrossTenant bool
}

// Valid reports whether the scope can be used for a read.
func (s Scope) Valid() bool {
	return s.ProjectID != "" || s.CrossTenant
}

// --- Retrieval types ---

// SearchResult is a scored hit from a scoped similarity search.
// Score is in [0, 1]; higher means more relevant.
type SearchResult struct {
	Content       string      `json:"content"`
	Score         float32     `json:"score"`
	ContentType   ContentType `json:"content_type"`
	RefID         string      `json:"ref_id"`
	SourceID      string      `json:"source_id"`
	ProjectID     string      `json:"project_id"`
	KnowledgeType string      `json:"knowledge_type,omitempty"`
	Topics        []string    `json:"topics,omitempty"`
}
