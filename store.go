package stratum

import "context"

// SearchFilter narrows a similarity search or attribute lookup. Zero-value
// fields are not applied.
type SearchFilter struct {
	ContentType   ContentType // restrict to fragment or extraction vectors
	KnowledgeType string
	Topics        []string // any-of match against record topics
	SourceID      string
}

// Store abstracts persistence of fragments, extraction records, and their
// vector entries. Both record kinds share one vector index, isolated per
// tenant by a required project_id attribute rather than per-tenant physical
// structures. Writes are append-only except ReplaceExtractions and
// DeleteSource.
type Store interface {
	// --- Fragments ---

	// PutFragments stores fragments and their vectors. Fragments are
	// immutable; re-putting an identical fragment id is a no-op upsert.
	PutFragments(ctx context.Context, fragments []Fragment) error

	// FragmentsBySource returns all fragments of a source in document
	// order (chapter, section, sequence index as ingested).
	FragmentsBySource(ctx context.Context, projectID, sourceID string) ([]Fragment, error)

	// DeleteSource removes a source's fragments, extraction records, and
	// vector entries in one atomic unit.
	DeleteSource(ctx context.Context, projectID, sourceID string) error

	// --- Extraction records ---

	// ReplaceExtractions atomically deletes all prior extraction records
	// for the source (and their vector entries) and inserts the new set.
	// On failure the previous record set remains intact.
	ReplaceExtractions(ctx context.Context, projectID, sourceID string, records []ExtractionRecord) error

	// Extractions returns records matching the scope and filter, most
	// recent first. An empty filter returns all records in scope.
	Extractions(ctx context.Context, scope Scope, f SearchFilter, limit int) ([]ExtractionRecord, error)

	// --- Vector search ---

	// SearchVectors performs nearest-neighbor search over the shared
	// index, constrained to the scope's project and the filter.
	SearchVectors(ctx context.Context, embedding []float32, scope Scope, f SearchFilter, topK int) ([]SearchResult, error)

	// --- Lifecycle ---
	Init(ctx context.Context) error
	Close() error
}

// KeywordSearcher is an optional Store capability: full-text keyword search
// over fragment and payload text. Backends without a text index simply do
// not implement it; callers feature-detect with a type assertion.
type KeywordSearcher interface {
	SearchKeyword(ctx context.Context, query string, scope Scope, f SearchFilter, topK int) ([]SearchResult, error)
}
