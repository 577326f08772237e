// Package sqlite implements stratum.Store using pure-Go SQLite
// with in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/corpusworks/stratum"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithEmbeddingDimension sets the expected embedding dimensionality.
// Writes carrying a vector of any other length fail with
// *stratum.ErrDimension. Zero (the default) disables the check.
func WithEmbeddingDimension(n int) StoreOption {
	return func(s *Store) { s.embeddingDimension = n }
}

// Store implements stratum.Store backed by a local SQLite file.
// Embeddings are stored as JSON text and vector search is done in-process
// using brute-force cosine similarity, which is fine for single-project
// corpora up to tens of thousands of fragments.
type Store struct {
	db                 *sql.DB
	logger             *slog.Logger
	embeddingDimension int
}

var _ stratum.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS fragments (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			chapter TEXT NOT NULL DEFAULT '',
			section TEXT NOT NULL DEFAULT '',
			seq INTEGER NOT NULL,
			page INTEGER NOT NULL DEFAULT 0,
			embedding TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS fragments_source_idx ON fragments(project_id, source_id, seq)`,
		`CREATE TABLE IF NOT EXISTS extractions (
			id TEXT PRIMARY KEY,
			knowledge_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			context_level TEXT NOT NULL,
			context_node_id TEXT NOT NULL,
			fragment_ids TEXT NOT NULL,
			payload TEXT NOT NULL,
			topics TEXT,
			confidence REAL NOT NULL,
			schema_version TEXT NOT NULL,
			extracted_at INTEGER NOT NULL,
			embedding TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS extractions_source_idx ON extractions(project_id, source_id)`,
		`CREATE INDEX IF NOT EXISTS extractions_type_idx ON extractions(project_id, knowledge_type, extracted_at)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	s.logger.Debug("sqlite: init finished", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// checkDimension validates an embedding against the configured dimension.
func (s *Store) checkDimension(embedding []float32) error {
	if s.embeddingDimension > 0 && len(embedding) > 0 && len(embedding) != s.embeddingDimension {
		return &stratum.ErrDimension{Want: s.embeddingDimension, Got: len(embedding)}
	}
	return nil
}

// --- Fragments ---

// PutFragments inserts fragments in a single transaction. Re-putting an
// existing fragment id upserts.
func (s *Store) PutFragments(ctx context.Context, fragments []stratum.Fragment) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, f := range fragments {
		if err := s.checkDimension(f.Embedding); err != nil {
			return err
		}
		var embStr any
		if len(f.Embedding) > 0 {
			embStr = serializeEmbedding(f.Embedding)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO fragments
			 (id, source_id, project_id, content, token_count, chapter, section, seq, page, embedding)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.SourceID, f.ProjectID, f.Text, f.TokenCount,
			f.Position.Chapter, f.Position.Section, f.Position.Index, f.Position.Page, embStr)
		if err != nil {
			return fmt.Errorf("sqlite: insert fragment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit tx: %w", err)
	}
	s.logger.Debug("sqlite: fragments stored", "count", len(fragments), "duration", time.Since(start))
	return nil
}

// FragmentsBySource returns a source's fragments in document order.
func (s *Store) FragmentsBySource(ctx context.Context, projectID, sourceID string) ([]stratum.Fragment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, project_id, content, token_count, chapter, section, seq, page
		 FROM fragments
		 WHERE project_id = ? AND source_id = ?
		 ORDER BY seq`,
		projectID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: get fragments: %w", err)
	}
	defer rows.Close()

	var fragments []stratum.Fragment
	for rows.Next() {
		var f stratum.Fragment
		if err := rows.Scan(&f.ID, &f.SourceID, &f.ProjectID, &f.Text, &f.TokenCount,
			&f.Position.Chapter, &f.Position.Section, &f.Position.Index, &f.Position.Page); err != nil {
			return nil, fmt.Errorf("sqlite: scan fragment: %w", err)
		}
		fragments = append(fragments, f)
	}
	return fragments, rows.Err()
}

// DeleteSource removes a source's fragments and extraction records in one
// transaction.
func (s *Store) DeleteSource(ctx context.Context, projectID, sourceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM extractions WHERE project_id = ? AND source_id = ?`, projectID, sourceID); err != nil {
		return fmt.Errorf("sqlite: delete extractions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fragments WHERE project_id = ? AND source_id = ?`, projectID, sourceID); err != nil {
		return fmt.Errorf("sqlite: delete fragments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit tx: %w", err)
	}
	s.logger.Debug("sqlite: source deleted", "project_id", projectID, "source_id", sourceID)
	return nil
}

// --- Extraction records ---

// ReplaceExtractions deletes the source's prior records and inserts the new
// set in one transaction.
func (s *Store) ReplaceExtractions(ctx context.Context, projectID, sourceID string, records []stratum.ExtractionRecord) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM extractions WHERE project_id = ? AND source_id = ?`, projectID, sourceID); err != nil {
		return fmt.Errorf("sqlite: delete extractions: %w", err)
	}

	for _, r := range records {
		if err := s.checkDimension(r.Embedding); err != nil {
			return err
		}
		fragIDs, err := json.Marshal(r.FragmentIDs)
		if err != nil {
			return fmt.Errorf("sqlite: marshal fragment ids: %w", err)
		}
		topics, err := json.Marshal(r.Topics)
		if err != nil {
			return fmt.Errorf("sqlite: marshal topics: %w", err)
		}
		var embStr any
		if len(r.Embedding) > 0 {
			embStr = serializeEmbedding(r.Embedding)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO extractions
			 (id, knowledge_type, source_id, project_id, context_level, context_node_id,
			  fragment_ids, payload, topics, confidence, schema_version, extracted_at, embedding)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.KnowledgeType, r.SourceID, r.ProjectID, string(r.ContextLevel),
			r.ContextNodeID, string(fragIDs), string(r.Payload), string(topics),
			r.Confidence, r.SchemaVersion, r.ExtractedAt, embStr)
		if err != nil {
			return fmt.Errorf("sqlite: insert extraction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit tx: %w", err)
	}
	s.logger.Debug("sqlite: extractions replaced",
		"project_id", projectID,
		"source_id", sourceID,
		"count", len(records),
		"duration", time.Since(start))
	return nil
}

// Extractions returns records matching the scope and filter, most recent
// first. Topic filtering happens in-process after the SQL filters.
func (s *Store) Extractions(ctx context.Context, scope stratum.Scope, f stratum.SearchFilter, limit int) ([]stratum.ExtractionRecord, error) {
	q := `SELECT id, knowledge_type, source_id, project_id, context_level, context_node_id,
	        fragment_ids, payload, topics, confidence, schema_version, extracted_at
	 FROM extractions WHERE 1=1`
	var args []any
	if !scope.CrossTenant || scope.ProjectID != "" {
		q += ` AND project_id = ?`
		args = append(args, scope.ProjectID)
	}
	if f.KnowledgeType != "" {
		q += ` AND knowledge_type = ?`
		args = append(args, f.KnowledgeType)
	}
	if f.SourceID != "" {
		q += ` AND source_id = ?`
		args = append(args, f.SourceID)
	}
	q += ` ORDER BY extracted_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list extractions: %w", err)
	}
	defer rows.Close()

	var records []stratum.ExtractionRecord
	for rows.Next() {
		r, err := scanExtraction(rows)
		if err != nil {
			return nil, err
		}
		if len(f.Topics) > 0 && !anyTopic(f.Topics, r.Topics) {
			continue
		}
		records = append(records, r)
		if len(records) >= limit {
			break
		}
	}
	return records, rows.Err()
}

// --- Vector search ---

// SearchVectors performs brute-force cosine similarity over fragment and
// extraction embeddings, constrained to the scope and filter.
func (s *Store) SearchVectors(ctx context.Context, embedding []float32, scope stratum.Scope, f stratum.SearchFilter, topK int) ([]stratum.SearchResult, error) {
	start := time.Now()
	var results []stratum.SearchResult

	// Knowledge-type and topic filters can only be satisfied by extraction
	// records; fragments carry neither attribute.
	includeFragments := f.ContentType == "" || f.ContentType == stratum.ContentFragment
	if f.KnowledgeType != "" || len(f.Topics) > 0 {
		includeFragments = false
	}
	if includeFragments {
		part, err := s.scanFragmentVectors(ctx, embedding, scope, f)
		if err != nil {
			return nil, err
		}
		results = append(results, part...)
	}
	if f.ContentType == "" || f.ContentType == stratum.ContentExtraction {
		part, err := s.scanExtractionVectors(ctx, embedding, scope, f)
		if err != nil {
			return nil, err
		}
		results = append(results, part...)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	s.logger.Debug("sqlite: vector search",
		"candidates", len(results),
		"top_k", topK,
		"duration", time.Since(start))
	return results, nil
}

func (s *Store) scanFragmentVectors(ctx context.Context, embedding []float32, scope stratum.Scope, f stratum.SearchFilter) ([]stratum.SearchResult, error) {
	q := `SELECT id, source_id, project_id, content, embedding
	 FROM fragments WHERE embedding IS NOT NULL`
	var args []any
	if !scope.CrossTenant || scope.ProjectID != "" {
		q += ` AND project_id = ?`
		args = append(args, scope.ProjectID)
	}
	if f.SourceID != "" {
		q += ` AND source_id = ?`
		args = append(args, f.SourceID)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search fragments: %w", err)
	}
	defer rows.Close()

	var results []stratum.SearchResult
	for rows.Next() {
		r := stratum.SearchResult{ContentType: stratum.ContentFragment}
		var embStr string
		if err := rows.Scan(&r.RefID, &r.SourceID, &r.ProjectID, &r.Content, &embStr); err != nil {
			return nil, fmt.Errorf("sqlite: scan fragment: %w", err)
		}
		stored, err := deserializeEmbedding(embStr)
		if err != nil {
			continue // skip rows with corrupt embeddings
		}
		r.Score = cosineSimilarity(embedding, stored)
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) scanExtractionVectors(ctx context.Context, embedding []float32, scope stratum.Scope, f stratum.SearchFilter) ([]stratum.SearchResult, error) {
	q := `SELECT id, source_id, project_id, knowledge_type, payload, topics, embedding
	 FROM extractions WHERE embedding IS NOT NULL`
	var args []any
	if !scope.CrossTenant || scope.ProjectID != "" {
		q += ` AND project_id = ?`
		args = append(args, scope.ProjectID)
	}
	if f.KnowledgeType != "" {
		q += ` AND knowledge_type = ?`
		args = append(args, f.KnowledgeType)
	}
	if f.SourceID != "" {
		q += ` AND source_id = ?`
		args = append(args, f.SourceID)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search extractions: %w", err)
	}
	defer rows.Close()

	var results []stratum.SearchResult
	for rows.Next() {
		r := stratum.SearchResult{ContentType: stratum.ContentExtraction}
		var topicsJSON, embStr string
		if err := rows.Scan(&r.RefID, &r.SourceID, &r.ProjectID, &r.KnowledgeType, &r.Content, &topicsJSON, &embStr); err != nil {
			return nil, fmt.Errorf("sqlite: scan extraction: %w", err)
		}
		if topicsJSON != "" && topicsJSON != "null" {
			if err := json.Unmarshal([]byte(topicsJSON), &r.Topics); err != nil {
				return nil, fmt.Errorf("sqlite: decode topics: %w", err)
			}
		}
		stored, err := deserializeEmbedding(embStr)
		if err != nil {
			continue
		}
		if len(f.Topics) > 0 && !anyTopic(f.Topics, r.Topics) {
			continue
		}
		r.Score = cosineSimilarity(embedding, stored)
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Helpers ---

func scanExtraction(rows *sql.Rows) (stratum.ExtractionRecord, error) {
	var r stratum.ExtractionRecord
	var level, fragIDs, payload string
	var topics sql.NullString
	if err := rows.Scan(&r.ID, &r.KnowledgeType, &r.SourceID, &r.ProjectID, &level,
		&r.ContextNodeID, &fragIDs, &payload, &topics, &r.Confidence,
		&r.SchemaVersion, &r.ExtractedAt); err != nil {
		return stratum.ExtractionRecord{}, fmt.Errorf("sqlite: scan extraction: %w", err)
	}
	r.ContextLevel = stratum.Level(level)
	r.Payload = json.RawMessage(payload)
	if err := json.Unmarshal([]byte(fragIDs), &r.FragmentIDs); err != nil {
		return stratum.ExtractionRecord{}, fmt.Errorf("sqlite: decode fragment ids: %w", err)
	}
	if topics.Valid && topics.String != "" && topics.String != "null" {
		if err := json.Unmarshal([]byte(topics.String), &r.Topics); err != nil {
			return stratum.ExtractionRecord{}, fmt.Errorf("sqlite: decode topics: %w", err)
		}
	}
	return r, nil
}

// anyTopic reports whether want and got share at least one topic.
func anyTopic(want, got []string) bool {
	for _, w := range want {
		for _, g := range got {
			if w == g {
				return true
			}
		}
	}
	return false
}

// --- Vector math ---

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
