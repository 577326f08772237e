// Package postgres implements stratum.Store using PostgreSQL with pgvector
// for native vector similarity search and tsvector for full-text keyword
// search.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corpusworks/stratum"
)

// Store implements stratum.Store backed by PostgreSQL with pgvector.
// Vector search uses HNSW indexes with cosine distance. Tenant isolation is
// a required project_id column on every table, enforced in every query.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, and
// writes with a mismatched dimension fail with *stratum.ErrDimension before
// reaching the database. Only affects new table creation.
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Higher values improve index quality at the cost of
// slower builds. Default: pgvector's 64.
// Only affects index creation (CREATE INDEX IF NOT EXISTS).
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate list
// size). Higher values improve recall at the cost of latency. Default:
// pgvector's 40. Applied via SET during Init().
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

var _ stratum.Store = (*Store)(nil)
var _ stratum.KeywordSearcher = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, all required tables, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS fragments (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			content TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			chapter TEXT NOT NULL DEFAULT '',
			section TEXT NOT NULL DEFAULT '',
			seq INTEGER NOT NULL,
			page INTEGER NOT NULL DEFAULT 0,
			embedding %s
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS fragments_source_idx ON fragments(project_id, source_id, seq)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS fragments_embedding_idx ON fragments USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
		`CREATE INDEX IF NOT EXISTS fragments_fts_idx ON fragments USING gin(to_tsvector('english', content))`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS extractions (
			id TEXT PRIMARY KEY,
			knowledge_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			context_level TEXT NOT NULL,
			context_node_id TEXT NOT NULL,
			fragment_ids JSONB NOT NULL,
			payload JSONB NOT NULL,
			topics JSONB,
			confidence REAL NOT NULL,
			schema_version TEXT NOT NULL,
			extracted_at BIGINT NOT NULL,
			embedding %s
		)`, vtype),
		`CREATE INDEX IF NOT EXISTS extractions_source_idx ON extractions(project_id, source_id)`,
		`CREATE INDEX IF NOT EXISTS extractions_type_idx ON extractions(project_id, knowledge_type, extracted_at DESC)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS extractions_embedding_idx ON extractions USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
		`CREATE INDEX IF NOT EXISTS extractions_fts_idx ON extractions USING gin(to_tsvector('english', payload::text))`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return fmt.Errorf("postgres: set ef_search: %w", err)
		}
	}

	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }

// checkDimension validates an embedding against the configured dimension.
func (s *Store) checkDimension(embedding []float32) error {
	if s.cfg.embeddingDimension > 0 && len(embedding) > 0 && len(embedding) != s.cfg.embeddingDimension {
		return &stratum.ErrDimension{Want: s.cfg.embeddingDimension, Got: len(embedding)}
	}
	return nil
}

// --- Fragments ---

// PutFragments inserts fragments in a single transaction. Re-putting an
// existing fragment id upserts, which is a no-op for unchanged content
// since fragment ids are content-derived.
func (s *Store) PutFragments(ctx context.Context, fragments []stratum.Fragment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, f := range fragments {
		if err := s.checkDimension(f.Embedding); err != nil {
			return err
		}
		var embStr *string
		if len(f.Embedding) > 0 {
			v := serializeEmbedding(f.Embedding)
			embStr = &v
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO fragments (id, source_id, project_id, content, token_count, chapter, section, seq, page, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::vector)
			 ON CONFLICT (id) DO UPDATE SET
			   content = EXCLUDED.content,
			   token_count = EXCLUDED.token_count,
			   chapter = EXCLUDED.chapter,
			   section = EXCLUDED.section,
			   seq = EXCLUDED.seq,
			   page = EXCLUDED.page,
			   embedding = EXCLUDED.embedding`,
			f.ID, f.SourceID, f.ProjectID, f.Text, f.TokenCount,
			f.Position.Chapter, f.Position.Section, f.Position.Index, f.Position.Page, embStr)
		if err != nil {
			return fmt.Errorf("postgres: insert fragment: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// FragmentsBySource returns a source's fragments in document order.
func (s *Store) FragmentsBySource(ctx context.Context, projectID, sourceID string) ([]stratum.Fragment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, project_id, content, token_count, chapter, section, seq, page
		 FROM fragments
		 WHERE project_id = $1 AND source_id = $2
		 ORDER BY seq`,
		projectID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get fragments: %w", err)
	}
	defer rows.Close()

	var fragments []stratum.Fragment
	for rows.Next() {
		var f stratum.Fragment
		if err := rows.Scan(&f.ID, &f.SourceID, &f.ProjectID, &f.Text, &f.TokenCount,
			&f.Position.Chapter, &f.Position.Section, &f.Position.Index, &f.Position.Page); err != nil {
			return nil, fmt.Errorf("postgres: scan fragment: %w", err)
		}
		fragments = append(fragments, f)
	}
	return fragments, rows.Err()
}

// DeleteSource removes a source's fragments and extraction records in one
// transaction, guarded by a per-source advisory lock so it never interleaves
// with a running extraction's ReplaceExtractions.
func (s *Store) DeleteSource(ctx context.Context, projectID, sourceID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, sourceLockKey(projectID, sourceID)); err != nil {
		return fmt.Errorf("postgres: advisory lock: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM extractions WHERE project_id = $1 AND source_id = $2`, projectID, sourceID); err != nil {
		return fmt.Errorf("postgres: delete extractions: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM fragments WHERE project_id = $1 AND source_id = $2`, projectID, sourceID); err != nil {
		return fmt.Errorf("postgres: delete fragments: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// --- Extraction records ---

// ReplaceExtractions deletes the source's prior records and inserts the new
// set in one transaction. A per-source advisory lock serializes concurrent
// replacements from multiple processes.
func (s *Store) ReplaceExtractions(ctx context.Context, projectID, sourceID string, records []stratum.ExtractionRecord) error {
	for _, r := range records {
		if err := s.checkDimension(r.Embedding); err != nil {
			return err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, sourceLockKey(projectID, sourceID)); err != nil {
		return fmt.Errorf("postgres: advisory lock: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM extractions WHERE project_id = $1 AND source_id = $2`, projectID, sourceID); err != nil {
		return fmt.Errorf("postgres: delete extractions: %w", err)
	}

	for _, r := range records {
		fragIDs, err := marshalStrings(r.FragmentIDs)
		if err != nil {
			return fmt.Errorf("postgres: marshal fragment ids: %w", err)
		}
		topics, err := marshalStrings(r.Topics)
		if err != nil {
			return fmt.Errorf("postgres: marshal topics: %w", err)
		}
		var embStr *string
		if len(r.Embedding) > 0 {
			v := serializeEmbedding(r.Embedding)
			embStr = &v
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO extractions (id, knowledge_type, source_id, project_id, context_level,
			   context_node_id, fragment_ids, payload, topics, confidence, schema_version,
			   extracted_at, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9::jsonb, $10, $11, $12, $13::vector)`,
			r.ID, r.KnowledgeType, r.SourceID, r.ProjectID, string(r.ContextLevel),
			r.ContextNodeID, fragIDs, string(r.Payload), topics, r.Confidence, r.SchemaVersion,
			r.ExtractedAt, embStr)
		if err != nil {
			return fmt.Errorf("postgres: insert extraction: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// Extractions returns records matching the scope and filter, most recent
// first.
func (s *Store) Extractions(ctx context.Context, scope stratum.Scope, f stratum.SearchFilter, limit int) ([]stratum.ExtractionRecord, error) {
	where, args := extractionWhere(scope, f, 1)
	q := `SELECT id, knowledge_type, source_id, project_id, context_level, context_node_id,
	        fragment_ids, payload, topics, confidence, schema_version, extracted_at
	 FROM extractions` + where + `
	 ORDER BY extracted_at DESC
	 LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list extractions: %w", err)
	}
	defer rows.Close()
	return scanExtractions(rows)
}

// --- Vector search ---

// SearchVectors performs cosine-distance nearest-neighbor search over the
// fragment and extraction indexes, merged and re-ranked. Both queries carry
// the tenant predicate; rows outside the scope are never fetched.
func (s *Store) SearchVectors(ctx context.Context, embedding []float32, scope stratum.Scope, f stratum.SearchFilter, topK int) ([]stratum.SearchResult, error) {
	embStr := serializeEmbedding(embedding)

	var results []stratum.SearchResult
	// Knowledge-type and topic filters can only be satisfied by extraction
	// records; fragments carry neither attribute.
	includeFragments := f.ContentType == "" || f.ContentType == stratum.ContentFragment
	if f.KnowledgeType != "" || len(f.Topics) > 0 {
		includeFragments = false
	}
	if includeFragments {
		part, err := s.searchFragmentVectors(ctx, embStr, scope, f, topK)
		if err != nil {
			return nil, err
		}
		results = append(results, part...)
	}
	if f.ContentType == "" || f.ContentType == stratum.ContentExtraction {
		part, err := s.searchExtractionVectors(ctx, embStr, scope, f, topK)
		if err != nil {
			return nil, err
		}
		results = append(results, part...)
	}

	sortByScore(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *Store) searchFragmentVectors(ctx context.Context, embStr string, scope stratum.Scope, f stratum.SearchFilter, topK int) ([]stratum.SearchResult, error) {
	where := ` WHERE embedding IS NOT NULL`
	args := []any{embStr}
	if !scope.CrossTenant || scope.ProjectID != "" {
		args = append(args, scope.ProjectID)
		where += ` AND project_id = $` + strconv.Itoa(len(args))
	}
	if f.SourceID != "" {
		args = append(args, f.SourceID)
		where += ` AND source_id = $` + strconv.Itoa(len(args))
	}
	args = append(args, topK)

	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, project_id, content,
		        1 - (embedding <=> $1::vector) AS score
		 FROM fragments`+where+`
		 ORDER BY embedding <=> $1::vector
		 LIMIT $`+strconv.Itoa(len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search fragments: %w", err)
	}
	defer rows.Close()

	var results []stratum.SearchResult
	for rows.Next() {
		r := stratum.SearchResult{ContentType: stratum.ContentFragment}
		if err := rows.Scan(&r.RefID, &r.SourceID, &r.ProjectID, &r.Content, &r.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan fragment hit: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) searchExtractionVectors(ctx context.Context, embStr string, scope stratum.Scope, f stratum.SearchFilter, topK int) ([]stratum.SearchResult, error) {
	where := ` WHERE embedding IS NOT NULL`
	args := []any{embStr}
	if !scope.CrossTenant || scope.ProjectID != "" {
		args = append(args, scope.ProjectID)
		where += ` AND project_id = $` + strconv.Itoa(len(args))
	}
	if f.KnowledgeType != "" {
		args = append(args, f.KnowledgeType)
		where += ` AND knowledge_type = $` + strconv.Itoa(len(args))
	}
	if f.SourceID != "" {
		args = append(args, f.SourceID)
		where += ` AND source_id = $` + strconv.Itoa(len(args))
	}
	if len(f.Topics) > 0 {
		topicsJSON, err := marshalStrings(f.Topics)
		if err != nil {
			return nil, fmt.Errorf("postgres: marshal topics: %w", err)
		}
		args = append(args, topicsJSON)
		where += ` AND topics ?| ARRAY(SELECT jsonb_array_elements_text($` + strconv.Itoa(len(args)) + `::jsonb))`
	}
	args = append(args, topK)

	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, project_id, knowledge_type, payload::text, topics,
		        1 - (embedding <=> $1::vector) AS score
		 FROM extractions`+where+`
		 ORDER BY embedding <=> $1::vector
		 LIMIT $`+strconv.Itoa(len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: search extractions: %w", err)
	}
	defer rows.Close()

	var results []stratum.SearchResult
	for rows.Next() {
		r := stratum.SearchResult{ContentType: stratum.ContentExtraction}
		var topicsJSON []byte
		if err := rows.Scan(&r.RefID, &r.SourceID, &r.ProjectID, &r.KnowledgeType, &r.Content, &topicsJSON, &r.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan extraction hit: %w", err)
		}
		if err := unmarshalStrings(topicsJSON, &r.Topics); err != nil {
			return nil, fmt.Errorf("postgres: decode topics: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Keyword search ---

// SearchKeyword performs full-text search over fragment content and
// extraction payloads using PostgreSQL tsvector/tsquery with GIN indexes.
func (s *Store) SearchKeyword(ctx context.Context, query string, scope stratum.Scope, f stratum.SearchFilter, topK int) ([]stratum.SearchResult, error) {
	var results []stratum.SearchResult

	if f.ContentType == "" || f.ContentType == stratum.ContentFragment {
		part, err := s.keywordFragments(ctx, query, scope, f, topK)
		if err != nil {
			return nil, err
		}
		results = append(results, part...)
	}
	if f.ContentType == "" || f.ContentType == stratum.ContentExtraction {
		part, err := s.keywordExtractions(ctx, query, scope, f, topK)
		if err != nil {
			return nil, err
		}
		results = append(results, part...)
	}

	sortByScore(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *Store) keywordFragments(ctx context.Context, query string, scope stratum.Scope, f stratum.SearchFilter, topK int) ([]stratum.SearchResult, error) {
	args := []any{query}
	where := ` WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)`
	if !scope.CrossTenant || scope.ProjectID != "" {
		args = append(args, scope.ProjectID)
		where += ` AND project_id = $` + strconv.Itoa(len(args))
	}
	if f.SourceID != "" {
		args = append(args, f.SourceID)
		where += ` AND source_id = $` + strconv.Itoa(len(args))
	}
	args = append(args, topK)

	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, project_id, content,
		        ts_rank(to_tsvector('english', content), plainto_tsquery('english', $1)) AS score
		 FROM fragments`+where+`
		 ORDER BY score DESC
		 LIMIT $`+strconv.Itoa(len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: keyword search fragments: %w", err)
	}
	defer rows.Close()

	var results []stratum.SearchResult
	for rows.Next() {
		r := stratum.SearchResult{ContentType: stratum.ContentFragment}
		if err := rows.Scan(&r.RefID, &r.SourceID, &r.ProjectID, &r.Content, &r.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan fragment hit: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) keywordExtractions(ctx context.Context, query string, scope stratum.Scope, f stratum.SearchFilter, topK int) ([]stratum.SearchResult, error) {
	args := []any{query}
	where := ` WHERE to_tsvector('english', payload::text) @@ plainto_tsquery('english', $1)`
	if !scope.CrossTenant || scope.ProjectID != "" {
		args = append(args, scope.ProjectID)
		where += ` AND project_id = $` + strconv.Itoa(len(args))
	}
	if f.KnowledgeType != "" {
		args = append(args, f.KnowledgeType)
		where += ` AND knowledge_type = $` + strconv.Itoa(len(args))
	}
	args = append(args, topK)

	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, project_id, knowledge_type, payload::text, topics,
		        ts_rank(to_tsvector('english', payload::text), plainto_tsquery('english', $1)) AS score
		 FROM extractions`+where+`
		 ORDER BY score DESC
		 LIMIT $`+strconv.Itoa(len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: keyword search extractions: %w", err)
	}
	defer rows.Close()

	var results []stratum.SearchResult
	for rows.Next() {
		r := stratum.SearchResult{ContentType: stratum.ContentExtraction}
		var topicsJSON []byte
		if err := rows.Scan(&r.RefID, &r.SourceID, &r.ProjectID, &r.KnowledgeType, &r.Content, &topicsJSON, &r.Score); err != nil {
			return nil, fmt.Errorf("postgres: scan extraction hit: %w", err)
		}
		if err := unmarshalStrings(topicsJSON, &r.Topics); err != nil {
			return nil, fmt.Errorf("postgres: decode topics: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Helpers ---

// extractionWhere builds the WHERE clause for extraction lookups, starting
// argument numbering at firstArg.
func extractionWhere(scope stratum.Scope, f stratum.SearchFilter, firstArg int) (string, []any) {
	var conds []string
	var args []any
	next := func() int { return firstArg + len(args) - 1 }

	if !scope.CrossTenant || scope.ProjectID != "" {
		args = append(args, scope.ProjectID)
		conds = append(conds, "project_id = $"+strconv.Itoa(next()))
	}
	if f.KnowledgeType != "" {
		args = append(args, f.KnowledgeType)
		conds = append(conds, "knowledge_type = $"+strconv.Itoa(next()))
	}
	if f.SourceID != "" {
		args = append(args, f.SourceID)
		conds = append(conds, "source_id = $"+strconv.Itoa(next()))
	}
	if len(f.Topics) > 0 {
		topicsJSON, err := marshalStrings(f.Topics)
		if err == nil {
			args = append(args, topicsJSON)
			conds = append(conds, "topics ?| ARRAY(SELECT jsonb_array_elements_text($"+strconv.Itoa(next())+"::jsonb))")
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanExtractions(rows pgx.Rows) ([]stratum.ExtractionRecord, error) {
	var records []stratum.ExtractionRecord
	for rows.Next() {
		var r stratum.ExtractionRecord
		var level string
		var fragIDs, payload, topics []byte
		if err := rows.Scan(&r.ID, &r.KnowledgeType, &r.SourceID, &r.ProjectID, &level,
			&r.ContextNodeID, &fragIDs, &payload, &topics, &r.Confidence,
			&r.SchemaVersion, &r.ExtractedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan extraction: %w", err)
		}
		r.ContextLevel = stratum.Level(level)
		r.Payload = payload
		if err := unmarshalStrings(fragIDs, &r.FragmentIDs); err != nil {
			return nil, fmt.Errorf("postgres: decode fragment ids: %w", err)
		}
		if err := unmarshalStrings(topics, &r.Topics); err != nil {
			return nil, fmt.Errorf("postgres: decode topics: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// sourceLockKey derives a 64-bit advisory lock key from the tenant-qualified
// source identity.
func sourceLockKey(projectID, sourceID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(projectID))
	h.Write([]byte{0})
	h.Write([]byte(sourceID))
	return int64(h.Sum64())
}

func sortByScore(results []stratum.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

// marshalStrings encodes a string slice as JSON, mapping nil to "[]" so the
// JSONB columns never hold SQL NULL semantics for an empty list.
func marshalStrings(s []string) (string, error) {
	if s == nil {
		return "[]", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// unmarshalStrings decodes a JSONB string array, tolerating NULL columns.
func unmarshalStrings(data []byte, out *[]string) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// serializeEmbedding converts []float32 to a string like "[0.1,0.2,0.3]"
// suitable for pgvector's text input format.
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

