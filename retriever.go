package stratum

import (
	"context"
	"log/slog"
)

// DefaultSearchLimit caps result counts when the caller does not set one.
const DefaultSearchLimit = 10

// Service is the tenant-scoped retrieval surface over the knowledge store.
// It reads from the store and never writes to it. All failures leaving the
// service are *APIError values from the fixed taxonomy.
type Service struct {
	store     Store
	embedding EmbeddingProvider
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets a structured logger. Cross-tenant reads are logged
// at WARN through it.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a retrieval Service.
func NewService(store Store, embedding EmbeddingProvider, opts ...ServiceOption) *Service {
	s := &Service{store: store, embedding: embedding, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Search embeds the query and performs a nearest-neighbor search constrained
// to the scope's project plus any attribute filters. Cross-tenant search is
// never the default: it requires scope.CrossTenant and is logged.
func (s *Service) Search(ctx context.Context, query string, scope Scope, f SearchFilter, limit int) (SearchResponse, error) {
	if query == "" {
		return SearchResponse{}, &APIError{Code: CodeValidation, Message: "query must not be empty"}
	}
	if !scope.Valid() {
		return SearchResponse{}, &APIError{Code: CodeValidation, Message: "project_id required unless cross-tenant is explicitly requested"}
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	s.logScope("search", scope)

	embs, err := s.embedding.Embed(ctx, []string{query})
	if err != nil {
		return SearchResponse{}, mapInternal("embed query", err)
	}
	if len(embs) == 0 {
		return SearchResponse{}, &APIError{Code: CodeInternal, Message: "embedding provider returned no vector"}
	}

	results, err := s.store.SearchVectors(ctx, embs[0], scope, f, limit)
	if err != nil {
		return SearchResponse{}, mapInternal("vector search", err)
	}

	sources := make([]string, 0, len(results))
	seen := make(map[string]bool)
	for _, r := range results {
		if !seen[r.SourceID] {
			seen[r.SourceID] = true
			sources = append(sources, r.SourceID)
		}
	}

	return SearchResponse{
		Results: results,
		Metadata: QueryMetadata{
			Query:        query,
			SourcesCited: sources,
			ResultCount:  len(results),
			SearchType:   "semantic",
		},
	}, nil
}

// GetByType returns extraction records of one knowledge type by pure
// attribute filtering, without any vector search.
func (s *Service) GetByType(ctx context.Context, knowledgeType string, scope Scope, topics []string, limit int) (RecordsResponse, error) {
	if knowledgeType == "" {
		return RecordsResponse{}, &APIError{Code: CodeValidation, Message: "knowledge_type must not be empty"}
	}
	if !scope.Valid() {
		return RecordsResponse{}, &APIError{Code: CodeValidation, Message: "project_id required unless cross-tenant is explicitly requested"}
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	s.logScope("get_by_type", scope)

	records, err := s.store.Extractions(ctx, scope, SearchFilter{KnowledgeType: knowledgeType, Topics: topics}, limit)
	if err != nil {
		return RecordsResponse{}, mapInternal("list extractions", err)
	}

	sources := make([]string, 0, len(records))
	seen := make(map[string]bool)
	for _, r := range records {
		if !seen[r.SourceID] {
			seen[r.SourceID] = true
			sources = append(sources, r.SourceID)
		}
	}

	return RecordsResponse{
		Results: records,
		Metadata: QueryMetadata{
			Query:        knowledgeType,
			SourcesCited: sources,
			ResultCount:  len(records),
			SearchType:   "attribute",
		},
	}, nil
}

// logScope logs cross-tenant reads. Scoped reads log at DEBUG only.
func (s *Service) logScope(op string, scope Scope) {
	if scope.CrossTenant {
		s.logger.Warn("cross-tenant read", "op", op, "project_id", scope.ProjectID)
		return
	}
	s.logger.Debug("scoped read", "op", op, "project_id", scope.ProjectID)
}

// mapInternal wraps an internal failure into the API taxonomy without
// leaking storage or provider details to callers.
func mapInternal(op string, err error) *APIError {
	if IsTransient(err) {
		return &APIError{Code: CodeRateLimited, Message: op + " is rate limited, retry later"}
	}
	return &APIError{Code: CodeInternal, Message: op + " failed", Details: err.Error()}
}
