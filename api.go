package stratum

import "fmt"

// ErrorCode is the fixed taxonomy exposed by the query API. Internal
// storage and extraction failures are always mapped onto it before leaving
// the service.
type ErrorCode string

const (
	CodeValidation  ErrorCode = "VALIDATION_ERROR"
	CodeNotFound    ErrorCode = "NOT_FOUND"
	CodeRateLimited ErrorCode = "RATE_LIMITED"
	CodeInternal    ErrorCode = "INTERNAL_ERROR"
)

// APIError is a query-API failure in envelope form.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// QueryMetadata always accompanies query results so every answer keeps its
// attribution back to origin documents.
type QueryMetadata struct {
	Query        string   `json:"query"`
	SourcesCited []string `json:"sources_cited"`
	ResultCount  int      `json:"result_count"`
	SearchType   string   `json:"search_type"` // "semantic" or "attribute"
}

// SearchResponse is the envelope for semantic search results.
type SearchResponse struct {
	Results  []SearchResult `json:"results"`
	Metadata QueryMetadata  `json:"metadata"`
}

// RecordsResponse is the envelope for attribute-filtered record lookups.
type RecordsResponse struct {
	Results  []ExtractionRecord `json:"results"`
	Metadata QueryMetadata      `json:"metadata"`
}
