package stratum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func record(projectID, sourceID, knowledgeType string, topics []string, extractedAt int64) ExtractionRecord {
	return ExtractionRecord{
		ID:            NewID(),
		KnowledgeType: knowledgeType,
		SourceID:      sourceID,
		ProjectID:     projectID,
		ContextLevel:  LevelSection,
		ContextNodeID: SectionNodeID(sourceID, "C1", "S1"),
		FragmentIDs:   []string{"f1"},
		Payload:       json.RawMessage(`{"v": "x"}`),
		Topics:        topics,
		Confidence:    0.9,
		SchemaVersion: SchemaVersion,
		ExtractedAt:   extractedAt,
		Embedding:     []float32{1, 0.5, 1},
	}
}

func retrievalFixture(t *testing.T) *memStore {
	t.Helper()
	st := newMemStore()
	ctx := context.Background()
	if err := st.PutFragments(ctx, []Fragment{
		{ID: "fa", SourceID: "srcA", ProjectID: "tenantA", Text: "alpha text", Embedding: []float32{1, 0.5, 1}},
		{ID: "fb", SourceID: "srcB", ProjectID: "tenantB", Text: "beta text", Embedding: []float32{1, 0.5, 1}},
	}); err != nil {
		t.Fatalf("PutFragments() error = %v", err)
	}
	if err := st.ReplaceExtractions(ctx, "tenantA", "srcA", []ExtractionRecord{
		record("tenantA", "srcA", "decision", []string{"ops"}, 100),
		record("tenantA", "srcA", "warning", []string{"db"}, 200),
	}); err != nil {
		t.Fatalf("ReplaceExtractions(tenantA) error = %v", err)
	}
	if err := st.ReplaceExtractions(ctx, "tenantB", "srcB", []ExtractionRecord{
		record("tenantB", "srcB", "decision", []string{"ops"}, 300),
	}); err != nil {
		t.Fatalf("ReplaceExtractions(tenantB) error = %v", err)
	}
	return st
}

func TestSearchTenantIsolation(t *testing.T) {
	svc := NewService(retrievalFixture(t), &stubEmbedding{})
	resp, err := svc.Search(context.Background(), "alpha", Scope{ProjectID: "tenantA"}, SearchFilter{}, 50)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("got no results for tenantA")
	}
	for _, r := range resp.Results {
		if r.ProjectID != "tenantA" {
			t.Errorf("result %s belongs to project %q, tenant isolation broken", r.RefID, r.ProjectID)
		}
	}
}

func TestSearchEnvelope(t *testing.T) {
	svc := NewService(retrievalFixture(t), &stubEmbedding{})
	resp, err := svc.Search(context.Background(), "alpha", Scope{ProjectID: "tenantA"}, SearchFilter{}, 50)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	md := resp.Metadata
	if md.Query != "alpha" {
		t.Errorf("Metadata.Query = %q, want %q", md.Query, "alpha")
	}
	if md.SearchType != "semantic" {
		t.Errorf("Metadata.SearchType = %q, want %q", md.SearchType, "semantic")
	}
	if md.ResultCount != len(resp.Results) {
		t.Errorf("Metadata.ResultCount = %d, want %d", md.ResultCount, len(resp.Results))
	}
	if len(md.SourcesCited) != 1 || md.SourcesCited[0] != "srcA" {
		t.Errorf("Metadata.SourcesCited = %v, want [srcA]", md.SourcesCited)
	}
}

func TestSearchCrossTenantExplicitAndLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	svc := NewService(retrievalFixture(t), &stubEmbedding{}, WithServiceLogger(logger))

	resp, err := svc.Search(context.Background(), "alpha", Scope{CrossTenant: true}, SearchFilter{}, 50)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	projects := make(map[string]bool)
	for _, r := range resp.Results {
		projects[r.ProjectID] = true
	}
	if !projects["tenantA"] || !projects["tenantB"] {
		t.Errorf("cross-tenant search saw projects %v, want both tenants", projects)
	}
	if !strings.Contains(buf.String(), "cross-tenant read") {
		t.Error("cross-tenant search was not logged at WARN")
	}
}

func TestSearchValidation(t *testing.T) {
	svc := NewService(retrievalFixture(t), &stubEmbedding{})
	ctx := context.Background()

	_, err := svc.Search(ctx, "", Scope{ProjectID: "tenantA"}, SearchFilter{}, 10)
	assertAPIError(t, err, CodeValidation)

	_, err = svc.Search(ctx, "alpha", Scope{}, SearchFilter{}, 10)
	assertAPIError(t, err, CodeValidation)
}

func TestSearchMapsTransientToRateLimited(t *testing.T) {
	emb := &stubEmbedding{err: &ErrHTTP{Status: 429, Body: "slow down"}}
	svc := NewService(retrievalFixture(t), emb)
	_, err := svc.Search(context.Background(), "alpha", Scope{ProjectID: "tenantA"}, SearchFilter{}, 10)
	assertAPIError(t, err, CodeRateLimited)
}

func TestSearchMapsOtherFailuresToInternal(t *testing.T) {
	emb := &stubEmbedding{err: errors.New("connection refused")}
	svc := NewService(retrievalFixture(t), emb)
	_, err := svc.Search(context.Background(), "alpha", Scope{ProjectID: "tenantA"}, SearchFilter{}, 10)
	assertAPIError(t, err, CodeInternal)
}

func TestGetByType(t *testing.T) {
	svc := NewService(retrievalFixture(t), &stubEmbedding{})
	resp, err := svc.GetByType(context.Background(), "decision", Scope{ProjectID: "tenantA"}, nil, 50)
	if err != nil {
		t.Fatalf("GetByType() error = %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("got %d records, want 1", len(resp.Results))
	}
	if resp.Results[0].KnowledgeType != "decision" {
		t.Errorf("KnowledgeType = %q, want %q", resp.Results[0].KnowledgeType, "decision")
	}
	if resp.Metadata.SearchType != "attribute" {
		t.Errorf("SearchType = %q, want %q", resp.Metadata.SearchType, "attribute")
	}
	if resp.Metadata.Query != "decision" {
		t.Errorf("Metadata.Query = %q, want the knowledge type", resp.Metadata.Query)
	}
}

func TestGetByTypeTopicFilter(t *testing.T) {
	svc := NewService(retrievalFixture(t), &stubEmbedding{})
	resp, err := svc.GetByType(context.Background(), "warning", Scope{ProjectID: "tenantA"}, []string{"db"}, 50)
	if err != nil {
		t.Fatalf("GetByType() error = %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("got %d records, want 1", len(resp.Results))
	}
	resp, err = svc.GetByType(context.Background(), "warning", Scope{ProjectID: "tenantA"}, []string{"network"}, 50)
	if err != nil {
		t.Fatalf("GetByType() error = %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("got %d records for unmatched topic, want 0", len(resp.Results))
	}
}

func TestGetByTypeValidation(t *testing.T) {
	svc := NewService(retrievalFixture(t), &stubEmbedding{})
	_, err := svc.GetByType(context.Background(), "", Scope{ProjectID: "tenantA"}, nil, 10)
	assertAPIError(t, err, CodeValidation)
}

func TestGetByTypeRecencyOrder(t *testing.T) {
	svc := NewService(retrievalFixture(t), &stubEmbedding{})
	resp, err := svc.GetByType(context.Background(), "decision", Scope{CrossTenant: true}, nil, 50)
	if err != nil {
		t.Fatalf("GetByType() error = %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("got %d records, want 2", len(resp.Results))
	}
	if resp.Results[0].ExtractedAt < resp.Results[1].ExtractedAt {
		t.Error("records not ordered most recent first")
	}
}

func assertAPIError(t *testing.T, err error, want ErrorCode) {
	t.Helper()
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Code != want {
		t.Errorf("Code = %q, want %q", apiErr.Code, want)
	}
}
