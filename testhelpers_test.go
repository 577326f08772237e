package stratum

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// --- stub completer ---

// stubCompleter returns pre-configured results in call order. Safe for
// concurrent use; calls counts total invocations.
type stubCompleter struct {
	mu      sync.Mutex
	calls   int
	results []stubResult
	// byContent, when set, overrides results: the response is looked up by
	// a substring of the content argument.
	byContent map[string]string
}

type stubResult struct {
	out string
	err error
}

func (s *stubCompleter) Name() string { return "stub" }

func (s *stubCompleter) Complete(_ context.Context, _, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.byContent != nil {
		for sub, out := range s.byContent {
			if strings.Contains(content, sub) {
				return out, nil
			}
		}
		return "[]", nil
	}
	i := s.calls - 1
	if i < len(s.results) {
		return s.results[i].out, s.results[i].err
	}
	return "[]", nil
}

var _ Completer = (*stubCompleter)(nil)

// --- stub embedding provider ---

// stubEmbedding produces deterministic 3-dim vectors derived from text
// length, so identical input always embeds identically.
type stubEmbedding struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubEmbedding) Name() string    { return "stub-embed" }
func (s *stubEmbedding) Dimensions() int { return 3 }

func (s *stubEmbedding) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.calls++
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := float32(len(t)%7) + 1
		out[i] = []float32{v, v / 2, 1}
	}
	return out, nil
}

var _ EmbeddingProvider = (*stubEmbedding)(nil)

// --- stub summarizer ---

type stubSummarizer struct {
	out string
	err error
}

func (s *stubSummarizer) Summarize(_ context.Context, _ string, _ int) (string, error) {
	return s.out, s.err
}

// --- in-memory store ---

// memStore is an in-memory Store used across orchestrator and retrieval
// tests. Vector search is brute-force cosine, mirroring store/sqlite.
type memStore struct {
	mu          sync.Mutex
	fragments   map[string][]Fragment // project\x00source -> ordered fragments
	extractions []ExtractionRecord

	replaceCalls int
	failReplace  error
}

func newMemStore() *memStore {
	return &memStore{fragments: make(map[string][]Fragment)}
}

func srcKey(projectID, sourceID string) string { return projectID + "\x00" + sourceID }

func (m *memStore) Init(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }

func (m *memStore) PutFragments(_ context.Context, fragments []Fragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range fragments {
		key := srcKey(f.ProjectID, f.SourceID)
		replaced := false
		for i, old := range m.fragments[key] {
			if old.ID == f.ID {
				m.fragments[key][i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			m.fragments[key] = append(m.fragments[key], f)
		}
	}
	return nil
}

func (m *memStore) FragmentsBySource(_ context.Context, projectID, sourceID string) ([]Fragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.fragments[srcKey(projectID, sourceID)]
	out := make([]Fragment, len(src))
	copy(out, src)
	return out, nil
}

func (m *memStore) DeleteSource(_ context.Context, projectID, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fragments, srcKey(projectID, sourceID))
	m.deleteExtractionsLocked(projectID, sourceID)
	return nil
}

func (m *memStore) ReplaceExtractions(_ context.Context, projectID, sourceID string, records []ExtractionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaceCalls++
	if m.failReplace != nil {
		return m.failReplace
	}
	m.deleteExtractionsLocked(projectID, sourceID)
	m.extractions = append(m.extractions, records...)
	return nil
}

func (m *memStore) deleteExtractionsLocked(projectID, sourceID string) {
	kept := m.extractions[:0]
	for _, r := range m.extractions {
		if r.ProjectID == projectID && r.SourceID == sourceID {
			continue
		}
		kept = append(kept, r)
	}
	m.extractions = kept
}

func (m *memStore) Extractions(_ context.Context, scope Scope, f SearchFilter, limit int) ([]ExtractionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ExtractionRecord
	for _, r := range m.extractions {
		if !matchScope(scope, r.ProjectID) || !matchExtraction(f, r) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExtractedAt > out[j].ExtractedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) SearchVectors(_ context.Context, embedding []float32, scope Scope, f SearchFilter, topK int) ([]SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SearchResult
	includeFragments := f.ContentType == "" || f.ContentType == ContentFragment
	if f.KnowledgeType != "" || len(f.Topics) > 0 {
		includeFragments = false
	}
	if includeFragments {
		for _, frags := range m.fragments {
			for _, fr := range frags {
				if len(fr.Embedding) == 0 || !matchScope(scope, fr.ProjectID) {
					continue
				}
				if f.SourceID != "" && fr.SourceID != f.SourceID {
					continue
				}
				out = append(out, SearchResult{
					Content:     fr.Text,
					Score:       cosine(embedding, fr.Embedding),
					ContentType: ContentFragment,
					RefID:       fr.ID,
					SourceID:    fr.SourceID,
					ProjectID:   fr.ProjectID,
				})
			}
		}
	}
	if f.ContentType == "" || f.ContentType == ContentExtraction {
		for _, r := range m.extractions {
			if len(r.Embedding) == 0 || !matchScope(scope, r.ProjectID) || !matchExtraction(f, r) {
				continue
			}
			out = append(out, SearchResult{
				Content:       string(r.Payload),
				Score:         cosine(embedding, r.Embedding),
				ContentType:   ContentExtraction,
				RefID:         r.ID,
				SourceID:      r.SourceID,
				ProjectID:     r.ProjectID,
				KnowledgeType: r.KnowledgeType,
				Topics:        r.Topics,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func matchScope(scope Scope, projectID string) bool {
	if scope.CrossTenant && scope.ProjectID == "" {
		return true
	}
	return scope.ProjectID == projectID
}

func matchExtraction(f SearchFilter, r ExtractionRecord) bool {
	if f.KnowledgeType != "" && r.KnowledgeType != f.KnowledgeType {
		return false
	}
	if f.SourceID != "" && r.SourceID != f.SourceID {
		return false
	}
	if len(f.Topics) > 0 {
		found := false
		for _, want := range f.Topics {
			for _, got := range r.Topics {
				if want == got {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ Store = (*memStore)(nil)

// --- fragment fixtures ---

// makeFragment builds a fragment with a derived id and estimated tokens.
func makeFragment(projectID, sourceID, chapter, section string, index int, text string) Fragment {
	pos := Position{Chapter: chapter, Section: section, Index: index}
	return Fragment{
		ID:         FragmentID(sourceID, pos, text),
		SourceID:   sourceID,
		ProjectID:  projectID,
		Text:       text,
		TokenCount: EstimateTokens(text),
		Position:   pos,
	}
}

// threeFragmentDoc is the canonical two-section document used by hierarchy
// and orchestrator tests: C1/S1 x2, C1/S2 x1.
func threeFragmentDoc(projectID, sourceID string) []Fragment {
	return []Fragment{
		makeFragment(projectID, sourceID, "C1", "S1", 0, "first fragment text"),
		makeFragment(projectID, sourceID, "C1", "S1", 1, "second fragment text"),
		makeFragment(projectID, sourceID, "C1", "S2", 2, "third fragment text"),
	}
}

// payloadResponse is a minimal valid extractor response with one item.
func payloadResponse(field string) string {
	return fmt.Sprintf(`[{"payload": {"v": %q}, "topics": ["t1"], "confidence": 0.8}]`, field)
}
