package stratum

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Failure records one node/type pair whose extraction did not produce
// records, so operators can see coverage gaps and target re-extraction
// narrowly. Schema failures keep the raw model output inside the wrapped
// *ErrSchema.
type Failure struct {
	KnowledgeType string
	ContextLevel  Level
	ContextNodeID string
	Err           error
}

// Outcome summarizes one extraction run. Failures are per node/type and do
// not prevent the rest of the document from being extracted.
type Outcome struct {
	SourceID string
	Records  []ExtractionRecord
	Failures []Failure
}

// Orchestrator drives knowledge extraction for whole documents: it builds
// the fragment hierarchy, assembles per-level contexts, fans extraction
// calls out over a bounded worker pool, wraps results with provenance, and
// atomically replaces the source's stored records.
type Orchestrator struct {
	store     Store
	registry  *Registry
	embedding EmbeddingProvider
	assembler *Assembler
	policy    OverflowPolicy
	workers   int
	batchSize int
	logger    *slog.Logger

	mu      sync.Mutex
	running map[string]bool // advisory lock, keyed by project+source
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithWorkers bounds the number of in-flight extraction calls (default: 4).
func WithWorkers(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.workers = n }
}

// WithOverflowPolicy sets the context-assembly overflow policy
// (default: truncate).
func WithOverflowPolicy(p OverflowPolicy) OrchestratorOption {
	return func(o *Orchestrator) { o.policy = p }
}

// WithAssembler replaces the default Assembler, e.g. to attach a Summarizer
// for the summarize-if-exceeded policy.
func WithAssembler(a *Assembler) OrchestratorOption {
	return func(o *Orchestrator) { o.assembler = a }
}

// DefaultEmbedBatchSize is how many texts are embedded per provider call
// unless configured otherwise.
const DefaultEmbedBatchSize = 64

// WithEmbedBatchSize sets how many records are embedded per provider call
// (default: DefaultEmbedBatchSize).
func WithEmbedBatchSize(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.batchSize = n }
}

// WithOrchestratorLogger sets a structured logger for run summaries and
// data-quality warnings.
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an Orchestrator. The registry must be fully
// populated before the first ExtractDocument call.
func NewOrchestrator(store Store, registry *Registry, embedding EmbeddingProvider, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		registry:  registry,
		embedding: embedding,
		assembler: NewAssembler(),
		policy:    OverflowTruncate,
		workers:   4,
		batchSize: DefaultEmbedBatchSize,
		logger:    nopLogger,
		running:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// job is one extraction unit: a single knowledge type applied to a single
// context node. Every job is dispatched exactly once, so the same node/type
// pair never runs twice in parallel.
type job struct {
	knowledgeType string
	spec          TypeSpec
	nodeID        string
	fragments     []Fragment
}

type jobResult struct {
	records []ExtractionRecord
	failure *Failure
	err     error // invariant violation; aborts the run
}

// ExtractDocument runs every registered knowledge type over the source at
// its required context level and atomically replaces the source's stored
// extraction records with the new set.
//
// Re-running with unchanged fragments is idempotent in count: prior records
// and their vectors are purged in the same unit that inserts the new ones.
// On cancellation no new extraction calls are dispatched and nothing is
// committed; the previously stored record set remains intact.
func (o *Orchestrator) ExtractDocument(ctx context.Context, projectID, sourceID string) (Outcome, error) {
	if err := o.acquire(projectID, sourceID); err != nil {
		return Outcome{}, err
	}
	defer o.release(projectID, sourceID)

	fragments, err := o.store.FragmentsBySource(ctx, projectID, sourceID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load fragments: %w", err)
	}
	if len(fragments) == 0 {
		return Outcome{}, fmt.Errorf("extract %s: source has no fragments", sourceID)
	}

	tree := BuildTree(fragments, WithTreeLogger(o.logger))
	jobs := o.planJobs(tree, fragments)

	results := o.runJobs(ctx, jobs)
	if err := ctx.Err(); err != nil {
		// Partial work is discarded; the stored record set is untouched.
		return Outcome{}, err
	}

	outcome := Outcome{SourceID: sourceID}
	for _, res := range results {
		if res.err != nil {
			return Outcome{}, res.err
		}
		if res.failure != nil {
			outcome.Failures = append(outcome.Failures, *res.failure)
			continue
		}
		outcome.Records = append(outcome.Records, res.records...)
	}

	if err := o.embedRecords(ctx, outcome.Records); err != nil {
		return Outcome{}, fmt.Errorf("embed records: %w", err)
	}

	if err := o.store.ReplaceExtractions(ctx, projectID, sourceID, outcome.Records); err != nil {
		return Outcome{}, fmt.Errorf("replace extractions: %w", err)
	}

	o.logger.Info("extraction run complete",
		"source_id", sourceID,
		"project_id", projectID,
		"jobs", len(jobs),
		"records", len(outcome.Records),
		"failures", len(outcome.Failures))
	return outcome, nil
}

// planJobs expands the registry against the tree into one job per
// node/type pair, in registry order then document order.
func (o *Orchestrator) planJobs(tree Tree, fragments []Fragment) []job {
	byID := make(map[string]Fragment, len(fragments))
	for _, f := range fragments {
		byID[f.ID] = f
	}
	resolve := func(ids []string) []Fragment {
		out := make([]Fragment, 0, len(ids))
		for _, id := range ids {
			out = append(out, byID[id])
		}
		return out
	}

	var jobs []job
	for _, kt := range o.registry.Types() {
		spec, _ := o.registry.Spec(kt)
		switch spec.Level {
		case LevelChapter:
			for _, ch := range tree.Chapters {
				jobs = append(jobs, job{kt, spec, ch.NodeID, resolve(ch.FragmentIDs())})
			}
		case LevelSection:
			for _, ch := range tree.Chapters {
				for _, sec := range ch.Sections {
					jobs = append(jobs, job{kt, spec, sec.NodeID, resolve(sec.FragmentIDs)})
				}
			}
		case LevelFragment:
			for _, f := range fragments {
				jobs = append(jobs, job{kt, spec, f.ID, []Fragment{f}})
			}
		}
	}
	return jobs
}

// runJobs executes jobs on a bounded worker pool. Results land in a slice
// indexed by job so output order is deterministic. After cancellation,
// remaining jobs are not dispatched.
func (o *Orchestrator) runJobs(ctx context.Context, jobs []job) []jobResult {
	results := make([]jobResult, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	workers := min(o.workers, len(jobs))
	if workers < 1 {
		workers = 1
	}
	work := make(chan int, len(jobs))
	for i := range jobs {
		work <- i
	}
	close(work)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				if ctx.Err() != nil {
					continue // drain without dispatching
				}
				results[i] = o.runJob(ctx, jobs[i])
			}
		}()
	}
	wg.Wait()
	return results
}

// runJob assembles the job's context, invokes its extractor, and wraps
// every payload with provenance.
func (o *Orchestrator) runJob(ctx context.Context, j job) jobResult {
	fail := func(err error) jobResult {
		o.logger.Warn("extraction failed",
			"knowledge_type", j.knowledgeType,
			"level", j.spec.Level,
			"node_id", j.nodeID,
			"error", err)
		return jobResult{failure: &Failure{
			KnowledgeType: j.knowledgeType,
			ContextLevel:  j.spec.Level,
			ContextNodeID: j.nodeID,
			Err:           err,
		}}
	}

	var contextText string
	var usedIDs []string
	if j.spec.Level == LevelFragment {
		contextText = j.fragments[0].Text
		usedIDs = []string{j.fragments[0].ID}
	} else {
		assembled, err := o.assembler.Assemble(ctx, j.fragments, j.spec.MaxTokens, o.policy)
		if err != nil {
			return fail(err)
		}
		if len(assembled.FragmentIDs) == 0 {
			return fail(fmt.Errorf("token budget %d too small for any fragment", j.spec.MaxTokens))
		}
		contextText = assembled.Text
		usedIDs = assembled.FragmentIDs
	}

	payloads, err := j.spec.Extractor.Extract(ctx, contextText)
	if err != nil {
		return fail(err)
	}

	nodeSet := make(map[string]bool, len(j.fragments))
	for _, f := range j.fragments {
		nodeSet[f.ID] = true
	}

	var records []ExtractionRecord
	for _, p := range payloads {
		rec, err := newRecord(j, usedIDs, nodeSet, p)
		if err != nil {
			// Invariant violation: fail the run loudly, persist nothing.
			return jobResult{err: err}
		}
		records = append(records, rec)
	}
	return jobResult{records: records}
}

// newRecord wraps a payload with provenance, enforcing that every
// contributing fragment belongs to the record's context node.
func newRecord(j job, usedIDs []string, nodeSet map[string]bool, p Payload) (ExtractionRecord, error) {
	if len(usedIDs) == 0 {
		return ExtractionRecord{}, fmt.Errorf("%s record for node %s has no contributing fragments", j.knowledgeType, j.nodeID)
	}
	for _, id := range usedIDs {
		if !nodeSet[id] {
			return ExtractionRecord{}, &ErrProvenance{
				RecordType: j.knowledgeType,
				NodeID:     j.nodeID,
				FragmentID: id,
			}
		}
	}

	ids := make([]string, len(usedIDs))
	copy(ids, usedIDs)

	return ExtractionRecord{
		ID:            NewID(),
		KnowledgeType: j.knowledgeType,
		SourceID:      j.fragments[0].SourceID,
		ProjectID:     j.fragments[0].ProjectID,
		ContextLevel:  j.spec.Level,
		ContextNodeID: j.nodeID,
		FragmentIDs:   ids,
		Payload:       p.Data,
		Topics:        p.Topics,
		Confidence:    p.Confidence,
		SchemaVersion: SchemaVersion,
		ExtractedAt:   NowUnix(),
	}, nil
}

// embedRecords embeds record payloads in batches and attaches the vectors.
func (o *Orchestrator) embedRecords(ctx context.Context, records []ExtractionRecord) error {
	for i := 0; i < len(records); i += o.batchSize {
		end := min(i+o.batchSize, len(records))
		batch := records[i:end]

		texts := make([]string, len(batch))
		for j, r := range batch {
			texts[j] = string(r.Payload)
		}

		embeddings, err := o.embedding.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		for j := range batch {
			if j < len(embeddings) {
				records[i+j].Embedding = embeddings[j]
			}
		}
	}
	return nil
}

// EmbedFragments embeds fragment texts in batches and attaches the vectors
// in place. Ingest callers run this before Store.PutFragments so fragments
// enter the shared vector index alongside extraction records. A batchSize
// of zero or less uses DefaultEmbedBatchSize.
func EmbedFragments(ctx context.Context, provider EmbeddingProvider, fragments []Fragment, batchSize int) error {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	for i := 0; i < len(fragments); i += batchSize {
		end := min(i+batchSize, len(fragments))
		batch := fragments[i:end]

		texts := make([]string, len(batch))
		for j, f := range batch {
			texts[j] = f.Text
		}

		embeddings, err := provider.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed fragments %d-%d: %w", i, end, err)
		}
		for j := range batch {
			if j < len(embeddings) {
				fragments[i+j].Embedding = embeddings[j]
			}
		}
	}
	return nil
}

// acquire takes the per-source advisory lock so fragment data stays
// read-only while extraction runs.
func (o *Orchestrator) acquire(projectID, sourceID string) error {
	key := projectID + "\x00" + sourceID
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[key] {
		return fmt.Errorf("extraction already running for source %s", sourceID)
	}
	o.running[key] = true
	return nil
}

func (o *Orchestrator) release(projectID, sourceID string) {
	key := projectID + "\x00" + sourceID
	o.mu.Lock()
	delete(o.running, key)
	o.mu.Unlock()
}
