// Package stratum is a hierarchical knowledge-extraction and multi-tenant
// retrieval pipeline for long-form documents.
//
// It ingests ordered text fragments with position metadata, rebuilds their
// chapter/section structure, routes each registered knowledge type to the
// document level it is best reasoned about (chapter, section, or single
// fragment), assembles context within token budgets, and persists both raw
// fragments and derived records so they can be retrieved by semantic
// similarity and by exact attribute filters, scoped to a tenant project.
//
// # Quick Start
//
//	completer := stratum.WithRateLimit(
//		stratum.WithRetry(gemini.New(apiKey, model)),
//		stratum.RPM(60),
//	)
//	embedding := stratum.WithEmbeddingRetry(gemini.NewEmbedding(apiKey, embedModel, dims))
//
//	pool, _ := pgxpool.New(ctx, dsn)
//	store := postgres.New(pool, postgres.WithEmbeddingDimension(dims))
//
//	registry := stratum.NewRegistry()
//	stratum.RegisterDefaults(registry, completer)
//
//	orch := stratum.NewOrchestrator(store, registry, embedding,
//		stratum.WithWorkers(8),
//		stratum.WithAssembler(stratum.NewAssembler(
//			stratum.WithSummarizer(stratum.NewLLMSummarizer(completer)))),
//		stratum.WithOverflowPolicy(stratum.OverflowSummarize),
//	)
//	outcome, err := orch.ExtractDocument(ctx, projectID, sourceID)
//
//	svc := stratum.NewService(store, embedding)
//	resp, err := svc.Search(ctx, "error handling patterns",
//		stratum.Scope{ProjectID: projectID}, stratum.SearchFilter{}, 10)
//
// # Core Interfaces
//
// The root package defines the contracts all components implement:
//
//   - [Completer]: external extraction service (LLM completion)
//   - [EmbeddingProvider]: text-to-vector embedding
//   - [Summarizer]: budget-bounded text compression
//   - [Extractor]: one knowledge type's context-to-payloads step
//   - [Store]: fragments, extraction records, and the shared vector index
//
// Storage backends live in store/postgres (pgvector) and store/sqlite
// (embedded, brute-force search). Source adapters that turn documents into
// fragments live under source/. The query API is exposed over MCP in mcp/.
package stratum
