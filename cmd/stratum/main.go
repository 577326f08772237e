// Binary stratum runs the knowledge extraction pipeline and its retrieval
// surface.
//
// Usage:
//
//	stratum extract -project acme -source handbook -file ./handbook.md
//	stratum serve
//
// extract ingests a document into fragments and runs every registered
// knowledge type over it. serve exposes the tenant-scoped retrieval tools as
// an MCP server over stdio.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corpusworks/stratum"
	"github.com/corpusworks/stratum/internal/config"
	"github.com/corpusworks/stratum/mcp"
	"github.com/corpusworks/stratum/observer"
	"github.com/corpusworks/stratum/provider/resolve"
	"github.com/corpusworks/stratum/source"
	"github.com/corpusworks/stratum/store/postgres"
	"github.com/corpusworks/stratum/store/sqlite"
)

const version = "0.1.0"

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "extract":
		err = runExtract(ctx, os.Args[2:])
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatalf("stratum: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: stratum <command> [flags]

commands:
  extract   ingest a document and run knowledge extraction over it
  serve     serve the retrieval tools over MCP stdio
  version   print the version`)
}

// runExtract ingests one document and extracts all registered knowledge
// types from it.
func runExtract(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	cfgPath := fs.String("config", os.Getenv("STRATUM_CONFIG"), "path to stratum.toml")
	project := fs.String("project", "", "tenant project id")
	sourceID := fs.String("source", "", "source document id")
	file := fs.String("file", "", "path to the document")
	format := fs.String("format", "", "document format: markdown, pdf, html, or docx (default: by extension)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project == "" || *sourceID == "" || *file == "" {
		return fmt.Errorf("extract: -project, -source, and -file are required")
	}

	cfg := config.Load(*cfgPath)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	inst, shutdown, err := initObserver(ctx, cfg)
	if err != nil {
		return err
	}
	if shutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("observer shutdown", "error", err)
			}
		}()
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	completer, embedding, summarizer, err := buildProviders(cfg, inst)
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	reg := stratum.NewRegistry()
	if err := stratum.RegisterDefaults(reg, completer); err != nil {
		return fmt.Errorf("register knowledge types: %w", err)
	}
	if inst != nil {
		reg, err = instrumentRegistry(reg, inst)
		if err != nil {
			return err
		}
	}

	content, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}

	adapter, err := adapterFor(*format, *file)
	if err != nil {
		return err
	}
	fragments, err := adapter.Fragments(content, *project, *sourceID)
	if err != nil {
		return fmt.Errorf("fragment %s: %w", *file, err)
	}
	if err := stratum.EmbedFragments(ctx, embedding, fragments, stratum.DefaultEmbedBatchSize); err != nil {
		return fmt.Errorf("embed fragments: %w", err)
	}
	if err := store.PutFragments(ctx, fragments); err != nil {
		return fmt.Errorf("store fragments: %w", err)
	}
	logger.Info("document ingested",
		"source_id", *sourceID,
		"project_id", *project,
		"format", adapter.Name(),
		"fragments", len(fragments))

	assembler := stratum.NewAssembler(
		stratum.WithSummarizer(summarizer),
		stratum.WithAssemblerLogger(logger),
	)
	orch := stratum.NewOrchestrator(store, reg, embedding,
		stratum.WithWorkers(cfg.Extraction.Workers),
		stratum.WithAssembler(assembler),
		stratum.WithOverflowPolicy(stratum.OverflowSummarize),
		stratum.WithOrchestratorLogger(logger),
	)

	run := func(ctx context.Context) (stratum.Outcome, error) {
		return orch.ExtractDocument(ctx, *project, *sourceID)
	}
	var outcome stratum.Outcome
	if inst != nil {
		outcome, err = inst.RunSource(ctx, *project, *sourceID, run)
	} else {
		outcome, err = run(ctx)
	}
	if err != nil {
		return err
	}

	for _, f := range outcome.Failures {
		logger.Warn("extraction gap",
			"knowledge_type", f.KnowledgeType,
			"level", f.ContextLevel,
			"node_id", f.ContextNodeID,
			"error", f.Err)
	}
	fmt.Printf("extracted %d records from %s (%d failures)\n",
		len(outcome.Records), *sourceID, len(outcome.Failures))
	return nil
}

// runServe runs the MCP retrieval server over stdio.
func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", os.Getenv("STRATUM_CONFIG"), "path to stratum.toml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Load(*cfgPath)
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	bare, err := buildEmbedding(cfg)
	if err != nil {
		return fmt.Errorf("build embedding provider: %w", err)
	}
	embedding := stratum.WithEmbeddingRetry(bare)

	svc := stratum.NewService(store, embedding, stratum.WithServiceLogger(logger))

	srv := mcp.New("stratum", version)
	mcp.RegisterTools(srv, svc)
	return srv.Serve(ctx)
}

// buildStore creates the configured storage backend.
func buildStore(ctx context.Context, cfg config.Config) (stratum.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		if cfg.Database.PostgresURL == "" {
			return nil, fmt.Errorf("postgres driver requires database.postgres_url")
		}
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return postgres.New(pool, postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions)), nil
	case "sqlite", "":
		return sqlite.New(cfg.Database.Path, sqlite.WithEmbeddingDimension(cfg.Embedding.Dimensions)), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// buildProviders creates the completion, embedding, and summarization
// providers with retry, rate limiting, and optional instrumentation layered
// on.
func buildProviders(cfg config.Config, inst *observer.Instruments) (stratum.Completer, stratum.EmbeddingProvider, stratum.Summarizer, error) {
	completer, err := resolve.Completer(resolve.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	embedding, err := buildEmbedding(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	summaryClient, err := resolve.Completer(resolve.Config{
		Provider: cfg.Summary.Provider,
		APIKey:   cfg.Summary.APIKey,
		Model:    cfg.Summary.Model,
		BaseURL:  cfg.Summary.BaseURL,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	if inst != nil {
		completer = observer.WrapCompleter(completer, cfg.LLM.Model, inst)
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
	}

	var limits []stratum.RateLimitOption
	if cfg.Extraction.RequestsPerMinute > 0 {
		limits = append(limits, stratum.RPM(cfg.Extraction.RequestsPerMinute))
	}
	if cfg.Extraction.TokensPerMinute > 0 {
		limits = append(limits, stratum.TPM(cfg.Extraction.TokensPerMinute))
	}
	if len(limits) > 0 {
		completer = stratum.WithRateLimit(completer, limits...)
	}

	retryOpts := []stratum.RetryOption{stratum.RetryMaxAttempts(cfg.Extraction.MaxAttempts)}
	completer = stratum.WithRetry(completer, retryOpts...)
	embedding = stratum.WithEmbeddingRetry(embedding, retryOpts...)

	return completer, embedding, stratum.NewLLMSummarizer(summaryClient), nil
}

// buildEmbedding creates the bare embedding provider from config.
func buildEmbedding(cfg config.Config) (stratum.EmbeddingProvider, error) {
	return resolve.Embedding(resolve.EmbeddingConfig{
		Provider:   cfg.Embedding.Provider,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
	})
}

// instrumentRegistry rebuilds the registry with every extractor wrapped for
// tracing.
func instrumentRegistry(reg *stratum.Registry, inst *observer.Instruments) (*stratum.Registry, error) {
	wrapped := stratum.NewRegistry()
	for _, kt := range reg.Types() {
		spec, _ := reg.Spec(kt)
		spec.Extractor = observer.WrapExtractor(spec.Extractor, kt, inst)
		if err := wrapped.Register(kt, spec); err != nil {
			return nil, fmt.Errorf("instrument %s: %w", kt, err)
		}
	}
	return wrapped, nil
}

// initObserver sets up OTEL instrumentation when enabled in config.
func initObserver(ctx context.Context, cfg config.Config) (*observer.Instruments, func(context.Context) error, error) {
	if !cfg.Observer.Enabled {
		return nil, nil, nil
	}
	pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
	for model, p := range cfg.Observer.Pricing {
		pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
	}
	inst, shutdown, err := observer.Init(ctx, pricing)
	if err != nil {
		return nil, nil, fmt.Errorf("init observability: %w", err)
	}
	return inst, shutdown, nil
}

// adapterFor picks a source adapter from an explicit format or the file
// extension.
func adapterFor(format, file string) (source.Adapter, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(file)) {
		case ".md", ".markdown":
			format = "markdown"
		case ".pdf":
			format = "pdf"
		case ".html", ".htm":
			format = "html"
		case ".docx":
			format = "docx"
		default:
			return nil, fmt.Errorf("cannot infer format from %q, pass -format", file)
		}
	}
	switch format {
	case "markdown":
		return source.NewMarkdown(), nil
	case "pdf":
		return source.NewPDF(), nil
	case "html":
		return source.NewHTML(), nil
	case "docx":
		return source.NewDOCX(), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
