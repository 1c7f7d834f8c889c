// Command askdb is the main entry point for the askdb natural-language query
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/askdb/internal/api"
	"github.com/MrWong99/askdb/internal/config"
	"github.com/MrWong99/askdb/internal/examples"
	"github.com/MrWong99/askdb/internal/observe"
	"github.com/MrWong99/askdb/internal/pipeline"
	"github.com/MrWong99/askdb/internal/prompt"
	"github.com/MrWong99/askdb/internal/resilience"
	"github.com/MrWong99/askdb/internal/schema"
	"github.com/MrWong99/askdb/internal/sqlexec"
	"github.com/MrWong99/askdb/pkg/gateway"
	"github.com/MrWong99/askdb/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/askdb/pkg/provider/embeddings/openai"
	"github.com/MrWong99/askdb/pkg/provider/llm"
	"github.com/MrWong99/askdb/pkg/provider/llm/anyllm"
	"github.com/MrWong99/askdb/pkg/querystore"
	"github.com/MrWong99/askdb/pkg/querystore/postgres"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "askdb: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "askdb: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	// API keys may live in a local .env file instead of the environment.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded environment from .env")
	}

	slog.Info("askdb starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"schema", cfg.Schema.Name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "askdb",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	llmProvider, embedder, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Store ─────────────────────────────────────────────────────────────────
	store, err := postgres.NewStore(ctx, cfg.Database.DSN, cfg.Database.EmbeddingDimensions)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		return 1
	}
	defer store.Close()

	// ── Schema machinery ──────────────────────────────────────────────────────
	introspector := schema.NewIntrospector(store.Pool(), cfg.Schema.InfoTTL.Std())
	selector := schema.NewSelector(embedder, store.Vectors(), schema.SelectorConfig{
		SimilarityThreshold: cfg.Schema.SimilarityThreshold,
		ExactMentionBoost:   cfg.Schema.ExactMentionBoost,
		BusinessTermBoost:   cfg.Schema.BusinessTermBoost,
		MaxTables:           cfg.Schema.MaxTables,
		SelectionTTL:        cfg.Schema.SelectionTTL.Std(),
		SelectionCacheSize:  cfg.Schema.SelectionCacheSize,
	})

	info, err := introspector.Introspect(ctx, cfg.Schema.Name)
	if err != nil {
		slog.Error("failed to introspect schema", "schema", cfg.Schema.Name, "err", err)
		return 1
	}
	tables, err := selector.BuildEmbeddings(ctx, info)
	if err != nil {
		slog.Error("failed to build schema embeddings", "err", err)
		return 1
	}
	slog.Info("schema embeddings ready", "schema", cfg.Schema.Name, "tables", tables)

	// ── Few-shot examples ─────────────────────────────────────────────────────
	retriever := examples.NewRetriever(embedder, store.Vectors(), examples.RetrieverConfig{
		TopK:                cfg.Examples.TopK,
		SimilarityThreshold: cfg.Examples.SimilarityThreshold,
		TypeMatchBoost:      cfg.Examples.TypeMatchBoost,
	})
	if cfg.Examples.SeedOnStartup {
		if err := seedExamples(ctx, embedder, store); err != nil {
			slog.Error("failed to seed example queries", "err", err)
			return 1
		}
	}

	// ── Pipeline ──────────────────────────────────────────────────────────────
	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Exact:    store.Exact(),
		Vectors:  store.Vectors(),
		Mappings: store.Mappings(),
		Recorder: store.Metrics(),
		Embedder: embedder,
		Gateway:  gateway.NewLLMGateway(llmProvider, 0),
		Schemas:  introspector,
		Selector: selector,
		Examples: retriever,
		Prompts:  prompt.NewCache(embedder, store.Vectors()),
		Runner: sqlexec.NewExecutor(store.Pool(), sqlexec.Config{
			MaxResults:   cfg.Execution.MaxResults,
			QueryTimeout: cfg.Execution.QueryTimeout.Std(),
		}),
		Metrics: metrics,
	}, pipeline.Config{
		VectorSimilarityThreshold: cfg.Cache.VectorSimilarityThreshold,
		SchemaName:                cfg.Schema.Name,
	})

	// ── HTTP server ───────────────────────────────────────────────────────────
	handler := api.NewHandler(orchestrator, store.Pool())
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Router(handler, metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if key := entry.APIKey(); key != "" {
				opts = append(opts, anyllmlib.WithAPIKey(key))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey(), entry.Model, opts...)
	})
}

// buildProviders instantiates the completion and embedding providers named in
// cfg. When fallback LLMs are configured the primary is wrapped in a
// circuit-breaking fallback chain.
func buildProviders(cfg *config.Config, reg *config.Registry) (llm.Provider, embeddings.Provider, error) {
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	llmProvider := primary
	if len(cfg.Providers.LLMFallbacks) > 0 {
		chain := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.LLMFallbacks {
			p, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, nil, fmt.Errorf("create fallback llm provider %q: %w", entry.Name, err)
			}
			chain.AddFallback(entry.Name, p)
			slog.Info("provider created", "kind", "llm_fallback", "name", entry.Name, "model", entry.Model)
		}
		llmProvider = chain
	}

	embedder, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name, "model", cfg.Providers.Embeddings.Model)

	return llmProvider, embedder, nil
}

// seedExamples loads the curated example corpus unless it is already present.
func seedExamples(ctx context.Context, embedder embeddings.Provider, store *postgres.Store) error {
	existing, err := store.Vectors().List(ctx, querystore.CollectionQueryExamples)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		slog.Debug("example corpus already seeded", "count", len(existing))
		return nil
	}
	n, err := examples.Seed(ctx, embedder, store.Vectors())
	if err != nil {
		return err
	}
	slog.Info("seeded example queries", "count", n)
	return nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
