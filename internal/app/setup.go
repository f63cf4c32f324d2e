package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	ollamaplugin "github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stoa-labs/stoa/db"
	"github.com/stoa-labs/stoa/internal/config"
	"github.com/stoa-labs/stoa/internal/knowledge"
	"github.com/stoa-labs/stoa/internal/log"
	"github.com/stoa-labs/stoa/internal/observability"
	"github.com/stoa-labs/stoa/internal/provider"
	"github.com/stoa-labs/stoa/internal/provider/googleai"
	"github.com/stoa-labs/stoa/internal/provider/ollama"
	"github.com/stoa-labs/stoa/internal/retrieval"
	"github.com/stoa-labs/stoa/internal/telemetry"
)

// defaultOllamaAddress is used when a provider spec omits server_address.
const defaultOllamaAddress = "http://localhost:11434"

// defaultOllamaEmbedder is registered when a provider spec omits
// embedder_model. 768 dimensions, matching the pgvector schema.
const defaultOllamaEmbedder = "nomic-embed-text"

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	registry, err := provideRegistry(g, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Registry = registry

	a.Knowledge = knowledge.New(pool, logger)

	embedder := retrieval.NewQueryEmbedder(registry, "", logger)
	a.Retrieval = retrieval.NewEngine(a.Knowledge, embedder, logger,
		retrieval.WithCacheTTL(time.Duration(cfg.Retrieval.CacheTTLSeconds)*time.Second),
		retrieval.WithMaxCandidates(cfg.Retrieval.MaxCandidates),
		retrieval.WithFallbackKeywordFilter(cfg.Retrieval.FallbackKeywordFilter),
	)

	return a, nil
}

// provideOtelShutdown sets up trace export before Genkit initialization so
// provider spans land on the configured TracerProvider.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if !cfg.Otel.Enabled() {
		logger.Debug("trace export disabled, no otel agent host configured")
		return func() {}
	}

	shutdown, err := observability.Setup(ctx, observability.Config{
		AgentHost:   cfg.Otel.AgentHost,
		Environment: cfg.Otel.Environment,
		ServiceName: cfg.Otel.ServiceName,
	}, logger)
	if err != nil || shutdown == nil {
		return func() {}
	}

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with one plugin per configured provider
// backend: a single googlegenai plugin when any gemini spec exists, and one
// ollama plugin per distinct server address. Ollama models and embedders
// need explicit registration (no auto-discovery).
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var plugins []api.Plugin

	needGoogleAI := false
	ollamaPlugins := make(map[string]*ollamaplugin.Ollama)
	for _, spec := range cfg.Providers {
		switch spec.Kind {
		case config.KindGoogleAI:
			needGoogleAI = true
		case config.KindOllama:
			addr := spec.ServerAddress
			if addr == "" {
				addr = defaultOllamaAddress
			}
			if _, ok := ollamaPlugins[addr]; !ok {
				p := &ollamaplugin.Ollama{ServerAddress: addr}
				ollamaPlugins[addr] = p
				plugins = append(plugins, p)
			}
		}
	}
	if needGoogleAI {
		plugins = append(plugins, &googlegenai.GoogleAI{})
	}

	g := genkit.Init(ctx, genkit.WithPlugins(plugins...))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}

	for _, spec := range cfg.Providers {
		if spec.Kind != config.KindOllama {
			continue
		}
		addr := spec.ServerAddress
		if addr == "" {
			addr = defaultOllamaAddress
		}
		embedderModel := spec.EmbedderModel
		if embedderModel == "" {
			embedderModel = defaultOllamaEmbedder
		}
		p := ollamaPlugins[addr]
		p.DefineModel(g, ollamaplugin.ModelDefinition{
			Name: spec.ChatModel,
			Type: "chat",
		}, nil)
		p.DefineEmbedder(g, addr, embedderModel, nil)
		logger.Info("registered ollama models",
			"server", addr, "chat_model", spec.ChatModel, "embedder_model", embedderModel)
	}

	return g, nil
}

// provideRegistry builds provider adapters from the configured specs and
// registers each as both a chat and an embedding candidate.
func provideRegistry(g *genkit.Genkit, cfg *config.Config, logger log.Logger) (*provider.Registry, error) {
	sink := telemetry.NewSlogSink(logger)

	var evalOpts []provider.EvaluatorOption
	if cfg.Retrieval.HealthTTLSeconds > 0 {
		evalOpts = append(evalOpts,
			provider.WithHealthTTL(time.Duration(cfg.Retrieval.HealthTTLSeconds)*time.Second))
	}
	evaluator := provider.NewEvaluator(sink, logger, evalOpts...)
	registry := provider.NewRegistry(evaluator, sink, logger)

	for _, spec := range cfg.Providers {
		desc := provider.Descriptor{
			ID:       spec.ID,
			Name:     spec.ID,
			Priority: spec.Priority,
			Weight:   spec.Weight,
		}

		switch spec.Kind {
		case config.KindGoogleAI:
			p, err := googleai.New(g, googleai.Config{
				Descriptor:        desc,
				ChatModel:         spec.ChatModel,
				EmbedderModel:     spec.EmbedderModel,
				RequestsPerSecond: spec.RequestsPerSecond,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("creating googleai provider %q: %w", spec.ID, err)
			}
			registry.RegisterChat(p)
			registry.RegisterEmbedding(p)

		case config.KindOllama:
			addr := spec.ServerAddress
			if addr == "" {
				addr = defaultOllamaAddress
			}
			embedderModel := spec.EmbedderModel
			if embedderModel == "" {
				embedderModel = defaultOllamaEmbedder
			}
			p, err := ollama.New(g, ollama.Config{
				Descriptor:        desc,
				ServerAddress:     addr,
				ChatModel:         spec.ChatModel,
				EmbedderModel:     embedderModel,
				RequestsPerSecond: spec.RequestsPerSecond,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("creating ollama provider %q: %w", spec.ID, err)
			}
			registry.RegisterChat(p)
			registry.RegisterEmbedding(p)

		default:
			return nil, fmt.Errorf("%w: %q", config.ErrInvalidProviderKind, spec.Kind)
		}
	}

	return registry, nil
}
