// Package kotoba is the public API for embedding the Kotoba assistant server.
//
// Consumers import this package to construct and run the server without
// forking it:
//
//	app, err := kotoba.New(
//	    kotoba.WithVersion(version),
//	    kotoba.WithLogger(logger),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kotoba (root) imports
// internal/*, but internal/* never imports kotoba (root). The adapters that
// bridge public extension interfaces to internal ones live here because this
// is the only file that sees both sides of the boundary.
package kotoba

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kotoba/internal/auth"
	"github.com/ashita-ai/kotoba/internal/completion"
	"github.com/ashita-ai/kotoba/internal/config"
	"github.com/ashita-ai/kotoba/internal/model"
	"github.com/ashita-ai/kotoba/internal/prompt"
	"github.com/ashita-ai/kotoba/internal/ratelimit"
	"github.com/ashita-ai/kotoba/internal/search"
	"github.com/ashita-ai/kotoba/internal/server"
	"github.com/ashita-ai/kotoba/internal/service/embedding"
	"github.com/ashita-ai/kotoba/internal/storage"
	"github.com/ashita-ai/kotoba/internal/telemetry"
	"github.com/ashita-ai/kotoba/internal/tokenizer"
	"github.com/ashita-ai/kotoba/migrations"
)

// App is the Kotoba server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	index        *search.QdrantIndex // nil when Qdrant is not configured
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Kotoba server: connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App. It does
// not start goroutines or accept connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// .env is a development convenience; production won't have one.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kotoba starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
		}
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Embedding provider: external override takes priority over config.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = &providerAdapter{p: o.embeddingProvider}
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Qdrant retrieval index (optional).
	var qdrantIndex *search.QdrantIndex
	var retriever completion.Retriever
	if cfg.QdrantURL != "" {
		qdrantIndex, err = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		if err := qdrantIndex.EnsureCollection(context.Background()); err != nil {
			_ = qdrantIndex.Close()
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		retriever = search.NewRetriever(embedder, qdrantIndex, logger)
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL), knowledge retrieval off")
	}

	// Wire adapters and the optional image generation side channel.
	openaiAdapter := completion.NewOpenAIAdapter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, logger)
	anthropicAdapter := completion.NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, logger)

	var images completion.ImageGenerator
	if cfg.OpenAIAPIKey != "" {
		images = completion.NewOpenAIImageGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, "", logger)
	}

	builder := prompt.NewBuilder(tokenizer.NewCounter(), logger)
	completions := completion.NewService(openaiAdapter, anthropicAdapter, builder, retriever, db, images, logger)

	limiter := ratelimit.Limiter(ratelimit.NoopLimiter{})
	if cfg.RateLimitPerMinute > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitPerMinute)
		logger.Info("rate limiting: memory token bucket", "per_minute", cfg.RateLimitPerMinute)
	}

	var indexHealth server.IndexHealth
	if qdrantIndex != nil {
		indexHealth = qdrantIndex
	}

	srv := server.New(server.Config{
		DB:                  db,
		JWTMgr:              jwtMgr,
		Completions:         completions,
		Index:               indexHealth,
		Limiter:             limiter,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		ProtocolVersion:     model.ProtocolVersion(cfg.ProtocolVersion),
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		index:        qdrantIndex,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or a fatal
// server error occurs. On return, Shutdown has already been called.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then releases the limiter, the
// vector index connection, the OTEL providers and the database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kotoba shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	_ = a.limiter.Close()
	if a.index != nil {
		_ = a.index.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("kotoba stopped")
	return nil
}

// newEmbeddingProvider selects the embedding backend from config.
// "auto" prefers OpenAI when a key is present, falls back to Ollama, and
// finally to the noop provider (retrieval returns nothing).
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	switch cfg.EmbeddingProvider {
	case "openai":
		logger.Info("embeddings: openai", "model", cfg.EmbeddingModel)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.OpenAIBaseURL, cfg.EmbeddingDimensions)
	case "ollama":
		logger.Info("embeddings: ollama", "model", cfg.OllamaModel, "url", cfg.OllamaURL)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.EmbeddingDimensions)
	case "noop":
		logger.Warn("embeddings: noop (retrieval will return nothing)")
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	default: // auto
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embeddings: auto-detected openai", "model", cfg.EmbeddingModel)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.OpenAIBaseURL, cfg.EmbeddingDimensions)
		}
		if cfg.OllamaURL != "" {
			logger.Info("embeddings: auto-detected ollama", "model", cfg.OllamaModel, "url", cfg.OllamaURL)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, cfg.EmbeddingDimensions)
		}
		logger.Warn("embeddings: no provider configured, using noop")
		return embedding.NewNoopProvider(cfg.EmbeddingDimensions)
	}
}

// providerAdapter wraps a public EmbeddingProvider for internal use, keeping
// the pgvector dependency off external consumers.
type providerAdapter struct {
	p EmbeddingProvider
}

func (a *providerAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(v), nil
}

func (a *providerAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vs, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]pgvector.Vector, len(vs))
	for i, v := range vs {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

func (a *providerAdapter) Dimensions() int { return a.p.Dimensions() }
