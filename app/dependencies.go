package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/medbot/config"
	"github.com/upb/medbot/internal/observability"
	"github.com/upb/medbot/middleware"
	"github.com/upb/medbot/repositories"
	"github.com/upb/medbot/repositories/postgres"
	"github.com/upb/medbot/repositories/qdrant"
	"github.com/upb/medbot/repositories/sqlite"
	"github.com/upb/medbot/services/prompt"
	"github.com/upb/medbot/services/providers"
	"github.com/upb/medbot/services/providers/openai"
	"github.com/upb/medbot/services/rag"
	"go.uber.org/zap"
)

// Version is the build version, set with -ldflags "-X github.com/upb/medbot/app.Version=..."
var Version = "dev"

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Observability
	Metrics    observability.Metrics
	Prometheus *observability.PrometheusMetrics // nil when metrics are disabled

	// Retrieval
	Index     repositories.VectorIndex
	Embedder  providers.Embedder
	Generator providers.Generator
	Pipeline  *rag.Pipeline

	// HTTP boundary; nil when disabled by configuration
	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	deps.initMetrics(cfg)

	if err := deps.initIndex(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	deps.initProviders(cfg)

	if err := deps.initPipeline(cfg); err != nil {
		_ = deps.Index.Close()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	deps.initAuth(cfg)
	deps.initRateLimiter(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NopMetrics{}
		return
	}
	d.Prometheus = observability.NewPrometheusMetrics()
	d.Metrics = d.Prometheus
}

// initIndex opens the prebuilt vector index for the configured backend
func (d *Dependencies) initIndex(ctx context.Context, cfg *config.Config) error {
	var (
		index repositories.VectorIndex
		err   error
	)

	switch cfg.Index.Backend {
	case config.BackendSQLite:
		index, err = sqlite.Open(ctx, sqlite.Options{Path: cfg.Index.Path, ReadOnly: true}, d.Logger)
	case config.BackendPostgres:
		index, err = postgres.Open(ctx, postgres.Options{
			DSN:          cfg.Index.DatabaseURL,
			Table:        cfg.Index.Table,
			MaxOpenConns: cfg.Index.MaxOpenConns,
			MaxIdleConns: cfg.Index.MaxOpenConns / 2,
		}, d.Logger)
	case config.BackendQdrant:
		index, err = qdrant.New(qdrant.Options{
			Endpoint:   cfg.Index.QdrantURL,
			Collection: cfg.Index.Collection,
			APIKey:     cfg.Index.QdrantAPIKey,
			Timeout:    cfg.Index.Timeout,
		}, d.Logger)
	default:
		return fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
	if err != nil {
		return err
	}

	d.Index = index
	d.Logger.Info("vector index opened", zap.String("index", cfg.Index.LogString()))
	return nil
}

// initProviders builds the embedding and generation clients. Neither is
// contacted here; /readyz reports reachability.
func (d *Dependencies) initProviders(cfg *config.Config) {
	d.Embedder = openai.NewEmbedder(providers.Config{
		APIKey:     cfg.Embedder.APIKey,
		BaseURL:    cfg.Embedder.BaseURL,
		Model:      cfg.Embedder.Model,
		Timeout:    cfg.Embedder.Timeout,
		MaxRetries: cfg.Embedder.MaxRetries,
	}, cfg.Embedder.Dimension, d.Logger)

	d.Generator = openai.NewGenerator(providers.Config{
		APIKey:     cfg.Generator.APIKey,
		BaseURL:    cfg.Generator.BaseURL,
		Model:      cfg.Generator.Model,
		Timeout:    cfg.Generator.Timeout,
		MaxRetries: cfg.Generator.MaxRetries,
	}, d.Logger)

	d.Logger.Info("model providers configured",
		zap.String("embedding_model", cfg.Embedder.Model),
		zap.String("embedding_url", cfg.Embedder.BaseURL),
		zap.String("language_model", cfg.Generator.Model),
		zap.String("language_model_url", cfg.Generator.BaseURL))
}

func (d *Dependencies) initPipeline(cfg *config.Config) error {
	builder, err := prompt.NewBuilder(TemplateFromConfig(cfg.Prompt), cfg.Prompt.System)
	if err != nil {
		return fmt.Errorf("invalid prompt template: %w", err)
	}

	pipeline, err := rag.NewPipeline(d.Embedder, d.Index, d.Generator, builder, PipelineOptions(cfg), d.Logger, d.Metrics)
	if err != nil {
		return err
	}
	d.Pipeline = pipeline
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if !cfg.AuthEnabled() {
		d.Logger.Warn("AUTH_JWT_SECRET not set, query API is unauthenticated")
		return
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(middleware.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer), d.Logger)
	d.Logger.Info("api authentication enabled")
}

func (d *Dependencies) initRateLimiter(cfg *config.Config) {
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		return
	}
	d.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, d.Logger)
	d.Logger.Info("rate limiting enabled",
		zap.Float64("rps", cfg.RateLimit.RequestsPerSecond),
		zap.Int("burst", cfg.RateLimit.Burst))
}

// TemplateFromConfig overlays configured prompt markers on the Llama-2 defaults
func TemplateFromConfig(pc config.PromptConfig) prompt.Template {
	tmpl := prompt.DefaultTemplate()
	if pc.Instruction != "" {
		tmpl.Instruction = pc.Instruction
	}
	if pc.InstOpen != "" {
		tmpl.InstOpen = pc.InstOpen
	}
	if pc.InstClose != "" {
		tmpl.InstClose = pc.InstClose
	}
	if pc.SysOpen != "" {
		tmpl.SysOpen = pc.SysOpen
	}
	if pc.SysClose != "" {
		tmpl.SysClose = pc.SysClose
	}
	return tmpl
}

// PipelineOptions derives per-query options from the configuration
func PipelineOptions(cfg *config.Config) rag.Options {
	opts := rag.DefaultOptions()
	opts.TopK = cfg.Retrieval.TopK
	opts.ScoreThreshold = cfg.Retrieval.ScoreThreshold
	opts.MaxQueryLength = cfg.Retrieval.MaxQueryLength
	opts.Generation = providers.GenerationParams{
		MaxTokens:         cfg.Generator.MaxTokens,
		Temperature:       cfg.Generator.Temperature,
		RepetitionPenalty: cfg.Generator.RepetitionPenalty,
	}
	return opts
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Index != nil {
		if err := d.Index.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close vector index: %w", err))
		} else {
			d.Logger.Info("vector index closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}
