package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/upb/medbot/internal/observability"
	"github.com/upb/medbot/models"
	"github.com/upb/medbot/repositories"
	"github.com/upb/medbot/services"
	"github.com/upb/medbot/services/prompt"
	"github.com/upb/medbot/services/providers"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Pipeline answers a question by retrieving supporting documents and asking the
// generator to answer from them. It holds no per-query state; one instance
// serves concurrent queries.
type Pipeline struct {
	embedder  providers.Embedder
	index     repositories.VectorIndex
	generator providers.Generator
	builder   *prompt.Builder
	opts      Options
	logger    *zap.Logger
	metrics   observability.Metrics
}

// NewPipeline wires a Pipeline. A nil metrics records nothing.
func NewPipeline(
	embedder providers.Embedder,
	index repositories.VectorIndex,
	generator providers.Generator,
	builder *prompt.Builder,
	opts Options,
	logger *zap.Logger,
	metrics observability.Metrics,
) (*Pipeline, error) {
	switch {
	case embedder == nil:
		return nil, errors.New("embedder is required")
	case index == nil:
		return nil, errors.New("vector index is required")
	case generator == nil:
		return nil, errors.New("generator is required")
	case builder == nil:
		return nil, errors.New("prompt builder is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline options: %w", err)
	}
	if opts.ContextSeparator == "" {
		opts.ContextSeparator = DefaultContextSeparator
	}
	if metrics == nil {
		metrics = observability.NopMetrics{}
	}

	return &Pipeline{
		embedder:  embedder,
		index:     index,
		generator: generator,
		builder:   builder,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Options returns the options the pipeline was built with
func (p *Pipeline) Options() Options {
	return p.opts
}

// Run executes one query: validate, embed, retrieve, build the prompt, generate.
// It returns either a complete Answer or a *services.DomainError.
func (p *Pipeline) Run(ctx context.Context, query string) (answer *models.Answer, err error) {
	start := time.Now()
	answerID := uuid.New()
	id := answerID.String()

	ctx, span := observability.StartStep(ctx, "query", attribute.String("medbot.answer_id", id))
	defer func() {
		status, errType := observability.StatusOK, ""
		if err != nil {
			status, errType = observability.StatusError, string(services.GetErrorType(err))
		}
		p.metrics.RecordQuery(status, errType, time.Since(start))
		observability.EndStep(span, err)
	}()

	p.logger.Info("starting query pipeline",
		zap.String("answer_id", id),
		zap.Int("query_length", len(query)))

	// Step 1: Validate query
	p.logger.Debug("step 1: validating query", zap.String("answer_id", id))
	if err := p.step(ctx, observability.StepValidate, func(context.Context) error {
		return p.validate(query)
	}); err != nil {
		p.logger.Warn("query rejected", zap.String("answer_id", id), zap.Error(err))
		return nil, err
	}

	// Step 2: Embed query
	p.logger.Debug("step 2: embedding query", zap.String("answer_id", id))
	var vector []float32
	if err := p.step(ctx, observability.StepEmbed, func(ctx context.Context) error {
		var stepErr error
		vector, stepErr = p.embed(ctx, query)
		return stepErr
	}); err != nil {
		p.logger.Error("embedding failed", zap.String("answer_id", id), zap.Error(err))
		return nil, err
	}

	// Step 3: Retrieve documents
	p.logger.Debug("step 3: searching vector index",
		zap.String("answer_id", id),
		zap.String("backend", p.index.Backend()),
		zap.Int("top_k", p.opts.TopK),
		zap.Float64("threshold", p.opts.ScoreThreshold))
	var docs []models.ScoredDocument
	if err := p.step(ctx, observability.StepRetrieve, func(ctx context.Context) error {
		var stepErr error
		docs, stepErr = p.retrieve(ctx, vector)
		return stepErr
	}); err != nil {
		p.logger.Error("retrieval failed", zap.String("answer_id", id), zap.Error(err))
		return nil, err
	}
	p.metrics.RecordDocuments(len(docs))
	if len(docs) == 0 {
		p.logger.Info("no documents above threshold, generating without context",
			zap.String("answer_id", id))
	}

	// Step 4: Build prompt
	p.logger.Debug("step 4: building prompt", zap.String("answer_id", id), zap.Int("documents", len(docs)))
	var promptText string
	p.measure(ctx, observability.StepPrompt, func(context.Context) {
		pc := p.builder.Context(models.JoinContents(docs, p.opts.ContextSeparator), query)
		promptText = p.builder.Render(pc)
	})

	// Step 5: Generate answer
	p.logger.Debug("step 5: invoking generator",
		zap.String("answer_id", id),
		zap.Int("prompt_length", len(promptText)))
	var gen *providers.Generation
	if err := p.step(ctx, observability.StepGenerate, func(ctx context.Context) error {
		var stepErr error
		gen, stepErr = p.generate(ctx, promptText)
		return stepErr
	}); err != nil {
		p.logger.Error("generation failed", zap.String("answer_id", id), zap.Error(err))
		return nil, err
	}
	p.metrics.RecordTokens(gen.Usage.PromptTokens, gen.Usage.CompletionTokens)

	answer = &models.Answer{
		ID:              answerID,
		Query:           query,
		Result:          strings.TrimSpace(gen.Text),
		SourceDocuments: docs,
		FinishReason:    gen.FinishReason,
		Usage: models.TokenUsage{
			PromptTokens:     gen.Usage.PromptTokens,
			CompletionTokens: gen.Usage.CompletionTokens,
			TotalTokens:      gen.Usage.TotalTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}

	p.logger.Info("query pipeline completed",
		zap.String("answer_id", id),
		zap.Int("documents", len(docs)),
		zap.String("finish_reason", answer.FinishReason),
		zap.Int("tokens", answer.Usage.TotalTokens),
		zap.Int64("latency_ms", answer.LatencyMs))

	return answer, nil
}

// step runs fn inside a span and records its latency
func (p *Pipeline) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := observability.StartStep(ctx, name)
	start := time.Now()
	err := fn(ctx)
	p.metrics.RecordStep(name, time.Since(start), err)
	observability.EndStep(span, err)
	return err
}

// measure times a step that cannot fail
func (p *Pipeline) measure(ctx context.Context, name string, fn func(context.Context)) {
	ctx, span := observability.StartStep(ctx, name)
	start := time.Now()
	fn(ctx)
	p.metrics.RecordStep(name, time.Since(start), nil)
	observability.EndStep(span, nil)
}

// validate rejects empty, malformed and oversized queries
func (p *Pipeline) validate(query string) error {
	if !utf8.ValidString(query) {
		return services.NewDomainError(services.ErrorTypeValidation, services.ErrInvalidEncoding.Message, nil)
	}
	if strings.TrimSpace(query) == "" {
		return services.NewDomainError(services.ErrorTypeValidation, services.ErrEmptyQuery.Message, nil)
	}
	if p.opts.MaxQueryLength > 0 {
		if n := utf8.RuneCountInString(query); n > p.opts.MaxQueryLength {
			return services.NewDomainError(services.ErrorTypeValidation, services.ErrQueryTooLong.Message, nil).
				WithDetail("max_length", p.opts.MaxQueryLength).
				WithDetail("length", n)
		}
	}
	return nil
}

// embed maps the query to a vector and checks its shape
func (p *Pipeline) embed(ctx context.Context, query string) ([]float32, error) {
	vector, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, services.WrapEmbedding(services.ErrEmbeddingFailed.Message, err).
			WithDetail("provider", p.embedder.Name()).
			WithDetail("retryable", providers.IsRetryable(err))
	}
	if len(vector) == 0 {
		return nil, services.WrapEmbedding(services.ErrEmptyEmbedding.Message, nil).
			WithDetail("provider", p.embedder.Name())
	}
	if dim := p.embedder.Dimension(); dim > 0 && len(vector) != dim {
		return nil, services.WrapEmbedding(fmt.Sprintf("embedding has %d dimensions, expected %d", len(vector), dim), nil).
			WithDetail("provider", p.embedder.Name())
	}
	return vector, nil
}

// retrieve searches the index and enforces threshold, order and the K bound
// regardless of what the backend returned
func (p *Pipeline) retrieve(ctx context.Context, vector []float32) ([]models.ScoredDocument, error) {
	raw, err := p.index.Search(ctx, vector, p.opts.TopK, p.opts.ScoreThreshold)
	if err != nil {
		return nil, services.WrapRetrieval(services.ErrIndexUnavailable.Message, err).
			WithDetail("backend", p.index.Backend())
	}

	docs := models.FilterByScore(raw, p.opts.ScoreThreshold, p.opts.TopK)
	if len(docs) != len(raw) {
		p.logger.Debug("dropped documents returned by index",
			zap.Int("returned", len(raw)),
			zap.Int("kept", len(docs)))
	}
	return docs, nil
}

// generate runs the completion and classifies failures
func (p *Pipeline) generate(ctx context.Context, promptText string) (*providers.Generation, error) {
	gen, err := p.generator.Generate(ctx, promptText, p.opts.Generation)
	if err != nil {
		msg := services.ErrGenerationFailed.Message
		if services.IsTimeout(err) {
			msg = services.ErrGenerationTimeout.Message
		}
		return nil, services.WrapGeneration(msg, err).
			WithDetail("provider", p.generator.Name()).
			WithDetail("retryable", providers.IsRetryable(err))
	}
	if gen == nil {
		return nil, services.WrapGeneration("language model returned no result", nil).
			WithDetail("provider", p.generator.Name())
	}
	return gen, nil
}
