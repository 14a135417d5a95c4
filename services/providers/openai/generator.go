package openai

import (
	"context"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/upb/medbot/services/providers"
	"go.uber.org/zap"
)

// Generator implements providers.Generator against an OpenAI-compatible /completions endpoint.
// The prompt is sent verbatim, so chat markers built by the prompt package reach the model untouched.
type Generator struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

// NewGenerator creates a new Generator
func NewGenerator(cfg providers.Config, logger *zap.Logger) *Generator {
	return &Generator{
		client: newClient(cfg),
		model:  cfg.Model,
		logger: logger,
	}
}

// Name returns the provider name
func (g *Generator) Name() string {
	return providerName
}

// Generate runs a single completion
func (g *Generator) Generate(ctx context.Context, prompt string, params providers.GenerationParams) (*providers.Generation, error) {
	start := time.Now()

	body := openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(g.model),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(prompt)},
		Temperature: openai.Float(params.Temperature),
	}
	if params.MaxTokens > 0 {
		body.MaxTokens = openai.Int(int64(params.MaxTokens))
	}

	// llama.cpp reads repeat_penalty, vLLM reads repetition_penalty
	var opts []option.RequestOption
	if params.RepetitionPenalty > 0 {
		opts = append(opts,
			option.WithJSONSet("repeat_penalty", params.RepetitionPenalty),
			option.WithJSONSet("repetition_penalty", params.RepetitionPenalty))
	}

	resp, err := g.client.Completions.New(ctx, body, opts...)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, providers.NewProviderError(providerName, "EMPTY_RESPONSE", "no choices returned", 0, false, nil)
	}

	choice := resp.Choices[0]
	gen := &providers.Generation{
		Text:         choice.Text,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		Usage: providers.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		Latency: time.Since(start),
	}

	g.logger.Debug("completion finished",
		zap.String("model", gen.Model),
		zap.String("finish_reason", gen.FinishReason),
		zap.Int("completion_tokens", gen.Usage.CompletionTokens),
		zap.Duration("latency", gen.Latency))

	return gen, nil
}

// IsAvailable checks if the model runtime answers a model listing
func (g *Generator) IsAvailable(ctx context.Context) bool {
	if _, err := g.client.Models.List(ctx); err != nil {
		g.logger.Debug("generator unavailable", zap.Error(err))
		return false
	}
	return true
}
