package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/upb/medbot/services/providers"
	"go.uber.org/zap"
)

// Embedder implements providers.Embedder against an OpenAI-compatible /embeddings endpoint
type Embedder struct {
	client    openai.Client
	model     string
	dimension int
	logger    *zap.Logger
}

// NewEmbedder creates a new Embedder. dimension is the expected vector length (0 disables the check).
func NewEmbedder(cfg providers.Config, dimension int, logger *zap.Logger) *Embedder {
	return &Embedder{
		client:    newClient(cfg),
		model:     cfg.Model,
		dimension: dimension,
		logger:    logger,
	}
}

// Name returns the provider name
func (e *Embedder) Name() string {
	return providerName
}

// Dimension returns the expected vector length
func (e *Embedder) Dimension() int {
	return e.dimension
}

// Embed returns the embedding of text
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:          openai.EmbeddingModel(e.model),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, classifyError(err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, providers.NewProviderError(providerName, "EMPTY_EMBEDDING", "no embedding returned", 0, false, nil)
	}

	raw := resp.Data[0].Embedding
	if e.dimension > 0 && len(raw) != e.dimension {
		return nil, providers.NewProviderError(providerName, "DIMENSION_MISMATCH",
			fmt.Sprintf("expected %d dimensions, got %d", e.dimension, len(raw)), 0, false, nil)
	}

	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}

	e.logger.Debug("embedded text",
		zap.String("model", e.model),
		zap.Int("dimension", len(vec)),
		zap.Int64("tokens", resp.Usage.TotalTokens))

	return vec, nil
}
