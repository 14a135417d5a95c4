package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/medbot/internal/observability"
	"github.com/upb/medbot/models"
	"github.com/upb/medbot/services"
	"github.com/upb/medbot/services/prompt"
	"github.com/upb/medbot/services/providers"
	"go.uber.org/zap"
)

// MockEmbedder is a mock implementation of providers.Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Name() string { return "mock" }

func (m *MockEmbedder) Dimension() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockIndex is a mock implementation of repositories.VectorIndex
type MockIndex struct {
	mock.Mock
}

func (m *MockIndex) Search(ctx context.Context, vector []float32, k int, threshold float64) ([]models.ScoredDocument, error) {
	args := m.Called(ctx, vector, k, threshold)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ScoredDocument), args.Error(1)
}

func (m *MockIndex) Health(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockIndex) Backend() string { return "mock" }
func (m *MockIndex) Close() error { return nil }

// MockGenerator is a mock implementation of providers.Generator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Name() string { return "mock" }

func (m *MockGenerator) Generate(ctx context.Context, promptText string, params providers.GenerationParams) (*providers.Generation, error) {
	args := m.Called(ctx, promptText, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.Generation), args.Error(1)
}

func (m *MockGenerator) IsAvailable(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

type fixture struct {
	embedder  *MockEmbedder
	index     *MockIndex
	generator *MockGenerator
	pipeline  *Pipeline
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	builder, err := prompt.NewBuilder(prompt.DefaultTemplate(), "select response only from stored database")
	require.NoError(t, err)

	f := &fixture{
		embedder:  new(MockEmbedder),
		index:     new(MockIndex),
		generator: new(MockGenerator),
	}
	f.embedder.On("Dimension").Return(0).Maybe()

	f.pipeline, err = NewPipeline(f.embedder, f.index, f.generator, builder, opts, zap.NewNop(), nil)
	require.NoError(t, err)
	return f
}

func doc(id, content string, score float64) models.ScoredDocument {
	return models.ScoredDocument{
		Document: models.Document{ID: id, Content: content, Metadata: map[string]string{"source": id + ".pdf"}},
		Score:    score,
	}
}

func TestNewPipeline(t *testing.T) {
	builder, err := prompt.NewBuilder(prompt.DefaultTemplate(), "")
	require.NoError(t, err)

	t.Run("missing collaborator", func(t *testing.T) {
		_, err := NewPipeline(nil, new(MockIndex), new(MockGenerator), builder, DefaultOptions(), zap.NewNop(), nil)
		assert.Error(t, err)
		_, err = NewPipeline(new(MockEmbedder), nil, new(MockGenerator), builder, DefaultOptions(), zap.NewNop(), nil)
		assert.Error(t, err)
		_, err = NewPipeline(new(MockEmbedder), new(MockIndex), nil, builder, DefaultOptions(), zap.NewNop(), nil)
		assert.Error(t, err)
		_, err = NewPipeline(new(MockEmbedder), new(MockIndex), new(MockGenerator), nil, DefaultOptions(), zap.NewNop(), nil)
		assert.Error(t, err)
	})

	t.Run("invalid options", func(t *testing.T) {
		opts := DefaultOptions()
		opts.TopK = 0
		_, err := NewPipeline(new(MockEmbedder), new(MockIndex), new(MockGenerator), builder, opts, zap.NewNop(), nil)
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ContextSeparator = ""
		p, err := NewPipeline(new(MockEmbedder), new(MockIndex), new(MockGenerator), builder, opts, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, 4, p.Options().TopK)
		assert.Equal(t, 0.3, p.Options().ScoreThreshold)
		assert.Equal(t, "\n\n", p.Options().ContextSeparator)
		assert.Equal(t, 1024, p.Options().Generation.MaxTokens)
	})
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	query := "What is the recommended dosage of ibuprofen?"
	vec := []float32{0.1, 0.2, 0.3}

	f.embedder.On("Embed", mock.Anything, query).Return(vec, nil).Once()
	f.index.On("Search", mock.Anything, vec, 4, 0.3).Return([]models.ScoredDocument{
		doc("ibuprofen", "Adults: 200-400 mg every 4-6 hours.", 0.81),
		doc("nsaids", "NSAIDs should be taken with food.", 0.45),
	}, nil).Once()

	var gotPrompt string
	f.generator.On("Generate", mock.Anything, mock.AnythingOfType("string"), DefaultOptions().Generation).
		Run(func(args mock.Arguments) { gotPrompt = args.String(1) }).
		Return(&providers.Generation{
			Text:         "  The usual adult dose is 200-400 mg every 4-6 hours.\n",
			FinishReason: "stop",
			Usage:        providers.Usage{PromptTokens: 150, CompletionTokens: 14, TotalTokens: 164},
		}, nil).Once()

	answer, err := f.pipeline.Run(ctx, query)
	require.NoError(t, err)
	require.NotNil(t, answer)

	assert.Equal(t, "The usual adult dose is 200-400 mg every 4-6 hours.", answer.Result)
	assert.Equal(t, query, answer.Query)
	assert.NotEmpty(t, answer.ID)
	assert.Equal(t, "stop", answer.FinishReason)
	assert.Equal(t, 164, answer.Usage.TotalTokens)
	require.Len(t, answer.SourceDocuments, 2)
	assert.Equal(t, "ibuprofen", answer.SourceDocuments[0].ID)
	assert.Equal(t, "nsaids", answer.SourceDocuments[1].ID)

	wantContext := "CONTEXT:\n\nAdults: 200-400 mg every 4-6 hours.\n\nNSAIDs should be taken with food.\n\nQuestion: " + query
	assert.Contains(t, gotPrompt, wantContext)
	assert.True(t, strings.HasPrefix(gotPrompt, "[INST]<<SYS>>\nselect response only from stored database\n<</SYS>>\n\n"))
	assert.True(t, strings.HasSuffix(gotPrompt, "[/INST]"))

	f.embedder.AssertExpectations(t)
	f.index.AssertExpectations(t)
	f.generator.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRun_EnforcesThresholdOrderAndBound(t *testing.T) {
	opts := DefaultOptions()
	opts.TopK = 2
	f := newFixture(t, opts)
	vec := []float32{1}

	f.embedder.On("Embed", mock.Anything, "q").Return(vec, nil)
	// a misbehaving index: unsorted, too many, one below threshold
	f.index.On("Search", mock.Anything, vec, 2, 0.3).Return([]models.ScoredDocument{
		doc("low", "low", 0.1),
		doc("mid", "mid", 0.5),
		doc("top", "top", 0.9),
		doc("high", "high", 0.7),
	}, nil)
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(&providers.Generation{Text: "ok"}, nil)

	answer, err := f.pipeline.Run(context.Background(), "q")
	require.NoError(t, err)

	require.Len(t, answer.SourceDocuments, 2)
	assert.Equal(t, "top", answer.SourceDocuments[0].ID)
	assert.Equal(t, "high", answer.SourceDocuments[1].ID)
	for _, d := range answer.SourceDocuments {
		assert.GreaterOrEqual(t, d.Score, 0.3)
	}

	promptText := f.generator.Calls[0].Arguments.String(1)
	assert.Contains(t, promptText, "CONTEXT:\n\ntop\n\nhigh\n\nQuestion: q")
	assert.NotContains(t, promptText, "mid")
}

func TestRun_EmptyContextStillGenerates(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	vec := []float32{1}

	f.embedder.On("Embed", mock.Anything, "What is the capital of Mars?").Return(vec, nil)
	f.index.On("Search", mock.Anything, vec, 4, 0.3).Return([]models.ScoredDocument{}, nil)
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(&providers.Generation{Text: "I don't know."}, nil).Once()

	answer, err := f.pipeline.Run(context.Background(), "What is the capital of Mars?")
	require.NoError(t, err)

	assert.Equal(t, "I don't know.", answer.Result)
	assert.Empty(t, answer.SourceDocuments)
	assert.False(t, answer.HasSources())
	f.generator.AssertNumberOfCalls(t, "Generate", 1)
	assert.Contains(t, f.generator.Calls[0].Arguments.String(1), "CONTEXT:\n\n\n\nQuestion: What is the capital of Mars?")
}

func TestRun_ValidationErrors(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxQueryLength = 10

	tests := []struct {
		name  string
		query string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t"},
		{"invalid utf8", "\xff\xfe"},
		{"too long", strings.Repeat("a", 11)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, opts)

			answer, err := f.pipeline.Run(context.Background(), tt.query)
			require.Error(t, err)
			assert.Nil(t, answer)
			assert.True(t, services.IsValidationError(err))

			f.embedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
			f.index.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("length counts characters", func(t *testing.T) {
		f := newFixture(t, opts)
		f.embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
		f.index.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
		f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(&providers.Generation{Text: "ok"}, nil)

		_, err := f.pipeline.Run(context.Background(), "ééééééééé")
		assert.NoError(t, err)
	})
}

func TestRun_EmbeddingErrors(t *testing.T) {
	t.Run("embedder fails", func(t *testing.T) {
		f := newFixture(t, DefaultOptions())
		cause := providers.NewProviderError("mock", "HTTP_ERROR", "connection refused", 0, true, nil)
		f.embedder.On("Embed", mock.Anything, "q").Return(nil, cause)

		answer, err := f.pipeline.Run(context.Background(), "q")
		assert.Nil(t, answer)
		assert.True(t, services.IsEmbeddingError(err))
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, true, services.GetErrorDetails(err)["retryable"])
		f.index.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("empty vector", func(t *testing.T) {
		f := newFixture(t, DefaultOptions())
		f.embedder.On("Embed", mock.Anything, "q").Return([]float32{}, nil)

		_, err := f.pipeline.Run(context.Background(), "q")
		assert.True(t, services.IsEmbeddingError(err))
		f.index.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("wrong dimension", func(t *testing.T) {
		builder, _ := prompt.NewBuilder(prompt.DefaultTemplate(), "")
		embedder := new(MockEmbedder)
		embedder.On("Dimension").Return(384)
		embedder.On("Embed", mock.Anything, "q").Return([]float32{1, 2, 3}, nil)
		index := new(MockIndex)

		p, err := NewPipeline(embedder, index, new(MockGenerator), builder, DefaultOptions(), zap.NewNop(), nil)
		require.NoError(t, err)

		_, err = p.Run(context.Background(), "q")
		assert.True(t, services.IsEmbeddingError(err))
		index.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestRun_RetrievalError(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	vec := []float32{1}
	cause := errors.New("database is locked")

	f.embedder.On("Embed", mock.Anything, "q").Return(vec, nil)
	f.index.On("Search", mock.Anything, vec, 4, 0.3).Return(nil, cause)

	answer, err := f.pipeline.Run(context.Background(), "q")
	assert.Nil(t, answer)
	require.Error(t, err)
	assert.True(t, services.IsRetrievalError(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "mock", services.GetErrorDetails(err)["backend"])
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_GenerationErrors(t *testing.T) {
	tests := []struct {
		name    string
		cause   error
		wantMsg string
	}{
		{"runtime failure", errors.New("model crashed"), "language model failed"},
		{"timeout", context.DeadlineExceeded, "language model timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultOptions())
			vec := []float32{1}
			f.embedder.On("Embed", mock.Anything, "q").Return(vec, nil)
			f.index.On("Search", mock.Anything, vec, 4, 0.3).Return([]models.ScoredDocument{doc("a", "a", 0.9)}, nil)
			f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.cause)

			answer, err := f.pipeline.Run(context.Background(), "q")
			assert.Nil(t, answer)
			assert.True(t, services.IsGenerationError(err))
			assert.ErrorIs(t, err, tt.cause)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, false, services.GetErrorDetails(err)["retryable"])
		})
	}

	t.Run("nil result", func(t *testing.T) {
		f := newFixture(t, DefaultOptions())
		f.embedder.On("Embed", mock.Anything, "q").Return([]float32{1}, nil)
		f.index.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
		f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

		_, err := f.pipeline.Run(context.Background(), "q")
		assert.True(t, services.IsGenerationError(err))
	})
}

// recordingMetrics keeps the outcome of every step in call order
type recordingMetrics struct {
	observability.NopMetrics
	mu    sync.Mutex
	steps []string
	errs  []error
}

func (m *recordingMetrics) RecordStep(step string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step)
	m.errs = append(m.errs, err)
}

func TestRun_RecordsEveryStep(t *testing.T) {
	builder, err := prompt.NewBuilder(prompt.DefaultTemplate(), "")
	require.NoError(t, err)
	embedder, index, generator := new(MockEmbedder), new(MockIndex), new(MockGenerator)
	embedder.On("Dimension").Return(0).Maybe()
	metrics := &recordingMetrics{}

	p, err := NewPipeline(embedder, index, generator, builder, DefaultOptions(), zap.NewNop(), metrics)
	require.NoError(t, err)

	embedder.On("Embed", mock.Anything, "q").Return([]float32{1}, nil)
	index.On("Search", mock.Anything, mock.Anything, 4, 0.3).Return([]models.ScoredDocument{doc("a", "a", 0.9)}, nil)
	generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return(&providers.Generation{Text: "ok"}, nil)

	_, err = p.Run(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, []string{
		observability.StepValidate,
		observability.StepEmbed,
		observability.StepRetrieve,
		observability.StepPrompt,
		observability.StepGenerate,
	}, metrics.steps)
	for i, err := range metrics.errs {
		assert.NoError(t, err, metrics.steps[i])
	}

	t.Run("failed step is recorded with its error", func(t *testing.T) {
		metrics := &recordingMetrics{}
		embedder := new(MockEmbedder)
		embedder.On("Dimension").Return(0).Maybe()
		embedder.On("Embed", mock.Anything, "q").Return(nil, errors.New("down"))
		p, err := NewPipeline(embedder, new(MockIndex), new(MockGenerator), builder, DefaultOptions(), zap.NewNop(), metrics)
		require.NoError(t, err)

		_, err = p.Run(context.Background(), "q")
		require.Error(t, err)
		assert.Equal(t, []string{observability.StepValidate, observability.StepEmbed}, metrics.steps)
		assert.Error(t, metrics.errs[1])
	})
}

func TestRun_Concurrent(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.embedder.On("Embed", mock.Anything, mock.Anything).Return([]float32{1}, nil)
	f.index.On("Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]models.ScoredDocument{doc("a", "a", 0.9)}, nil)
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(&providers.Generation{Text: "ok"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			answer, err := f.pipeline.Run(context.Background(), "q")
			assert.NoError(t, err)
			assert.Len(t, answer.SourceDocuments, 1)
		}()
	}
	wg.Wait()

	f.generator.AssertNumberOfCalls(t, "Generate", 16)
}
