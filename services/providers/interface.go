package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Embedder maps text to a vector in the same space the index was built with.
// Implementations must be safe for concurrent use.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension is the vector length Embed must return, or 0 when unchecked
	Dimension() int
}

// Generator runs a text completion on a language model.
// Implementations must be safe for concurrent use.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, params GenerationParams) (*Generation, error)
	// IsAvailable reports whether the model runtime answers at all
	IsAvailable(ctx context.Context) bool
}

// GenerationParams are the sampling settings for one completion
type GenerationParams struct {
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`        // 0 to 2
	RepetitionPenalty float64 `json:"repetition_penalty"` // 1 disables
}

// Generation is one completion and its accounting
type Generation struct {
	Text         string        `json:"text"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason"` // "stop" or "length"
	Usage        Usage         `json:"usage"`
	Latency      time.Duration `json:"latency"`
}

// Usage counts the tokens a completion consumed
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Config points a client at a model runtime
type Config struct {
	APIKey     string // local runtimes usually ignore it
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int // retries done by the client library
}

// ProviderError is a failed call to a model runtime
type ProviderError struct {
	Provider   string
	Code       string // e.g. API_ERROR, TIMEOUT, EMPTY_RESPONSE
	Message    string
	StatusCode int // upstream HTTP status, 0 when no response arrived
	Retryable  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error
func NewProviderError(provider, code, message string, statusCode int, retryable bool, cause error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Retryable:  retryable,
		Cause:      cause,
	}
}

// IsRetryable reports whether err wraps a ProviderError worth retrying
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}
