package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/upb/medbot/services/providers"
)

const (
	providerName = "openai"

	// localAPIKey is sent when no key is configured; local runtimes ignore it
	localAPIKey = "sk-no-key-required"
)

// newClient builds an OpenAI-compatible client for cfg. The base URL may point at
// a local runtime (llama.cpp server, vLLM, text-embeddings-inference).
func newClient(cfg providers.Config, extra ...option.RequestOption) openai.Client {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = localAPIKey
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		baseURL := cfg.BaseURL
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	opts = append(opts, extra...)

	return openai.NewClient(opts...)
}

// classifyError converts a client error into a ProviderError
func classifyError(err error) *providers.ProviderError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		retryable := apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
		return providers.NewProviderError(providerName, "API_ERROR",
			fmt.Sprintf("API returned status %d", apiErr.StatusCode), apiErr.StatusCode, retryable, err)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return providers.NewProviderError(providerName, "TIMEOUT", "request timed out", 0, true, err)
	case errors.Is(err, context.Canceled):
		return providers.NewProviderError(providerName, "CANCELED", "request canceled", 0, false, err)
	default:
		return providers.NewProviderError(providerName, "HTTP_ERROR", "HTTP request failed", 0, true, err)
	}
}
