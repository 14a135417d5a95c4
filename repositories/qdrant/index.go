package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/upb/medbot/models"
	"github.com/upb/medbot/repositories"
	"go.uber.org/zap"
)

const backendName = "qdrant"

// Payload keys written by common ingestion tooling
const (
	payloadContent  = "page_content"
	payloadMetadata = "metadata"
)

// Options configures the Qdrant index
type Options struct {
	Endpoint   string
	Collection string
	APIKey     string
	Timeout    time.Duration
}

// Index is a VectorIndex served by a Qdrant collection over the REST API.
// The collection must already exist and use the Cosine distance.
type Index struct {
	endpoint   string
	collection string
	apiKey     string
	client     *http.Client
	logger     *zap.Logger
}

var _ repositories.VectorIndex = (*Index)(nil)

// New creates a Qdrant-backed index
func New(opts Options, logger *zap.Logger) (*Index, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("qdrant endpoint is required")
	}
	if opts.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Index{
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		collection: opts.Collection,
		apiKey:     opts.APIKey,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Backend returns the storage backend name
func (q *Index) Backend() string {
	return backendName
}

func (q *Index) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	return q.client.Do(req)
}

type searchResponse struct {
	Result []struct {
		ID      json.RawMessage `json:"id"`
		Score   float64         `json:"score"`
		Payload struct {
			Content  string         `json:"page_content"`
			Metadata map[string]any `json:"metadata"`
		} `json:"payload"`
	} `json:"result"`
}

// Search runs a points search with a cosine score threshold derived from the relevance threshold
func (q *Index) Search(ctx context.Context, vector []float32, k int, threshold float64) ([]models.ScoredDocument, error) {
	if len(vector) == 0 || k <= 0 {
		return nil, nil
	}

	body := map[string]any{
		"vector":          vector,
		"limit":           k,
		"with_payload":    []string{payloadContent, payloadMetadata},
		"score_threshold": repositories.CosineFromRelevance(threshold),
	}

	resp, err := q.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", q.collection), body)
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("qdrant search failed: %s %s", resp.Status, string(b))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	docs := make([]models.ScoredDocument, 0, len(result.Result))
	for _, r := range result.Result {
		docs = append(docs, models.ScoredDocument{
			Document: models.Document{
				ID:       pointID(r.ID),
				Content:  r.Payload.Content,
				Metadata: repositories.StringifyMetadata(r.Payload.Metadata),
			},
			Score: repositories.RelevanceFromCosine(r.Score),
		})
	}

	return models.FilterByScore(docs, threshold, k), nil
}

// Health checks the service and that the collection exists
func (q *Index) Health(ctx context.Context) error {
	resp, err := q.do(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", q.collection), nil)
	if err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant collection %s unavailable: %s", q.collection, resp.Status)
	}
	return nil
}

// Close releases idle connections
func (q *Index) Close() error {
	q.client.CloseIdleConnections()
	return nil
}

// pointID renders numeric and UUID point ids as plain strings
func pointID(raw json.RawMessage) string {
	return strings.Trim(string(raw), `"`)
}
