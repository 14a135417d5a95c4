package models

import (
	"github.com/google/uuid"
)

// Query is a single user question, the body of POST /api/v1/query
type Query struct {
	Text string `json:"query" validate:"required,notblank"`
}

// PromptContext holds the pieces a prompt is assembled from for one query
type PromptContext struct {
	SystemPrompt string `json:"system_prompt"`
	ContextText  string `json:"context"`
	Question     string `json:"question"`
}

// TokenUsage reports token accounting returned by the generator
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Answer is the result of running one query through the retrieval pipeline.
// SourceDocuments are exactly the documents placed in the prompt context, in the same order.
type Answer struct {
	ID              uuid.UUID        `json:"id"`
	Query           string           `json:"query"`
	Result          string           `json:"result"`
	SourceDocuments []ScoredDocument `json:"source_documents"`
	FinishReason    string           `json:"finish_reason,omitempty"`
	Usage           TokenUsage       `json:"usage"`
	LatencyMs       int64            `json:"latency_ms"`
}

// HasSources reports whether any document supported the answer
func (a *Answer) HasSources() bool {
	return len(a.SourceDocuments) > 0
}
