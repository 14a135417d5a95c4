package rag

import (
	"errors"

	"github.com/upb/medbot/services/providers"
)

// Defaults for a single query
const (
	DefaultTopK              = 4
	DefaultScoreThreshold    = 0.3
	DefaultMaxQueryLength    = 2000
	DefaultContextSeparator  = "\n\n"
	DefaultMaxTokens         = 1024
	DefaultTemperature       = 0.5
	DefaultRepetitionPenalty = 1.1
)

// Options configures retrieval and generation for every query
type Options struct {
	// TopK bounds how many documents reach the prompt
	TopK int

	// ScoreThreshold is the minimum relevance score in [0,1]
	ScoreThreshold float64

	// MaxQueryLength is the maximum query length in characters (0 disables the check)
	MaxQueryLength int

	// ContextSeparator joins document contents in the context block
	ContextSeparator string

	// Generation bounds each completion
	Generation providers.GenerationParams
}

// DefaultOptions returns the default query options
func DefaultOptions() Options {
	return Options{
		TopK:             DefaultTopK,
		ScoreThreshold:   DefaultScoreThreshold,
		MaxQueryLength:   DefaultMaxQueryLength,
		ContextSeparator: DefaultContextSeparator,
		Generation: providers.GenerationParams{
			MaxTokens:         DefaultMaxTokens,
			Temperature:       DefaultTemperature,
			RepetitionPenalty: DefaultRepetitionPenalty,
		},
	}
}

// Validate checks option bounds
func (o Options) Validate() error {
	if o.TopK < 1 {
		return errors.New("top k must be at least 1")
	}
	if o.ScoreThreshold < 0 || o.ScoreThreshold > 1 {
		return errors.New("score threshold must be within [0,1]")
	}
	if o.MaxQueryLength < 0 {
		return errors.New("max query length cannot be negative")
	}
	if o.Generation.MaxTokens < 1 {
		return errors.New("max tokens must be at least 1")
	}
	if o.Generation.Temperature < 0 || o.Generation.Temperature > 2 {
		return errors.New("temperature must be within [0,2]")
	}
	if o.Generation.RepetitionPenalty < 0 {
		return errors.New("repetition penalty cannot be negative")
	}
	return nil
}
