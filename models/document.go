package models

import (
	"sort"
	"strings"
)

// Metadata keys commonly attached to indexed chunks
const (
	MetadataSource = "source"
	MetadataPage   = "page"
)

// Document represents a chunk of source text stored in the vector index
type Document struct {
	ID       string            `json:"id" db:"id"`
	Content  string            `json:"content" db:"content"`
	Metadata map[string]string `json:"metadata,omitempty" db:"metadata"`
}

// Source returns the originating file of the document, if recorded
func (d Document) Source() string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[MetadataSource]
}

// Page returns the page reference of the document, if recorded
func (d Document) Page() string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[MetadataPage]
}

// Reference returns a short human readable citation, e.g. "guide.pdf p.12"
func (d Document) Reference() string {
	src := d.Source()
	if src == "" {
		src = d.ID
	}
	if page := d.Page(); page != "" {
		return src + " p." + page
	}
	return src
}

// ScoredDocument is a retrieved document paired with its relevance score.
// Score is in [0,1]; higher means more similar to the query.
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}

// SortByScore orders documents by descending score. Ties keep their original order.
func SortByScore(docs []ScoredDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
}

// FilterByScore returns the documents whose score is at least threshold,
// sorted by descending score and truncated to k entries (k <= 0 means no bound).
func FilterByScore(docs []ScoredDocument, threshold float64, k int) []ScoredDocument {
	kept := make([]ScoredDocument, 0, len(docs))
	for _, d := range docs {
		if d.Score >= threshold {
			kept = append(kept, d)
		}
	}
	SortByScore(kept)
	if k > 0 && len(kept) > k {
		kept = kept[:k]
	}
	return kept
}

// JoinContents concatenates document contents in order using sep
func JoinContents(docs []ScoredDocument, sep string) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Content
	}
	return strings.Join(parts, sep)
}
