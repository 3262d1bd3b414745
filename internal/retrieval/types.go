// Package retrieval implements hybrid vector+lexical search over document
// chunks: route prefiltering, reciprocal rank fusion, page-level combining,
// and neighbor expansion. Its output is an EvidenceList, the ordered set of
// sources presented to the language model.
package retrieval

import (
	"math"

	"bookchat-ai/internal/storage"
)

// DocumentSummary identifies the document a search result came from.
type DocumentSummary struct {
	ID    string
	Title string
}

// SearchResult is one retrieved evidence unit. ChunkIDs normally holds a
// single id; page-merged results carry every constituent chunk id so
// citations stay traceable.
type SearchResult struct {
	Chunk      *storage.Chunk
	Document   DocumentSummary
	Similarity float64
	ChunkIDs   []string
}

// EvidenceList is the ordered, 1-indexed sequence of results exactly as
// presented to the generator. Citation index i always means item i of this
// list; the 1-based accessor exists so nothing else in the codebase has to
// get the offset right.
type EvidenceList struct {
	items []SearchResult
}

// NewEvidenceList wraps an ordered result slice.
func NewEvidenceList(items []SearchResult) *EvidenceList {
	return &EvidenceList{items: items}
}

// Len returns the number of evidence items.
func (e *EvidenceList) Len() int {
	if e == nil {
		return 0
	}
	return len(e.items)
}

// At returns the item for a 1-based citation index. The second return value
// is false when the index is outside [1, Len()].
func (e *EvidenceList) At(index int) (SearchResult, bool) {
	if e == nil || index < 1 || index > len(e.items) {
		return SearchResult{}, false
	}
	return e.items[index-1], true
}

// Items returns the underlying slice in presentation order.
func (e *EvidenceList) Items() []SearchResult {
	if e == nil {
		return nil
	}
	return e.items
}

// CosineSimilarity computes cosine similarity between two vectors, clamped
// to [0,1]. Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
