package storage

import "time"

// Document represents an ingested source document (PDF book or markdown file).
type Document struct {
	ID        string // UUID
	SessionID string // Owning session; empty for shared corpus documents
	Title     string
	Filename  string
	PageCount int
	Hash      string // SHA256 hex string of the source file content
	Enabled   bool   // Disabled documents are excluded from retrieval scope
	CreatedAt time.Time
}

// Chunk represents an embedded slice of a document, the unit of retrieval.
// ChunkIndex values within a document are contiguous and start at 0.
type Chunk struct {
	ID         string // UUID (also the vector store point ID)
	DocumentID string
	SessionID  string
	ChunkIndex int
	// Page is the source page number, when known. Zero means unknown.
	Page int
	// Pages lists all source pages for chunks merged across a page boundary.
	// Empty for single-page chunks.
	Pages      []int
	Content    string
	TokenCount int
	Embedding  []float32
}

// Session represents a conversation with its own document scope.
type Session struct {
	ID        string // UUID
	Title     string
	CreatedAt time.Time
}

// Message represents a single turn in a session.
type Message struct {
	ID        string // UUID
	SessionID string
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}

// Citation is a validated source reference persisted with an assistant message.
// Citations are created once per accepted marker group and never mutated.
type Citation struct {
	ID            string // UUID
	MessageID     string
	SourceIndex   int // Renumbered 1-based index as it appears in the answer text
	DocumentID    string
	DocumentTitle string
	Pages         []int
	Excerpt       string
	ChunkIDs      []string
	Confidence    float64
}

// RouteBook is the coarse per-document routing vector.
type RouteBook struct {
	DocumentID string
	Vector     []float32
	ChunkCount int
	PageCount  int
}

// RouteSection is a page-bucketed section vector with its member chunk ids.
type RouteSection struct {
	ID         string // "<documentID>_sec_NNNN"
	DocumentID string
	PageStart  int
	PageEnd    int
	Vector     []float32
	ChunkIDs   []string
}

// RouteIndex bundles a document's routing data.
type RouteIndex struct {
	Book     RouteBook
	Sections []RouteSection
}
