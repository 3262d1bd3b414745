// Package ingest turns uploaded documents into embedded, page-annotated
// chunks ready for retrieval: PDF and markdown extraction, chunking, token
// counting, embedding, and route index construction.
package ingest

// Page is one extracted source page.
type Page struct {
	Number int // 1-based
	Text   string
}

// Chunk is a pre-embedding slice of a document.
type Chunk struct {
	Index int
	// Page is the first source page the chunk covers; zero when the source
	// has no page structure (markdown).
	Page int
	// Pages lists every covered page for chunks spanning a page boundary.
	// Empty for single-page chunks.
	Pages []int
	// HeadingPath locates markdown chunks in the heading hierarchy, e.g.
	// "# Title > ## Section". Empty for PDF chunks.
	HeadingPath string
	Text        string
}

// Request describes one document to ingest.
type Request struct {
	SessionID string // Empty for shared corpus documents
	Filename  string
	Title     string // Optional; derived from content or filename when empty
	Data      []byte
}

// Result reports what an ingest run produced.
type Result struct {
	DocumentID string
	Title      string
	PageCount  int
	ChunkCount int
	// Skipped is true when the same content was already ingested and the
	// run was a no-op.
	Skipped bool
}
