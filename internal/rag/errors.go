package rag

import "errors"

// Sentinel errors for the failure classes a request can hit. Retrieval
// finding nothing is not an error; it produces a normal abstention answer.
var (
	// ErrEmbedding marks a failure of the embedding service.
	ErrEmbedding = errors.New("embedding failure")
	// ErrGenerator marks a failure or cancellation of the text generator.
	// No partial output is ever validated or returned.
	ErrGenerator = errors.New("generator failure")
	// ErrStorage marks a failure of the chunk/document store.
	ErrStorage = errors.New("storage failure")
)
