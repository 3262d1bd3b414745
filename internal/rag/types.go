package rag

import (
	"context"

	"bookchat-ai/internal/llm"
)

//go:generate mockgen -source=types.go -destination=mocks/mock_rag.go -package=mocks

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces answer text from a message history, optionally
// streamed.
type Generator interface {
	ChatWithMessages(ctx context.Context, messages []llm.Message, params llm.ChatParams) (string, error)
	StreamChatWithMessages(ctx context.Context, messages []llm.Message, params llm.ChatParams, callback func(chunk string) error) error
}

// AskRequest represents a grounded question-answering request.
type AskRequest struct {
	// Question is the user's question to answer.
	Question string `json:"question"`
	// SessionID scopes retrieval and conversation history. Empty means
	// the shared corpus with no history.
	SessionID string `json:"session_id,omitempty"`
	// DocumentIDs optionally narrows retrieval to specific documents.
	DocumentIDs []string `json:"document_ids,omitempty"`
	// MaxResults optionally overrides the evidence list size.
	MaxResults int `json:"max_results,omitempty"`
	// Strictness selects the citation confidence threshold
	// ("normal" or "strict").
	Strictness string `json:"strictness,omitempty"`
}

// Reference is one validated source reference in the response. SourceIndex
// values are exactly the renumbered indices appearing in the answer text.
type Reference struct {
	SourceIndex   int     `json:"source_index"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	Pages         []int   `json:"pages,omitempty"`
	Excerpt       string  `json:"excerpt"`
	Confidence    float64 `json:"confidence"`
}

// AskResponse represents the validated answer.
type AskResponse struct {
	// Answer is the final answer text with renumbered citation markers.
	Answer string `json:"answer"`
	// References are the validated citations backing the answer.
	References []Reference `json:"references"`
	// RewrittenQuery is the standalone retrieval query, when it differs
	// from the question.
	RewrittenQuery string `json:"rewritten_query,omitempty"`
	// MessageID identifies the persisted assistant message, when the
	// request carried a session.
	MessageID string `json:"message_id,omitempty"`
}
