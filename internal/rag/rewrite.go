package rag

import (
	"context"
	"strings"

	"bookchat-ai/internal/contextutil"
	"bookchat-ai/internal/llm"
	"bookchat-ai/internal/storage"
)

const rewriteSystemPrompt = `Rewrite the user's latest question as a standalone search query, resolving pronouns and references using the conversation. Keep the meaning identical. Respond with only the rewritten question, nothing else.`

// maxRewriteTurns bounds how much history feeds the rewrite.
const maxRewriteTurns = 6

// QueryRewriter turns a possibly elliptical follow-up question into a
// standalone retrieval query using prior turns. Any failure or degenerate
// output falls back to the original question; rewriting is best-effort.
type QueryRewriter struct {
	generator Generator
}

// NewQueryRewriter creates a rewriter.
func NewQueryRewriter(generator Generator) *QueryRewriter {
	return &QueryRewriter{generator: generator}
}

// Rewrite returns a standalone version of question. With no history the
// question is already standalone and returned unchanged.
func (r *QueryRewriter) Rewrite(ctx context.Context, question string, history []storage.Message) string {
	if len(history) == 0 {
		return question
	}

	turns := history
	if len(turns) > maxRewriteTurns {
		turns = turns[len(turns)-maxRewriteTurns:]
	}

	var b strings.Builder
	b.WriteString("Conversation:\n")
	for _, msg := range turns {
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nLatest question: ")
	b.WriteString(question)

	messages := []llm.Message{
		{Role: "system", Content: rewriteSystemPrompt},
		{Role: "user", Content: b.String()},
	}

	rewritten, err := r.generator.ChatWithMessages(ctx, messages, llm.ChatParams{
		Temperature: 0.1,
		MaxTokens:   120,
	})
	if err != nil {
		logger := contextutil.LoggerFromContext(ctx)
		logger.WarnContext(ctx, "query rewrite failed, using original question", "error", err)
		return question
	}

	rewritten = strings.Trim(strings.TrimSpace(rewritten), `"`)
	if degenerate(rewritten, question) {
		return question
	}
	return rewritten
}

// degenerate rejects rewrites that are empty, multi-line, or wildly longer
// than the question they came from.
func degenerate(rewritten, question string) bool {
	if rewritten == "" {
		return true
	}
	if strings.Contains(rewritten, "\n") {
		return true
	}
	return len(rewritten) > 4*len(question)+120
}
