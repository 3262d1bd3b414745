package rag

import (
	"fmt"
	"strings"

	"bookchat-ai/internal/retrieval"
)

const systemPromptTemplate = `You are an assistant that answers questions using only the numbered sources provided. Follow these rules:
- Cite every factual statement with the bracketed number of the source that supports it, like [1] or [2, 3].
- Use only source numbers between 1 and %d.
- Do not invent sources or cite anything outside the provided list.
- If the sources do not contain the answer, say that the provided documents do not contain it. Do not guess.`

const strictRetryInstruction = `
Your previous answer contained no usable citations. Rewrite it so that every factual sentence ends with the bracketed number of the source that supports it. Quote or closely paraphrase the source text.`

// noEvidenceMessage is returned when retrieval finds nothing in scope.
const noEvidenceMessage = "I couldn't find any relevant content in the available documents for this question."

// buildPrompt formats the system prompt and the user prompt containing the
// numbered evidence list. The numbering shown here is the one citation
// indices are validated against.
func buildPrompt(question string, evidence *retrieval.EvidenceList, strictRetry bool) (system, user string) {
	system = fmt.Sprintf(systemPromptTemplate, evidence.Len())
	if strictRetry {
		system += strictRetryInstruction
	}

	var b strings.Builder
	b.WriteString("Sources:\n\n")
	for i, item := range evidence.Items() {
		b.WriteString(fmt.Sprintf("[%d] %s%s\n", i+1, item.Document.Title, formatPages(item)))
		b.WriteString(item.Chunk.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)

	return system, b.String()
}

func formatPages(item retrieval.SearchResult) string {
	pages := item.Chunk.Pages
	if len(pages) == 0 {
		if p, ok := retrieval.EffectivePage(item.Chunk); ok {
			pages = []int{p}
		}
	}
	switch len(pages) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf(" (page %d)", pages[0])
	default:
		return fmt.Sprintf(" (pages %d-%d)", pages[0], pages[len(pages)-1])
	}
}
