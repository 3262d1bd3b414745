package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookchat-ai/internal/citation"
	"bookchat-ai/internal/contextutil"
	"bookchat-ai/internal/llm"
	"bookchat-ai/internal/retrieval"
	"bookchat-ai/internal/storage"
)

// Engine answers questions with validated, numbered citations.
type Engine interface {
	// Ask runs the full pipeline: rewrite, prefilter, retrieve, combine,
	// expand, generate, validate, persist.
	Ask(ctx context.Context, req AskRequest) (AskResponse, error)
	// AskStream is Ask with the draft streamed through onDelta as it is
	// generated. Validation applies only to the complete draft; the
	// returned response is the validated one.
	AskStream(ctx context.Context, req AskRequest, onDelta func(chunk string) error) (AskResponse, error)
}

// Deps bundles everything the engine needs.
type Deps struct {
	Embedder  Embedder
	Generator Generator

	Chunks    storage.ChunkStore
	Documents storage.DocumentStore
	Messages  storage.MessageStore
	Routes    storage.RouteStore

	Retriever *retrieval.HybridRetriever
	Prefilter *retrieval.RoutePrefilter
	Combiner  *retrieval.PageCombiner
	Expander  *retrieval.NeighborExpander
	Validator *citation.Validator
	Rewriter  *QueryRewriter

	// MaxResults is the default evidence list size.
	MaxResults int
	// Strictness is the default citation strictness.
	Strictness citation.Strictness
}

type ragEngine struct {
	deps Deps
}

// NewEngine creates the pipeline engine. All components are stateless;
// the engine is safe for concurrent use.
func NewEngine(deps Deps) Engine {
	if deps.MaxResults <= 0 {
		deps.MaxResults = 12
	}
	if deps.Strictness == "" {
		deps.Strictness = citation.StrictnessNormal
	}
	return &ragEngine{deps: deps}
}

func (e *ragEngine) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	return e.ask(ctx, req, nil)
}

func (e *ragEngine) AskStream(ctx context.Context, req AskRequest, onDelta func(chunk string) error) (AskResponse, error) {
	return e.ask(ctx, req, onDelta)
}

func (e *ragEngine) ask(ctx context.Context, req AskRequest, onDelta func(chunk string) error) (AskResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return AskResponse{}, fmt.Errorf("question is required")
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = e.deps.MaxResults
	}
	strictness := e.deps.Strictness
	if req.Strictness != "" {
		strictness = citation.Strictness(req.Strictness)
	}

	logger.InfoContext(ctx, "ask started",
		"session_id", req.SessionID,
		"max_results", maxResults,
		"strictness", strictness,
	)

	history := e.loadHistory(ctx, req.SessionID)
	query := e.deps.Rewriter.Rewrite(ctx, question, history)
	if query != question {
		logger.InfoContext(ctx, "query rewritten", "rewritten", query)
	}

	evidence, err := e.retrieve(ctx, req, query, maxResults)
	if err != nil {
		return AskResponse{}, err
	}

	// A rewritten query that finds nothing gets one full re-run with the
	// original question before giving up.
	if evidence.Len() == 0 && query != question {
		logger.InfoContext(ctx, "rewritten query found nothing, retrying with original question")
		evidence, err = e.retrieve(ctx, req, question, maxResults)
		if err != nil {
			return AskResponse{}, err
		}
	}

	if evidence.Len() == 0 {
		logger.InfoContext(ctx, "no evidence in scope")
		resp := AskResponse{Answer: noEvidenceMessage, References: []Reference{}}
		resp.MessageID = e.persist(ctx, req.SessionID, question, resp.Answer, nil)
		return resp, nil
	}

	draft, err := e.generate(ctx, question, evidence, false, onDelta)
	if err != nil {
		return AskResponse{}, fmt.Errorf("%w: %v", ErrGenerator, err)
	}

	result := e.deps.Validator.Validate(ctx, draft, evidence, strictness)
	for _, warning := range result.Warnings {
		logger.WarnContext(ctx, "citation validation", "warning", warning)
	}

	// Zero surviving citations: one stricter regeneration attempt before
	// the fail-closed answer stands.
	if len(result.Citations) == 0 && result.Text == citation.GroundingFailureMessage {
		logger.InfoContext(ctx, "no citations survived, retrying generation with stricter instructions")
		retryDraft, retryErr := e.generate(ctx, question, evidence, true, nil)
		if retryErr != nil {
			logger.WarnContext(ctx, "strict retry generation failed", "error", retryErr)
		} else {
			retry := e.deps.Validator.Validate(ctx, retryDraft, evidence, strictness)
			if len(retry.Citations) > 0 {
				result = retry
			}
		}
	}

	resp := AskResponse{
		Answer:     result.Text,
		References: references(result.Citations),
	}
	if query != question {
		resp.RewrittenQuery = query
	}
	resp.MessageID = e.persist(ctx, req.SessionID, question, result.Text, result.Citations)

	logger.InfoContext(ctx, "ask completed",
		"citations", len(resp.References),
		"answer_length", len(resp.Answer),
	)
	return resp, nil
}

// retrieve runs prefilter, hybrid search, page combining, and neighbor
// expansion for one query. Re-running it with the same inputs yields the
// same evidence list.
func (e *ragEngine) retrieve(ctx context.Context, req AskRequest, queryText string, maxResults int) (*retrieval.EvidenceList, error) {
	logger := contextutil.LoggerFromContext(ctx)

	vectors, err := e.deps.Embedder.EmbedTexts(ctx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	queryVector := vectors[0]

	documents, err := e.deps.Documents.ListBySession(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", ErrStorage, err)
	}
	documents = filterDocuments(documents, req.DocumentIDs)
	if len(documents) == 0 {
		return retrieval.NewEvidenceList(nil), nil
	}

	docIDs := make([]string, len(documents))
	summaries := make(map[string]retrieval.DocumentSummary, len(documents))
	for i, doc := range documents {
		docIDs[i] = doc.ID
		summaries[doc.ID] = retrieval.DocumentSummary{ID: doc.ID, Title: doc.Title}
	}

	// Route data is advisory; failing to load it only widens the scope.
	routes, err := e.deps.Routes.GetByDocuments(ctx, docIDs)
	if err != nil {
		logger.WarnContext(ctx, "route index unavailable, searching full scope", "error", err)
		routes = nil
	}
	shortlist := e.deps.Prefilter.Shortlist(ctx, queryVector, docIDs, routes)

	scopeIDs := docIDs
	if shortlist.Restricts() {
		scopeIDs = shortlist.DocumentIDs
	}

	chunks, err := e.deps.Chunks.ListScope(ctx, req.SessionID, scopeIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: list chunks: %v", ErrStorage, err)
	}

	scope := make([]*storage.Chunk, 0, len(chunks))
	for i := range chunks {
		if shortlist.AllowedChunkIDs != nil && !shortlist.AllowedChunkIDs[chunks[i].ID] {
			continue
		}
		scope = append(scope, &chunks[i])
	}

	results, err := e.deps.Retriever.Search(ctx, retrieval.Query{
		Text:       queryText,
		Vector:     queryVector,
		SessionID:  req.SessionID,
		MaxResults: maxResults,
	}, scope, summaries)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results = e.deps.Combiner.Combine(results)
	results = e.deps.Expander.Expand(results, scope, queryVector, summaries, maxResults)

	logger.InfoContext(ctx, "retrieval completed",
		"scope_chunks", len(scope),
		"evidence", len(results),
	)
	return retrieval.NewEvidenceList(results), nil
}

func (e *ragEngine) generate(ctx context.Context, question string, evidence *retrieval.EvidenceList, strictRetry bool, onDelta func(chunk string) error) (string, error) {
	system, user := buildPrompt(question, evidence, strictRetry)
	messages := []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	params := llm.ChatParams{Temperature: 0.2, MaxTokens: 1500}

	if onDelta == nil {
		return e.deps.Generator.ChatWithMessages(ctx, messages, params)
	}

	var draft strings.Builder
	err := e.deps.Generator.StreamChatWithMessages(ctx, messages, params, func(chunk string) error {
		draft.WriteString(chunk)
		return onDelta(chunk)
	})
	if err != nil {
		return "", err
	}
	return draft.String(), nil
}

// loadHistory fetches recent turns for the rewriter; failure just means no
// rewriting context.
func (e *ragEngine) loadHistory(ctx context.Context, sessionID string) []storage.Message {
	if sessionID == "" {
		return nil
	}
	history, err := e.deps.Messages.ListRecent(ctx, sessionID, maxRewriteTurns)
	if err != nil {
		logger := contextutil.LoggerFromContext(ctx)
		logger.WarnContext(ctx, "failed to load session history", "error", err)
		return nil
	}
	return history
}

// persist stores the user turn, the assistant turn, and its citations.
// Persistence failures are logged, not surfaced; the answer is already
// computed and valid.
func (e *ragEngine) persist(ctx context.Context, sessionID, question, answer string, citations []citation.Citation) string {
	if sessionID == "" {
		return ""
	}
	logger := contextutil.LoggerFromContext(ctx)

	now := time.Now().UTC()
	userMsg := storage.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      "user",
		Content:   question,
		CreatedAt: now,
	}
	if err := e.deps.Messages.Insert(ctx, &userMsg); err != nil {
		logger.WarnContext(ctx, "failed to persist user message", "error", err)
		return ""
	}

	assistantMsg := storage.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      "assistant",
		Content:   answer,
		CreatedAt: now,
	}
	if err := e.deps.Messages.Insert(ctx, &assistantMsg); err != nil {
		logger.WarnContext(ctx, "failed to persist assistant message", "error", err)
		return ""
	}

	if len(citations) > 0 {
		stored := make([]storage.Citation, len(citations))
		for i, c := range citations {
			stored[i] = storage.Citation{
				ID:            uuid.NewString(),
				MessageID:     assistantMsg.ID,
				SourceIndex:   c.SourceIndex,
				DocumentID:    c.DocumentID,
				DocumentTitle: c.DocumentTitle,
				Pages:         c.Pages,
				Excerpt:       c.Excerpt,
				ChunkIDs:      c.ChunkIDs,
				Confidence:    c.Confidence,
			}
		}
		if err := e.deps.Messages.InsertCitations(ctx, stored); err != nil {
			logger.WarnContext(ctx, "failed to persist citations", "error", err)
		}
	}

	return assistantMsg.ID
}

func filterDocuments(documents []storage.Document, ids []string) []storage.Document {
	if len(ids) == 0 {
		return documents
	}
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	filtered := documents[:0]
	for _, doc := range documents {
		if wanted[doc.ID] {
			filtered = append(filtered, doc)
		}
	}
	return filtered
}

func references(citations []citation.Citation) []Reference {
	refs := make([]Reference, len(citations))
	for i, c := range citations {
		refs[i] = Reference{
			SourceIndex:   c.SourceIndex,
			DocumentID:    c.DocumentID,
			DocumentTitle: c.DocumentTitle,
			Pages:         c.Pages,
			Excerpt:       c.Excerpt,
			Confidence:    c.Confidence,
		}
	}
	return refs
}
