package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"bookchat-ai/internal/contextutil"
	"bookchat-ai/internal/rag"
)

// maxResultsCap bounds client-provided evidence sizes.
const maxResultsCap = 50

// AskHandler handles question answering requests.
type AskHandler struct {
	engine rag.Engine
}

// NewAskHandler creates a new AskHandler.
func NewAskHandler(engine rag.Engine) *AskHandler {
	return &AskHandler{engine: engine}
}

// AskRequest represents the HTTP request payload for questions.
// This mirrors rag.AskRequest but is defined here for HTTP layer separation.
//
// swagger:model AskRequest
type AskRequest struct {
	Question    string   `json:"question"`
	SessionID   string   `json:"session_id,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	MaxResults  int      `json:"max_results,omitempty"`
	Strictness  string   `json:"strictness,omitempty"`
}

// AskResponse represents the HTTP response payload for questions.
//
// swagger:model AskResponse
type AskResponse struct {
	// The answer text with validated bracketed citation markers
	Answer string `json:"answer"`

	// References backing the citation markers, ordered by source index
	References []ReferenceResponse `json:"references"`

	// RewrittenQuery is set when the retrieval query differed from the question
	RewrittenQuery string `json:"rewritten_query,omitempty"`

	// MessageID of the persisted assistant turn, when the session stores history
	MessageID string `json:"message_id,omitempty"`
}

// ReferenceResponse represents one cited source.
//
// swagger:model ReferenceResponse
type ReferenceResponse struct {
	SourceIndex   int     `json:"source_index"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	Pages         []int   `json:"pages,omitempty"`
	Excerpt       string  `json:"excerpt"`
	Confidence    float64 `json:"confidence"`
}

// ServeHTTP answers a question with validated citations.
//
// swagger:route POST /api/v1/ask askQuestion
//
// # Ask a question
//
// Retrieves supporting passages from the in-scope documents and generates an
// answer whose bracketed citation markers are validated against the retrieved
// evidence. Use the `stream=true` query parameter to receive the draft answer
// as server-sent events before the validated response.
//
// ---
// responses:
//
//	'200':
//	  description: Answer with validated references
//	  schema:
//	    "$ref": "#/definitions/AskResponse"
//	'400':
//	  description: Invalid request
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
//	'502':
//	  description: LLM or embedding service unavailable
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
//	'503':
//	  description: Storage unavailable
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
func (h *AskHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		logger.WarnContext(ctx, "empty question in request")
		writeError(w, http.StatusBadRequest, "Question is required")
		return
	}
	if req.MaxResults < 0 {
		req.MaxResults = 0
	}
	if req.MaxResults > maxResultsCap {
		req.MaxResults = maxResultsCap
	}
	switch req.Strictness {
	case "", "normal", "strict":
	default:
		writeError(w, http.StatusBadRequest, "Strictness must be \"normal\" or \"strict\"")
		return
	}

	ragReq := rag.AskRequest{
		Question:    req.Question,
		SessionID:   req.SessionID,
		DocumentIDs: req.DocumentIDs,
		MaxResults:  req.MaxResults,
		Strictness:  req.Strictness,
	}

	if isStream(r) {
		h.serveStream(w, r, ragReq)
		return
	}

	resp, err := h.engine.Ask(ctx, ragReq)
	if err != nil {
		status, message := engineError(err)
		logger.ErrorContext(ctx, "ask failed", "error", err, "status", status)
		writeError(w, status, message)
		return
	}

	writeJSON(w, http.StatusOK, toAskResponse(resp))
}

// serveStream delivers the draft answer as server-sent events. Each generated
// chunk arrives as a "delta" event; the validated response follows as a single
// "done" event. The draft may differ from the final answer when validation
// removes ungrounded content.
func (h *AskHandler) serveStream(w http.ResponseWriter, r *http.Request, req rag.AskRequest) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	resp, err := h.engine.AskStream(ctx, req, func(chunk string) error {
		payload, err := json.Marshal(map[string]string{"delta": chunk})
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("event: delta\ndata: " + string(payload) + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		logger.ErrorContext(ctx, "streaming ask failed", "error", err)
		payload, _ := json.Marshal(map[string]string{"error": "Failed to generate answer"})
		_, _ = w.Write([]byte("event: error\ndata: " + string(payload) + "\n\n"))
		flusher.Flush()
		return
	}

	payload, err := json.Marshal(toAskResponse(resp))
	if err != nil {
		logger.ErrorContext(ctx, "failed to encode streamed response", "error", err)
		return
	}
	_, _ = w.Write([]byte("event: done\ndata: " + string(payload) + "\n\n"))
	flusher.Flush()
}

func isStream(r *http.Request) bool {
	v := strings.ToLower(r.URL.Query().Get("stream"))
	return v == "true" || v == "1"
}

func toAskResponse(resp rag.AskResponse) AskResponse {
	references := make([]ReferenceResponse, len(resp.References))
	for i, ref := range resp.References {
		references[i] = ReferenceResponse{
			SourceIndex:   ref.SourceIndex,
			DocumentID:    ref.DocumentID,
			DocumentTitle: ref.DocumentTitle,
			Pages:         ref.Pages,
			Excerpt:       ref.Excerpt,
			Confidence:    ref.Confidence,
		}
	}
	return AskResponse{
		Answer:         resp.Answer,
		References:     references,
		RewrittenQuery: resp.RewrittenQuery,
		MessageID:      resp.MessageID,
	}
}
