package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"bookchat-ai/internal/contextutil"
	"bookchat-ai/internal/storage"
)

// SessionsHandler handles conversation sessions and their history.
type SessionsHandler struct {
	sessions storage.SessionStore
	messages storage.MessageStore
}

// NewSessionsHandler creates a new SessionsHandler.
func NewSessionsHandler(sessions storage.SessionStore, messages storage.MessageStore) *SessionsHandler {
	return &SessionsHandler{sessions: sessions, messages: messages}
}

// CreateSessionRequest represents the payload for creating a session.
//
// swagger:model CreateSessionRequest
type CreateSessionRequest struct {
	Title string `json:"title,omitempty"`
}

// SessionResponse represents a session.
//
// swagger:model SessionResponse
type SessionResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
}

// MessageResponse represents one stored conversation turn. Assistant turns
// carry the citations that were validated when the answer was produced.
//
// swagger:model MessageResponse
type MessageResponse struct {
	ID        string              `json:"id"`
	Role      string              `json:"role"`
	Content   string              `json:"content"`
	CreatedAt string              `json:"created_at"`
	Citations []ReferenceResponse `json:"citations,omitempty"`
}

// Create starts a new session.
//
// swagger:route POST /api/v1/sessions createSession
//
// # Create a session
//
// ---
// responses:
//
//	'201':
//	  description: Session created
//	  schema:
//	    "$ref": "#/definitions/SessionResponse"
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	var req CreateSessionRequest
	if r.Body != nil {
		// An empty body is fine; the title is optional.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New conversation"
	}

	session := storage.Session{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.sessions.Insert(ctx, &session); err != nil {
		logger.ErrorContext(ctx, "failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, SessionResponse{
		ID:        session.ID,
		Title:     session.Title,
		CreatedAt: session.CreatedAt.Format(time.RFC3339),
	})
}

// Messages returns a session's conversation history with citations.
//
// swagger:route GET /api/v1/sessions/{id}/messages sessionMessages
//
// # List session messages
//
// ---
// responses:
//
//	'200':
//	  description: Messages in chronological order
//	'404':
//	  description: Unknown session
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
func (h *SessionsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)
	id := chi.URLParam(r, "id")

	if _, err := h.sessions.GetByID(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		logger.ErrorContext(ctx, "failed to load session", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}

	messages, err := h.messages.ListBySession(ctx, id)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list messages", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list messages")
		return
	}

	out := make([]MessageResponse, len(messages))
	for i, msg := range messages {
		out[i] = MessageResponse{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt.UTC().Format(time.RFC3339),
		}
		if msg.Role != "assistant" {
			continue
		}
		citations, err := h.messages.ListCitations(ctx, msg.ID)
		if err != nil {
			logger.WarnContext(ctx, "failed to list citations", "message_id", msg.ID, "error", err)
			continue
		}
		for _, c := range citations {
			out[i].Citations = append(out[i].Citations, ReferenceResponse{
				SourceIndex:   c.SourceIndex,
				DocumentID:    c.DocumentID,
				DocumentTitle: c.DocumentTitle,
				Pages:         c.Pages,
				Excerpt:       c.Excerpt,
				Confidence:    c.Confidence,
			})
		}
	}

	writeJSON(w, http.StatusOK, out)
}
