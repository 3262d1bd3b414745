package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bookchat-ai/internal/contextutil"
	"bookchat-ai/internal/ingest"
	"bookchat-ai/internal/storage"
)

// maxUploadBytes caps uploaded document size (64 MiB).
const maxUploadBytes = 64 << 20

// DocumentsHandler handles document upload, listing, and removal.
type DocumentsHandler struct {
	pipeline  *ingest.Pipeline
	documents storage.DocumentStore
}

// NewDocumentsHandler creates a new DocumentsHandler.
func NewDocumentsHandler(pipeline *ingest.Pipeline, documents storage.DocumentStore) *DocumentsHandler {
	return &DocumentsHandler{pipeline: pipeline, documents: documents}
}

// DocumentResponse represents one document in listings and upload results.
//
// swagger:model DocumentResponse
type DocumentResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Filename   string `json:"filename"`
	PageCount  int    `json:"page_count,omitempty"`
	ChunkCount int    `json:"chunk_count,omitempty"`
	Enabled    bool   `json:"enabled"`
	CreatedAt  string `json:"created_at,omitempty"`
	// Skipped is true when identical content was already ingested.
	Skipped bool `json:"skipped,omitempty"`
}

// Upload ingests a document from a multipart form.
//
// swagger:route POST /api/v1/documents uploadDocument
//
// # Upload a document
//
// Accepts a PDF or markdown file as the multipart field "file", with optional
// "title" and "session_id" fields. Re-uploading identical content is a no-op.
//
// ---
// responses:
//
//	'201':
//	  description: Document ingested
//	  schema:
//	    "$ref": "#/definitions/DocumentResponse"
//	'200':
//	  description: Identical content already ingested
//	  schema:
//	    "$ref": "#/definitions/DocumentResponse"
//	'400':
//	  description: Missing file or unsupported type
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
func (h *DocumentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		logger.WarnContext(ctx, "invalid multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "File is required")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		logger.ErrorContext(ctx, "failed to read upload", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	result, err := h.pipeline.Ingest(ctx, ingest.Request{
		SessionID: r.FormValue("session_id"),
		Filename:  header.Filename,
		Title:     strings.TrimSpace(r.FormValue("title")),
		Data:      data,
	})
	if err != nil {
		if strings.Contains(err.Error(), "unsupported file type") {
			writeError(w, http.StatusBadRequest, "Unsupported file type")
			return
		}
		logger.ErrorContext(ctx, "ingest failed", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to ingest document")
		return
	}

	status := http.StatusCreated
	if result.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, DocumentResponse{
		ID:         result.DocumentID,
		Title:      result.Title,
		Filename:   header.Filename,
		PageCount:  result.PageCount,
		ChunkCount: result.ChunkCount,
		Enabled:    true,
		Skipped:    result.Skipped,
	})
}

// List returns the documents visible to a session.
//
// swagger:route GET /api/v1/documents listDocuments
//
// # List documents
//
// Lists enabled documents visible to the session given by the `session_id`
// query parameter, including shared corpus documents.
//
// ---
// responses:
//
//	'200':
//	  description: Documents in scope
func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	documents, err := h.documents.ListBySession(ctx, r.URL.Query().Get("session_id"))
	if err != nil {
		logger.ErrorContext(ctx, "failed to list documents", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list documents")
		return
	}

	out := make([]DocumentResponse, len(documents))
	for i, doc := range documents {
		out[i] = DocumentResponse{
			ID:        doc.ID,
			Title:     doc.Title,
			Filename:  doc.Filename,
			PageCount: doc.PageCount,
			Enabled:   doc.Enabled,
			CreatedAt: doc.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Delete removes a document from retrieval scope and deletes its derived
// data (chunks, vectors, routing).
//
// swagger:route DELETE /api/v1/documents/{id} deleteDocument
//
// # Delete a document
//
// ---
// responses:
//
//	'204':
//	  description: Document removed
//	'404':
//	  description: Unknown document
//	  schema:
//	    "$ref": "#/definitions/ErrorResponse"
func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)
	id := chi.URLParam(r, "id")

	if _, err := h.documents.GetByID(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Document not found")
			return
		}
		logger.ErrorContext(ctx, "failed to load document", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load document")
		return
	}

	// Derived data goes first while the document row still anchors the scope.
	if err := h.pipeline.Remove(ctx, id); err != nil {
		logger.ErrorContext(ctx, "failed to remove document data", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to remove document")
		return
	}
	if err := h.documents.Delete(ctx, id); err != nil {
		logger.ErrorContext(ctx, "failed to delete document", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to remove document")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
