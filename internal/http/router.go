package http

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bookchat-ai/internal/handlers"
	"bookchat-ai/internal/ingest"
	"bookchat-ai/internal/rag"
	"bookchat-ai/internal/storage"
	"bookchat-ai/internal/vectorstore"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	Engine      rag.Engine
	Pipeline    *ingest.Pipeline
	Documents   storage.DocumentStore
	Sessions    storage.SessionStore
	Messages    storage.MessageStore
	DB          *sql.DB
	VectorStore vectorstore.VectorStore
	Collection  string
	VectorSize  int
}

// NewRouter creates the HTTP router with all API routes.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)
	r.Use(CORS)

	askHandler := handlers.NewAskHandler(deps.Engine)
	documentsHandler := handlers.NewDocumentsHandler(deps.Pipeline, deps.Documents)
	sessionsHandler := handlers.NewSessionsHandler(deps.Sessions, deps.Messages)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.VectorStore, deps.Collection, deps.VectorSize)

	r.Route("/api", func(r chi.Router) {
		r.Method(http.MethodGet, "/health", healthHandler)

		r.Route("/v1", func(r chi.Router) {
			r.Method(http.MethodPost, "/ask", askHandler)

			r.Post("/documents", documentsHandler.Upload)
			r.Get("/documents", documentsHandler.List)
			r.Delete("/documents/{id}", documentsHandler.Delete)

			r.Post("/sessions", sessionsHandler.Create)
			r.Get("/sessions/{id}/messages", sessionsHandler.Messages)
		})
	})

	return r
}
