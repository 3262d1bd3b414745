package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"bookchat-ai/internal/contextutil"
	"bookchat-ai/internal/ingest"
	"bookchat-ai/internal/rag"
	"bookchat-ai/internal/storage"
	"bookchat-ai/internal/vectorstore"
)

type stubEngine struct{}

func (stubEngine) Ask(context.Context, rag.AskRequest) (rag.AskResponse, error) {
	return rag.AskResponse{Answer: "ok", References: []rag.Reference{}}, nil
}

func (stubEngine) AskStream(_ context.Context, _ rag.AskRequest, _ func(string) error) (rag.AskResponse, error) {
	return rag.AskResponse{Answer: "ok", References: []rag.Reference{}}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0}
	}
	return vectors, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	vectorStore, err := vectorstore.NewChromemStore("")
	if err != nil {
		t.Fatalf("failed to create vector store: %v", err)
	}

	documents := storage.NewDocumentRepo(db)
	pipeline := ingest.NewPipeline(
		documents,
		storage.NewChunkRepo(db),
		storage.NewRouteRepo(db),
		stubEmbedder{},
		vectorStore,
		"chunks",
	)

	return NewRouter(&Deps{
		Engine:      stubEngine{},
		Pipeline:    pipeline,
		Documents:   documents,
		Sessions:    storage.NewSessionRepo(db),
		Messages:    storage.NewMessageRepo(db),
		DB:          db,
		VectorStore: vectorStore,
		Collection:  "chunks",
		VectorSize:  2,
	})
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"health", http.MethodGet, "/api/health", "", http.StatusOK},
		{"ask", http.MethodPost, "/api/v1/ask", `{"question":"q"}`, http.StatusOK},
		{"ask wrong method", http.MethodGet, "/api/v1/ask", "", http.StatusMethodNotAllowed},
		{"list documents", http.MethodGet, "/api/v1/documents", "", http.StatusOK},
		{"create session", http.MethodPost, "/api/v1/sessions", `{}`, http.StatusCreated},
		{"unknown route", http.MethodGet, "/api/v1/nope", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
				req.Header.Set("Content-Type", "application/json")
			} else {
				req = httptest.NewRequest(tt.method, tt.target, nil)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d, body %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/ask", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow-origin = %q", got)
	}
}

func TestMiddleware_LoggerInContext(t *testing.T) {
	var sawLogger bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// LoggerFromContext falls back to the process default; the middleware
		// must have stored a distinct request-scoped logger.
		sawLogger = contextutil.LoggerFromContext(r.Context()) != slog.Default()
		w.WriteHeader(http.StatusOK)
	})

	handler := LoggerMiddleware(inner)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if !sawLogger {
		t.Error("expected a logger in the request context")
	}
}
