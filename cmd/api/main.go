package main

import (
	"context"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"path/filepath"

	"bookchat-ai/internal/citation"
	"bookchat-ai/internal/config"
	"bookchat-ai/internal/http"
	"bookchat-ai/internal/ingest"
	"bookchat-ai/internal/llm"
	"bookchat-ai/internal/rag"
	"bookchat-ai/internal/retrieval"
	"bookchat-ai/internal/storage"
	"bookchat-ai/internal/vectorstore"
)

//go:generate swagger generate spec -o swagger.json

// General API information
//
// This API answers questions against a private document corpus (PDF books
// and markdown files) and returns validated, numbered citations for every
// answer.
//
// swagger:meta
//
// ---
// swagger: '2.0'
// info:
//   title: BookChat AI API
//   description: |
//     Retrieval-augmented question answering over ingested documents with
//     validated citations. Upload PDFs or markdown, then ask questions; every
//     factual claim in an answer carries a bracketed reference that has been
//     checked against the retrieved source text.
//   version: 1.0.0
// schemes:
//   - http
//   - https
// consumes:
//   - application/json
// produces:
//   - application/json

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	documentRepo := storage.NewDocumentRepo(db)
	chunkRepo := storage.NewChunkRepo(db)
	sessionRepo := storage.NewSessionRepo(db)
	messageRepo := storage.NewMessageRepo(db)
	routeRepo := storage.NewRouteRepo(db)

	ctx := context.Background()

	// Qdrant when configured; otherwise the embedded chromem store persisted
	// next to the SQLite file.
	var vectorStore vectorstore.VectorStore
	if cfg.QdrantURL != "" {
		vectorStore, err = vectorstore.NewQdrantStore(cfg.QdrantURL)
		if err != nil {
			log.Fatalf("Failed to create Qdrant client: %v", err)
		}
		slog.Info("Using Qdrant vector store", "url", cfg.QdrantURL)
	} else {
		vectorStore, err = vectorstore.NewChromemStore(filepath.Join(filepath.Dir(cfg.DBPath), "vectors"))
		if err != nil {
			log.Fatalf("Failed to create embedded vector store: %v", err)
		}
		slog.Info("Using embedded chromem vector store")
	}

	if err := vectorStore.EnsureCollection(ctx, cfg.QdrantCollection, cfg.EmbeddingDimension); err != nil {
		log.Fatalf("Failed to ensure vector collection: %v", err)
	}
	slog.Info("Vector collection ready", "collection", cfg.QdrantCollection, "vector_size", cfg.EmbeddingDimension)

	embedder := llm.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.LLMAPIKey, cfg.EmbeddingModelName, cfg.EmbeddingDimension)
	llmClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModelName)

	pipeline := ingest.NewPipeline(
		documentRepo,
		chunkRepo,
		routeRepo,
		embedder,
		vectorStore,
		cfg.QdrantCollection,
	)

	engine := rag.NewEngine(rag.Deps{
		Embedder:   embedder,
		Generator:  llmClient,
		Chunks:     chunkRepo,
		Documents:  documentRepo,
		Messages:   messageRepo,
		Routes:     routeRepo,
		Retriever: retrieval.NewHybridRetriever(
			retrieval.DefaultHybridConfig(),
			vectorstore.NewCandidateSource(vectorStore, cfg.QdrantCollection),
		),
		Prefilter:  retrieval.NewRoutePrefilter(retrieval.DefaultRouteConfig()),
		Combiner:   retrieval.NewPageCombiner(),
		Expander:   retrieval.NewNeighborExpander(retrieval.DefaultNeighborConfig()),
		Validator:  citation.NewValidator(citation.DefaultConfig()),
		Rewriter:   rag.NewQueryRewriter(llmClient),
		MaxResults: cfg.MaxResults,
		Strictness: citation.Strictness(cfg.Strictness),
	})
	slog.Info("Engine initialized", "max_results", cfg.MaxResults, "strictness", cfg.Strictness)

	router := http.NewRouter(&http.Deps{
		Engine:      engine,
		Pipeline:    pipeline,
		Documents:   documentRepo,
		Sessions:    sessionRepo,
		Messages:    messageRepo,
		DB:          db,
		VectorStore: vectorStore,
		Collection:  cfg.QdrantCollection,
		VectorSize:  cfg.EmbeddingDimension,
	})

	addr := ":" + cfg.APIPort
	slog.Info("Starting API server", "addr", addr)
	slog.Debug("LLM configuration", "base_url", cfg.LLMBaseURL, "model", cfg.LLMModelName)
	if err := nethttp.ListenAndServe(addr, router); err != nil {
		log.Fatalf("API server failed to start: %v", err)
	}
}
