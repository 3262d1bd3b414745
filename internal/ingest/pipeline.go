package ingest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"bookchat-ai/internal/contextutil"
	"bookchat-ai/internal/storage"
	"bookchat-ai/internal/vectorstore"
)

// embedBatchSize bounds how many chunk texts go into one embeddings request.
const embedBatchSize = 64

// embedConcurrency bounds parallel embeddings requests.
const embedConcurrency = 4

// Embedder generates embeddings for chunk texts.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Pipeline ingests uploaded documents into SQLite, the vector store, and
// the route index.
type Pipeline struct {
	documents  storage.DocumentStore
	chunks     storage.ChunkStore
	routes     storage.RouteStore
	embedder   Embedder
	vectors    vectorstore.VectorStore
	collection string
	markdown   *MarkdownChunker
	tokens     *TokenCounter
}

// NewPipeline creates an ingest pipeline.
func NewPipeline(
	documents storage.DocumentStore,
	chunks storage.ChunkStore,
	routes storage.RouteStore,
	embedder Embedder,
	vectors vectorstore.VectorStore,
	collection string,
) *Pipeline {
	return &Pipeline{
		documents:  documents,
		chunks:     chunks,
		routes:     routes,
		embedder:   embedder,
		vectors:    vectors,
		collection: collection,
		markdown:   NewMarkdownChunker(),
		tokens:     NewTokenCounter(),
	}
}

// Ingest processes one document end to end: extract, chunk, embed, store,
// and build routing data. Re-ingesting identical content is a no-op keyed
// on the content hash.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if len(req.Data) == 0 {
		return nil, fmt.Errorf("empty document")
	}

	hash := fmt.Sprintf("%x", sha256.Sum256(req.Data))
	existing, err := p.documents.FindByHash(ctx, hash)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing document: %w", err)
	}
	if existing != nil {
		logger.InfoContext(ctx, "document already ingested", "document_id", existing.ID, "hash", hash)
		return &Result{
			DocumentID: existing.ID,
			Title:      existing.Title,
			PageCount:  existing.PageCount,
			Skipped:    true,
		}, nil
	}

	title, pageCount, chunks, err := p.extract(req)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document produced no chunks")
	}

	embeddings, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}

	doc := &storage.Document{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Title:     title,
		Filename:  req.Filename,
		PageCount: pageCount,
		Hash:      hash,
		Enabled:   true,
	}

	records := make([]storage.Chunk, len(chunks))
	points := make([]vectorstore.Point, len(chunks))
	for i, chunk := range chunks {
		id := uuid.NewString()
		records[i] = storage.Chunk{
			ID:         id,
			DocumentID: doc.ID,
			SessionID:  req.SessionID,
			ChunkIndex: chunk.Index,
			Page:       chunk.Page,
			Pages:      chunk.Pages,
			Content:    chunk.Text,
			TokenCount: p.tokens.Count(chunk.Text),
			Embedding:  embeddings[i],
		}
		points[i] = vectorstore.Point{
			ID:  id,
			Vec: embeddings[i],
			Meta: map[string]any{
				"session_id":  req.SessionID,
				"document_id": doc.ID,
				"chunk_index": chunk.Index,
				"page":        chunk.Page,
				"title":       title,
			},
		}
	}

	if err := p.documents.Insert(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	if err := p.chunks.InsertBatch(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to insert chunks: %w", err)
	}
	if err := p.vectors.Upsert(ctx, p.collection, points); err != nil {
		return nil, fmt.Errorf("failed to upsert vectors: %w", err)
	}

	// Routing data is advisory; a failure here only costs prefiltering.
	if index := BuildRouteIndex(doc.ID, records, pageCount); index != nil {
		if err := p.routes.Upsert(ctx, index); err != nil {
			logger.WarnContext(ctx, "failed to store route index", "document_id", doc.ID, "error", err)
		}
	}

	logger.InfoContext(ctx, "document ingested",
		"document_id", doc.ID,
		"title", title,
		"pages", pageCount,
		"chunks", len(records),
	)
	return &Result{
		DocumentID: doc.ID,
		Title:      title,
		PageCount:  pageCount,
		ChunkCount: len(records),
	}, nil
}

// Remove deletes a document and everything derived from it.
func (p *Pipeline) Remove(ctx context.Context, documentID string) error {
	chunks, err := p.chunks.ListScope(ctx, "", []string{documentID})
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}
	if len(chunks) > 0 {
		ids := make([]string, len(chunks))
		for i := range chunks {
			ids[i] = chunks[i].ID
		}
		if err := p.vectors.Delete(ctx, p.collection, ids); err != nil {
			logger := contextutil.LoggerFromContext(ctx)
			logger.WarnContext(ctx, "failed to delete vectors", "document_id", documentID, "error", err)
		}
	}
	if err := p.chunks.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := p.routes.DeleteByDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete route index: %w", err)
	}
	return nil
}

// extract picks the extractor by file extension.
func (p *Pipeline) extract(req Request) (title string, pageCount int, chunks []Chunk, err error) {
	switch strings.ToLower(filepath.Ext(req.Filename)) {
	case ".pdf":
		pages, err := ExtractPDF(req.Data)
		if err != nil {
			return "", 0, nil, fmt.Errorf("failed to extract pdf: %w", err)
		}
		title = req.Title
		if title == "" {
			title = titleFromFilename(req.Filename)
		}
		return title, len(pages), ChunkPages(pages), nil

	case ".md", ".markdown", ".txt":
		derived, chunks := p.markdown.Chunk(req.Data, req.Filename)
		title = req.Title
		if title == "" {
			title = derived
		}
		return title, 0, chunks, nil

	default:
		return "", 0, nil, fmt.Errorf("unsupported file type %q", filepath.Ext(req.Filename))
	}
}

// embedChunks embeds chunk texts in bounded parallel batches, preserving
// chunk order.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	embeddings := make([][]float32, len(chunks))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = chunks[i].Text
			}
			vectors, err := p.embedder.EmbedTexts(ctx, texts)
			if err != nil {
				return err
			}
			if len(vectors) != len(texts) {
				return fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors))
			}
			copy(embeddings[start:end], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}
